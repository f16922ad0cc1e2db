/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package wifi

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/fleetprov/pkg/identity"
	"github.com/carverauto/fleetprov/pkg/kv"
	"github.com/carverauto/fleetprov/pkg/lifecycle"
	"github.com/carverauto/fleetprov/pkg/logger"
	"github.com/carverauto/fleetprov/pkg/models"
)

var errNoCarrier = errors.New("no carrier")

func testConfig(attempts int) *Config {
	cfg := &Config{
		Station:        StationSimulated,
		MaxAttempts:    attempts,
		RetryInterval:  models.Duration(time.Millisecond),
		AddressTimeout: models.Duration(100 * time.Millisecond),
		HandoffDelay:   models.Duration(time.Millisecond),
	}

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	return cfg
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, StationNMCLI, cfg.Station)
	assert.Equal(t, "wlan0", cfg.Interface)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, models.Duration(time.Second), cfg.HandoffDelay)

	require.ErrorIs(t, (&Config{Station: "wpa"}).Validate(), errUnknownStation)
	require.ErrorIs(t, (&Config{MaxAttempts: -1}).Validate(), errInvalidMaxAttempts)
}

func TestJoinRetriesThenSucceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	station := NewMockStation(ctrl)

	gomock.InOrder(
		station.EXPECT().Associate(gomock.Any(), "Home", "secret123").Return(errNoCarrier),
		station.EXPECT().Associate(gomock.Any(), "Home", "secret123").Return(nil),
		station.EXPECT().AcquireAddress(gomock.Any()).Return("10.0.0.7", nil),
	)

	v := NewValidator(station, nil, nil, testConfig(3), logger.NewTestLogger())

	addr, err := v.Join(context.Background(), "Home", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", addr)
}

func TestJoinIsBounded(t *testing.T) {
	ctrl := gomock.NewController(t)
	station := NewMockStation(ctrl)

	station.EXPECT().Associate(gomock.Any(), "Home", "wrong").Return(errNoCarrier).Times(3)

	v := NewValidator(station, nil, nil, testConfig(3), logger.NewTestLogger())

	_, err := v.Join(context.Background(), "Home", "wrong")
	require.ErrorIs(t, err, models.ErrNetwork)
	require.ErrorIs(t, err, errNoCarrier)
}

func TestJoinDisconnectsWithoutAddress(t *testing.T) {
	ctrl := gomock.NewController(t)
	station := NewMockStation(ctrl)

	gomock.InOrder(
		station.EXPECT().Associate(gomock.Any(), "Home", "").Return(nil),
		station.EXPECT().AcquireAddress(gomock.Any()).Return("", context.DeadlineExceeded),
		station.EXPECT().Disconnect(gomock.Any()).Return(nil),
	)

	v := NewValidator(station, nil, nil, testConfig(1), logger.NewTestLogger())

	assert.Equal(t, Failed, v.Validate(context.Background(), "Home", ""))
}

func newProvisionFixture(t *testing.T, station Station) (*Validator, *identity.Store, *lifecycle.LoopRestarter) {
	t.Helper()

	store := identity.New(kv.NewMemoryStore(), "storage", logger.NewTestLogger())
	restarter := lifecycle.NewLoopRestarter(logger.NewTestLogger())

	return NewValidator(station, store, restarter, testConfig(2), logger.NewTestLogger()), store, restarter
}

func captured(ssid, pwd, thing string) *models.CaptureRecord {
	return &models.CaptureRecord{
		SSID:      []byte(ssid),
		Password:  []byte(pwd),
		AccountID: []byte("acct-42"),
		DeviceID:  []byte(thing),
		Complete:  true,
	}
}

func TestProvisionPersistsOnConnect(t *testing.T) {
	ctx := context.Background()
	station := NewSimulatedStation(map[string]string{"Home": "secret123"})
	v, store, restarter := newProvisionFixture(t, station)

	v.Provision(ctx, captured("Home", "secret123", "thing-1"))

	reason, ok := restarter.Pending()
	require.True(t, ok)
	assert.Equal(t, ReasonProvisioned, reason)

	state, err := store.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateNetworkProvisioned, state)

	wifi, err := store.GetWiFi(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.WiFiCredentials{SSID: "Home", Password: "secret123"}, wifi)

	thing, err := store.GetThingName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "thing-1", thing)

	_, err = store.GetTLSMaterial(ctx, identity.ConnectionKeys)
	require.ErrorIs(t, err, identity.ErrAbsent)
}

func TestProvisionFailureDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	station := NewSimulatedStation(map[string]string{"Home": "secret123"})
	v, store, restarter := newProvisionFixture(t, station)

	v.Provision(ctx, captured("Home", "bad-password", "thing-1"))

	reason, ok := restarter.Pending()
	require.True(t, ok)
	assert.Equal(t, ReasonJoinFailed, reason)
	assert.Equal(t, 2, station.Attempts())

	state, err := store.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateAbsent, state)
}

type failingStore struct {
	erased bool
}

func (f *failingStore) SetProvisioningData(context.Context, identity.ProvisioningData) error {
	return fmt.Errorf("%w: disk full", models.ErrStorage)
}

func (f *failingStore) EraseWiFi(context.Context) error {
	f.erased = true

	return nil
}

func TestProvisionStorageFailureRollsBack(t *testing.T) {
	store := &failingStore{}
	restarter := lifecycle.NewLoopRestarter(logger.NewTestLogger())
	station := NewSimulatedStation(map[string]string{"Home": "secret123"})

	v := NewValidator(station, store, restarter, testConfig(1), logger.NewTestLogger())
	v.Provision(context.Background(), captured("Home", "secret123", "thing-1"))

	assert.True(t, store.erased)

	reason, ok := restarter.Pending()
	require.True(t, ok)
	assert.Equal(t, ReasonStorageFailed, reason)
}

func TestProvisionStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	station := NewSimulatedStation(nil)
	v, _, restarter := newProvisionFixture(t, station)

	v.Provision(ctx, captured("Home", "x", "thing-1"))

	_, ok := restarter.Pending()
	assert.False(t, ok)
	assert.Equal(t, 0, station.Attempts())
}

func TestSimulatedStationFailFirst(t *testing.T) {
	ctx := context.Background()
	station := NewSimulatedStation(map[string]string{"Home": ""})
	station.FailFirst(1)

	require.Error(t, station.Associate(ctx, "Home", ""))
	require.NoError(t, station.Associate(ctx, "Home", ""))

	addr, err := station.AcquireAddress(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, addr)

	require.NoError(t, station.Disconnect(ctx))

	_, err = station.AcquireAddress(ctx)
	require.ErrorIs(t, err, errNotAssociated)
}

func TestNMCLIStationAssociateArgs(t *testing.T) {
	var got []string

	s := NewNMCLIStation("wlan1")
	s.run = func(_ context.Context, args ...string) ([]byte, error) {
		got = args

		return nil, nil
	}

	require.NoError(t, s.Associate(context.Background(), "Home", "secret123"))
	assert.Equal(t, []string{"--wait", "30", "device", "wifi", "connect", "Home", "password", "secret123", "ifname", "wlan1"}, got)

	require.NoError(t, s.Associate(context.Background(), "Cafe", ""))
	assert.Equal(t, []string{"--wait", "30", "device", "wifi", "connect", "Cafe", "ifname", "wlan1"}, got)
}

func TestNMCLIStationAcquireAddress(t *testing.T) {
	calls := 0

	s := NewNMCLIStation("wlan0")
	s.interfaces = func(context.Context) (psnet.InterfaceStatList, error) {
		calls++

		addrs := psnet.InterfaceAddrList{{Addr: "fe80::1/64"}, {Addr: "169.254.3.4/16"}}
		if calls > 1 {
			addrs = append(addrs, psnet.InterfaceAddr{Addr: "192.168.1.20/24"})
		}

		return psnet.InterfaceStatList{
			{Name: "lo", Addrs: psnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}}},
			{Name: "wlan0", Addrs: addrs},
		}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr, err := s.AcquireAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20", addr)
	assert.Equal(t, 2, calls)
}

func TestNMCLIStationMissingInterface(t *testing.T) {
	s := NewNMCLIStation("wlan9")
	s.interfaces = func(context.Context) (psnet.InterfaceStatList, error) {
		return psnet.InterfaceStatList{{Name: "eth0"}}, nil
	}

	_, err := s.AcquireAddress(context.Background())
	require.ErrorIs(t, err, errInterfaceNotFound)
}
