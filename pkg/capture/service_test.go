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

package capture

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fleetprov/pkg/logger"
	"github.com/carverauto/fleetprov/pkg/models"
)

type seenRecord struct {
	ssid, password, accountID, deviceID string
}

type fakeCommitter struct {
	mu      sync.Mutex
	calls   []seenRecord
	release chan struct{}
	started chan struct{}
}

func newFakeCommitter(block bool) *fakeCommitter {
	c := &fakeCommitter{started: make(chan struct{}, 8)}
	if block {
		c.release = make(chan struct{})
	}

	return c
}

func (c *fakeCommitter) Provision(_ context.Context, r *models.CaptureRecord) {
	c.mu.Lock()
	c.calls = append(c.calls, seenRecord{
		ssid:      string(r.SSID),
		password:  string(r.Password),
		accountID: string(r.AccountID),
		deviceID:  string(r.DeviceID),
	})
	c.mu.Unlock()

	c.started <- struct{}{}

	if c.release != nil {
		<-c.release
	}
}

func (c *fakeCommitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.calls)
}

type fakeNotifier struct {
	mu      sync.Mutex
	missing [][]string
}

func (n *fakeNotifier) NotifyIncomplete(_ context.Context, missing []string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.missing = append(n.missing, missing)
}

func newTestService(t *testing.T, c Committer, n Notifier) *Service {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return NewService(ctx, c, n, logger.NewTestLogger())
}

func snapshot(s *Service) models.CaptureRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.record == nil {
		return models.CaptureRecord{}
	}

	return models.CaptureRecord{
		SSID:      bytes.Clone(s.record.SSID),
		Password:  bytes.Clone(s.record.Password),
		AccountID: bytes.Clone(s.record.AccountID),
		DeviceID:  bytes.Clone(s.record.DeviceID),
		Complete:  s.record.Complete,
	}
}

func TestWriteStoresFields(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, newFakeCommitter(false), nil)

	require.NoError(t, s.Write(ctx, AttrSSID, []byte("Home")))
	require.NoError(t, s.Write(ctx, AttrPassword, []byte("secret123\x00")))
	require.NoError(t, s.Write(ctx, AttrAccountID, []byte("acct")))
	require.NoError(t, s.Write(ctx, AttrDeviceID, []byte("thing-1")))

	rec := snapshot(s)
	assert.Equal(t, []byte("Home"), rec.SSID)
	assert.Equal(t, []byte("secret123"), rec.Password)
	assert.Equal(t, []byte("acct"), rec.AccountID)
	assert.Equal(t, []byte("thing-1"), rec.DeviceID)
	assert.False(t, rec.Complete)
}

func TestOversizeWriteDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, newFakeCommitter(false), nil)

	require.NoError(t, s.Write(ctx, AttrSSID, []byte("Home")))

	for _, c := range Characteristics {
		if c.Attr == AttrComplete {
			continue
		}

		before := snapshot(s)

		err := s.Write(ctx, c.Attr, bytes.Repeat([]byte("x"), c.Capacity+1))
		require.ErrorIs(t, err, models.ErrValidation, c.Attr.String())
		assert.Equal(t, ATTInvalidAttributeLength, StatusCode(err))
		assert.Equal(t, before, snapshot(s), c.Attr.String())
	}

	require.NoError(t, s.Write(ctx, AttrSSID, bytes.Repeat([]byte("x"), models.MaxSSIDLen)))
}

func TestOversizeWriteWithNULRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, newFakeCommitter(false), nil)

	payload := append([]byte("Home\x00"), bytes.Repeat([]byte("x"), models.MaxSSIDLen)...)

	err := s.Write(ctx, AttrSSID, payload)
	require.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, ATTInvalidAttributeLength, StatusCode(err))
	assert.Empty(t, snapshot(s).SSID)
}

func TestEmptyWriteRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, newFakeCommitter(false), nil)

	err := s.Write(ctx, AttrSSID, nil)
	require.ErrorIs(t, err, models.ErrValidation)

	err = s.Write(ctx, AttrDeviceID, []byte{0, 'a'})
	require.ErrorIs(t, err, models.ErrValidation)

	err = s.Write(ctx, AttrComplete, []byte{1, 0, 0, 0, 0})
	assert.Equal(t, ATTInvalidAttributeLength, StatusCode(err))
}

func TestWriteUUID(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, newFakeCommitter(false), nil)

	require.NoError(t, s.WriteUUID(ctx, uuid.MustParse("c4b21f63-e59e-44af-a637-5c05f58ac6a4"), []byte("Home")))
	assert.Equal(t, []byte("Home"), snapshot(s).SSID)

	err := s.WriteUUID(ctx, ServiceUUID, []byte("x"))
	assert.Equal(t, ATTAttributeNotFound, StatusCode(err))
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestIncompleteCommitNeverHandsOff(t *testing.T) {
	ctx := context.Background()
	committer := newFakeCommitter(false)
	notifier := &fakeNotifier{}
	s := newTestService(t, committer, notifier)

	require.NoError(t, s.Write(ctx, AttrComplete, []byte{1}))

	require.NoError(t, s.Write(ctx, AttrSSID, []byte("Home")))
	require.NoError(t, s.Write(ctx, AttrComplete, []byte{1}))

	require.NoError(t, s.Write(ctx, AttrDeviceID, []byte("thing-1")))

	s.Wait()
	assert.Equal(t, 0, committer.count())

	notifier.mu.Lock()
	defer notifier.mu.Unlock()

	require.Len(t, notifier.missing, 2)
	assert.Equal(t, []string{"ssid", "device_identifier"}, notifier.missing[0])
	assert.Equal(t, []string{"device_identifier"}, notifier.missing[1])
}

func TestZeroTriggerIgnored(t *testing.T) {
	ctx := context.Background()
	committer := newFakeCommitter(false)
	s := newTestService(t, committer, nil)

	require.NoError(t, s.Write(ctx, AttrSSID, []byte("Home")))
	require.NoError(t, s.Write(ctx, AttrDeviceID, []byte("thing-1")))
	require.NoError(t, s.Write(ctx, AttrComplete, []byte{0, 0, 0, 0}))

	s.Wait()
	assert.Equal(t, 0, committer.count())
}

func TestCommitHandsOffOnceWhileInFlight(t *testing.T) {
	ctx := context.Background()
	committer := newFakeCommitter(true)
	s := newTestService(t, committer, nil)

	require.NoError(t, s.Write(ctx, AttrSSID, []byte("Home")))
	require.NoError(t, s.Write(ctx, AttrPassword, []byte("secret123")))
	require.NoError(t, s.Write(ctx, AttrDeviceID, []byte("thing-1")))
	require.NoError(t, s.Write(ctx, AttrComplete, []byte{1}))

	select {
	case <-committer.started:
	case <-time.After(5 * time.Second):
		t.Fatal("hand-off did not start")
	}

	require.NoError(t, s.Write(ctx, AttrComplete, []byte{1}))
	require.NoError(t, s.Write(ctx, AttrComplete, []byte{0x01, 0x00}))

	err := s.Write(ctx, AttrSSID, []byte("Other"))
	assert.Equal(t, ATTWriteNotPermitted, StatusCode(err))

	close(committer.release)
	s.Wait()

	require.Equal(t, 1, committer.count())
	assert.Equal(t, seenRecord{ssid: "Home", password: "secret123", deviceID: "thing-1"}, committer.calls[0])

	assert.Equal(t, models.CaptureRecord{}, snapshot(s))
	require.NoError(t, s.Write(ctx, AttrSSID, []byte("Next")))
}

func TestStoppedServiceRejectsWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewService(ctx, newFakeCommitter(false), nil, nil)

	cancel()

	err := s.Write(context.Background(), AttrSSID, []byte("Home"))
	assert.Equal(t, ATTUnlikelyError, StatusCode(err))
}
