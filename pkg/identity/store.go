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

// Package identity is the typed façade over the device key/value store that
// holds Wi-Fi credentials, the factory claim identity and the connection
// identity issued by fleet registration.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/carverauto/fleetprov/pkg/kv"
	"github.com/carverauto/fleetprov/pkg/logger"
	"github.com/carverauto/fleetprov/pkg/models"
)

var (
	// ErrAbsent is returned when a requested value has never been stored.
	// It is distinct from storage faults, which wrap models.ErrStorage.
	ErrAbsent = errors.New("identity value absent")
	// ErrThingNameRequired is returned when a connection identity would be
	// stored without a thing name.
	ErrThingNameRequired = errors.New("thing name must be stored before the connection identity")
	// ErrClaimExists is returned when a claim identity is already installed.
	ErrClaimExists = errors.New("claim identity already installed")

	errCorrupt = errors.New("stored value exceeds capacity")
)

// Store key names.
const (
	KeySSID           = "my_wifi_ssid"
	KeyPassword       = "my_wifi_pwd"
	KeyAccountID      = "aws_uuid"
	KeyThingName      = "aws_thing"
	KeyServerCert     = "server_cert"
	KeyClaimCert      = "client_cert"
	KeyClaimKey       = "client_key"
	KeyConnectionCert = "con_client_cert"
	KeyConnectionKey  = "con_client_key"
)

//nolint:gochecknoglobals // fixed key sets
var (
	// ClaimKeys is the factory identity used once to bootstrap registration.
	ClaimKeys = models.KeySet{Name: "claim", Server: KeyServerCert, Certificate: KeyClaimCert, PrivateKey: KeyClaimKey}
	// ConnectionKeys is the identity issued by registration.
	ConnectionKeys = models.KeySet{
		Name:        "connection",
		Server:      KeyServerCert,
		Certificate: KeyConnectionCert,
		PrivateKey:  KeyConnectionKey,
	}
)

// ProvisioningData is what a successful Wi-Fi validation persists.
type ProvisioningData struct {
	SSID      []byte
	Password  []byte
	AccountID []byte
	ThingName []byte
}

// Store reads and writes the durable identity. Every key is prefixed with
// the configured namespace.
type Store struct {
	kv        kv.KVStore
	namespace string
	logger    logger.Logger
}

func New(store kv.KVStore, namespace string, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Store{kv: store, namespace: namespace, logger: log}
}

func (s *Store) key(name string) string {
	if s.namespace == "" {
		return name
	}

	return s.namespace + "." + name
}

func (s *Store) get(ctx context.Context, name string, capacity int) ([]byte, error) {
	v, found, err := s.kv.Get(ctx, s.key(name))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", models.ErrStorage, name, err)
	}

	if !found {
		return nil, fmt.Errorf("%w: %s", ErrAbsent, name)
	}

	if len(v) > capacity {
		return nil, fmt.Errorf("%w: %s: %w (%d > %d)", models.ErrStorage, name, errCorrupt, len(v), capacity)
	}

	return v, nil
}

func (s *Store) has(ctx context.Context, name string) (bool, error) {
	_, found, err := s.kv.Get(ctx, s.key(name))
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %w", models.ErrStorage, name, err)
	}

	return found, nil
}

func (s *Store) putMany(ctx context.Context, entries []kv.KeyValueEntry) error {
	for i := range entries {
		entries[i].Key = s.key(entries[i].Key)
	}

	if err := s.kv.PutMany(ctx, entries); err != nil {
		return fmt.Errorf("%w: write: %w", models.ErrStorage, err)
	}

	return nil
}

func checkCapacity(name string, v []byte, capacity int) error {
	if len(v) > capacity {
		return fmt.Errorf("%w: %s is %d bytes, capacity %d", models.ErrValidation, name, len(v), capacity)
	}

	return nil
}

// GetWiFi returns the stored network credentials. An absent password is
// read as an open network.
func (s *Store) GetWiFi(ctx context.Context) (models.WiFiCredentials, error) {
	ssid, err := s.get(ctx, KeySSID, models.MaxSSIDLen)
	if err != nil {
		return models.WiFiCredentials{}, err
	}

	pwd, err := s.get(ctx, KeyPassword, models.MaxPasswordLen)
	if err != nil && !errors.Is(err, ErrAbsent) {
		return models.WiFiCredentials{}, err
	}

	return models.WiFiCredentials{SSID: string(ssid), Password: string(pwd)}, nil
}

// SetProvisioningData persists the captured credentials and identifiers in
// one batch. SSID and thing name are required.
func (s *Store) SetProvisioningData(ctx context.Context, data ProvisioningData) error {
	if len(data.SSID) == 0 || len(data.ThingName) == 0 {
		return fmt.Errorf("%w: ssid and thing name are required", models.ErrValidation)
	}

	for _, c := range []struct {
		name     string
		value    []byte
		capacity int
	}{
		{KeySSID, data.SSID, models.MaxSSIDLen},
		{KeyPassword, data.Password, models.MaxPasswordLen},
		{KeyAccountID, data.AccountID, models.MaxAccountIDLen},
		{KeyThingName, data.ThingName, models.MaxThingNameLen},
	} {
		if err := checkCapacity(c.name, c.value, c.capacity); err != nil {
			return err
		}
	}

	entries := []kv.KeyValueEntry{
		{Key: KeySSID, Value: data.SSID},
		{Key: KeyPassword, Value: data.Password},
		{Key: KeyThingName, Value: data.ThingName},
	}

	if len(data.AccountID) > 0 {
		entries = append(entries, kv.KeyValueEntry{Key: KeyAccountID, Value: data.AccountID})
	}

	if err := s.putMany(ctx, entries); err != nil {
		return err
	}

	s.logger.Info().
		Int("ssid_len", len(data.SSID)).
		Int("password_len", len(data.Password)).
		Int("account_id_len", len(data.AccountID)).
		Int("thing_name_len", len(data.ThingName)).
		Msg("Stored provisioning data")

	return nil
}

// GetTLSMaterial returns the trust anchor, certificate and key named by ks.
// ErrAbsent is returned if any of the three is missing.
func (s *Store) GetTLSMaterial(ctx context.Context, ks models.KeySet) (models.TLSMaterial, error) {
	server, err := s.get(ctx, ks.Server, models.MaxPEMLen)
	if err != nil {
		return models.TLSMaterial{}, err
	}

	cert, err := s.get(ctx, ks.Certificate, models.MaxPEMLen)
	if err != nil {
		return models.TLSMaterial{}, err
	}

	key, err := s.get(ctx, ks.PrivateKey, models.MaxPEMLen)
	if err != nil {
		return models.TLSMaterial{}, err
	}

	return models.TLSMaterial{ServerTrustAnchor: server, Certificate: cert, PrivateKey: key}, nil
}

// SetConnectionIdentity stores the certificate pair issued by registration.
// The shared trust anchor is left untouched.
func (s *Store) SetConnectionIdentity(ctx context.Context, certPEM, keyPEM []byte) error {
	if err := checkCapacity(KeyConnectionCert, certPEM, models.MaxPEMLen); err != nil {
		return err
	}

	if err := checkCapacity(KeyConnectionKey, keyPEM, models.MaxPEMLen); err != nil {
		return err
	}

	if len(certPEM) == 0 || len(keyPEM) == 0 {
		return fmt.Errorf("%w: empty connection identity", models.ErrValidation)
	}

	hasThing, err := s.has(ctx, KeyThingName)
	if err != nil {
		return err
	}

	if !hasThing {
		return ErrThingNameRequired
	}

	if err := s.putMany(ctx, []kv.KeyValueEntry{
		{Key: KeyConnectionCert, Value: certPEM},
		{Key: KeyConnectionKey, Value: keyPEM},
	}); err != nil {
		return err
	}

	s.logger.Info().Int("cert_len", len(certPEM)).Msg("Stored connection identity")

	return nil
}

// InstallClaimIdentity stores the factory claim identity and trust anchor.
// An existing claim identity is never overwritten.
func (s *Store) InstallClaimIdentity(ctx context.Context, m models.TLSMaterial) error {
	for _, c := range []struct {
		name  string
		value []byte
	}{
		{KeyServerCert, m.ServerTrustAnchor},
		{KeyClaimCert, m.Certificate},
		{KeyClaimKey, m.PrivateKey},
	} {
		if len(c.value) == 0 {
			return fmt.Errorf("%w: %s is empty", models.ErrValidation, c.name)
		}

		if err := checkCapacity(c.name, c.value, models.MaxPEMLen); err != nil {
			return err
		}
	}

	exists, err := s.has(ctx, KeyClaimCert)
	if err != nil {
		return err
	}

	if exists {
		return ErrClaimExists
	}

	return s.putMany(ctx, []kv.KeyValueEntry{
		{Key: KeyServerCert, Value: m.ServerTrustAnchor},
		{Key: KeyClaimCert, Value: m.Certificate},
		{Key: KeyClaimKey, Value: m.PrivateKey},
	})
}

// EraseWiFi removes the network credentials only.
func (s *Store) EraseWiFi(ctx context.Context) error {
	for _, name := range []string{KeySSID, KeyPassword} {
		if err := s.kv.Delete(ctx, s.key(name)); err != nil {
			return fmt.Errorf("%w: erase %s: %w", models.ErrStorage, name, err)
		}
	}

	s.logger.Info().Msg("Erased Wi-Fi credentials")

	return nil
}

func (s *Store) GetThingName(ctx context.Context) (string, error) {
	v, err := s.get(ctx, KeyThingName, models.MaxThingNameLen)
	if err != nil {
		return "", err
	}

	return string(v), nil
}

func (s *Store) GetAccountID(ctx context.Context) (string, error) {
	v, err := s.get(ctx, KeyAccountID, models.MaxAccountIDLen)
	if err != nil {
		return "", err
	}

	return string(v), nil
}

// State derives the provisioning ladder position from key presence.
func (s *Store) State(ctx context.Context) (models.ProvisioningState, error) {
	hasSSID, err := s.has(ctx, KeySSID)
	if err != nil {
		return models.StateAbsent, err
	}

	if !hasSSID {
		return models.StateAbsent, nil
	}

	for _, name := range []string{ConnectionKeys.Server, ConnectionKeys.Certificate, ConnectionKeys.PrivateKey} {
		ok, err := s.has(ctx, name)
		if err != nil {
			return models.StateAbsent, err
		}

		if !ok {
			return models.StateNetworkProvisioned, nil
		}
	}

	return models.StateFullyProvisioned, nil
}

// Status is a redacted summary of the stored identity.
type Status struct {
	State         models.ProvisioningState
	SSID          string
	ThingName     string
	AccountID     string
	HasClaim      bool
	HasConnection bool
}

// Describe reports what the store holds without exposing secrets.
func (s *Store) Describe(ctx context.Context) (Status, error) {
	var st Status

	state, err := s.State(ctx)
	if err != nil {
		return st, err
	}

	st.State = state
	st.HasConnection = state == models.StateFullyProvisioned

	if wifi, err := s.GetWiFi(ctx); err == nil {
		st.SSID = wifi.SSID
	} else if !errors.Is(err, ErrAbsent) {
		return st, err
	}

	if st.ThingName, err = s.GetThingName(ctx); err != nil && !errors.Is(err, ErrAbsent) {
		return st, err
	}

	if st.AccountID, err = s.GetAccountID(ctx); err != nil && !errors.Is(err, ErrAbsent) {
		return st, err
	}

	claim, err := s.GetTLSMaterial(ctx, ClaimKeys)
	switch {
	case err == nil:
		st.HasClaim = true

		claim.Wipe()
	case !errors.Is(err, ErrAbsent):
		return st, err
	}

	return st, nil
}
