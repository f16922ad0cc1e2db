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
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/carverauto/fleetprov/pkg/identity"
	"github.com/carverauto/fleetprov/pkg/lifecycle"
	"github.com/carverauto/fleetprov/pkg/logger"
	"github.com/carverauto/fleetprov/pkg/models"
)

// CredentialStore is the part of the identity store the validator writes.
type CredentialStore interface {
	SetProvisioningData(ctx context.Context, data identity.ProvisioningData) error
	EraseWiFi(ctx context.Context) error
}

// Restart reasons.
const (
	ReasonProvisioned   = "wifi-provisioned"
	ReasonJoinFailed    = "wifi-join-failed"
	ReasonStorageFailed = "wifi-storage-failed"
)

// Validator joins networks with a bounded number of attempts.
type Validator struct {
	station   Station
	store     CredentialStore
	restarter lifecycle.Restarter
	cfg       Config
	logger    logger.Logger
}

// NewValidator expects cfg to have been validated.
func NewValidator(station Station, store CredentialStore, restarter lifecycle.Restarter, cfg *Config, log logger.Logger) *Validator {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Validator{
		station:   station,
		store:     store,
		restarter: restarter,
		cfg:       *cfg,
		logger:    log,
	}
}

// Join associates with ssid and waits for an address, retrying up to
// MaxAttempts times. The returned error wraps models.ErrNetwork.
func (v *Validator) Join(ctx context.Context, ssid, password string) (string, error) {
	attempt := 0

	op := func() (string, error) {
		attempt++

		if err := v.station.Associate(ctx, ssid, password); err != nil {
			v.logger.Warn().Err(err).Int("attempt", attempt).Msg("Wi-Fi association failed")

			return "", err
		}

		addrCtx, cancel := context.WithTimeout(ctx, time.Duration(v.cfg.AddressTimeout))
		defer cancel()

		addr, err := v.station.AcquireAddress(addrCtx)
		if err != nil {
			v.logger.Warn().Err(err).Int("attempt", attempt).Msg("No address acquired")

			if derr := v.station.Disconnect(ctx); derr != nil {
				v.logger.Debug().Err(derr).Msg("Disconnect after failed attempt")
			}

			return "", err
		}

		return addr, nil
	}

	addr, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(time.Duration(v.cfg.RetryInterval))),
		backoff.WithMaxTries(uint(v.cfg.MaxAttempts)),
	)
	if err != nil {
		return "", fmt.Errorf("%w: join %d attempts: %w", models.ErrNetwork, attempt, err)
	}

	v.logger.Info().Str("addr", addr).Int("attempts", attempt).Msg("Joined Wi-Fi network")

	return addr, nil
}

// Validate reports whether the credentials can join the network.
func (v *Validator) Validate(ctx context.Context, ssid, password string) Outcome {
	if _, err := v.Join(ctx, ssid, password); err != nil {
		v.logger.Error().Err(err).Int("ssid_len", len(ssid)).Msg("Wi-Fi validation failed")

		return Failed
	}

	return Connected
}

// Provision takes ownership of a committed capture record: it validates
// the credentials, persists them on success and restarts either way so the
// next boot derives its phase from the store.
func (v *Validator) Provision(ctx context.Context, record *models.CaptureRecord) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(v.cfg.HandoffDelay)):
	}

	outcome := v.Validate(ctx, string(record.SSID), string(record.Password))

	reason := ReasonJoinFailed

	if outcome == Connected {
		reason = v.persist(ctx, record)
	}

	if err := v.restarter.Restart(ctx, reason); err != nil {
		v.logger.Error().Err(err).Str("reason", reason).Msg("Restart failed")
	}
}

func (v *Validator) persist(ctx context.Context, record *models.CaptureRecord) string {
	err := v.store.SetProvisioningData(ctx, identity.ProvisioningData{
		SSID:      record.SSID,
		Password:  record.Password,
		AccountID: record.AccountID,
		ThingName: record.DeviceID,
	})
	if err == nil {
		return ReasonProvisioned
	}

	v.logger.Error().Err(err).Msg("Failed to persist provisioning data")

	if errors.Is(err, models.ErrStorage) {
		if rerr := v.store.EraseWiFi(ctx); rerr != nil {
			v.logger.Error().Err(rerr).Msg("Rollback of Wi-Fi credentials failed")
		}
	}

	return ReasonStorageFailed
}
