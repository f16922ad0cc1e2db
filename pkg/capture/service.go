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
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/carverauto/fleetprov/pkg/logger"
	"github.com/carverauto/fleetprov/pkg/models"
)

// Committer takes ownership of a completed record. Provision runs on its
// own goroutine and may block for the whole join attempt.
type Committer interface {
	Provision(ctx context.Context, record *models.CaptureRecord)
}

// Notifier delivers out-of-band conditions to the provisioning central.
type Notifier interface {
	NotifyIncomplete(ctx context.Context, missing []string)
}

// Service is the attribute write handler. Writes are serialized; a
// completed record is handed to the Committer at most once at a time.
type Service struct {
	ctx       context.Context
	committer Committer
	notifier  Notifier
	logger    logger.Logger

	mu       sync.Mutex
	record   *models.CaptureRecord
	inflight *semaphore.Weighted
	wg       sync.WaitGroup
}

// NewService returns a service with an empty record. Hand-offs run under
// ctx and stop being started once it is done.
func NewService(ctx context.Context, committer Committer, notifier Notifier, log logger.Logger) *Service {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Service{
		ctx:       ctx,
		committer: committer,
		notifier:  notifier,
		logger:    log,
		record:    &models.CaptureRecord{},
		inflight:  semaphore.NewWeighted(1),
	}
}

// WriteUUID dispatches a write addressed by characteristic identifier.
func (s *Service) WriteUUID(ctx context.Context, id uuid.UUID, payload []byte) error {
	c, ok := Lookup(id)
	if !ok {
		return &AttError{Code: ATTAttributeNotFound, Attr: id.String(), Err: errUnknownAttribute}
	}

	return s.write(ctx, c, payload)
}

// Write applies payload to attr. A nil return means the write is accepted.
func (s *Service) Write(ctx context.Context, attr Attribute, payload []byte) error {
	c, ok := characteristicFor(attr)
	if !ok {
		return &AttError{Code: ATTAttributeNotFound, Attr: attr.String(), Err: errUnknownAttribute}
	}

	return s.write(ctx, c, payload)
}

func (s *Service) write(ctx context.Context, c Characteristic, payload []byte) error {
	if s.ctx.Err() != nil {
		return &AttError{Code: ATTUnlikelyError, Attr: c.Attr.String(), Err: errServiceStopped}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Attr == AttrComplete {
		return s.complete(ctx, payload)
	}

	if s.record == nil {
		s.logger.Warn().Str("attr", c.Attr.String()).Msg("Write rejected while validation is in progress")

		return &AttError{Code: ATTWriteNotPermitted, Attr: c.Attr.String(), Err: errCaptureBusy}
	}

	value, err := models.BoundedCopy(payload, 1, c.Capacity)
	if err != nil {
		s.logger.Warn().
			Str("attr", c.Attr.String()).
			Int("len", len(payload)).
			Int("capacity", c.Capacity).
			Msg("Write rejected, invalid length")

		return &AttError{Code: ATTInvalidAttributeLength, Attr: c.Attr.String(), Err: err}
	}

	var field *[]byte

	switch c.Attr {
	case AttrSSID:
		field = &s.record.SSID
	case AttrPassword:
		field = &s.record.Password
	case AttrAccountID:
		field = &s.record.AccountID
	case AttrDeviceID:
		field = &s.record.DeviceID
	case AttrComplete:
		// handled above
	}

	clear(*field)
	*field = value

	s.logger.Debug().Str("attr", c.Attr.String()).Int("len", len(value)).Msg("Attribute written")

	return nil
}

// complete handles the commit trigger. The caller holds s.mu.
func (s *Service) complete(ctx context.Context, payload []byte) error {
	if len(payload) < 1 || len(payload) > maxTriggerLen {
		return &AttError{
			Code: ATTInvalidAttributeLength,
			Attr: AttrComplete.String(),
			Err:  fmt.Errorf("%w: trigger is %d bytes", models.ErrValidation, len(payload)),
		}
	}

	var v uint32
	for i, b := range payload {
		v |= uint32(b) << (8 * i)
	}

	if v == 0 {
		return nil
	}

	if s.record == nil {
		s.logger.Debug().Msg("Completion ignored, validation already in progress")

		return nil
	}

	if !s.record.Ready() {
		missing := s.record.Missing()

		s.logger.Warn().Strs("missing", missing).Msg("Completion with incomplete provisioning data")

		if s.notifier != nil {
			s.notifier.NotifyIncomplete(ctx, missing)
		}

		return nil
	}

	if !s.inflight.TryAcquire(1) {
		return nil
	}

	record := s.record
	record.Complete = true
	s.record = nil

	s.logger.Info().
		Int("ssid_len", len(record.SSID)).
		Int("password_len", len(record.Password)).
		Int("account_id_len", len(record.AccountID)).
		Int("device_id_len", len(record.DeviceID)).
		Msg("Provisioning data committed, handing off to Wi-Fi validation")

	s.wg.Add(1)

	go s.handOff(record)

	return nil
}

func (s *Service) handOff(record *models.CaptureRecord) {
	defer s.wg.Done()
	defer s.inflight.Release(1)

	s.committer.Provision(s.ctx, record)
	record.Wipe()

	s.mu.Lock()
	s.record = &models.CaptureRecord{}
	s.mu.Unlock()

	s.logger.Debug().Msg("Capture cycle restarted")
}

// Wait blocks until any in-flight hand-off has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}
