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

package fleet

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/carverauto/fleetprov/pkg/models"
)

var (
	errResponseTooLarge = errors.New("response exceeds buffer capacity")
	errFragmentRange    = errors.New("fragment outside declared response")
	errTotalMismatch    = errors.New("fragment total changed mid-response")
)

// assembler rebuilds one response from offset-addressed fragments.
type assembler struct {
	capacity int
	buf      []byte
	filled   []bool
	received int
	total    int
}

// add places m into the buffer and returns the whole response once every
// byte of the declared total has been written. Redelivered bytes are not
// counted twice.
func (a *assembler) add(m *Message) ([]byte, bool, error) {
	if a.buf == nil {
		if m.Total <= 0 || m.Total > a.capacity {
			return nil, false, fmt.Errorf("%w: %w (%d bytes)", models.ErrProtocol, errResponseTooLarge, m.Total)
		}

		a.total = m.Total
		a.buf = make([]byte, m.Total)
		a.filled = make([]bool, m.Total)
	}

	if m.Total != a.total {
		return nil, false, fmt.Errorf("%w: %w (%d != %d)", models.ErrProtocol, errTotalMismatch, m.Total, a.total)
	}

	if m.Offset < 0 || m.Offset+len(m.Payload) > a.total {
		return nil, false, fmt.Errorf("%w: %w (offset %d, len %d, total %d)",
			models.ErrProtocol, errFragmentRange, m.Offset, len(m.Payload), a.total)
	}

	copy(a.buf[m.Offset:], m.Payload)

	for i := m.Offset; i < m.Offset+len(m.Payload); i++ {
		if !a.filled[i] {
			a.filled[i] = true
			a.received++
		}
	}

	if a.received < a.total {
		return nil, false, nil
	}

	return a.buf, true, nil
}

func (a *assembler) reset() {
	clear(a.buf)
	*a = assembler{capacity: a.capacity}
}

// session is the in-memory state of one registration attempt. It is
// never persisted.
type session struct {
	id           string
	issuance     assembler
	registration assembler

	certificateID  []byte
	certificatePEM []byte
	privateKey     []byte
	ownershipToken []byte
}

func newSession() *session {
	return &session{
		id:           uuid.NewString(),
		issuance:     assembler{capacity: models.MaxIssuanceResponse},
		registration: assembler{capacity: models.MaxIssuanceResponse},
	}
}

// wipe zeroes the secrets held by the session.
func (s *session) wipe() {
	s.issuance.reset()
	s.registration.reset()

	for _, b := range [][]byte{s.certificateID, s.certificatePEM, s.privateKey, s.ownershipToken} {
		clear(b)
	}
}
