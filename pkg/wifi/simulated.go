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
	"sync"
)

var (
	errNetworkNotFound = errors.New("network not found")
	errAuthFailed      = errors.New("authentication failed")
	errNotAssociated   = errors.New("not associated")
)

// SimulatedStation joins only the configured networks. It stands in for a
// radio on bench devices and in tests.
type SimulatedStation struct {
	mu         sync.Mutex
	networks   map[string]string
	associated string
	attempts   int
	failFirst  int
}

func NewSimulatedStation(networks map[string]string) *SimulatedStation {
	known := make(map[string]string, len(networks))
	for ssid, pwd := range networks {
		known[ssid] = pwd
	}

	return &SimulatedStation{networks: known}
}

// FailFirst makes the next n association attempts fail regardless of the
// credentials.
func (s *SimulatedStation) FailFirst(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failFirst = n
}

// Attempts reports how many associations were tried.
func (s *SimulatedStation) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.attempts
}

func (s *SimulatedStation) Associate(ctx context.Context, ssid, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++

	if s.failFirst > 0 {
		s.failFirst--

		return errNetworkNotFound
	}

	want, ok := s.networks[ssid]
	if !ok {
		return errNetworkNotFound
	}

	if want != password {
		return errAuthFailed
	}

	s.associated = ssid

	return nil
}

func (s *SimulatedStation) AcquireAddress(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.associated == "" {
		return "", errNotAssociated
	}

	return "192.0.2.10", nil
}

func (s *SimulatedStation) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.associated = ""

	return nil
}
