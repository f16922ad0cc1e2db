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

//go:generate mockgen -destination=mock_wifi.go -package=wifi github.com/carverauto/fleetprov/pkg/wifi Station

// Package wifi validates captured network credentials by joining the
// network, and persists them only when the join succeeds.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/fleetprov/pkg/models"
)

// Station is the device's Wi-Fi radio.
type Station interface {
	// Associate joins ssid. An empty password selects an open network.
	Associate(ctx context.Context, ssid, password string) error
	// AcquireAddress blocks until the interface has an IPv4 address.
	AcquireAddress(ctx context.Context) (string, error)
	// Disconnect leaves the current network.
	Disconnect(ctx context.Context) error
}

// Outcome is the result of one validation.
type Outcome int

const (
	Failed Outcome = iota
	Connected
)

func (o Outcome) String() string {
	if o == Connected {
		return "connected"
	}

	return "failed"
}

const (
	StationNMCLI     = "nmcli"
	StationSimulated = "simulated"

	defaultMaxAttempts    = 5
	defaultRetryInterval  = 2 * time.Second
	defaultAddressTimeout = 15 * time.Second
	defaultHandoffDelay   = time.Second
	defaultInterface      = "wlan0"
)

var (
	errUnknownStation     = errors.New("unknown wifi station")
	errInvalidMaxAttempts = errors.New("wifi.max_attempts must be positive")
)

// Config holds the validator and station settings.
type Config struct {
	Station        string            `json:"station"`
	Interface      string            `json:"interface,omitempty"`
	MaxAttempts    int               `json:"max_attempts"`
	RetryInterval  models.Duration   `json:"retry_interval"`
	AddressTimeout models.Duration   `json:"address_timeout"`
	HandoffDelay   models.Duration   `json:"handoff_delay"`
	KnownNetworks  map[string]string `json:"known_networks,omitempty"`
}

// Validate fills in defaults and checks the station kind.
func (c *Config) Validate() error {
	if c.Station == "" {
		c.Station = StationNMCLI
	}

	if c.Station != StationNMCLI && c.Station != StationSimulated {
		return fmt.Errorf("%w: %q", errUnknownStation, c.Station)
	}

	if c.Interface == "" {
		c.Interface = defaultInterface
	}

	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultMaxAttempts
	}

	if c.MaxAttempts < 0 {
		return errInvalidMaxAttempts
	}

	if c.RetryInterval == 0 {
		c.RetryInterval = models.Duration(defaultRetryInterval)
	}

	if c.AddressTimeout == 0 {
		c.AddressTimeout = models.Duration(defaultAddressTimeout)
	}

	if c.HandoffDelay == 0 {
		c.HandoffDelay = models.Duration(defaultHandoffDelay)
	}

	return nil
}

// NewStation builds the station named by cfg.Station.
func NewStation(cfg *Config) (Station, error) {
	switch cfg.Station {
	case StationSimulated:
		return NewSimulatedStation(cfg.KnownNetworks), nil
	case StationNMCLI, "":
		return NewNMCLIStation(cfg.Interface), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownStation, cfg.Station)
	}
}
