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

package orchestrator

import (
	"errors"
	"fmt"

	"github.com/carverauto/fleetprov/pkg/fleet"
	"github.com/carverauto/fleetprov/pkg/kv"
	"github.com/carverauto/fleetprov/pkg/lifecycle"
	"github.com/carverauto/fleetprov/pkg/logger"
	"github.com/carverauto/fleetprov/pkg/wifi"
)

// Restart modes.
const (
	RestartExec = "exec"
	RestartLoop = "loop"

	defaultListenAddr = "127.0.0.1:8765"
)

var errUnknownRestartMode = errors.New("unknown restart mode")

// CaptureConfig configures the control-channel bridge used while the
// device has no stored credentials.
type CaptureConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// Config is the device configuration file.
type Config struct {
	Logging      *logger.Config `json:"logging,omitempty"`
	Storage      kv.Config      `json:"storage"`
	WiFi         wifi.Config    `json:"wifi"`
	Registration fleet.Config   `json:"registration"`
	Capture      CaptureConfig  `json:"capture"`
	Restart      string         `json:"restart,omitempty"`
}

// Validate checks every section and fills in defaults.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if err := c.WiFi.Validate(); err != nil {
		return fmt.Errorf("wifi: %w", err)
	}

	if err := c.Registration.Validate(); err != nil {
		return fmt.Errorf("registration: %w", err)
	}

	if c.Capture.ListenAddr == "" {
		c.Capture.ListenAddr = defaultListenAddr
	}

	switch c.Restart {
	case "":
		c.Restart = RestartExec
	case RestartExec, RestartLoop:
	default:
		return fmt.Errorf("%w: %q", errUnknownRestartMode, c.Restart)
	}

	return nil
}

// NewRestarter returns the restarter selected by c.Restart.
func (c *Config) NewRestarter(log logger.Logger) lifecycle.Restarter {
	if c.Restart == RestartLoop {
		return lifecycle.NewLoopRestarter(log)
	}

	return lifecycle.NewExecRestarter(log)
}
