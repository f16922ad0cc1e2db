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

// Package cli implements the fleetprov subcommands.
package cli

import (
	"flag"
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Dracula theme colors.
const (
	draculaForeground = "#F8F8F2"
	draculaCyan       = "#8BE9FD"
	draculaGreen      = "#50FA7B"
	draculaPurple     = "#BD93F9"
	draculaRed        = "#FF5555"
	draculaYellow     = "#F1FA8C"
	draculaComment    = "#6272A4"
)

const (
	defaultConfigPath = "/etc/fleetprov/device.json"

	subRun          = "run"
	subStatus       = "status"
	subInstallClaim = "install-claim"
	subResetWiFi    = "reset-wifi"
	subVersion      = "version"
)

func newLogStyles() logStyles {
	return logStyles{
		info: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaCyan)),
		success: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaGreen)),
		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaYellow)),
		error: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaRed)).
			Bold(true),
	}
}

func newStatusStyles() statusStyles {
	return statusStyles{
		title: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaPurple)).
			Bold(true),
		label: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaComment)).
			Width(statusLabelWidth),
		value: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaForeground)),
		ok: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaGreen)),
		missing: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaYellow)),
		box: lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(draculaCyan)),
	}
}

// SubcommandHandler defines the interface for parsing subcommand flags.
type SubcommandHandler interface {
	Parse(args []string, cfg *CmdConfig) error
}

func newFlagSet(name string, cfg *CmdConfig) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&cfg.ConfigPath, "config", defaultConfigPath, "path to the device config file")

	return fs
}

// RunHandler handles flags for the run subcommand.
type RunHandler struct{}

// Parse processes the command-line arguments for the run subcommand.
func (RunHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := newFlagSet(subRun, cfg)

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing run flags: %w", err)
	}

	return nil
}

// StatusHandler handles flags for the status subcommand.
type StatusHandler struct{}

// Parse processes the command-line arguments for the status subcommand.
func (StatusHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := newFlagSet(subStatus, cfg)

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing status flags: %w", err)
	}

	return nil
}

// InstallClaimHandler handles flags for the install-claim subcommand.
type InstallClaimHandler struct{}

// Parse processes the command-line arguments for the install-claim subcommand.
func (InstallClaimHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := newFlagSet(subInstallClaim, cfg)
	fs.StringVar(&cfg.ClaimCA, "ca", "", "PEM file with the fleet endpoint trust anchor")
	fs.StringVar(&cfg.ClaimCert, "cert", "", "PEM file with the claim certificate")
	fs.StringVar(&cfg.ClaimKey, "key", "", "PEM file with the claim private key")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing install-claim flags: %w", err)
	}

	if cfg.ClaimCA == "" || cfg.ClaimCert == "" || cfg.ClaimKey == "" {
		return errClaimFilesRequired
	}

	return nil
}

// ResetWiFiHandler handles flags for the reset-wifi subcommand.
type ResetWiFiHandler struct{}

// Parse processes the command-line arguments for the reset-wifi subcommand.
func (ResetWiFiHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := newFlagSet(subResetWiFi, cfg)
	fs.BoolVar(&cfg.Yes, "yes", false, "confirm the erase")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing reset-wifi flags: %w", err)
	}

	return nil
}

// ParseFlags parses args (without the program name). A leading flag
// selects the run subcommand.
func ParseFlags(args []string) (*CmdConfig, error) {
	cfg := &CmdConfig{SubCmd: subRun, ConfigPath: defaultConfigPath}

	if len(args) > 0 {
		switch args[0] {
		case "-h", "-help", "--help", "help":
			cfg.Help = true

			return cfg, nil
		case subVersion, "-version", "--version":
			cfg.SubCmd = subVersion

			return cfg, nil
		}

		if args[0] != "" && args[0][0] != '-' {
			cfg.SubCmd = args[0]
			args = args[1:]
		}
	}

	subcommands := map[string]SubcommandHandler{
		subRun:          RunHandler{},
		subStatus:       StatusHandler{},
		subInstallClaim: InstallClaimHandler{},
		subResetWiFi:    ResetWiFiHandler{},
	}

	handler, exists := subcommands[cfg.SubCmd]
	if !exists {
		return cfg, fmt.Errorf("%w: %q", errUnknownSubcommand, cfg.SubCmd)
	}

	if err := handler.Parse(args, cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
