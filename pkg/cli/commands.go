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

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"

	"github.com/carverauto/fleetprov/pkg/config"
	"github.com/carverauto/fleetprov/pkg/fleet"
	"github.com/carverauto/fleetprov/pkg/identity"
	"github.com/carverauto/fleetprov/pkg/kv"
	"github.com/carverauto/fleetprov/pkg/lifecycle"
	"github.com/carverauto/fleetprov/pkg/logger"
	"github.com/carverauto/fleetprov/pkg/models"
	"github.com/carverauto/fleetprov/pkg/orchestrator"
	"github.com/carverauto/fleetprov/pkg/version"
)

const statusLabelWidth = 14

// Run executes the parsed subcommand.
func Run(ctx context.Context, cfg *CmdConfig, out io.Writer) error {
	if cfg.Help {
		PrintHelp(out)

		return nil
	}

	switch cfg.SubCmd {
	case subRun:
		return RunProvisioner(ctx, cfg)
	case subStatus:
		return RunStatus(ctx, cfg, out)
	case subInstallClaim:
		return RunInstallClaim(ctx, cfg, out)
	case subResetWiFi:
		return RunResetWiFi(ctx, cfg, out)
	case subVersion:
		_, err := fmt.Fprintln(out, version.String())

		return err
	default:
		return fmt.Errorf("%w: %q", errUnknownSubcommand, cfg.SubCmd)
	}
}

func loadDeviceConfig(ctx context.Context, loader *config.Config, path string) (*orchestrator.Config, error) {
	var cfg orchestrator.Config

	if err := loader.LoadAndValidate(ctx, path, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", errConfigLoadFailed, err)
	}

	if cfg.Logging == nil {
		cfg.Logging = logger.DefaultConfig()
	}

	return &cfg, nil
}

// overlayDeviceConfig applies the config stored in the opened device store.
// The storage section stays as loaded since the store is already open.
func overlayDeviceConfig(ctx context.Context, loader *config.Config, store kv.KVStore, path string, cfg *orchestrator.Config) error {
	loader.SetKVStore(store)

	storage := cfg.Storage

	// Topics derived from the loaded template follow an overlaid template.
	if t := cfg.Registration.Topics; t != nil && *t == fleet.DefaultTopics(cfg.Registration.TemplateName) {
		cfg.Registration.Topics = nil
	}

	if err := loader.OverlayFromKV(ctx, path, cfg); err != nil {
		return fmt.Errorf("%w: %w", errConfigLoadFailed, err)
	}

	cfg.Storage = storage

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", errConfigLoadFailed, err)
	}

	if cfg.Logging == nil {
		cfg.Logging = logger.DefaultConfig()
	}

	return nil
}

// device bundles what every subcommand opens.
type device struct {
	cfg    *orchestrator.Config
	kv     kv.KVStore
	store  *identity.Store
	logger logger.Logger
}

func openDevice(ctx context.Context, path, component string) (*device, error) {
	loader := config.NewConfig(nil)

	cfg, err := loadDeviceConfig(ctx, loader, path)
	if err != nil {
		return nil, err
	}

	log, err := lifecycle.CreateComponentLogger(ctx, component, cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, err := kv.New(ctx, &cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s store: %w", models.ErrStorage, cfg.Storage.Backend, err)
	}

	if err := overlayDeviceConfig(ctx, loader, store, path, cfg); err != nil {
		_ = store.Close()

		return nil, err
	}

	return &device{
		cfg:    cfg,
		kv:     store,
		store:  identity.New(store, cfg.Storage.Namespace, log),
		logger: log,
	}, nil
}

func (d *device) close() {
	if err := d.kv.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to close store")
	}
}

// RunProvisioner runs the orchestrator until it halts or a signal arrives.
func RunProvisioner(ctx context.Context, cfg *CmdConfig) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := openDevice(ctx, cfg.ConfigPath, "provisioner")
	if err != nil {
		return err
	}
	defer d.close()

	if err := lifecycle.InitializeLogger(ctx, d.cfg.Logging); err != nil {
		return err
	}

	defer func() {
		_ = lifecycle.ShutdownLogger()
	}()

	d.logger.Info().
		Str("version", version.GetVersion()).
		Str("build", version.GetBuildID()).
		Str("restart", d.cfg.Restart).
		Msg("Starting provisioner")

	o, err := orchestrator.New(d.cfg, d.store, d.cfg.NewRestarter(d.logger), d.logger)
	if err != nil {
		return err
	}

	return o.Run(ctx)
}

// RunStatus prints a redacted summary of the identity store.
func RunStatus(ctx context.Context, cfg *CmdConfig, out io.Writer) error {
	d, err := openDevice(ctx, cfg.ConfigPath, "status")
	if err != nil {
		return err
	}
	defer d.close()

	st, err := d.store.Describe(ctx)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, renderStatus(st, newStatusStyles()))

	return err
}

func renderStatus(st identity.Status, styles statusStyles) string {
	row := func(label string, value lipgloss.Style, text string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, styles.label.Render(label), value.Render(text))
	}

	presence := func(ok bool) (lipgloss.Style, string) {
		if ok {
			return styles.ok, "present"
		}

		return styles.missing, "absent"
	}

	orNone := func(s string) (lipgloss.Style, string) {
		if s == "" {
			return styles.missing, "-"
		}

		return styles.value, s
	}

	stateStyle := styles.missing
	if st.State == models.StateFullyProvisioned {
		stateStyle = styles.ok
	}

	rows := []string{
		styles.title.Render("fleetprov identity"),
		row("state", stateStyle, st.State.String()),
	}

	for _, r := range []struct {
		label string
		value string
	}{
		{"ssid", st.SSID},
		{"thing name", st.ThingName},
		{"account", st.AccountID},
	} {
		style, text := orNone(r.value)
		rows = append(rows, row(r.label, style, text))
	}

	claimStyle, claimText := presence(st.HasClaim)
	connStyle, connText := presence(st.HasConnection)

	rows = append(rows,
		row("claim cert", claimStyle, claimText),
		row("connection", connStyle, connText),
	)

	return styles.box.Render(strings.Join(rows, "\n"))
}

// RunInstallClaim stores the factory claim identity read from PEM files.
func RunInstallClaim(ctx context.Context, cfg *CmdConfig, out io.Writer) error {
	styles := newLogStyles()

	material, err := readClaimFiles(cfg)
	if err != nil {
		return err
	}
	defer material.Wipe()

	d, err := openDevice(ctx, cfg.ConfigPath, "install-claim")
	if err != nil {
		return err
	}
	defer d.close()

	if err := d.store.InstallClaimIdentity(ctx, material); err != nil {
		if errors.Is(err, identity.ErrClaimExists) {
			_, _ = fmt.Fprintln(out, styles.warning.Render("[WARN] A claim identity is already installed"))
		}

		return err
	}

	_, err = fmt.Fprintln(out, styles.success.Render("[OK] Claim identity installed"))

	return err
}

func readClaimFiles(cfg *CmdConfig) (models.TLSMaterial, error) {
	var m models.TLSMaterial

	for _, f := range []struct {
		path string
		dst  *[]byte
	}{
		{cfg.ClaimCA, &m.ServerTrustAnchor},
		{cfg.ClaimCert, &m.Certificate},
		{cfg.ClaimKey, &m.PrivateKey},
	} {
		if f.path == "" {
			return m, errClaimFilesRequired
		}

		data, err := os.ReadFile(f.path)
		if err != nil {
			return m, fmt.Errorf("read %s: %w", f.path, err)
		}

		*f.dst = data
	}

	return m, nil
}

// RunResetWiFi erases the stored network credentials so the next boot
// re-enters capture mode.
func RunResetWiFi(ctx context.Context, cfg *CmdConfig, out io.Writer) error {
	styles := newLogStyles()

	if !cfg.Yes {
		_, _ = fmt.Fprintln(out, styles.error.Render("[ERROR] "+errConfirmRequired.Error()))

		return errConfirmRequired
	}

	d, err := openDevice(ctx, cfg.ConfigPath, "reset-wifi")
	if err != nil {
		return err
	}
	defer d.close()

	if err := d.store.EraseWiFi(ctx); err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, styles.info.Render("[INFO] Wi-Fi credentials erased; the device re-enters capture mode on next boot"))

	return err
}
