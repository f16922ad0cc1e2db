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

// Package orchestrator decides at boot which provisioning phase to run
// from what the identity store already holds, and runs it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/carverauto/fleetprov/pkg/capture"
	"github.com/carverauto/fleetprov/pkg/fleet"
	"github.com/carverauto/fleetprov/pkg/identity"
	"github.com/carverauto/fleetprov/pkg/lifecycle"
	"github.com/carverauto/fleetprov/pkg/logger"
	"github.com/carverauto/fleetprov/pkg/models"
	"github.com/carverauto/fleetprov/pkg/wifi"
)

// ReasonRegistrationFailed is the restart reason after a failed
// registration attempt.
const ReasonRegistrationFailed = "fleet-registration-failed"

var (
	errUnknownState  = errors.New("unknown provisioning state")
	errRestartFailed = errors.New("restart failed")
)

// Operator runs the device's normal workload once it is fully provisioned.
type Operator interface {
	Operate(ctx context.Context, connection models.TLSMaterial) error
}

// OperatorFunc adapts a function to Operator.
type OperatorFunc func(ctx context.Context, connection models.TLSMaterial) error

func (f OperatorFunc) Operate(ctx context.Context, connection models.TLSMaterial) error {
	return f(ctx, connection)
}

// idleOperator waits for cancellation.
func idleOperator(ctx context.Context, _ models.TLSMaterial) error {
	<-ctx.Done()

	return nil
}

// Orchestrator is the control-flow root of the provisioner.
type Orchestrator struct {
	cfg          *Config
	store        *identity.Store
	restarter    lifecycle.Restarter
	station      wifi.Station
	newTransport func() fleet.Transport
	operator     Operator
	listen       func(network, addr string) (net.Listener, error)
	logger       logger.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithOperator sets the steady-state workload.
func WithOperator(op Operator) Option {
	return func(o *Orchestrator) { o.operator = op }
}

// WithStation overrides the station built from the wifi config.
func WithStation(s wifi.Station) Option {
	return func(o *Orchestrator) { o.station = s }
}

// WithTransportFactory overrides the NATS fleet transport. The factory is
// called once per registration attempt.
func WithTransportFactory(f func() fleet.Transport) Option {
	return func(o *Orchestrator) { o.newTransport = f }
}

// New expects cfg to have been validated.
func New(cfg *Config, store *identity.Store, restarter lifecycle.Restarter, log logger.Logger, opts ...Option) (*Orchestrator, error) {
	if log == nil {
		log = logger.NewTestLogger()
	}

	o := &Orchestrator{
		cfg:       cfg,
		store:     store,
		restarter: restarter,
		operator:  OperatorFunc(idleOperator),
		listen:    net.Listen,
		logger:    log,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.station == nil {
		station, err := wifi.NewStation(&cfg.WiFi)
		if err != nil {
			return nil, err
		}

		o.station = station
	}

	if o.newTransport == nil {
		transportLog := logger.New(log.WithComponent("fleet-transport"))

		o.newTransport = func() fleet.Transport {
			return fleet.NewNATSTransport(transportLog)
		}
	}

	return o, nil
}

// Run boots the device. With an in-process restarter it boots again after
// every restart request, recomputing the phase from the store; otherwise a
// restart replaces the process and Run boots once.
func (o *Orchestrator) Run(ctx context.Context) error {
	loop, ok := o.restarter.(*lifecycle.LoopRestarter)
	if !ok {
		return o.Boot(ctx)
	}

	for {
		if err := o.Boot(ctx); err != nil {
			return err
		}

		if ctx.Err() != nil {
			return nil
		}

		reason, pending := loop.Pending()
		if !pending {
			return nil
		}

		o.logger.Info().Str("reason", reason).Msg("Restarting provisioning")
	}
}

// Boot reads the provisioning state and runs the matching phase.
func (o *Orchestrator) Boot(ctx context.Context) error {
	state, err := o.store.State(ctx)
	if err != nil {
		return fmt.Errorf("read provisioning state: %w", err)
	}

	o.logger.Info().Str("state", state.String()).Msg("Booting")

	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	restarter := &phaseRestarter{next: o.restarter, cancel: cancel}

	err = o.runPhase(phaseCtx, state, restarter)

	// A failed restart outranks the phase result.
	if rerr := restarter.failure(); rerr != nil {
		o.logger.Error().Err(rerr).Msg("Restart failed")

		return fmt.Errorf("%w: %w", errRestartFailed, rerr)
	}

	return err
}

func (o *Orchestrator) runPhase(ctx context.Context, state models.ProvisioningState, restarter lifecycle.Restarter) error {
	switch state {
	case models.StateAbsent:
		return o.captureCredentials(ctx, restarter)
	case models.StateNetworkProvisioned:
		if err := o.join(ctx); err != nil {
			return err
		}

		return o.register(ctx, restarter)
	case models.StateFullyProvisioned:
		if err := o.join(ctx); err != nil {
			return err
		}

		return o.operate(ctx)
	default:
		return fmt.Errorf("%w: %d", errUnknownState, state)
	}
}

// captureCredentials serves the attribute service until a validation
// requests a restart.
func (o *Orchestrator) captureCredentials(ctx context.Context, restarter lifecycle.Restarter) error {
	log := logger.New(o.logger.WithComponent("capture"))

	validator := wifi.NewValidator(o.station, o.store, restarter, &o.cfg.WiFi, logger.New(o.logger.WithComponent("wifi")))
	bridge := capture.NewBridge(log)
	svc := capture.NewService(ctx, validator, bridge, log)

	lis, err := o.listen("tcp", o.cfg.Capture.ListenAddr)
	if err != nil {
		return fmt.Errorf("capture listen on %s: %w", o.cfg.Capture.ListenAddr, err)
	}

	err = bridge.ServeListener(ctx, lis, svc)

	svc.Wait()

	return err
}

// join connects with the stored credentials. A failure halts the boot.
func (o *Orchestrator) join(ctx context.Context) error {
	creds, err := o.store.GetWiFi(ctx)
	if err != nil {
		return fmt.Errorf("load wifi credentials: %w", err)
	}

	validator := wifi.NewValidator(o.station, o.store, o.restarter, &o.cfg.WiFi, logger.New(o.logger.WithComponent("wifi")))

	if _, err := validator.Join(ctx, creds.SSID, creds.Password); err != nil {
		return err
	}

	return nil
}

// register runs one registration attempt. A failed attempt is retried
// from scratch after the retry delay, through a restart.
func (o *Orchestrator) register(ctx context.Context, restarter lifecycle.Restarter) error {
	engine := fleet.NewEngine(o.newTransport(), o.store, restarter, &o.cfg.Registration,
		logger.New(o.logger.WithComponent("fleet")))

	err := engine.Run(ctx)
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return nil
	}

	if errors.Is(err, models.ErrStorage) {
		return err
	}

	delay := time.Duration(o.cfg.Registration.RetryDelay)

	o.logger.Warn().Err(err).Dur("retry_in", delay).Msg("Fleet registration failed")

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(delay):
	}

	return restarter.Restart(ctx, ReasonRegistrationFailed)
}

func (o *Orchestrator) operate(ctx context.Context) error {
	conn, err := o.store.GetTLSMaterial(ctx, identity.ConnectionKeys)
	if err != nil {
		return fmt.Errorf("load connection identity: %w", err)
	}

	o.logger.Info().Msg("Device fully provisioned")

	return o.operator.Operate(ctx, conn)
}

// phaseRestarter ends the running phase once a restart has been requested.
// With an exec restarter the process is replaced before that matters.
type phaseRestarter struct {
	next   lifecycle.Restarter
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func (r *phaseRestarter) Restart(ctx context.Context, reason string) error {
	defer r.cancel()

	err := r.next.Restart(ctx, reason)
	if err != nil {
		r.mu.Lock()
		if r.err == nil {
			r.err = err
		}
		r.mu.Unlock()
	}

	return err
}

// failure returns the first error a restart request reported.
func (r *phaseRestarter) failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}
