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

// Package fleet drives the three-call fleet registration exchange that
// trades the factory claim identity for a device's connection identity.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/fleetprov/pkg/identity"
	"github.com/carverauto/fleetprov/pkg/lifecycle"
	"github.com/carverauto/fleetprov/pkg/logger"
	"github.com/carverauto/fleetprov/pkg/models"
)

// State is the registration state machine position.
type State int

const (
	Bootstrapping State = iota
	KeysIssued
	Registered
	Failed
)

func (s State) String() string {
	switch s {
	case Bootstrapping:
		return "bootstrapping"
	case KeysIssued:
		return "keys-issued"
	case Registered:
		return "registered"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s == Registered || s == Failed
}

// ReasonRegistered is the restart reason after a successful registration.
const ReasonRegistered = "fleet-registered"

const (
	defaultTimeout       = 2 * time.Minute
	defaultRetryDelay    = 30 * time.Second
	defaultClaimClientID = "fleetprov-claim"
)

var (
	errEndpointRequired = errors.New("registration.endpoint is required")
	errTemplateRequired = errors.New("registration.template_name is required")
	errRejected         = errors.New("request rejected")
	errTimeout          = errors.New("registration timed out")
	errEventsClosed     = errors.New("transport event stream closed")
)

// Config configures the registration exchange.
type Config struct {
	Endpoint      string          `json:"endpoint"`
	ClaimClientID string          `json:"claim_client_id"`
	TemplateName  string          `json:"template_name"`
	ServerName    string          `json:"server_name,omitempty"`
	Timeout       models.Duration `json:"timeout"`
	RetryDelay    models.Duration `json:"retry_delay"`
	Topics        *Topics         `json:"topics,omitempty"`
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errEndpointRequired
	}

	if c.TemplateName == "" {
		return errTemplateRequired
	}

	if c.ClaimClientID == "" {
		c.ClaimClientID = defaultClaimClientID
	}

	if c.Timeout <= 0 {
		c.Timeout = models.Duration(defaultTimeout)
	}

	if c.RetryDelay <= 0 {
		c.RetryDelay = models.Duration(defaultRetryDelay)
	}

	if c.Topics == nil {
		t := DefaultTopics(c.TemplateName)
		c.Topics = &t
	}

	return nil
}

// IdentityStore is the part of the identity store the engine uses.
type IdentityStore interface {
	GetTLSMaterial(ctx context.Context, ks models.KeySet) (models.TLSMaterial, error)
	GetThingName(ctx context.Context) (string, error)
	SetConnectionIdentity(ctx context.Context, certPEM, keyPEM []byte) error
}

// Engine runs registration attempts. Each Run starts over from
// Bootstrapping; nothing is persisted until Registered.
type Engine struct {
	transport Transport
	store     IdentityStore
	restarter lifecycle.Restarter
	cfg       Config
	logger    logger.Logger
}

// NewEngine expects cfg to have been validated.
func NewEngine(transport Transport, store IdentityStore, restarter lifecycle.Restarter, cfg *Config, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Engine{
		transport: transport,
		store:     store,
		restarter: restarter,
		cfg:       *cfg,
		logger:    log,
	}
}

// attempt is one pass through the state machine.
type attempt struct {
	e      *Engine
	topics Topics
	sess   *session
	state  State
	err    error
	logger logger.Logger
}

// Run performs one registration attempt. It returns nil once the
// connection identity is stored and a restart has been requested, or the
// error that moved the attempt to Failed.
func (e *Engine) Run(ctx context.Context) error {
	a := &attempt{
		e:      e,
		topics: *e.cfg.Topics,
		sess:   newSession(),
		state:  Bootstrapping,
	}
	a.logger = logger.New(e.logger.With().Str("session_id", a.sess.id).Logger())

	defer a.sess.wipe()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.Timeout))
	defer cancel()

	if err := a.start(ctx); err != nil {
		return a.fail(err)
	}

	defer func() {
		if err := e.transport.Close(); err != nil {
			a.logger.Debug().Err(err).Msg("Transport close")
		}
	}()

	events := e.transport.Events()

	for !a.state.terminal() {
		select {
		case <-ctx.Done():
			a.fail(fmt.Errorf("%w: %w in state %s: %w", models.ErrTransport, errTimeout, a.state, ctx.Err()))
		case ev, ok := <-events:
			if !ok {
				a.fail(fmt.Errorf("%w: %w", models.ErrTransport, errEventsClosed))

				continue
			}

			a.handle(ctx, ev)
		}
	}

	if a.state == Registered {
		if err := e.restarter.Restart(ctx, ReasonRegistered); err != nil {
			a.logger.Error().Err(err).Msg("Restart after registration failed")

			return fmt.Errorf("restart after registration: %w", err)
		}

		return nil
	}

	return a.err
}

// start connects with the claim identity, subscribes to every response
// topic and publishes the issuance request.
func (a *attempt) start(ctx context.Context) error {
	claim, err := a.e.store.GetTLSMaterial(ctx, identity.ClaimKeys)
	if err != nil {
		return fmt.Errorf("load claim identity: %w", err)
	}
	defer claim.Wipe()

	a.logger.Info().
		Str("endpoint", a.e.cfg.Endpoint).
		Str("client_id", a.e.cfg.ClaimClientID).
		Msg("Starting fleet registration")

	if err := a.e.transport.Connect(ctx, ConnectOptions{
		Endpoint:   a.e.cfg.Endpoint,
		ClientID:   a.e.cfg.ClaimClientID,
		ServerName: a.e.cfg.ServerName,
		TLS:        &claim,
	}); err != nil {
		_ = a.e.transport.Close()

		return err
	}

	for _, topic := range a.topics.Responses() {
		if err := a.e.transport.Subscribe(ctx, topic); err != nil {
			_ = a.e.transport.Close()

			return err
		}
	}

	if err := a.e.transport.Publish(ctx, a.topics.CreateRequest, []byte("{}")); err != nil {
		_ = a.e.transport.Close()

		return err
	}

	return nil
}

func (a *attempt) fail(err error) error {
	if a.state.terminal() {
		return a.err
	}

	a.logger.Error().Err(err).Str("state", a.state.String()).Msg("Fleet registration failed")

	a.state = Failed
	a.err = err

	return err
}

// handle applies one event. Events after a terminal state are ignored.
func (a *attempt) handle(ctx context.Context, ev Event) {
	if a.state.terminal() {
		a.logger.Debug().Msg("Ignoring event after registration finished")

		return
	}

	if ev.Err != nil {
		a.fail(ev.Err)

		return
	}

	m := ev.Message
	if m == nil {
		return
	}

	switch {
	case m.Topic == a.topics.CreateAccepted && a.state == Bootstrapping:
		a.onIssued(ctx, m)
	case m.Topic == a.topics.CreateRejected && a.state == Bootstrapping:
		a.onRejected("issuance", m.Payload)
	case m.Topic == a.topics.RegisterAccepted && a.state == KeysIssued:
		a.onRegistered(ctx, m)
	case m.Topic == a.topics.RegisterRejected && a.state == KeysIssued:
		a.onRejected("registration", m.Payload)
	default:
		a.logger.Debug().Str("topic", m.Topic).Str("state", a.state.String()).Msg("Ignoring unexpected message")
	}
}

func (a *attempt) onIssued(ctx context.Context, m *Message) {
	body, complete, err := a.sess.issuance.add(m)
	if err != nil {
		a.fail(err)

		return
	}

	if !complete {
		a.logger.Debug().Int("offset", m.Offset).Int("total", m.Total).Msg("Issuance fragment buffered")

		return
	}

	if err := a.parseIssuance(body); err != nil {
		a.fail(err)

		return
	}

	thingName, err := a.e.store.GetThingName(ctx)
	if err != nil {
		a.fail(fmt.Errorf("load thing name: %w", err))

		return
	}

	req, err := encodeRegisterRequest(string(a.sess.ownershipToken), thingName)
	if err != nil {
		a.fail(fmt.Errorf("%w: encode register request: %w", models.ErrProtocol, err))

		return
	}

	a.state = KeysIssued

	a.logger.Info().
		Str("certificate_id", string(a.sess.certificateID)).
		Int("certificate_len", len(a.sess.certificatePEM)).
		Msg("Connection keys issued")

	if err := a.e.transport.Publish(ctx, a.topics.RegisterRequest, req); err != nil {
		a.fail(err)
	}
}

func (a *attempt) parseIssuance(body []byte) error {
	scan := fieldScanner{data: body}

	var err error

	if a.sess.certificateID, err = scan.boundedField(keyCertificateID, models.MaxCertificateIDLen); err != nil {
		return err
	}

	rawCert, err := scan.boundedField(keyCertificatePEM, models.MaxIssuanceResponse)
	if err != nil {
		return err
	}

	rawKey, err := scan.boundedField(keyPrivateKey, models.MaxIssuanceResponse)
	if err != nil {
		return err
	}

	if a.sess.ownershipToken, err = scan.boundedField(keyOwnershipToken, models.MaxOwnershipTokenLen); err != nil {
		return err
	}

	a.sess.certificatePEM = formatPEM(rawCert)
	a.sess.privateKey = formatPEM(rawKey)

	clear(rawCert)
	clear(rawKey)

	for name, v := range map[string][]byte{keyCertificatePEM: a.sess.certificatePEM, keyPrivateKey: a.sess.privateKey} {
		if len(v) > models.MaxPEMLen {
			return fmt.Errorf("%w: %w: %s is %d bytes", models.ErrProtocol, ErrMalformedValue, name, len(v))
		}
	}

	return nil
}

func (a *attempt) onRegistered(ctx context.Context, m *Message) {
	body, complete, err := a.sess.registration.add(m)
	if err != nil {
		a.fail(err)

		return
	}

	if !complete {
		return
	}

	if name, err := (fieldScanner{data: body}).field(keyThingName); err == nil {
		a.logger.Info().Str("thing_name", string(name)).Msg("Registration accepted")
	}

	if err := a.e.store.SetConnectionIdentity(ctx, a.sess.certificatePEM, a.sess.privateKey); err != nil {
		a.fail(fmt.Errorf("store connection identity: %w", err))

		return
	}

	a.state = Registered

	a.logger.Info().Str("certificate_id", string(a.sess.certificateID)).Msg("Connection identity stored")
}

func (a *attempt) onRejected(stage string, payload []byte) {
	r := decodeRejection(payload)

	a.logger.Warn().
		Str("stage", stage).
		Int("status_code", r.StatusCode).
		Str("error_code", r.ErrorCode).
		Str("error_message", r.ErrorMessage).
		Msg("Fleet request rejected")

	a.fail(fmt.Errorf("%w: %s %w: %d %s", models.ErrProtocol, stage, errRejected, r.StatusCode, r.ErrorCode))
}
