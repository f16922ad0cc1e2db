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
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/fleetprov/pkg/logger"
	"github.com/carverauto/fleetprov/pkg/models"
	"github.com/carverauto/fleetprov/pkg/natsutil"
)

// Fragment headers carried by split responses.
const (
	HeaderFragmentOffset = "Fragment-Offset"
	HeaderFragmentTotal  = "Fragment-Total"

	eventBuffer   = 64
	inboxBuffer   = 256
	flushTimeout  = 5 * time.Second
	connectWindow = 10 * time.Second
)

var (
	errNotConnected     = errors.New("transport not connected")
	errAlreadyConnected = errors.New("transport already connected")
	errBadFragment      = errors.New("invalid fragment header")
	errDisconnected     = errors.New("connection lost")
)

// NATSTransport speaks the provisioning exchange over a NATS connection
// authenticated with mTLS. Reconnects are disabled: a lost connection ends
// the session.
type NATSTransport struct {
	logger logger.Logger

	mu     sync.Mutex
	nc     *nats.Conn
	inbox  chan *nats.Msg
	subs   []*nats.Subscription
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func NewNATSTransport(log logger.Logger) *NATSTransport {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &NATSTransport{
		logger: log,
		events: make(chan Event, eventBuffer),
		inbox:  make(chan *nats.Msg, inboxBuffer),
		done:   make(chan struct{}),
	}
}

func (t *NATSTransport) Connect(ctx context.Context, opts ConnectOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nc != nil {
		return errAlreadyConnected
	}

	var tlsConf *tls.Config

	if opts.TLS != nil {
		var err error

		tlsConf, err = natsutil.TLSConfigFromPEM(opts.TLS.ServerTrustAnchor, opts.TLS.Certificate, opts.TLS.PrivateKey, opts.ServerName)
		if err != nil {
			return fmt.Errorf("%w: %w", models.ErrTransport, err)
		}
	}

	timeout := connectWindow
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}

	nc, err := natsutil.Connect(opts.Endpoint, tlsConf, t.logger,
		nats.Name(opts.ClientID),
		nats.NoReconnect(),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = errDisconnected
			}

			t.emit(Event{Err: fmt.Errorf("%w: %w", models.ErrTransport, err)})
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			t.emit(Event{Err: fmt.Errorf("%w: %w", models.ErrTransport, err)})
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrTransport, err)
	}

	t.nc = nc

	go t.forward()

	t.logger.Info().Str("client_id", opts.ClientID).Str("url", nc.ConnectedUrl()).Msg("Fleet transport connected")

	return nil
}

// forward converts raw deliveries into events in arrival order.
func (t *NATSTransport) forward() {
	for {
		select {
		case <-t.done:
			return
		case msg := <-t.inbox:
			ev := Event{}

			m, err := toMessage(msg)
			if err != nil {
				ev.Err = fmt.Errorf("%w: %s: %w", models.ErrProtocol, msg.Subject, err)
			} else {
				ev.Message = m
			}

			t.emit(ev)
		}
	}
}

func toMessage(msg *nats.Msg) (*Message, error) {
	m := &Message{Topic: msg.Subject, Payload: msg.Data, Total: len(msg.Data)}

	if msg.Header == nil {
		return m, nil
	}

	if v := msg.Header.Get(HeaderFragmentOffset); v != "" {
		off, err := strconv.Atoi(v)
		if err != nil || off < 0 {
			return nil, fmt.Errorf("%w: offset %q", errBadFragment, v)
		}

		m.Offset = off
	}

	if v := msg.Header.Get(HeaderFragmentTotal); v != "" {
		total, err := strconv.Atoi(v)
		if err != nil || total < 0 {
			return nil, fmt.Errorf("%w: total %q", errBadFragment, v)
		}

		m.Total = total
	}

	return m, nil
}

func (t *NATSTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (t *NATSTransport) conn() (*nats.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nc == nil {
		return nil, fmt.Errorf("%w: %w", models.ErrTransport, errNotConnected)
	}

	return t.nc, nil
}

func (t *NATSTransport) Subscribe(_ context.Context, topic string) error {
	nc, err := t.conn()
	if err != nil {
		return err
	}

	sub, err := nc.ChanSubscribe(topic, t.inbox)
	if err != nil {
		return fmt.Errorf("%w: subscribe %s: %w", models.ErrTransport, topic, err)
	}

	if err := nc.FlushTimeout(flushTimeout); err != nil {
		return fmt.Errorf("%w: subscribe %s: %w", models.ErrTransport, topic, err)
	}

	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	t.logger.Debug().Str("topic", topic).Msg("Subscribed")

	return nil
}

func (t *NATSTransport) Publish(_ context.Context, topic string, payload []byte) error {
	nc, err := t.conn()
	if err != nil {
		return err
	}

	if err := nc.Publish(topic, payload); err != nil {
		return fmt.Errorf("%w: publish %s: %w", models.ErrTransport, topic, err)
	}

	if err := nc.FlushTimeout(flushTimeout); err != nil {
		return fmt.Errorf("%w: publish %s: %w", models.ErrTransport, topic, err)
	}

	t.logger.Debug().Str("topic", topic).Int("len", len(payload)).Msg("Published")

	return nil
}

func (t *NATSTransport) Events() <-chan Event {
	return t.events
}

func (t *NATSTransport) Close() error {
	t.once.Do(func() {
		close(t.done)

		t.mu.Lock()
		defer t.mu.Unlock()

		for _, sub := range t.subs {
			_ = sub.Unsubscribe()
		}

		if t.nc != nil {
			// handlers emit nothing once done is closed
			t.nc.Close()
		}
	})

	return nil
}

var _ Transport = (*NATSTransport)(nil)
