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
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/carverauto/fleetprov/pkg/logger"
)

const (
	bridgePath        = "/gatt"
	bridgeReadTimeout = 90 * time.Second
	bridgeWriteWait   = 5 * time.Second
)

// AttributeWriter receives writes forwarded by the bridge.
type AttributeWriter interface {
	WriteUUID(ctx context.Context, id uuid.UUID, payload []byte) error
}

// WriteFrame is a GATT write forwarded by the radio stack. Value is base64
// in JSON.
type WriteFrame struct {
	ID    uint64 `json:"id"`
	UUID  string `json:"uuid"`
	Value []byte `json:"value"`
}

// StatusFrame answers one WriteFrame with its ATT status.
type StatusFrame struct {
	Type   string `json:"type"`
	ID     uint64 `json:"id"`
	Status uint8  `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NotifyFrame is pushed to every connected radio stack.
type NotifyFrame struct {
	Type    string   `json:"type"`
	Event   string   `json:"event"`
	Missing []string `json:"missing,omitempty"`
}

// Bridge exposes the attribute service to the out-of-process link layer
// over a local websocket. It is also the service's Notifier.
type Bridge struct {
	logger   logger.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*bridgeConn]struct{}
}

type bridgeConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *bridgeConn) send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(bridgeWriteWait)); err != nil {
		return err
	}

	return c.ws.WriteJSON(v)
}

func NewBridge(log logger.Logger) *Bridge {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Bridge{
		logger: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the radio stack is a local process without an Origin header
			CheckOrigin: func(r *http.Request) bool { return r.Header.Get("Origin") == "" },
		},
		conns: make(map[*bridgeConn]struct{}),
	}
}

// Handler serves the websocket endpoint for w.
func (b *Bridge) Handler(w AttributeWriter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(bridgePath, func(rw http.ResponseWriter, r *http.Request) {
		b.serveConn(rw, r, w)
	})

	return mux
}

// Serve listens on addr until ctx is done.
func (b *Bridge) Serve(ctx context.Context, addr string, w AttributeWriter) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("capture bridge listen on %s: %w", addr, err)
	}

	return b.ServeListener(ctx, lis, w)
}

// ServeListener serves on lis until ctx is done. lis is closed on return.
func (b *Bridge) ServeListener(ctx context.Context, lis net.Listener, w AttributeWriter) error {
	srv := &http.Server{
		Handler:           b.Handler(w),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(lis)
	}()

	b.logger.Info().Str("addr", lis.Addr().String()).Msg("Capture bridge listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		b.closeAll()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("capture bridge shutdown: %w", err)
		}

		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("capture bridge: %w", err)
	}
}

func (b *Bridge) serveConn(rw http.ResponseWriter, r *http.Request, w AttributeWriter) {
	ws, err := b.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		b.logger.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade to WebSocket")

		return
	}

	conn := &bridgeConn{ws: ws}

	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()

	b.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Radio stack connected")

	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()

		_ = ws.Close()

		b.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Radio stack disconnected")
	}()

	for {
		if err := ws.SetReadDeadline(time.Now().Add(bridgeReadTimeout)); err != nil {
			return
		}

		var frame WriteFrame
		if err := ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Warn().Err(err).Msg("Radio stack connection lost")
			}

			return
		}

		status := b.dispatch(r.Context(), w, frame)

		if err := conn.send(status); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to send write status")

			return
		}
	}
}

func (*Bridge) dispatch(ctx context.Context, w AttributeWriter, frame WriteFrame) StatusFrame {
	reply := StatusFrame{Type: "status", ID: frame.ID}

	id, err := uuid.Parse(frame.UUID)
	if err != nil {
		reply.Status = uint8(ATTAttributeNotFound)
		reply.Error = "invalid uuid"

		return reply
	}

	if err := w.WriteUUID(ctx, id, frame.Value); err != nil {
		reply.Status = uint8(StatusCode(err))
		reply.Error = err.Error()
	}

	return reply
}

// NotifyIncomplete broadcasts an incomplete-data notification.
func (b *Bridge) NotifyIncomplete(_ context.Context, missing []string) {
	frame := NotifyFrame{Type: "notify", Event: "incomplete", Missing: missing}

	b.mu.Lock()
	conns := make([]*bridgeConn, 0, len(b.conns))

	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		if err := c.send(frame); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to deliver notification")
		}
	}
}

func (b *Bridge) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for c := range b.conns {
		_ = c.ws.Close()
	}
}
