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
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fleetprov/pkg/logger"
)

func dialBridge(t *testing.T, b *Bridge, w AttributeWriter) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(b.Handler(w))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + bridgePath

	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.Cleanup(func() { _ = ws.Close() })

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	return ws
}

func TestBridgeForwardsWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := NewBridge(logger.NewTestLogger())
	committer := newFakeCommitter(false)
	svc := NewService(ctx, committer, bridge, logger.NewTestLogger())
	ws := dialBridge(t, bridge, svc)

	require.NoError(t, ws.WriteJSON(WriteFrame{
		ID:    1,
		UUID:  "c4b21f63-e59e-44af-a637-5c05f58ac6a4",
		Value: []byte("Home"),
	}))

	var status StatusFrame
	require.NoError(t, ws.ReadJSON(&status))
	assert.Equal(t, StatusFrame{Type: "status", ID: 1, Status: 0}, status)

	require.NoError(t, ws.WriteJSON(WriteFrame{
		ID:    2,
		UUID:  "c4b21f63-e59e-44af-a637-5c05f58ac6a4",
		Value: []byte(strings.Repeat("x", 40)),
	}))

	require.NoError(t, ws.ReadJSON(&status))
	assert.Equal(t, uint64(2), status.ID)
	assert.Equal(t, uint8(ATTInvalidAttributeLength), status.Status)
	assert.NotEmpty(t, status.Error)

	require.NoError(t, ws.WriteJSON(WriteFrame{ID: 3, UUID: "not-a-uuid", Value: []byte("x")}))
	require.NoError(t, ws.ReadJSON(&status))
	assert.Equal(t, uint8(ATTAttributeNotFound), status.Status)
}

func TestBridgeNotifiesIncomplete(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := NewBridge(logger.NewTestLogger())
	svc := NewService(ctx, newFakeCommitter(false), bridge, logger.NewTestLogger())
	ws := dialBridge(t, bridge, svc)

	require.NoError(t, ws.WriteJSON(WriteFrame{
		ID:    7,
		UUID:  "c4b21f63-e59e-44af-a637-5c05f58ac6a8",
		Value: []byte{1},
	}))

	var notify NotifyFrame
	require.NoError(t, ws.ReadJSON(&notify))
	assert.Equal(t, "notify", notify.Type)
	assert.Equal(t, "incomplete", notify.Event)
	assert.Equal(t, []string{"ssid", "device_identifier"}, notify.Missing)

	var status StatusFrame
	require.NoError(t, ws.ReadJSON(&status))
	assert.Equal(t, uint64(7), status.ID)
	assert.Equal(t, uint8(0), status.Status)
}
