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

	"github.com/carverauto/fleetprov/pkg/models"
)

// Message is one delivery on a subscribed topic. Large responses may be
// split; Offset and Total locate Payload within the whole response.
type Message struct {
	Topic   string
	Payload []byte
	Offset  int
	Total   int
}

// Event is either a delivered message or an asynchronous transport error.
type Event struct {
	Message *Message
	Err     error
}

// ConnectOptions authenticate one connection to the fleet endpoint.
type ConnectOptions struct {
	Endpoint   string
	ClientID   string
	ServerName string
	TLS        *models.TLSMaterial
}

// Transport is the cloud messaging collaborator. Events are delivered in
// order on a single channel.
type Transport interface {
	Connect(ctx context.Context, opts ConnectOptions) error
	Subscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Events() <-chan Event
	Close() error
}
