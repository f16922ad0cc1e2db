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

package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/fleetprov/pkg/logger"
	"github.com/carverauto/fleetprov/pkg/models"
	"github.com/carverauto/fleetprov/pkg/natsutil"
)

// NatsStore keeps entries in a JetStream key/value bucket, for devices that
// sit behind a gateway running a leaf NATS server.
type NatsStore struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	logger logger.Logger
}

// NewNatsStore connects to natsURL (with mTLS when security asks for it)
// and opens or creates bucket.
func NewNatsStore(ctx context.Context, natsURL, bucket string, security *models.SecurityConfig, log logger.Logger) (*NatsStore, error) {
	if natsURL == "" {
		return nil, errNatsURLRequired
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	var opts []nats.Option

	if security != nil && security.Mode == models.SecurityModeMTLS {
		tlsConf, err := natsutil.TLSConfig(security)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	nc, err := natsutil.Connect(natsURL, nil, log, append(opts, nats.Name("fleetprov-kv"))...)
	if err != nil {
		return nil, err
	}

	store, err := newNatsStoreWithConn(ctx, nc, bucket, log)
	if err != nil {
		nc.Close()

		return nil, err
	}

	return store, nil
}

func newNatsStoreWithConn(ctx context.Context, nc *nats.Conn, bucket string, log logger.Logger) (*NatsStore, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create KV bucket: %w", err)
	}

	return &NatsStore{
		nc:     nc,
		kv:     kv,
		logger: log,
	}, nil
}

func (n *NatsStore) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	var entry jetstream.KeyValueEntry

	entry, err = n.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	return entry.Value(), true, nil
}

func (n *NatsStore) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return errInvalidKey
	}

	if _, err := n.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}

	return nil
}

// PutMany writes entries in order. JetStream KV has no multi-key
// transaction, so on failure the keys already written are restored to
// their previous values.
func (n *NatsStore) PutMany(ctx context.Context, entries []KeyValueEntry) error {
	written := make([]priorEntry, 0, len(entries))

	for _, e := range entries {
		old, found, err := n.Get(ctx, e.Key)
		if err == nil {
			err = n.Put(ctx, e.Key, e.Value)
		}

		if err != nil {
			if rerr := n.restore(ctx, written); rerr != nil {
				return errors.Join(err, rerr)
			}

			return err
		}

		written = append(written, priorEntry{key: e.Key, value: old, found: found})
	}

	return nil
}

type priorEntry struct {
	key   string
	value []byte
	found bool
}

func (n *NatsStore) restore(ctx context.Context, written []priorEntry) error {
	var failed int

	for i := len(written) - 1; i >= 0; i-- {
		w := written[i]

		var err error
		if w.found {
			err = n.Put(ctx, w.key, w.value)
		} else {
			err = n.Delete(ctx, w.key)
		}

		if err != nil {
			failed++

			n.logger.Error().Err(err).Str("key", w.key).Msg("Failed to roll back KV batch entry")
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d keys", errRollbackIncomplete, failed)
	}

	return nil
}

func (n *NatsStore) Delete(ctx context.Context, key string) error {
	err := n.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}

	return nil
}

func (n *NatsStore) Close() error {
	n.nc.Close()

	return nil
}

var _ KVStore = (*NatsStore)(nil)
