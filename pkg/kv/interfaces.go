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

//go:generate mockgen -destination=mock_kv.go -package=kv github.com/carverauto/fleetprov/pkg/kv KVStore

// Package kv provides the durable key/value backends behind the device
// identity store.
package kv

import "context"

// KVStore is a byte-oriented key/value store that survives restarts.
type KVStore interface {
	// Get returns the value for key. found is false, with a nil error, when
	// the key has never been written or was deleted.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// PutMany stores every entry. Backends that support transactions apply
	// the batch atomically.
	PutMany(ctx context.Context, entries []KeyValueEntry) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend.
	Close() error
}

// KeyValueEntry is one element of a PutMany batch.
type KeyValueEntry struct {
	Key   string
	Value []byte
}
