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
	"fmt"

	"github.com/carverauto/fleetprov/pkg/logger"
	"github.com/carverauto/fleetprov/pkg/models"
)

const (
	BackendSQLite = "sqlite"
	BackendNATS   = "nats"
	BackendMemory = "memory"

	defaultSQLitePath = "/var/lib/fleetprov/identity.db"
	defaultBucket     = "fleetprov-identity"
	defaultNamespace  = "storage"
)

// Config selects and configures the identity store backend.
type Config struct {
	Backend   string                 `json:"backend"`
	Path      string                 `json:"path,omitempty"`
	Namespace string                 `json:"namespace,omitempty"`
	NATSURL   string                 `json:"nats_url,omitempty"`
	Bucket    string                 `json:"bucket,omitempty"`
	Security  *models.SecurityConfig `json:"security,omitempty"`
}

// Validate checks the backend specific fields and fills in defaults.
func (c *Config) Validate() error {
	if c.Backend == "" {
		c.Backend = BackendSQLite
	}

	if c.Namespace == "" {
		c.Namespace = defaultNamespace
	}

	switch c.Backend {
	case BackendSQLite:
		if c.Path == "" {
			c.Path = defaultSQLitePath
		}
	case BackendNATS:
		if c.NATSURL == "" {
			return errNatsURLRequired
		}

		if c.Bucket == "" {
			c.Bucket = defaultBucket
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: %q", errUnknownBackend, c.Backend)
	}

	return nil
}

// New opens the backend named by cfg.
func New(ctx context.Context, cfg *Config, log logger.Logger) (KVStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendNATS:
		return NewNatsStore(ctx, cfg.NATSURL, cfg.Bucket, cfg.Security, log)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return NewSQLiteStore(ctx, cfg.Path)
	}
}
