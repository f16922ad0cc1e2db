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

package lifecycle

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/carverauto/fleetprov/pkg/logger"
)

// Restarter reboots the provisioning flow so the next boot re-derives its
// phase from persisted state. Restart does not return on success for
// implementations that replace the process.
type Restarter interface {
	Restart(ctx context.Context, reason string) error
}

// ExecRestarter replaces the current process image with a fresh copy of
// the same binary, arguments and environment.
type ExecRestarter struct {
	logger logger.Logger
	exec   func(argv0 string, argv, envv []string) error
}

func NewExecRestarter(log logger.Logger) *ExecRestarter {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &ExecRestarter{logger: log, exec: unix.Exec}
}

func (r *ExecRestarter) Restart(_ context.Context, reason string) error {
	path, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	r.logger.Info().Str("reason", reason).Str("path", path).Msg("Restarting process")

	_ = ShutdownLogger()

	if err := r.exec(path, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", path, err)
	}

	return nil
}

// LoopRestarter records restart requests for an in-process supervisor loop.
// At most one request is pending; further requests coalesce.
type LoopRestarter struct {
	logger   logger.Logger
	requests chan string
}

func NewLoopRestarter(log logger.Logger) *LoopRestarter {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &LoopRestarter{
		logger:   log,
		requests: make(chan string, 1),
	}
}

func (r *LoopRestarter) Restart(_ context.Context, reason string) error {
	select {
	case r.requests <- reason:
		r.logger.Info().Str("reason", reason).Msg("Restart requested")
	default:
		r.logger.Debug().Str("reason", reason).Msg("Restart already pending")
	}

	return nil
}

// Pending reports and consumes a queued restart without blocking.
func (r *LoopRestarter) Pending() (string, bool) {
	select {
	case reason := <-r.requests:
		return reason, true
	default:
		return "", false
	}
}
