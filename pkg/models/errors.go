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

package models

import "errors"

// Error kinds shared by every provisioning component. Component errors wrap
// one of these so callers can classify failures with errors.Is.
var (
	// ErrValidation marks a malformed or oversized attribute write.
	ErrValidation = errors.New("validation error")
	// ErrNetwork marks a Wi-Fi join failure after the retry bound is exhausted.
	ErrNetwork = errors.New("network error")
	// ErrStorage marks a durable store fault; fatal for the current boot.
	ErrStorage = errors.New("storage error")
	// ErrProtocol marks a malformed or rejected registration response.
	ErrProtocol = errors.New("protocol error")
	// ErrTransport marks a messaging connect, publish or subscribe failure.
	ErrTransport = errors.New("transport error")
)
