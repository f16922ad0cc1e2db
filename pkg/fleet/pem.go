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

import "bytes"

// formatPEM restores a PEM block flattened into a JSON string: each
// two-character `\n` escape becomes a newline, and the value is cut at its
// final newline. A value without any newline is returned unchanged.
func formatPEM(raw []byte) []byte {
	out := bytes.ReplaceAll(raw, []byte(`\n`), []byte("\n"))

	if i := bytes.LastIndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}

	return out
}
