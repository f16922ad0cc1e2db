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

package cli

import (
	"fmt"
	"io"
)

// PrintHelp writes usage for every subcommand.
func PrintHelp(w io.Writer) {
	_, _ = fmt.Fprintf(w, `fleetprov: device provisioning and fleet registration

Usage:
  fleetprov [subcommand] [options]

Subcommands:
  run            provision the device (default)
  status         show what the identity store holds
  install-claim  store the factory claim identity
  reset-wifi     erase stored Wi-Fi credentials
  version        print the build version

Common options:
  -config string  path to the device config file (default %q)

Options for install-claim:
  -ca string      PEM file with the fleet endpoint trust anchor
  -cert string    PEM file with the claim certificate
  -key string     PEM file with the claim private key

Options for reset-wifi:
  -yes            confirm the erase

Examples:
  fleetprov run -config /etc/fleetprov/device.json
  fleetprov install-claim -ca root.pem -cert claim.pem -key claim.key
  fleetprov status
`, defaultConfigPath)
}
