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

import (
	"bytes"
	"fmt"
)

// Field capacities in bytes.
const (
	MaxSSIDLen           = 32
	MaxPasswordLen       = 64
	MaxAccountIDLen      = 64
	MaxThingNameLen      = 64
	MaxPEMLen            = 4096
	MaxCertificateIDLen  = 64
	MaxOwnershipTokenLen = 1024
	MaxIssuanceResponse  = 16384
)

// CaptureRecord is the transient scratch record filled by attribute writes.
// It is owned by exactly one goroutine at a time; ownership moves from the
// attribute service to the Wi-Fi validator when a commit is handed off.
type CaptureRecord struct {
	SSID      []byte
	Password  []byte
	AccountID []byte
	DeviceID  []byte
	Complete  bool
}

// Ready reports whether the record carries enough data to attempt a join.
func (r *CaptureRecord) Ready() bool {
	return len(r.SSID) > 0 && len(r.DeviceID) > 0
}

// Missing lists the required fields that are still empty.
func (r *CaptureRecord) Missing() []string {
	var missing []string

	if len(r.SSID) == 0 {
		missing = append(missing, "ssid")
	}

	if len(r.DeviceID) == 0 {
		missing = append(missing, "device_identifier")
	}

	return missing
}

// Wipe zeroes every captured byte and resets the record.
func (r *CaptureRecord) Wipe() {
	for _, b := range [][]byte{r.SSID, r.Password, r.AccountID, r.DeviceID} {
		clear(b)
	}

	*r = CaptureRecord{}
}

// BoundedCopy copies src into a freshly allocated slice. The raw payload must
// fit capacity; it is then cut at the first NUL byte and must still hold at
// least minLen bytes.
func BoundedCopy(src []byte, minLen, capacity int) ([]byte, error) {
	if len(src) > capacity {
		return nil, fmt.Errorf("%w: length %d exceeds capacity %d", ErrValidation, len(src), capacity)
	}

	if i := bytes.IndexByte(src, 0); i >= 0 {
		src = src[:i]
	}

	if len(src) < minLen {
		return nil, fmt.Errorf("%w: length %d below minimum %d", ErrValidation, len(src), minLen)
	}

	out := make([]byte, len(src))
	copy(out, src)

	return out, nil
}

// ProvisioningState is the presence ladder of the durable identity.
type ProvisioningState int

const (
	// StateAbsent means no Wi-Fi credentials are stored.
	StateAbsent ProvisioningState = iota
	// StateNetworkProvisioned means Wi-Fi is stored but no connection identity.
	StateNetworkProvisioned
	// StateFullyProvisioned means Wi-Fi and connection identity are stored.
	StateFullyProvisioned
)

func (s ProvisioningState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateNetworkProvisioned:
		return "network-provisioned"
	case StateFullyProvisioned:
		return "fully-provisioned"
	default:
		return "unknown"
	}
}

// WiFiCredentials are the stored network credentials.
type WiFiCredentials struct {
	SSID     string
	Password string `sensitive:"true"`
}

// TLSMaterial is a trust anchor plus a client certificate and key, all PEM.
type TLSMaterial struct {
	ServerTrustAnchor []byte
	Certificate       []byte
	PrivateKey        []byte `sensitive:"true"`
}

// Wipe zeroes the private key bytes.
func (m *TLSMaterial) Wipe() {
	clear(m.PrivateKey)
}

// KeySet names the store keys holding one identity.
type KeySet struct {
	Name        string
	Server      string
	Certificate string
	PrivateKey  string
}
