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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/carverauto/fleetprov/pkg/models"
)

// JSON keys of the issuance response.
const (
	keyCertificateID  = "certificateId"
	keyCertificatePEM = "certificatePem"
	keyPrivateKey     = "privateKey"
	keyOwnershipToken = "certificateOwnershipToken"
	keyThingName      = "thingName"
)

var (
	// ErrKeyNotFound is returned when a response lacks a required key.
	ErrKeyNotFound = errors.New("key not found")
	// ErrMalformedValue is returned when a key is not followed by a
	// quoted string value.
	ErrMalformedValue = errors.New("malformed value")
)

// fieldScanner extracts string values from response bodies without a full
// JSON decode: the value of a key is the first quoted string after the
// colon that follows the key, copied verbatim with escapes left intact.
type fieldScanner struct {
	data []byte
}

func (s fieldScanner) field(key string) ([]byte, error) {
	needle := []byte(`"` + key + `"`)

	i := bytes.Index(s.data, needle)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}

	rest := s.data[i+len(needle):]

	colon := bytes.IndexByte(rest, ':')
	if colon < 0 {
		return nil, fmt.Errorf("%w: %s: missing colon", ErrMalformedValue, key)
	}

	rest = rest[colon+1:]

	open := bytes.IndexByte(rest, '"')
	if open < 0 {
		return nil, fmt.Errorf("%w: %s: missing opening quote", ErrMalformedValue, key)
	}

	rest = rest[open+1:]

	end := bytes.IndexByte(rest, '"')
	if end < 0 {
		return nil, fmt.Errorf("%w: %s: unterminated string", ErrMalformedValue, key)
	}

	return bytes.Clone(rest[:end]), nil
}

// boundedField is field with a capacity check; failures wrap
// models.ErrProtocol.
func (s fieldScanner) boundedField(key string, capacity int) ([]byte, error) {
	v, err := s.field(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrProtocol, err)
	}

	if len(v) == 0 || len(v) > capacity {
		return nil, fmt.Errorf("%w: %w: %s is %d bytes", models.ErrProtocol, ErrMalformedValue, key, len(v))
	}

	return v, nil
}

// rejection is the error body of a rejected request.
type rejection struct {
	StatusCode   int    `json:"statusCode"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func decodeRejection(payload []byte) rejection {
	var r rejection

	_ = json.Unmarshal(payload, &r)

	return r
}

type registerRequest struct {
	CertificateOwnershipToken string             `json:"certificateOwnershipToken"`
	Parameters                registerParameters `json:"parameters"`
}

type registerParameters struct {
	ThingName string `json:"ThingName"`
}

func encodeRegisterRequest(token, thingName string) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(registerRequest{
		CertificateOwnershipToken: token,
		Parameters:                registerParameters{ThingName: thingName},
	}); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
