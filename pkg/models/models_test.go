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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationJSON(t *testing.T) {
	var cfg struct {
		Timeout Duration `json:"timeout"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"timeout":"2m"}`), &cfg))
	assert.Equal(t, Duration(2*time.Minute), cfg.Timeout)

	require.NoError(t, json.Unmarshal([]byte(`{"timeout":1000}`), &cfg))
	assert.Equal(t, Duration(time.Microsecond), cfg.Timeout)

	require.Error(t, json.Unmarshal([]byte(`{"timeout":"soon"}`), &cfg))
	require.ErrorIs(t, json.Unmarshal([]byte(`{"timeout":true}`), &cfg), errInvalidDuration)

	out, err := json.Marshal(Duration(30 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"30s"`, string(out))
}

func TestBoundedCopy(t *testing.T) {
	tests := []struct {
		name    string
		src     []byte
		want    string
		wantErr bool
	}{
		{name: "plain", src: []byte("Home"), want: "Home"},
		{name: "nul terminated", src: []byte("Home\x00ju"), want: "Home"},
		{name: "over capacity with nul", src: []byte("Home\x00junk"), wantErr: true},
		{name: "at capacity", src: []byte("12345678"), want: "12345678"},
		{name: "over capacity", src: []byte("123456789"), wantErr: true},
		{name: "empty", src: nil, wantErr: true},
		{name: "only nul", src: []byte{0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BoundedCopy(tt.src, 1, 8)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrValidation)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestBoundedCopyDoesNotAlias(t *testing.T) {
	src := []byte("Home")

	got, err := BoundedCopy(src, 1, 8)
	require.NoError(t, err)

	src[0] = 'X'
	assert.Equal(t, "Home", string(got))
}

func TestCaptureRecord(t *testing.T) {
	r := &CaptureRecord{}
	assert.False(t, r.Ready())
	assert.Equal(t, []string{"ssid", "device_identifier"}, r.Missing())

	r.SSID = []byte("Home")
	assert.Equal(t, []string{"device_identifier"}, r.Missing())

	r.DeviceID = []byte("thing-1")
	r.Password = []byte("secret123")
	assert.True(t, r.Ready())
	assert.Empty(t, r.Missing())

	pwd := r.Password
	r.Wipe()

	assert.Equal(t, make([]byte, len("secret123")), pwd)
	assert.Equal(t, CaptureRecord{}, *r)
}

func TestProvisioningStateString(t *testing.T) {
	assert.Equal(t, "absent", StateAbsent.String())
	assert.Equal(t, "network-provisioned", StateNetworkProvisioned.String())
	assert.Equal(t, "fully-provisioned", StateFullyProvisioned.String())
	assert.Equal(t, "unknown", ProvisioningState(7).String())
}

func TestTLSMaterialWipe(t *testing.T) {
	m := TLSMaterial{Certificate: []byte("cert"), PrivateKey: []byte("key")}
	m.Wipe()

	assert.Equal(t, []byte{0, 0, 0}, m.PrivateKey)
	assert.Equal(t, "cert", string(m.Certificate))
}
