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
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fleetprov/pkg/models"
)

func TestFieldScanner(t *testing.T) {
	scan := fieldScanner{data: []byte(issuanceBody())}

	id, err := scan.field(keyCertificateID)
	require.NoError(t, err)
	assert.Equal(t, "abc123", string(id))

	tok, err := scan.field(keyOwnershipToken)
	require.NoError(t, err)
	assert.Equal(t, "tok-xyz", string(tok))

	cert, err := scan.field(keyCertificatePEM)
	require.NoError(t, err)
	assert.Equal(t, issuedCert, string(cert), "escapes are copied verbatim")
}

func TestFieldScannerErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{name: "missing key", body: `{"other":"x"}`, want: ErrKeyNotFound},
		{name: "no colon", body: `{"certificateId"}`, want: ErrMalformedValue},
		{name: "no opening quote", body: `{"certificateId": 12}`, want: ErrMalformedValue},
		{name: "unterminated", body: `{"certificateId":"abc`, want: ErrMalformedValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fieldScanner{data: []byte(tt.body)}.field(keyCertificateID)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBoundedField(t *testing.T) {
	scan := fieldScanner{data: []byte(`{"certificateId":"` + strings.Repeat("a", 65) + `","empty":""}`)}

	_, err := scan.boundedField(keyCertificateID, models.MaxCertificateIDLen)
	require.ErrorIs(t, err, models.ErrProtocol)
	require.ErrorIs(t, err, ErrMalformedValue)

	_, err = scan.boundedField("empty", 10)
	require.ErrorIs(t, err, ErrMalformedValue)

	_, err = scan.boundedField("missing", 10)
	require.ErrorIs(t, err, models.ErrProtocol)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestFormatPEM(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "escaped newlines",
			raw:  `-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n`,
			want: "-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----",
		},
		{
			name: "trailing text after last newline dropped",
			raw:  `line1\nline2\ntrailer`,
			want: "line1\nline2",
		},
		{
			name: "no newline unchanged",
			raw:  "opaque",
			want: "opaque",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(formatPEM([]byte(tt.raw))))
		})
	}
}

func TestEncodeRegisterRequest(t *testing.T) {
	req, err := encodeRegisterRequest("a<b>&c", "thing-1")
	require.NoError(t, err)

	assert.Equal(t, `{"certificateOwnershipToken":"a<b>&c","parameters":{"ThingName":"thing-1"}}`, string(req))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(req, &decoded))
}

func TestDecodeRejection(t *testing.T) {
	r := decodeRejection([]byte(`{"statusCode":403,"errorCode":"Forbidden","errorMessage":"denied"}`))
	assert.Equal(t, rejection{StatusCode: 403, ErrorCode: "Forbidden", ErrorMessage: "denied"}, r)

	assert.Equal(t, rejection{}, decodeRejection([]byte("not json")))
}

func TestAssembler(t *testing.T) {
	a := assembler{capacity: 16}

	_, done, err := a.add(&Message{Payload: []byte("world"), Offset: 5, Total: 10})
	require.NoError(t, err)
	assert.False(t, done)

	body, done, err := a.add(&Message{Payload: []byte("hello"), Offset: 0, Total: 10})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "helloworld", string(body))

	a.reset()
	assert.Nil(t, a.buf)
	assert.Equal(t, 16, a.capacity)
}

func TestAssemblerIgnoresRedeliveredFragments(t *testing.T) {
	a := assembler{capacity: 16}

	for range 2 {
		_, done, err := a.add(&Message{Payload: []byte("hello"), Offset: 0, Total: 10})
		require.NoError(t, err)
		assert.False(t, done)
	}

	_, done, err := a.add(&Message{Payload: []byte("llowo"), Offset: 2, Total: 10})
	require.NoError(t, err)
	assert.False(t, done)

	body, done, err := a.add(&Message{Payload: []byte("rld"), Offset: 7, Total: 10})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "helloworld", string(body))
}

func TestAssemblerErrors(t *testing.T) {
	tests := []struct {
		name string
		msgs []*Message
	}{
		{name: "too large", msgs: []*Message{{Payload: []byte("x"), Total: 17}}},
		{name: "zero total", msgs: []*Message{{Total: 0}}},
		{name: "out of range", msgs: []*Message{{Payload: []byte("abcd"), Offset: 8, Total: 10}}},
		{
			name: "total changes",
			msgs: []*Message{
				{Payload: []byte("ab"), Offset: 0, Total: 10},
				{Payload: []byte("cd"), Offset: 2, Total: 12},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := assembler{capacity: 16}

			var err error
			for _, m := range tt.msgs {
				if _, _, err = a.add(m); err != nil {
					break
				}
			}

			require.ErrorIs(t, err, models.ErrProtocol)
		})
	}
}

func TestSessionWipe(t *testing.T) {
	s := newSession()
	s.privateKey = []byte("secret")
	key := s.privateKey

	_, _, err := s.issuance.add(&Message{Payload: []byte("abc"), Total: 6})
	require.NoError(t, err)

	buf := s.issuance.buf

	s.wipe()

	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0}, key)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0}, buf)
	assert.NotEmpty(t, s.id)
}

func TestDefaultTopics(t *testing.T) {
	topics := DefaultTopics("tpl")

	assert.Equal(t, "fleet.certificates.create.json", topics.CreateRequest)
	assert.Equal(t, "fleet.certificates.create.json.accepted", topics.CreateAccepted)
	assert.Equal(t, "fleet.certificates.create.json.rejected", topics.CreateRejected)
	assert.Equal(t, "fleet.provisioning-templates.tpl.provision.json.accepted", topics.RegisterAccepted)
	assert.Len(t, topics.Responses(), 4)
}
