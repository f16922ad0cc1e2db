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
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fleetprov/pkg/identity"
	"github.com/carverauto/fleetprov/pkg/kv"
	"github.com/carverauto/fleetprov/pkg/logger"
	"github.com/carverauto/fleetprov/pkg/models"
	"github.com/carverauto/fleetprov/pkg/natsutil"
)

type fleetPKI struct {
	caPEM     []byte
	caPool    *x509.CertPool
	server    tls.Certificate
	claimCert []byte
	claimKey  []byte
}

func newFleetPKI(t *testing.T) fleetPKI {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "fleet-root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	require.NoError(t, err)

	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	issue := func(serial int64, cn string, usage x509.ExtKeyUsage, ips []net.IP) (certPEM, keyPEM []byte) {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)

		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(serial),
			Subject:      pkix.Name{CommonName: cn},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(time.Hour),
			KeyUsage:     x509.KeyUsageDigitalSignature,
			ExtKeyUsage:  []x509.ExtKeyUsage{usage},
			IPAddresses:  ips,
		}

		der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, &key.PublicKey, caKey)
		require.NoError(t, err)

		keyDER, err := x509.MarshalECPrivateKey(key)
		require.NoError(t, err)

		return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
			pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	}

	serverCert, serverKey := issue(2, "fleet-endpoint", x509.ExtKeyUsageServerAuth, []net.IP{net.ParseIP("127.0.0.1")})
	claimCert, claimKey := issue(3, "claim", x509.ExtKeyUsageClientAuth, nil)

	pair, err := tls.X509KeyPair(serverCert, serverKey)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	return fleetPKI{
		caPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER}),
		caPool:    pool,
		server:    pair,
		claimCert: claimCert,
		claimKey:  claimKey,
	}
}

func (p fleetPKI) claim() models.TLSMaterial {
	return models.TLSMaterial{
		ServerTrustAnchor: append([]byte(nil), p.caPEM...),
		Certificate:       append([]byte(nil), p.claimCert...),
		PrivateKey:        append([]byte(nil), p.claimKey...),
	}
}

func runFleetServer(t *testing.T, pki fleetPKI) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{
		Host: "127.0.0.1",
		Port: -1,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{pki.server},
			ClientCAs:    pki.caPool,
			ClientAuth:   tls.RequireAndVerifyClientCert,
			MinVersion:   tls.VersionTLS12,
		},
		TLSVerify:  true,
		TLSTimeout: 5,
	})
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}

	t.Cleanup(srv.Shutdown)

	return srv
}

// cloudConn is the endpoint side of the exchange.
func cloudConn(t *testing.T, srv *server.Server, pki fleetPKI) *nats.Conn {
	t.Helper()

	m := pki.claim()

	conf, err := natsutil.TLSConfigFromPEM(m.ServerTrustAnchor, m.Certificate, m.PrivateKey, "")
	require.NoError(t, err)

	nc, err := natsutil.Connect(srv.ClientURL(), conf, logger.NewTestLogger(), nats.Name("fleet-cloud"))
	require.NoError(t, err)

	t.Cleanup(nc.Close)

	return nc
}

func publishFragments(t *testing.T, nc *nats.Conn, subject string, body []byte, parts int) {
	t.Helper()

	size := (len(body) + parts - 1) / parts

	for off := 0; off < len(body); off += size {
		end := min(off+size, len(body))

		msg := nats.NewMsg(subject)
		msg.Data = body[off:end]
		msg.Header.Set(HeaderFragmentOffset, strconv.Itoa(off))
		msg.Header.Set(HeaderFragmentTotal, strconv.Itoa(len(body)))

		require.NoError(t, nc.PublishMsg(msg))
	}

	require.NoError(t, nc.Flush())
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()

	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transport event")
	}

	return Event{}
}

func TestNATSTransportDeliversFragmentsInOrder(t *testing.T) {
	ctx := context.Background()
	pki := newFleetPKI(t)
	srv := runFleetServer(t, pki)
	cloud := cloudConn(t, srv, pki)

	claim := pki.claim()

	tr := NewNATSTransport(logger.NewTestLogger())
	require.NoError(t, tr.Connect(ctx, ConnectOptions{Endpoint: srv.ClientURL(), ClientID: "claim", TLS: &claim}))

	t.Cleanup(func() { _ = tr.Close() })

	require.ErrorIs(t, tr.Connect(ctx, ConnectOptions{Endpoint: srv.ClientURL(), TLS: &claim}), errAlreadyConnected)

	require.NoError(t, tr.Subscribe(ctx, "fleet.test.accepted"))

	body := []byte("0123456789abcdefghij")
	publishFragments(t, cloud, "fleet.test.accepted", body, 3)

	var got []*Message
	for range 3 {
		ev := nextEvent(t, tr.Events())
		require.NoError(t, ev.Err)
		got = append(got, ev.Message)
	}

	assert.Equal(t, 0, got[0].Offset)
	assert.Equal(t, 7, got[1].Offset)
	assert.Equal(t, 14, got[2].Offset)

	for _, m := range got {
		assert.Equal(t, len(body), m.Total)
		assert.Equal(t, "fleet.test.accepted", m.Topic)
	}

	// unfragmented message
	require.NoError(t, cloud.Publish("fleet.test.accepted", []byte("whole")))
	require.NoError(t, cloud.Flush())

	ev := nextEvent(t, tr.Events())
	require.NoError(t, ev.Err)
	assert.Equal(t, 0, ev.Message.Offset)
	assert.Equal(t, 5, ev.Message.Total)
}

func TestNATSTransportRejectsUntrustedServer(t *testing.T) {
	pki := newFleetPKI(t)
	srv := runFleetServer(t, pki)

	other := newFleetPKI(t)
	claim := pki.claim()
	claim.ServerTrustAnchor = other.caPEM

	tr := NewNATSTransport(nil)
	err := tr.Connect(context.Background(), ConnectOptions{Endpoint: srv.ClientURL(), ClientID: "claim", TLS: &claim})
	require.ErrorIs(t, err, models.ErrTransport)
}

func TestNATSTransportNotConnected(t *testing.T) {
	tr := NewNATSTransport(nil)

	require.ErrorIs(t, tr.Subscribe(context.Background(), "x"), errNotConnected)
	require.ErrorIs(t, tr.Publish(context.Background(), "x", nil), models.ErrTransport)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
}

func TestNATSTransportBadFragmentHeader(t *testing.T) {
	msg := nats.NewMsg("s")
	msg.Data = []byte("abc")
	msg.Header.Set(HeaderFragmentOffset, "-1")

	_, err := toMessage(msg)
	require.ErrorIs(t, err, errBadFragment)

	msg.Header.Set(HeaderFragmentOffset, "2")
	msg.Header.Set(HeaderFragmentTotal, "nope")

	_, err = toMessage(msg)
	require.ErrorIs(t, err, errBadFragment)
}

func TestNATSTransportDisconnectEmitsError(t *testing.T) {
	pki := newFleetPKI(t)
	srv := runFleetServer(t, pki)
	claim := pki.claim()

	tr := NewNATSTransport(nil)
	require.NoError(t, tr.Connect(context.Background(), ConnectOptions{Endpoint: srv.ClientURL(), ClientID: "claim", TLS: &claim}))

	t.Cleanup(func() { _ = tr.Close() })

	srv.Shutdown()

	ev := nextEvent(t, tr.Events())
	require.ErrorIs(t, ev.Err, models.ErrTransport)
}

// TestEngineOverNATS runs a full registration against an endpoint that
// splits its issuance response.
func TestEngineOverNATS(t *testing.T) {
	ctx := context.Background()
	pki := newFleetPKI(t)
	srv := runFleetServer(t, pki)
	cloud := cloudConn(t, srv, pki)

	store := identity.New(kv.NewMemoryStore(), "storage", nil)
	require.NoError(t, store.InstallClaimIdentity(ctx, pki.claim()))
	require.NoError(t, store.SetProvisioningData(ctx, identity.ProvisioningData{
		SSID:      []byte("Home"),
		ThingName: []byte("thing-7"),
	}))

	cfg := &Config{
		Endpoint:     srv.ClientURL(),
		TemplateName: "tpl",
		Timeout:      models.Duration(10 * time.Second),
	}
	require.NoError(t, cfg.Validate())

	topics := *cfg.Topics
	registered := make(chan []byte, 1)

	_, err := cloud.Subscribe(topics.CreateRequest, func(*nats.Msg) {
		publishFragments(t, cloud, topics.CreateAccepted, []byte(issuanceBody()), 4)
	})
	require.NoError(t, err)

	_, err = cloud.Subscribe(topics.RegisterRequest, func(m *nats.Msg) {
		registered <- append([]byte(nil), m.Data...)

		require.NoError(t, cloud.Publish(topics.RegisterAccepted, []byte(`{"thingName":"thing-7"}`)))
	})
	require.NoError(t, err)
	require.NoError(t, cloud.Flush())

	restarter := &recordingRestarter{}
	engine := NewEngine(NewNATSTransport(nil), store, restarter, cfg, logger.NewTestLogger())
	require.NoError(t, engine.Run(ctx))

	select {
	case req := <-registered:
		assert.JSONEq(t, `{"certificateOwnershipToken":"tok-xyz","parameters":{"ThingName":"thing-7"}}`, string(req))
	default:
		t.Fatal("register request never reached the endpoint")
	}

	assert.Equal(t, []string{ReasonRegistered}, restarter.reasons)

	state, err := store.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateFullyProvisioned, state)
}
