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

// Package natsutil builds mTLS NATS connections from on-disk or in-memory
// PEM material.
package natsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/carverauto/fleetprov/pkg/models"
)

var (
	// ErrMTLSRequired is returned when a security config does not ask for mTLS.
	ErrMTLSRequired = errors.New("mTLS configuration required")
	// ErrCAParsingFailed is returned when CA certificate cannot be parsed
	ErrCAParsingFailed = errors.New("failed to parse CA certificate")
	// ErrIncompleteMaterial is returned when one of the PEM blocks is empty.
	ErrIncompleteMaterial = errors.New("incomplete TLS material")
)

// TLSConfig builds a tls.Config for connecting to NATS using mTLS with
// files named by sec. Relative paths are resolved against sec.CertDir.
func TLSConfig(sec *models.SecurityConfig) (*tls.Config, error) {
	if sec == nil || sec.Mode != models.SecurityModeMTLS {
		return nil, ErrMTLSRequired
	}

	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) || sec.CertDir == "" {
			return p
		}

		return filepath.Join(sec.CertDir, p)
	}

	certPEM, err := os.ReadFile(resolve(sec.TLS.CertFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read client certificate: %w", err)
	}

	keyPEM, err := os.ReadFile(resolve(sec.TLS.KeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read client key: %w", err)
	}

	caPEM, err := os.ReadFile(resolve(sec.TLS.CAFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	return TLSConfigFromPEM(caPEM, certPEM, keyPEM, sec.ServerName)
}

// TLSConfigFromPEM builds an mTLS client config from PEM blocks held in
// memory, as read from the identity store.
func TLSConfigFromPEM(caPEM, certPEM, keyPEM []byte, serverName string) (*tls.Config, error) {
	if len(caPEM) == 0 || len(certPEM) == 0 || len(keyPEM) == 0 {
		return nil, ErrIncompleteMaterial
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caPEM) {
		return nil, ErrCAParsingFailed
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
