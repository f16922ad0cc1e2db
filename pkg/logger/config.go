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

package logger

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/carverauto/fleetprov/pkg/models"
)

// Device defaults. Each can be overridden by FLEETPROV_<NAME> or, failing
// that, the bare <NAME> variable.
const (
	envPrefix = "FLEETPROV_"

	defaultLevel        = "info"
	defaultOutput       = "stdout"
	defaultServiceName  = "fleetprov"
	defaultBatchTimeout = 5 * time.Second
)

// DefaultConfig returns the logging config used when the device config has
// no logging section.
func DefaultConfig() *Config {
	return &Config{
		Level:      envString("LOG_LEVEL", defaultLevel),
		Debug:      envBool("DEBUG"),
		Output:     envString("LOG_OUTPUT", defaultOutput),
		TimeFormat: envString("LOG_TIME_FORMAT", ""),
		OTel:       DefaultOTelConfig(),
	}
}

// DefaultOTelConfig reads the standard OTLP log exporter variables.
func DefaultOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      envBool("OTEL_LOGS_ENABLED"),
		Endpoint:     envString("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", ""),
		Headers:      envHeaders("OTEL_EXPORTER_OTLP_LOGS_HEADERS"),
		ServiceName:  envString("OTEL_SERVICE_NAME", defaultServiceName),
		BatchTimeout: models.Duration(envDuration("OTEL_EXPORTER_OTLP_LOGS_TIMEOUT", defaultBatchTimeout)),
		Insecure:     envBool("OTEL_EXPORTER_OTLP_LOGS_INSECURE"),
	}
}

func lookupEnv(name string) string {
	if v := os.Getenv(envPrefix + name); v != "" {
		return v
	}

	return os.Getenv(name)
}

func envString(name, def string) string {
	if v := lookupEnv(name); v != "" {
		return v
	}

	return def
}

// envBool accepts strconv booleans plus "yes" and "on".
func envBool(name string) bool {
	v := strings.ToLower(lookupEnv(name))

	if v == "yes" || v == "on" {
		return true
	}

	b, _ := strconv.ParseBool(v)

	return b
}

// envDuration falls back to def when the value does not parse.
func envDuration(name string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(lookupEnv(name)); err == nil {
		return d
	}

	return def
}

// envHeaders parses "k1=v1,k2=v2".
func envHeaders(name string) map[string]string {
	headers := make(map[string]string)

	for _, pair := range strings.Split(lookupEnv(name), ",") {
		if k, v, ok := strings.Cut(pair, "="); ok {
			headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}

	return headers
}
