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

// Package capture implements the write-only provisioning attribute service
// that collects Wi-Fi credentials and the device identifier from a phone
// over the wireless control channel.
package capture

import (
	"github.com/google/uuid"

	"github.com/carverauto/fleetprov/pkg/models"
)

// Attribute identifies one write target of the service.
type Attribute int

const (
	AttrSSID Attribute = iota
	AttrPassword
	AttrAccountID
	AttrDeviceID
	AttrComplete
)

func (a Attribute) String() string {
	switch a {
	case AttrSSID:
		return "ssid"
	case AttrPassword:
		return "password"
	case AttrAccountID:
		return "account_identifier"
	case AttrDeviceID:
		return "device_identifier"
	case AttrComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Characteristic binds an attribute to its 128-bit identifier and capacity.
type Characteristic struct {
	Attr     Attribute
	UUID     uuid.UUID
	Capacity int
}

// maxTriggerLen is the widest integer accepted by the completion trigger.
const maxTriggerLen = 4

//nolint:gochecknoglobals // fixed GATT table
var (
	// ServiceUUID is the primary provisioning service.
	ServiceUUID = uuid.MustParse("c4b21f63-e59e-44af-a637-5c05f58ac6a3")

	Characteristics = []Characteristic{
		{Attr: AttrSSID, UUID: uuid.MustParse("c4b21f63-e59e-44af-a637-5c05f58ac6a4"), Capacity: models.MaxSSIDLen},
		{Attr: AttrPassword, UUID: uuid.MustParse("c4b21f63-e59e-44af-a637-5c05f58ac6a5"), Capacity: models.MaxPasswordLen},
		{Attr: AttrAccountID, UUID: uuid.MustParse("c4b21f63-e59e-44af-a637-5c05f58ac6a6"), Capacity: models.MaxAccountIDLen},
		{Attr: AttrDeviceID, UUID: uuid.MustParse("c4b21f63-e59e-44af-a637-5c05f58ac6a7"), Capacity: models.MaxThingNameLen},
		{Attr: AttrComplete, UUID: uuid.MustParse("c4b21f63-e59e-44af-a637-5c05f58ac6a8"), Capacity: maxTriggerLen},
	}
)

// Lookup finds the characteristic registered under id.
func Lookup(id uuid.UUID) (Characteristic, bool) {
	for _, c := range Characteristics {
		if c.UUID == id {
			return c, true
		}
	}

	return Characteristic{}, false
}

func characteristicFor(a Attribute) (Characteristic, bool) {
	for _, c := range Characteristics {
		if c.Attr == a {
			return c, true
		}
	}

	return Characteristic{}, false
}
