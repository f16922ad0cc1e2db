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

package capture

import (
	"errors"
	"fmt"

	"github.com/carverauto/fleetprov/pkg/models"
)

// ATTCode is the status returned to the writing central.
type ATTCode uint8

const (
	ATTSuccess                ATTCode = 0x00
	ATTWriteNotPermitted      ATTCode = 0x03
	ATTAttributeNotFound      ATTCode = 0x0A
	ATTInvalidAttributeLength ATTCode = 0x0D
	ATTUnlikelyError          ATTCode = 0x0E
)

var (
	errUnknownAttribute = errors.New("unknown attribute")
	errCaptureBusy      = errors.New("validation in progress")
	errServiceStopped   = errors.New("attribute service stopped")
)

// AttError is a rejected attribute write. It matches models.ErrValidation
// with errors.Is.
type AttError struct {
	Code ATTCode
	Attr string
	Err  error
}

func (e *AttError) Error() string {
	return fmt.Sprintf("attribute %s rejected (att 0x%02x): %v", e.Attr, uint8(e.Code), e.Err)
}

func (e *AttError) Unwrap() []error {
	return []error{models.ErrValidation, e.Err}
}

// StatusCode maps err to the ATT status reported to the central.
func StatusCode(err error) ATTCode {
	if err == nil {
		return ATTSuccess
	}

	var attErr *AttError
	if errors.As(err, &attErr) {
		return attErr.Code
	}

	return ATTUnlikelyError
}
