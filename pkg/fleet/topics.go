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

import "fmt"

// Topics names the six subjects of the fleet provisioning exchange.
type Topics struct {
	CreateRequest    string `json:"create_request"`
	CreateAccepted   string `json:"create_accepted"`
	CreateRejected   string `json:"create_rejected"`
	RegisterRequest  string `json:"register_request"`
	RegisterAccepted string `json:"register_accepted"`
	RegisterRejected string `json:"register_rejected"`
}

// DefaultTopics mirrors the fleet provisioning MQTT API in NATS subject form.
func DefaultTopics(templateName string) Topics {
	const create = "fleet.certificates.create.json"

	register := fmt.Sprintf("fleet.provisioning-templates.%s.provision.json", templateName)

	return Topics{
		CreateRequest:    create,
		CreateAccepted:   create + ".accepted",
		CreateRejected:   create + ".rejected",
		RegisterRequest:  register,
		RegisterAccepted: register + ".accepted",
		RegisterRejected: register + ".rejected",
	}
}

// Responses lists the subjects subscribed before the first request.
func (t Topics) Responses() []string {
	return []string{t.CreateAccepted, t.CreateRejected, t.RegisterAccepted, t.RegisterRejected}
}
