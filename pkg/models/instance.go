/*
 * Copyright 2025 the Pulseboard Authors.
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

import "time"

// ServiceInstance is one configured, named connection to a running service.
// Credential fields (APIKey, Username, Password) are encrypted at rest and
// returned decrypted by the store's read paths.
type ServiceInstance struct {
	ID          string    `json:"id"`
	ServiceType string    `json:"service_type"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	APIKey      string    `json:"api_key,omitempty"`
	Username    string    `json:"username,omitempty"`
	Password    string    `json:"password,omitempty"`
	ConfigJSON  string    `json:"config_json,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsConfigured reports whether the instance has enough connection detail to
// be polled. A URL is always required; credentials are adapter-specific, so
// only the URL gates collection here.
func (s *ServiceInstance) IsConfigured() bool {
	return s.URL != ""
}
