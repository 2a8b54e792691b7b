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

// SettingType declares how a setting's stored string value is interpreted.
type SettingType string

const (
	SettingTypeString  SettingType = "string"
	SettingTypeNumber  SettingType = "number"
	SettingTypeBoolean SettingType = "boolean"
	SettingTypeJSON    SettingType = "json"
)

// Setting is a key/value pair with a declared kind. Last writer wins.
type Setting struct {
	Key       string      `json:"key"`
	Value     string      `json:"value"`
	Type      SettingType `json:"type"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// UIPreference is one per-user, per-page preference entry.
type UIPreference struct {
	UserID    string    `json:"user_id"`
	Page      string    `json:"page"`
	Key       string    `json:"preference_key"`
	Value     string    `json:"preference_value"`
	UpdatedAt time.Time `json:"updated_at"`
}
