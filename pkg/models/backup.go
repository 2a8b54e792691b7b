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

// BackupVersion identifies the current logical backup format.
const BackupVersion = 2

// BackupDump is the full logical export of durable configuration state.
// Credential fields inside ServiceInstances remain encrypted; metric samples
// are deliberately excluded (they are re-collectable).
type BackupDump struct {
	Version          int               `json:"version"`
	ExportedAt       time.Time         `json:"exported_at"`
	Settings         []Setting         `json:"settings"`
	ServiceInstances []ServiceInstance `json:"service_instances"`
	UIPreferences    []UIPreference    `json:"ui_preferences"`
}
