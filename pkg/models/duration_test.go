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

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationUnmarshalString(t *testing.T) {
	var d Duration

	require.NoError(t, json.Unmarshal([]byte(`"90s"`), &d))
	assert.Equal(t, 90*time.Second, time.Duration(d))
}

func TestDurationUnmarshalNumber(t *testing.T) {
	var d Duration

	require.NoError(t, json.Unmarshal([]byte(`30000000000`), &d))
	assert.Equal(t, 30*time.Second, time.Duration(d))
}

func TestDurationUnmarshalInvalid(t *testing.T) {
	var d Duration

	assert.Error(t, json.Unmarshal([]byte(`"not-a-duration"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
}

func TestDurationMarshal(t *testing.T) {
	data, err := json.Marshal(Duration(5 * time.Minute))
	require.NoError(t, err)
	assert.JSONEq(t, `"5m0s"`, string(data))
}

func TestCoreConfigValidate(t *testing.T) {
	cfg := &CoreConfig{DBPath: "/tmp/x.db", CollectionInterval: Duration(30 * time.Second)}
	assert.NoError(t, cfg.Validate())

	cfg = &CoreConfig{CollectionInterval: Duration(30 * time.Second)}
	assert.Error(t, cfg.Validate())

	cfg = &CoreConfig{DBPath: "/tmp/x.db", CollectionInterval: Duration(time.Second)}
	assert.Error(t, cfg.Validate())

	// Zero interval defers to the runtime default.
	cfg = &CoreConfig{DBPath: "/tmp/x.db"}
	assert.NoError(t, cfg.Validate())
}
