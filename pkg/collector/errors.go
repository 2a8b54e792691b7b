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

package collector

import "errors"

var (
	// ErrCollectionInProgress is returned when a collection cycle is already
	// running; callers should not retry, the next scheduled tick will run.
	ErrCollectionInProgress = errors.New("collection already in progress")

	errAdapterNotRegistered = errors.New("no adapter registered for service type")
	errUnexpectedStatus     = errors.New("unexpected HTTP status")
)
