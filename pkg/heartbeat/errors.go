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

package heartbeat

import "errors"

var (
	// ErrNotConfigured is returned when the endpoint or API key is missing.
	ErrNotConfigured = errors.New("heartbeat endpoint is not configured")
	// ErrCircuitOpen is returned while the breaker short-circuits sends.
	ErrCircuitOpen = errors.New("heartbeat circuit breaker is open")

	errUnexpectedStatus = errors.New("unexpected heartbeat response status")
)
