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

package scheduler

import "errors"

var (
	// ErrNotInitialized declines a manual run on a task that is not started.
	ErrNotInitialized = errors.New("task not initialized")
	// ErrTickInFlight declines a run while another tick body is executing.
	ErrTickInFlight = errors.New("tick already in flight")

	ErrAlreadyRunning = errors.New("task already running")
	ErrNotRunning     = errors.New("task not running")
	ErrNotPaused      = errors.New("task not paused")
	ErrTickPanicked   = errors.New("tick panicked")
	errInvalidPeriod  = errors.New("interval must be positive")
)
