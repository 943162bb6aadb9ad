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

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/carverauto/posedge/pkg/models"
	"github.com/carverauto/posedge/pkg/scheduler"
	"github.com/carverauto/posedge/pkg/transport"
	"github.com/carverauto/posedge/pkg/version"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type StatusResponse struct {
	Build             version.Info      `json:"build"`
	OrderLoopsRunning bool              `json:"order_loops_running"`
	Tasks             []scheduler.Stats `json:"tasks"`
}

type PrinterView struct {
	models.DeviceProfile
	Health *models.DeviceHealthState `json:"health,omitempty"`
}

type RunResponse struct {
	Accepted   bool   `json:"accepted"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{Build: version.Get(), Tasks: []scheduler.Stats{}}

	if s.deps.Coordinator != nil {
		resp.OrderLoopsRunning = s.deps.Coordinator.Running()
	}

	for _, t := range []Trigger{s.deps.Sync, s.deps.Sweep, s.deps.Heartbeat, s.deps.Health} {
		if t != nil {
			resp.Tasks = append(resp.Tasks, t.TaskStats())
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListPrinters(w http.ResponseWriter, r *http.Request) {
	devices, err := s.deps.Devices.ListDevices(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list printers")
		writeError(w, "failed to list printers", http.StatusInternalServerError)

		return
	}

	states := map[string]models.DeviceHealthState{}

	if s.deps.Health != nil {
		for _, st := range s.deps.Health.States() {
			states[st.DeviceID] = st
		}
	}

	out := make([]PrinterView, 0, len(devices))

	for i := range devices {
		v := PrinterView{DeviceProfile: devices[i]}
		if st, ok := states[devices[i].ID]; ok {
			v.Health = &st
		}

		out = append(out, v)
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCheckPrinter(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeError(w, "health monitor is not running", http.StatusServiceUnavailable)
		return
	}

	res, err := s.deps.Health.CheckOne(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDrawer(w http.ResponseWriter, r *http.Request) {
	pin, err := strconv.Atoi(r.URL.Query().Get("pin"))
	if err != nil && r.URL.Query().Has("pin") {
		writeError(w, "pin must be 0 or 1", http.StatusBadRequest)
		return
	}

	s.withDevice(w, r, func(d *models.DeviceProfile) error {
		return s.deps.Actions.OpenDrawer(r.Context(), d, pin)
	})
}

func (s *Server) handleBuzz(w http.ResponseWriter, r *http.Request) {
	short, _ := strconv.ParseBool(r.URL.Query().Get("short"))

	s.withDevice(w, r, func(d *models.DeviceProfile) error {
		return s.deps.Actions.Buzz(r.Context(), d, short)
	})
}

func (s *Server) handleTestPrint(w http.ResponseWriter, r *http.Request) {
	s.withDevice(w, r, func(d *models.DeviceProfile) error {
		return s.deps.Actions.TestPrint(r.Context(), d)
	})
}

func (s *Server) withDevice(w http.ResponseWriter, r *http.Request, action func(d *models.DeviceProfile) error) {
	d, err := s.deps.Devices.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDeviceError(w, err)
		return
	}

	if err := action(d); err != nil {
		s.writeDeviceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeDeviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrDeviceNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, transport.ErrDeviceDisabled),
		errors.Is(err, transport.ErrNoCashDrawer),
		errors.Is(err, transport.ErrNoBuzzer):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, transport.ErrNetworkUnavailable):
		writeError(w, err.Error(), http.StatusBadGateway)
	default:
		s.logger.Error().Err(err).Msg("Printer request failed")
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleRun(target func() Trigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := target()
		if t == nil {
			writeError(w, "loop is not configured", http.StatusServiceUnavailable)
			return
		}

		res := t.RunNow(r.Context())
		if res.Declined() {
			writeError(w, res.Reason.Error(), http.StatusConflict)
			return
		}

		resp := RunResponse{Accepted: true, DurationMS: res.Duration.Milliseconds()}
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.syncControl(w, func(c SyncControl) error { return c.Pause() })
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.syncControl(w, func(c SyncControl) error { return c.Resume() })
}

func (s *Server) syncControl(w http.ResponseWriter, op func(c SyncControl) error) {
	if s.deps.Sync == nil {
		writeError(w, "order sync is not configured", http.StatusServiceUnavailable)
		return
	}

	if err := op(s.deps.Sync); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusOK, s.deps.Sync.TaskStats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Message: message, Status: status})
}
