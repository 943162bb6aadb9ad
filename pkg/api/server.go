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

// Package api serves the local control surface.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/netutil"

	"github.com/carverauto/posedge/pkg/events"
	"github.com/carverauto/posedge/pkg/health"
	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/models"
	"github.com/carverauto/posedge/pkg/scheduler"
)

const (
	defaultListenAddr = "127.0.0.1:8088"
	defaultMaxConns   = 64
	requestTimeout    = 60 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type Config struct {
	ListenAddr     string   `json:"listen_addr"`
	AllowedOrigins []string `json:"allowed_origins"`
	// MaxConnections caps concurrently accepted connections, event streams included.
	MaxConnections int `json:"max_connections"`
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	if c.MaxConnections <= 0 {
		c.MaxConnections = defaultMaxConns
	}

	return nil
}

// Trigger is a periodic loop that can be run on demand.
type Trigger interface {
	RunNow(ctx context.Context) scheduler.RunResult
	TaskStats() scheduler.Stats
}

// SyncControl is the order sync loop.
type SyncControl interface {
	Trigger
	Pause() error
	Resume() error
}

type HealthChecker interface {
	Trigger
	CheckOne(ctx context.Context, id string) (health.Result, error)
	States() []models.DeviceHealthState
}

type Devices interface {
	ListDevices(ctx context.Context) ([]models.DeviceProfile, error)
	GetDevice(ctx context.Context, id string) (*models.DeviceProfile, error)
}

// DeviceActions are the one-shot printer commands.
type DeviceActions interface {
	OpenDrawer(ctx context.Context, device *models.DeviceProfile, pin int) error
	Buzz(ctx context.Context, device *models.DeviceProfile, short bool) error
	TestPrint(ctx context.Context, device *models.DeviceProfile) error
}

type EventSource interface {
	Subscribe(name string, handler events.Handler, types ...events.Type) func()
}

type Coordinator interface {
	Running() bool
}

// Deps wires the server to the running services. Sync, Sweep, Heartbeat
// and Coordinator may be nil when the corresponding loop is not configured.
type Deps struct {
	Devices     Devices
	Health      HealthChecker
	Actions     DeviceActions
	Sync        SyncControl
	Sweep       Trigger
	Heartbeat   Trigger
	Coordinator Coordinator
	Events      EventSource
}

type Server struct {
	cfg    Config
	deps   Deps
	logger logger.Logger
	router chi.Router
	srv    *http.Server
}

func NewServer(cfg *Config, deps Deps, log logger.Logger) *Server {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}

	_ = c.Validate()

	s := &Server{
		cfg:    c,
		deps:   deps,
		logger: log,
	}

	s.router = s.routes()

	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// the websocket stream is long-lived and sits outside the timeout
	r.Get("/api/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/api/status", s.handleStatus)

		r.Route("/api/printers", func(r chi.Router) {
			r.Get("/", s.handleListPrinters)
			r.Post("/{id}/check", s.handleCheckPrinter)
			r.Post("/{id}/drawer", s.handleDrawer)
			r.Post("/{id}/buzz", s.handleBuzz)
			r.Post("/{id}/test-print", s.handleTestPrint)
		})

		r.Route("/api/sync", func(r chi.Router) {
			r.Post("/run", s.handleRun(func() Trigger { return s.deps.Sync }))
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
		})

		r.Post("/api/sweep/run", s.handleRun(func() Trigger { return s.deps.Sweep }))
		r.Post("/api/heartbeat/run", s.handleRun(func() Trigger { return s.deps.Heartbeat }))
		r.Post("/api/health/run", s.handleRun(func() Trigger { return s.deps.Health }))
	})

	return r
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and serves until Stop.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}

	ln = netutil.LimitListener(ln, s.cfg.MaxConnections)

	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server stopped unexpectedly")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("API server listening")

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	return s.srv.Shutdown(ctx)
}
