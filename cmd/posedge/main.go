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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/posedge/pkg/api"
	"github.com/carverauto/posedge/pkg/cloudapi"
	"github.com/carverauto/posedge/pkg/config"
	"github.com/carverauto/posedge/pkg/coordinator"
	"github.com/carverauto/posedge/pkg/events"
	"github.com/carverauto/posedge/pkg/health"
	"github.com/carverauto/posedge/pkg/heartbeat"
	"github.com/carverauto/posedge/pkg/kv"
	"github.com/carverauto/posedge/pkg/lifecycle"
	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/orderstore"
	"github.com/carverauto/posedge/pkg/ordersync"
	"github.com/carverauto/posedge/pkg/printing"
	"github.com/carverauto/posedge/pkg/registry"
	"github.com/carverauto/posedge/pkg/transport"
	"github.com/carverauto/posedge/pkg/version"
)

var errFailedToLoadConfig = errors.New("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/posedge/posedge.json", "Path to posedge config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg Config

	if err := loadConfig(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	mainLogger, err := lifecycle.CreateComponentLogger("posedge", cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		if err := logger.ShutdownOTEL(); err != nil {
			log.Printf("Failed to flush OTel logs: %v", err)
		}
	}()

	component := func(name string) logger.Logger { return lifecycle.ComponentLogger(mainLogger, name) }

	store, err := kv.Open(ctx, &cfg.KV)
	if err != nil {
		return fmt.Errorf("failed to open kv store: %w", err)
	}
	defer func() { _ = store.Close() }()

	reg, err := registry.Load(cfg.RegistryPath, store, component("registry"))
	if err != nil {
		return err
	}

	bus := events.NewBus(cfg.EventQueue, component("events"))
	defer bus.Close()

	if cfg.forwardEvents() {
		fwd, err := events.ConnectForwarder(ctx, cfg.Events, component("forwarder"))
		if err != nil {
			return fmt.Errorf("failed to connect event forwarder: %w", err)
		}
		defer fwd.Close()

		fwd.Attach(bus)
	}

	client := transport.NewClient(&cfg.Transport, component("transport"))
	orders := orderstore.New(store, &cfg.Orders, component("orders"))
	cloud := cloudapi.NewClient(cfg.Cloud, component("cloudapi"))

	syncSvc, err := ordersync.NewService(&cfg.Sync, cloud, orders, store, bus, nil, component("sync"))
	if err != nil {
		return err
	}

	sweeper, err := ordersync.NewSweeper(&cfg.Sweep, orders, bus, nil, component("sweep"))
	if err != nil {
		return err
	}

	monitor, err := health.NewMonitor(&cfg.Health, reg, client, bus, nil, component("health"))
	if err != nil {
		return err
	}

	tickets, err := printing.NewTicketPrinter(&cfg.Printing, reg, client, orders, nil, component("printing"))
	if err != nil {
		return err
	}
	defer tickets.Attach(ctx, bus)()

	beat, err := newHeartbeat(&cfg.Heartbeat, store, orders, client, bus, component("heartbeat"))
	if err != nil {
		return err
	}

	coord := coordinator.New(cloud, syncSvc, sweeper, bus, component("coordinator"))

	deps := api.Deps{
		Devices:     reg,
		Health:      monitor,
		Actions:     client,
		Sync:        syncSvc,
		Sweep:       sweeper,
		Coordinator: coord,
		Events:      bus,
	}

	if beat != nil {
		deps.Heartbeat = beat
	}

	server := api.NewServer(&cfg.API, deps, component("api"))

	if err := coord.Start(ctx); err != nil {
		// the rest of the edge keeps running; operators see the status event
		mainLogger.Warn().Err(err).Msg("Order loops not started")
	}
	defer coord.Stop()

	if err := monitor.Start(ctx); err != nil {
		return err
	}
	defer monitor.Stop()

	if err := tickets.Start(ctx); err != nil {
		return err
	}
	defer tickets.Stop()

	if beat != nil {
		if err := beat.Start(ctx); err != nil {
			return err
		}
		defer beat.Stop()
	}

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start api server: %w", err)
	}

	mainLogger.Info().
		Str("version", version.Get().String()).
		Str("registry", cfg.RegistryPath).
		Msg("posedge running")

	<-ctx.Done()

	mainLogger.Info().Msg("Shutting down")

	return server.Stop(context.Background())
}

// loadConfig reads the file first when CONFIG_SOURCE=kv so the kv
// connection settings are known before the kv overlay is applied.
func loadConfig(ctx context.Context, path string, cfg *Config) error {
	loader := config.NewConfig(nil)

	if config.Source() == "kv" {
		var boot Config
		if err := (&config.FileConfigLoader{}).Load(ctx, path, &boot); err != nil {
			return err
		}

		store, err := kv.Open(ctx, &boot.KV)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		loader.SetKVStore(store)
	}

	return loader.LoadAndValidate(ctx, path, cfg)
}

// newHeartbeat returns nil without error when no endpoint is configured.
func newHeartbeat(
	cfg *heartbeat.Config,
	store kv.Store,
	counter heartbeat.Counter,
	prints heartbeat.PrintTracker,
	publisher events.Publisher,
	log logger.Logger,
) (*heartbeat.Service, error) {
	breaker := heartbeat.NewCircuitBreaker(heartbeat.DefaultBreakerConfig(), log)

	sender, err := heartbeat.NewHTTPSender(cfg.Endpoint, cfg.APIKey, time.Duration(cfg.Timeout), breaker, log)
	if errors.Is(err, heartbeat.ErrNotConfigured) {
		log.Warn().Err(err).Msg("Heartbeat disabled")
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	ids := heartbeat.NewDeviceIDResolver(store, log)

	return heartbeat.NewService(cfg, ids, sender, counter, prints, publisher, nil, log)
}
