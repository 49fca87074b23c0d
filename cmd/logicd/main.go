// Gray Logic Runtime - KNX logic engine
//
// logicd bridges a KNX/IP installation to user-authored logic blocks:
// it owns the address bus, schedules block executions on value
// changes, persists configuration and remanent state, and exposes the
// whole thing over HTTP/WebSocket for the dashboard.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/nerrad567/gray-logic-runtime/migrations"

	"github.com/nerrad567/gray-logic-runtime/internal/api"
	"github.com/nerrad567/gray-logic-runtime/internal/block"
	"github.com/nerrad567/gray-logic-runtime/internal/bus"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-runtime/internal/knx"
	"github.com/nerrad567/gray-logic-runtime/internal/logicstore"
	"github.com/nerrad567/gray-logic-runtime/internal/remanent"
	"github.com/nerrad567/gray-logic-runtime/internal/runtime"
)

// Version information - set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// defaultConfigPath is used when GRAYLOGIC_CONFIG is unset.
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application body, separated from main for testability.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear wiring sequence
	log := logging.Default()
	log.Info("starting Gray Logic Runtime", "version", version, "commit", commit)

	configPath := os.Getenv("GRAYLOGIC_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath)

	// Database + migrations.
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Address bus with persistence and broadcast.
	addressBus := bus.New()
	addressBus.SetLogger(log.Component("bus"))
	addressBus.SetRepository(bus.NewSQLiteRepository(db.DB))

	broadcaster := bus.NewBroadcaster(0)
	broadcaster.SetLogger(log.Component("broadcaster"))
	addressBus.SetPublisher(broadcaster)

	if err := addressBus.LoadFromRepository(ctx); err != nil {
		return fmt.Errorf("loading addresses: %w", err)
	}

	// Block registry, remanent store, logic config store.
	registry := block.NewRegistry()
	registry.SetLogger(log.Component("registry"))

	remanentStore := remanent.NewStore(cfg.Logic.RemanentPath)
	remanentStore.SetLogger(log.Component("remanent"))

	store := logicstore.NewStore(cfg.Logic.ConfigPath)
	store.SetLogger(log.Component("logicstore"))

	// Scheduler.
	scheduler := runtime.New(runtime.Config{
		ExecTimeout:        cfg.GetExecTimeout(),
		FailureLimit:       cfg.Runtime.FailureLimit,
		FailureWindow:      cfg.GetFailureWindow(),
		CheckpointInterval: cfg.GetCheckpointInterval(),
		CustomBlocksDir:    cfg.Logic.CustomBlocksDir,
	}, registry, addressBus, remanentStore, store)
	scheduler.SetLogger(log.Component("scheduler"))

	// KNX driver + outbound gateway.
	var driver knx.Driver
	if cfg.KNX.Enabled {
		client, connectErr := knx.Connect(ctx, knx.Config{Connection: cfg.KNX.Connection})
		if connectErr != nil {
			return fmt.Errorf("connecting to knxd: %w", connectErr)
		}
		client.SetLogger(log.Component("knx"))
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				log.Error("error closing knxd connection", "error", closeErr)
			}
		}()
		driver = client
		log.Info("knxd connected", "url", cfg.KNX.Connection)
	} else {
		log.Info("KNX link disabled, running loopback only")
	}

	gateway := knx.NewGateway(addressBus, driver)
	gateway.SetLogger(log.Component("gateway"))
	scheduler.SetBusWriter(gateway)

	if driver != nil {
		driver.SetOnTelegram(func(t knx.Telegram) {
			if key, value, ok := gateway.DecodeInbound(t); ok {
				scheduler.HandleInbound(key, value)
			}
		})
	}

	// Restore the persisted logic configuration before the loop runs.
	if err := scheduler.Load(); err != nil {
		return fmt.Errorf("loading logic configuration: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	// Optional MQTT telegram relay.
	if cfg.MQTT.Enabled {
		mqttClient, connectErr := mqtt.Connect(cfg.MQTT)
		if connectErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connectErr)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
		defer func() {
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()

		relay := mqtt.NewTelegramRelay(mqttClient, broadcaster)
		relay.SetLogger(log.Component("mqtt-relay"))
		go relay.Run()
		defer relay.Stop()
		log.Info("MQTT telegram relay running",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port))
	}

	// Optional InfluxDB telegram history.
	if cfg.InfluxDB.Enabled {
		influxClient, connectErr := influxdb.Connect(cfg.InfluxDB)
		if connectErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connectErr)
		}
		influxClient.SetLogger(log.Component("influxdb"))
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()

		recorder := influxdb.NewTelegramRecorder(influxClient, broadcaster)
		go recorder.Run()
		defer recorder.Stop()
		log.Info("InfluxDB telegram history running", "url", cfg.InfluxDB.URL)
	}

	// HTTP/WebSocket API.
	server := api.NewServer(cfg.API, cfg.WebSocket, scheduler, addressBus, broadcaster, registry,
		log.Component("api"))

	log.Info("initialisation complete")
	if err := server.Start(ctx); err != nil {
		return err
	}

	// Context cancelled: let the scheduler finish its shutdown
	// sequence (drain, checkpoint, flush) before closing connections.
	wg.Wait()
	broadcaster.Close()

	log.Info("Gray Logic Runtime stopped")
	return nil
}
