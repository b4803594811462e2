package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oebus/fansync/db"
	"github.com/oebus/fansync/internal/api"
	"github.com/oebus/fansync/internal/config"
	"github.com/oebus/fansync/internal/datadog"
	"github.com/oebus/fansync/internal/dispatch"
	"github.com/oebus/fansync/internal/entity"
	"github.com/oebus/fansync/internal/env"
	"github.com/oebus/fansync/internal/logging"
	"github.com/oebus/fansync/internal/notifications"
	"github.com/oebus/fansync/internal/source"
	"github.com/oebus/fansync/internal/store"
	"github.com/oebus/fansync/internal/tracker"
	"github.com/oebus/fansync/internal/transport"
	"github.com/oebus/fansync/system/shutdown"
)

func main() {
	cfg := config.Load()
	env.Cfg = &cfg
	logging.Init(cfg.LogLevel)

	log.Info().
		Str("broker", cfg.BrokerURL).
		Str("gateway_id", cfg.GatewayID).
		Int("bindings", len(cfg.Bindings)).
		Msg("Starting fansync")

	if cfg.EnableDatadog {
		datadog.InitMetrics()
	}

	conn, err := db.Open(cfg.DBFile)
	if err != nil {
		log.Fatal().Err(err).Str("db_file", cfg.DBFile).Msg("Failed to open parameter database")
	}

	st := store.New()
	st.SetPersister(&db.RecordStore{Conn: conn})

	records, err := db.LoadRecords(conn)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load persisted parameter records, starting empty")
	} else {
		st.Preload(records)
		log.Info().Int("devices", len(records)).Msg("Loaded persisted parameter records")
	}

	disp := dispatch.New()
	st.OnChange(disp.Publish)

	notifier := notifications.New(cfg.NtfyTopic)

	trans, err := transport.NewMQTT(cfg.BrokerURL, cfg.TopicPrefix, cfg.GatewayID, notifier)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to gateway bridge")
	}

	resolver := source.New(cfg.Bindings, cfg.GatewayID)
	trk := tracker.New(trans, resolver, st,
		time.Duration(cfg.ReadAllSpacingMillis)*time.Millisecond)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := entity.NewManager(ctx, st, disp, trk,
		time.Duration(cfg.PendingTimeoutSeconds)*time.Second)
	st.OnNewDevice(manager.HandleNewDevice)

	// Devices restored from the database get their observers back before any
	// live traffic arrives.
	for _, deviceID := range st.Devices() {
		manager.HandleNewDevice(deviceID)
	}

	go st.Run(ctx, trans.Updates())

	server := api.NewServer(st, manager, trk)
	go func() {
		if err := server.Start(cfg.APIPort); err != nil {
			shutdown.ShutdownWithError(err, "API server failed", manager, trans, conn)
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Signal received, shutting down")
	shutdown.Shutdown(manager, trans, conn)
}
