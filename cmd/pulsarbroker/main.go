package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/pulsarbroker/internal/config"
	"github.com/sawpanic/pulsarbroker/internal/data"
	"github.com/sawpanic/pulsarbroker/internal/httpadmin"
	"github.com/sawpanic/pulsarbroker/internal/ids"
	"github.com/sawpanic/pulsarbroker/internal/model"
	"github.com/sawpanic/pulsarbroker/internal/persistence"
	"github.com/sawpanic/pulsarbroker/internal/persistence/cache"
	"github.com/sawpanic/pulsarbroker/internal/persistence/postgres"
	"github.com/sawpanic/pulsarbroker/internal/persistence/resilient"
	"github.com/sawpanic/pulsarbroker/internal/services"
	"github.com/sawpanic/pulsarbroker/internal/transport"
)

const version = "v0.1.0"

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     "broker [environment] [cluster_name] [ip_address]",
		Short:   "pulsarbroker — a distributed pub/sub message broker node",
		Version: version,
		Args:    cobra.MaximumNArgs(3),
		RunE:    runBroker,
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML settings file")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("broker: fatal")
	}
}

func runBroker(cmd *cobra.Command, args []string) error {
	environment := argOrDefault(args, 0, "dev")
	clusterName := argOrDefault(args, 1, "local")
	ipAddress := argOrDefault(args, 2, "127.0.0.1")

	settings, err := config.Load(configPath, environment)
	if err != nil {
		return fmt.Errorf("broker: load config: %w", err)
	}
	settings.ClusterName = clusterName
	settings.IpAddress = ipAddress
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("broker: invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx, settings)
	if err != nil {
		return fmt.Errorf("broker: build store: %w", err)
	}
	defer closeStore()

	selfNodeId, err := bootstrap(ctx, store, settings)
	if err != nil {
		return fmt.Errorf("broker: bootstrap cluster: %w", err)
	}

	admin := &services.AdminService{Store: store}
	pub := &services.PubService{Store: store, SelfNodeId: selfNodeId}
	sub := &services.SubService{Store: store}
	stats := &services.StatsService{Admin: admin}

	router := &transport.Router{Pub: pub, Sub: sub, Admin: admin}
	pubsubServer := &transport.Server{
		Addr:   fmt.Sprintf("%s:%d", settings.IpAddress, settings.PubSubPort),
		Router: router,
	}
	adminServer := httpadmin.NewServer(admin, stats,
		httpadmin.DefaultConfig(fmt.Sprintf("%s:%d", settings.IpAddress, settings.AdminPort)))

	errs := make(chan error, 2)
	go func() {
		log.Info().Str("addr", pubsubServer.Addr).Msg("broker: pub/sub transport listening")
		if err := pubsubServer.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			errs <- fmt.Errorf("transport: %w", err)
		}
	}()
	go func() {
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("httpadmin: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("broker: shutdown signal received, draining")
	case err := <-errs:
		log.Error().Err(err).Msg("broker: server error, shutting down")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("broker: httpadmin shutdown")
	}

	log.Info().Msg("broker: stopped")
	return nil
}

func argOrDefault(args []string, i int, def string) string {
	if i < len(args) && args[i] != "" {
		return args[i]
	}
	return def
}

// buildStore wires a data.Store over whichever backend the merged
// settings select, layering the read-through cache and circuit breaker
// around a durable backend but never around the in-memory one (it has
// nothing to protect against).
func buildStore(ctx context.Context, settings config.Settings) (*data.Store, func(), error) {
	if settings.PersistEvents == config.BackendInMemory && settings.PersistState == config.BackendInMemory {
		store := &data.Store{
			Entities: persistence.NewInMemoryEntityStore(),
			Events:   persistence.NewInMemoryEventLog(),
		}
		return store, func() {}, nil
	}

	pg, err := postgres.Open(ctx, settings.Postgres)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}

	breakerConfig := resilient.DefaultConfig()

	var entities persistence.EntityPersister = pg.Entities()
	entities = resilient.NewEntityPersister(entities, breakerConfig)
	entities = cache.NewCachedEntityPersister(entities, cache.NewAuto(settings.CacheRedisAddr))

	var events persistence.EventPersister = pg.Events()
	events = resilient.NewEventPersister(events, breakerConfig)

	store := &data.Store{Entities: entities, Events: events}
	return store, func() { _ = pg.Close() }, nil
}

// bootstrap ensures the cluster record and this node's own membership
// exist, idempotently, so a restarted broker rejoins rather than
// duplicating itself.
func bootstrap(ctx context.Context, store *data.Store, settings config.Settings) (ids.NodeId, error) {
	cluster, err := data.AddIfNone(ctx, store, data.TypeCluster, ids.ClusterKey, model.Cluster{Name: settings.ClusterName})
	if err != nil {
		return 0, err
	}

	selfNodeId := ids.NodeId(len(cluster.NodeIds) + 1)
	selfNode := model.Node{
		Id:         selfNodeId,
		Address:    settings.IpAddress,
		AdminPort:  settings.AdminPort,
		PubSubPort: settings.PubSubPort,
		SyncPort:   settings.SyncPort,
		LastSeen:   ids.Timestamp(time.Now().UnixMilli()),
	}

	admin := &services.AdminService{Store: store}
	if err := admin.JoinNode(ctx, selfNode); err != nil {
		return 0, err
	}
	log.Info().
		Uint16("node_id", uint16(selfNodeId)).
		Str("cluster", settings.ClusterName).
		Msg("broker: joined cluster")
	return selfNodeId, nil
}
