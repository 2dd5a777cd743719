package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/AlveZs/ifc-code-delivery/internal/api"
	"github.com/AlveZs/ifc-code-delivery/internal/cli"
	"github.com/AlveZs/ifc-code-delivery/internal/config"
	"github.com/AlveZs/ifc-code-delivery/internal/ingest"
	"github.com/AlveZs/ifc-code-delivery/internal/logging"
	"github.com/AlveZs/ifc-code-delivery/internal/metrics"
	"github.com/AlveZs/ifc-code-delivery/internal/store"
	"github.com/AlveZs/ifc-code-delivery/internal/tracking"
	"github.com/AlveZs/ifc-code-delivery/internal/version"

	"golang.org/x/sync/errgroup"
)

const httpServerShutdownTimeout = 10 * time.Second

type serverFlags struct {
	ConfigPath string
	Port       int
	Verbose    bool
	Quiet      bool
}

func parseServerFlags(args []string) (serverFlags, *cli.HelpVersionFlags, error) {
	flags := flag.NewFlagSet("trackerd", flag.ContinueOnError)
	parsed := serverFlags{}
	flags.StringVar(&parsed.ConfigPath, "config", os.Getenv("TRACKERD_CONFIG"), "Path to the YAML config file")
	flags.IntVar(&parsed.Port, "port", 0, "Override the configured listen port")
	flags.BoolVar(&parsed.Verbose, "verbose", false, "Log at debug level")
	flags.BoolVar(&parsed.Quiet, "quiet", false, "Log warnings and errors only")
	helpVersion := cli.AddHelpVersionFlags(flags)
	err := flags.Parse(args)
	return parsed, helpVersion, err
}

func versionString() string {
	return version.GetInfo().String()
}

func runServer(args []string) int {
	flags, helpVersion, err := parseServerFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if helpVersion.Help {
		fmt.Fprintln(os.Stdout, "usage: trackerd [serve flags] | trackerd config validate -config <file> | trackerd version")
		return 0
	}
	if helpVersion.Version {
		return runVersion(os.Stdout)
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if flags.Port > 0 {
		cfg.Server.Port = flags.Port
	}
	if cfg.Server.AuthToken == "" {
		cfg.Server.AuthToken = os.Getenv("TRACKERD_TOKEN")
	}

	bufferSize := cfg.Log.BufferSize
	if bufferSize <= 0 {
		bufferSize = logging.DefaultBufferSize
	}
	logLevel := logging.LevelInfo
	if parsed, ok := logging.ParseLevel(cfg.Log.Level); ok {
		logLevel = parsed
	}
	if flags.Verbose {
		logLevel = logging.LevelDebug
	} else if flags.Quiet {
		logLevel = logging.LevelWarning
	}
	logger := logging.NewLogger(logging.NewBuffer(bufferSize), logLevel)
	logger.Info("trackerd starting", map[string]string{
		"version": versionString(),
	})

	routeStore, err := store.Open(store.Options{
		Path:     cfg.Store.Path,
		PoolSize: cfg.Store.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("opening route store failed", map[string]string{
			"error": err.Error(),
		})
		return 1
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Store.SeedPath != "" {
		count, err := routeStore.LoadSeed(rootCtx, cfg.Store.SeedPath)
		if err != nil {
			logger.Warn("loading seed routes failed", map[string]string{
				"path":  cfg.Store.SeedPath,
				"error": err.Error(),
			})
		} else {
			logger.Info("seed routes loaded", map[string]string{
				"path":  cfg.Store.SeedPath,
				"count": strconv.Itoa(count),
			})
		}
	}

	metricsRegistry := &metrics.Registry{}
	registry := tracking.NewRegistry(tracking.RegistryOptions{
		Source:  routeStore,
		Logger:  logger,
		Metrics: metricsRegistry,
	})
	relay := tracking.NewRelay(tracking.RelayOptions{
		Registry:           registry,
		Logger:             logger,
		Metrics:            metricsRegistry,
		ObserverBufferSize: cfg.Relay.ObserverBufferSize,
	})

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Options{
		Store:          routeStore,
		Registry:       registry,
		Relay:          relay,
		Logger:         logger,
		Metrics:        metricsRegistry,
		AuthToken:      cfg.Server.AuthToken,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stopSignals := make(chan os.Signal, 1)
	signal.Notify(stopSignals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stopSignals)
	stopWatching := cancelOnSignal(logger, cancel, stopSignals)
	defer stopWatching()

	group, groupCtx := errgroup.WithContext(rootCtx)

	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Store.WatchSeed && cfg.Store.SeedPath != "" {
		group.Go(func() error {
			return routeStore.WatchSeed(groupCtx, cfg.Store.SeedPath)
		})
	}

	if cfg.Ingest.Kafka.Enabled() {
		consumer := ingest.NewConsumer(ingest.Options{
			Brokers: cfg.Ingest.Kafka.Brokers,
			Topic:   cfg.Ingest.Kafka.Topic,
			GroupID: cfg.Ingest.Kafka.GroupID,
			Relay:   relay,
			Logger:  logger,
			Metrics: metricsRegistry,
		})
		group.Go(func() error {
			return consumer.Run(groupCtx)
		})
		logger.Info("kafka ingress enabled", map[string]string{
			"topic": cfg.Ingest.Kafka.Topic,
		})
	}

	logger.Info("trackerd listening", map[string]string{
		"addr": server.Addr,
	})

	<-groupCtx.Done()

	drain := newTeardown(logger)
	drain.Stage("http listener", server.Shutdown)
	drain.Stage("route store", func(context.Context) error {
		return routeStore.Close()
	})
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), httpServerShutdownTimeout)
	defer cancelDrain()
	if err := drain.Drain(drainCtx); err != nil {
		logger.Warn("shutdown finished with errors", map[string]string{
			"error": err.Error(),
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error("server stopped", map[string]string{
			"error": err.Error(),
		})
		return 1
	}
	return 0
}
