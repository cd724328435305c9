package main

import (
	"context"
	"flag"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"go-subband-ingest/internal/aggregator"
	"go-subband-ingest/internal/api"
	"go-subband-ingest/internal/convert"
	"go-subband-ingest/internal/dispatch"
	"go-subband-ingest/internal/model"
	"go-subband-ingest/internal/monitor"
	"go-subband-ingest/internal/recovery"
	"go-subband-ingest/internal/store"
	"go-subband-ingest/internal/watcher"
	"go-subband-ingest/pkg/router"
	"go-subband-ingest/pkg/utils"
)

// @title Subband Ingest API
// @version 1.0
// @description Operator API for the subband file ingestion and conversion queue
// @host localhost:8080
// @BasePath /api/v1
func main() {
	configPath := flag.String("config", "", "path to config file (yaml/json/toml)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("cannot load config")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if err := utils.EnsureDir(cfg.InputDir); err != nil {
		log.WithError(err).Fatal("cannot create input directory")
	}
	if err := utils.EnsureDir(cfg.OutputDir); err != nil {
		log.WithError(err).Fatal("cannot create output directory")
	}

	st, err := store.Open(cfg.QueueDB, log)
	if err != nil {
		log.WithError(err).Fatal("cannot open queue database")
	}
	defer st.Close()

	parser := watcher.NewParser(cfg.FileExt, cfg.BucketWindow, cfg.ExpectedCount)

	// Reconcile the queue with reality before anything starts moving.
	if err := recovery.New(st, parser, cfg, log).Run(); err != nil {
		log.WithError(err).Fatal("crash recovery failed")
	}

	agg := aggregator.New(st, cfg, log)
	wtc := watcher.New(cfg.InputDir, parser, agg, cfg.PollInterval, log)
	mon := monitor.New(agg, st, cfg, log)
	pool := dispatch.New(st, convert.Command{Tool: cfg.ConvertTool}, cfg, log)

	r := router.New(log)
	api.RegisterRoutes(r, st)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"input":    cfg.InputDir,
		"output":   cfg.OutputDir,
		"expected": cfg.ExpectedCount,
		"workers":  cfg.Workers,
	}).Info("🚀 subband ingest starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return agg.Run(ctx) })
	g.Go(func() error { return wtc.Run(ctx) })
	g.Go(func() error { return mon.Run(ctx) })
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return r.Start(ctx, cfg.HTTPAddr) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.WithError(err).Fatal("daemon exited")
	}
	log.Info("shut down cleanly")
}

func loadConfig(path string) (model.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SUBBAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return model.Config{}, err
		}
	}

	var cfg model.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return model.Config{}, err
	}
	cfg.Normalize()
	return cfg, cfg.Validate()
}
