package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/noah-isme/kidcare-enrollment-api/pkg/config"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/database"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/logger"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/migrations"
)

func main() {
	command := flag.String("cmd", "up", "migration command: up, down or version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	switch *command {
	case "up":
		err = migrations.Up(ctx, db.DB)
	case "down":
		err = migrations.Down(ctx, db.DB)
	case "version":
		var version int64
		version, err = migrations.Version(ctx, db.DB)
		if err == nil {
			logr.Info("schema version", zap.Int64("version", version))
		}
	default:
		logr.Fatal("unknown migration command", zap.String("cmd", *command))
	}
	if err != nil {
		logr.Fatal("migration failed", zap.String("cmd", *command), zap.Error(err))
	}
	logr.Info("migration finished", zap.String("cmd", *command))
}
