package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"

	"github.com/davidarico/dungeon-crawler-chris-sub000/internal/consts"
	"github.com/davidarico/dungeon-crawler-chris-sub000/storage"
)

// storage-init installs the change notification function and row triggers.
// It is safe to run on every deploy.
func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("missing DATABASE_URL")
	}
	channel := os.Getenv("NOTIFY_CHANNEL")
	if channel == "" {
		channel = consts.DefaultNotifyChannel
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer conn.Close(context.Background())

	if err := storage.InstallTriggers(ctx, conn, log.StandardLogger(), channel, storage.DefaultTriggerTables); err != nil {
		log.Fatalf("install triggers: %v", err)
	}
	log.Info("storage init complete")
}
