// migrate applies the embedded SQL migrations: go run ./cmd/migrate -direction up|down.
package main

import (
	"flag"

	"github.com/sirupsen/logrus"

	"lms-bridge/internal/config"
	"lms-bridge/internal/db/migrate"
	"lms-bridge/internal/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	dir, err := migrate.ParseDirection(*direction)
	if err != nil {
		log.WithError(err).Fatal("migrate")
	}
	version, err := migrate.Run(cfg.DatabaseURL, dir)
	if err != nil {
		log.WithError(err).Fatal("migrate")
	}
	log.WithFields(logrus.Fields{"direction": dir, "version": version}).Info("migrations applied")
}
