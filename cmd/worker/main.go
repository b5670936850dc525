// Worker consumes bridge events from Kafka and pushes them to Loki.
// Requires KAFKA_BROKERS and LOKI_URL; EVENTS_KAFKA_TOPIC and KAFKA_GROUP_ID have defaults.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"lms-bridge/internal/config"
	"lms-bridge/internal/logging"
	"lms-bridge/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat).WithField("component", "worker")

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}
	sink, err := loki.NewClient(cfg.LokiURL, "lms-bridge")
	if err != nil {
		log.WithError(err).Fatal("LOKI_URL")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.EventsKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{"topic": cfg.EventsKafkaTopic, "group": cfg.KafkaGroupID, "loki": cfg.LokiURL}).
		Info("consuming events")
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("stopped")
				return
			}
			log.WithError(err).Warn("kafka read failed")
			continue
		}
		pushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := sink.PushEventJSON(pushCtx, msg.Value); err != nil {
			log.WithError(err).WithField("offset", msg.Offset).Warn("loki push failed")
		}
		cancel()
	}
}
