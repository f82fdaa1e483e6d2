// Worker consumes audit events from Kafka and writes them as structured log lines.
// Set KAFKA_BROKERS, AUDIT_KAFKA_TOPIC and AUDIT_KAFKA_GROUP_ID.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/config"
	"verivault/core/internal/logger"
)

var errMissingFields = errors.New("audit event is missing event_type or owner_id")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	topic := cfg.AuditKafkaTopic
	if topic == "" {
		topic = "verivault-audit"
	}
	groupID := cfg.AuditKafkaGroupID
	if groupID == "" {
		groupID = "verivault-audit-worker"
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info("worker: shutting down")
		cancel()
	}()

	log.Info("worker: consuming audit events", zap.String("topic", topic), zap.String("group", groupID))

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker: stopped")
				return
			}
			log.Warn("worker: kafka read error", zap.Error(err))
			continue
		}
		entry, err := decodeEntry(msg.Value)
		if err != nil {
			log.Warn("worker: dropping malformed audit event",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			continue
		}
		log.Info("audit", entryFields(entry)...)
	}
}

func decodeEntry(b []byte) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return domain.AuditEntry{}, err
	}
	if e.EventType == "" || e.OwnerID == "" {
		return domain.AuditEntry{}, errMissingFields
	}
	return e, nil
}

func entryFields(e domain.AuditEntry) []zap.Field {
	fields := []zap.Field{
		zap.String("audit_id", e.ID),
		zap.String("event_type", e.EventType),
		zap.String("owner_id", e.OwnerID),
		zap.Bool("success", e.Success),
		zap.Time("created_at", e.CreatedAt),
	}
	if e.DeviceID != "" {
		fields = append(fields, zap.String("device_id", e.DeviceID))
	}
	if e.Detail != "" {
		fields = append(fields, zap.String("detail", e.Detail))
	}
	return fields
}
