package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/northshop/platform/internal/domain"
	"github.com/northshop/platform/internal/storage/postgres"
)

const (
	defaultScanLimit = 100
	defaultTimeout   = 30 * time.Second
)

type config struct {
	dsn       string
	limit     int
	execute   bool
	id        string
	eventType string
}

type replayStats struct {
	scanned  int
	requeued int
	skipped  int
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, cfg.dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	stats, err := run(ctx, cfg, postgres.NewOutboxRepository(store))
	if err != nil {
		fail("outbox reprocess failed: %v", err)
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  stats.scanned,
		"requeued": stats.requeued,
		"skipped":  stats.skipped,
	}).Info("outbox reprocess finished")
}

func readConfig() (config, error) {
	var cfg config

	flag.StringVar(&cfg.dsn, "dsn", "", "PostgreSQL DSN (fallback: PLATFORM_STORAGE_POSTGRES_DSN)")
	flag.IntVar(&cfg.limit, "limit", defaultScanLimit, "max number of FAILED rows to scan")
	flag.BoolVar(&cfg.execute, "execute", false, "requeue matched rows; default is dry-run")
	flag.StringVar(&cfg.id, "id", "", "requeue a single outbox row by id")
	flag.StringVar(&cfg.eventType, "event-type", "", "only requeue rows with this event type")
	flag.Parse()

	if strings.TrimSpace(cfg.dsn) == "" {
		cfg.dsn = strings.TrimSpace(os.Getenv("PLATFORM_STORAGE_POSTGRES_DSN"))
	}
	if cfg.dsn == "" {
		return config{}, fmt.Errorf("PLATFORM_STORAGE_POSTGRES_DSN (or -dsn) is required")
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}

	return cfg, nil
}

// run возвращает FAILED-строки outbox в PENDING, чтобы диспетчер доставил
// их заново со свежим retry-бюджетом. Без -execute только перечисляет
// кандидатов.
func run(ctx context.Context, cfg config, repo domain.OutboxRepository) (replayStats, error) {
	var stats replayStats

	if cfg.id != "" {
		return requeueOne(cfg, repo)
	}

	failed, err := repo.ListFailed(cfg.limit)
	if err != nil {
		return stats, fmt.Errorf("list failed outbox rows: %w", err)
	}
	if len(failed) == 0 {
		log.Info("no FAILED outbox rows found")
		return stats, nil
	}

	for _, event := range failed {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		stats.scanned++
		if cfg.eventType != "" && string(event.EventType) != cfg.eventType {
			stats.skipped++
			continue
		}

		fields := log.Fields{
			"outbox_id":    event.ID,
			"event_type":   event.EventType,
			"aggregate_id": event.AggregateID,
			"retry_count":  event.RetryCount,
			"last_error":   event.LastError,
		}

		if !cfg.execute {
			log.WithFields(fields).Info("requeue candidate")
			stats.requeued++
			continue
		}

		if err := repo.Requeue(event.ID); err != nil {
			return stats, fmt.Errorf("requeue outbox row %s: %w", event.ID, err)
		}
		log.WithFields(fields).Info("outbox row requeued")
		stats.requeued++
	}

	return stats, nil
}

func requeueOne(cfg config, repo domain.OutboxRepository) (replayStats, error) {
	var stats replayStats

	event, err := repo.Get(cfg.id)
	if err != nil {
		return stats, fmt.Errorf("get outbox row %s: %w", cfg.id, err)
	}
	stats.scanned++

	if event.Status != domain.OutboxStatusFailed {
		stats.skipped++
		return stats, fmt.Errorf("outbox row %s is %s, only FAILED rows can be requeued", event.ID, event.Status)
	}

	fields := log.Fields{
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
		"retry_count":  event.RetryCount,
		"last_error":   event.LastError,
	}

	if !cfg.execute {
		log.WithFields(fields).Info("requeue candidate")
		stats.requeued++
		return stats, nil
	}

	if err := repo.Requeue(event.ID); err != nil {
		return stats, fmt.Errorf("requeue outbox row %s: %w", event.ID, err)
	}
	log.WithFields(fields).Info("outbox row requeued")
	stats.requeued++
	return stats, nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
