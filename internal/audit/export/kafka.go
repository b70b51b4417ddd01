// Package export streams committed audit entries to Kafka for the SIEM
// pipeline. The database remains the source of truth; export is best-effort
// and never blocks or fails the request path.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"captrack/internal/audit"
)

const (
	bufferSize   = 1024
	flushTimeout = 5 * time.Second
)

// producer is the slice of *kgo.Client the exporter drives.
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// KafkaExporter buffers entries in a channel and produces them from a single
// worker goroutine. When the buffer is full the entry is dropped and counted;
// a slow broker must not back-pressure mutations.
type KafkaExporter struct {
	client producer
	admin  *kadm.Client
	topic  string
	buf    chan audit.Entry
	logger *slog.Logger

	exported prometheus.Counter
	dropped  prometheus.Counter
	failed   prometheus.Counter
}

func NewKafkaExporter(brokers []string, topic string, logger *slog.Logger) (*KafkaExporter, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return nil, err
	}

	e := newExporter(client, topic, logger)
	e.admin = kadm.NewClient(client)
	prometheus.MustRegister(e.exported, e.dropped, e.failed)
	return e, nil
}

// newExporter leaves the counters unregistered so tests can build exporters
// without colliding on the default registry.
func newExporter(client producer, topic string, logger *slog.Logger) *KafkaExporter {
	return &KafkaExporter{
		client: client,
		topic:  topic,
		buf:    make(chan audit.Entry, bufferSize),
		logger: logger,
		exported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "captrack_audit_exported_total",
			Help: "Audit entries successfully produced to Kafka",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "captrack_audit_export_dropped_total",
			Help: "Audit entries dropped because the export buffer was full",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "captrack_audit_export_failed_total",
			Help: "Audit entries that failed to produce after buffering",
		}),
	}
}

// EnsureTopic creates the audit topic if it does not exist yet.
func (e *KafkaExporter) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	resp, err := e.admin.CreateTopics(ctx, partitions, replication, nil, e.topic)
	if err != nil {
		return err
	}
	for _, res := range resp {
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			return res.Err
		}
	}
	return nil
}

// Export enqueues one entry without blocking.
func (e *KafkaExporter) Export(entry audit.Entry) {
	select {
	case e.buf <- entry:
	default:
		e.dropped.Inc()
	}
}

// Run produces buffered entries until the context ends, then drains what is
// left within the flush timeout.
func (e *KafkaExporter) Run(ctx context.Context) error {
	for {
		select {
		case entry := <-e.buf:
			e.produce(ctx, entry)
		case <-ctx.Done():
			e.drain()
			e.client.Close()
			return ctx.Err()
		}
	}
}

func (e *KafkaExporter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case entry := <-e.buf:
			e.produce(ctx, entry)
		default:
			if err := e.client.Flush(ctx); err != nil {
				e.logger.Error("audit export flush failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (e *KafkaExporter) produce(ctx context.Context, entry audit.Entry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		e.failed.Inc()
		e.logger.Error("marshal audit entry for export failed",
			slog.String("entry_id", entry.ID.String()),
			slog.String("error", err.Error()))
		return
	}

	record := &kgo.Record{
		// Key by record id so one record's history stays in one partition.
		Key:   []byte(entry.RecordID.String()),
		Value: payload,
	}
	e.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			e.failed.Inc()
			e.logger.Error("produce audit entry failed",
				slog.String("entry_id", entry.ID.String()),
				slog.String("error", err.Error()))
			return
		}
		e.exported.Inc()
	})
}
