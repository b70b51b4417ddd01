package export

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"captrack/internal/audit"
	"captrack/pkg/domain"
)

type fakeProducer struct {
	mu         sync.Mutex
	records    []*kgo.Record
	produceErr error
	flushed    bool
	closed     bool
}

func (f *fakeProducer) Produce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	f.mu.Lock()
	f.records = append(f.records, r)
	f.mu.Unlock()
	promise(r, f.produceErr)
}

func (f *fakeProducer) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed = true
	return nil
}

func (f *fakeProducer) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeProducer) produced() []*kgo.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*kgo.Record(nil), f.records...)
}

func exportedEntry() audit.Entry {
	return audit.Entry{
		ID:         domain.NewAuditID(),
		ActorID:    domain.NewUserID(),
		Action:     audit.ActionUpdate,
		Outcome:    audit.OutcomeAllow,
		RecordType: domain.TypeAsset,
		RecordID:   domain.NewRecordID(),
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestExporter() (*KafkaExporter, *fakeProducer) {
	client := &fakeProducer{}
	return newExporter(client, "captrack.audit", slog.New(slog.NewTextHandler(io.Discard, nil))), client
}

// Export must return immediately whether or not the worker is draining the
// buffer; a full buffer drops the entry and counts it instead of blocking the
// mutation that produced it.
func TestExportNeverBlocks(t *testing.T) {
	e, _ := newTestExporter()

	for i := 0; i < bufferSize; i++ {
		e.Export(exportedEntry())
	}
	assert.Zero(t, testutil.ToFloat64(e.dropped), "buffered entries are not drops")

	done := make(chan struct{})
	go func() {
		e.Export(exportedEntry())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Export blocked on a full buffer")
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(e.dropped))
}

func TestRunDrainsOnCancel(t *testing.T) {
	e, client := newTestExporter()

	entries := []audit.Entry{exportedEntry(), exportedEntry(), exportedEntry()}
	for _, entry := range entries {
		e.Export(entry)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	records := client.produced()
	require.Len(t, records, len(entries), "buffered entries are flushed before shutdown")
	assert.True(t, client.flushed)
	assert.True(t, client.closed)
	assert.Equal(t, float64(len(entries)), testutil.ToFloat64(e.exported))

	t.Run("keyed by record id with the entry as payload", func(t *testing.T) {
		var got audit.Entry
		require.NoError(t, json.Unmarshal(records[0].Value, &got))
		assert.Equal(t, string(records[0].Key), got.RecordID.String())
	})
}

func TestProduceFailureCountsWithoutError(t *testing.T) {
	e, client := newTestExporter()
	client.produceErr = context.DeadlineExceeded

	e.Export(exportedEntry())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, float64(1), testutil.ToFloat64(e.failed))
	assert.Zero(t, testutil.ToFloat64(e.exported))
}
