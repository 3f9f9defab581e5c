package trace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// recordingStore collects upserted records for writer assertions.
type recordingStore struct {
	mu       sync.Mutex
	traces   []*Trace
	spans    []*Span
	batches  int
	upsertFn func(record Record) error
}

func (s *recordingStore) UpsertTrace(_ context.Context, trace *Trace) error {
	if s.upsertFn != nil {
		if err := s.upsertFn(Record{Trace: trace}); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces = append(s.traces, trace)
	return nil
}

func (s *recordingStore) UpsertSpan(_ context.Context, span *Span) error {
	if s.upsertFn != nil {
		if err := s.upsertFn(Record{Span: span}); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spans = append(s.spans, span)
	return nil
}

func (s *recordingStore) UpsertBatch(ctx context.Context, records []Record) error {
	s.mu.Lock()
	s.batches++
	s.mu.Unlock()
	for _, record := range records {
		if record.Trace != nil {
			if err := s.UpsertTrace(ctx, record.Trace); err != nil {
				return err
			}
		}
		if record.Span != nil {
			if err := s.UpsertSpan(ctx, record.Span); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *recordingStore) GetTrace(context.Context, string) (*Trace, error) {
	return nil, ErrNotFound
}

func (s *recordingStore) ListTraces(context.Context, TraceFilter) (*TraceList, error) {
	return &TraceList{}, nil
}

func (s *recordingStore) ListSpans(context.Context, string) ([]*Span, error) {
	return nil, nil
}

func (s *recordingStore) GetMetrics(context.Context) (*StoreMetrics, error) {
	return &StoreMetrics{}, nil
}

func (s *recordingStore) ExportAll(context.Context) ([]*TraceExport, error) {
	return nil, nil
}

func (s *recordingStore) DeleteAll(context.Context) (int64, error) {
	return 0, nil
}

func (s *recordingStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.traces), len(s.spans)
}

func TestWriterFlushesEnqueuedRecords(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	writer := NewWriter(store, 16)
	writer.Start(context.Background())

	if !writer.EnqueueTrace(&Trace{ID: "trace_1"}) {
		t.Fatal("EnqueueTrace() returned false")
	}
	if !writer.EnqueueSpan(&Span{ID: "span_1", TraceID: "trace_1"}) {
		t.Fatal("EnqueueSpan() returned false")
	}

	if err := writer.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	traces, spans := store.counts()
	if traces != 1 || spans != 1 {
		t.Fatalf("persisted traces=%d spans=%d, want 1/1", traces, spans)
	}
}

func TestWriterDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	// Never started, so nothing drains the queue.
	writer := NewWriter(store, 2)

	accepted := 0
	for i := 0; i < 5; i++ {
		if writer.EnqueueTrace(&Trace{ID: fmt.Sprintf("trace_%d", i)}) {
			accepted++
		}
	}
	if accepted != 2 {
		t.Fatalf("accepted=%d, want 2", accepted)
	}

	diagnostics := writer.PipelineDiagnostics()
	if diagnostics.EnqueueAcceptedTotal != 2 || diagnostics.EnqueueDroppedTotal != 3 {
		t.Fatalf("diagnostics accepted=%d dropped=%d, want 2/3",
			diagnostics.EnqueueAcceptedTotal, diagnostics.EnqueueDroppedTotal)
	}
	if diagnostics.QueuePressureState != QueuePressureSaturated {
		t.Fatalf("pressure=%q, want %q", diagnostics.QueuePressureState, QueuePressureSaturated)
	}
	if diagnostics.LastEnqueueDropAt == nil {
		t.Fatal("LastEnqueueDropAt not recorded")
	}
}

func TestWriterEnqueueAfterShutdownReturnsFalse(t *testing.T) {
	t.Parallel()

	writer := NewWriter(&recordingStore{}, 4)
	writer.Start(context.Background())
	if err := writer.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	if writer.EnqueueTrace(&Trace{ID: "trace_late"}) {
		t.Fatal("EnqueueTrace() accepted a record after shutdown")
	}
}

func TestWriterShutdownFlushesPendingQueue(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	writer := NewWriter(store, 128)

	for i := 0; i < 40; i++ {
		if !writer.EnqueueTrace(&Trace{ID: fmt.Sprintf("trace_%d", i)}) {
			t.Fatalf("EnqueueTrace(%d) returned false", i)
		}
	}

	// Start after enqueueing so shutdown has a backlog to drain.
	writer.Start(context.Background())
	if err := writer.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	traces, _ := store.counts()
	if traces != 40 {
		t.Fatalf("persisted traces=%d, want 40", traces)
	}
}

func TestWriterShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	writer := NewWriter(&recordingStore{}, 4)
	writer.Start(context.Background())
	if err := writer.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown() error: %v", err)
	}
	if err := writer.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
	writer.Stop()
}

func TestWriterReportsWriteFailuresWithClass(t *testing.T) {
	t.Parallel()

	store := &recordingStore{
		upsertFn: func(record Record) error {
			if record.Trace != nil && record.Trace.ID == "trace_bad" {
				return fmt.Errorf("upsert: %w", ErrStoreUnavailable)
			}
			return nil
		},
	}
	writer := NewWriter(store, 16)

	failures := make(chan WriteFailure, 4)
	writer.SetWriteFailureHandler(func(failure WriteFailure) {
		failures <- failure
	})

	writer.Start(context.Background())
	writer.EnqueueTrace(&Trace{ID: "trace_ok"})
	writer.EnqueueTrace(&Trace{ID: "trace_bad"})
	if err := writer.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	select {
	case failure := <-failures:
		if failure.FailedCount == 0 {
			t.Fatalf("failure=%+v, want FailedCount > 0", failure)
		}
		if failure.ErrorClass != WriteErrorClassStorage {
			t.Fatalf("error_class=%q, want %q", failure.ErrorClass, WriteErrorClassStorage)
		}
	default:
		t.Fatal("no write failure reported")
	}

	diagnostics := writer.PipelineDiagnostics()
	if diagnostics.WriteDroppedTotal == 0 {
		t.Fatal("WriteDroppedTotal not incremented")
	}
	if diagnostics.WriteFailuresByClass[WriteErrorClassStorage] == 0 {
		t.Fatalf("failures by class=%v, want storage entry", diagnostics.WriteFailuresByClass)
	}
}

func TestWriterMetricsCallbacks(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	writer := NewWriter(store, 2)

	var mu sync.Mutex
	enqueues, drops, flushes := 0, 0, 0
	writer.SetMetrics(&WriterMetrics{
		OnEnqueue: func() {
			mu.Lock()
			enqueues++
			mu.Unlock()
		},
		OnDrop: func() {
			mu.Lock()
			drops++
			mu.Unlock()
		},
		OnFlush: func(batchSize int, duration time.Duration) {
			mu.Lock()
			flushes++
			mu.Unlock()
		},
	})

	for i := 0; i < 4; i++ {
		writer.EnqueueTrace(&Trace{ID: fmt.Sprintf("trace_%d", i)})
	}
	writer.Start(context.Background())
	if err := writer.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if enqueues != 2 || drops != 2 {
		t.Fatalf("enqueues=%d drops=%d, want 2/2", enqueues, drops)
	}
	if flushes == 0 {
		t.Fatal("OnFlush never called")
	}
}

func TestWriterQueuePressureStates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		utilization int
		want        string
	}{
		{0, QueuePressureOK},
		{49, QueuePressureOK},
		{50, QueuePressureElevated},
		{79, QueuePressureElevated},
		{80, QueuePressureHigh},
		{99, QueuePressureHigh},
		{100, QueuePressureSaturated},
	}
	for _, tt := range tests {
		if got := queuePressureState(tt.utilization); got != tt.want {
			t.Fatalf("queuePressureState(%d)=%q, want %q", tt.utilization, got, tt.want)
		}
	}
}

func TestClassifyWriteError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: WriteErrorClassUnknown},
		{name: "validation sentinel", err: fmt.Errorf("wrap: %w", ErrInvalidEvent), want: WriteErrorClassValidation},
		{name: "deadline", err: context.DeadlineExceeded, want: WriteErrorClassTimeout},
		{name: "canceled", err: context.Canceled, want: WriteErrorClassTimeout},
		{name: "store unavailable", err: ErrStoreUnavailable, want: WriteErrorClassStorage},
		{name: "busy string", err: errors.New("SQLITE_BUSY: database is locked"), want: WriteErrorClassContention},
		{name: "constraint string", err: errors.New("UNIQUE constraint failed: traces.trace_id"), want: WriteErrorClassConstraint},
		{name: "disk io string", err: errors.New("disk I/O error"), want: WriteErrorClassStorage},
		{name: "missing table string", err: errors.New("no such table: spans"), want: WriteErrorClassStorage},
		{name: "timeout string", err: errors.New("query timeout expired"), want: WriteErrorClassTimeout},
		{name: "something else", err: errors.New("boom"), want: WriteErrorClassUnknown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ClassifyWriteError(tt.err); got != tt.want {
				t.Fatalf("ClassifyWriteError(%v)=%q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
