package trace

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/123zcr/traceboard/migrations"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	Path string
	db   *sql.DB
	// SQLite allows only one writer at a time; serialize writes to avoid
	// SQLITE_BUSY contention when callers invoke the upsert methods
	// concurrently. Readers are not serialized; WAL lets them proceed
	// while a write is in flight.
	writeMu sync.Mutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path cannot be empty", ErrStoreUnavailable)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create sqlite directory %q: %v", ErrStoreUnavailable, dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite database %q: %v", ErrStoreUnavailable, path, err)
	}

	store := &SQLiteStore{
		Path: path,
		db:   db,
	}

	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const upsertTraceSQL = `
INSERT INTO traces (
    trace_id,
    name,
    group_id,
    started_at,
    ended_at,
    status,
    metadata
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(trace_id) DO UPDATE SET
    name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE traces.name END,
    group_id = CASE WHEN excluded.group_id <> '' THEN excluded.group_id ELSE traces.group_id END,
    started_at = COALESCE(traces.started_at, excluded.started_at),
    ended_at = COALESCE(excluded.ended_at, traces.ended_at),
    status = CASE
        WHEN traces.status IN ('completed', 'errored') THEN traces.status
        ELSE excluded.status
    END,
    metadata = CASE WHEN excluded.metadata NOT IN ('', '{}') THEN excluded.metadata ELSE traces.metadata END`

const upsertSpanSQL = `
INSERT INTO spans (
    trace_id,
    span_id,
    parent_id,
    span_type,
    name,
    started_at,
    ended_at,
    input,
    output,
    error,
    model,
    input_tokens,
    output_tokens
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(trace_id, span_id) DO UPDATE SET
    parent_id = CASE WHEN excluded.parent_id <> '' THEN excluded.parent_id ELSE spans.parent_id END,
    span_type = CASE WHEN excluded.span_type <> 'custom' THEN excluded.span_type ELSE spans.span_type END,
    name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE spans.name END,
    started_at = COALESCE(spans.started_at, excluded.started_at),
    ended_at = COALESCE(excluded.ended_at, spans.ended_at),
    input = CASE WHEN excluded.input <> '' THEN excluded.input ELSE spans.input END,
    output = CASE WHEN excluded.output <> '' THEN excluded.output ELSE spans.output END,
    error = CASE WHEN excluded.error <> '' THEN excluded.error ELSE spans.error END,
    model = CASE WHEN excluded.model <> '' THEN excluded.model ELSE spans.model END,
    input_tokens = CASE WHEN excluded.input_tokens > 0 THEN excluded.input_tokens ELSE spans.input_tokens END,
    output_tokens = CASE WHEN excluded.output_tokens > 0 THEN excluded.output_tokens ELSE spans.output_tokens END`

func (s *SQLiteStore) UpsertTrace(ctx context.Context, trace *Trace) error {
	if trace == nil {
		return nil
	}
	if err := ValidateTrace(trace); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	row := normalizeTrace(trace)
	err := retrySQLiteBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, upsertTraceSQL, traceUpsertArgs(row)...)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert trace %q: %w", row.ID, err)
	}

	return nil
}

func (s *SQLiteStore) UpsertSpan(ctx context.Context, span *Span) error {
	if span == nil {
		return nil
	}
	if err := ValidateSpan(span); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	row := normalizeSpan(span)
	err := retrySQLiteBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, upsertSpanSQL, spanUpsertArgs(row)...)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert span %q: %w", row.ID, err)
	}

	return nil
}

func (s *SQLiteStore) UpsertBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	// Reject the whole batch up front; a batch must never half-apply
	// because one event is malformed.
	for _, record := range records {
		if record.Trace != nil {
			if err := ValidateTrace(record.Trace); err != nil {
				return err
			}
		}
		if record.Span != nil {
			if err := ValidateSpan(record.Span); err != nil {
				return err
			}
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := retrySQLiteBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin sqlite batch transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		traceStmt, err := tx.PrepareContext(ctx, upsertTraceSQL)
		if err != nil {
			return fmt.Errorf("prepare sqlite trace upsert: %w", err)
		}
		defer traceStmt.Close()

		spanStmt, err := tx.PrepareContext(ctx, upsertSpanSQL)
		if err != nil {
			return fmt.Errorf("prepare sqlite span upsert: %w", err)
		}
		defer spanStmt.Close()

		for _, record := range records {
			if record.Trace != nil {
				row := normalizeTrace(record.Trace)
				if _, err := traceStmt.ExecContext(ctx, traceUpsertArgs(row)...); err != nil {
					return fmt.Errorf("upsert trace %q in batch: %w", row.ID, err)
				}
			}
			if record.Span != nil {
				row := normalizeSpan(record.Span)
				if _, err := spanStmt.ExecContext(ctx, spanUpsertArgs(row)...); err != nil {
					return fmt.Errorf("upsert span %q in batch: %w", row.ID, err)
				}
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit sqlite batch transaction: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

func traceUpsertArgs(row *Trace) []any {
	return []any{
		row.ID,
		row.Name,
		row.GroupID,
		sqliteTime(row.StartedAt),
		sqliteTime(row.EndedAt),
		row.Status,
		row.Metadata,
	}
}

func spanUpsertArgs(row *Span) []any {
	return []any{
		row.TraceID,
		row.ID,
		row.ParentID,
		row.Type,
		row.Name,
		sqliteTime(row.StartedAt),
		sqliteTime(row.EndedAt),
		row.Input,
		row.Output,
		row.Error,
		row.Model,
		row.InputTokens,
		row.OutputTokens,
	}
}

// sqliteTimeLayout is the storage format for timestamps. It must stay
// parseable by SQLite's date functions (julianday in the duration
// aggregate) as well as by parseSQLiteTimestamp on the read path.
const sqliteTimeLayout = "2006-01-02 15:04:05.999999999"

// sqliteTime maps the zero time to NULL so merge COALESCEs can tell
// "not observed yet" apart from a real timestamp. Non-zero times are
// bound as ISO-8601 text rather than time.Time: the driver would store
// a time.Time in Go's String() format, which julianday() cannot read.
func sqliteTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(sqliteTimeLayout)
}

const (
	sqliteBusyMaxRetries     = 12
	sqliteBusyInitialBackoff = 5 * time.Millisecond
	sqliteBusyMaxBackoff     = 250 * time.Millisecond
)

// retrySQLiteBusy retries transient lock contention so queued events are not
// dropped while another process holds the write lock on the shared file.
func retrySQLiteBusy(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		err   error
		timer *time.Timer
	)
	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	defer stopTimer()

	for retries := 0; ; retries++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusyError(err) || retries >= sqliteBusyMaxRetries {
			return err
		}

		wait := sqliteBusyInitialBackoff << retries
		if wait > sqliteBusyMaxBackoff {
			wait = sqliteBusyMaxBackoff
		}

		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			stopTimer()
			timer.Reset(wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "sqlite_busy") || strings.Contains(value, "database is locked")
}

const traceSelectColumns = `
trace_id,
name,
group_id,
CAST(started_at AS TEXT),
CAST(ended_at AS TEXT),
status,
metadata
`

const spanSelectColumns = `
span_id,
trace_id,
parent_id,
span_type,
name,
CAST(started_at AS TEXT),
CAST(ended_at AS TEXT),
input,
output,
error,
model,
input_tokens,
output_tokens
`

func (s *SQLiteStore) GetTrace(ctx context.Context, id string) (*Trace, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+traceSelectColumns+" FROM traces WHERE trace_id = ? LIMIT 1", id)
	traceRow, err := scanTraceRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trace %q: %w", id, err)
	}
	return traceRow, nil
}

func (s *SQLiteStore) ListTraces(ctx context.Context, filter TraceFilter) (*TraceList, error) {
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	whereSQL, args := buildTraceWhere(filter)

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM traces t WHERE "+whereSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count traces: %w", err)
	}

	query := `
SELECT
	t.trace_id,
	t.name,
	t.group_id,
	CAST(t.started_at AS TEXT),
	CAST(t.ended_at AS TEXT),
	t.status,
	t.metadata,
	COUNT(s.span_id),
	COALESCE(SUM(s.input_tokens + s.output_tokens), 0)
FROM traces t
LEFT JOIN spans s ON s.trace_id = t.trace_id
WHERE ` + whereSQL + `
GROUP BY t.trace_id
ORDER BY t.started_at DESC, t.trace_id DESC
LIMIT ? OFFSET ?`

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	items := make([]*TraceSummary, 0, pageSize)
	for rows.Next() {
		item, err := scanTraceSummaryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trace list row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace list rows: %w", err)
	}

	return &TraceList{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func (s *SQLiteStore) ListSpans(ctx context.Context, traceID string) ([]*Span, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+spanSelectColumns+" FROM spans WHERE trace_id = ? ORDER BY started_at ASC, span_id ASC", traceID)
	if err != nil {
		return nil, fmt.Errorf("list spans for trace %q: %w", traceID, err)
	}
	defer rows.Close()

	spans := make([]*Span, 0)
	for rows.Next() {
		span, err := scanSpanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan span row: %w", err)
		}
		spans = append(spans, span)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate span rows: %w", err)
	}

	return spans, nil
}

func (s *SQLiteStore) GetMetrics(ctx context.Context) (*StoreMetrics, error) {
	metrics := &StoreMetrics{
		ByStatus: make(map[string]int64),
	}

	// All aggregates read from one transaction so the snapshot is
	// consistent: a batch committed between two counts must not show
	// its spans without its traces.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin metrics snapshot: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM traces").Scan(&metrics.TotalTraces); err != nil {
		return nil, fmt.Errorf("count traces: %w", err)
	}
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(input_tokens + output_tokens), 0) FROM spans").Scan(&metrics.TotalSpans, &metrics.TotalTokens); err != nil {
		return nil, fmt.Errorf("count spans: %w", err)
	}

	// Average duration over ended traces only; in-flight traces would
	// otherwise drag the mean toward zero.
	avgRow := tx.QueryRowContext(ctx, `
SELECT COALESCE(AVG((julianday(ended_at) - julianday(started_at)) * 86400000.0), 0)
FROM traces
WHERE started_at IS NOT NULL AND ended_at IS NOT NULL`)
	if err := avgRow.Scan(&metrics.AvgDurationMS); err != nil {
		return nil, fmt.Errorf("average trace duration: %w", err)
	}

	statusRows, err := tx.QueryContext(ctx, "SELECT status, COUNT(*) FROM traces GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count traces by status: %w", err)
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var (
			status string
			count  int64
		)
		if err := statusRows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count row: %w", err)
		}
		metrics.ByStatus[status] = count
	}
	if err := statusRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status count rows: %w", err)
	}
	metrics.ErrorCount = metrics.ByStatus[StatusErrored]

	usageRows, err := tx.QueryContext(ctx, `
SELECT model, COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
FROM spans
WHERE span_type = ? AND model <> ''
GROUP BY model
ORDER BY model ASC`, SpanTypeGeneration)
	if err != nil {
		return nil, fmt.Errorf("query model usage: %w", err)
	}
	defer usageRows.Close()
	for usageRows.Next() {
		var usage ModelUsage
		if err := usageRows.Scan(&usage.Model, &usage.InputTokens, &usage.OutputTokens); err != nil {
			return nil, fmt.Errorf("scan model usage row: %w", err)
		}
		metrics.Usage = append(metrics.Usage, usage)
	}
	if err := usageRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model usage rows: %w", err)
	}

	return metrics, nil
}

func (s *SQLiteStore) ExportAll(ctx context.Context) ([]*TraceExport, error) {
	traceRows, err := s.db.QueryContext(ctx, "SELECT "+traceSelectColumns+" FROM traces ORDER BY started_at DESC, trace_id DESC")
	if err != nil {
		return nil, fmt.Errorf("export traces: %w", err)
	}
	defer traceRows.Close()

	exports := make([]*TraceExport, 0)
	byID := make(map[string]*TraceExport)
	for traceRows.Next() {
		traceRow, err := scanTraceRow(traceRows)
		if err != nil {
			return nil, fmt.Errorf("scan export trace row: %w", err)
		}
		export := &TraceExport{Trace: traceRow, Spans: make([]*Span, 0)}
		exports = append(exports, export)
		byID[traceRow.ID] = export
	}
	if err := traceRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export trace rows: %w", err)
	}

	spanRows, err := s.db.QueryContext(ctx, "SELECT "+spanSelectColumns+" FROM spans ORDER BY trace_id ASC, started_at ASC, span_id ASC")
	if err != nil {
		return nil, fmt.Errorf("export spans: %w", err)
	}
	defer spanRows.Close()
	for spanRows.Next() {
		span, err := scanSpanRow(spanRows)
		if err != nil {
			return nil, fmt.Errorf("scan export span row: %w", err)
		}
		if export, ok := byID[span.TraceID]; ok {
			export.Spans = append(export.Spans, span)
		}
	}
	if err := spanRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export span rows: %w", err)
	}

	return exports, nil
}

func (s *SQLiteStore) DeleteAll(ctx context.Context) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var deleted int64
	err := retrySQLiteBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin sqlite delete transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		if _, err := tx.ExecContext(ctx, "DELETE FROM spans"); err != nil {
			return fmt.Errorf("delete spans: %w", err)
		}
		result, err := tx.ExecContext(ctx, "DELETE FROM traces")
		if err != nil {
			return fmt.Errorf("delete traces: %w", err)
		}
		deleted, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("count deleted traces: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit sqlite delete transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func buildTraceWhere(filter TraceFilter) (string, []any) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 2)

	if filter.Status != "" {
		where = append(where, "t.status = ?")
		args = append(args, filter.Status)
	}
	if filter.Name != "" {
		where = append(where, "t.name LIKE ?")
		args = append(args, "%"+filter.Name+"%")
	}

	if len(where) == 0 {
		return "1=1", args
	}
	return strings.Join(where, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTraceRow(scanner rowScanner) (*Trace, error) {
	var (
		item          Trace
		name          sql.NullString
		groupID       sql.NullString
		startedAtText sql.NullString
		endedAtText   sql.NullString
		metadata      sql.NullString
	)

	if err := scanner.Scan(
		&item.ID,
		&name,
		&groupID,
		&startedAtText,
		&endedAtText,
		&item.Status,
		&metadata,
	); err != nil {
		return nil, err
	}

	if name.Valid {
		item.Name = name.String
	}
	if groupID.Valid {
		item.GroupID = groupID.String
	}
	if metadata.Valid {
		item.Metadata = metadata.String
	}

	if startedAtText.Valid {
		parsed, err := parseSQLiteTimestamp(startedAtText.String)
		if err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", startedAtText.String, err)
		}
		item.StartedAt = parsed
	}
	if endedAtText.Valid {
		parsed, err := parseSQLiteTimestamp(endedAtText.String)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at %q: %w", endedAtText.String, err)
		}
		item.EndedAt = parsed
	}

	return &item, nil
}

func scanTraceSummaryRow(scanner rowScanner) (*TraceSummary, error) {
	var (
		item          Trace
		name          sql.NullString
		groupID       sql.NullString
		startedAtText sql.NullString
		endedAtText   sql.NullString
		metadata      sql.NullString
		spanCount     int
		spanTokens    int64
	)

	if err := scanner.Scan(
		&item.ID,
		&name,
		&groupID,
		&startedAtText,
		&endedAtText,
		&item.Status,
		&metadata,
		&spanCount,
		&spanTokens,
	); err != nil {
		return nil, err
	}

	if name.Valid {
		item.Name = name.String
	}
	if groupID.Valid {
		item.GroupID = groupID.String
	}
	if metadata.Valid {
		item.Metadata = metadata.String
	}

	if startedAtText.Valid {
		parsed, err := parseSQLiteTimestamp(startedAtText.String)
		if err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", startedAtText.String, err)
		}
		item.StartedAt = parsed
	}
	if endedAtText.Valid {
		parsed, err := parseSQLiteTimestamp(endedAtText.String)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at %q: %w", endedAtText.String, err)
		}
		item.EndedAt = parsed
	}

	return &TraceSummary{
		Trace:      &item,
		SpanCount:  spanCount,
		SpanTokens: spanTokens,
	}, nil
}

func scanSpanRow(scanner rowScanner) (*Span, error) {
	var (
		item          Span
		parentID      sql.NullString
		name          sql.NullString
		startedAtText sql.NullString
		endedAtText   sql.NullString
		input         sql.NullString
		output        sql.NullString
		errorPayload  sql.NullString
		model         sql.NullString
		inputTokens   sql.NullInt64
		outputTokens  sql.NullInt64
	)

	if err := scanner.Scan(
		&item.ID,
		&item.TraceID,
		&parentID,
		&item.Type,
		&name,
		&startedAtText,
		&endedAtText,
		&input,
		&output,
		&errorPayload,
		&model,
		&inputTokens,
		&outputTokens,
	); err != nil {
		return nil, err
	}

	if parentID.Valid {
		item.ParentID = parentID.String
	}
	if name.Valid {
		item.Name = name.String
	}
	if input.Valid {
		item.Input = input.String
	}
	if output.Valid {
		item.Output = output.String
	}
	if errorPayload.Valid {
		item.Error = errorPayload.String
	}
	if model.Valid {
		item.Model = model.String
	}
	if inputTokens.Valid {
		item.InputTokens = int(inputTokens.Int64)
	}
	if outputTokens.Valid {
		item.OutputTokens = int(outputTokens.Int64)
	}

	if startedAtText.Valid {
		parsed, err := parseSQLiteTimestamp(startedAtText.String)
		if err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", startedAtText.String, err)
		}
		item.StartedAt = parsed
	}
	if endedAtText.Valid {
		parsed, err := parseSQLiteTimestamp(endedAtText.String)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at %q: %w", endedAtText.String, err)
		}
		item.EndedAt = parsed
	}

	return &item, nil
}

func parseSQLiteTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}

	withTZLayouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05 -0700 MST",
	}
	for _, layout := range withTZLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}

	withoutTZLayouts := []string{
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range withoutTZLayouts {
		if parsed, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return parsed.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unsupported sqlite datetime format")
}

func (s *SQLiteStore) configure() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("%w: enable sqlite WAL mode: %v", ErrStoreUnavailable, err)
	}
	if _, err := s.db.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		return fmt.Errorf("%w: set sqlite synchronous mode: %v", ErrStoreUnavailable, err)
	}
	if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("%w: set sqlite busy timeout: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) ensureSchema() error {
	if err := migrations.Apply(context.Background(), s.db); err != nil {
		return fmt.Errorf("%w: ensure sqlite schema: %v", ErrStoreUnavailable, err)
	}
	return nil
}
