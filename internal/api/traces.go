package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/123zcr/traceboard/internal/trace"
)

type tracesResponse struct {
	Items    []traceSummary `json:"items"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

type traceSummary struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	GroupID     string     `json:"group_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Status      string     `json:"status"`
	DurationMS  *float64   `json:"duration_ms,omitempty"`
	SpanCount   int        `json:"span_count"`
	TotalTokens int64      `json:"total_tokens"`
}

type traceDetail struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	GroupID   string     `json:"group_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    string     `json:"status"`
	// DurationMS is present once the trace has ended.
	DurationMS *float64 `json:"duration_ms,omitempty"`
	Metadata   any      `json:"metadata,omitempty"`
}

type deleteAllResponse struct {
	DeletedTraces int64 `json:"deleted_traces"`
}

type tracePathRoute struct {
	ID     string
	Action string
}

func TracesHandler(store trace.TraceStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "trace store is not configured")
			return
		}

		switch r.Method {
		case http.MethodGet:
			handleTraceList(w, r, store)
		case http.MethodDelete:
			handleDeleteAll(w, r, store)
		default:
			w.Header().Set("Allow", "GET, DELETE, OPTIONS")
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})
}

func handleTraceList(w http.ResponseWriter, r *http.Request, store trace.TraceStore) {
	filter, err := parseTraceFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := store.ListTraces(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list traces")
		return
	}

	items := make([]traceSummary, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, summarizeTrace(item))
	}

	writeJSON(w, http.StatusOK, tracesResponse{
		Items:    items,
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
	})
}

func handleDeleteAll(w http.ResponseWriter, r *http.Request, store trace.TraceStore) {
	deleted, err := store.DeleteAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete traces")
		return
	}
	writeJSON(w, http.StatusOK, deleteAllResponse{DeletedTraces: deleted})
}

func TraceDetailHandler(store trace.TraceStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "trace store is not configured")
			return
		}

		route, ok := parseTracePathRoute(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		switch route.Action {
		case "":
			handleTraceDetail(w, r, store, route.ID)
		case "spans":
			handleTraceSpans(w, r, store, route.ID)
		case "tree":
			handleTraceTree(w, r, store, route.ID)
		case "export":
			handleTraceExport(w, r, store, route.ID)
		default:
			http.NotFound(w, r)
		}
	})
}

func parseTraceFilter(r *http.Request) (trace.TraceFilter, error) {
	query := r.URL.Query()
	page, err := parseIntQuery(query.Get("page"), "page", 1, 0)
	if err != nil {
		return trace.TraceFilter{}, err
	}
	pageSize, err := parseIntQuery(query.Get("page_size"), "page_size", 1, 100)
	if err != nil {
		return trace.TraceFilter{}, err
	}

	status := strings.TrimSpace(query.Get("status"))
	if status != "" {
		switch status {
		case trace.StatusRunning, trace.StatusCompleted, trace.StatusErrored:
		default:
			return trace.TraceFilter{}, fmt.Errorf("unknown status %q", status)
		}
	}

	return trace.TraceFilter{
		Status:   status,
		Name:     strings.TrimSpace(query.Get("name")),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func summarizeTrace(item *trace.TraceSummary) traceSummary {
	summary := traceSummary{
		ID:          item.Trace.ID,
		Name:        item.Trace.Name,
		GroupID:     item.Trace.GroupID,
		StartedAt:   timePtr(item.Trace.StartedAt),
		EndedAt:     timePtr(item.Trace.EndedAt),
		Status:      item.Trace.Status,
		SpanCount:   item.SpanCount,
		TotalTokens: item.SpanTokens,
	}
	if duration, ok := item.Trace.DurationMS(); ok {
		summary.DurationMS = &duration
	}
	return summary
}

func detailTrace(item *trace.Trace) traceDetail {
	detail := traceDetail{
		ID:        item.ID,
		Name:      item.Name,
		GroupID:   item.GroupID,
		StartedAt: timePtr(item.StartedAt),
		EndedAt:   timePtr(item.EndedAt),
		Status:    item.Status,
		Metadata:  decodeJSONField(item.Metadata),
	}
	if duration, ok := item.DurationMS(); ok {
		detail.DurationMS = &duration
	}
	return detail
}

func loadTrace(w http.ResponseWriter, r *http.Request, store trace.TraceStore, id string) (*trace.Trace, bool) {
	item, err := store.GetTrace(r.Context(), id)
	if err != nil {
		if errors.Is(err, trace.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trace not found")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to read trace")
		}
		return nil, false
	}
	return item, true
}

func parseIntQuery(raw, name string, min, max int) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if parsed < min {
		return 0, fmt.Errorf("%s must be >= %d", name, min)
	}
	if max != 0 && parsed > max {
		return 0, fmt.Errorf("%s must be <= %d", name, max)
	}
	return parsed, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func parseTracePathRoute(path string) (tracePathRoute, bool) {
	prefix := "/api/traces/"
	if !strings.HasPrefix(path, prefix) {
		return tracePathRoute{}, false
	}
	suffix := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if suffix == "" {
		return tracePathRoute{}, false
	}
	parts := strings.Split(suffix, "/")
	if len(parts) > 2 {
		return tracePathRoute{}, false
	}
	if strings.TrimSpace(parts[0]) == "" {
		return tracePathRoute{}, false
	}
	route := tracePathRoute{
		ID: parts[0],
	}
	if len(parts) == 2 {
		route.Action = strings.TrimSpace(parts[1])
		if route.Action == "" {
			return tracePathRoute{}, false
		}
	}
	return route, true
}
