package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/session-planner/internal/backend"
	"github.com/username/session-planner/internal/calendar"
	"github.com/username/session-planner/internal/draft"
	"github.com/username/session-planner/internal/planner"
	"github.com/username/session-planner/pkg/dateutil"
	"go.uber.org/zap"
)

type memoryStore struct {
	sessions map[string]backend.Session
	failOn   map[string]bool
	nextID   int
}

func (m *memoryStore) GetSession(_ context.Context, id string) (*backend.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrSessionNotFound, id)
	}
	return &s, nil
}

func (m *memoryStore) ListSessions(_ context.Context, patientID string, from, to time.Time) ([]backend.Session, error) {
	var out []backend.Session
	for _, s := range m.sessions {
		if s.PatientID.String() == patientID &&
			s.SessionDate >= from.Format(backend.DateLayout) &&
			s.SessionDate <= to.Format(backend.DateLayout) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memoryStore) CreateSession(_ context.Context, req backend.CreateSessionRequest) (*backend.Session, error) {
	if m.failOn[req.SessionDate] {
		return nil, &backend.APIError{StatusCode: http.StatusInternalServerError, Message: "insert failed"}
	}
	m.nextID++
	s := backend.Session{
		ID:          backend.FlexibleID(fmt.Sprint(m.nextID)),
		PatientID:   req.PatientID,
		SessionDate: req.SessionDate,
		StartTime:   req.StartTime,
		Status:      req.Status,
	}
	m.sessions[s.ID.String()] = s
	return &s, nil
}

type fixedCalendar []calendar.DayInfo

func (f fixedCalendar) GetDayInfo(_ context.Context, date time.Time) (*calendar.DayInfo, error) {
	for _, d := range f {
		if dateutil.IsSameDay(d.Date, date) {
			return &d, nil
		}
	}
	return &calendar.DayInfo{Date: date, Type: calendar.DayTypeWorkday}, nil
}

// cachedCalendar is a fixedCalendar that records cache clears
type cachedCalendar struct {
	fixedCalendar
	cleared int
}

func (c *cachedCalendar) ClearCache() {
	c.cleared++
}

func (f fixedCalendar) ClosedDays(context.Context, time.Time, time.Time) ([]calendar.DayInfo, error) {
	return f, nil
}

type testEnv struct {
	srv    *Server
	store  *memoryStore
	cal    *cachedCalendar
	drafts *draft.Manager
	now    *time.Time
	reg    *prometheus.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := &memoryStore{
		sessions: map[string]backend.Session{
			"42": {
				ID:          "42",
				PatientID:   "p1",
				SessionDate: "2024-03-04",
				StartTime:   "09:30",
				Status:      backend.StatusPlanned,
			},
		},
		failOn: map[string]bool{},
		nextID: 100,
	}

	cal := &cachedCalendar{fixedCalendar: fixedCalendar{
		{Date: time.Date(2024, 4, 1, 0, 0, 0, 0, time.Local), Type: calendar.DayTypeHoliday, Note: "Lundi de Pâques"},
	}}

	db, err := draft.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	drafts := draft.NewManager(draft.NewSQLiteStore(db), time.Hour, zap.NewNop())
	drafts.SetClock(func() time.Time { return now })

	reg := prometheus.NewRegistry()
	p := planner.NewPlanner(store, cal, zap.NewNop())
	srv := NewServer(Config{Addr: "127.0.0.1:0", EnableCORS: true}, p, drafts, reg, zap.NewNop())

	return &testEnv{srv: srv, store: store, cal: cal, drafts: drafts, now: &now, reg: reg}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestValidate(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		body       map[string]any
		wantValid  bool
		wantErrors []string
	}{
		{
			name:      "count bounded",
			body:      map[string]any{"start_date": "2024-03-04", "cadence": "weekly", "count": 4},
			wantValid: true,
		},
		{
			name:      "french date format",
			body:      map[string]any{"start_date": "04/03/2024", "cadence": "daily", "end_date": "10/03/2024"},
			wantValid: true,
		},
		{
			name: "every rule reported",
			body: map[string]any{"start_date": "", "cadence": "monthly", "count": 0, "end_date": "2024-03-10"},
			wantErrors: []string{
				"start date required and must be valid",
				"duplication type must be daily, every-other-day or weekly",
				"session count must be between 1 and 365",
				"cannot specify both an end date and a session count",
			},
		},
		{
			name:       "end before start",
			body:       map[string]any{"start_date": "2024-03-10", "cadence": "daily", "end_date": "2024-03-04"},
			wantErrors: []string{"end date must be after start date"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/recurrence/validate", tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			resp := decode[validationResponse](t, rec)
			assert.Equal(t, tt.wantValid, resp.IsValid)
			if tt.wantErrors == nil {
				assert.Empty(t, resp.Errors)
			} else {
				assert.Equal(t, tt.wantErrors, resp.Errors)
			}
		})
	}
}

func TestValidate_BadBody(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/recurrence/validate", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/recurrence/validate",
		map[string]any{"start_date": "2024-03-04", "cadence": "daily", "end_date": "someday"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid end_date")
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/recurrence/preview", map[string]any{
		"start_date":       "2024-03-04",
		"cadence":          "weekly",
		"count":            6,
		"exclude_dates":    []string{"2024-03-11"},
		"exclude_holidays": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[planResponse](t, rec)
	assert.True(t, resp.IsValid)
	assert.Equal(t, []string{"2024-03-04", "2024-03-18", "2024-03-25", "2024-04-08"}, resp.Dates)
	assert.Equal(t, 4, resp.TotalCount)
	assert.Equal(t, 6, resp.BaseCount)
	assert.Equal(t, "Duplication hebdomadaire pour 6 séances", resp.Description)
	assert.Equal(t, []closedDayResponse{{Date: "2024-04-01", Type: "holiday", Note: "Lundi de Pâques"}}, resp.ClosedDays)
	assert.Contains(t, resp.RRule, "FREQ=WEEKLY")

	assert.Equal(t, float64(1), testutil.ToFloat64(env.srv.metrics.recurrences.WithLabelValues("preview", outcomeOK)))
	assert.Equal(t, float64(4), testutil.ToFloat64(env.srv.metrics.plannedDates))
}

func TestPreview_Invalid(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/recurrence/preview",
		map[string]any{"start_date": "2024-03-04", "cadence": "hourly"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decode[validationResponse](t, rec)
	assert.False(t, resp.IsValid)
	assert.Equal(t, []string{"duplication type must be daily, every-other-day or weekly"}, resp.Errors)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.srv.metrics.recurrences.WithLabelValues("preview", outcomeInvalid)))
}

func TestPreview_HorizonTooFar(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/v1/recurrence/preview", "/api/v1/recurrence/export", "/api/v1/sessions/42/duplicate"} {
		t.Run(path, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, path,
				map[string]any{"start_date": "2024-01-15", "cadence": "daily", "end_date": "9999-12-31", "exclude_holidays": true})
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

			resp := decode[validationResponse](t, rec)
			assert.False(t, resp.IsValid)
			assert.Equal(t, []string{planner.ErrHorizonTooFar.Error()}, resp.Errors)
		})
	}
	assert.Len(t, env.store.sessions, 1, "nothing may be created")
}

func TestDescribe(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/recurrence/describe",
		map[string]any{"start_date": "2024-03-04", "cadence": "every-other-day", "end_date": "2024-03-20"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[map[string]string](t, rec)
	assert.Equal(t, "Duplication un jour sur deux jusqu'au 20/03/2024", resp["description"])
	assert.Contains(t, resp["rrule"], "INTERVAL=2")
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/recurrence/export?seed=42",
		map[string]any{"start_date": "2024-03-04T09:30:00Z", "cadence": "daily", "count": 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/calendar"))

	cal, err := ical.NewDecoder(rec.Body).Decode()
	require.NoError(t, err)
	assert.Len(t, cal.Events(), 3)
}

func TestDuplicate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions/42/duplicate",
		map[string]any{"cadence": "weekly", "count": 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[duplicationResponse](t, rec)
	assert.Equal(t, "42", resp.TemplateID)
	assert.False(t, resp.DryRun)
	assert.Equal(t, []string{"2024-03-11", "2024-03-18"}, resp.Planned)
	require.Len(t, resp.Created, 2)
	assert.Equal(t, "09:30", resp.Created[0].StartTime)
	assert.Equal(t, []skippedResponse{{Date: "2024-03-04", Reason: planner.SkipTemplateDay}}, resp.Skipped)
	assert.Empty(t, resp.Failed)

	assert.Len(t, env.store.sessions, 3)
	assert.Equal(t, float64(2), testutil.ToFloat64(env.srv.metrics.sessionsCreated))
}

func TestDuplicate_DryRun(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions/42/duplicate?dry_run=true",
		map[string]any{"cadence": "daily", "count": 7, "exclude_weekends": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[duplicationResponse](t, rec)
	assert.True(t, resp.DryRun)
	// 2024-03-04 is a Monday: the template day and the weekend are dropped
	assert.Equal(t, []string{"2024-03-05", "2024-03-06", "2024-03-07", "2024-03-08"}, resp.Planned)
	assert.Empty(t, resp.Created)
	assert.Len(t, env.store.sessions, 1)
}

func TestDuplicate_PartialFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.failOn["2024-03-05"] = true

	rec := env.do(t, http.MethodPost, "/api/v1/sessions/42/duplicate",
		map[string]any{"cadence": "daily", "count": 3})
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())

	resp := decode[duplicationResponse](t, rec)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, "2024-03-05", resp.Failed[0].Date)
	require.Len(t, resp.Created, 1)
	assert.Equal(t, "2024-03-06", resp.Created[0].SessionDate)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.srv.metrics.sessionsFailed))
}

func TestDuplicate_Errors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions/missing/duplicate",
		map[string]any{"cadence": "daily", "count": 3})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/42/duplicate",
		map[string]any{"cadence": "daily", "count": 400})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[validationResponse](t, rec)
	assert.Equal(t, []string{"session count must be between 1 and 365"}, resp.Errors)
}

func TestCalendarDayInfo(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		path       string
		wantStatus int
		want       dayInfoResponse
	}{
		{"/api/v1/calendar/days/2024-04-01", http.StatusOK, dayInfoResponse{
			closedDayResponse: closedDayResponse{Date: "2024-04-01", Type: "holiday", Note: "Lundi de Pâques"},
			Closed:            true,
		}},
		{"/api/v1/calendar/days/2024-04-02", http.StatusOK, dayInfoResponse{
			closedDayResponse: closedDayResponse{Date: "2024-04-02", Type: "workday"},
		}},
		{"/api/v1/calendar/days/tomorrow", http.StatusBadRequest, dayInfoResponse{}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.want, decode[dayInfoResponse](t, rec))
			}
		})
	}
}

func TestCalendarClearCache(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/api/v1/calendar/cache", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, env.cal.cleared)

	srv := NewServer(Config{}, planner.NewPlanner(env.store, nil, zap.NewNop()), env.drafts, prometheus.NewRegistry(), zap.NewNop())
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/calendar/cache", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestDrafts(t *testing.T) {
	env := newTestEnv(t)

	form := map[string]any{
		"kind":    "duplication",
		"payload": map[string]any{"cadence": "weekly", "count": 4},
	}

	rec := env.do(t, http.MethodPut, "/api/v1/drafts/session-42", form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/drafts/session-42", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[draft.Draft](t, rec)
	assert.Equal(t, "duplication", got.Kind)
	assert.JSONEq(t, `{"cadence":"weekly","count":4}`, string(got.Payload))

	rec = env.do(t, http.MethodGet, "/api/v1/drafts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]draft.Draft](t, rec), 1)

	rec = env.do(t, http.MethodDelete, "/api/v1/drafts/session-42", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/drafts/session-42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDrafts_Expired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/drafts/old", map[string]any{"kind": "duplication", "payload": map[string]any{}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	*env.now = env.now.Add(2 * time.Hour)

	rec = env.do(t, http.MethodGet, "/api/v1/drafts/old", nil)
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/drafts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestDrafts_BadInput(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/drafts/k", map[string]any{"payload": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/drafts/%20", map[string]any{"kind": "x", "payload": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurgeNow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.drafts.Save(ctx, "a", "duplication", []byte(`{}`))
	require.NoError(t, err)
	_, err = env.drafts.Save(ctx, "b", "duplication", []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, int64(0), env.srv.PurgeNow(ctx))

	*env.now = env.now.Add(2 * time.Hour)
	assert.Equal(t, int64(2), env.srv.PurgeNow(ctx))
	assert.Equal(t, float64(2), testutil.ToFloat64(env.srv.metrics.draftsPurged))
}

func TestRun_CancelledContext(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, env.srv.Run(ctx))
}

func TestRun_PurgesThenStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.drafts.Save(context.Background(), "a", "duplication", []byte(`{}`))
	require.NoError(t, err)
	*env.now = env.now.Add(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- env.srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(env.srv.metrics.draftsPurged) == 1
	}, 5*time.Second, 10*time.Millisecond, "the purge loop runs once at startup")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after the context was cancelled")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/healthz", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "session_planner_http_request_duration_seconds")
}

func TestMustNewMetrics_ReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)

	first.IncRecurrence("validate", outcomeOK)
	assert.Equal(t, float64(1), testutil.ToFloat64(second.recurrences.WithLabelValues("validate", outcomeOK)))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.AddDuplication(1, 1) })
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/recurrence/preview", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
