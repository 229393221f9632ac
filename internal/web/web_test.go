package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weeklycal/internal/config"
	appLog "weeklycal/internal/log"
	"weeklycal/internal/refresh"
	"weeklycal/internal/source"
	"weeklycal/internal/websocket"
)

const doc = `{
	"meta": {"title": "Weekly", "desc": "Things", "lang": {"ja": {"title": "毎週"}}},
	"zones": {
		"America/New_York": {"r": [{"o": -240}, {"s": 1699164000, "o": -300}, {"s": 1710054000, "o": -240}]},
		"Asia/Tokyo": {"r": [{"o": 540}]}
	},
	"events": [
		{"name": "Karaoke", "start": 1230, "tz": "America/New_York", "sunday": {},
		 "platforms": ["pc", "quest"], "lang": {"ja": {"name": "カラオケ"}}}
	]
}`

var now = time.Date(2023, time.May, 15, 16, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	appLog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type slot struct {
	Time int                          `json:"time"`
	Days map[string][]json.RawMessage `json:"days"`
}

func newTestServer(t *testing.T, body string, mutate func(*config.Config)) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calendar.json")
	if body != "" {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}

	cfg := config.DefaultConfig()
	cfg.Source = source.Source{Path: path}
	if mutate != nil {
		mutate(cfg)
	}

	r := refresh.New(source.NewFetcher(t.TempDir()), cfg.Source, time.Hour)
	s := NewServer(cfg, r, websocket.NewHub())
	s.now = func() time.Time { return now }
	return s
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeSlots(t *testing.T, b []byte) []slot {
	t.Helper()
	var out []slot
	require.NoError(t, json.Unmarshal(b, &out), string(b))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, doc, nil)
	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	s := newTestServer(t, doc, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/schedule", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/schedule", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/schedule", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSchedule(t *testing.T) {
	s := newTestServer(t, doc, nil)

	rec := do(t, s, http.MethodGet, "/api/schedule", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	slots := decodeSlots(t, rec.Body.Bytes())
	require.Len(t, slots, 1)
	assert.Equal(t, 1230, slots[0].Time)
	require.Len(t, slots[0].Days["sunday"], 1)

	var occ struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(slots[0].Days["sunday"][0], &occ))
	assert.Equal(t, "Karaoke", occ.Name)
}

func TestScheduleQuery(t *testing.T) {
	s := newTestServer(t, doc, nil)

	rec := do(t, s, http.MethodGet, "/api/schedule?tz=Asia/Tokyo&lang=ja", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	slots := decodeSlots(t, rec.Body.Bytes())
	require.Len(t, slots, 1)
	assert.Equal(t, 570, slots[0].Time)
	require.Len(t, slots[0].Days["monday"], 1)
	assert.Contains(t, string(slots[0].Days["monday"][0]), "カラオケ")

	for _, target := range []string{"/api/schedule", "/calendar", "/calendar.ics"} {
		rec = do(t, s, http.MethodGet, target+"?tz=Nowhere/Special", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Contains(t, rec.Body.String(), "unknown time zone", target)
	}
}

func TestNotLoaded(t *testing.T) {
	s := newTestServer(t, "", nil)

	for _, target := range []string{"/api/schedule", "/api/meta", "/calendar", "/calendar.ics"} {
		rec := do(t, s, http.MethodGet, target, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
	rec := do(t, s, http.MethodPost, "/api/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMeta(t *testing.T) {
	s := newTestServer(t, doc, nil)

	rec := do(t, s, http.MethodGet, "/api/meta?lang=ja", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Title  string `json:"title"`
		Desc   string `json:"desc"`
		Events int    `json:"events"`
		Stale  bool   `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "毎週", got.Title)
	assert.Equal(t, "Things", got.Desc)
	assert.Equal(t, 1, got.Events)
	assert.False(t, got.Stale)
}

func TestRefresh(t *testing.T) {
	s := newTestServer(t, doc, nil)

	rec := do(t, s, http.MethodPost, "/api/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"events":1`)

	rec = do(t, s, http.MethodGet, "/api/refresh", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRender(t *testing.T) {
	s := newTestServer(t, "", nil)

	body, err := json.Marshal(map[string]any{
		"rawDocument": json.RawMessage(doc),
		"settings":    map[string]string{"timeZone": "Asia/Tokyo"},
	})
	require.NoError(t, err)

	rec := do(t, s, http.MethodPost, "/api/render", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	slots := decodeSlots(t, rec.Body.Bytes())
	require.Len(t, slots, 1)
	assert.Equal(t, 570, slots[0].Time)

	cases := map[string]string{
		"malformed document": `{"rawDocument": {"meta": {}, "zones": {}}}`,
		"missing document":   `{"settings": {}}`,
		"not json":           `rawDocument`,
	}
	rec = do(t, s, http.MethodPost, "/api/render", `{"rawDocument": `+doc+`, "settings": {"timeZone": "Mars/Base"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	for name, body := range cases {
		rec := do(t, s, http.MethodPost, "/api/render", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.Contains(t, rec.Body.String(), `"error"`, name)
	}
}

func TestCalendar(t *testing.T) {
	s := newTestServer(t, doc, nil)

	rec := do(t, s, http.MethodGet, "/calendar", "")
	require.Equal(t, http.StatusOK, rec.Code)
	html := rec.Body.String()
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, html, `data-ready="true"`)
	assert.Contains(t, html, "Karaoke")
	assert.Contains(t, html, "20:30")
	assert.Contains(t, html, "pc / quest")
	assert.Contains(t, html, "/ws")
	assert.Less(t, strings.Index(html, ">Sunday<"), strings.Index(html, ">Monday<"))

	monday := newTestServer(t, doc, func(c *config.Config) { c.WeekStart = "monday" })
	html = do(t, monday, http.MethodGet, "/calendar", "").Body.String()
	assert.Less(t, strings.Index(html, ">Monday<"), strings.Index(html, ">Sunday<"))

	rec = do(t, s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/calendar", rec.Header().Get("Location"))
}

func TestCalendarICS(t *testing.T) {
	s := newTestServer(t, doc, nil)

	rec := do(t, s, http.MethodGet, "/calendar.ics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	out := rec.Body.String()
	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "SUMMARY:Karaoke")
	assert.Contains(t, out, "X-WR-CALNAME:Weekly")
	assert.Equal(t, 1, strings.Count(out, "BEGIN:VEVENT"))
}

func TestPreview(t *testing.T) {
	s := newTestServer(t, doc, nil)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/preview.png", "").Code)

	png := filepath.Join(t.TempDir(), "preview.png")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG"), 0o600))
	s = newTestServer(t, doc, func(c *config.Config) {
		c.Capture.Enabled = true
		c.Capture.Output = png
	})
	rec := do(t, s, http.MethodGet, "/preview.png", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "\x89PNG", rec.Body.String())
}

func TestWeekOrder(t *testing.T) {
	assert.Equal(t, []time.Weekday{0, 1, 2, 3, 4, 5, 6}, weekOrder(false))
	assert.Equal(t, []time.Weekday{1, 2, 3, 4, 5, 6, 0}, weekOrder(true))
	assert.Equal(t, "00:05", clock(5))
	assert.Equal(t, "23:59", clock(1439))
}
