package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dsc-hexbins/server/internal/appstore"
	"github.com/dsc-hexbins/server/internal/cache"
	"github.com/dsc-hexbins/server/internal/config"
	"github.com/dsc-hexbins/server/internal/dataservice"
	"github.com/dsc-hexbins/server/internal/hexbin"
	"github.com/dsc-hexbins/server/internal/metrics"
	"github.com/dsc-hexbins/server/internal/render"
	"github.com/dsc-hexbins/server/pkg/colormap"
)

const testObservations = `h3,depth,phylum,scientific_name,catalog_number
8a1fb46622dffff,512,Cnidaria,Lophelia pertusa,NOAA-1
8a1fb46622dffff,610,Cnidaria,Lophelia pertusa,NOAA-2
8a1fb46622dffff,150,Porifera,Geodia barretti,NOAA-3
8a1fb4662207fff,900,Cnidaria,Paragorgia arborea,NOAA-4
`

const hexA = "8a1fb46622dffff"

// testServer holds the test server and its dependencies
type testServer struct {
	server   *httptest.Server
	data     *dataservice.Store
	store    *appstore.Store
	sessions *SessionRegistry
	widget   config.WidgetConfig
}

// setupTestServer wires the full stack over a temporary sqlite database
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	data, err := dataservice.Open(dataservice.DriverSQLite, filepath.Join(t.TempDir(), "observations.db"))
	if err != nil {
		t.Fatalf("Failed to open data service: %v", err)
	}
	if _, err := data.ImportCSV(context.Background(), strings.NewReader(testObservations)); err != nil {
		t.Fatalf("Failed to import observations: %v", err)
	}

	cacheManager, err := cache.NewManager(cache.Config{GraphicsCacheSizeMB: 1, QueryCacheSize: 100})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	t.Cleanup(func() { cacheManager.Close() })
	backend := dataservice.NewCached(data, cacheManager)

	widget := config.DefaultConfig().Widget
	store := appstore.New()
	store.RegisterWidget(widget.WidgetID)
	store.RegisterWidget(widget.SidePanelID)

	m, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	sessions := NewSessionRegistry(SessionRegistryConfig{
		Store:            store,
		WidgetID:         widget.WidgetID,
		DefaultPredicate: widget.DefaultPredicate,
		Metrics:          m,
		NewInspector: func(predicate string) *hexbin.Inspector {
			return hexbin.NewInspector(hexbin.Config{
				Querier:          backend,
				Graphics:         backend,
				Panel:            store,
				Bridge:           widget.Bridge(),
				Colormap:         colormap.YlOrRd,
				Metrics:          m,
				InitialPredicate: predicate,
			})
		},
	})
	sessions.Start()

	router := NewRouter(RouterConfig{
		Sessions:    sessions,
		Store:       store,
		Widget:      widget,
		Title:       "Test",
		Metrics:     m,
		Cache:       cacheManager,
		Legend:      render.NewLegendRenderer(render.Config{Width: 120, Height: 30, Colormap: colormap.YlOrRd}),
		CORSOrigins: []string{"http://localhost:3000"},
	})

	ts := &testServer{
		server:   httptest.NewServer(router),
		data:     data,
		store:    store,
		sessions: sessions,
		widget:   widget,
	}
	t.Cleanup(ts.close)
	return ts
}

// close cleans up test server resources
func (ts *testServer) close() {
	ts.server.Close()
	ts.sessions.Stop()
	ts.data.Close()
}

type testView struct {
	SelectedHexID string                `json:"selectedHexId"`
	PointCount    int                   `json:"pointCount"`
	State         string                `json:"state"`
	Predicate     string                `json:"predicate"`
	LoadError     bool                  `json:"loadError"`
	Summary       *hexbin.Summary       `json:"summary"`
	Species       []hexbin.SpeciesShare `json:"species"`
	TotalSamples  int                   `json:"totalSamples"`
}

type testGraphics struct {
	Predicate  string           `json:"predicate"`
	Pending    bool             `json:"pending"`
	LoadFailed bool             `json:"loadFailed"`
	Graphics   []hexbin.Graphic `json:"graphics"`
}

// --- Helper Functions ---

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.server.URL+path, rd)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	return resp, data
}

// assertStatusCode verifies the HTTP status code
func assertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

func decode(t *testing.T, body []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("Failed to parse JSON response %q: %v", body, err)
	}
}

// createSession opens a session and waits for its first hexbins.
func (ts *testServer) createSession(t *testing.T) string {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/api/sessions", nil)
	assertStatusCode(t, resp, http.StatusCreated)
	var created struct {
		ID string `json:"session_id"`
	}
	decode(t, body, &created)
	if created.ID == "" {
		t.Fatal("Expected a session id")
	}
	ts.waitGraphics(t, created.ID, func(g testGraphics) bool { return len(g.Graphics) == 2 })
	return created.ID
}

func (ts *testServer) waitGraphics(t *testing.T, id string, cond func(testGraphics) bool) testGraphics {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, body := ts.do(t, http.MethodGet, "/api/sessions/"+id+"/graphics", nil)
		assertStatusCode(t, resp, http.StatusOK)
		var g testGraphics
		decode(t, body, &g)
		if cond(g) {
			return g
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for graphics, last %+v", g)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (ts *testServer) waitView(t *testing.T, id string, cond func(testView) bool) testView {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, body := ts.do(t, http.MethodGet, "/api/sessions/"+id+"/view", nil)
		assertStatusCode(t, resp, http.StatusOK)
		var v testView
		decode(t, body, &v)
		if cond(v) {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for view, last %+v", v)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func clickBody(h3 string) map[string]interface{} {
	return map[string]interface{}{
		"hits": []map[string]interface{}{
			{"layerKind": "graphics", "graphic": map[string]interface{}{"h3": h3, "count": 3}},
		},
	}
}

func wsURL(ts *testServer, path string) string {
	return "ws" + strings.TrimPrefix(ts.server.URL, "http") + path
}

// --- Test Cases ---

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/health", nil)
	assertStatusCode(t, resp, http.StatusOK)
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %q", string(body))
	}
}

func TestSessionClickRoundTrip(t *testing.T) {
	ts := setupTestServer(t)
	id := ts.createSession(t)

	resp, body := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/click", clickBody(hexA))
	assertStatusCode(t, resp, http.StatusOK)
	var out struct {
		Intent       string `json:"intent"`
		PopupVisible bool   `json:"popupVisible"`
		GraphicHits  int    `json:"graphicHits"`
	}
	decode(t, body, &out)
	if out.Intent != "showHexbinSummary" || out.PopupVisible || out.GraphicHits != 1 {
		t.Fatalf("Unexpected click outcome %+v", out)
	}

	v := ts.waitView(t, id, func(v testView) bool { return v.State == "ready" })
	if v.SelectedHexID != hexA || v.PointCount != 3 {
		t.Fatalf("Unexpected selection %+v", v)
	}
	if v.Summary.DepthRange.Min != 150 || v.Summary.DepthRange.Max != 610 {
		t.Errorf("Unexpected depth range %+v", v.Summary.DepthRange)
	}
	if v.Summary.SpeciesCount.RawCount != 2 || v.TotalSamples != 3 {
		t.Errorf("Unexpected species count %d / total %d", v.Summary.SpeciesCount.RawCount, v.TotalSamples)
	}
	if len(v.Species) != 2 || v.Species[0].Percent != "67" {
		t.Errorf("Unexpected species breakdown %+v", v.Species)
	}

	// Navigation reached the shared store
	resp, body = ts.do(t, http.MethodGet, "/api/panel/view", nil)
	assertStatusCode(t, resp, http.StatusOK)
	var panel struct {
		Expanded bool               `json:"expanded"`
		View     appstore.ViewState `json:"view"`
	}
	decode(t, body, &panel)
	if !panel.Expanded || panel.View.ViewID != ts.widget.SummaryViewID {
		t.Errorf("Unexpected panel state %+v", panel)
	}

	g := ts.waitGraphics(t, id, func(testGraphics) bool { return true })
	highlighted := 0
	for _, gr := range g.Graphics {
		if gr.Highlighted {
			highlighted++
			if gr.H3 != hexA {
				t.Errorf("Wrong hexbin highlighted: %s", gr.H3)
			}
		}
		if gr.Fill == "" {
			t.Errorf("Expected fill on %s", gr.H3)
		}
	}
	if highlighted != 1 {
		t.Errorf("Expected one highlighted hexbin, got %d", highlighted)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/reset", nil)
	assertStatusCode(t, resp, http.StatusOK)
	var reset testView
	decode(t, body, &reset)
	if reset.State != "idle" || reset.SelectedHexID != "" {
		t.Errorf("Expected idle view after reset, got %+v", reset)
	}
}

func TestLegendEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	id := ts.createSession(t)

	resp, body := ts.do(t, http.MethodGet, "/api/sessions/"+id+"/legend.png", nil)
	assertStatusCode(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("Expected image/png, got %q", ct)
	}
	img, err := png.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Invalid PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 120 || b.Dy() != 30 {
		t.Errorf("Unexpected legend size %v", b)
	}
}

func TestFilterEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	id := ts.createSession(t)

	resp, body := ts.do(t, http.MethodPut, "/api/widgets/"+ts.widget.WidgetID+"/filter",
		map[string]string{"where": "phylum = 'Porifera'"})
	assertStatusCode(t, resp, http.StatusOK)
	var res struct {
		Changed bool `json:"changed"`
	}
	decode(t, body, &res)
	if !res.Changed {
		t.Error("Expected filter to change")
	}

	g := ts.waitGraphics(t, id, func(g testGraphics) bool {
		return g.Predicate == "phylum = 'Porifera'" && !g.Pending && len(g.Graphics) == 1
	})
	if g.Graphics[0].H3 != hexA {
		t.Errorf("Unexpected filtered hexbin %s", g.Graphics[0].H3)
	}

	// New sessions start from the current filter
	other := ts.createSessionNoWait(t)
	ts.waitGraphics(t, other, func(g testGraphics) bool { return len(g.Graphics) == 1 })

	resp, _ = ts.do(t, http.MethodPut, "/api/widgets/"+ts.widget.WidgetID+"/filter",
		map[string]string{"where": "1=1; DROP TABLE observations"})
	assertStatusCode(t, resp, http.StatusBadRequest)
}

func (ts *testServer) createSessionNoWait(t *testing.T) string {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/api/sessions", nil)
	assertStatusCode(t, resp, http.StatusCreated)
	var created struct {
		ID string `json:"session_id"`
	}
	decode(t, body, &created)
	return created.ID
}

func TestSessionErrors(t *testing.T) {
	ts := setupTestServer(t)
	id := ts.createSession(t)

	tests := []struct {
		name           string
		method         string
		path           string
		body           interface{}
		expectedStatus int
	}{
		{"unknown session", http.MethodGet, "/api/sessions/nope/view", nil, http.StatusNotFound},
		{"bad layer kind", http.MethodPost, "/api/sessions/" + id + "/click",
			map[string]interface{}{"hits": []map[string]interface{}{{"layerKind": "basemap"}}}, http.StatusBadRequest},
		{"graphics hit without h3", http.MethodPost, "/api/sessions/" + id + "/click",
			map[string]interface{}{"hits": []map[string]interface{}{{"layerKind": "graphics"}}}, http.StatusBadRequest},
		{"bad extent", http.MethodPut, "/api/widgets/map/extent",
			appstore.Extent{XMin: 10, XMax: 0}, http.StatusBadRequest},
		{"extent", http.MethodPut, "/api/widgets/map/extent",
			appstore.Extent{XMin: -130, YMin: 20, XMax: -60, YMax: 50}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := ts.do(t, tt.method, tt.path, tt.body)
			assertStatusCode(t, resp, tt.expectedStatus)
		})
	}

	if e, ok := ts.store.Extent("map"); !ok || e.XMin != -130 {
		t.Errorf("Expected extent stored, got %+v", e)
	}

	resp, _ := ts.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	assertStatusCode(t, resp, http.StatusNoContent)
	resp, _ = ts.do(t, http.MethodGet, "/api/sessions/"+id+"/view", nil)
	assertStatusCode(t, resp, http.StatusNotFound)
}

func TestViewStream(t *testing.T) {
	ts := setupTestServer(t)
	id := ts.createSession(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/api/sessions/"+id+"/stream"), nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	resp, _ := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/click", clickBody(hexA))
	assertStatusCode(t, resp, http.StatusOK)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var v testView
		if err := conn.ReadJSON(&v); err != nil {
			t.Fatalf("read view: %v", err)
		}
		if v.State == "ready" {
			if v.SelectedHexID != hexA || v.Summary == nil {
				t.Fatalf("Unexpected streamed view %+v", v)
			}
			return
		}
	}
}

func TestIntentStream(t *testing.T) {
	ts := setupTestServer(t)
	id := ts.createSession(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/api/panel/intents"), nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	resp, _ := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/click", clickBody(hexA))
	assertStatusCode(t, resp, http.StatusOK)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var first, second appstore.Intent
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read intent: %v", err)
	}
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read intent: %v", err)
	}
	if first.Kind != appstore.IntentExpandPanel || first.PanelID != ts.widget.SidePanelID {
		t.Errorf("Expected expand intent first, got %+v", first)
	}
	if second.Kind != appstore.IntentSwitchView || second.ViewID != ts.widget.SummaryViewID {
		t.Errorf("Expected switch view intent second, got %+v", second)
	}
}

func TestConfigAndMetricsEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	ts.createSession(t)

	resp, body := ts.do(t, http.MethodGet, "/api/config/widget", nil)
	assertStatusCode(t, resp, http.StatusOK)
	var cfg struct {
		Title  string              `json:"title"`
		Widget config.WidgetConfig `json:"widget"`
	}
	decode(t, body, &cfg)
	if cfg.Title != "Test" || cfg.Widget.LayerName != ts.widget.LayerName {
		t.Errorf("Unexpected widget config %+v", cfg)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/cache/stats", nil)
	assertStatusCode(t, resp, http.StatusOK)
	var stats map[string]int
	decode(t, body, &stats)
	if stats["graphics_cache_len"] != 1 {
		t.Errorf("Expected the initial hexbin set to be cached, got %v", stats)
	}

	resp, _ = ts.do(t, http.MethodDelete, "/api/cache", nil)
	assertStatusCode(t, resp, http.StatusNoContent)
	resp, body = ts.do(t, http.MethodGet, "/api/cache/stats", nil)
	assertStatusCode(t, resp, http.StatusOK)
	stats = nil
	decode(t, body, &stats)
	if stats["graphics_cache_len"] != 0 || stats["query_cache_len"] != 0 {
		t.Errorf("Expected empty caches after purge, got %v", stats)
	}

	resp, body = ts.do(t, http.MethodGet, "/metrics", nil)
	assertStatusCode(t, resp, http.StatusOK)
	for _, name := range []string{"hexbin_sessions_active 1", "hexbin_graphics_rebuilds_total"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("Expected %q in metrics output", name)
		}
	}
}
