// Package api provides HTTP handlers for the hexbin server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dsc-hexbins/server/internal/appstore"
	"github.com/dsc-hexbins/server/internal/cache"
	"github.com/dsc-hexbins/server/internal/config"
	"github.com/dsc-hexbins/server/internal/dataservice"
	"github.com/dsc-hexbins/server/internal/hexbin"
	"github.com/dsc-hexbins/server/internal/metrics"
	"github.com/dsc-hexbins/server/internal/render"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Sessions    *SessionRegistry
	Store       *appstore.Store
	Widget      config.WidgetConfig
	Title       string
	Metrics     *metrics.Collector
	Legend      *render.LegendRenderer
	Cache       *cache.Manager // optional
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	gatherer := cfg.Metrics.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/config/widget", widgetConfigHandler(cfg))
		if cfg.Cache != nil {
			r.Get("/cache/stats", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, cfg.Cache.Stats())
			})
			// Drop cached query results after observations were re-imported.
			r.Delete("/cache", func(w http.ResponseWriter, r *http.Request) {
				if err := cfg.Cache.Purge(); err != nil {
					http.Error(w, "failed to purge cache: "+err.Error(), http.StatusInternalServerError)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
		}

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", createSessionHandler(cfg.Sessions))

			// Session-scoped routes
			r.Route("/{session}", func(r chi.Router) {
				r.Use(sessionMiddleware(cfg.Sessions))

				r.Delete("/", deleteSessionHandler(cfg.Sessions))
				r.Post("/click", clickHandler)
				r.Get("/view", viewHandler)
				r.Get("/graphics", graphicsHandler)
				r.Get("/stream", viewStreamHandler)
				r.Post("/reset", resetHandler)
				if cfg.Legend != nil {
					r.Get("/legend.png", legendHandler(cfg.Legend))
				}
			})
		})

		// Shared store writes, as other widgets on the page would do them
		r.Put("/widgets/{widget}/filter", filterHandler(cfg.Store))
		r.Put("/widgets/{widget}/extent", extentHandler(cfg.Store))

		r.Get("/panel/view", panelViewHandler(cfg.Store, cfg.Widget.SidePanelID))
		r.Get("/panel/intents", intentStreamHandler(cfg.Store))
	})

	return r
}

// Context key for the resolved session
type ctxKey string

const sessionKey ctxKey = "session"

// sessionMiddleware resolves the session from the URL and injects it into context.
func sessionMiddleware(sessions *SessionRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "session")
			s := sessions.Get(id)
			if s == nil {
				http.Error(w, "session not found: "+id, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), sessionKey, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getSession(r *http.Request) *Session {
	if s, ok := r.Context().Value(sessionKey).(*Session); ok {
		return s
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// inspectorError maps inspector errors onto status codes.
func inspectorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hexbin.ErrClosed):
		http.Error(w, "session closed", http.StatusGone)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func widgetConfigHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"title":  cfg.Title,
			"widget": cfg.Widget,
		})
	}
}

func createSessionHandler(sessions *SessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessions.Create()
		if errors.Is(err, ErrTooManySessions) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			http.Error(w, "failed to create session: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, s)
	}
}

func deleteSessionHandler(sessions *SessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !sessions.Delete(chi.URLParam(r, "session")) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type clickRequest struct {
	Hits []hexbin.Hit `json:"hits"`
}

func clickHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	if s == nil {
		http.Error(w, "session not available", http.StatusInternalServerError)
		return
	}

	var req clickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	for i, h := range req.Hits {
		if h.LayerKind != hexbin.LayerFeature && h.LayerKind != hexbin.LayerGraphics {
			http.Error(w, "invalid layerKind in hit "+strconv.Itoa(i), http.StatusBadRequest)
			return
		}
		if h.LayerKind == hexbin.LayerGraphics && h.Graphic.H3 == "" {
			http.Error(w, "graphics hit "+strconv.Itoa(i)+" has no h3", http.StatusBadRequest)
			return
		}
	}

	out, err := s.Inspector().Click(r.Context(), req.Hits)
	if err != nil {
		inspectorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// viewResponse is the view plus the rendered species breakdown.
type viewResponse struct {
	hexbin.View
	Species      []hexbin.SpeciesShare `json:"species,omitempty"`
	TotalSamples int                   `json:"totalSamples"`
	Message      string                `json:"message,omitempty"`
}

func newViewResponse(v hexbin.View) viewResponse {
	resp := viewResponse{
		View:         v,
		Species:      hexbin.SpeciesBreakdown(v.Summary),
		TotalSamples: hexbin.TotalSamples(v.Summary),
	}
	if v.LoadError {
		resp.Message = hexbin.LoadErrorMessage
	}
	return resp
}

func viewHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	if s == nil {
		http.Error(w, "session not available", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newViewResponse(s.Inspector().View()))
}

func graphicsHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	if s == nil {
		http.Error(w, "session not available", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.Inspector().GraphicsState())
}

// legendHandler renders the fill ramp for the session's current hexbins.
func legendHandler(legend *render.LegendRenderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := getSession(r)
		if s == nil {
			http.Error(w, "session not available", http.StatusInternalServerError)
			return
		}
		maxCount := 0
		for _, g := range s.Inspector().Graphics() {
			if g.Count > maxCount {
				maxCount = g.Count
			}
		}

		data, err := legend.RenderLegend(maxCount)
		if err != nil {
			http.Error(w, "failed to render legend: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

func resetHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	if s == nil {
		http.Error(w, "session not available", http.StatusInternalServerError)
		return
	}
	if err := s.Inspector().Reset(r.Context()); err != nil {
		inspectorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newViewResponse(s.Inspector().View()))
}

type filterRequest struct {
	Where string `json:"where"`
}

func filterHandler(store *appstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req filterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := dataservice.ValidatePredicate(req.Where); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		widget := chi.URLParam(r, "widget")
		changed := store.SetFilter(widget, req.Where)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"widget":  widget,
			"where":   store.Filter(widget),
			"changed": changed,
		})
	}
}

func extentHandler(store *appstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var e appstore.Extent
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if e.XMin > e.XMax || e.YMin > e.YMax {
			http.Error(w, "invalid extent: min exceeds max", http.StatusBadRequest)
			return
		}
		store.SetExtent(chi.URLParam(r, "widget"), e)
		w.WriteHeader(http.StatusNoContent)
	}
}

func panelViewHandler(store *appstore.Store, panelID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"panelId":  panelID,
			"expanded": store.PanelExpanded(panelID),
			"view":     store.CurrentView(),
		})
	}
}
