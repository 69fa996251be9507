package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/fairweather/internal/analysis"
	"github.com/lox/fairweather/internal/briefing"
	"github.com/lox/fairweather/internal/ingest"
	"github.com/lox/fairweather/internal/presets"
	"github.com/lox/fairweather/internal/scorecard"
	"github.com/lox/fairweather/internal/store"
	"github.com/lox/fairweather/internal/suitability"
)

const (
	cardCacheTTL   = time.Hour
	cardCacheItems = 256
)

type Server struct {
	analysis *analysis.Service
	store    *store.Store
	presets  *presets.Catalog
	briefing *briefing.Generator
	cards    *scorecard.Cache
	port     string
}

// NewServer creates the HTTP API. st may be nil, in which case /health
// reports no ingest details.
func NewServer(svc *analysis.Service, st *store.Store, port string) *Server {
	return &Server{
		analysis: svc,
		store:    st,
		presets:  presets.Default(),
		cards:    scorecard.NewCache(cardCacheTTL, cardCacheItems, nil),
		port:     port,
	}
}

// SetPresets replaces the embedded preset catalog.
func (s *Server) SetPresets(c *presets.Catalog) {
	s.presets = c
}

// SetBriefing enables model-written briefings. Without a generator the
// briefing endpoint returns the template text.
func (s *Server) SetBriefing(g *briefing.Generator) {
	s.briefing = g
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/weather/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/v1/weather/simulate", s.handleSimulate)
	mux.HandleFunc("GET /api/v1/weather/locations", s.handleLocations)
	mux.HandleFunc("GET /api/v1/travel/analyze", s.handleTravel)
	mux.HandleFunc("GET /api/v1/presets", s.handlePresets)
	mux.HandleFunc("GET /api/v1/analyses", s.handleAnalyses)
	mux.HandleFunc("GET /api/v1/analyses/{id}", s.handleAnalysis)
	mux.HandleFunc("GET /api/v1/analyses/{id}/card.png", s.handleCard)
	mux.HandleFunc("GET /api/v1/analyses/{id}/briefing", s.handleBriefing)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on :%s", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

type errorResponse struct {
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
}

// writeError maps err to a status code. Server-side failures are logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		log.Printf("api: %s %s: %v", r.Method, r.URL.Path, err)
	}
	resp := errorResponse{Error: err.Error()}
	var unknown *presets.UnknownPresetError
	if errors.As(err, &unknown) {
		resp.Suggestion = unknown.Suggestion
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	var unknown *presets.UnknownPresetError
	var invalid *suitability.InvalidPresetError
	var bad *badRequestError
	switch {
	case errors.As(err, &bad),
		errors.Is(err, analysis.ErrInvalidRequest),
		errors.As(err, &unknown),
		errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ingest.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "fairweather",
		"endpoints": []string{
			"/api/v1/weather/analyze",
			"/api/v1/weather/simulate",
			"/api/v1/weather/locations",
			"/api/v1/travel/analyze",
			"/api/v1/presets",
			"/api/v1/analyses",
			"/api/v1/analyses/{id}",
			"/api/v1/analyses/{id}/card.png",
			"/api/v1/analyses/{id}/briefing",
			"/health",
			"/metrics",
		},
	})
}

type SourceHealth struct {
	Source      string     `json:"source"`
	Endpoint    string     `json:"endpoint"`
	Runs        int        `json:"runs"`
	Failures    int        `json:"failures"`
	Records     int64      `json:"records"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
}

// RecentFailure is a failed provider call from the audit log.
type RecentFailure struct {
	Source    string    `json:"source"`
	Location  string    `json:"location,omitempty"`
	Error     string    `json:"error"`
	StartedAt time.Time `json:"started_at"`
}

type HealthStatus struct {
	Status         string                 `json:"status"`
	Sources        []SourceHealth         `json:"sources,omitempty"`
	RecentFailures []RecentFailure        `json:"recent_failures,omitempty"`
	Payloads       *store.RawPayloadStats `json:"payloads,omitempty"`
	Analyses       map[string]int         `json:"analyses,omitempty"`
	Sessions       int                    `json:"sessions"`
	Presets        int                    `json:"presets"`
	BriefingModel  bool                   `json:"briefing_model"`
	SchemaVersion  int                    `json:"schema_version,omitempty"`
	Errors         []string               `json:"errors,omitempty"`
	CheckedAt      time.Time              `json:"checked_at"`
}

func nonZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:        "ok",
		Sessions:      s.analysis.Sessions(),
		Presets:       len(s.presets.Names()),
		BriefingModel: s.briefing != nil,
		CheckedAt:     time.Now().UTC(),
	}

	if s.store != nil {
		if v, err := s.store.MigrationVersion(); err != nil {
			health.Errors = append(health.Errors, "migrations: "+err.Error())
		} else {
			health.SchemaVersion = v
		}

		sources, err := s.store.IngestHealthSince(time.Now().Add(-24 * time.Hour))
		if err != nil {
			health.Errors = append(health.Errors, "ingest: "+err.Error())
		}
		for _, h := range sources {
			if h.Degraded() {
				health.Status = "degraded"
			}
			health.Sources = append(health.Sources, SourceHealth{
				Source:      h.Source,
				Endpoint:    h.Endpoint,
				Runs:        h.Runs,
				Failures:    h.Failures,
				Records:     h.Records,
				LastSuccess: nonZero(h.LastSuccess),
				LastFailure: nonZero(h.LastFailure),
			})
		}

		failures, err := s.store.GetRecentIngestErrors(5)
		if err != nil {
			health.Errors = append(health.Errors, "ingest errors: "+err.Error())
		}
		for _, f := range failures {
			health.RecentFailures = append(health.RecentFailures, RecentFailure{
				Source:    f.Source,
				Location:  f.LocationKey.String,
				Error:     f.ErrorMessage.String,
				StartedAt: f.StartedAt,
			})
		}

		if stats, err := s.store.GetRawPayloadStats(); err != nil {
			health.Errors = append(health.Errors, "payloads: "+err.Error())
		} else {
			health.Payloads = stats
		}

		counts, err := s.store.AnalysisCounts()
		if err != nil {
			health.Errors = append(health.Errors, "analyses: "+err.Error())
		} else {
			health.Analyses = counts
		}
	}

	status := http.StatusOK
	if len(health.Errors) > 0 {
		health.Status = "error"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
