package api

import (
	"net/http"

	"github.com/lox/fairweather/internal/models"
	"github.com/lox/fairweather/internal/suitability"
)

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := parseAnalyzeQuery(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Preset, err = s.parsePreset(q); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.analysis.Analyze(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := parseSimulateQuery(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	preset, err := s.parsePreset(q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	loc := models.Location{Latitude: *p.Latitude, Longitude: *p.Longitude}
	series, err := s.analysis.Simulate(loc, p.Days, preset, p.Session)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleTravel(w http.ResponseWriter, r *http.Request) {
	req, err := parseTravelQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.analysis.AnalyzeRoute(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]models.Location{"locations": models.SampleLocations})
}

type presetResponse struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Ranges      suitability.Ranges  `json:"ranges"`
	Weights     suitability.Weights `json:"weights"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	all := s.presets.All()
	out := make([]presetResponse, 0, len(all))
	for _, p := range all {
		resolved := p.Resolve()
		out = append(out, presetResponse{
			Name:        p.Name,
			Description: p.Description,
			Ranges:      resolved.Ranges,
			Weights:     resolved.Weights,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]presetResponse{"presets": out})
}
