package api

import (
	"net/http"
	"time"

	"github.com/lox/fairweather/internal/models"
	"github.com/lox/fairweather/internal/scorecard"
)

// analysisSummary is one row of the recent analyses listing. The full result
// is available from the analysis endpoint.
type analysisSummary struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Location  models.Location `json:"location"`
	Date      string          `json:"date"`
	Path      string          `json:"path"`
	Strategy  string          `json:"strategy"`
	Preset    string          `json:"preset,omitempty"`
	Score     float64         `json:"suitability_score"`
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	limit, err := parseListQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := []analysisSummary{}
	if s.store != nil {
		recs, err := s.store.RecentAnalyses(limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		for _, rec := range recs {
			out = append(out, analysisSummary{
				ID:        rec.ID,
				CreatedAt: rec.CreatedAt,
				Location:  rec.Location,
				Date:      rec.Date,
				Path:      rec.Path,
				Strategy:  rec.Strategy,
				Preset:    rec.Preset,
				Score:     rec.Score,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string][]analysisSummary{"analyses": out})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	res, err := s.analysis.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if data, ok := s.cards.Get(id); ok {
		serveCard(w, data)
		return
	}

	res, err := s.analysis.Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := scorecard.Render(scorecard.FromResult(res))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.cards.Set(id, data)
	serveCard(w, data)
}

func serveCard(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

type briefingResponse struct {
	ID       string `json:"id"`
	Briefing string `json:"briefing"`
	Source   string `json:"source"`
}

func (s *Server) handleBriefing(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := s.analysis.Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	text, source := s.briefing.Briefing(r.Context(), res)
	writeJSON(w, http.StatusOK, briefingResponse{ID: id, Briefing: text, Source: source})
}
