package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/render"

	"github.com/hed1ad/tradeguard/pkg/engine"
	tgio "github.com/hed1ad/tradeguard/pkg/io"
	"github.com/hed1ad/tradeguard/pkg/market"
	"github.com/hed1ad/tradeguard/pkg/risk"
)

// FilterRequest selects records from the configured source.
type FilterRequest struct {
	Ticker string `json:"ticker,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (f FilterRequest) filter() (market.Filter, error) {
	out := market.Filter{Ticker: f.Ticker, Limit: f.Limit}
	if f.Limit < 0 {
		return out, errors.New("filter.limit must not be negative")
	}
	if f.From != "" {
		d, err := market.ParseDate(f.From)
		if err != nil {
			return out, fmt.Errorf("filter.from: %w", err)
		}
		out.From = d
	}
	if f.To != "" {
		d, err := market.ParseDate(f.To)
		if err != nil {
			return out, fmt.Errorf("filter.to: %w", err)
		}
		out.To = d
	}
	return out, nil
}

// DetectRequest is the body of POST /api/v1/anomalies/detect. When Records
// is absent the batch comes from the source, or from sample data.
type DetectRequest struct {
	Records []market.FeatureRecord `json:"records"`
	Filter  FilterRequest          `json:"filter"`
	Persist bool                   `json:"persist"`
	Top     *int                   `json:"top,omitempty"`
}

// DetectResponse is returned by the detect endpoint.
type DetectResponse struct {
	Source    string                 `json:"source"`
	Results   []engine.AnomalyResult `json:"results"`
	Summary   engine.Summary         `json:"summary"`
	Persisted int                    `json:"persisted"`
	Model     engine.Status          `json:"model"`
}

// RetrainRequest is the body of POST /api/v1/model/retrain.
type RetrainRequest struct {
	Records []market.FeatureRecord `json:"records"`
	Filter  FilterRequest          `json:"filter"`
}

// RetrainResponse reports the newly published model.
type RetrainResponse struct {
	Source  string        `json:"source"`
	Records int           `json:"records"`
	Model   engine.Status `json:"model"`
}

// RiskLevelResponse is returned by GET /api/v1/risk-level.
type RiskLevelResponse struct {
	Score     float64          `json:"score"`
	RiskLevel risk.Level       `json:"risk_level"`
	Table     []risk.Threshold `json:"thresholds"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status       string `json:"status"`
	ModelTrained bool   `json:"model_trained"`
}

// decode reads an optional JSON body into v. An empty body leaves v as is.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &badRequestError{err: fmt.Errorf("decode body: %w", err)}
	}
	return nil
}

// handleDetect handles POST /api/v1/anomalies/detect
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	filter, err := req.Filter.filter()
	if err != nil {
		s.writeError(w, r, &badRequestError{err: err})
		return
	}
	top := DefaultTopN
	if req.Top != nil {
		top = *req.Top
	}

	ctx := r.Context()
	records, origin, err := s.records(ctx, req.Records, filter)
	if err != nil {
		s.writeError(w, r, &sourceError{err: err})
		return
	}

	results, err := s.manager.Detect(ctx, records)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := DetectResponse{
		Source:  origin,
		Results: results,
		Summary: engine.Summarize(results, top),
		Model:   s.manager.Status(),
	}

	if req.Persist {
		if s.sink == nil {
			s.writeError(w, r, &badRequestError{err: errors.New("persist requested but no sink is configured")})
			return
		}
		n, err := tgio.PersistAll(ctx, s.sink, results)
		resp.Persisted = n
		if err != nil {
			s.logger.Warn().Err(err).Int("persisted", n).Int("results", len(results)).Msg("some results were not persisted")
		}
	}

	render.JSON(w, r, resp)
}

// handleRetrain handles POST /api/v1/model/retrain
func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	var req RetrainRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	filter, err := req.Filter.filter()
	if err != nil {
		s.writeError(w, r, &badRequestError{err: err})
		return
	}

	ctx := r.Context()
	records, origin, err := s.records(ctx, req.Records, filter)
	if err != nil {
		s.writeError(w, r, &sourceError{err: err})
		return
	}

	if err := s.manager.Retrain(ctx, records); err != nil {
		s.writeError(w, r, err)
		return
	}

	render.JSON(w, r, RetrainResponse{
		Source:  origin,
		Records: len(records),
		Model:   s.manager.Status(),
	})
}

// handleModel handles GET /api/v1/model
func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.manager.Status())
}

// handleRiskLevel handles GET /api/v1/risk-level?score=0.7
func (s *Server) handleRiskLevel(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("score")
	if raw == "" {
		s.writeError(w, r, &badRequestError{err: errors.New("score query parameter is required")})
		return
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
		s.writeError(w, r, &badRequestError{err: fmt.Errorf("score %q is not a finite number", raw)})
		return
	}

	render.JSON(w, r, RiskLevelResponse{
		Score:     score,
		RiskLevel: s.manager.RiskLevelFor(score),
		Table:     s.manager.Table().Thresholds(),
	})
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthResponse{
		Status:       "ok",
		ModelTrained: s.manager.Status().Trained,
	})
}
