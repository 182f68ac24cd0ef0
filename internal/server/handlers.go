package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/fewknow/internal/jobs"
	"github.com/jonathan/fewknow/internal/market"
	"github.com/jonathan/fewknow/internal/types"
)

// maxRequestBody caps analyze request bodies
const maxRequestBody = 1 << 16

var tickerPattern = regexp.MustCompile(`^[A-Za-z0-9.\-]{1,10}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
		return tickerPattern.MatchString(fl.Field().String())
	})
	return v
}

// AnalyzeRequest represents the request body for /api/analyze
type AnalyzeRequest struct {
	Ticker string `json:"ticker" validate:"required,ticker"`
}

// AnalyzeResponse represents the response for /api/analyze
type AnalyzeResponse struct {
	JobID    string          `json:"job_id"`
	Status   types.JobStatus `json:"status"`
	Progress string          `json:"progress"`
	Message  string          `json:"message"`
}

// ValidateResponse represents the response for /api/validate
type ValidateResponse struct {
	Valid       bool               `json:"valid"`
	Ticker      string             `json:"ticker"`
	CompanyInfo *types.CompanyInfo `json:"company_info,omitempty"`
}

// NotReadyResponse is returned by /api/result while a job has no result
type NotReadyResponse struct {
	Error    string          `json:"error"`
	Status   types.JobStatus `json:"status"`
	JobError *types.JobError `json:"job_error,omitempty"`
}

// HealthResponse represents the response for /health
type HealthResponse struct {
	Status  string `json:"status"`
	Jobs    int    `json:"jobs"`
	Version string `json:"version"`
}

// checkTicker validates the ticker format and returns it normalized
func checkTicker(raw string) (string, error) {
	req := AnalyzeRequest{Ticker: strings.TrimSpace(raw)}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "required" {
			return "", &ErrValidation{Field: "ticker", Message: "ticker is required"}
		}
		return "", &ErrValidation{Field: "ticker", Message: "must be 1-10 letters, digits, '.' or '-'"}
	}
	return jobs.NormalizeTicker(req.Ticker), nil
}

// handleRoot returns the service banner
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"service": ServiceName,
		"status":  "running",
		"version": s.cfg.Version,
		"routes": []string{
			"POST /api/analyze",
			"GET /api/status/{job_id}",
			"GET /api/result/{job_id}",
			"GET /api/validate/{ticker}",
			"GET /api/stream/{job_id}",
			"GET /ws/{job_id}",
			"GET /health",
		},
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Jobs:    s.deps.Jobs.Len(),
		Version: s.cfg.Version,
	})
}

// handleAnalyze creates a job and starts its pipeline in the background
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, &ErrValidation{Field: "body", Message: "invalid JSON request body"})
		return
	}

	ticker, err := checkTicker(req.Ticker)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	snap, err := s.deps.Runner.Start(ticker)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info().
		Str("job_id", snap.JobID).
		Str("ticker", snap.Ticker).
		Msg("Analysis started")

	s.jsonResponse(w, http.StatusOK, AnalyzeResponse{
		JobID:    snap.JobID,
		Status:   snap.Status,
		Progress: snap.ProgressLabel(),
		Message:  "Analysis started",
	})
}

// handleStatus returns the current job snapshot
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Jobs.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, snap.View())
}

// handleResult returns the result of a completed job
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Jobs.Result(r.PathValue("id"))
	var notReady *jobs.NotReadyError
	switch {
	case errors.As(err, &notReady):
		resp := NotReadyResponse{
			Error:    "Analysis not completed",
			Status:   notReady.Status,
			JobError: notReady.Err,
		}
		if notReady.Status == types.StatusFailed {
			resp.Error = "Analysis failed"
		}
		s.jsonResponse(w, http.StatusConflict, resp)
	case err != nil:
		s.writeError(w, r, err)
	default:
		s.jsonResponse(w, http.StatusOK, result)
	}
}

// handleValidate checks a ticker against the market provider without starting a job
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	ticker, err := checkTicker(r.PathValue("ticker"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Lookup == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Ticker lookup not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.LookupTimeout)
	defer cancel()

	info, err := s.deps.Lookup.Lookup(ctx, ticker)
	switch {
	case errors.Is(err, market.ErrTickerNotFound) || (err == nil && info == nil):
		s.jsonResponse(w, http.StatusOK, ValidateResponse{Valid: false, Ticker: ticker})
	case err != nil:
		s.logger.Warn().Err(err).Str("ticker", ticker).Msg("Ticker lookup failed")
		s.errorResponse(w, http.StatusBadGateway, "Unable to validate ticker")
	default:
		s.jsonResponse(w, http.StatusOK, ValidateResponse{Valid: true, Ticker: ticker, CompanyInfo: info})
	}
}
