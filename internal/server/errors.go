package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/hed1ad/tradeguard/pkg/detectors/iforest"
	"github.com/hed1ad/tradeguard/pkg/engine"
	"github.com/hed1ad/tradeguard/pkg/market"
)

// Problem types, RFC 7807 style.
const (
	TypeBadRequest       = "/errors/bad-request"
	TypeValidation       = "/errors/validation"
	TypeInsufficientData = "/errors/insufficient-data"
	TypeModelUnavailable = "/errors/model-unavailable"
	TypeSource           = "/errors/source"
	TypeRateLimit        = "/errors/rate-limit"
	TypeTimeout          = "/errors/timeout"
	TypeInternal         = "/errors/internal"
)

// Problem is the JSON error body.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type badRequestError struct{ err error }

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

type sourceError struct{ err error }

func (e *sourceError) Error() string { return "fetch records: " + e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

// problemFor maps err to a status and problem type. Client-side causes win
// over ModelUnavailableError so an untrained server still reports bad input
// as such.
func problemFor(err error) (int, string, string) {
	var (
		badReq   *badRequestError
		invalid  *market.ValidationError
		tooSmall *iforest.InsufficientDataError
		noModel  *engine.ModelUnavailableError
		srcErr   *sourceError
	)

	switch {
	case errors.As(err, &badReq):
		return http.StatusBadRequest, TypeBadRequest, "Bad request"
	case errors.As(err, &invalid):
		return http.StatusBadRequest, TypeValidation, "Invalid record"
	case errors.As(err, &tooSmall):
		return http.StatusUnprocessableEntity, TypeInsufficientData, "Insufficient training data"
	case errors.As(err, &noModel):
		return http.StatusServiceUnavailable, TypeModelUnavailable, "Model unavailable"
	case errors.As(err, &srcErr):
		return http.StatusBadGateway, TypeSource, "Record source failed"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, TypeTimeout, "Request timed out"
	default:
		return http.StatusInternalServerError, TypeInternal, "Internal error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, typ, title := problemFor(err)
	reqID := middleware.GetReqID(r.Context())

	p := Problem{
		Type:      typ,
		Title:     title,
		Status:    status,
		Detail:    err.Error(),
		RequestID: reqID,
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("request_id", reqID).Str("path", r.URL.Path).Msg("request failed")
		if status == http.StatusInternalServerError {
			p.Detail = ""
		}
	}

	render.Status(r, status)
	render.JSON(w, r, p)
}
