package api

import (
	"errors"
	"net/http"

	"github.com/okian/mindshare/internal/adapters/repository"
	service "github.com/okian/mindshare/internal/app"
	model "github.com/okian/mindshare/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrLimitExceeded = errors.New("limit exceeded")
)

// Error codes written in error bodies.
const (
	codeBadRequest      = "bad_request"
	codeLimitExceeded   = "limit_exceeded"
	codeNotFound        = "not_found"
	codeNoData          = "no_data"
	codeDataUnavailable = "data_unavailable"
	codeRateLimited     = "rate_limited"
)

// classify maps an error to a status code and an error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrLimitExceeded):
		return http.StatusBadRequest, codeLimitExceeded
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidArgument),
		errors.Is(err, repository.ErrInvalidLimit),
		errors.Is(err, model.ErrUnknownMetric):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, service.ErrUnknownProject),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, service.ErrNoData):
		return http.StatusNotFound, codeNoData
	default:
		return http.StatusServiceUnavailable, codeDataUnavailable
	}
}
