// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them rather
// than on messages. Service sentinels are translated in one place
// (failErr) so every endpoint reports the same condition the same way.
package handlers

import (
	"errors"
	"net/http"

	"github.com/tbourn/pos-device-bridge/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeSessionNotFound     = "session_not_found"
	ErrCodeUpstreamUnavailable = "upstream_unavailable"
	ErrCodeInvalidTransition   = "invalid_transition"
	ErrCodePrintJobExhausted   = "print_job_exhausted"
	ErrCodeMissingDevice       = "missing_device"
	ErrCodeUnavailable         = "unavailable"
	ErrCodeRequestInProgress   = "request_in_progress"
	ErrCodeMethodNotAllowed    = "method_not_allowed"
)

type errMapping struct {
	target error
	status int
	code   string
}

var errTable = []errMapping{
	{services.ErrInvalidInput, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrForbidden, http.StatusForbidden, ErrCodeForbidden},
	{services.ErrOrderNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrItemNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrPrintEventNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrInvalidTransition, http.StatusConflict, ErrCodeInvalidTransition},
	{services.ErrPrintJobExhausted, http.StatusConflict, ErrCodePrintJobExhausted},
	{services.ErrIdempotencyInProgress, http.StatusConflict, ErrCodeRequestInProgress},
	{services.ErrMissingDevice, http.StatusUnprocessableEntity, ErrCodeMissingDevice},
	{services.ErrSessionNotFound, http.StatusServiceUnavailable, ErrCodeSessionNotFound},
	{services.ErrUpstreamUnavailable, http.StatusBadGateway, ErrCodeUpstreamUnavailable},
	{services.ErrQueueClosed, http.StatusServiceUnavailable, ErrCodeUnavailable},
}

// statusFor maps a service error to its HTTP status and code. Unknown errors
// are internal.
func statusFor(err error) (int, string) {
	for _, m := range errTable {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, ErrCodeInternal
}
