package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 1 << 20

// StatusError carries a non-2xx response that was consumed before the
// caller could classify it, e.g. by the circuit breaker.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, truncate(e.Body, 256))
}

// upstreamErrorResponse matches the {"error":{"code","message"}} envelope
// written by pkg/httputil and by the identity service.
type upstreamErrorResponse struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ReadBody drains and closes resp.Body up to the error body cap.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
}

// ParseResponseError reads a non-2xx response and maps it to an AppError so
// callers can classify it with apperrors.IsRateLimited, IsTransient and
// IsPermanent. The body is consumed and closed.
func ParseResponseError(resp *http.Response, upstream string) error {
	body, err := ReadBody(resp)
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", upstream, resp.StatusCode, err)
	}
	return MapStatus(resp.StatusCode, body, upstream)
}

// MapStatus maps an upstream status and body to an AppError.
func MapStatus(status int, body []byte, upstream string) error {
	message := string(truncate(body, 512))
	code := ""
	var parsed upstreamErrorResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
		code, message = parsed.Error.Code, parsed.Error.Message
	}
	qualified := fmt.Sprintf("%s: %s", upstream, message)

	switch {
	case status == http.StatusNotFound:
		return apperrors.NotFound(upstream, message)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return apperrors.InvalidInput(qualified)
	case status == http.StatusConflict:
		return apperrors.Conflict(qualified)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(qualified)
	case status == http.StatusForbidden:
		return apperrors.Forbidden(qualified)
	case status == http.StatusTooManyRequests:
		return apperrors.RateLimited(qualified)
	case status >= 500:
		return apperrors.Unavailable(qualified, &StatusError{Status: status, Body: body})
	default:
		return &apperrors.AppError{
			Code:    code,
			Message: qualified,
			Status:  status,
		}
	}
}

// IsClientError reports whether status is a 4xx.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
