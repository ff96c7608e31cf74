package rest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
)

// errorStatus maps an error to an HTTP status and response body. Domain
// errors carry their own status; request decoding errors are 400.
func errorStatus(err error) (int, *ErrorResponse) {
	if appErr, ok := errors.AsAppError(err); ok {
		status := appErr.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		body := &ErrorResponse{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Details:   appErr.Details,
			Retryable: appErr.Retryable,
		}
		if status >= http.StatusInternalServerError {
			// Causes of server side failures stay in the logs.
			body.Details = nil
		}
		return status, body
	}

	var syntaxErr *json.SyntaxError
	if stderrors.As(err, &syntaxErr) {
		return http.StatusBadRequest, &ErrorResponse{
			Code:    "INVALID_JSON",
			Message: "Invalid JSON syntax",
			Details: map[string]any{"offset": syntaxErr.Offset},
		}
	}
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &typeErr) {
		return http.StatusBadRequest, &ErrorResponse{
			Code:    "TYPE_MISMATCH",
			Message: fmt.Sprintf("Invalid type for field '%s'", typeErr.Field),
			Details: map[string]any{"expected": typeErr.Type.String(), "got": typeErr.Value},
		}
	}
	var maxBytesErr *http.MaxBytesError
	if stderrors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge, &ErrorResponse{
			Code:    "BODY_TOO_LARGE",
			Message: fmt.Sprintf("Request body too large (max %d bytes)", maxBytesErr.Limit),
		}
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return http.StatusRequestTimeout, &ErrorResponse{
			Code:      "REQUEST_TIMEOUT",
			Message:   "Request timed out",
			Retryable: true,
		}
	}

	return http.StatusInternalServerError, &ErrorResponse{
		Code:    "INTERNAL_ERROR",
		Message: "An internal error occurred",
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	} else {
		s.logger.Debug("Request rejected",
			zap.String("path", r.URL.Path),
			zap.String("code", body.Code),
			zap.Error(err),
		)
	}
	s.write(w, status, ResponseEnvelope{Success: false, Error: body, Meta: s.meta(r)})
}
