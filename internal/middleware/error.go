package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quote-tracker/internal/domain"
	"quote-tracker/internal/service/auth"
)

type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
}

type transitionDetails struct {
	Current   domain.Status    `json:"current_status"`
	Requested domain.EventKind `json:"requested"`
}

// NewErrorHandler maps domain and auth errors to HTTP responses. Unexpected
// errors are logged with the trace id returned to the client.
func NewErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, resp := classify(err)
		resp.TraceID = uuid.New().String()[:8]

		if status >= fiber.StatusInternalServerError {
			log.Error().Err(err).
				Str("trace_id", resp.TraceID).
				Str("method", c.Method()).
				Str("path", c.Path()).
				Msg("request failed")
		}
		if status == fiber.StatusServiceUnavailable {
			c.Set(fiber.HeaderRetryAfter, "1")
		}

		return c.Status(status).JSON(resp)
	}
}

func classify(err error) (int, ErrorResponse) {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, ErrorResponse{Code: codeForStatus(fiberErr.Code), Message: fiberErr.Message}
	}

	var denied *domain.TransitionDeniedError
	if errors.As(err, &denied) {
		code := "TRANSITION_DENIED"
		if denied.Terminal || denied.Current.IsTerminal() {
			code = "ALREADY_FINAL"
		}
		return fiber.StatusConflict, ErrorResponse{
			Code:    code,
			Message: denied.UserMessage(),
			Details: transitionDetails{Current: denied.Current, Requested: denied.Requested},
		}
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, ErrorResponse{Code: "NOT_FOUND", Message: capitalize(err.Error())}

	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, domain.ErrConflictRetry):
		return fiber.StatusServiceUnavailable, ErrorResponse{
			Code:    "STORE_UNAVAILABLE",
			Message: "The service is temporarily unavailable, please try again",
		}

	case errors.Is(err, domain.ErrIdempotencyReused):
		return fiber.StatusUnprocessableEntity, ErrorResponse{Code: "IDEMPOTENCY_KEY_REUSED", Message: capitalize(err.Error())}

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidEventKind),
		errors.Is(err, domain.ErrMetaMismatch),
		errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, domain.ErrInvalidPDF),
		errors.Is(err, domain.ErrMissingClientEmail):
		return fiber.StatusUnprocessableEntity, ErrorResponse{Code: "VALIDATION_ERROR", Message: capitalize(err.Error())}

	case errors.Is(err, domain.ErrQuoteLocked),
		errors.Is(err, domain.ErrQuoteTrashed),
		errors.Is(err, domain.ErrDuplicateEvent),
		errors.Is(err, auth.ErrEmailExists):
		return fiber.StatusConflict, ErrorResponse{Code: "CONFLICT", Message: capitalize(err.Error())}

	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInactiveUser):
		return fiber.StatusUnauthorized, ErrorResponse{Code: "UNAUTHORIZED", Message: capitalize(err.Error())}
	}

	return fiber.StatusInternalServerError, ErrorResponse{Code: "INTERNAL_ERROR", Message: "Internal server error"}
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "BAD_REQUEST"
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusForbidden:
		return "FORBIDDEN"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusConflict:
		return "CONFLICT"
	case fiber.StatusUnprocessableEntity:
		return "VALIDATION_ERROR"
	case fiber.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	}
	if status >= fiber.StatusInternalServerError {
		return "INTERNAL_ERROR"
	}
	return "ERROR"
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

func BadRequest(message string) *fiber.Error {
	return fiber.NewError(fiber.StatusBadRequest, message)
}

func Unauthorized(message string) *fiber.Error {
	return fiber.NewError(fiber.StatusUnauthorized, message)
}

func Forbidden(message string) *fiber.Error {
	return fiber.NewError(fiber.StatusForbidden, message)
}

func NotFound(message string) *fiber.Error {
	return fiber.NewError(fiber.StatusNotFound, message)
}
