package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/mscan/mscan-core/internal/service"
	mvalidator "github.com/mscan/mscan-core/internal/validator"
)

// envelope is the body of every API response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

func respond(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(envelope{Success: true, Data: data})
}

func respondFailure(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(envelope{Success: false, Code: code, Message: message})
}

// respondError maps err to its HTTP status and error code. Unknown errors are
// logged and reported as 500 without their details.
func respondError(c *fiber.Ctx, err error) error {
	if e, ok := service.AsError(err); ok {
		return respondFailure(c, e.Status, e.Code, e.Message)
	}
	if isTimeout(err) {
		log.Warn().
			Err(err).
			Str("request_id", requestID(c)).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg("request timed out")
		u := service.ErrUnavailable
		return respondFailure(c, u.Status, u.Code, u.Message)
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return respondFailure(c, fe.Code, fiberErrorCode(fe.Code), fe.Message)
	}

	log.Error().
		Err(err).
		Str("request_id", requestID(c)).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Msg("request failed")
	return respondFailure(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

// ErrorHandler renders errors returned by handlers and middleware.
func ErrorHandler(c *fiber.Ctx, err error) error {
	return respondError(c, err)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err)
}

func fiberErrorCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return "VALIDATION_ERROR"
	default:
		if status >= fiber.StatusInternalServerError {
			return "INTERNAL_ERROR"
		}
		return "HTTP_ERROR"
	}
}

func requestID(c *fiber.Ctx) string {
	return c.GetRespHeader(fiber.HeaderXRequestID)
}

// bind parses the JSON body into dst and validates it.
func bind(c *fiber.Ctx, v *validator.Validate, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return service.ErrValidation.WithMessage("invalid request body")
	}
	if err := v.Struct(dst); err != nil {
		return service.ErrValidation.WithMessage(mvalidator.Describe(err))
	}
	return nil
}
