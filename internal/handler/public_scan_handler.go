package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mscan/mscan-core/internal/middleware"
	"github.com/mscan/mscan-core/internal/model"
	"github.com/mscan/mscan-core/internal/service"
)

// SessionServiceInterface defines the scan session operations used by the public API.
type SessionServiceInterface interface {
	Start(ctx context.Context, tenantID uuid.UUID, couponCode, clientIP string) (*model.StartScanResponse, error)
	SubmitMobile(ctx context.Context, tenantID, sessionID uuid.UUID, mobile string) error
	Get(ctx context.Context, tenantID, sessionID uuid.UUID) (*model.ScanSession, error)
}

// SessionRedeemer completes a scan session.
type SessionRedeemer interface {
	Redeem(ctx context.Context, tenantID, sessionID uuid.UUID, code string) (*model.RedemptionResult, error)
}

// PublicScanHandler serves the unauthenticated scan flow under /api/public-scan.
type PublicScanHandler struct {
	sessions  SessionServiceInterface
	redeemer  SessionRedeemer
	validator *validator.Validate
}

// NewPublicScanHandler creates a PublicScanHandler.
func NewPublicScanHandler(sessions SessionServiceInterface, redeemer SessionRedeemer, v *validator.Validate) *PublicScanHandler {
	return &PublicScanHandler{sessions: sessions, redeemer: redeemer, validator: v}
}

// Start handles POST /api/public-scan/start.
func (h *PublicScanHandler) Start(c *fiber.Ctx) error {
	var req model.StartScanRequest
	if err := bind(c, h.validator, &req); err != nil {
		return respondError(c, err)
	}

	resp, err := h.sessions.Start(c.UserContext(), middleware.TenantID(c), req.CouponCode, c.IP())
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, resp)
}

// SubmitMobile handles POST /api/public-scan/:sessionId/mobile.
func (h *PublicScanHandler) SubmitMobile(c *fiber.Ctx) error {
	sessionID, ok := sessionParam(c)
	if !ok {
		return respondError(c, service.ErrSessionNotFound)
	}
	var req model.SubmitMobileRequest
	if err := bind(c, h.validator, &req); err != nil {
		return respondError(c, err)
	}

	if err := h.sessions.SubmitMobile(c.UserContext(), middleware.TenantID(c), sessionID, req.MobileNumber); err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, fiber.Map{"message": "OTP sent"})
}

// VerifyOTP handles POST /api/public-scan/:sessionId/verify-otp.
func (h *PublicScanHandler) VerifyOTP(c *fiber.Ctx) error {
	sessionID, ok := sessionParam(c)
	if !ok {
		return respondError(c, service.ErrSessionNotFound)
	}
	var req model.VerifyOTPRequest
	if err := bind(c, h.validator, &req); err != nil {
		return respondError(c, err)
	}

	res, err := h.redeemer.Redeem(c.UserContext(), middleware.TenantID(c), sessionID, req.OTP)
	if err != nil {
		return respondError(c, err)
	}

	log.Info().
		Str("request_id", requestID(c)).
		Str("session_id", sessionID.String()).
		Int("points", res.PointsAwarded).
		Msg("public scan completed")
	return respond(c, fiber.StatusOK, res)
}

// GetSession handles GET /api/public-scan/:sessionId.
func (h *PublicScanHandler) GetSession(c *fiber.Ctx) error {
	sessionID, ok := sessionParam(c)
	if !ok {
		return respondError(c, service.ErrSessionNotFound)
	}

	session, err := h.sessions.Get(c.UserContext(), middleware.TenantID(c), sessionID)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, session)
}

// sessionParam parses :sessionId. Malformed ids are reported as unknown sessions.
func sessionParam(c *fiber.Ctx) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params("sessionId"))
	return id, err == nil
}
