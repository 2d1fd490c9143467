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

// CodeRedeemer redeems a coupon code for an authenticated identity.
type CodeRedeemer interface {
	RedeemCode(ctx context.Context, tenantID uuid.UUID, code, identity string, channel model.ScanChannel, appID *uuid.UUID) (*model.RedemptionResult, error)
}

// PartnerHandler serves redemptions made by partner apps.
type PartnerHandler struct {
	redeemer  CodeRedeemer
	validator *validator.Validate
}

// NewPartnerHandler creates a PartnerHandler.
func NewPartnerHandler(redeemer CodeRedeemer, v *validator.Validate) *PartnerHandler {
	return &PartnerHandler{redeemer: redeemer, validator: v}
}

// Scan handles POST /api/app/:appCode/scans.
func (h *PartnerHandler) Scan(c *fiber.Ctx) error {
	app := middleware.PartnerAppFrom(c)
	if app == nil {
		return respondError(c, service.ErrUnauthorized)
	}
	var req model.PartnerScanRequest
	if err := bind(c, h.validator, &req); err != nil {
		return respondError(c, err)
	}

	appID := app.ID
	res, err := h.redeemer.RedeemCode(c.UserContext(), app.TenantID, req.CouponCode, req.UserIdentity, model.ChannelPartner, &appID)
	if err != nil {
		return respondError(c, err)
	}

	log.Info().
		Str("request_id", requestID(c)).
		Str("app_code", app.AppCode).
		Int("points", res.PointsAwarded).
		Msg("partner scan completed")
	return respond(c, fiber.StatusOK, res)
}
