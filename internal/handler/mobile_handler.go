package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/mscan/mscan-core/internal/middleware"
	"github.com/mscan/mscan-core/internal/model"
	"github.com/mscan/mscan-core/internal/service"
)

const maxStatementLimit = 200

// AuthServiceInterface defines the mobile login operations.
type AuthServiceInterface interface {
	RequestLoginOTP(ctx context.Context, tenantID uuid.UUID, mobile string) error
	VerifyLoginOTP(ctx context.Context, tenantID uuid.UUID, mobile, code string) (*model.TokenResponse, error)
}

// CreditServiceInterface defines the credit operations exposed to consumers.
type CreditServiceInterface interface {
	Statement(ctx context.Context, tenantID uuid.UUID, identity string, limit int) (*model.CreditStatement, error)
	Debit(ctx context.Context, tenantID uuid.UUID, identity string, amount int64, reference string) (*model.CreditBalance, error)
}

// MobileHandler serves the consumer mobile app under /api/mobile/v1.
type MobileHandler struct {
	auth      AuthServiceInterface
	redeemer  CodeRedeemer
	credits   CreditServiceInterface
	validator *validator.Validate
}

// NewMobileHandler creates a MobileHandler.
func NewMobileHandler(auth AuthServiceInterface, redeemer CodeRedeemer, credits CreditServiceInterface, v *validator.Validate) *MobileHandler {
	return &MobileHandler{auth: auth, redeemer: redeemer, credits: credits, validator: v}
}

// RequestOTP handles POST /api/mobile/v1/auth/otp.
func (h *MobileHandler) RequestOTP(c *fiber.Ctx) error {
	var req model.LoginOTPRequest
	if err := bind(c, h.validator, &req); err != nil {
		return respondError(c, err)
	}
	if err := h.auth.RequestLoginOTP(c.UserContext(), middleware.TenantID(c), req.MobileNumber); err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, fiber.Map{"message": "OTP sent"})
}

// VerifyOTP handles POST /api/mobile/v1/auth/verify.
func (h *MobileHandler) VerifyOTP(c *fiber.Ctx) error {
	var req model.LoginVerifyRequest
	if err := bind(c, h.validator, &req); err != nil {
		return respondError(c, err)
	}
	token, err := h.auth.VerifyLoginOTP(c.UserContext(), middleware.TenantID(c), req.MobileNumber, req.OTP)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, token)
}

// Scan handles POST /api/mobile/v1/scan/.
func (h *MobileHandler) Scan(c *fiber.Ctx) error {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		return respondError(c, service.ErrUnauthorized)
	}
	var req model.MobileScanRequest
	if err := bind(c, h.validator, &req); err != nil {
		return respondError(c, err)
	}

	res, err := h.redeemer.RedeemCode(c.UserContext(), claims.TenantID, req.CouponCode, claims.Subject, model.ChannelMobile, nil)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, res)
}

// Credits handles GET /api/mobile/v1/credits?limit=N.
func (h *MobileHandler) Credits(c *fiber.Ctx) error {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		return respondError(c, service.ErrUnauthorized)
	}
	limit := c.QueryInt("limit", 0)
	if limit < 0 || limit > maxStatementLimit {
		return respondError(c, service.ErrValidation.WithMessage("invalid request: limit must be between 1 and 200"))
	}

	st, err := h.credits.Statement(c.UserContext(), claims.TenantID, claims.Subject, limit)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, st)
}

// Debit handles POST /api/mobile/v1/credits/debit.
func (h *MobileHandler) Debit(c *fiber.Ctx) error {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		return respondError(c, service.ErrUnauthorized)
	}
	var req model.DebitRequest
	if err := bind(c, h.validator, &req); err != nil {
		return respondError(c, err)
	}

	bal, err := h.credits.Debit(c.UserContext(), claims.TenantID, claims.Subject, req.Amount, req.Reference)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, bal)
}
