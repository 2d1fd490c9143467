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

// CouponServiceInterface defines the coupon lifecycle operations used by admins.
type CouponServiceInterface interface {
	CreateBatch(ctx context.Context, tenantID uuid.UUID, req *model.CreateCouponsRequest) ([]model.Coupon, error)
	Get(ctx context.Context, tenantID, couponID uuid.UUID) (*model.Coupon, error)
	Transition(ctx context.Context, tenantID, couponID uuid.UUID, ev model.CouponEvent, note string) (*model.Coupon, error)
	ActivateRange(ctx context.Context, tenantID uuid.UUID, fromRef, toRef, note string) (*model.BatchActivationResult, error)
	ActivateBatch(ctx context.Context, tenantID uuid.UUID, references []string, note string) (*model.BatchActivationResult, error)
}

// AdminCouponHandler serves coupon management under /api/admin/coupons.
type AdminCouponHandler struct {
	service   CouponServiceInterface
	validator *validator.Validate
}

// NewAdminCouponHandler creates an AdminCouponHandler.
func NewAdminCouponHandler(svc CouponServiceInterface, v *validator.Validate) *AdminCouponHandler {
	return &AdminCouponHandler{service: svc, validator: v}
}

// Create handles POST /api/admin/coupons.
func (h *AdminCouponHandler) Create(c *fiber.Ctx) error {
	var req model.CreateCouponsRequest
	if err := bind(c, h.validator, &req); err != nil {
		return respondError(c, err)
	}

	coupons, err := h.service.CreateBatch(c.UserContext(), middleware.TenantID(c), &req)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusCreated, coupons)
}

// Get handles GET /api/admin/coupons/:id.
func (h *AdminCouponHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return respondError(c, service.ErrCouponNotFound)
	}
	coupon, err := h.service.Get(c.UserContext(), middleware.TenantID(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, coupon)
}

// Transition returns the handler for POST /api/admin/coupons/:id/<ev>.
func (h *AdminCouponHandler) Transition(ev model.CouponEvent) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return respondError(c, service.ErrCouponNotFound)
		}
		var req model.TransitionRequest
		if len(c.Body()) > 0 {
			if err := bind(c, h.validator, &req); err != nil {
				return respondError(c, err)
			}
		}

		coupon, err := h.service.Transition(c.UserContext(), middleware.TenantID(c), id, ev, req.Note)
		if err != nil {
			return respondError(c, err)
		}
		return respond(c, fiber.StatusOK, coupon)
	}
}

// ActivateRange handles POST /api/admin/coupons/activate-range.
func (h *AdminCouponHandler) ActivateRange(c *fiber.Ctx) error {
	var req model.ActivateRangeRequest
	if err := bind(c, h.validator, &req); err != nil {
		return respondError(c, err)
	}

	res, err := h.service.ActivateRange(c.UserContext(), middleware.TenantID(c), req.FromRef, req.ToRef, req.Note)
	if err != nil {
		return respondError(c, err)
	}

	log.Info().
		Str("request_id", requestID(c)).
		Str("from", req.FromRef).
		Str("to", req.ToRef).
		Int("activated", res.Activated).
		Msg("coupon range activated")
	return respond(c, fiber.StatusOK, res)
}

// ActivateBatch handles POST /api/admin/coupons/activate-batch.
func (h *AdminCouponHandler) ActivateBatch(c *fiber.Ctx) error {
	var req model.ActivateBatchRequest
	if err := bind(c, h.validator, &req); err != nil {
		return respondError(c, err)
	}

	res, err := h.service.ActivateBatch(c.UserContext(), middleware.TenantID(c), req.References, req.Note)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, res)
}
