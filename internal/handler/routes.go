package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mscan/mscan-core/internal/model"
)

// Routes groups the handlers and the middleware guarding them.
type Routes struct {
	Health     *HealthHandler
	PublicScan *PublicScanHandler
	Partner    *PartnerHandler
	Mobile     *MobileHandler
	Coupons    *AdminCouponHandler

	Tenant       fiber.Handler
	Consumer     fiber.Handler
	Admin        fiber.Handler
	PartnerKey   fiber.Handler
	StartLimit   fiber.Handler
	VerifyLimit  fiber.Handler
	PartnerLimit fiber.Handler
}

// adminEvents are the coupon events admins may trigger one coupon at a time.
var adminEvents = []model.CouponEvent{
	model.EventPrint,
	model.EventActivate,
	model.EventDeactivate,
	model.EventReactivate,
	model.EventExpire,
}

// Register mounts every API route on app.
func (r Routes) Register(app *fiber.App) {
	app.Get("/health", r.Health.Check)

	api := app.Group("/api", r.Tenant)

	scan := api.Group("/public-scan")
	scan.Post("/start", r.StartLimit, r.PublicScan.Start)
	scan.Post("/:sessionId/mobile", r.PublicScan.SubmitMobile)
	scan.Post("/:sessionId/verify-otp", r.VerifyLimit, r.PublicScan.VerifyOTP)
	scan.Get("/:sessionId", r.PublicScan.GetSession)

	api.Post("/app/:appCode/scans", r.PartnerKey, r.PartnerLimit, r.Partner.Scan)

	mobile := api.Group("/mobile/v1")
	mobile.Post("/auth/otp", r.Mobile.RequestOTP)
	mobile.Post("/auth/verify", r.Mobile.VerifyOTP)
	mobile.Post("/scan", r.Consumer, r.Mobile.Scan)
	mobile.Get("/credits", r.Consumer, r.Mobile.Credits)
	mobile.Post("/credits/debit", r.Consumer, r.Mobile.Debit)

	coupons := api.Group("/admin/coupons", r.Admin)
	coupons.Post("/", r.Coupons.Create)
	coupons.Post("/activate-range", r.Coupons.ActivateRange)
	coupons.Post("/activate-batch", r.Coupons.ActivateBatch)
	coupons.Get("/:id", r.Coupons.Get)
	for _, ev := range adminEvents {
		coupons.Post("/:id/"+string(ev), r.Coupons.Transition(ev))
	}
}
