package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mscan/mscan-core/internal/middleware"
	"github.com/mscan/mscan-core/internal/model"
)

var testTenant = &model.Tenant{ID: uuid.MustParse("11111111-1111-1111-1111-111111111111"), Slug: "acme", Status: model.TenantActive}

// mockSessionService is a mock implementation of SessionServiceInterface.
type mockSessionService struct {
	startFn        func(ctx context.Context, tenantID uuid.UUID, couponCode, clientIP string) (*model.StartScanResponse, error)
	submitMobileFn func(ctx context.Context, tenantID, sessionID uuid.UUID, mobile string) error
	getFn          func(ctx context.Context, tenantID, sessionID uuid.UUID) (*model.ScanSession, error)
}

func (m *mockSessionService) Start(ctx context.Context, tenantID uuid.UUID, couponCode, clientIP string) (*model.StartScanResponse, error) {
	if m.startFn != nil {
		return m.startFn(ctx, tenantID, couponCode, clientIP)
	}
	return &model.StartScanResponse{SessionID: uuid.New()}, nil
}

func (m *mockSessionService) SubmitMobile(ctx context.Context, tenantID, sessionID uuid.UUID, mobile string) error {
	if m.submitMobileFn != nil {
		return m.submitMobileFn(ctx, tenantID, sessionID, mobile)
	}
	return nil
}

func (m *mockSessionService) Get(ctx context.Context, tenantID, sessionID uuid.UUID) (*model.ScanSession, error) {
	if m.getFn != nil {
		return m.getFn(ctx, tenantID, sessionID)
	}
	return nil, nil
}

// mockRedeemer implements SessionRedeemer and CodeRedeemer.
type mockRedeemer struct {
	redeemFn     func(ctx context.Context, tenantID, sessionID uuid.UUID, code string) (*model.RedemptionResult, error)
	redeemCodeFn func(ctx context.Context, tenantID uuid.UUID, code, identity string, channel model.ScanChannel, appID *uuid.UUID) (*model.RedemptionResult, error)
}

func (m *mockRedeemer) Redeem(ctx context.Context, tenantID, sessionID uuid.UUID, code string) (*model.RedemptionResult, error) {
	if m.redeemFn != nil {
		return m.redeemFn(ctx, tenantID, sessionID, code)
	}
	return &model.RedemptionResult{}, nil
}

func (m *mockRedeemer) RedeemCode(ctx context.Context, tenantID uuid.UUID, code, identity string, channel model.ScanChannel, appID *uuid.UUID) (*model.RedemptionResult, error) {
	if m.redeemCodeFn != nil {
		return m.redeemCodeFn(ctx, tenantID, code, identity, channel, appID)
	}
	return &model.RedemptionResult{}, nil
}

// mockAuthService is a mock implementation of AuthServiceInterface.
type mockAuthService struct {
	requestFn func(ctx context.Context, tenantID uuid.UUID, mobile string) error
	verifyFn  func(ctx context.Context, tenantID uuid.UUID, mobile, code string) (*model.TokenResponse, error)
}

func (m *mockAuthService) RequestLoginOTP(ctx context.Context, tenantID uuid.UUID, mobile string) error {
	if m.requestFn != nil {
		return m.requestFn(ctx, tenantID, mobile)
	}
	return nil
}

func (m *mockAuthService) VerifyLoginOTP(ctx context.Context, tenantID uuid.UUID, mobile, code string) (*model.TokenResponse, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, tenantID, mobile, code)
	}
	return &model.TokenResponse{Token: "t"}, nil
}

// mockCreditService is a mock implementation of CreditServiceInterface.
type mockCreditService struct {
	statementFn func(ctx context.Context, tenantID uuid.UUID, identity string, limit int) (*model.CreditStatement, error)
	debitFn     func(ctx context.Context, tenantID uuid.UUID, identity string, amount int64, reference string) (*model.CreditBalance, error)
}

func (m *mockCreditService) Statement(ctx context.Context, tenantID uuid.UUID, identity string, limit int) (*model.CreditStatement, error) {
	if m.statementFn != nil {
		return m.statementFn(ctx, tenantID, identity, limit)
	}
	return &model.CreditStatement{Transactions: []model.CreditTransaction{}}, nil
}

func (m *mockCreditService) Debit(ctx context.Context, tenantID uuid.UUID, identity string, amount int64, reference string) (*model.CreditBalance, error) {
	if m.debitFn != nil {
		return m.debitFn(ctx, tenantID, identity, amount, reference)
	}
	return &model.CreditBalance{}, nil
}

// mockCouponService is a mock implementation of CouponServiceInterface.
type mockCouponService struct {
	createBatchFn   func(ctx context.Context, tenantID uuid.UUID, req *model.CreateCouponsRequest) ([]model.Coupon, error)
	getFn           func(ctx context.Context, tenantID, couponID uuid.UUID) (*model.Coupon, error)
	transitionFn    func(ctx context.Context, tenantID, couponID uuid.UUID, ev model.CouponEvent, note string) (*model.Coupon, error)
	activateRangeFn func(ctx context.Context, tenantID uuid.UUID, fromRef, toRef, note string) (*model.BatchActivationResult, error)
	activateBatchFn func(ctx context.Context, tenantID uuid.UUID, references []string, note string) (*model.BatchActivationResult, error)
}

func (m *mockCouponService) CreateBatch(ctx context.Context, tenantID uuid.UUID, req *model.CreateCouponsRequest) ([]model.Coupon, error) {
	if m.createBatchFn != nil {
		return m.createBatchFn(ctx, tenantID, req)
	}
	return []model.Coupon{}, nil
}

func (m *mockCouponService) Get(ctx context.Context, tenantID, couponID uuid.UUID) (*model.Coupon, error) {
	if m.getFn != nil {
		return m.getFn(ctx, tenantID, couponID)
	}
	return &model.Coupon{ID: couponID}, nil
}

func (m *mockCouponService) Transition(ctx context.Context, tenantID, couponID uuid.UUID, ev model.CouponEvent, note string) (*model.Coupon, error) {
	if m.transitionFn != nil {
		return m.transitionFn(ctx, tenantID, couponID, ev, note)
	}
	return &model.Coupon{ID: couponID}, nil
}

func (m *mockCouponService) ActivateRange(ctx context.Context, tenantID uuid.UUID, fromRef, toRef, note string) (*model.BatchActivationResult, error) {
	if m.activateRangeFn != nil {
		return m.activateRangeFn(ctx, tenantID, fromRef, toRef, note)
	}
	return &model.BatchActivationResult{}, nil
}

func (m *mockCouponService) ActivateBatch(ctx context.Context, tenantID uuid.UUID, references []string, note string) (*model.BatchActivationResult, error) {
	if m.activateBatchFn != nil {
		return m.activateBatchFn(ctx, tenantID, references, note)
	}
	return &model.BatchActivationResult{}, nil
}

// response is the decoded API envelope.
type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

type tenantFinderFunc func(ctx context.Context, slug string) (*model.Tenant, error)

func (f tenantFinderFunc) GetBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	return f(ctx, slug)
}

// withTenant resolves every request to testTenant.
var withTenant = middleware.Tenant(tenantFinderFunc(func(ctx context.Context, slug string) (*model.Tenant, error) {
	if slug == testTenant.Slug {
		return testTenant, nil
	}
	return nil, nil
}), middleware.TenantOptions{Default: testTenant.Slug})

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string, headers ...string) (*http.Response, response) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()

	var out response
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}
