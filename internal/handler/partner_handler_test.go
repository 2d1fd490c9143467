package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mscan/mscan-core/internal/middleware"
	"github.com/mscan/mscan-core/internal/model"
	"github.com/mscan/mscan-core/internal/service"
	mvalidator "github.com/mscan/mscan-core/internal/validator"
)

type appFinderFunc func(ctx context.Context, appCode string) (*model.PartnerApp, error)

func (f appFinderFunc) GetByCode(ctx context.Context, appCode string) (*model.PartnerApp, error) {
	return f(ctx, appCode)
}

const partnerKey = "pk_live_secret"

func setupPartnerApp(t *testing.T, redeemer *mockRedeemer) (*fiber.App, *model.PartnerApp) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(partnerKey), bcrypt.MinCost)
	require.NoError(t, err)
	partner := &model.PartnerApp{ID: uuid.New(), TenantID: testTenant.ID, AppCode: "pos-01", APIKeyHash: string(hash), Active: true}
	finder := appFinderFunc(func(ctx context.Context, appCode string) (*model.PartnerApp, error) {
		if appCode == partner.AppCode {
			return partner, nil
		}
		return nil, nil
	})

	app := newTestApp()
	h := NewPartnerHandler(redeemer, mvalidator.New())
	app.Post("/api/app/:appCode/scans", withTenant, middleware.PartnerAPIKey(finder), h.Scan)
	return app, partner
}

func TestPartnerHandler_Scan_Success(t *testing.T) {
	var gotChannel model.ScanChannel
	var gotAppID *uuid.UUID
	redeemer := &mockRedeemer{
		redeemCodeFn: func(ctx context.Context, tenantID uuid.UUID, code, identity string, channel model.ScanChannel, appID *uuid.UUID) (*model.RedemptionResult, error) {
			assert.Equal(t, testTenant.ID, tenantID)
			assert.Equal(t, "PARTNER_001", code)
			assert.Equal(t, "member-42", identity)
			gotChannel, gotAppID = channel, appID
			return &model.RedemptionResult{PointsAwarded: 25, UserID: identity, Balance: 125}, nil
		},
	}
	app, partner := setupPartnerApp(t, redeemer)

	resp, body := doJSON(t, app, http.MethodPost, "/api/app/pos-01/scans",
		`{"couponCode":"PARTNER_001","userIdentity":"member-42"}`, middleware.HeaderAPIKey, partnerKey)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.ChannelPartner, gotChannel)
	require.NotNil(t, gotAppID)
	assert.Equal(t, partner.ID, *gotAppID)

	var res model.RedemptionResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, int64(125), res.Balance)
}

func TestPartnerHandler_Scan_Rejected(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		key        string
		svcErr     error
		wantStatus int
		wantCode   string
	}{
		{name: "missing key", path: "pos-01", body: `{"couponCode":"A","userIdentity":"u"}`, wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "wrong key", path: "pos-01", body: `{"couponCode":"A","userIdentity":"u"}`, key: "nope", wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "unknown app", path: "pos-99", body: `{"couponCode":"A","userIdentity":"u"}`, key: partnerKey, wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "missing identity", path: "pos-01", body: `{"couponCode":"A"}`, key: partnerKey, wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_ERROR"},
		{name: "already used", path: "pos-01", body: `{"couponCode":"A","userIdentity":"u"}`, key: partnerKey, svcErr: service.ErrCouponAlreadyUsed, wantStatus: http.StatusConflict, wantCode: "COUPON_ALREADY_USED"},
		{name: "unknown coupon", path: "pos-01", body: `{"couponCode":"A","userIdentity":"u"}`, key: partnerKey, svcErr: service.ErrCouponNotFound, wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			redeemer := &mockRedeemer{
				redeemCodeFn: func(ctx context.Context, tenantID uuid.UUID, code, identity string, channel model.ScanChannel, appID *uuid.UUID) (*model.RedemptionResult, error) {
					if tc.svcErr == nil {
						t.Fatal("redeemer must not be called")
					}
					return nil, tc.svcErr
				},
			}
			app, _ := setupPartnerApp(t, redeemer)

			var headers []string
			if tc.key != "" {
				headers = []string{middleware.HeaderAPIKey, tc.key}
			}
			resp, body := doJSON(t, app, http.MethodPost, "/api/app/"+tc.path+"/scans", tc.body, headers...)

			assert.Equal(t, tc.wantStatus, resp.StatusCode)
			assert.Equal(t, tc.wantCode, body.Code)
		})
	}
}
