package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/splitledger/internal/config"
	feeconfigdomain "github.com/smallbiznis/splitledger/internal/feeconfig/domain"
	paymentproviderdomain "github.com/smallbiznis/splitledger/internal/paymentprovider/domain"
	"github.com/smallbiznis/splitledger/internal/settlement/adapters"
	settlementdomain "github.com/smallbiznis/splitledger/internal/settlement/domain"
	"github.com/smallbiznis/splitledger/internal/settlement/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAdminToken = "admin-secret"

type stubFactory struct{}

func (stubFactory) Provider() string { return "stub" }

func (stubFactory) NewAdapter(cfg settlementdomain.AdapterConfig) (settlementdomain.Adapter, error) {
	return stubAdapter{orgID: cfg.OrgID}, nil
}

type stubAdapter struct {
	orgID snowflake.ID
}

func (a stubAdapter) Verify(_ context.Context, _ []byte, headers http.Header) error {
	if headers.Get("X-Stub-Signature") != "ok" {
		return settlementdomain.ErrInvalidSignature
	}
	return nil
}

func (a stubAdapter) Normalize(_ context.Context, payload []byte) (*settlementdomain.SettlementEvent, error) {
	var event settlementdomain.SettlementEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, settlementdomain.ErrInvalidPayload
	}
	event.OrgID = a.orgID
	return &event, nil
}

func (stubAdapter) RetrieveSettlementDetails(context.Context, string) (*settlementdomain.SettlementDetails, error) {
	return nil, nil
}

type stubProviders struct {
	paymentproviderdomain.Service
}

func (stubProviders) ListActive(context.Context, string) ([]paymentproviderdomain.ResolvedConfig, error) {
	return []paymentproviderdomain.ResolvedConfig{{OrgID: 7, Provider: "stub"}}, nil
}

type stubSettlement struct {
	settlementdomain.Service

	processErr error
	verified   bool
	sales      map[snowflake.ID]*settlementdomain.SaleSettlement
}

func (s *stubSettlement) Process(_ context.Context, event *settlementdomain.SettlementEvent) (*settlementdomain.ProcessResult, error) {
	if s.processErr != nil {
		return nil, s.processErr
	}
	return &settlementdomain.ProcessResult{Admission: settlementdomain.AdmissionAdmit, SaleID: event.SaleID}, nil
}

func (s *stubSettlement) GetSaleSettlement(_ context.Context, saleID snowflake.ID) (*settlementdomain.SaleSettlement, error) {
	sale, ok := s.sales[saleID]
	if !ok {
		return nil, settlementdomain.ErrSaleNotFound
	}
	return sale, nil
}

func (s *stubSettlement) GetVirtualAccountBalance(_ context.Context, accountID snowflake.ID, verify bool) (*settlementdomain.AccountBalance, error) {
	s.verified = verify
	return &settlementdomain.AccountBalance{
		AccountID: accountID,
		Balance:   settlementdomain.Balance{PendingCents: 9110, TotalReceivedCents: 9110},
	}, nil
}

type stubFeeConfig struct {
	feeconfigdomain.Service
	last feeconfigdomain.UpsertRequest
}

func (s *stubFeeConfig) Upsert(_ context.Context, req feeconfigdomain.UpsertRequest) (*feeconfigdomain.FeeConfig, error) {
	if req.Percentage.IsNegative() {
		return nil, feeconfigdomain.ErrInvalidPercentage
	}
	s.last = req
	return &feeconfigdomain.FeeConfig{
		OrgID:      req.OrgID,
		Percentage: decimal.NewNullDecimal(*req.Percentage),
		FixedCents: req.FixedCents,
		UpdatedAt:  time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}, nil
}

type testServer struct {
	engine     *gin.Engine
	settlement *stubSettlement
	feeConfig  *stubFeeConfig
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry, err := adapters.NewRegistryFrom(stubFactory{})
	require.NoError(t, err)

	settlement := &stubSettlement{sales: map[snowflake.ID]*settlementdomain.SaleSettlement{
		42: {SaleID: 42, PaymentStatus: settlementdomain.PaymentStatusPaid},
	}}
	feeConfig := &stubFeeConfig{}
	cfg := config.Config{AdminAPIToken: testAdminToken, WebhookTimeout: time.Second}

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	NewServer(ServerParams{
		Gin: engine,
		Cfg: cfg,
		WebhookSvc: webhook.NewService(webhook.Params{
			Log:           zap.NewNop(),
			Cfg:           cfg,
			Adapters:      registry,
			ProviderSvc:   stubProviders{},
			SettlementSvc: settlement,
		}),
		SettlementSvc: settlement,
		FeeConfigSvc:  feeConfig,
	})
	return &testServer{engine: engine, settlement: settlement, feeConfig: feeConfig}
}

func (ts *testServer) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func webhookBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(settlementdomain.SettlementEvent{
		GatewayName:          "stub",
		GatewayTransactionID: "tx_1",
		SaleID:               42,
		EventKind:            settlementdomain.EventKindSucceeded,
		GrossAmountCents:     10000,
	})
	require.NoError(t, err)
	return body
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestWebhookDispositions(t *testing.T) {
	cases := []struct {
		name       string
		signature  string
		processErr error
		wantStatus int
	}{
		{name: "admitted", signature: "ok", wantStatus: http.StatusOK},
		{name: "duplicate", signature: "ok", processErr: settlementdomain.ErrDuplicate, wantStatus: http.StatusOK},
		{name: "sale_not_found", signature: "ok", processErr: settlementdomain.ErrSaleNotFound, wantStatus: http.StatusOK},
		{name: "invalid_amount", signature: "ok", processErr: settlementdomain.ErrInvalidAmount, wantStatus: http.StatusOK},
		{name: "amount_exceeds_sale", signature: "ok", processErr: settlementdomain.ErrAmountExceedsSale, wantStatus: http.StatusOK},
		{name: "settlement_pending", signature: "ok", processErr: settlementdomain.ErrSettlementPending, wantStatus: http.StatusServiceUnavailable},
		{name: "transient_store", signature: "ok", processErr: settlementdomain.ErrTransientStore, wantStatus: http.StatusServiceUnavailable},
		{name: "bad_signature", signature: "nope", wantStatus: http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.settlement.processErr = tc.processErr

			rec := ts.do(http.MethodPost, "/webhooks/stub", webhookBody(t), map[string]string{"X-Stub-Signature": tc.signature})
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestWebhookUnknownProvider(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/webhooks/paypal", webhookBody(t), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "provider_not_found", decodeError(t, rec).Message)
}

func TestGetSaleSettlement(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/sales/42/settlement", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data settlementdomain.SaleSettlement `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, settlementdomain.PaymentStatusPaid, resp.Data.PaymentStatus)

	rec = ts.do(http.MethodGet, "/api/sales/43/settlement", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/api/sales/abc/settlement", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Type)
}

func TestGetVirtualAccountBalancePassesVerify(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/virtual-accounts/5/balance?verify=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.settlement.verified)

	rec = ts.do(http.MethodGet, "/api/virtual-accounts/5/balance?verify=maybe", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)
	body := []byte(`{"percentage":"5","fixed_cents":30}`)

	rec := ts.do(http.MethodPut, "/admin/fee-config", body, map[string]string{HeaderOrg: "7"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodPut, "/admin/fee-config", body, map[string]string{
		"Authorization": "Bearer wrong",
		HeaderOrg:       "7",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodPut, "/admin/fee-config", body, map[string]string{
		"Authorization": "Bearer " + testAdminToken,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpsertFeeConfig(t *testing.T) {
	ts := newTestServer(t)
	headers := map[string]string{
		"Authorization": "Bearer " + testAdminToken,
		HeaderOrg:       "7",
	}

	rec := ts.do(http.MethodPut, "/admin/fee-config", []byte(`{"percentage":"2.5","fixed_cents":30}`), headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, snowflake.ID(7), ts.feeConfig.last.OrgID)
	assert.True(t, ts.feeConfig.last.Percentage.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, int64(30), ts.feeConfig.last.FixedCents)

	rec = ts.do(http.MethodPut, "/admin/fee-config", []byte(`{"percentage":"-1"}`), headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_percentage", payload.Errors[0].Code)

	rec = ts.do(http.MethodPut, "/admin/fee-config", []byte(`{"fixed_cents":30}`), headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMapErrorStatuses(t *testing.T) {
	cases := map[error]int{
		settlementdomain.ErrAccountNotFound:      http.StatusNotFound,
		settlementdomain.ErrInvalidPageToken:     http.StatusBadRequest,
		settlementdomain.ErrTransientStore:       http.StatusServiceUnavailable,
		feeconfigdomain.ErrNotConfigured:         http.StatusNotFound,
		paymentproviderdomain.ErrInvalidProvider: http.StatusBadRequest,
		ErrUnauthorized:                          http.StatusUnauthorized,
	}
	for err, want := range cases {
		if got, _ := mapError(err); got != want {
			t.Fatalf("expected %d for %v, got %d", want, err, got)
		}
	}
}
