package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	affiliaterepo "github.com/smallbiznis/splitledger/internal/affiliate/repository"
	affiliateservice "github.com/smallbiznis/splitledger/internal/affiliate/service"
	"github.com/smallbiznis/splitledger/internal/alert"
	auditrepo "github.com/smallbiznis/splitledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/splitledger/internal/audit/service"
	"github.com/smallbiznis/splitledger/internal/clock"
	"github.com/smallbiznis/splitledger/internal/config"
	feeconfigdomain "github.com/smallbiznis/splitledger/internal/feeconfig/domain"
	feeconfigrepo "github.com/smallbiznis/splitledger/internal/feeconfig/repository"
	feeconfigservice "github.com/smallbiznis/splitledger/internal/feeconfig/service"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	"github.com/smallbiznis/splitledger/internal/settlement/repository"
	"github.com/smallbiznis/splitledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testOrg snowflake.ID = 4242

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a alert.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) reasons() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.alerts))
	for _, a := range n.alerts {
		out = append(out, a.Reason)
	}
	return out
}

type stubGateway struct {
	details *domain.SettlementDetails
	byRef   map[string]*domain.SettlementDetails
	err     error
	calls   int
}

func (g *stubGateway) RetrieveSettlementDetails(_ context.Context, ref string) (*domain.SettlementDetails, error) {
	g.calls++
	if g.byRef != nil {
		return g.byRef[ref], g.err
	}
	return g.details, g.err
}

type stubResolver struct {
	gateway *stubGateway
}

func (r stubResolver) GatewayFor(context.Context, snowflake.ID, string) (domain.Gateway, error) {
	return r.gateway, nil
}

type harness struct {
	t        *testing.T
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	notifier *recordingNotifier
	gateway  *stubGateway
	feeSvc   feeconfigdomain.Service
	svc      *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	log := zap.NewNop()
	notifier := &recordingNotifier{}
	gateway := &stubGateway{}
	clk := clock.NewFakeClock(time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC))

	auditSvc := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Repo: auditrepo.Provide()})
	feeSvc := feeconfigservice.NewService(feeconfigservice.Params{DB: db, Log: log, GenID: node, Repo: feeconfigrepo.Provide()})
	affSvc := affiliateservice.NewService(affiliateservice.Params{DB: db, Log: log, GenID: node, Repo: affiliaterepo.Provide()})

	svc := newService(Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		Repo:         repository.Provide(),
		FeeConfigSvc: feeSvc,
		AffiliateSvc: affSvc,
		Triage:       NewTriage(TriageParams{Log: log, AuditSvc: auditSvc, Notifier: notifier}),
		Policy:       config.NewStaticSettlementPolicy(config.DefaultSettlementPolicy()),
		Clock:        clk,
		Resolver:     stubResolver{gateway: gateway},
	})
	svc.retry = retryPolicy{initial: time.Millisecond, max: time.Millisecond, maxRetries: 1}

	return &harness{t: t, db: db, node: node, clock: clk, notifier: notifier, gateway: gateway, feeSvc: feeSvc, svc: svc}
}

func (h *harness) seedSale(total int64) *domain.Sale {
	h.t.Helper()
	now := h.clock.Now()
	sale := &domain.Sale{
		ID:            h.node.Generate(),
		OrgID:         testOrg,
		TotalCents:    total,
		PaymentStatus: domain.PaymentStatusUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(h.t, h.db.Create(sale).Error)
	return sale
}

func (h *harness) configureFee(pct string, fixed int64) {
	h.t.Helper()
	p := decimal.RequireFromString(pct)
	_, err := h.feeSvc.Upsert(context.Background(), feeconfigdomain.UpsertRequest{OrgID: testOrg, Percentage: &p, FixedCents: fixed})
	require.NoError(h.t, err)
}

func (h *harness) sale(id snowflake.ID) *domain.Sale {
	h.t.Helper()
	sale, err := h.svc.repo.FindSale(context.Background(), h.db, id)
	require.NoError(h.t, err)
	require.NotNil(h.t, sale)
	return sale
}

func (h *harness) account(ownerRef string, accountType domain.AccountType) *domain.VirtualAccount {
	h.t.Helper()
	var account domain.VirtualAccount
	require.NoError(h.t, h.db.Where("owner_ref = ? AND account_type = ?", ownerRef, accountType).First(&account).Error)
	return &account
}

func (h *harness) balance(account *domain.VirtualAccount) *domain.AccountBalance {
	h.t.Helper()
	out, err := h.svc.GetVirtualAccountBalance(context.Background(), account.ID, true)
	require.NoError(h.t, err)
	require.False(h.t, out.Drift, "cached balance %+v drifted from derived %+v", out.Balance, out.Derived)
	return out
}

func succeeded(sale *domain.Sale, txn string, gross, fee int64) *domain.SettlementEvent {
	return &domain.SettlementEvent{
		GatewayName:          "stripe",
		GatewayTransactionID: txn,
		GatewayEventID:       "evt_" + txn,
		ChargeID:             "ch_" + txn,
		SaleID:               sale.ID,
		OrgID:                sale.OrgID,
		EventKind:            domain.EventKindSucceeded,
		GrossAmountCents:     gross,
		FeeCents:             fee,
		NetAmountCents:       gross - fee,
		FeeKnown:             true,
		CardBrand:            "visa",
		PaymentMethodKind:    "card",
		OccurredAt:           time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
	}
}

func refund(sale *domain.Sale, txn, ref string, amount int64) *domain.SettlementEvent {
	return &domain.SettlementEvent{
		GatewayName:          "stripe",
		GatewayTransactionID: txn,
		GatewayEventID:       "evt_" + ref,
		DedupeRef:            ref,
		SaleID:               sale.ID,
		OrgID:                sale.OrgID,
		EventKind:            domain.EventKindPartiallyRefunded,
		GrossAmountCents:     amount,
		NetAmountCents:       amount,
	}
}

func splitsByType(rows []domain.SaleSplit, kind domain.EventKind) map[domain.SplitType]int64 {
	out := map[domain.SplitType]int64{}
	for _, row := range rows {
		if row.EventKind == kind {
			out[row.SplitType] += row.GrossAmountCents
		}
	}
	return out
}

func TestProcessSettlesCardPayment(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(10000)

	res, err := h.svc.Process(context.Background(), succeeded(sale, "pi_1", 10000, 390))
	require.NoError(t, err)
	assert.Equal(t, domain.AdmissionAdmit, res.Admission)
	assert.False(t, res.Noop)

	got := h.sale(sale.ID)
	assert.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
	require.NotNil(t, got.GatewayFeeCents)
	assert.Equal(t, int64(390), *got.GatewayFeeCents)
	assert.Equal(t, int64(9610), *got.GatewayNetCents)
	assert.True(t, got.GatewayFeeKnown)

	settlement, err := h.svc.GetSaleSettlement(context.Background(), sale.ID)
	require.NoError(t, err)
	require.Len(t, settlement.Installments, 1)
	installment := settlement.Installments[0]
	assert.Equal(t, int64(10000), installment.AmountCents)
	assert.Equal(t, int64(390), installment.FeeCents)
	assert.Equal(t, "3.90", installment.FeePercentage)
	assert.Equal(t, "ch_pi_1", installment.ExternalRef)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), installment.DueDate.UTC())

	byType := splitsByType(settlement.Splits, domain.EventKindSucceeded)
	assert.Equal(t, int64(390), byType[domain.SplitTypeGateway])
	assert.Equal(t, int64(500), byType[domain.SplitTypePlatform])
	assert.Equal(t, int64(9110), byType[domain.SplitTypeTenant])

	tenant := h.balance(h.account(testOrg.String(), domain.AccountTypeTenant))
	assert.Equal(t, int64(9110), tenant.PendingCents)
	assert.Zero(t, tenant.AvailableCents)
	platform := h.balance(h.account(domain.PlatformOwnerRef, domain.AccountTypePlatform))
	assert.Equal(t, int64(500), platform.PendingCents)
	gateway := h.balance(h.account("stripe", domain.AccountTypeGatewayTracking))
	assert.Equal(t, int64(390), gateway.PendingCents)
}

func TestProcessRedeliveryIsDuplicate(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(10000)
	event := succeeded(sale, "pi_1", 10000, 390)

	_, err := h.svc.Process(context.Background(), event)
	require.NoError(t, err)

	again := *event
	res, err := h.svc.Process(context.Background(), &again)
	require.NoError(t, err)
	assert.Equal(t, domain.AdmissionDuplicate, res.Admission)

	testutil.AssertCount(t, h.db, "payment_attempts", 1)
	testutil.AssertCount(t, h.db, "sale_splits", 3)
	testutil.AssertCount(t, h.db, "virtual_transactions", 3)
	testutil.AssertCount(t, h.db, "sale_installments", 1)
}

func TestProcessConcurrentDeliveriesApplyOnce(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(10000)

	const workers = 8
	results := make([]*domain.ProcessResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.Process(context.Background(), succeeded(sale, "pi_1", 10000, 390))
		}(i)
	}
	wg.Wait()

	admitted := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Admission == domain.AdmissionAdmit {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted)
	testutil.AssertCount(t, h.db, "sale_splits", 3)
	testutil.AssertCount(t, h.db, "virtual_transactions", 3)

	tenant := h.balance(h.account(testOrg.String(), domain.AccountTypeTenant))
	assert.Equal(t, int64(9110), tenant.PendingCents)
}

func TestProcessConflictingSettlementIsSuperseded(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(10000)

	_, err := h.svc.Process(context.Background(), succeeded(sale, "pi_1", 10000, 390))
	require.NoError(t, err)

	res, err := h.svc.Process(context.Background(), succeeded(sale, "pi_2", 10000, 390))
	require.NoError(t, err)
	assert.Equal(t, domain.AdmissionSuperseded, res.Admission)

	testutil.AssertCount(t, h.db, "payment_attempts", 2)
	testutil.AssertCount(t, h.db, "sale_splits", 3)
	assert.Equal(t, []string{ReasonSuperseded}, h.notifier.reasons())

	var audits int64
	require.NoError(t, h.db.Table("audit_logs").Where("action = ?", "settlement.superseded").Count(&audits).Error)
	assert.Equal(t, int64(1), audits)

	got := h.sale(sale.ID)
	assert.Equal(t, "pi_1", *got.GatewayTransactionID)
}

func TestProcessPartialThenFullRefund(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(10000)
	ctx := context.Background()

	_, err := h.svc.Process(ctx, succeeded(sale, "pi_1", 10000, 390))
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	res, err := h.svc.Process(ctx, refund(sale, "pi_1", "re_1", 2000))
	require.NoError(t, err)
	assert.Equal(t, domain.AdmissionAdmit, res.Admission)

	got := h.sale(sale.ID)
	assert.Equal(t, domain.PaymentStatusPartiallyRefunded, got.PaymentStatus)
	assert.Equal(t, int64(2000), got.RefundedCents)

	settlement, err := h.svc.GetSaleSettlement(ctx, sale.ID)
	require.NoError(t, err)
	reversed := splitsByType(settlement.Splits, domain.EventKindPartiallyRefunded)
	assert.Equal(t, int64(-78), reversed[domain.SplitTypeGateway])
	assert.Equal(t, int64(-100), reversed[domain.SplitTypePlatform])
	assert.Equal(t, int64(-1822), reversed[domain.SplitTypeTenant])

	require.Len(t, settlement.Installments, 2)
	assert.Equal(t, domain.InstallmentStatusReversed, settlement.Installments[0].Status)
	replacement := settlement.Installments[1]
	assert.Equal(t, domain.InstallmentStatusPending, replacement.Status)
	assert.Equal(t, int64(8000), replacement.AmountCents)
	assert.Equal(t, int64(312), replacement.FeeCents)
	assert.Equal(t, int64(7688), replacement.NetAmountCents)
	assert.Equal(t, settlement.Installments[0].DueDate.UTC(), replacement.DueDate.UTC())

	tenantAccount := h.account(testOrg.String(), domain.AccountTypeTenant)
	tenant := h.balance(tenantAccount)
	assert.Equal(t, int64(7288), tenant.PendingCents)
	assert.Equal(t, int64(9110), tenant.TotalReceivedCents)

	h.clock.Advance(time.Hour)
	_, err = h.svc.Process(ctx, refund(sale, "pi_1", "re_2", 8000))
	require.NoError(t, err)

	got = h.sale(sale.ID)
	assert.Equal(t, domain.PaymentStatusRefunded, got.PaymentStatus)
	assert.Equal(t, int64(10000), got.RefundedCents)

	for _, account := range []*domain.VirtualAccount{
		tenantAccount,
		h.account(domain.PlatformOwnerRef, domain.AccountTypePlatform),
		h.account("stripe", domain.AccountTypeGatewayTracking),
	} {
		b := h.balance(account)
		assert.Zero(t, b.PendingCents, "account %s", account.AccountType)
		assert.Zero(t, b.AvailableCents, "account %s", account.AccountType)
	}

	settlement, err = h.svc.GetSaleSettlement(ctx, sale.ID)
	require.NoError(t, err)
	for _, item := range settlement.Installments {
		assert.Equal(t, domain.InstallmentStatusReversed, item.Status)
	}

	res, err = h.svc.Process(ctx, refund(sale, "pi_1", "re_3", 100))
	require.NoError(t, err)
	assert.Equal(t, domain.AdmissionSuperseded, res.Admission)
}

func TestProcessRefundBeforeSettlementIsPending(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(10000)

	_, err := h.svc.Process(context.Background(), refund(sale, "pi_1", "re_1", 2000))
	assert.ErrorIs(t, err, domain.ErrSettlementPending)
	assert.Equal(t, domain.DispositionRetry, domain.Classify(err))

	testutil.AssertCount(t, h.db, "payment_attempts", 0)
	testutil.AssertCount(t, h.db, "sale_splits", 0)
	testutil.AssertCount(t, h.db, "virtual_transactions", 0)

	_, err = h.svc.Process(context.Background(), succeeded(sale, "pi_1", 10000, 390))
	require.NoError(t, err)
	res, err := h.svc.Process(context.Background(), refund(sale, "pi_1", "re_1", 2000))
	require.NoError(t, err)
	assert.Equal(t, domain.AdmissionAdmit, res.Admission)
}

func TestProcessChargebackClosesSale(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(10000)
	ctx := context.Background()

	_, err := h.svc.Process(ctx, succeeded(sale, "pi_1", 10000, 390))
	require.NoError(t, err)

	event := refund(sale, "pi_1", "dp_1", 10000)
	event.EventKind = domain.EventKindChargeback
	_, err = h.svc.Process(ctx, event)
	require.NoError(t, err)

	got := h.sale(sale.ID)
	assert.Equal(t, domain.PaymentStatusChargedBack, got.PaymentStatus)
	tenant := h.balance(h.account(testOrg.String(), domain.AccountTypeTenant))
	assert.Zero(t, tenant.PendingCents)
}

func TestProcessFailedThenSucceeded(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(10000)
	ctx := context.Background()

	failed := succeeded(sale, "pi_fail", 0, 0)
	failed.EventKind = domain.EventKindFailed
	failed.FeeKnown = false
	_, err := h.svc.Process(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, h.sale(sale.ID).PaymentStatus)

	_, err = h.svc.Process(ctx, succeeded(sale, "pi_ok", 10000, 390))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, h.sale(sale.ID).PaymentStatus)

	late := succeeded(sale, "pi_late", 0, 0)
	late.EventKind = domain.EventKindFailed
	late.FeeKnown = false
	res, err := h.svc.Process(ctx, late)
	require.NoError(t, err)
	assert.Equal(t, domain.AdmissionSuperseded, res.Admission)
	assert.Equal(t, domain.PaymentStatusPaid, h.sale(sale.ID).PaymentStatus)
}

func TestProcessWithAffiliateCommission(t *testing.T) {
	h := newHarness(t)
	h.configureFee("2.5", 30)
	sale := h.seedSale(2599)
	_, err := h.svc.affiliateSvc.RecordCommission(context.Background(), sale.ID, "aff_7", 260)
	require.NoError(t, err)

	_, err = h.svc.Process(context.Background(), succeeded(sale, "pi_1", 2599, 105))
	require.NoError(t, err)

	affiliate := h.balance(h.account("aff_7", domain.AccountTypeAffiliate))
	assert.Equal(t, int64(260), affiliate.PendingCents)
	platform := h.balance(h.account(domain.PlatformOwnerRef, domain.AccountTypePlatform))
	assert.Equal(t, int64(95), platform.PendingCents)
	tenant := h.balance(h.account(testOrg.String(), domain.AccountTypeTenant))
	assert.Equal(t, int64(2599-105-95-260), tenant.PendingCents)
}

func TestProcessMissingFeeConfigIsInvalidConfiguration(t *testing.T) {
	h := newHarness(t)
	sale := h.seedSale(10000)

	_, err := h.svc.Process(context.Background(), succeeded(sale, "pi_1", 10000, 390))
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	assert.Equal(t, domain.DispositionAckAlert, domain.Classify(err))
	assert.Equal(t, []string{ReasonInvalidConfiguration}, h.notifier.reasons())

	testutil.AssertCount(t, h.db, "payment_attempts", 0)
	assert.Equal(t, domain.PaymentStatusUnpaid, h.sale(sale.ID).PaymentStatus)
}

func TestProcessOverCommittedSplitIsInvalidConfiguration(t *testing.T) {
	h := newHarness(t)
	h.configureFee("95", 0)
	sale := h.seedSale(10000)

	_, err := h.svc.Process(context.Background(), succeeded(sale, "pi_1", 10000, 900))
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	testutil.AssertCount(t, h.db, "payment_attempts", 0)
	testutil.AssertCount(t, h.db, "sale_splits", 0)
}

func TestProcessUnknownSale(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)

	_, err := h.svc.Process(context.Background(), succeeded(&domain.Sale{ID: 999, OrgID: testOrg}, "pi_1", 10000, 390))
	assert.ErrorIs(t, err, domain.ErrSaleNotFound)
	assert.Equal(t, []string{ReasonSaleNotFound}, h.notifier.reasons())
}

func TestProcessRejectsSaleFromAnotherOrganization(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(10000)

	event := succeeded(sale, "pi_1", 10000, 390)
	event.OrgID = testOrg + 1
	_, err := h.svc.Process(context.Background(), event)
	assert.ErrorIs(t, err, domain.ErrSaleNotFound)
	testutil.AssertCount(t, h.db, "payment_attempts", 0)
}

func TestProcessMissingSaleReference(t *testing.T) {
	h := newHarness(t)

	event := succeeded(&domain.Sale{}, "pi_1", 10000, 390)
	_, err := h.svc.Process(context.Background(), event)
	assert.ErrorIs(t, err, domain.ErrMissingSaleReference)
	assert.Equal(t, []string{ReasonMissingSaleReference}, h.notifier.reasons())
}

func TestProcessAmountAboveSaleTotalIsAlerted(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(5000)

	_, err := h.svc.Process(context.Background(), succeeded(sale, "pi_1", 10000, 390))
	assert.ErrorIs(t, err, domain.ErrAmountExceedsSale)
	assert.Equal(t, domain.DispositionAckAlert, domain.Classify(err))
	assert.Equal(t, []string{ReasonAmountExceedsSale}, h.notifier.reasons())

	testutil.AssertCount(t, h.db, "payment_attempts", 0)
	testutil.AssertCount(t, h.db, "sale_installments", 0)
	testutil.AssertCount(t, h.db, "sale_splits", 0)
	assert.Equal(t, domain.PaymentStatusUnpaid, h.sale(sale.ID).PaymentStatus)

	_, err = h.svc.Process(context.Background(), succeeded(sale, "pi_2", 5000, 195))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, h.sale(sale.ID).PaymentStatus)
}

func TestProcessMalformedAmountIsAcknowledgedAndAlerted(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(10000)

	zero := succeeded(sale, "psp_tokenize", 0, 0)
	_, err := h.svc.Process(context.Background(), zero)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, domain.DispositionAckAlert, domain.Classify(err))
	assert.Equal(t, []string{ReasonUnprocessableEvent}, h.notifier.reasons())
	testutil.AssertCount(t, h.db, "payment_attempts", 0)
}

func TestProcessDefaultsOccurrenceToClock(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(10000)

	event := succeeded(sale, "pi_1", 10000, 390)
	event.OccurredAt = time.Time{}
	_, err := h.svc.Process(context.Background(), event)
	require.NoError(t, err)

	got := h.sale(sale.ID)
	require.NotNil(t, got.PaidAt)
	assert.True(t, h.clock.Now().Equal(*got.PaidAt), "paid_at %s", got.PaidAt)
}

func TestProcessUsesGatewayAvailabilityDate(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(10000)

	availableOn := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	event := succeeded(sale, "pi_1", 10000, 390)
	event.AvailableOn = &availableOn
	_, err := h.svc.Process(context.Background(), event)
	require.NoError(t, err)

	settlement, err := h.svc.GetSaleSettlement(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, availableOn, settlement.Installments[0].DueDate.UTC())
}

func TestReleaseDueMovesFundsToAvailable(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(10000)
	ctx := context.Background()

	_, err := h.svc.Process(ctx, succeeded(sale, "pi_1", 10000, 390))
	require.NoError(t, err)

	early, err := h.svc.ReleaseDue(ctx, h.clock.Now(), 0)
	require.NoError(t, err)
	assert.Zero(t, early.Released)

	h.clock.Advance(72 * time.Hour)
	res, err := h.svc.ReleaseDue(ctx, h.clock.Now(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Released)
	assert.Equal(t, int64(10000), res.ReleasedCents)
	assert.Equal(t, 3, res.Accounts)
	assert.Equal(t, int64(1), res.InstallmentsConfirmed)

	tenantAccount := h.account(testOrg.String(), domain.AccountTypeTenant)
	tenant := h.balance(tenantAccount)
	assert.Zero(t, tenant.PendingCents)
	assert.Equal(t, int64(9110), tenant.AvailableCents)

	_, err = h.svc.Process(ctx, refund(sale, "pi_1", "re_1", 2000))
	require.NoError(t, err)
	tenant = h.balance(tenantAccount)
	assert.Zero(t, tenant.PendingCents)
	assert.Equal(t, int64(7288), tenant.AvailableCents)

	settlement, err := h.svc.GetSaleSettlement(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstallmentStatusConfirmed, settlement.Installments[1].Status)
}

func TestBackfillFeesRecordsGatewayFee(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(10000)
	ctx := context.Background()

	event := succeeded(sale, "pi_1", 10000, 0)
	event.FeeKnown = false
	_, err := h.svc.Process(ctx, event)
	require.NoError(t, err)
	assert.False(t, h.sale(sale.ID).GatewayFeeKnown)

	h.gateway.details = &domain.SettlementDetails{GrossCents: 10000}
	res, err := h.svc.BackfillFees(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, res.Pending)

	h.gateway.details = &domain.SettlementDetails{GrossCents: 10000, FeeCents: 390, NetAmountCents: 9610, FeeKnown: true}
	res, err = h.svc.BackfillFees(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved)

	got := h.sale(sale.ID)
	assert.True(t, got.GatewayFeeKnown)
	assert.Equal(t, int64(390), *got.GatewayFeeCents)

	settlement, err := h.svc.GetSaleSettlement(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(390), settlement.Installments[0].FeeCents)
	assert.Equal(t, int64(9610), settlement.Installments[0].NetAmountCents)
	assert.Contains(t, h.notifier.reasons(), ReasonFeeReconciled)

	res, err = h.svc.BackfillFees(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
}

func TestBackfillFeesCountsGatewayFailures(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(10000)

	event := succeeded(sale, "pi_1", 10000, 0)
	event.FeeKnown = false
	_, err := h.svc.Process(context.Background(), event)
	require.NoError(t, err)

	h.gateway.err = errors.New("gateway unavailable")
	res, err := h.svc.BackfillFees(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
}

func TestBackfillFeesReachesSalesBehindUnpricedBacklog(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	ctx := context.Background()

	var sales []*domain.Sale
	for _, txn := range []string{"psp_a", "psp_b", "pi_c"} {
		sale := h.seedSale(10000)
		event := succeeded(sale, txn, 10000, 0)
		event.FeeKnown = false
		_, err := h.svc.Process(ctx, event)
		require.NoError(t, err)
		sales = append(sales, sale)
	}
	h.gateway.byRef = map[string]*domain.SettlementDetails{
		"psp_a": {GrossCents: 10000},
		"psp_b": {GrossCents: 10000},
		"pi_c":  {GrossCents: 10000, FeeCents: 390, NetAmountCents: 9610, FeeKnown: true},
	}

	var resolved int
	for run := 0; run < 3; run++ {
		res, err := h.svc.BackfillFees(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Scanned)
		resolved += res.Resolved
	}
	assert.Equal(t, 1, resolved)
	assert.True(t, h.sale(sales[2].ID).GatewayFeeKnown)
	assert.False(t, h.sale(sales[0].ID).GatewayFeeKnown)

	res, err := h.svc.BackfillFees(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)

	res, err = h.svc.BackfillFees(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pending, "scan starts over after reaching the end")
}

func TestListVirtualTransactionsPaginates(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(10000)
	ctx := context.Background()

	_, err := h.svc.Process(ctx, succeeded(sale, "pi_1", 10000, 390))
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	_, err = h.svc.Process(ctx, refund(sale, "pi_1", "re_1", 1000))
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	_, err = h.svc.Process(ctx, refund(sale, "pi_1", "re_2", 1000))
	require.NoError(t, err)

	tenant := h.account(testOrg.String(), domain.AccountTypeTenant)
	req := domain.ListTransactionsRequest{AccountID: tenant.ID}
	req.PageSize = 2

	first, err := h.svc.ListVirtualTransactions(ctx, req)
	require.NoError(t, err)
	require.Len(t, first.Transactions, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, domain.TransactionStatusReversed, first.Transactions[0].Status)

	req.PageToken = first.NextPageToken
	second, err := h.svc.ListVirtualTransactions(ctx, req)
	require.NoError(t, err)
	require.Len(t, second.Transactions, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, domain.TransactionStatusPending, second.Transactions[0].Status)

	req.PageToken = "not-a-token"
	_, err = h.svc.ListVirtualTransactions(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
}

func TestGetVirtualAccountBalanceDetectsDrift(t *testing.T) {
	h := newHarness(t)
	h.configureFee("5", 0)
	sale := h.seedSale(10000)

	_, err := h.svc.Process(context.Background(), succeeded(sale, "pi_1", 10000, 390))
	require.NoError(t, err)

	tenant := h.account(testOrg.String(), domain.AccountTypeTenant)
	require.NoError(t, h.db.Exec(`UPDATE virtual_accounts SET pending_balance_cents = 1 WHERE id = ?`, tenant.ID).Error)

	out, err := h.svc.GetVirtualAccountBalance(context.Background(), tenant.ID, true)
	require.NoError(t, err)
	assert.True(t, out.Drift)
	assert.Equal(t, int64(9110), out.Derived.PendingCents)

	_, err = h.svc.GetVirtualAccountBalance(context.Background(), 12345, false)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestDecide(t *testing.T) {
	txn := "pi_1"
	cases := []struct {
		name    string
		status  domain.PaymentStatus
		saleTxn *string
		kind    domain.EventKind
		want    domain.AttemptOutcome
		wantErr error
	}{
		{name: "settle unpaid", status: domain.PaymentStatusUnpaid, kind: domain.EventKindSucceeded, want: domain.AttemptOutcomeApplied},
		{name: "settle after failure", status: domain.PaymentStatusFailed, kind: domain.EventKindSucceeded, want: domain.AttemptOutcomeApplied},
		{name: "settle again same txn", status: domain.PaymentStatusPaid, saleTxn: &txn, kind: domain.EventKindSucceeded, want: domain.AttemptOutcomeNoop},
		{name: "settle other txn", status: domain.PaymentStatusPaid, kind: domain.EventKindSucceeded, want: domain.AttemptOutcomeSuperseded},
		{name: "fail after paid", status: domain.PaymentStatusPaid, saleTxn: &txn, kind: domain.EventKindFailed, want: domain.AttemptOutcomeSuperseded},
		{name: "refund unpaid", status: domain.PaymentStatusProcessing, kind: domain.EventKindRefunded, wantErr: domain.ErrSettlementPending},
		{name: "refund paid", status: domain.PaymentStatusPaid, saleTxn: &txn, kind: domain.EventKindRefunded, want: domain.AttemptOutcomeApplied},
		{name: "refund closed", status: domain.PaymentStatusRefunded, saleTxn: &txn, kind: domain.EventKindPartiallyRefunded, want: domain.AttemptOutcomeSuperseded},
		{name: "chargeback other txn", status: domain.PaymentStatusPaid, kind: domain.EventKindChargeback, want: domain.AttemptOutcomeSuperseded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decide(
				&domain.Sale{PaymentStatus: tc.status, GatewayTransactionID: tc.saleTxn},
				&domain.SettlementEvent{GatewayTransactionID: txn, EventKind: tc.kind},
			)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected outcome %q, got %q", tc.want, got)
			}
		})
	}
}
