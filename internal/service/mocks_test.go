package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mscan/mscan-core/internal/model"
	"github.com/mscan/mscan-core/internal/notify"
	"github.com/mscan/mscan-core/internal/ratelimit"
	"github.com/mscan/mscan-core/pkg/database"
)

var (
	testTenant = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func fixedClock() time.Time { return testNow }

func intPtr(i int) *int { return &i }

func timePtr(t time.Time) *time.Time { return &t }

// mockTx is a mock implementation of pgx.Tx for testing transactions.
type mockTx struct {
	commitFn   func(ctx context.Context) error
	rollbackFn func(ctx context.Context) error
	committed  bool
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("nested transactions not supported")
}

func (m *mockTx) Commit(ctx context.Context) error {
	if m.commitFn != nil {
		return m.commitFn(ctx)
	}
	m.committed = true
	return nil
}

func (m *mockTx) Rollback(ctx context.Context) error {
	if m.rollbackFn != nil {
		return m.rollbackFn(ctx)
	}
	return nil
}

func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

func (m *mockTx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (m *mockTx) Conn() *pgx.Conn {
	return nil
}

// mockTxBeginner is a mock implementation of TxBeginner.
type mockTxBeginner struct {
	beginFn func(ctx context.Context) (pgx.Tx, error)
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.beginFn != nil {
		return m.beginFn(ctx)
	}
	return &mockTx{}, nil
}

func beginnerFor(tx *mockTx) *mockTxBeginner {
	return &mockTxBeginner{beginFn: func(ctx context.Context) (pgx.Tx, error) { return tx, nil }}
}

// mockCouponRepository is a mock implementation of CouponRepositoryInterface.
type mockCouponRepository struct {
	getByCodeFn                 func(ctx context.Context, tenantID uuid.UUID, code string) (*model.Coupon, error)
	getByIDFn                   func(ctx context.Context, tenantID, id uuid.UUID) (*model.Coupon, error)
	getForUpdateFn              func(ctx context.Context, tx database.TxQuerier, tenantID, id uuid.UUID) (*model.Coupon, error)
	getByCodeForUpdateFn        func(ctx context.Context, tx database.TxQuerier, tenantID uuid.UUID, code string) (*model.Coupon, error)
	listByReferencesForUpdateFn func(ctx context.Context, tx database.TxQuerier, tenantID uuid.UUID, refs []string) ([]model.Coupon, error)
	updateStatusFn              func(ctx context.Context, tenantID, id uuid.UUID, from, to model.CouponStatus, note string, at time.Time) (bool, error)
	markRedeemedFn              func(ctx context.Context, tx database.TxQuerier, tenantID, id uuid.UUID, at time.Time) (bool, error)
	activateManyFn              func(ctx context.Context, tx database.TxQuerier, tenantID uuid.UUID, ids []uuid.UUID, note string, at time.Time) (int64, error)
	nextReferenceBlockFn        func(ctx context.Context, tx database.TxQuerier, tenantID uuid.UUID, prefix string, n int) (int64, error)
	insertManyFn                func(ctx context.Context, tx database.TxQuerier, coupons []model.Coupon) error
	expireOverdueFn             func(ctx context.Context, at time.Time) (int64, error)
}

func (m *mockCouponRepository) GetByCode(ctx context.Context, tenantID uuid.UUID, code string) (*model.Coupon, error) {
	if m.getByCodeFn != nil {
		return m.getByCodeFn(ctx, tenantID, code)
	}
	return nil, nil
}

func (m *mockCouponRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Coupon, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, tenantID, id)
	}
	return nil, nil
}

func (m *mockCouponRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, tenantID, id uuid.UUID) (*model.Coupon, error) {
	if m.getForUpdateFn != nil {
		return m.getForUpdateFn(ctx, tx, tenantID, id)
	}
	return nil, ErrCouponNotFound
}

func (m *mockCouponRepository) GetByCodeForUpdate(ctx context.Context, tx database.TxQuerier, tenantID uuid.UUID, code string) (*model.Coupon, error) {
	if m.getByCodeForUpdateFn != nil {
		return m.getByCodeForUpdateFn(ctx, tx, tenantID, code)
	}
	return nil, ErrCouponNotFound
}

func (m *mockCouponRepository) ListByReferencesForUpdate(ctx context.Context, tx database.TxQuerier, tenantID uuid.UUID, refs []string) ([]model.Coupon, error) {
	if m.listByReferencesForUpdateFn != nil {
		return m.listByReferencesForUpdateFn(ctx, tx, tenantID, refs)
	}
	return []model.Coupon{}, nil
}

func (m *mockCouponRepository) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, from, to model.CouponStatus, note string, at time.Time) (bool, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, tenantID, id, from, to, note, at)
	}
	return true, nil
}

func (m *mockCouponRepository) MarkRedeemed(ctx context.Context, tx database.TxQuerier, tenantID, id uuid.UUID, at time.Time) (bool, error) {
	if m.markRedeemedFn != nil {
		return m.markRedeemedFn(ctx, tx, tenantID, id, at)
	}
	return true, nil
}

func (m *mockCouponRepository) ActivateMany(ctx context.Context, tx database.TxQuerier, tenantID uuid.UUID, ids []uuid.UUID, note string, at time.Time) (int64, error) {
	if m.activateManyFn != nil {
		return m.activateManyFn(ctx, tx, tenantID, ids, note, at)
	}
	return int64(len(ids)), nil
}

func (m *mockCouponRepository) NextReferenceBlock(ctx context.Context, tx database.TxQuerier, tenantID uuid.UUID, prefix string, n int) (int64, error) {
	if m.nextReferenceBlockFn != nil {
		return m.nextReferenceBlockFn(ctx, tx, tenantID, prefix, n)
	}
	return 1, nil
}

func (m *mockCouponRepository) InsertMany(ctx context.Context, tx database.TxQuerier, coupons []model.Coupon) error {
	if m.insertManyFn != nil {
		return m.insertManyFn(ctx, tx, coupons)
	}
	return nil
}

func (m *mockCouponRepository) ExpireOverdue(ctx context.Context, at time.Time) (int64, error) {
	if m.expireOverdueFn != nil {
		return m.expireOverdueFn(ctx, at)
	}
	return 0, nil
}

// mockSessionRepository is a mock implementation of SessionRepositoryInterface.
type mockSessionRepository struct {
	insertFn       func(ctx context.Context, s *model.ScanSession) error
	getByIDFn      func(ctx context.Context, id uuid.UUID) (*model.ScanSession, error)
	getForUpdateFn func(ctx context.Context, tx database.TxQuerier, id uuid.UUID) (*model.ScanSession, error)
	requestOTPFn   func(ctx context.Context, id uuid.UUID, mobile string, at time.Time) (bool, error)
	completeFn     func(ctx context.Context, tx database.TxQuerier, id, scanID uuid.UUID, at time.Time) (bool, error)
}

func (m *mockSessionRepository) Insert(ctx context.Context, s *model.ScanSession) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, s)
	}
	return nil
}

func (m *mockSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ScanSession, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, id uuid.UUID) (*model.ScanSession, error) {
	if m.getForUpdateFn != nil {
		return m.getForUpdateFn(ctx, tx, id)
	}
	return nil, ErrSessionNotFound
}

func (m *mockSessionRepository) RequestOTP(ctx context.Context, id uuid.UUID, mobile string, at time.Time) (bool, error) {
	if m.requestOTPFn != nil {
		return m.requestOTPFn(ctx, id, mobile, at)
	}
	return true, nil
}

func (m *mockSessionRepository) Complete(ctx context.Context, tx database.TxQuerier, id, scanID uuid.UUID, at time.Time) (bool, error) {
	if m.completeFn != nil {
		return m.completeFn(ctx, tx, id, scanID, at)
	}
	return true, nil
}

// mockOTPRepository is a mock implementation of OTPRepositoryInterface.
type mockOTPRepository struct {
	upsertFn          func(ctx context.Context, rec *model.OTPRecord) error
	registerAttemptFn func(ctx context.Context, db database.TxQuerier, target string) (*model.OTPRecord, error)
	consumeFn         func(ctx context.Context, db database.TxQuerier, id uuid.UUID, at time.Time) (bool, error)
}

func (m *mockOTPRepository) Upsert(ctx context.Context, rec *model.OTPRecord) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, rec)
	}
	return nil
}

func (m *mockOTPRepository) RegisterAttempt(ctx context.Context, db database.TxQuerier, target string) (*model.OTPRecord, error) {
	if m.registerAttemptFn != nil {
		return m.registerAttemptFn(ctx, db, target)
	}
	return nil, nil
}

func (m *mockOTPRepository) Consume(ctx context.Context, db database.TxQuerier, id uuid.UUID, at time.Time) (bool, error) {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, db, id, at)
	}
	return true, nil
}

// mockOTPService is a mock implementation of OTPServiceInterface.
type mockOTPService struct {
	issueFn  func(ctx context.Context, target, recipient string, purpose model.OTPPurpose) (*model.OTPRecord, error)
	verifyFn func(ctx context.Context, db database.TxQuerier, target, code string) error
}

func (m *mockOTPService) Issue(ctx context.Context, target, recipient string, purpose model.OTPPurpose) (*model.OTPRecord, error) {
	if m.issueFn != nil {
		return m.issueFn(ctx, target, recipient, purpose)
	}
	return &model.OTPRecord{ID: uuid.New(), Target: target, Recipient: recipient, Purpose: purpose, Code: "123456"}, nil
}

func (m *mockOTPService) Verify(ctx context.Context, db database.TxQuerier, target, code string) error {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, db, target, code)
	}
	return nil
}

// mockCreditRepository is a mock implementation of CreditRepositoryInterface.
type mockCreditRepository struct {
	insertScanFn        func(ctx context.Context, tx database.TxQuerier, scan *model.Scan) error
	appendTransactionFn func(ctx context.Context, tx database.TxQuerier, txn *model.CreditTransaction) error
	addToBalanceFn      func(ctx context.Context, tx database.TxQuerier, txn *model.CreditTransaction) (int64, error)
	debitFn             func(ctx context.Context, tx database.TxQuerier, txn *model.CreditTransaction, amount int64) (int64, bool, error)
	getBalanceFn        func(ctx context.Context, tenantID uuid.UUID, identity string) (int64, error)
	listTransactionsFn  func(ctx context.Context, tenantID uuid.UUID, identity string, limit int) ([]model.CreditTransaction, error)
}

func (m *mockCreditRepository) InsertScan(ctx context.Context, tx database.TxQuerier, scan *model.Scan) error {
	if m.insertScanFn != nil {
		return m.insertScanFn(ctx, tx, scan)
	}
	return nil
}

func (m *mockCreditRepository) AppendTransaction(ctx context.Context, tx database.TxQuerier, txn *model.CreditTransaction) error {
	if m.appendTransactionFn != nil {
		return m.appendTransactionFn(ctx, tx, txn)
	}
	return nil
}

func (m *mockCreditRepository) AddToBalance(ctx context.Context, tx database.TxQuerier, txn *model.CreditTransaction) (int64, error) {
	if m.addToBalanceFn != nil {
		return m.addToBalanceFn(ctx, tx, txn)
	}
	return txn.Amount, nil
}

func (m *mockCreditRepository) Debit(ctx context.Context, tx database.TxQuerier, txn *model.CreditTransaction, amount int64) (int64, bool, error) {
	if m.debitFn != nil {
		return m.debitFn(ctx, tx, txn, amount)
	}
	return 0, true, nil
}

func (m *mockCreditRepository) GetBalance(ctx context.Context, tenantID uuid.UUID, identity string) (int64, error) {
	if m.getBalanceFn != nil {
		return m.getBalanceFn(ctx, tenantID, identity)
	}
	return 0, nil
}

func (m *mockCreditRepository) ListTransactions(ctx context.Context, tenantID uuid.UUID, identity string, limit int) ([]model.CreditTransaction, error) {
	if m.listTransactionsFn != nil {
		return m.listTransactionsFn(ctx, tenantID, identity, limit)
	}
	return []model.CreditTransaction{}, nil
}

// mockLimiter is a mock implementation of ratelimit.Limiter.
type mockLimiter struct {
	checkFn func(ctx context.Context, rule ratelimit.Rule, subject string) (ratelimit.Decision, error)
}

func (m *mockLimiter) Check(ctx context.Context, rule ratelimit.Rule, subject string) (ratelimit.Decision, error) {
	if m.checkFn != nil {
		return m.checkFn(ctx, rule, subject)
	}
	return ratelimit.Decision{Allowed: true, Count: 1, Limit: rule.Limit}, nil
}

// recordingDispatcher captures every message it is asked to send.
type recordingDispatcher struct {
	sent []notify.OTPMessage
	err  error
}

func (d *recordingDispatcher) SendOTP(ctx context.Context, msg notify.OTPMessage) error {
	d.sent = append(d.sent, msg)
	return d.err
}
