package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mscan/mscan-core/internal/metrics"
	"github.com/mscan/mscan-core/internal/model"
	"github.com/mscan/mscan-core/pkg/database"
)

const (
	couponCodeLength   = 12
	couponCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxListedMissing   = 5
)

// CouponRepositoryInterface defines the interface for coupon data access.
type CouponRepositoryInterface interface {
	GetByCode(ctx context.Context, tenantID uuid.UUID, code string) (*model.Coupon, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Coupon, error)
	GetForUpdate(ctx context.Context, tx database.TxQuerier, tenantID, id uuid.UUID) (*model.Coupon, error)
	GetByCodeForUpdate(ctx context.Context, tx database.TxQuerier, tenantID uuid.UUID, code string) (*model.Coupon, error)
	ListByReferencesForUpdate(ctx context.Context, tx database.TxQuerier, tenantID uuid.UUID, refs []string) ([]model.Coupon, error)
	UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, from, to model.CouponStatus, note string, at time.Time) (bool, error)
	MarkRedeemed(ctx context.Context, tx database.TxQuerier, tenantID, id uuid.UUID, at time.Time) (bool, error)
	ActivateMany(ctx context.Context, tx database.TxQuerier, tenantID uuid.UUID, ids []uuid.UUID, note string, at time.Time) (int64, error)
	NextReferenceBlock(ctx context.Context, tx database.TxQuerier, tenantID uuid.UUID, prefix string, n int) (int64, error)
	InsertMany(ctx context.Context, tx database.TxQuerier, coupons []model.Coupon) error
	ExpireOverdue(ctx context.Context, at time.Time) (int64, error)
}

// TxBeginner defines the interface for beginning transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CouponService owns the coupon lifecycle: creation, single transitions and
// bulk activation.
type CouponService struct {
	pool         TxBeginner
	couponRepo   CouponRepositoryInterface
	maxBatchSize int
	now          func() time.Time
	random       io.Reader
}

// NewCouponService creates a new CouponService with the given pool and repository.
func NewCouponService(pool *pgxpool.Pool, couponRepo CouponRepositoryInterface, maxBatchSize int) *CouponService {
	return NewCouponServiceWithTxBeginner(pool, couponRepo, maxBatchSize)
}

// NewCouponServiceWithTxBeginner creates a CouponService with a custom TxBeginner.
// Primarily used for testing.
func NewCouponServiceWithTxBeginner(pool TxBeginner, couponRepo CouponRepositoryInterface, maxBatchSize int) *CouponService {
	return &CouponService{
		pool:         pool,
		couponRepo:   couponRepo,
		maxBatchSize: maxBatchSize,
		now:          time.Now,
		random:       rand.Reader,
	}
}

// LookupByCode returns the coupon with the given public code.
func (s *CouponService) LookupByCode(ctx context.Context, tenantID uuid.UUID, code string) (*model.Coupon, error) {
	coupon, err := s.couponRepo.GetByCode(ctx, tenantID, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}
	return coupon, nil
}

// Get returns a coupon by id.
func (s *CouponService) Get(ctx context.Context, tenantID, couponID uuid.UUID) (*model.Coupon, error) {
	coupon, err := s.couponRepo.GetByID(ctx, tenantID, couponID)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}
	return coupon, nil
}

// Transition applies one lifecycle event to a coupon.
// The write is conditional on the status that was read, so a concurrent
// change surfaces as ErrConcurrentUpdate instead of being overwritten.
func (s *CouponService) Transition(ctx context.Context, tenantID, couponID uuid.UUID, ev model.CouponEvent, note string) (*model.Coupon, error) {
	coupon, err := s.Get(ctx, tenantID, couponID)
	if err != nil {
		return nil, err
	}

	next, ok := model.NextStatus(coupon.Status, ev)
	if !ok {
		return nil, ErrInvalidTransition.WithMessage(fmt.Sprintf("cannot %s a coupon that is %s", ev, coupon.Status))
	}

	now := s.now()
	note = strings.TrimSpace(note)
	switch ev {
	case model.EventExpire:
		if !coupon.IsPastExpiry(now) {
			return nil, ErrInvalidTransition.WithMessage("coupon has not reached its expiry date")
		}
	case model.EventActivate, model.EventReactivate:
		if coupon.IsPastExpiry(now) {
			return nil, ErrCouponExpired
		}
	case model.EventDeactivate:
		if note == "" {
			return nil, ErrValidation.WithMessage("invalid request: note is required to deactivate a coupon")
		}
	}

	updated, err := s.couponRepo.UpdateStatus(ctx, tenantID, couponID, coupon.Status, next, note, now)
	if err != nil {
		return nil, fmt.Errorf("update coupon status: %w", err)
	}
	if !updated {
		return nil, ErrConcurrentUpdate
	}

	log.Info().
		Str("tenant_id", tenantID.String()).
		Str("coupon_id", couponID.String()).
		Str("event", string(ev)).
		Str("from", string(coupon.Status)).
		Str("to", string(next)).
		Msg("coupon transitioned")
	metrics.CouponTransitions.WithLabelValues(string(ev)).Inc()

	coupon.Status = next
	coupon.UpdatedAt = now
	switch next {
	case model.CouponActive:
		if note != "" {
			coupon.ActivationNote = note
		}
	case model.CouponInactive:
		coupon.DeactivationReason = note
	case model.CouponRedeemed:
		coupon.RedeemedAt = &now
	}
	return coupon, nil
}

// ActivateRange activates every coupon from fromRef to toRef inclusive.
// All coupons must exist and be printed; otherwise nothing changes.
func (s *CouponService) ActivateRange(ctx context.Context, tenantID uuid.UUID, fromRef, toRef, note string) (*model.BatchActivationResult, error) {
	from, err := model.ParseReference(fromRef)
	if err != nil {
		return nil, ErrValidation.WithMessage(fmt.Sprintf("invalid request: fromRef %q is not a coupon reference", fromRef))
	}
	to, err := model.ParseReference(toRef)
	if err != nil {
		return nil, ErrValidation.WithMessage(fmt.Sprintf("invalid request: toRef %q is not a coupon reference", toRef))
	}
	if from.Prefix != to.Prefix {
		return nil, ErrValidation.WithMessage("invalid request: fromRef and toRef must share a prefix")
	}
	if from.Width != to.Width {
		return nil, ErrValidation.WithMessage("invalid request: fromRef and toRef must have the same number of digits")
	}
	if from.Number > to.Number {
		return nil, ErrValidation.WithMessage("invalid request: fromRef must not come after toRef")
	}
	count := to.Number - from.Number + 1
	if count > int64(s.maxBatchSize) {
		return nil, ErrValidation.WithMessage(fmt.Sprintf("invalid request: range covers %d coupons, the maximum is %d", count, s.maxBatchSize))
	}

	refs := make([]string, 0, count)
	for n := from.Number; n <= to.Number; n++ {
		refs = append(refs, model.Reference{Prefix: from.Prefix, Number: n, Width: from.Width}.String())
	}
	return s.activateReferences(ctx, tenantID, refs, note)
}

// ActivateBatch activates an explicit list of coupons sharing a prefix.
// All coupons must exist and be printed; otherwise nothing changes.
func (s *CouponService) ActivateBatch(ctx context.Context, tenantID uuid.UUID, references []string, note string) (*model.BatchActivationResult, error) {
	if len(references) == 0 {
		return nil, ErrValidation.WithMessage("invalid request: references must not be empty")
	}
	if len(references) > s.maxBatchSize {
		return nil, ErrValidation.WithMessage(fmt.Sprintf("invalid request: %d references given, the maximum is %d", len(references), s.maxBatchSize))
	}

	refs := make([]string, 0, len(references))
	seen := make(map[string]struct{}, len(references))
	prefix := ""
	for _, raw := range references {
		ref, err := model.ParseReference(raw)
		if err != nil {
			return nil, ErrValidation.WithMessage(fmt.Sprintf("invalid request: %q is not a coupon reference", raw))
		}
		if prefix == "" {
			prefix = ref.Prefix
		} else if ref.Prefix != prefix {
			return nil, ErrValidation.WithMessage("invalid request: references must share a prefix")
		}
		normalized := ref.String()
		if _, dup := seen[normalized]; dup {
			return nil, ErrValidation.WithMessage(fmt.Sprintf("invalid request: reference %s is listed twice", normalized))
		}
		seen[normalized] = struct{}{}
		refs = append(refs, normalized)
	}
	return s.activateReferences(ctx, tenantID, refs, note)
}

// activateReferences locks every referenced coupon, validates all of them and
// only then activates them in the same transaction.
func (s *CouponService) activateReferences(ctx context.Context, tenantID uuid.UUID, refs []string, note string) (*model.BatchActivationResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	coupons, err := s.couponRepo.ListByReferencesForUpdate(ctx, tx, tenantID, refs)
	if err != nil {
		return nil, fmt.Errorf("lock coupons: %w", err)
	}

	if len(coupons) != len(refs) {
		return nil, ErrValidation.WithMessage("invalid request: coupons not found: " + missingReferences(refs, coupons))
	}

	now := s.now()
	ids := make([]uuid.UUID, len(coupons))
	for i := range coupons {
		c := &coupons[i]
		if c.Status != model.CouponPrinted {
			return nil, ErrInvalidTransition.WithMessage(fmt.Sprintf("coupon %s is %s, only printed coupons can be activated", c.Reference, c.Status))
		}
		if c.IsPastExpiry(now) {
			return nil, ErrCouponExpired.WithMessage(fmt.Sprintf("coupon %s has expired", c.Reference))
		}
		ids[i] = c.ID
	}

	n, err := s.couponRepo.ActivateMany(ctx, tx, tenantID, ids, strings.TrimSpace(note), now)
	if err != nil {
		return nil, fmt.Errorf("activate coupons: %w", err)
	}
	if n != int64(len(ids)) {
		return nil, ErrConcurrentUpdate
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit activation: %w", err)
	}

	metrics.CouponTransitions.WithLabelValues(string(model.EventActivate)).Add(float64(n))
	log.Info().
		Str("tenant_id", tenantID.String()).
		Int("count", len(refs)).
		Str("first", refs[0]).
		Str("last", refs[len(refs)-1]).
		Msg("coupons activated")

	return &model.BatchActivationResult{Activated: int(n), References: refs}, nil
}

func missingReferences(refs []string, found []model.Coupon) string {
	have := make(map[string]struct{}, len(found))
	for _, c := range found {
		have[c.Reference] = struct{}{}
	}
	var missing []string
	for _, r := range refs {
		if _, ok := have[r]; !ok {
			missing = append(missing, r)
		}
	}
	sort.Strings(missing)
	if len(missing) > maxListedMissing {
		return strings.Join(missing[:maxListedMissing], ", ") + fmt.Sprintf(" and %d more", len(missing)-maxListedMissing)
	}
	return strings.Join(missing, ", ")
}

// CreateBatch creates draft coupons with sequential references under req.Prefix
// and random public codes.
func (s *CouponService) CreateBatch(ctx context.Context, tenantID uuid.UUID, req *model.CreateCouponsRequest) ([]model.Coupon, error) {
	// Defense-in-depth: check for nil pointer even though handler validates
	if req == nil || req.Count == nil || req.Points == nil {
		return nil, ErrValidation
	}
	count := *req.Count
	if count < 1 || count > s.maxBatchSize {
		return nil, ErrValidation.WithMessage(fmt.Sprintf("invalid request: count must be between 1 and %d", s.maxBatchSize))
	}
	if *req.Points < 1 {
		return nil, ErrValidation.WithMessage("invalid request: points must be at least 1")
	}
	now := s.now()
	if req.ExpiryDate != nil && !req.ExpiryDate.After(now) {
		return nil, ErrValidation.WithMessage("invalid request: expiry_date must be in the future")
	}
	prefix := strings.ToUpper(strings.TrimSpace(req.Prefix))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	first, err := s.couponRepo.NextReferenceBlock(ctx, tx, tenantID, prefix, count)
	if err != nil {
		return nil, fmt.Errorf("reserve references: %w", err)
	}

	batchID := uuid.New()
	coupons := make([]model.Coupon, count)
	for i := range coupons {
		code, err := s.generateCode()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		coupons[i] = model.Coupon{
			ID:            uuid.New(),
			TenantID:      tenantID,
			Code:          code,
			Reference:     model.Reference{Prefix: prefix, Number: first + int64(i), Width: model.ReferenceWidth}.String(),
			Status:        model.CouponDraft,
			Points:        *req.Points,
			DiscountValue: req.DiscountValue,
			ExpiryDate:    req.ExpiryDate,
			BatchID:       &batchID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	if err := s.couponRepo.InsertMany(ctx, tx, coupons); err != nil {
		return nil, fmt.Errorf("insert coupons: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit coupons: %w", err)
	}

	log.Info().
		Str("tenant_id", tenantID.String()).
		Str("batch_id", batchID.String()).
		Int("count", count).
		Str("first", coupons[0].Reference).
		Msg("coupon batch created")
	return coupons, nil
}

// ExpireOverdue expires every coupon past its expiry date and returns how many changed.
func (s *CouponService) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.couponRepo.ExpireOverdue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.CouponTransitions.WithLabelValues(string(model.EventExpire)).Add(float64(n))
	}
	return n, nil
}

func (s *CouponService) generateCode() (string, error) {
	buf := make([]byte, couponCodeLength)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = couponCodeAlphabet[int(b)%len(couponCodeAlphabet)]
	}
	return string(buf), nil
}
