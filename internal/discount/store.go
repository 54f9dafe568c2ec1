package discount

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no rule matches the requested id.
	ErrNotFound = errors.New("discount not found")
	// ErrDuplicateVoucher is returned when a voucher code is already used by another rule.
	ErrDuplicateVoucher = errors.New("voucher code already exists")
	// ErrStoreUnavailable indicates the database dependency is not configured.
	ErrStoreUnavailable = errors.New("discount: store unavailable")
)

// Redemption records that an applied discount was consumed by an order.
type Redemption struct {
	DiscountID uuid.UUID       `json:"discountId"`
	OrderID    uuid.UUID       `json:"orderId"`
	UserID     string          `json:"userId"`
	Amount     decimal.Decimal `json:"amount"`
}

// Repository persists discount rules and their redemptions.
type Repository interface {
	ListRules(ctx context.Context, limit, offset int) ([]Rule, int64, error)
	// CandidateRules returns the active rules in engine input order.
	CandidateRules(ctx context.Context) ([]Rule, error)
	GetRule(ctx context.Context, id uuid.UUID) (Rule, error)
	CreateRule(ctx context.Context, r Rule) (Rule, error)
	UpdateRule(ctx context.Context, r Rule) (Rule, error)
	DeleteRule(ctx context.Context, id uuid.UUID) error
	// RecordRedemption reports false when the pair was already recorded.
	RecordRedemption(ctx context.Context, red Redemption) (bool, error)
	// RecordRedemptions records reds in a single transaction and returns how many were new.
	// A usage cap hit on any of them rolls back all of them with a *LimitError.
	RecordRedemptions(ctx context.Context, reds []Redemption) (int, error)
}

// LimitError names the discount whose usage cap stopped a redemption.
type LimitError struct {
	DiscountID uuid.UUID
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("discount %s: %s", e.DiscountID, ErrUsageLimitReached)
}

func (e *LimitError) Unwrap() error { return ErrUsageLimitReached }

// NewStore constructs a Repository backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Repository {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const ruleColumns = `id, name, discount_type, value_type, discount_value::text, discount_scope,
start_date, end_date, is_active, max_usage_count, usage_count, min_order_value::text, voucher_code,
product_ids, category_ids, sub_category_ids, created_at, updated_at`

func (s *pgStore) ListRules(ctx context.Context, limit, offset int) ([]Rule, int64, error) {
	if s == nil || s.pool == nil {
		return nil, 0, ErrStoreUnavailable
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `SELECT `+ruleColumns+` FROM discounts ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	rules, err := collectRules(rows)
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM discounts`).Scan(&total); err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

func (s *pgStore) CandidateRules(ctx context.Context) ([]Rule, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+ruleColumns+` FROM discounts WHERE is_active ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

func (s *pgStore) GetRule(ctx context.Context, id uuid.UUID) (Rule, error) {
	if s == nil || s.pool == nil {
		return Rule{}, ErrStoreUnavailable
	}
	r, err := scanRule(s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM discounts WHERE id = $1`, pgUUID(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Rule{}, ErrNotFound
	}
	return r, err
}

func (s *pgStore) CreateRule(ctx context.Context, r Rule) (Rule, error) {
	if s == nil || s.pool == nil {
		return Rule{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO discounts (name, discount_type, value_type, discount_value, discount_scope,
start_date, end_date, is_active, max_usage_count, min_order_value, voucher_code, product_ids, category_ids, sub_category_ids)
VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10::numeric, $11, $12, $13, $14)
RETURNING `+ruleColumns, ruleArgs(r)...)
	created, err := scanRule(row)
	if err != nil {
		return Rule{}, mapWriteErr(err)
	}
	return created, nil
}

func (s *pgStore) UpdateRule(ctx context.Context, r Rule) (Rule, error) {
	if s == nil || s.pool == nil {
		return Rule{}, ErrStoreUnavailable
	}
	args := append(ruleArgs(r), pgUUID(r.ID))
	row := s.pool.QueryRow(ctx, `UPDATE discounts SET name = $1, discount_type = $2, value_type = $3, discount_value = $4::numeric,
discount_scope = $5, start_date = $6, end_date = $7, is_active = $8, max_usage_count = $9, min_order_value = $10::numeric,
voucher_code = $11, product_ids = $12, category_ids = $13, sub_category_ids = $14, updated_at = now()
WHERE id = $15
RETURNING `+ruleColumns, args...)
	updated, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rule{}, ErrNotFound
	}
	if err != nil {
		return Rule{}, mapWriteErr(err)
	}
	return updated, nil
}

func (s *pgStore) DeleteRule(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM discounts WHERE id = $1`, pgUUID(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) RecordRedemption(ctx context.Context, red Redemption) (bool, error) {
	n, err := s.RecordRedemptions(ctx, []Redemption{red})
	return n == 1, err
}

func (s *pgStore) RecordRedemptions(ctx context.Context, reds []Redemption) (recorded int, err error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	if len(reds) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil || recorded == 0 {
			_ = tx.Rollback(ctx)
		}
	}()

	// Row locks on discounts are taken in id order so concurrent orders cannot deadlock.
	for _, red := range SortRedemptions(reds) {
		ok, err := recordRedemptionTx(ctx, tx, red)
		if err != nil {
			return 0, err
		}
		if ok {
			recorded++
		}
	}
	if recorded == 0 {
		return 0, nil
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit redemptions: %w", err)
	}
	return recorded, nil
}

func recordRedemptionTx(ctx context.Context, tx pgx.Tx, red Redemption) (bool, error) {
	tag, err := tx.Exec(ctx, `INSERT INTO discount_redemptions (discount_id, order_id, user_id, amount)
VALUES ($1, $2, $3, $4::numeric) ON CONFLICT (discount_id, order_id) DO NOTHING`,
		pgUUID(red.DiscountID), pgUUID(red.OrderID), red.UserID, red.Amount.String())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return false, ErrNotFound
		}
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	tag, err = tx.Exec(ctx, `UPDATE discounts SET usage_count = usage_count + 1, updated_at = now()
WHERE id = $1 AND (max_usage_count IS NULL OR usage_count < max_usage_count)`, pgUUID(red.DiscountID))
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, &LimitError{DiscountID: red.DiscountID}
	}
	return true, nil
}

// SortRedemptions returns a copy of reds ordered by discount id.
func SortRedemptions(reds []Redemption) []Redemption {
	out := make([]Redemption, len(reds))
	copy(out, reds)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].DiscountID[:], out[j].DiscountID[:]) < 0
	})
	return out
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return ErrDuplicateVoucher
	}
	return err
}

func ruleArgs(r Rule) []any {
	var minOrder *string
	if r.MinOrderValue != nil {
		v := r.MinOrderValue.String()
		minOrder = &v
	}
	return []any{
		r.Name, string(r.Type), string(r.ValueType), r.Value.String(), string(r.Scope),
		r.StartDate, r.EndDate, r.IsActive, r.MaxUsageCount, minOrder, r.VoucherCode,
		pgUUIDs(r.ProductIDs), pgUUIDs(r.CategoryIDs), pgUUIDs(r.SubCategoryIDs),
	}
}

func collectRules(rows pgx.Rows) ([]Rule, error) {
	defer rows.Close()
	rules := make([]Rule, 0)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func scanRule(row pgx.Row) (Rule, error) {
	var (
		r                          Rule
		id                         pgtype.UUID
		discountType, valueType    string
		scope, value               string
		minOrder                   *string
		products, categories, subs []pgtype.UUID
	)
	if err := row.Scan(&id, &r.Name, &discountType, &valueType, &value, &scope,
		&r.StartDate, &r.EndDate, &r.IsActive, &r.MaxUsageCount, &r.UsageCount, &minOrder, &r.VoucherCode,
		&products, &categories, &subs, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Rule{}, err
	}
	r.ID = uuid.UUID(id.Bytes)
	r.Type = DiscountType(discountType)
	r.ValueType = ValueType(valueType)
	r.Scope = Scope(scope)
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return Rule{}, fmt.Errorf("parse discount_value: %w", err)
	}
	r.Value = parsed
	if minOrder != nil {
		floor, err := decimal.NewFromString(*minOrder)
		if err != nil {
			return Rule{}, fmt.Errorf("parse min_order_value: %w", err)
		}
		r.MinOrderValue = &floor
	}
	r.ProductIDs = fromPgUUIDs(products)
	r.CategoryIDs = fromPgUUIDs(categories)
	r.SubCategoryIDs = fromPgUUIDs(subs)
	r.StartDate = utcPtr(r.StartDate)
	r.EndDate = utcPtr(r.EndDate)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgUUIDs(ids []uuid.UUID) []pgtype.UUID {
	out := make([]pgtype.UUID, 0, len(ids))
	for _, id := range ids {
		out = append(out, pgUUID(id))
	}
	return out
}

func fromPgUUIDs(ids []pgtype.UUID) []uuid.UUID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id.Valid {
			out = append(out, uuid.UUID(id.Bytes))
		}
	}
	return out
}
