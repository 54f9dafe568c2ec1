package discount

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-promo/internal/cache"
	"github.com/noah-isme/backend-promo/internal/common"
	"github.com/noah-isme/backend-promo/internal/obs"
)

// Cache stores the candidate rule snapshot. *cache.JSON satisfies it.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, keys ...string) error
}

// Locker serializes redemption recording per discount. lock.Locker satisfies it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Enqueuer hands redemption tasks to the worker. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Service loads rules from the repository and runs the engine over them.
type Service struct {
	Repo    Repository
	Cache   Cache
	Engine  *Engine
	Locker  Locker
	Queue   Enqueuer
	Metrics *obs.DiscountMetrics
	Logger  zerolog.Logger
	Now     func() time.Time

	QueueName string
	MaxRetry  int
	LockTTL   time.Duration
}

// CalculateInput is the payload of a cart calculation.
type CalculateInput struct {
	Items         []OrderItem
	VoucherCode   string
	OrderSubtotal *decimal.Decimal
}

// ProductPriceInput asks for the discounted line price of one product within an order.
type ProductPriceInput struct {
	ProductID     uuid.UUID
	OriginalPrice decimal.Decimal
	Items         []OrderItem
	VoucherCode   string
}

// RedeemInput finalizes the discounts of a placed order.
type RedeemInput struct {
	OrderID     uuid.UUID
	UserID      string
	Items       []OrderItem
	VoucherCode string
}

// RedeemResult is the recalculated order plus what happened to each redemption.
type RedeemResult struct {
	Result
	Redemptions []Redemption `json:"redemptions"`
	Queued      bool         `json:"queued"`
}

// RedeemQuote is the customer facing rendition of a RedeemResult.
type RedeemQuote struct {
	Quote
	Redemptions []Redemption `json:"redemptions"`
	Queued      bool         `json:"queued"`
}

// Quote strips the embedded Result down to what may be shown to a customer.
func (res RedeemResult) Quote() RedeemQuote {
	return RedeemQuote{Quote: res.Result.Quote(), Redemptions: res.Redemptions, Queued: res.Queued}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) engine() *Engine {
	if s.Engine != nil {
		return s.Engine
	}
	return NewEngine(s.Logger)
}

// candidates returns the active rules, read through the cache.
func (s *Service) candidates(ctx context.Context) ([]Rule, error) {
	var rules []Rule
	if s.Cache != nil {
		hit, err := s.Cache.Get(ctx, cache.KeyDiscountCandidates, &rules)
		if err != nil {
			s.Logger.Warn().Err(err).Msg("discount cache read failed")
		}
		if hit {
			return rules, nil
		}
	}
	rules, err := s.Repo.CandidateRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load candidate rules: %w", err)
	}
	if s.Cache != nil {
		if err := s.Cache.Set(ctx, cache.KeyDiscountCandidates, rules); err != nil {
			s.Logger.Warn().Err(err).Msg("discount cache write failed")
		}
	}
	return rules, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Delete(ctx, cache.KeyDiscountCandidates); err != nil {
		s.Logger.Warn().Err(err).Msg("discount cache invalidation failed")
	}
}

// Calculate evaluates every active rule against the order.
func (s *Service) Calculate(ctx context.Context, in CalculateInput) (Result, error) {
	return s.calculate(ctx, "calculate", in)
}

func (s *Service) calculate(ctx context.Context, op string, in CalculateInput) (Result, error) {
	start := time.Now()
	res, err := s.evaluate(ctx, in)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.Metrics.ObserveEvaluation(op, outcome, obs.DurationMillis(time.Since(start)))
	if err != nil {
		return Result{}, err
	}
	for _, d := range res.AppliedDiscounts {
		s.Metrics.ObserveApplied(string(d.Type), string(d.Scope))
	}
	return res, nil
}

func (s *Service) evaluate(ctx context.Context, in CalculateInput) (Result, error) {
	rules, err := s.candidates(ctx)
	if err != nil {
		return Result{}, err
	}
	res, err := s.engine().Calculate(rules, in.Items, Options{
		VoucherCode:   strings.TrimSpace(in.VoucherCode),
		Now:           s.now(),
		OrderSubtotal: in.OrderSubtotal,
	})
	if errors.Is(err, ErrInvalidOrderItem) {
		return Result{}, common.BadRequest(err.Error(), nil, err)
	}
	return res, err
}

// ProductPrice returns the discounted line price of in.ProductID within the order.
func (s *Service) ProductPrice(ctx context.Context, in ProductPriceInput) (decimal.Decimal, error) {
	rules, err := s.candidates(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := s.engine().GetProductPriceAfterDiscount(in.ProductID, in.OriginalPrice, rules, in.Items, Options{
		VoucherCode: strings.TrimSpace(in.VoucherCode),
		Now:         s.now(),
	})
	if errors.Is(err, ErrInvalidOrderItem) {
		return decimal.Zero, common.BadRequest(err.Error(), nil, err)
	}
	return price, err
}

// PreviewProduct prices a single product outside of any order.
func (s *Service) PreviewProduct(ctx context.Context, p Product, voucherCode string) (ProductPrice, error) {
	if p.Price.IsNegative() {
		return ProductPrice{}, common.BadRequest("price must not be negative", nil, nil)
	}
	rules, err := s.candidates(ctx)
	if err != nil {
		return ProductPrice{}, err
	}
	return s.engine().GetDiscount(p, rules, ProductOptions{VoucherCode: strings.TrimSpace(voucherCode), Now: s.now()}), nil
}

// Check reports whether the stored rule id could apply to an order of subtotal.
func (s *Service) Check(ctx context.Context, id uuid.UUID, subtotal decimal.Decimal, voucherCode string) (Eligibility, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return Eligibility{}, err
	}
	return s.engine().CanApplyDiscount(r, subtotal, strings.TrimSpace(voucherCode), s.now()), nil
}

// Redeem recalculates the order and records one redemption per applied discount, through the
// worker queue when one is configured.
func (s *Service) Redeem(ctx context.Context, in RedeemInput) (RedeemResult, error) {
	if in.OrderID == uuid.Nil {
		return RedeemResult{}, common.BadRequest("orderId is required", nil, nil)
	}
	res, err := s.calculate(ctx, "redeem", CalculateInput{Items: in.Items, VoucherCode: in.VoucherCode})
	if err != nil {
		return RedeemResult{}, err
	}
	out := RedeemResult{Result: res, Redemptions: make([]Redemption, 0, len(res.AppliedDiscounts)), Queued: s.Queue != nil}
	for _, d := range res.AppliedDiscounts {
		out.Redemptions = append(out.Redemptions, Redemption{DiscountID: d.ID, OrderID: in.OrderID, UserID: in.UserID, Amount: d.Amount})
	}
	if s.Queue != nil {
		for _, red := range out.Redemptions {
			if err := s.enqueueRedemption(ctx, red); err != nil {
				return RedeemResult{}, err
			}
		}
		return out, nil
	}
	if err := s.recordRedemptions(ctx, out.Redemptions); err != nil {
		var limit *LimitError
		if errors.As(err, &limit) {
			return RedeemResult{}, common.Conflict(fmt.Sprintf("%s: %s", appliedName(res, limit.DiscountID), ErrUsageLimitReached), err)
		}
		return RedeemResult{}, mapRepoErr(err)
	}
	return out, nil
}

func appliedName(res Result, id uuid.UUID) string {
	for _, d := range res.AppliedDiscounts {
		if d.ID == id {
			return d.Name
		}
	}
	return id.String()
}

func (s *Service) enqueueRedemption(ctx context.Context, red Redemption) error {
	task, err := NewRedeemTask(red)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID(redeemTaskID(red))}
	if s.QueueName != "" {
		opts = append(opts, asynq.Queue(s.QueueName))
	}
	if s.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(s.MaxRetry))
	}
	if _, err := s.Queue.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			s.Metrics.ObserveRedemption("duplicate")
			return nil
		}
		return fmt.Errorf("enqueue redemption: %w", err)
	}
	s.Metrics.ObserveRedemption("queued")
	return nil
}

// recordRedemptions persists reds in one transaction while holding the lock of every discount
// involved. Nothing is recorded when any discount has run out of uses.
func (s *Service) recordRedemptions(ctx context.Context, reds []Redemption) error {
	if len(reds) == 0 {
		return nil
	}
	reds = SortRedemptions(reds)
	record := func(ctx context.Context) error {
		recorded, err := s.Repo.RecordRedemptions(ctx, reds)
		switch {
		case errors.Is(err, ErrUsageLimitReached):
			s.Metrics.ObserveRedemption("limit_reached")
			return err
		case err != nil:
			s.Metrics.ObserveRedemption("error")
			return err
		}
		for i := range reds {
			if i < recorded {
				s.Metrics.ObserveRedemption("recorded")
			} else {
				s.Metrics.ObserveRedemption("duplicate")
			}
		}
		if recorded > 0 {
			s.invalidate(ctx)
		}
		return nil
	}
	return s.withRedeemLocks(ctx, redeemLockKeys(reds), record)
}

// redeemLockKeys returns one key per distinct discount, in the order of the sorted reds.
func redeemLockKeys(reds []Redemption) []string {
	keys := make([]string, 0, len(reds))
	for i, red := range reds {
		if i > 0 && reds[i-1].DiscountID == red.DiscountID {
			continue
		}
		keys = append(keys, "discount:redeem:"+red.DiscountID.String())
	}
	return keys
}

// withRedeemLocks nests the locks for keys in order and runs fn inside the innermost one.
func (s *Service) withRedeemLocks(ctx context.Context, keys []string, fn func(context.Context) error) error {
	if s.Locker == nil || len(keys) == 0 {
		return fn(ctx)
	}
	return s.Locker.WithLock(ctx, keys[0], s.LockTTL, func(ctx context.Context) error {
		return s.withRedeemLocks(ctx, keys[1:], fn)
	})
}

// List returns one page of rules, newest first.
func (s *Service) List(ctx context.Context, page common.Pagination) ([]Rule, common.Pagination, error) {
	rules, total, err := s.Repo.ListRules(ctx, page.PerPage, page.Offset())
	if err != nil {
		return nil, page, err
	}
	page.TotalItems = int(total)
	return rules, page, nil
}

// Get fetches a rule by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Rule, error) {
	r, err := s.Repo.GetRule(ctx, id)
	if err != nil {
		return Rule{}, mapRepoErr(err)
	}
	return r, nil
}

// Create validates and stores a new rule.
func (s *Service) Create(ctx context.Context, r Rule) (Rule, error) {
	r = normalizeRule(r)
	if err := ValidateRule(r); err != nil {
		return Rule{}, err
	}
	created, err := s.Repo.CreateRule(ctx, r)
	if err != nil {
		return Rule{}, mapRepoErr(err)
	}
	s.invalidate(ctx)
	s.Logger.Info().Str("discount_id", created.ID.String()).Str("discount_name", created.Name).Msg("discount created")
	return created, nil
}

// Update replaces the definition of rule r.ID. The usage counter is left untouched.
func (s *Service) Update(ctx context.Context, r Rule) (Rule, error) {
	r = normalizeRule(r)
	if err := ValidateRule(r); err != nil {
		return Rule{}, err
	}
	updated, err := s.Repo.UpdateRule(ctx, r)
	if err != nil {
		return Rule{}, mapRepoErr(err)
	}
	s.invalidate(ctx)
	s.Logger.Info().Str("discount_id", updated.ID.String()).Msg("discount updated")
	return updated, nil
}

// Delete removes a rule and its redemptions.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.Repo.DeleteRule(ctx, id); err != nil {
		return mapRepoErr(err)
	}
	s.invalidate(ctx)
	s.Logger.Info().Str("discount_id", id.String()).Msg("discount deleted")
	return nil
}

func normalizeRule(r Rule) Rule {
	r.Name = strings.TrimSpace(r.Name)
	if r.VoucherCode != nil {
		code := strings.TrimSpace(*r.VoucherCode)
		if code == "" {
			r.VoucherCode = nil
		} else {
			r.VoucherCode = &code
		}
	}
	return r
}

// ValidateRule checks a rule definition before it is stored.
func ValidateRule(r Rule) error {
	var details []common.FieldError
	add := func(field, msg string) {
		details = append(details, common.FieldError{Field: field, Message: msg})
	}
	if r.Name == "" {
		add("name", "is required")
	}
	if !r.Type.Valid() {
		add("discountType", "is not a known discount type")
	}
	if !r.ValueType.Valid() {
		add("valueType", "is not a known value type")
	}
	if !r.Scope.Valid() {
		add("discountScope", "is not a known scope")
	}
	if r.Value.IsNegative() {
		add("discountValue", "must not be negative")
	}
	if r.ValueType == ValuePercentage && r.Value.GreaterThan(hundred) {
		add("discountValue", "must not exceed 100 for percentages")
	}
	if msg := storedAmountProblem(r.Value); msg != "" {
		add("discountValue", msg)
	}
	if r.StartDate != nil && r.EndDate != nil && r.StartDate.After(*r.EndDate) {
		add("endDate", "must not be before startDate")
	}
	if r.MaxUsageCount != nil && *r.MaxUsageCount < 0 {
		add("maxUsageCount", "must not be negative")
	}
	if r.MinOrderValue != nil && r.MinOrderValue.IsNegative() {
		add("minOrderValue", "must not be negative")
	}
	if r.MinOrderValue != nil {
		if msg := storedAmountProblem(*r.MinOrderValue); msg != "" {
			add("minOrderValue", msg)
		}
	}
	switch r.Type {
	case TypeSelectedProducts:
		if len(r.ProductIDs) == 0 {
			add("productIds", "is required for selected products")
		}
	case TypeSelectedCategories:
		if len(r.CategoryIDs) == 0 && len(r.SubCategoryIDs) == 0 {
			add("categoryIds", "category or sub category ids are required for selected categories")
		}
	}
	if len(details) > 0 {
		return common.BadRequest("invalid discount", details, ErrInvalidRule)
	}
	return nil
}

// Amounts are stored as numeric(14,2).
var maxStoredAmount = decimal.New(1, 12)

func storedAmountProblem(v decimal.Decimal) string {
	if !v.Equal(v.Truncate(2)) {
		return "must have at most 2 decimal places"
	}
	if v.Abs().GreaterThanOrEqual(maxStoredAmount) {
		return "must be less than 1000000000000"
	}
	return ""
}

func mapRepoErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return common.NotFound("discount not found", err)
	case errors.Is(err, ErrDuplicateVoucher):
		return common.Conflict("voucher code already exists", err)
	case errors.Is(err, ErrUsageLimitReached):
		return common.Conflict(ErrUsageLimitReached.Error(), err)
	case errors.Is(err, ErrStoreUnavailable):
		return common.NewAppError("UNAVAILABLE", "discount store unavailable", http.StatusServiceUnavailable, err)
	}
	return err
}
