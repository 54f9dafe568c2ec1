package discount

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-promo/internal/common"
	"github.com/noah-isme/backend-promo/internal/obs"
)

// Handler exposes the discount HTTP endpoints.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Service   *Service
	Validator *validator.Validate
}

// NewHandler constructs a Handler. A nil validator gets the JSON-aware default.
func NewHandler(cfg HandlerConfig) *Handler {
	v := cfg.Validator
	if v == nil {
		v = common.NewValidator()
	}
	return &Handler{svc: cfg.Service, validate: v}
}

// RouteMiddleware groups the middleware applied to each class of discount route.
type RouteMiddleware struct {
	// Public wraps the anonymous pricing endpoints, typically a rate limiter.
	Public []func(http.Handler) http.Handler
	// Redeem wraps redemption, typically authentication and idempotency.
	Redeem []func(http.Handler) http.Handler
	// Admin wraps rule management.
	Admin []func(http.Handler) http.Handler
}

// Register mounts the discount routes on r, which is expected to be the /api/v1 router.
func (h *Handler) Register(r chi.Router, mw RouteMiddleware) {
	r.Route("/discounts", func(d chi.Router) {
		d.With(mw.Public...).Post("/calculate", h.Calculate)
		d.With(mw.Public...).Post("/product-price", h.ProductPrice)
		d.With(mw.Public...).Post("/preview", h.Preview)
		d.With(mw.Public...).Post("/{id}/check", h.Check)
		d.With(mw.Redeem...).Post("/redeem", h.Redeem)
	})
	r.Route("/admin/discounts", func(a chi.Router) {
		a.Use(mw.Admin...)
		a.Get("/", h.List)
		a.Post("/", h.Create)
		a.Get("/{id}", h.Get)
		a.Put("/{id}", h.Update)
		a.Delete("/{id}", h.Delete)
	})
}

type calculateRequest struct {
	Items         []OrderItem      `json:"items" validate:"max=500"`
	VoucherCode   string           `json:"voucherCode" validate:"max=64"`
	OrderSubtotal *decimal.Decimal `json:"orderSubtotal"`
}

type productPriceRequest struct {
	ProductID     uuid.UUID       `json:"productId"`
	OriginalPrice decimal.Decimal `json:"originalPrice"`
	Items         []OrderItem     `json:"items" validate:"max=500"`
	VoucherCode   string          `json:"voucherCode" validate:"max=64"`
}

type previewRequest struct {
	Product     Product `json:"product"`
	VoucherCode string  `json:"voucherCode" validate:"max=64"`
}

type checkRequest struct {
	OrderSubtotal decimal.Decimal `json:"orderSubtotal"`
	VoucherCode   string          `json:"voucherCode" validate:"max=64"`
}

type redeemRequest struct {
	OrderID     uuid.UUID   `json:"orderId"`
	Items       []OrderItem `json:"items" validate:"required,min=1,max=500"`
	VoucherCode string      `json:"voucherCode" validate:"max=64"`
}

type ruleRequest struct {
	Name           string           `json:"name" validate:"required,max=200"`
	Type           string           `json:"discountType" validate:"required,oneof=FLAT_ALL_PRODUCTS FLAT_SELECTED_PRODUCTS FLAT_SELECTED_CATEGORIES"`
	ValueType      string           `json:"valueType" validate:"required,oneof=PERCENTAGE FIXED_AMOUNT"`
	Value          decimal.Decimal  `json:"discountValue"`
	Scope          string           `json:"discountScope" validate:"required,oneof=PER_PRODUCT ORDER_TOTAL"`
	StartDate      *time.Time       `json:"startDate"`
	EndDate        *time.Time       `json:"endDate"`
	IsActive       *bool            `json:"isActive"`
	MaxUsageCount  *int32           `json:"maxUsageCount" validate:"omitempty,gte=0"`
	MinOrderValue  *decimal.Decimal `json:"minOrderValue"`
	VoucherCode    *string          `json:"voucherCode" validate:"omitempty,max=64"`
	ProductIDs     []uuid.UUID      `json:"productIds" validate:"max=1000"`
	CategoryIDs    []uuid.UUID      `json:"categoryIds" validate:"max=1000"`
	SubCategoryIDs []uuid.UUID      `json:"subCategoryIds" validate:"max=1000"`
}

func (req ruleRequest) toRule(id uuid.UUID) Rule {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return Rule{
		ID:             id,
		Name:           req.Name,
		Type:           DiscountType(req.Type),
		ValueType:      ValueType(req.ValueType),
		Value:          req.Value,
		Scope:          Scope(req.Scope),
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		IsActive:       active,
		MaxUsageCount:  req.MaxUsageCount,
		MinOrderValue:  req.MinOrderValue,
		VoucherCode:    req.VoucherCode,
		ProductIDs:     req.ProductIDs,
		CategoryIDs:    req.CategoryIDs,
		SubCategoryIDs: req.SubCategoryIDs,
	}
}

func (h *Handler) decode(r *http.Request, dst any) error {
	if err := common.DecodeJSON(r, dst); err != nil {
		return err
	}
	return common.ValidateStruct(h.validate, dst)
}

// Calculate handles POST /discounts/calculate.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := h.decode(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.svc.Calculate(r.Context(), CalculateInput{Items: req.Items, VoucherCode: req.VoucherCode, OrderSubtotal: req.OrderSubtotal})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, res.Quote())
}

// ProductPrice handles POST /discounts/product-price.
func (h *Handler) ProductPrice(w http.ResponseWriter, r *http.Request) {
	var req productPriceRequest
	if err := h.decode(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if req.ProductID == uuid.Nil {
		common.WriteError(w, common.BadRequest("productId is required", nil, nil))
		return
	}
	price, err := h.svc.ProductPrice(r.Context(), ProductPriceInput{
		ProductID:     req.ProductID,
		OriginalPrice: req.OriginalPrice,
		Items:         req.Items,
		VoucherCode:   req.VoucherCode,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]any{"productId": req.ProductID, "price": price})
}

// Preview handles POST /discounts/preview.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := h.decode(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.svc.PreviewProduct(r.Context(), req.Product, req.VoucherCode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, res)
}

// Check handles POST /discounts/{id}/check.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req checkRequest
	if err := h.decode(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.svc.Check(r.Context(), id, req.OrderSubtotal, req.VoucherCode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, res)
}

// Redeem handles POST /discounts/redeem for an authenticated caller.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := h.decode(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	userID, _ := common.UserID(r.Context())
	res, err := h.svc.Redeem(r.Context(), RedeemInput{
		OrderID:     req.OrderID,
		UserID:      userID,
		Items:       req.Items,
		VoucherCode: req.VoucherCode,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	common.Data(w, status, res.Quote())
}

// List handles GET /admin/discounts.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := common.ParsePagination(r, 20, 100)
	rules, page, err := h.svc.List(r.Context(), page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rules, "pagination": page})
}

// Get handles GET /admin/discounts/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rule, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, rule)
}

// Create handles POST /admin/discounts.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := h.decode(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	rule, err := h.svc.Create(r.Context(), req.toRule(uuid.Nil))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusCreated, rule)
}

// Update handles PUT /admin/discounts/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req ruleRequest
	if err := h.decode(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	rule, err := h.svc.Update(r.Context(), req.toRule(id))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, rule)
}

// Delete handles DELETE /admin/discounts/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, common.BadRequest("invalid discount id", nil, err))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if !common.IsAppError(err) {
		obs.LoggerFromContext(r.Context(), h.svc.Logger).Error().Err(err).Msg("discount request failed")
	}
	common.WriteError(w, err)
}
