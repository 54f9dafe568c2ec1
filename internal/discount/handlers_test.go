package discount

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-promo/internal/auth"
)

type routerFixture struct {
	serviceFixture
	router http.Handler
	tokens *auth.Service
}

func newRouterFixture(t *testing.T, rules ...Rule) routerFixture {
	t.Helper()
	f := newServiceFixture(t, rules...)
	tokens, err := auth.NewService(auth.Config{Secret: "test-secret"})
	require.NoError(t, err)
	mw := auth.Middleware{Service: tokens}

	r := chi.NewRouter()
	r.Route("/api/v1", func(v chi.Router) {
		NewHandler(HandlerConfig{Service: f.svc}).Register(v, RouteMiddleware{
			Redeem: []func(http.Handler) http.Handler{mw.RequireAuth},
			Admin:  []func(http.Handler) http.Handler{mw.RequireAuth, mw.RequireRole(auth.RoleAdmin)},
		})
	})
	return routerFixture{serviceFixture: f, router: r, tokens: tokens}
}

func (f routerFixture) do(t *testing.T, method, path string, body any, roles ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if roles != nil {
		token, _, err := f.tokens.Sign("user-1", roles, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

func TestHandlerCalculate(t *testing.T) {
	f := newRouterFixture(t, percentRule("ten", 10, TypeAllProducts, ScopePerProduct))
	productID := uuid.New()

	rr := f.do(t, http.MethodPost, "/api/v1/discounts/calculate", map[string]any{
		"items": []map[string]any{{"productId": productID, "quantity": 3, "unitPrice": "19.99"}},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res Quote
	decodeData(t, rr, &res)
	requireDecimal(t, "59.97", res.SubtotalBeforeDiscount)
	requireDecimal(t, "53.973", res.FinalTotal)
	require.Len(t, res.LineItemDiscounts, 1)
	require.Equal(t, productID, res.LineItemDiscounts[0].ProductID)
}

func TestHandlerCalculateHidesVoucherCodes(t *testing.T) {
	staff := percentRule("staff", 90, TypeAllProducts, ScopeOrderTotal)
	code := "STAFF-ONLY-90"
	staff.VoucherCode = &code
	limit := int32(5)
	staff.MaxUsageCount = &limit
	selected := percentRule("selected", 10, TypeSelectedProducts, ScopePerProduct)
	productID := uuid.New()
	selected.ProductIDs = []uuid.UUID{productID}
	f := newRouterFixture(t, staff, selected)

	rr := f.do(t, http.MethodPost, "/api/v1/discounts/calculate", map[string]any{
		"items": []map[string]any{{"productId": productID, "quantity": 1, "unitPrice": "100"}},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := rr.Body.String()
	require.NotContains(t, body, code)
	require.NotContains(t, body, "voucherCode")
	require.NotContains(t, body, "maxUsageCount")
	require.NotContains(t, body, "productIds")

	var res Quote
	decodeData(t, rr, &res)
	require.Len(t, res.ApplicableDiscounts, 1)
	require.Equal(t, selected.ID, res.ApplicableDiscounts[0].ID)
	require.Len(t, res.InapplicableDiscounts, 1)
	require.Equal(t, staff.ID, res.InapplicableDiscounts[0].Rule.ID)
	require.True(t, res.InapplicableDiscounts[0].Rule.VoucherRequired)
	require.Equal(t, ErrVoucherRequired.Error(), res.InapplicableDiscounts[0].Reason)

	rr = f.do(t, http.MethodPost, "/api/v1/discounts/redeem", map[string]any{
		"orderId": uuid.New(),
		"items":   []map[string]any{{"productId": productID, "quantity": 1, "unitPrice": "100"}},
	}, "customer")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NotContains(t, rr.Body.String(), code)
}

func TestHandlerCheckIsRateLimitedWithPublicRoutes(t *testing.T) {
	f := newServiceFixture(t, percentRule("ten", 10, TypeAllProducts, ScopePerProduct))
	hits := 0
	limited := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	r := chi.NewRouter()
	NewHandler(HandlerConfig{Service: f.svc}).Register(r, RouteMiddleware{
		Public: []func(http.Handler) http.Handler{limited},
	})

	req := httptest.NewRequest(http.MethodPost, "/discounts/"+uuid.NewString()+"/check", bytes.NewBufferString(`{"orderSubtotal":"10"}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, 1, hits)
}

func TestHandlerCalculateRejectsBadPayloads(t *testing.T) {
	f := newRouterFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/discounts/calculate", map[string]any{"unknown": true})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/discounts/calculate", map[string]any{
		"items": []map[string]any{{"productId": uuid.New(), "quantity": -1, "unitPrice": "1"}},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "negative quantity")
}

func TestHandlerProductPriceRequiresProduct(t *testing.T) {
	f := newRouterFixture(t)
	rr := f.do(t, http.MethodPost, "/api/v1/discounts/product-price", map[string]any{"originalPrice": "10"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerPreview(t *testing.T) {
	f := newRouterFixture(t, fixedRule("two off", 2, TypeAllProducts, ScopePerProduct))
	rr := f.do(t, http.MethodPost, "/api/v1/discounts/preview", map[string]any{
		"product": map[string]any{"id": uuid.New(), "price": "10"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res ProductPrice
	decodeData(t, rr, &res)
	requireDecimal(t, "8", res.NewPrice)
}

func TestHandlerCheck(t *testing.T) {
	rule := percentRule("ten", 10, TypeAllProducts, ScopePerProduct)
	f := newRouterFixture(t, rule)

	rr := f.do(t, http.MethodPost, "/api/v1/discounts/"+rule.ID.String()+"/check", map[string]any{"orderSubtotal": "10"})
	require.Equal(t, http.StatusOK, rr.Code)
	var got Eligibility
	decodeData(t, rr, &got)
	require.True(t, got.CanApply)

	rr = f.do(t, http.MethodPost, "/api/v1/discounts/not-a-uuid/check", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerRedeemRequiresAuth(t *testing.T) {
	rule := percentRule("ten", 10, TypeAllProducts, ScopePerProduct)
	f := newRouterFixture(t, rule)
	body := map[string]any{
		"orderId": uuid.New(),
		"items":   []map[string]any{{"productId": uuid.New(), "quantity": 1, "unitPrice": "100"}},
	}

	rr := f.do(t, http.MethodPost, "/api/v1/discounts/redeem", body)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/discounts/redeem", body, "customer")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res RedeemQuote
	decodeData(t, rr, &res)
	require.Len(t, res.Redemptions, 1)
	require.Equal(t, "user-1", res.Redemptions[0].UserID)
	require.EqualValues(t, 1, f.repo.usage(rule.ID))
}

func TestHandlerRedeemValidatesItems(t *testing.T) {
	f := newRouterFixture(t)
	rr := f.do(t, http.MethodPost, "/api/v1/discounts/redeem", map[string]any{"orderId": uuid.New()}, "customer")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "items")
}

func TestHandlerAdminLifecycle(t *testing.T) {
	f := newRouterFixture(t)
	payload := map[string]any{
		"name":          "summer",
		"discountType":  "FLAT_ALL_PRODUCTS",
		"valueType":     "PERCENTAGE",
		"discountValue": "12.5",
		"discountScope": "ORDER_TOTAL",
	}

	rr := f.do(t, http.MethodPost, "/api/v1/admin/discounts", payload, "customer")
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/admin/discounts", payload, auth.RoleAdmin)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created Rule
	decodeData(t, rr, &created)
	require.True(t, created.IsActive)
	requireDecimal(t, "12.5", created.Value)

	payload["isActive"] = false
	rr = f.do(t, http.MethodPut, "/api/v1/admin/discounts/"+created.ID.String(), payload, auth.RoleAdmin)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated Rule
	decodeData(t, rr, &updated)
	require.False(t, updated.IsActive)

	rr = f.do(t, http.MethodGet, "/api/v1/admin/discounts?limit=5", nil, auth.RoleAdmin)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"total_items":1`)

	rr = f.do(t, http.MethodDelete, "/api/v1/admin/discounts/"+created.ID.String(), nil, auth.RoleAdmin)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/v1/admin/discounts/"+created.ID.String(), nil, auth.RoleAdmin)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerAdminValidation(t *testing.T) {
	f := newRouterFixture(t)
	rr := f.do(t, http.MethodPost, "/api/v1/admin/discounts", map[string]any{
		"name":          "bad",
		"discountType":  "BOGO",
		"valueType":     "PERCENTAGE",
		"discountValue": "10",
		"discountScope": "PER_PRODUCT",
	}, auth.RoleAdmin)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "discountType")
}
