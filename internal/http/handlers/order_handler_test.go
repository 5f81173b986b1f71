// README: Handler tests for order authorization and request decoding.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"dropoff/internal/http/handlers"
	httpmiddleware "dropoff/internal/http/middleware"
	"dropoff/internal/infra"
	"dropoff/internal/modules/order"
)

// stubTokenVerifier is a test double for infra.TokenVerifier.
type stubTokenVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

// buildTestRouter wires a minimal Gin engine with the auth middleware and the order handler.
func buildTestRouter(verifier infra.TokenVerifier) (*gin.Engine, *order.MemoryStore) {
	gin.SetMode(gin.TestMode)
	store := order.NewMemoryStore()
	svc := order.NewService(order.Deps{Repo: store})
	r := gin.New()
	r.Use(httpmiddleware.Auth(verifier))
	h := handlers.NewOrderHandler(svc, nil)
	r.POST("/api/orders", h.Create)
	r.POST("/api/fees/quote", h.Quote)
	r.GET("/api/orders/:id", h.Get)
	r.POST("/api/orders/:id/cancel", h.Cancel)
	return r, store
}

func makeVerifier(uid, role string) *stubTokenVerifier {
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &stubTokenVerifier{token: &infra.FirebaseToken{UID: uid, Claims: claims}}
}

func doRequest(r *gin.Engine, method, path string, body interface{}, authHeader string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func deliveryBody(userID string) map[string]any {
	body := map[string]any{
		"type":             "delivery",
		"pickupLocation":   []float64{-0.2050, 5.5500},
		"deliveryLocation": map[string]any{"latitude": 5.5560, "longitude": -0.1820},
		"package":          map[string]any{"weight": 2},
	}
	if userID != "" {
		body["userId"] = userID
	}
	return body
}

func TestCreate_Unauthenticated(t *testing.T) {
	r, _ := buildTestRouter(&stubTokenVerifier{err: errors.New("no token")})
	w := doRequest(r, http.MethodPost, "/api/orders", deliveryBody("abc"), "Bearer badtoken")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

// A customer cannot create an order on behalf of someone else.
func TestCreate_WrongUserID(t *testing.T) {
	r, _ := buildTestRouter(makeVerifier("realUID", ""))
	w := doRequest(r, http.MethodPost, "/api/orders", deliveryBody("otherUID"), "Bearer sometoken")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestCreate_AdminMayCreateForOthers(t *testing.T) {
	r, _ := buildTestRouter(makeVerifier("ops", "admin"))
	w := doRequest(r, http.MethodPost, "/api/orders", deliveryBody("customer1"), "Bearer sometoken")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreate_DefaultsUserToCaller(t *testing.T) {
	r, _ := buildTestRouter(makeVerifier("customer1", ""))
	w := doRequest(r, http.MethodPost, "/api/orders", deliveryBody(""), "Bearer sometoken")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var o order.Order
	if err := json.Unmarshal(w.Body.Bytes(), &o); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if o.UserID != "customer1" || o.Status != order.StatusPending || o.PaymentStatus != order.PaymentPending {
		t.Errorf("unexpected order %+v", o)
	}
}

func TestQuote_RejectsBadCoordinates(t *testing.T) {
	r, _ := buildTestRouter(makeVerifier("u1", ""))
	cases := []struct {
		name string
		body map[string]any
	}{
		{"latitude out of range", map[string]any{
			"type": "DELIVERY", "pickupLocation": []float64{-0.2, 95}, "deliveryLocation": []float64{-0.18, 5.55},
		}},
		{"missing delivery", map[string]any{
			"type": "DELIVERY", "pickupLocation": []float64{-0.2, 5.55},
		}},
		{"non-numeric field", map[string]any{
			"type": "DELIVERY", "pickupLocation": map[string]any{"lat": "north", "lng": 1}, "deliveryLocation": []float64{-0.18, 5.55},
		}},
		{"unknown type", map[string]any{
			"type": "PARCEL", "pickupLocation": []float64{-0.2, 5.55}, "deliveryLocation": []float64{-0.18, 5.55},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(r, http.MethodPost, "/api/fees/quote", tc.body, "Bearer t")
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestGet_InvalidAndMissingID(t *testing.T) {
	r, _ := buildTestRouter(makeVerifier("u1", ""))
	if w := doRequest(r, http.MethodGet, "/api/orders/not-a-uuid", nil, "Bearer t"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", w.Code)
	}
	if w := doRequest(r, http.MethodGet, "/api/orders/3f1c2b1e-8a4d-4c52-9a0e-6f1d2c3b4a5e", nil, "Bearer t"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", w.Code)
	}
}

func TestCancel_RecordsAdminActor(t *testing.T) {
	r, store := buildTestRouter(makeVerifier("ops", "admin"))
	w := doRequest(r, http.MethodPost, "/api/orders", deliveryBody("customer1"), "Bearer t")
	var o order.Order
	if err := json.Unmarshal(w.Body.Bytes(), &o); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = doRequest(r, http.MethodPost, "/api/orders/"+string(o.ID)+"/cancel", map[string]string{"reason": "duplicate"}, "Bearer t")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	events := store.Events(o.ID)
	last := events[len(events)-1]
	if last.ToStatus != order.StatusCancelled || last.ActorType != order.ActorAdmin || last.Reason != "duplicate" {
		t.Errorf("unexpected cancel event %+v", last)
	}

	w = doRequest(r, http.MethodPost, "/api/orders/"+string(o.ID)+"/cancel", nil, "Bearer t")
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 cancelling twice, got %d", w.Code)
	}
}
