package handlers_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go-pos-ledger/internal/auth"
	"go-pos-ledger/internal/customers"
	"go-pos-ledger/internal/handlers"
	"go-pos-ledger/internal/inventory"
	"go-pos-ledger/internal/models"
	"go-pos-ledger/internal/payments"
	"go-pos-ledger/internal/sales"
	"go-pos-ledger/internal/testutil"
	"go-pos-ledger/internal/upi"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const webhookSecret = "gateway-shared-secret"

type stubQR struct{}

func (stubQR) Generate(_ context.Context, req upi.Request) (*upi.QRPayload, error) {
	return &upi.QRPayload{Reference: req.Reference, Amount: req.Amount, Link: "upi://pay?tr=" + req.Reference}, nil
}

type server struct {
	db      *gorm.DB
	router  *gin.Engine
	admin   string
	cashier string
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	issuer := auth.NewIssuer("0123456789abcdef-secret", time.Hour)

	paySvc := payments.NewService(db, stubQR{}, nil)
	h := handlers.New(handlers.Deps{
		DB:            db,
		Issuer:        issuer,
		Inventory:     inventory.NewService(db, nil),
		Customers:     customers.NewService(db, nil),
		Sales:         sales.NewEngine(db, paySvc, nil, nil),
		Payments:      paySvc,
		WebhookSecret: webhookSecret,
		UploadDir:     t.TempDir(),
	})

	admin := testutil.SeedUser(t, db, "owner", "", auth.RoleAdmin)
	cashier := testutil.SeedUser(t, db, "till1", "", auth.RoleCashier)
	adminToken, _ := issuer.GenerateToken(admin.ID, admin.Role)
	cashierToken, _ := issuer.GenerateToken(cashier.ID, cashier.Role)

	return &server{
		db:      db,
		router:  handlers.NewRouter(h, handlers.RouterConfig{}),
		admin:   adminToken,
		cashier: cashierToken,
	}
}

func (s *server) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestHealthAndUnknownAPI(t *testing.T) {
	s := newServer(t)
	if w, _ := s.do(t, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("health = %d", w.Code)
	}
	if w, body := s.do(t, http.MethodGet, "/api/nothing-here", s.admin, nil); w.Code != http.StatusNotFound || body["error"] == nil {
		t.Errorf("unknown api = %d %v", w.Code, body)
	}
	// Registration is off unless enabled.
	if w, _ := s.do(t, http.MethodPost, "/register", "", map[string]string{"username": "x", "password": "longenough"}); w.Code != http.StatusNotFound {
		t.Errorf("register = %d", w.Code)
	}
}

func TestLogin(t *testing.T) {
	s := newServer(t)
	hash, _ := auth.HashPassword("correct-horse")
	testutil.SeedUser(t, s.db, "manager", hash, auth.RoleAdmin)

	w, body := s.do(t, http.MethodPost, "/login", "", map[string]string{"username": "manager", "password": "correct-horse"})
	if w.Code != http.StatusOK || body["token"] == "" || body["role"] != auth.RoleAdmin {
		t.Fatalf("login = %d %v", w.Code, body)
	}

	token := body["token"].(string)
	if w, _ := s.do(t, http.MethodGet, "/api/products", token, nil); w.Code != http.StatusOK {
		t.Errorf("token from login rejected: %d", w.Code)
	}

	if w, _ := s.do(t, http.MethodPost, "/login", "", map[string]string{"username": "manager", "password": "nope"}); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d", w.Code)
	}
}

func TestCreateSaleEndpoint(t *testing.T) {
	s := newServer(t)
	p := testutil.SeedProduct(t, s.db, "Widget", "10", "5")

	sale := map[string]any{
		"items":         []map[string]any{{"productId": p.ID, "quantity": 3}},
		"paymentMethod": "cash",
		"saleType":      "retail",
	}
	if w, _ := s.do(t, http.MethodPost, "/api/sales", "", sale); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", w.Code)
	}

	w, body := s.do(t, http.MethodPost, "/api/sales", s.cashier, sale)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	saleBody := body["sale"].(map[string]any)
	if saleBody["total_amount"] != "30" {
		t.Errorf("total = %v", saleBody["total_amount"])
	}
	if _, ok := saleBody["totalAmount"]; ok {
		t.Error("sale rows are keyed in snake_case")
	}
	if pays, _ := saleBody["payments"].([]any); len(pays) != 1 || pays[0].(map[string]any)["payment_method"] != "cash" {
		t.Errorf("payments = %v", saleBody["payments"])
	}
	if _, ok := body["paymentQR"]; ok {
		t.Error("cash sale returned a paymentQR")
	}
	if body["settlement"].(map[string]any)["status"] != "settled" {
		t.Errorf("settlement = %v", body["settlement"])
	}

	var stored models.Sale
	s.db.First(&stored)
	var cashier models.User
	s.db.Where("username = ?", "till1").First(&cashier)
	if stored.UserID != cashier.ID {
		t.Errorf("sale user = %d, want the token's user %d", stored.UserID, cashier.ID)
	}

	// Only 2 left.
	w, body = s.do(t, http.MethodPost, "/api/sales", s.cashier, sale)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("oversell = %d", w.Code)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "Insufficient stock for Widget") {
		t.Errorf("error = %q", msg)
	}
	if body["available"] != "2" || body["requested"] != "3" || body["product_id"] != float64(p.ID) {
		t.Errorf("stock detail = %v", body)
	}

	w, body = s.do(t, http.MethodPost, "/api/sales", s.cashier, map[string]any{"items": []any{}, "paymentMethod": "cash"})
	if w.Code != http.StatusBadRequest || body["field"] != "items" {
		t.Errorf("empty cart = %d %v", w.Code, body)
	}
}

func TestUPISaleConfirmFlow(t *testing.T) {
	s := newServer(t)
	p := testutil.SeedProduct(t, s.db, "Fan", "1200", "3")

	w, body := s.do(t, http.MethodPost, "/api/sales", s.cashier, map[string]any{
		"items":         []map[string]any{{"productId": p.ID, "quantity": 1}},
		"paymentMethod": "upi",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	qr, ok := body["paymentQR"].(map[string]any)
	if !ok {
		t.Fatalf("no paymentQR in %v", body)
	}
	paymentID := int(qr["payment_id"].(float64))
	path := "/api/payments/" + itoa(paymentID) + "/confirm"

	if w, _ := s.do(t, http.MethodPost, path, s.cashier, nil); w.Code != http.StatusOK {
		t.Fatalf("confirm = %d %s", w.Code, w.Body.String())
	}
	if w, _ := s.do(t, http.MethodPost, path, s.cashier, nil); w.Code != http.StatusConflict {
		t.Errorf("second confirm = %d", w.Code)
	}

	w, body = s.do(t, http.MethodGet, "/api/sales", s.cashier, nil)
	if w.Code != http.StatusOK || body["total"] != float64(1) {
		t.Fatalf("list = %d %v", w.Code, body)
	}
	first := body["sales"].([]any)[0].(map[string]any)
	if first["settlement"].(map[string]any)["status"] != "settled" {
		t.Errorf("settlement after confirm = %v", first["settlement"])
	}
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaymentWebhook(t *testing.T) {
	s := newServer(t)
	sale := models.Sale{TotalAmount: testutil.D("50"), UserID: 1, SaleType: models.SaleTypeRetail, SaleDate: time.Now().UTC()}
	s.db.Create(&sale)
	pay := models.Payment{SaleID: sale.ID, UserID: 1, Amount: testutil.D("50"), PaymentMethod: models.PaymentUPI,
		Status: models.PaymentPending, Reference: payments.NewReference()}
	s.db.Create(&pay)

	raw := []byte(`{"reference":"` + pay.Reference + `","status":"SUCCESS","amount":"50.00"}`)
	post := func(sig string) (*httptest.ResponseRecorder, map[string]any) {
		req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(handlers.SignatureHeader, sig)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		out := map[string]any{}
		_ = json.Unmarshal(w.Body.Bytes(), &out)
		return w, out
	}

	if w, _ := post("deadbeef"); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature = %d", w.Code)
	}
	w, body := post(sign(raw))
	if w.Code != http.StatusOK || body["duplicate"] != false {
		t.Fatalf("webhook = %d %v", w.Code, body)
	}
	w, body = post(sign(raw))
	if w.Code != http.StatusOK || body["duplicate"] != true {
		t.Errorf("redelivery = %d %v", w.Code, body)
	}

	var stored models.Payment
	s.db.First(&stored, pay.ID)
	if stored.Status != models.PaymentCompleted {
		t.Errorf("status = %s", stored.Status)
	}
}

func TestDebtPaymentEndpoint(t *testing.T) {
	s := newServer(t)
	c := testutil.SeedCustomer(t, s.db, "Latha", "98765", "50")
	path := "/api/customers/debt/" + itoa(int(c.ID))

	w, body := s.do(t, http.MethodPut, path, s.cashier, map[string]any{"debtAmount": 30})
	if w.Code != http.StatusOK {
		t.Fatalf("pay debt = %d %s", w.Code, w.Body.String())
	}
	if body["customer"].(map[string]any)["debt_amount"] != "20" {
		t.Errorf("customer = %v", body["customer"])
	}

	if w, _ := s.do(t, http.MethodPut, path, s.cashier, map[string]any{"debtAmount": 25}); w.Code != http.StatusBadRequest {
		t.Errorf("overpay = %d", w.Code)
	}
	if w, _ := s.do(t, http.MethodPut, "/api/customers/debt/999", s.cashier, map[string]any{"debtAmount": 1}); w.Code != http.StatusNotFound {
		t.Errorf("unknown customer = %d", w.Code)
	}
	if got := testutil.Debt(t, s.db, c.ID); !got.Equal(testutil.D("20")) {
		t.Errorf("debt = %s", got)
	}
}

func TestAdminRoutes(t *testing.T) {
	s := newServer(t)
	product := map[string]any{"name": "Tea", "retailPrice": "12.50", "costPrice": "9", "stock": "20", "unitType": "piece", "category": "Drinks"}

	if w, _ := s.do(t, http.MethodPost, "/api/products", s.cashier, product); w.Code != http.StatusForbidden {
		t.Errorf("cashier create product = %d", w.Code)
	}
	w, body := s.do(t, http.MethodPost, "/api/products", s.admin, product)
	if w.Code != http.StatusCreated {
		t.Fatalf("admin create product = %d %s", w.Code, w.Body.String())
	}
	id := int(body["id"].(float64))

	w, _ = s.do(t, http.MethodPost, "/api/stock-entries", s.admin, map[string]any{"productId": id, "quantity": "5", "unitCost": "9"})
	if w.Code != http.StatusCreated {
		t.Fatalf("stock entry = %d %s", w.Code, w.Body.String())
	}
	if got := testutil.Stock(t, s.db, uint(id)); !got.Equal(testutil.D("25")) {
		t.Errorf("stock = %s", got)
	}

	w, body = s.do(t, http.MethodGet, "/api/reports/valuation", s.admin, nil)
	if w.Code != http.StatusOK || body["grand_total"] != "225" {
		t.Errorf("valuation = %d %v", w.Code, body)
	}
	if w, _ := s.do(t, http.MethodGet, "/api/reports", s.admin, nil); w.Code != http.StatusOK {
		t.Errorf("report = %d", w.Code)
	}
	if w, _ := s.do(t, http.MethodGet, "/api/reports?from=yesterday", s.admin, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad date = %d", w.Code)
	}
	if w, _ := s.do(t, http.MethodPost, "/api/ask", s.admin, map[string]string{"message": "hi"}); w.Code != http.StatusServiceUnavailable {
		t.Errorf("ask without key = %d", w.Code)
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}
