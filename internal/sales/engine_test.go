package sales_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go-pos-ledger/internal/apperr"
	"go-pos-ledger/internal/metrics"
	"go-pos-ledger/internal/models"
	"go-pos-ledger/internal/payments"
	"go-pos-ledger/internal/sales"
	"go-pos-ledger/internal/testutil"
	"go-pos-ledger/internal/upi"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type fakeQR struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeQR) Generate(_ context.Context, req upi.Request) (*upi.QRPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &upi.QRPayload{Reference: req.Reference, Amount: req.Amount, Link: "upi://pay?tr=" + req.Reference}, nil
}

type fixture struct {
	db       *gorm.DB
	engine   *sales.Engine
	payments *payments.Service
	qr       *fakeQR
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	qr := &fakeQR{}
	paySvc := payments.NewService(db, qr, nil)
	return &fixture{
		db:       db,
		engine:   sales.NewEngine(db, paySvc, nil, nil),
		payments: paySvc,
		qr:       qr,
	}
}

func cart(lines ...sales.CartLine) []sales.CartLine { return lines }

func line(productID uint, qty string) sales.CartLine {
	return sales.CartLine{ProductID: productID, Quantity: testutil.D(qty)}
}

func uintPtr(v uint) *uint { return &v }

func TestCreateSaleCash(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedProduct(t, f.db, "Widget", "10", "5")

	res, err := f.engine.CreateSale(context.Background(), sales.CreateSaleInput{
		Items:         cart(line(p.ID, "3")),
		PaymentMethod: models.PaymentCash,
		SaleType:      models.SaleTypeRetail,
		UserID:        1,
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	if !res.Sale.TotalAmount.Equal(testutil.D("30")) {
		t.Errorf("total = %s, want 30", res.Sale.TotalAmount)
	}
	if got := testutil.Stock(t, f.db, p.ID); !got.Equal(testutil.D("2")) {
		t.Errorf("stock = %s, want 2", got)
	}

	var pays []models.Payment
	f.db.Where("sale_id = ?", res.Sale.ID).Find(&pays)
	if len(pays) != 1 {
		t.Fatalf("payments = %d, want 1", len(pays))
	}
	if !pays[0].Amount.Equal(testutil.D("30")) || pays[0].Status != models.PaymentCompleted || pays[0].PaymentMethod != models.PaymentCash {
		t.Errorf("payment = %+v", pays[0])
	}
	if res.Settlement.Status != models.SettlementSettled {
		t.Errorf("settlement = %s", res.Settlement.Status)
	}
	if res.PaymentQR != nil {
		t.Error("cash sale should not carry a QR")
	}

	var movements []models.StockMovement
	f.db.Where("sale_id = ?", res.Sale.ID).Find(&movements)
	if len(movements) != 1 || !movements[0].Quantity.Equal(testutil.D("-3")) {
		t.Errorf("movements = %+v", movements)
	}
}

func TestCreateSaleInsufficientStock(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedProduct(t, f.db, "Widget", "10", "2")

	_, err := f.engine.CreateSale(context.Background(), sales.CreateSaleInput{
		Items:         cart(line(p.ID, "3")),
		PaymentMethod: models.PaymentCash,
		UserID:        1,
	})

	var stockErr *apperr.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("err = %v, want InsufficientStockError", err)
	}
	if !strings.Contains(err.Error(), "Widget") {
		t.Errorf("error does not name the product: %v", err)
	}
	if got := testutil.Stock(t, f.db, p.ID); !got.Equal(testutil.D("2")) {
		t.Errorf("stock = %s, want 2", got)
	}
	if n := testutil.Count(t, f.db, &models.Sale{}); n != 0 {
		t.Errorf("sales = %d, want 0", n)
	}
}

func TestCreateSaleIsAtomic(t *testing.T) {
	f := newFixture(t)
	first := testutil.SeedProduct(t, f.db, "Bread", "40", "10")
	second := testutil.SeedProduct(t, f.db, "Butter", "55", "2")

	_, err := f.engine.CreateSale(context.Background(), sales.CreateSaleInput{
		Items:         cart(line(first.ID, "4"), line(second.ID, "3")),
		PaymentMethod: models.PaymentCash,
		UserID:        1,
	})
	if !errors.Is(err, apperr.ErrInsufficientStock) {
		t.Fatalf("err = %v", err)
	}

	if got := testutil.Stock(t, f.db, first.ID); !got.Equal(testutil.D("10")) {
		t.Errorf("first product stock = %s, want 10", got)
	}
	if got := testutil.Stock(t, f.db, second.ID); !got.Equal(testutil.D("2")) {
		t.Errorf("second product stock = %s, want 2", got)
	}
	for _, model := range []any{&models.Sale{}, &models.SaleItem{}, &models.Payment{}, &models.StockMovement{}} {
		if n := testutil.Count(t, f.db, model); n != 0 {
			t.Errorf("%T rows = %d, want 0", model, n)
		}
	}
}

func TestCreateSaleDebt(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedProduct(t, f.db, "Oil", "20", "10")
	c := testutil.SeedCustomer(t, f.db, "Latha", "90000", "50")

	res, err := f.engine.CreateSale(context.Background(), sales.CreateSaleInput{
		Items:         cart(line(p.ID, "1")),
		PaymentMethod: models.PaymentDebt,
		CustomerID:    uintPtr(c.ID),
		UserID:        1,
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if !res.Sale.TotalAmount.Equal(testutil.D("20")) {
		t.Errorf("total = %s", res.Sale.TotalAmount)
	}
	if got := testutil.Debt(t, f.db, c.ID); !got.Equal(testutil.D("70")) {
		t.Errorf("debt = %s, want 70", got)
	}

	var entry models.DebtEntry
	if err := f.db.Where("customer_id = ? AND sale_id = ?", c.ID, res.Sale.ID).First(&entry).Error; err != nil {
		t.Fatalf("ledger entry: %v", err)
	}
	if entry.Kind != models.DebtFromSale || !entry.BalanceAfter.Equal(testutil.D("70")) {
		t.Errorf("ledger entry = %+v", entry)
	}

	var customer models.Customer
	f.db.First(&customer, c.ID)
	if customer.LastPurchaseDate == nil || !customer.LastPurchaseAmount.Equal(testutil.D("20")) {
		t.Errorf("last purchase not recorded: %+v", customer)
	}
}

func TestCreateSaleRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	piece := testutil.SeedProduct(t, f.db, "Soap", "25", "10")

	tests := []struct {
		name string
		in   sales.CreateSaleInput
		want error
	}{
		{"empty cart", sales.CreateSaleInput{PaymentMethod: models.PaymentCash}, apperr.ErrValidation},
		{"zero quantity", sales.CreateSaleInput{Items: cart(line(piece.ID, "0")), PaymentMethod: models.PaymentCash}, apperr.ErrValidation},
		{"negative quantity", sales.CreateSaleInput{Items: cart(line(piece.ID, "-1")), PaymentMethod: models.PaymentCash}, apperr.ErrValidation},
		{"fractional piece", sales.CreateSaleInput{Items: cart(line(piece.ID, "1.5")), PaymentMethod: models.PaymentCash}, apperr.ErrValidation},
		{"unknown method", sales.CreateSaleInput{Items: cart(line(piece.ID, "1")), PaymentMethod: "cheque"}, apperr.ErrValidation},
		{"unknown sale type", sales.CreateSaleInput{Items: cart(line(piece.ID, "1")), PaymentMethod: models.PaymentCash, SaleType: "online"}, apperr.ErrValidation},
		{"debt without customer", sales.CreateSaleInput{Items: cart(line(piece.ID, "1")), PaymentMethod: models.PaymentDebt}, apperr.ErrValidation},
		{"final price on retail", sales.CreateSaleInput{Items: cart(line(piece.ID, "1")), PaymentMethod: models.PaymentCash,
			FinalPrice: decimal.NewNullDecimal(testutil.D("20"))}, apperr.ErrValidation},
		{"unknown product", sales.CreateSaleInput{Items: cart(line(999, "1")), PaymentMethod: models.PaymentCash}, apperr.ErrNotFound},
		{"unknown customer", sales.CreateSaleInput{Items: cart(line(piece.ID, "1")), PaymentMethod: models.PaymentDebt, CustomerID: uintPtr(404)}, apperr.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.UserID = 1
			_, err := f.engine.CreateSale(context.Background(), tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if got := testutil.Stock(t, f.db, piece.ID); !got.Equal(testutil.D("10")) {
		t.Errorf("stock changed to %s", got)
	}
	if n := testutil.Count(t, f.db, &models.Sale{}); n != 0 {
		t.Errorf("sales = %d, want 0", n)
	}
}

func TestCreateSaleWholesaleFinalPrice(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedProduct(t, f.db, "Flour", "10", "100", testutil.WithWholesale("8"))

	res, err := f.engine.CreateSale(context.Background(), sales.CreateSaleInput{
		Items:          cart(line(p.ID, "5")),
		PaymentMethod:  models.PaymentCash,
		SaleType:       models.SaleTypeWholesale,
		FinalPrice:     decimal.NewNullDecimal(testutil.D("35")),
		DiscountReason: "regular buyer",
		UserID:         1,
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	sale := res.Sale
	if !sale.TotalAmount.Equal(testutil.D("40")) {
		t.Errorf("total = %s, want 40 (wholesale price 8 x 5)", sale.TotalAmount)
	}
	if !sale.TotalAmount.Equal(sale.ItemsTotal()) {
		t.Errorf("total %s != items %s", sale.TotalAmount, sale.ItemsTotal())
	}
	if !sale.DiscountAmount.Equal(testutil.D("5")) || sale.DiscountReason != "regular buyer" {
		t.Errorf("discount = %s (%q)", sale.DiscountAmount, sale.DiscountReason)
	}
	if len(sale.Payments) != 1 || !sale.Payments[0].Amount.Equal(testutil.D("35")) {
		t.Errorf("payments = %+v", sale.Payments)
	}

	_, err = f.engine.CreateSale(context.Background(), sales.CreateSaleInput{
		Items:         cart(line(p.ID, "1")),
		PaymentMethod: models.PaymentCash,
		SaleType:      models.SaleTypeWholesale,
		FinalPrice:    decimal.NewNullDecimal(testutil.D("9")),
		UserID:        1,
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("final price above total err = %v", err)
	}

	_, err = f.engine.CreateSale(context.Background(), sales.CreateSaleInput{
		Items:         cart(line(p.ID, "5")),
		PaymentMethod: models.PaymentCash,
		SaleType:      models.SaleTypeWholesale,
		FinalPrice:    decimal.NewNullDecimal(testutil.D("25.555")),
		UserID:        1,
	})
	var verr *apperr.ValidationError
	if !errors.As(err, &verr) || verr.Field != "finalPrice" {
		t.Errorf("sub-paisa final price err = %v", err)
	}
	if got := testutil.Stock(t, f.db, p.ID); !got.Equal(testutil.D("95")) {
		t.Errorf("stock = %s, want 95 (rejected sales leave it alone)", got)
	}
}

func TestCreateSaleTotalMatchesItems(t *testing.T) {
	f := newFixture(t)
	rice := testutil.SeedProduct(t, f.db, "Rice", "45.50", "10", testutil.WithUnit(models.UnitWeight))
	salt := testutil.SeedProduct(t, f.db, "Salt", "18", "10")

	res, err := f.engine.CreateSale(context.Background(), sales.CreateSaleInput{
		Items:         cart(line(rice.ID, "0.333"), line(salt.ID, "2"), line(rice.ID, "1.25")),
		PaymentMethod: models.PaymentCard,
		UserID:        1,
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	view, err := f.engine.GetSale(context.Background(), res.Sale.ID)
	if err != nil {
		t.Fatalf("GetSale: %v", err)
	}
	if len(view.Items) != 3 {
		t.Fatalf("items = %d", len(view.Items))
	}
	if !view.TotalAmount.Equal(view.ItemsTotal()) {
		t.Errorf("total %s != sum of subtotals %s", view.TotalAmount, view.ItemsTotal())
	}
	// 15.15 + 36 + 56.88
	if !view.TotalAmount.Equal(testutil.D("108.03")) {
		t.Errorf("total = %s, want 108.03", view.TotalAmount)
	}
	if got := testutil.Stock(t, f.db, rice.ID); !got.Equal(testutil.D("8.417")) {
		t.Errorf("rice stock = %s, want 8.417", got)
	}
}

func TestCreateSaleSplitPayments(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedProduct(t, f.db, "Kettle", "30", "3")

	res, err := f.engine.CreateSale(context.Background(), sales.CreateSaleInput{
		Items: cart(line(p.ID, "1")),
		Payments: []payments.Split{
			{Method: models.PaymentCash, Amount: testutil.D("10")},
			{Method: models.PaymentUPI, Amount: testutil.D("20")},
		},
		UserID: 1,
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if res.PaymentQR == nil || !res.PaymentQR.Amount.Equal(testutil.D("20")) {
		t.Fatalf("QR = %+v", res.PaymentQR)
	}
	st := res.Settlement
	if st.Status != models.SettlementPartial || !st.Paid.Equal(testutil.D("10")) || !st.Pending.Equal(testutil.D("20")) {
		t.Errorf("settlement = %+v", st)
	}

	_, err = f.engine.CreateSale(context.Background(), sales.CreateSaleInput{
		Items: cart(line(p.ID, "1")),
		Payments: []payments.Split{
			{Method: models.PaymentCash, Amount: testutil.D("10")},
			{Method: models.PaymentCard, Amount: testutil.D("10")},
		},
		UserID: 1,
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("short split err = %v", err)
	}
	if got := testutil.Stock(t, f.db, p.ID); !got.Equal(testutil.D("2")) {
		t.Errorf("stock = %s, want 2 after the rejected split", got)
	}
}

func TestCreateSaleUPIQRFailureKeepsSale(t *testing.T) {
	f := newFixture(t)
	f.qr.err = errors.New("qr service timeout")
	p := testutil.SeedProduct(t, f.db, "Fan", "1200", "4")

	counter := metrics.ReconciliationRequired.WithLabelValues(payments.ReasonQRFailed)
	before := promtest.ToFloat64(counter)

	res, err := f.engine.CreateSale(context.Background(), sales.CreateSaleInput{
		Items:         cart(line(p.ID, "1")),
		PaymentMethod: models.PaymentUPI,
		UserID:        1,
	})
	if err != nil {
		t.Fatalf("CreateSale should succeed when only the QR fails: %v", err)
	}
	if res.PaymentError == "" || res.PaymentQR != nil {
		t.Errorf("result = %+v", res)
	}
	if promtest.ToFloat64(counter)-before != 1 {
		t.Error("reconciliation counter not incremented")
	}

	var pay models.Payment
	if err := f.db.Where("sale_id = ?", res.Sale.ID).First(&pay).Error; err != nil {
		t.Fatalf("payment: %v", err)
	}
	if pay.Status != models.PaymentPending {
		t.Errorf("payment status = %s, want pending", pay.Status)
	}
	if got := testutil.Stock(t, f.db, p.ID); !got.Equal(testutil.D("3")) {
		t.Errorf("stock = %s, want 3", got)
	}

	// The QR can be reissued once the generator recovers.
	f.qr.err = nil
	if _, _, err := f.payments.InitiatePayment(context.Background(), res.Sale.ID, decimal.NullDecimal{}, 1); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("initiate with pending payment outstanding err = %v", err)
	}
}

// The test database allows one open connection, so these sales are
// serialized at the pool. The conditional update itself is covered in
// inventory's TestAdjustStockGuardsCombinedDecrements.
func TestConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedProduct(t, f.db, "Limited", "5", "10")

	const buyers = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.CreateSale(context.Background(), sales.CreateSaleInput{
				Items:         cart(line(p.ID, "1")),
				PaymentMethod: models.PaymentCash,
				UserID:        1,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperr.ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 || rejected != buyers-10 {
		t.Errorf("succeeded = %d rejected = %d", succeeded, rejected)
	}
	if got := testutil.Stock(t, f.db, p.ID); !got.IsZero() {
		t.Errorf("stock = %s, want 0", got)
	}

	var sold struct{ Total decimal.Decimal }
	f.db.Model(&models.SaleItem{}).Select("COALESCE(SUM(quantity), 0) AS total").Where("product_id = ?", p.ID).Scan(&sold)
	if !sold.Total.Equal(testutil.D("10")) {
		t.Errorf("sold = %s, want 10", sold.Total)
	}
}

func TestListSalesFilters(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedProduct(t, f.db, "Pen", "10", "100")
	c := testutil.SeedCustomer(t, f.db, "Anu", "90001", "0")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		in := sales.CreateSaleInput{Items: cart(line(p.ID, "1")), PaymentMethod: models.PaymentCash, UserID: 1}
		if i == 0 {
			in.CustomerID = uintPtr(c.ID)
			in.PaymentMethod = models.PaymentDebt
		}
		if _, err := f.engine.CreateSale(ctx, in); err != nil {
			t.Fatalf("CreateSale: %v", err)
		}
	}

	all, total, err := f.engine.ListSales(ctx, sales.ListFilter{})
	if err != nil {
		t.Fatalf("ListSales: %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Fatalf("total = %d len = %d", total, len(all))
	}

	mine, total, err := f.engine.ListSales(ctx, sales.ListFilter{CustomerID: uintPtr(c.ID)})
	if err != nil || total != 1 || len(mine) != 1 {
		t.Fatalf("customer filter: %d %d %v", total, len(mine), err)
	}
	if mine[0].Customer == nil || mine[0].Customer.Name != "Anu" {
		t.Errorf("customer not preloaded: %+v", mine[0].Customer)
	}
	if len(mine[0].Items) != 1 || len(mine[0].Payments) != 1 || mine[0].Settlement.Status != models.SettlementSettled {
		t.Errorf("details = %+v", mine[0])
	}

	page, total, _ := f.engine.ListSales(ctx, sales.ListFilter{Limit: 2, Offset: 2})
	if total != 3 || len(page) != 1 {
		t.Errorf("page len = %d total = %d", len(page), total)
	}

	if _, err := f.engine.GetSale(ctx, 999); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetSale(999) err = %v", err)
	}
}
