package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go-pos-ledger/internal/models"
	"go-pos-ledger/internal/testutil"
)

func TestNewAgentDisabledWithoutKey(t *testing.T) {
	if NewAgent(nil, "") != nil {
		t.Fatal("agent should be disabled without an API key")
	}
}

func TestExecuteToolInventory(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedProduct(t, db, "Banana", "6", "40", testutil.WithWholesale("5"), testutil.WithCost("4"))
	gone := testutil.SeedProduct(t, db, "Discontinued", "1", "0")
	db.Model(gone).Update("is_deleted", true)

	out, err := ExecuteTool(context.Background(), db, "check_inventory", nil)
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}

	var items []map[string]any
	if err := json.Unmarshal([]byte(out["inventory"].(string)), &items); err != nil {
		t.Fatalf("inventory json: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %v", items)
	}
	if items[0]["name"] != "Banana" || items[0]["price"] != "6.00" || items[0]["wholesale_price"] != "5.00" {
		t.Errorf("item = %v", items[0])
	}
}

func TestExecuteToolSalesReport(t *testing.T) {
	db := testutil.NewDB(t)
	today := time.Now().UTC()
	db.Create(&models.Sale{TotalAmount: testutil.D("100"), DiscountAmount: testutil.D("10"), UserID: 1, SaleType: models.SaleTypeWholesale, SaleDate: today})

	day := today.Format("2006-01-02")
	out, err := ExecuteTool(context.Background(), db, "get_sales_report", map[string]any{"start_date": day, "end_date": day})
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	if out["revenue"] != "90.00" || out["sales_count"] != int64(1) {
		t.Errorf("report = %v", out)
	}

	if _, err := ExecuteTool(context.Background(), db, "get_sales_report", map[string]any{"start_date": "yesterday"}); err == nil {
		t.Error("bad date accepted")
	}
}

func TestExecuteToolDebtsAndPending(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCustomer(t, db, "Owes", "1001", "75.50")
	testutil.SeedCustomer(t, db, "Clear", "1002", "0")
	db.Create(&models.Payment{SaleID: 1, UserID: 1, Amount: testutil.D("20"), PaymentMethod: models.PaymentUPI,
		Status: models.PaymentPending, Reference: "POSPENDING1"})

	debts, err := ExecuteTool(context.Background(), db, "get_customer_debts", nil)
	if err != nil {
		t.Fatalf("debts: %v", err)
	}
	if debts["total_outstanding"] != "75.50" || !strings.Contains(debts["customers"].(string), "Owes") ||
		strings.Contains(debts["customers"].(string), "Clear") {
		t.Errorf("debts = %v", debts)
	}

	pending, err := ExecuteTool(context.Background(), db, "list_pending_payments", nil)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending["total"] != "20.00" || pending["count"] != int64(1) {
		t.Errorf("pending = %v", pending)
	}
}

func TestExecuteToolUnknown(t *testing.T) {
	db := testutil.NewDB(t)
	if _, err := ExecuteTool(context.Background(), db, "update_product_price", nil); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("err = %v", err)
	}
}
