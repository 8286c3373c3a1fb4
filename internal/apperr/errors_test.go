package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("items", "cart is empty"), http.StatusBadRequest},
		{"not found", NotFound("product", 4), http.StatusNotFound},
		{"stock", &InsufficientStockError{Product: "Widget"}, http.StatusBadRequest},
		{"amount", InvalidAmount("too much"), http.StatusBadRequest},
		{"conflict", Conflict("already completed"), http.StatusConflict},
		{"persistence", Persistence("create sale", errors.New("disk full")), http.StatusInternalServerError},
		{"upstream", &UpstreamError{Service: "UPI QR generator", Err: errors.New("boom")}, http.StatusBadGateway},
		{"wrapped", fmt.Errorf("edit sale: %w", NotFound("sale", 1)), http.StatusNotFound},
		{"plain", errors.New("whatever"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestInsufficientStockMessageNamesProduct(t *testing.T) {
	err := &InsufficientStockError{
		ProductID: 1,
		Product:   "Widget",
		Requested: decimal.NewFromInt(5),
		Available: decimal.NewFromInt(2),
	}
	want := "Insufficient stock for Widget: requested 5, available 2"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrInsufficientStock) {
		t.Error("should match ErrInsufficientStock")
	}
}

func TestPublicMessageHidesPersistenceDetails(t *testing.T) {
	err := Persistence("insert sale", errors.New("dial tcp 10.0.0.3:3306: refused"))
	if got := PublicMessage(err); got != "Internal server error" {
		t.Errorf("PublicMessage() = %q", got)
	}
	if !errors.Is(err, ErrPersistence) {
		t.Error("should match ErrPersistence")
	}
}

func TestClassify(t *testing.T) {
	typed := NotFound("sale", 3)
	if Classify("x", typed) != typed {
		t.Error("typed error should pass through")
	}
	raw := errors.New("database is locked")
	got := Classify("commit sale", raw)
	if !errors.Is(got, ErrPersistence) || !errors.Is(got, raw) {
		t.Errorf("Classify(raw) = %v", got)
	}
	if Classify("x", nil) != nil {
		t.Error("nil should stay nil")
	}
}
