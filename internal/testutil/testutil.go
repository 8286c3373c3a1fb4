// Package testutil provides an in-memory SQLite database and fixtures for tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"go-pos-ledger/internal/database"
	"go-pos-ledger/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// NewDB opens a private in-memory database with the schema migrated.
// A single connection serialises access, so code under test must use the
// transaction handle for every statement inside a transaction.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_busy_timeout=5000", name, dbSeq.Add(1))

	db, err := database.Open(database.Config{
		Driver:   "sqlite",
		DSN:      dsn,
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// D parses a decimal literal.
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type ProductOption func(*models.Product)

func WithWholesale(price string) ProductOption {
	return func(p *models.Product) { p.WholeSalePrice = decimal.NewNullDecimal(D(price)) }
}

func WithUnit(u models.UnitType) ProductOption {
	return func(p *models.Product) { p.UnitType = u }
}

func WithCost(cost string) ProductOption {
	return func(p *models.Product) { p.CostPrice = D(cost) }
}

func WithCategory(c string) ProductOption {
	return func(p *models.Product) { p.Category = c }
}

func WithThreshold(n int) ProductOption {
	return func(p *models.Product) { p.LowStockThreshold = n }
}

// SeedProduct inserts an active piece-unit product.
func SeedProduct(t testing.TB, db *gorm.DB, name, price, stock string, opts ...ProductOption) *models.Product {
	t.Helper()
	p := &models.Product{
		Name:        name,
		RetailPrice: D(price),
		Stock:       D(stock),
		UnitType:    models.UnitPiece,
		Active:      true,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("seed product %s: %v", name, err)
	}
	return p
}

// SeedCustomer inserts a customer carrying the given debt.
func SeedCustomer(t testing.TB, db *gorm.DB, name, phone, debt string) *models.Customer {
	t.Helper()
	c := &models.Customer{Name: name, Phone: phone, DebtAmount: D(debt)}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("seed customer %s: %v", name, err)
	}
	return c
}

// SeedUser inserts a user with an already hashed password.
func SeedUser(t testing.TB, db *gorm.DB, username, hash, role string) *models.User {
	t.Helper()
	u := &models.User{Username: username, PasswordHash: hash, Role: role}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return u
}

// Stock re-reads a product's stock at column precision. SQLite keeps
// decimals as REAL, so the value is rounded back to three places.
func Stock(t testing.TB, db *gorm.DB, productID uint) decimal.Decimal {
	t.Helper()
	var p models.Product
	if err := db.First(&p, productID).Error; err != nil {
		t.Fatalf("reload product %d: %v", productID, err)
	}
	return p.Stock.Round(3)
}

// Debt re-reads a customer's debt balance.
func Debt(t testing.TB, db *gorm.DB, customerID uint) decimal.Decimal {
	t.Helper()
	var c models.Customer
	if err := db.First(&c, customerID).Error; err != nil {
		t.Fatalf("reload customer %d: %v", customerID, err)
	}
	return c.DebtAmount.Round(2)
}

// Count returns the number of rows of a model.
func Count(t testing.TB, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
