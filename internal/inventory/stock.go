package inventory

import (
	"errors"

	"go-pos-ledger/internal/apperr"
	"go-pos-ledger/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	ReasonSale       = "sale"
	ReasonSaleEdit   = "sale_edit"
	ReasonStockEntry = "stock_entry"
	ReasonAdjustment = "adjustment"
)

// Movement describes why a stock change happened.
type Movement struct {
	Reason       string
	SaleID       *uint
	StockEntryID *uint
	UserID       uint
}

// AdjustStock is the only write path for Product.Stock. The conditional
// update refuses any change that would leave stock negative, so concurrent
// sales cannot both pass the check.
func AdjustStock(tx *gorm.DB, productID uint, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}

	res := tx.Model(&models.Product{}).
		Where("id = ? AND stock + CAST(? AS DECIMAL(14,3)) >= 0", productID, delta).
		Update("stock", gorm.Expr("stock + CAST(? AS DECIMAL(14,3))", delta))
	if res.Error != nil {
		return apperr.Persistence("adjust stock", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var p models.Product
	if err := tx.Select("id", "name", "stock").First(&p, productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("product", productID)
		}
		return apperr.Persistence("load product", err)
	}
	return &apperr.InsufficientStockError{
		ProductID: p.ID,
		Product:   p.Name,
		Requested: delta.Neg(),
		Available: p.Stock,
	}
}

// Apply adjusts stock and records the movement in one step.
func Apply(tx *gorm.DB, productID uint, delta decimal.Decimal, mv Movement) error {
	if delta.IsZero() {
		return nil
	}
	if err := AdjustStock(tx, productID, delta); err != nil {
		return err
	}
	return RecordMovements(tx, []models.StockMovement{NewMovement(productID, delta, mv)})
}

func NewMovement(productID uint, delta decimal.Decimal, mv Movement) models.StockMovement {
	return models.StockMovement{
		ProductID:    productID,
		Quantity:     delta,
		Reason:       mv.Reason,
		SaleID:       mv.SaleID,
		StockEntryID: mv.StockEntryID,
		UserID:       mv.UserID,
	}
}

func RecordMovements(tx *gorm.DB, movements []models.StockMovement) error {
	if len(movements) == 0 {
		return nil
	}
	if err := tx.Create(&movements).Error; err != nil {
		return apperr.Persistence("record stock movement", err)
	}
	return nil
}

// LoadForSale locks a product row for the rest of the transaction and
// checks that it can be sold.
func LoadForSale(tx *gorm.DB, productID uint) (*models.Product, error) {
	var p models.Product
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("product", productID)
		}
		return nil, apperr.Persistence("load product", err)
	}
	if p.IsDeleted {
		return nil, apperr.NotFound("product", productID)
	}
	if !p.Active {
		return nil, apperr.Validation("product_id", "%s is not available for sale", p.Name)
	}
	return &p, nil
}

// CheckQuantity rejects non-positive quantities, more precision than the
// stock column keeps, and fractional pieces.
func CheckQuantity(p *models.Product, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return apperr.Validation("quantity", "quantity for %s must be greater than zero", p.Name)
	}
	if !qty.Equal(qty.Truncate(3)) {
		return apperr.Validation("quantity", "quantity for %s allows at most 3 decimal places", p.Name)
	}
	if p.UnitType == models.UnitPiece && !qty.Equal(qty.Truncate(0)) {
		return apperr.Validation("quantity", "%s is sold by the piece, got quantity %s", p.Name, qty.String())
	}
	return nil
}
