package inventory

import (
	"context"
	"errors"
	"strings"

	"go-pos-ledger/internal/apperr"
	"go-pos-ledger/internal/cache"
	"go-pos-ledger/internal/logger"
	"go-pos-ledger/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service owns the product catalog.
type Service struct {
	db    *gorm.DB
	cache *cache.ProductCache
}

func NewService(db *gorm.DB, productCache *cache.ProductCache) *Service {
	return &Service{db: db, cache: productCache}
}

type ListFilter struct {
	IncludeDeleted bool
	Category       string
	Search         string
}

type ProductInput struct {
	Name              string              `json:"name" binding:"required"`
	Category          string              `json:"category"`
	RetailPrice       decimal.Decimal     `json:"retailPrice"`
	WholeSalePrice    decimal.NullDecimal `json:"wholeSalePrice"`
	CostPrice         decimal.Decimal     `json:"costPrice"`
	Stock             decimal.Decimal     `json:"stock"`
	UnitType          models.UnitType     `json:"unitType"`
	LowStockThreshold int                 `json:"lowStockThreshold"`
	Active            *bool               `json:"active"`
	ImageURL          string              `json:"imageUrl"`
}

// ProductUpdate carries a partial update. Stock is deliberately absent:
// it only moves through sales and stock entries.
type ProductUpdate struct {
	Name              *string          `json:"name"`
	Category          *string          `json:"category"`
	RetailPrice       *decimal.Decimal `json:"retailPrice"`
	WholeSalePrice    *decimal.Decimal `json:"wholeSalePrice"`
	ClearWholesale    bool             `json:"clearWholesale"`
	CostPrice         *decimal.Decimal `json:"costPrice"`
	UnitType          *models.UnitType `json:"unitType"`
	LowStockThreshold *int             `json:"lowStockThreshold"`
	Active            *bool            `json:"active"`
	ImageURL          *string          `json:"imageUrl"`
}

type StockEntryInput struct {
	ProductID uint            `json:"productId" binding:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unitCost"`
	Supplier  string          `json:"supplier"`
	Note      string          `json:"note"`
}

func (s *Service) ListProducts(ctx context.Context, f ListFilter) ([]models.Product, error) {
	q := s.db.WithContext(ctx).Order("name")
	if !f.IncludeDeleted {
		q = q.Where("is_deleted = ?", false)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Search != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(f.Search)+"%")
	}

	var products []models.Product
	if err := q.Find(&products).Error; err != nil {
		return nil, apperr.Persistence("list products", err)
	}
	return products, nil
}

func (s *Service) GetProduct(ctx context.Context, id uint) (*models.Product, error) {
	var p models.Product
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("product", id)
		}
		return nil, apperr.Persistence("load product", err)
	}
	return &p, nil
}

// LowStock lists sellable products at or below their threshold.
func (s *Service) LowStock(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.WithContext(ctx).
		Where("is_deleted = ? AND active = ? AND stock <= low_stock_threshold", false, true).
		Order("stock").
		Find(&products).Error
	if err != nil {
		return nil, apperr.Persistence("list low stock", err)
	}
	return products, nil
}

func validatePrices(retail decimal.Decimal, wholesale decimal.NullDecimal, cost decimal.Decimal) error {
	if !retail.IsPositive() {
		return apperr.Validation("retailPrice", "must be greater than zero")
	}
	if wholesale.Valid && !wholesale.Decimal.IsPositive() {
		return apperr.Validation("wholeSalePrice", "must be greater than zero")
	}
	if cost.IsNegative() {
		return apperr.Validation("costPrice", "must not be negative")
	}
	return nil
}

// CreateProduct inserts a product. Opening stock is booked as an adjustment
// movement so the stock ledger accounts for every unit.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput, userID uint) (*models.Product, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.Validation("name", "is required")
	}
	if err := validatePrices(in.RetailPrice, in.WholeSalePrice, in.CostPrice); err != nil {
		return nil, err
	}
	if in.UnitType == "" {
		in.UnitType = models.UnitPiece
	}
	if !in.UnitType.Valid() {
		return nil, apperr.Validation("unitType", "must be piece or weight")
	}
	if in.Stock.IsNegative() {
		return nil, apperr.Validation("stock", "must not be negative")
	}

	p := models.Product{
		Name:              strings.TrimSpace(in.Name),
		Category:          in.Category,
		RetailPrice:       in.RetailPrice,
		WholeSalePrice:    in.WholeSalePrice,
		CostPrice:         in.CostPrice,
		Stock:             decimal.Zero,
		UnitType:          in.UnitType,
		LowStockThreshold: in.LowStockThreshold,
		Active:            true,
		ImageURL:          in.ImageURL,
	}
	if in.Stock.IsPositive() {
		if err := CheckQuantity(&p, in.Stock); err != nil {
			return nil, err
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&p).Error; err != nil {
			return apperr.Persistence("create product", err)
		}
		// Active has a database default of true, so false must be written explicitly.
		if in.Active != nil && !*in.Active {
			if err := tx.Model(&p).Update("active", false).Error; err != nil {
				return apperr.Persistence("create product", err)
			}
		}
		if err := Apply(tx, p.ID, in.Stock, Movement{Reason: ReasonAdjustment, UserID: userID}); err != nil {
			return err
		}
		return tx.First(&p, p.ID).Error
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx)
	logger.Info(ctx).Uint("product_id", p.ID).Str("name", p.Name).Msg("Product created")
	return &p, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id uint, in ProductUpdate) (*models.Product, error) {
	p, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.IsDeleted {
		return nil, apperr.NotFound("product", id)
	}

	updates := map[string]any{}
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, apperr.Validation("name", "must not be empty")
		}
		updates["name"] = strings.TrimSpace(*in.Name)
	}
	if in.Category != nil {
		updates["category"] = *in.Category
	}

	retail, wholesale, cost := p.RetailPrice, p.WholeSalePrice, p.CostPrice
	if in.RetailPrice != nil {
		retail = *in.RetailPrice
		updates["retail_price"] = retail
	}
	if in.ClearWholesale {
		wholesale = decimal.NullDecimal{}
		updates["whole_sale_price"] = wholesale
	} else if in.WholeSalePrice != nil {
		wholesale = decimal.NewNullDecimal(*in.WholeSalePrice)
		updates["whole_sale_price"] = wholesale
	}
	if in.CostPrice != nil {
		cost = *in.CostPrice
		updates["cost_price"] = cost
	}
	if err := validatePrices(retail, wholesale, cost); err != nil {
		return nil, err
	}

	if in.UnitType != nil {
		if !in.UnitType.Valid() {
			return nil, apperr.Validation("unitType", "must be piece or weight")
		}
		updates["unit_type"] = *in.UnitType
	}
	if in.LowStockThreshold != nil {
		if *in.LowStockThreshold < 0 {
			return nil, apperr.Validation("lowStockThreshold", "must not be negative")
		}
		updates["low_stock_threshold"] = *in.LowStockThreshold
	}
	if in.Active != nil {
		updates["active"] = *in.Active
	}
	if in.ImageURL != nil {
		updates["image_url"] = *in.ImageURL
	}
	if len(updates) == 0 {
		return p, nil
	}

	if err := s.db.WithContext(ctx).Model(p).Updates(updates).Error; err != nil {
		return nil, apperr.Persistence("update product", err)
	}
	s.cache.Invalidate(ctx)
	return s.GetProduct(ctx, id)
}

// DeleteProduct soft-deletes; sale history keeps pointing at the row.
func (s *Service) DeleteProduct(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Update("is_deleted", true)
	if res.Error != nil {
		return apperr.Persistence("delete product", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("product", id)
	}
	s.cache.Invalidate(ctx)
	return nil
}

// ReceiveStock books a supplier delivery and increments stock.
func (s *Service) ReceiveStock(ctx context.Context, in StockEntryInput, userID uint) (*models.StockEntry, error) {
	if in.UnitCost.IsNegative() {
		return nil, apperr.Validation("unitCost", "must not be negative")
	}

	entry := models.StockEntry{
		ProductID: in.ProductID,
		Quantity:  in.Quantity,
		UnitCost:  in.UnitCost,
		Supplier:  in.Supplier,
		Note:      in.Note,
		UserID:    userID,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := LoadForSale(tx, in.ProductID)
		if err != nil && !errors.Is(err, apperr.ErrValidation) {
			return err
		}
		if p == nil {
			// Inactive products can still be restocked.
			var inactive models.Product
			if err := tx.First(&inactive, in.ProductID).Error; err != nil {
				return apperr.Persistence("load product", err)
			}
			p = &inactive
		}
		if err := CheckQuantity(p, in.Quantity); err != nil {
			return err
		}

		if err := tx.Create(&entry).Error; err != nil {
			return apperr.Persistence("create stock entry", err)
		}
		return Apply(tx, p.ID, in.Quantity, Movement{
			Reason:       ReasonStockEntry,
			StockEntryID: &entry.ID,
			UserID:       userID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx)
	logger.Info(ctx).
		Uint("product_id", in.ProductID).
		Str("quantity", in.Quantity.String()).
		Str("supplier", in.Supplier).
		Msg("Stock received")
	return &entry, nil
}
