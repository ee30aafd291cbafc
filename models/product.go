package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mmdatafocus/purchase_backend/config"
	"github.com/mmdatafocus/purchase_backend/matcher"
	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type Product struct {
	ID             int             `gorm:"primary_key" json:"id"`
	Sku            string          `gorm:"size:100;index" json:"sku"`
	Barcode        string          `gorm:"size:100;index" json:"barcode"`
	Name           string          `gorm:"size:255;not null" json:"name"`
	NormalizedName string          `gorm:"size:255;index" json:"normalized_name"`
	Brand          string          `gorm:"size:100;index" json:"brand"`
	Potency        string          `gorm:"size:50;index" json:"potency"`
	HsnCode        string          `gorm:"size:20" json:"hsn_code"`
	TaxRate        decimal.Decimal `gorm:"type:decimal(7,4);default:0" json:"tax_rate"`
	Mrp            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"mrp"`
	PurchasePrice  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"purchase_price"`
	IsActive       *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Sku           string          `json:"sku" validate:"omitempty,max=100"`
	Barcode       string          `json:"barcode" validate:"omitempty,max=100"`
	Name          string          `json:"name" validate:"required,max=255"`
	Brand         string          `json:"brand" validate:"omitempty,max=100"`
	Potency       string          `json:"potency" validate:"omitempty,max=50"`
	HsnCode       string          `json:"hsn_code" validate:"omitempty,max=20"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	Mrp           decimal.Decimal `json:"mrp"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
}

type ProductSearch struct {
	Query   string
	Brand   string
	Potency string
	Limit   int
}

type ProductImportSummary struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped []string `json:"skipped"`
}

func (p *Product) BeforeSave(tx *gorm.DB) error {
	p.NormalizedName = matcher.Normalize(p.Name)
	return nil
}

func (p Product) CatalogProduct() matcher.Product {
	return matcher.Product{
		ID:             p.ID,
		Sku:            p.Sku,
		Barcode:        p.Barcode,
		Name:           p.Name,
		NormalizedName: p.NormalizedName,
		Brand:          p.Brand,
		Potency:        p.Potency,
	}
}

func (input *NewProduct) validate(ctx context.Context, tx *gorm.DB) error {
	input.Name = strings.TrimSpace(input.Name)
	input.Sku = strings.TrimSpace(input.Sku)
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.TaxRate.IsNegative() || input.Mrp.IsNegative() || input.PurchasePrice.IsNegative() {
		return fmt.Errorf("%w: product prices and tax rate must not be negative", utils.ErrorInvalidInput)
	}
	if input.Sku != "" {
		var count int64
		if err := tx.WithContext(ctx).Model(&Product{}).Where("sku = ?", input.Sku).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: duplicate sku %q", utils.ErrorInvalidInput, input.Sku)
		}
	}
	return nil
}

// CreateProduct inserts a catalog product using tx, which may be a running
// transaction.
func CreateProduct(ctx context.Context, tx *gorm.DB, input *NewProduct) (*Product, error) {
	if err := input.validate(ctx, tx); err != nil {
		return nil, err
	}
	product := Product{
		Sku:           input.Sku,
		Barcode:       strings.TrimSpace(input.Barcode),
		Name:          input.Name,
		Brand:         strings.TrimSpace(input.Brand),
		Potency:       strings.TrimSpace(input.Potency),
		HsnCode:       strings.TrimSpace(input.HsnCode),
		TaxRate:       input.TaxRate,
		Mrp:           input.Mrp,
		PurchasePrice: input.PurchasePrice,
		IsActive:      utils.NewTrue(),
	}
	if err := tx.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func GetProduct(ctx context.Context, db *gorm.DB, id int) (*Product, error) {
	var product Product
	if err := db.WithContext(ctx).First(&product, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &product, nil
}

func GetProductsByIds(ctx context.Context, db *gorm.DB, ids []int) ([]*Product, error) {
	var products []*Product
	if len(ids) == 0 {
		return products, nil
	}
	if err := db.WithContext(ctx).Where("id IN ?", utils.UniqueSlice(ids)).Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// SearchProducts does a keyword search over active products, narrowed by
// brand and potency when given.
func SearchProducts(ctx context.Context, db *gorm.DB, s ProductSearch) ([]*Product, error) {
	limit := s.Limit
	if limit <= 0 || limit > config.SearchLimit {
		limit = config.SearchLimit
	}
	q := db.WithContext(ctx).Model(&Product{}).Where("is_active = ?", true)
	if kw := matcher.Keywords(s.Query); len(kw) > 0 {
		for _, k := range kw {
			q = q.Where("normalized_name LIKE ?", "%"+k+"%")
		}
	} else if strings.TrimSpace(s.Query) != "" {
		q = q.Where("normalized_name LIKE ? OR sku = ? OR barcode = ?", "%"+matcher.Normalize(s.Query)+"%", s.Query, s.Query)
	}
	if s.Brand != "" {
		q = q.Where("brand = ?", s.Brand)
	}
	if s.Potency != "" {
		q = q.Where("potency = ?", s.Potency)
	}
	var products []*Product
	if err := q.Order("name").Limit(limit).Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

var productImportHeaders = []string{"sku", "barcode", "name", "brand", "potency", "hsn code", "tax rate", "mrp", "purchase price"}

// ImportProductsFromXlsx upserts catalog products by sku from the first sheet
// of an xlsx workbook. Rows without a name are skipped and reported.
func ImportProductsFromXlsx(ctx context.Context, db *gorm.DB, r io.Reader) (*ProductImportSummary, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to open Excel file: %v", utils.ErrorInvalidInput, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("unable to read sheet: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: import file has no data rows", utils.ErrorInvalidInput)
	}
	columns := productImportColumns(rows[0])
	if _, ok := columns["name"]; !ok {
		return nil, fmt.Errorf("%w: import file must have a name column", utils.ErrorInvalidInput)
	}

	summary := &ProductImportSummary{Skipped: []string{}}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for idx, row := range rows[1:] {
			cell := func(name string) string {
				i, ok := columns[name]
				if !ok || i >= len(row) {
					return ""
				}
				return strings.TrimSpace(row[i])
			}
			input := NewProduct{
				Sku:           cell("sku"),
				Barcode:       cell("barcode"),
				Name:          cell("name"),
				Brand:         cell("brand"),
				Potency:       cell("potency"),
				HsnCode:       cell("hsn code"),
				TaxRate:       utils.AmountOrZero(cell("tax rate")),
				Mrp:           utils.AmountOrZero(cell("mrp")),
				PurchasePrice: utils.AmountOrZero(cell("purchase price")),
			}
			if input.Name == "" {
				summary.Skipped = append(summary.Skipped, fmt.Sprintf("row %d: name is required", idx+2))
				continue
			}
			if input.Sku != "" {
				var existing Product
				err := tx.Where("sku = ?", input.Sku).First(&existing).Error
				if err == nil {
					existing.Barcode = input.Barcode
					existing.Name = input.Name
					existing.Brand = input.Brand
					existing.Potency = input.Potency
					existing.HsnCode = input.HsnCode
					existing.TaxRate = input.TaxRate
					existing.Mrp = input.Mrp
					existing.PurchasePrice = input.PurchasePrice
					if err := tx.Save(&existing).Error; err != nil {
						return fmt.Errorf("row %d: %w", idx+2, err)
					}
					summary.Updated++
					continue
				}
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
			}
			if _, err := CreateProduct(ctx, tx, &input); err != nil {
				summary.Skipped = append(summary.Skipped, fmt.Sprintf("row %d: %v", idx+2, err))
				continue
			}
			summary.Created++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func productImportColumns(header []string) map[string]int {
	out := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.ReplaceAll(h, "_", " ")
		for _, want := range productImportHeaders {
			if h == want {
				if _, seen := out[want]; !seen {
					out[want] = i
				}
			}
		}
	}
	return out
}
