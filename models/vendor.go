package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/purchase_backend/utils"
	"gorm.io/gorm"
)

type Vendor struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	StateCode string    `gorm:"size:10;not null;default:''" json:"state_code"`
	Phone     string    `gorm:"size:30" json:"phone"`
	TaxId     string    `gorm:"size:30;index" json:"tax_id"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewVendor struct {
	ID        int    `json:"id"`
	Name      string `json:"name" validate:"required,max=255"`
	StateCode string `json:"state_code" validate:"required,max=10"`
	Phone     string `json:"phone" validate:"omitempty,max=30"`
	TaxId     string `json:"tax_id" validate:"omitempty,max=30"`
}

type Shop struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	StateCode string    `gorm:"size:10;not null;default:''" json:"state_code"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (input *NewVendor) validate() error {
	input.Name = strings.TrimSpace(input.Name)
	input.StateCode = strings.ToUpper(strings.TrimSpace(input.StateCode))
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return fmt.Errorf("%w: phone: %v", utils.ErrorInvalidInput, err)
		}
		formatted, err := utils.FormatPhoneNumber(input.Phone, utils.CountryCode)
		if err != nil {
			return fmt.Errorf("%w: phone: %v", utils.ErrorInvalidInput, err)
		}
		input.Phone = formatted
	}
	return nil
}

// UpsertVendor creates a vendor, or updates it when input.ID is set.
func UpsertVendor(ctx context.Context, db *gorm.DB, input *NewVendor) (*Vendor, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	vendor := Vendor{
		ID:        input.ID,
		Name:      input.Name,
		StateCode: input.StateCode,
		Phone:     input.Phone,
		TaxId:     strings.TrimSpace(input.TaxId),
		IsActive:  utils.NewTrue(),
	}
	if input.ID > 0 {
		if _, err := GetVendor(ctx, db, input.ID); err != nil {
			return nil, err
		}
		if err := db.WithContext(ctx).Save(&vendor).Error; err != nil {
			return nil, err
		}
		return &vendor, nil
	}
	if err := db.WithContext(ctx).Create(&vendor).Error; err != nil {
		return nil, err
	}
	return &vendor, nil
}

func GetVendor(ctx context.Context, db *gorm.DB, id int) (*Vendor, error) {
	var vendor Vendor
	if err := db.WithContext(ctx).First(&vendor, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &vendor, nil
}

func GetShop(ctx context.Context, db *gorm.DB, id int) (*Shop, error) {
	var shop Shop
	if err := db.WithContext(ctx).First(&shop, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &shop, nil
}

// IsInterState reports whether a purchase from vendor into shop crosses a
// state boundary. Unknown state codes are treated as intra-state.
func IsInterState(vendor *Vendor, shop *Shop) bool {
	if vendor == nil || shop == nil || vendor.StateCode == "" || shop.StateCode == "" {
		return false
	}
	return !strings.EqualFold(vendor.StateCode, shop.StateCode)
}
