package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// price はJSONでは数値として出す（WebAppは number 前提）
	decimal.MarshalJSONWithoutQuotes = true
}

// ProductID は数値でも文字列でも受け取れる商品ID。内部では文字列で扱う。
type ProductID string

func (id ProductID) String() string {
	return string(id)
}

// 数値IDは文字列に正規化する（12 → "12"）
func (id *ProductID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return errors.New("product id: null")
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ProductID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return errors.New("product id: must be integer or string")
	}
	if _, err := n.Int64(); err != nil {
		return errors.New("product id: must be integer or string")
	}
	*id = ProductID(n.String())
	return nil
}

// 商品。api側はテーブル、storefront側はカタログのスナップショットとして使う。
type Product struct {
	ID               ProductID       `gorm:"primaryKey;type:varchar(64)" json:"id" validate:"required,max=64"`
	Name             string          `gorm:"type:varchar(255);not null" json:"name" validate:"required,max=255"`
	Price            decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price" validate:"gte=0"`
	Category         string          `gorm:"type:varchar(64);not null;index" json:"category" validate:"required,max=64"`
	ImageURL         string          `gorm:"type:text;not null" json:"imageUrl" validate:"required"`
	AdditionalImages []string        `gorm:"serializer:json" json:"additionalImages,omitempty" validate:"omitempty,dive,required"`
	Sizes            []string        `gorm:"serializer:json" json:"sizes,omitempty" validate:"omitempty,unique,dive,required,max=16"`
	Description      string          `gorm:"type:text" json:"description,omitempty"`
	Brand            string          `gorm:"type:varchar(128)" json:"brand,omitempty" validate:"max=128"`
	InStock          bool            `gorm:"not null" json:"inStock"`
	Discount         float64         `gorm:"not null;default:0" json:"discount" validate:"gte=0,lte=100"`
	Rating           float64         `gorm:"not null;default:0" json:"rating" validate:"gte=0,lte=5"`
	CreatedAt        time.Time       `gorm:"not null;autoCreateTime" json:"-"`
	UpdatedAt        time.Time       `gorm:"not null;autoUpdateTime" json:"-"`
}

// inStock が無いペイロードは在庫ありとして扱う
func (p *Product) UnmarshalJSON(data []byte) error {
	type alias Product
	a := alias{InStock: true}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = Product(a)
	return nil
}

// サイズ指定が商品の取り扱いサイズに含まれるか
func (p Product) HasSize(size string) bool {
	for _, s := range p.Sizes {
		if s == size {
			return true
		}
	}
	return false
}
