package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 注文明細。商品名と単価は注文時点のスナップショット。
type OrderItem struct {
	ID                  int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID             string          `gorm:"type:varchar(36);not null;index" json:"orderId"`
	ProductID           ProductID       `gorm:"type:varchar(64);not null;index" json:"productId"`
	ProductNameSnapshot string          `gorm:"type:varchar(255);not null" json:"name"`
	UnitPriceSnapshot   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Size                string          `gorm:"type:varchar(16);not null;default:''" json:"size,omitempty"`
	Quantity            int64           `gorm:"not null" json:"quantity"`
	CreatedAt           time.Time       `gorm:"not null;autoCreateTime" json:"-"`
}

// 明細の小計
func (it OrderItem) LineTotal() decimal.Decimal {
	return it.UnitPriceSnapshot.Mul(decimal.NewFromInt(it.Quantity))
}
