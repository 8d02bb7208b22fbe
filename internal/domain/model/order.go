package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending      OrderStatus = "PENDING"
	OrderStatusAcknowledged OrderStatus = "ACKNOWLEDGED"
)

// 配送先。注文に埋め込んで保存する。
type Shipping struct {
	FullName   string `gorm:"type:varchar(255);not null" json:"fullName" validate:"required,max=255"`
	Phone      string `gorm:"type:varchar(32);not null" json:"phone" validate:"required,max=32"`
	Address    string `gorm:"type:varchar(255);not null" json:"address" validate:"required,max=255"`
	City       string `gorm:"type:varchar(128);not null" json:"city" validate:"required,max=128"`
	PostalCode string `gorm:"type:varchar(32);not null" json:"postalCode" validate:"required,max=32"`
	Country    string `gorm:"type:varchar(64);not null" json:"country" validate:"required,max=64"`
}

type Order struct {
	ID             string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Status         OrderStatus     `gorm:"type:varchar(20);not null;index" json:"status"`
	Shipping       Shipping        `gorm:"embedded;embeddedPrefix:ship_" json:"shipping"`
	PaymentMethod  string          `gorm:"type:varchar(32);not null" json:"paymentMethod"`
	Currency       string          `gorm:"type:varchar(3);not null" json:"currency"`
	TotalPrice     decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"totalPrice"`
	IdempotencyKey string          `gorm:"type:varchar(255);not null;uniqueIndex" json:"-"`
	// 同じ冪等キーで内容が違う再送を見分けるためのハッシュ
	RequestHash    string          `gorm:"type:varchar(64);not null;default:''" json:"-"`
	CreatedAt      time.Time       `gorm:"not null;autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time       `gorm:"not null;autoUpdateTime" json:"updatedAt"`
}
