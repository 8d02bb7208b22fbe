package model

import "time"

// 管理者の商品操作。
type AuditAction string

const (
	//商品を作成した操作。
	AuditActionCreateProduct AuditAction = "CREATE_PRODUCT"
	//商品を更新した操作。
	AuditActionUpdateProduct AuditAction = "UPDATE_PRODUCT"
	//商品を削除した操作。
	AuditActionDeleteProduct AuditAction = "DELETE_PRODUCT"
	//在庫フラグを切り替えた操作。
	AuditActionUpdateStock AuditAction = "UPDATE_STOCK"
	//注文ステータスを変えた操作。
	AuditActionUpdateOrderStatus AuditAction = "UPDATE_ORDER_STATUS"
)

// 何に対する操作か
type AuditResourceType string

const (
	//商品に対する操作。
	AuditResourceProduct AuditResourceType = "product"
	//注文に対する操作。
	AuditResourceOrder AuditResourceType = "order"
)

// 監査ログ（管理者操作ログ）。
// 「誰が」「何を」「どの対象に」「どう変えたか」を残す。
type AuditLog struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	//トークンのsub（管理者の識別子）。
	Actor string `gorm:"type:varchar(128);not null;index" json:"actor"`

	Action AuditAction `gorm:"type:varchar(50);not null;index" json:"action"`

	ResourceType AuditResourceType `gorm:"type:varchar(50);not null;index" json:"resource_type"`

	ResourceID string `gorm:"type:varchar(64);not null;index" json:"resource_id"`

	//JSON文字列で保存する。
	BeforeJSON string `gorm:"type:text" json:"before_json"`

	AfterJSON string `gorm:"type:text" json:"after_json"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}
