package cart

import (
	"storefront/internal/domain/model"

	"github.com/shopspring/decimal"
)

// Key は明細の同一性。Size が空ならサイズ未指定。
type Key struct {
	ProductID model.ProductID `json:"productId"`
	Size      string          `json:"size,omitempty"`
}

// LineItem はカートの1行。Product は追加時点のスナップショット。
type LineItem struct {
	Product  model.Product `json:"product"`
	Size     string        `json:"size,omitempty"`
	Quantity int64         `json:"quantity"`

	// 行が作られたときのストアのバージョン
	addedAt uint64
}

func (it LineItem) Key() Key {
	return Key{ProductID: it.Product.ID, Size: it.Size}
}

func (it LineItem) LineTotal() decimal.Decimal {
	return it.Product.Price.Mul(decimal.NewFromInt(it.Quantity))
}

// Snapshot はある時点のカート全体。Items は最初に追加された順。
type Snapshot struct {
	StoreID       string          `json:"-"`
	Version       uint64          `json:"version"`
	Items         []LineItem      `json:"items"`
	TotalQuantity int64           `json:"totalQuantity"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
	State         State           `json:"state"`
}

func (s Snapshot) IsEmpty() bool {
	return len(s.Items) == 0
}

func totalQuantity(items []LineItem) int64 {
	var n int64
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

func totalPrice(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

func stateOf(items []LineItem) State {
	if len(items) == 0 {
		return StateEmpty
	}
	return StateActive
}
