package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"storefront/internal/domain/model"

	playground "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	// 入力が不正
	ErrInvalidInput = errors.New("invalid input")

	// 一覧の中でIDが重複
	ErrDuplicateID = errors.New("duplicate product id")
)

var (
	once     sync.Once
	instance *playground.Validate
)

// 共有のvalidator。decimalはfloatとして比較させる。
func get() *playground.Validate {
	once.Do(func() {
		v := playground.New(playground.WithRequiredStructEnabled())
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		instance = v
	})
	return instance
}

// FieldError は最初に失敗したフィールドを人が読める形で返す。
type FieldError struct {
	Field string
	Tag   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s (%s)", e.Field, e.Tag)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidInput
}

// 構造体のvalidateタグを検証
func Struct(s interface{}) error {
	err := get().Struct(s)
	if err == nil {
		return nil
	}

	var verrs playground.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &FieldError{Field: fe.Namespace(), Tag: fe.Tag()}
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

// 商品1件を検証
func Product(p model.Product) error {
	if strings.TrimSpace(string(p.ID)) == "" {
		return &FieldError{Field: "Product.id", Tag: "required"}
	}
	return Struct(p)
}

// カタログ一覧を検証（各商品 + ID重複）
func Products(products []model.Product) error {
	seen := make(map[model.ProductID]struct{}, len(products))
	for i, p := range products {
		if err := Product(p); err != nil {
			return fmt.Errorf("products[%d]: %w", i, err)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("products[%d]: %w: %s", i, ErrDuplicateID, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}
