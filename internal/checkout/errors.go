package checkout

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart      = errors.New("checkout: cart is empty")
	ErrInvalidDetails = errors.New("checkout: invalid details")
	ErrInProgress     = errors.New("checkout: already in progress")

	// 注文の受け付け側が失敗
	ErrPlacement = errors.New("checkout: order placement failed")
)

// CheckoutError は送信失敗。Kind は上の sentinel のどれか、Err は原因。
// どの失敗でもカートはそのまま残る。
type CheckoutError struct {
	Kind error
	Err  error
}

func (e *CheckoutError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *CheckoutError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// PlacementError は api が返した拒否。
type PlacementError struct {
	StatusCode int
	Message    string
}

func (e *PlacementError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("order api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("order api returned %d: %s", e.StatusCode, e.Message)
}
