package catalog

import (
	"errors"
	"fmt"
)

var (
	// 通信失敗 / 2xx 以外
	ErrNetwork = errors.New("catalog: network error")

	// 本文が商品配列として読めない
	ErrDecode = errors.New("catalog: decode error")

	ErrProductNotFound = errors.New("catalog: product not found")
)

// NetworkError は取得自体の失敗。StatusCode は応答があった場合だけ入る。
type NetworkError struct {
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("catalog: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("catalog: network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// DecodeError は応答本文の不正。
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("catalog: decode error: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
