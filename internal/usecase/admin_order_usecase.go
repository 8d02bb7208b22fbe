package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

type AdminOrderUsecase struct {
	tx repo.TransactionManager
}

// DI
func NewAdminOrderUsecase(tx repo.TransactionManager) *AdminOrderUsecase {
	return &AdminOrderUsecase{tx: tx}
}

type AdminUpdateOrderStatusInput struct {
	Status string `json:"status"`
}

// 注文一覧（明細つき）と総件数
func (u *AdminOrderUsecase) List(ctx context.Context, f repo.OrderListFilter) ([]OrderOutput, int64, error) {
	// page/limitの最低限チェック
	if f.Page < 1 {
		return []OrderOutput{}, 0, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if f.Limit < 1 || f.Limit > 100 {
		return []OrderOutput{}, 0, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	switch f.Status {
	case "", string(model.OrderStatusPending), string(model.OrderStatusAcknowledged):
	default:
		return []OrderOutput{}, 0, NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return []OrderOutput{}, 0, NewHTTPError(http.StatusBadRequest, "invalid range")
	}

	var (
		outs  []OrderOutput
		total int64
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, n, err := r.Orders().List(ctx, f)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		total = n

		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			outs = append(outs, toOrderOutput(o, items))
		}
		return nil
	})
	if err != nil {
		return []OrderOutput{}, 0, err
	}
	return outs, total, nil
}

// ステータス更新。PENDING → ACKNOWLEDGED のみ（戻しは不可）。
func (u *AdminOrderUsecase) UpdateStatus(ctx context.Context, actor string, orderID string, in AdminUpdateOrderStatusInput) error {
	if actor == "" {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if strings.TrimSpace(orderID) == "" {
		return NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	newStatus := model.OrderStatus(strings.TrimSpace(in.Status))
	switch newStatus {
	case model.OrderStatusPending, model.OrderStatusAcknowledged:
	default:
		return NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		// すでに同じなら何もしない（200）
		if o.Status == newStatus {
			return nil
		}
		// 終端ガード
		if o.Status == model.OrderStatusAcknowledged {
			return NewHTTPError(http.StatusBadRequest, "cannot change acknowledged order")
		}

		if err := r.Orders().UpdateStatus(ctx, orderID, newStatus); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusNotFound, "not found")
			}
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		return writeAudit(ctx, r, actor, model.AuditActionUpdateOrderStatus, model.AuditResourceOrder, orderID,
			map[string]string{"status": string(o.Status)}, map[string]string{"status": string(newStatus)})
	})
}

// 期間パラメータ（RFC3339）。空なら nil。
func parseDateTimeRFC3339(s string) (*time.Time, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, false
	}
	return &t, true
}

// クエリ文字列から一覧条件を作る
func NewOrderListFilter(page, limit int, status, from, to string) (repo.OrderListFilter, error) {
	f := repo.OrderListFilter{Page: page, Limit: limit, Status: strings.TrimSpace(status)}
	var ok bool
	if f.From, ok = parseDateTimeRFC3339(from); !ok {
		return repo.OrderListFilter{}, NewHTTPError(http.StatusBadRequest, "invalid from")
	}
	if f.To, ok = parseDateTimeRFC3339(to); !ok {
		return repo.OrderListFilter{}, NewHTTPError(http.StatusBadRequest, "invalid to")
	}
	return f, nil
}
