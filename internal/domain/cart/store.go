// Package cart はセッション単位のカート（メモリ上）を持つ。
//
// 明細の同一性は (商品ID, サイズ) で決まり、同じキーの追加は数量加算になる。
// 永続化はしない。セッションが消えればカートも消える。
package cart

import (
	"errors"
	"strings"
	"sync"

	"storefront/internal/domain/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidProduct = errors.New("cart: invalid product")
	ErrOutOfStock     = errors.New("cart: product out of stock")
	ErrUnknownSize    = errors.New("cart: size not offered for product")
	ErrQuantityLimit  = errors.New("cart: line quantity limit reached")
	ErrClosed         = errors.New("cart: store closed")

	// 同じカートのチェックアウトが進行中
	ErrCheckoutInProgress = errors.New("cart: checkout already in progress")
)

type State string

const (
	StateEmpty  State = "EMPTY"
	StateActive State = "ACTIVE"
)

// Listener は変更ごとに最新スナップショットを受け取る。
// Listener の中からストアを変更してはいけない。
type Listener func(Snapshot)

type Option func(*Store)

// 1明細あたりの上限数量（0は無制限）
func WithMaxLineQuantity(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxLineQty = n
		}
	}
}

// Store は1セッション分のカート。
type Store struct {
	// ストアごとに一意（同じセッションIDで作り直されても別物になる）
	id string

	mu         sync.Mutex
	items      []LineItem
	index      map[Key]int
	version    uint64
	maxLineQty int64

	subs    map[uint64]Listener
	nextSub uint64
	closed  bool
	done    chan struct{}

	checkingOut bool

	// 通知を変更順に流すためのロック
	notifyMu sync.Mutex
}

// DI
func NewStore(opts ...Option) *Store {
	s := &Store{
		id:    uuid.NewString(),
		index: make(map[Key]int),
		subs:  make(map[uint64]Listener),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddItem は (商品ID, サイズ) の明細を1つ増やす。無ければ末尾に数量1で追加。
func (s *Store) AddItem(p model.Product, size string) (Snapshot, error) {
	size = strings.TrimSpace(size)
	if err := checkAddable(p, size); err != nil {
		return s.Snapshot(), err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{State: StateEmpty}, ErrClosed
	}

	k := Key{ProductID: p.ID, Size: size}
	if i, ok := s.index[k]; ok {
		if s.maxLineQty > 0 && s.items[i].Quantity >= s.maxLineQty {
			snap := s.snapshotLocked()
			s.mu.Unlock()
			return snap, ErrQuantityLimit
		}
		s.items[i].Quantity++
	} else {
		s.index[k] = len(s.items)
		s.items = append(s.items, LineItem{
			Product:  cloneProduct(p),
			Size:     size,
			Quantity: 1,
			addedAt:  s.version + 1,
		})
	}

	return s.commitLocked(), nil
}

// RemoveProduct はサイズに関係なく、その商品の明細を全て消す。
func (s *Store) RemoveProduct(id model.ProductID) Snapshot {
	return s.removeWhere(func(it LineItem) bool {
		return it.Product.ID == id
	})
}

// RemoveItem は (商品ID, サイズ) が一致する明細だけを消す。
func (s *Store) RemoveItem(k Key) Snapshot {
	k.Size = strings.TrimSpace(k.Size)
	return s.removeWhere(func(it LineItem) bool {
		return it.Key() == k
	})
}

// 全明細を削除
func (s *Store) Clear() {
	s.removeWhere(func(LineItem) bool { return true })
}

// BeginCheckout は送信するスナップショットを取り、release を呼ぶまで
// 他のチェックアウトを ErrCheckoutInProgress で弾く。カートへの追加・削除は止めない。
func (s *Store) BeginCheckout() (Snapshot, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Snapshot{State: StateEmpty}, func() {}, ErrClosed
	}
	if s.checkingOut {
		return s.snapshotLocked(), func() {}, ErrCheckoutInProgress
	}
	s.checkingOut = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			s.checkingOut = false
			s.mu.Unlock()
		})
	}
	return s.snapshotLocked(), release, nil
}

// Settle はチェックアウト済みの数量を差し引く。
// 送信中に追加された分だけが残る（同時追加が無ければ空になる）。
// submitted より後に作られた行（削除して入れ直した行を含む）には触れない。
func (s *Store) Settle(submitted Snapshot) Snapshot {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{State: StateEmpty}
	}

	changed := false
	for _, sub := range submitted.Items {
		i, ok := s.index[sub.Key()]
		if !ok || s.items[i].addedAt > submitted.Version {
			continue
		}
		s.items[i].Quantity -= sub.Quantity
		changed = true
	}
	if !changed {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap
	}

	kept := s.items[:0]
	for _, it := range s.items {
		if it.Quantity > 0 {
			kept = append(kept, it)
		}
	}
	s.items = kept
	s.reindexLocked()

	return s.commitLocked()
}

// ID はこのストアの識別子
func (s *Store) ID() string {
	return s.id
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// バッジ表示用の合計数量
func (s *Store) TotalQuantity() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return totalQuantity(s.items)
}

func (s *Store) TotalPrice() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return totalPrice(s.items)
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stateOf(s.items)
}

// Subscribe は変更通知を登録する。返り値の関数で解除。
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Done はストアが閉じられると close される。
func (s *Store) Done() <-chan struct{} {
	return s.done
}

// Close 以降の変更は ErrClosed。購読者は全て外す。
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.items = nil
	s.index = make(map[Key]int)
	s.subs = make(map[uint64]Listener)
	close(s.done)
}

func (s *Store) removeWhere(match func(LineItem) bool) Snapshot {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{State: StateEmpty}
	}

	kept := make([]LineItem, 0, len(s.items))
	for _, it := range s.items {
		if !match(it) {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(s.items) {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap
	}

	s.items = kept
	s.reindexLocked()
	return s.commitLocked()
}

// commitLocked はバージョンを進めてロックを外し、購読者へ通知する。
func (s *Store) commitLocked() Snapshot {
	s.version++
	snap := s.snapshotLocked()

	listeners := make([]Listener, 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	return snap
}

func (s *Store) reindexLocked() {
	s.index = make(map[Key]int, len(s.items))
	for i, it := range s.items {
		s.index[it.Key()] = i
	}
}

func (s *Store) snapshotLocked() Snapshot {
	items := make([]LineItem, len(s.items))
	copy(items, s.items)
	return Snapshot{
		StoreID:       s.id,
		Version:       s.version,
		Items:         items,
		TotalQuantity: totalQuantity(items),
		TotalPrice:    totalPrice(items),
		State:         stateOf(items),
	}
}

func checkAddable(p model.Product, size string) error {
	if strings.TrimSpace(string(p.ID)) == "" || p.Price.IsNegative() {
		return ErrInvalidProduct
	}
	if !p.InStock {
		return ErrOutOfStock
	}
	if len(p.Sizes) > 0 && !p.HasSize(size) {
		return ErrUnknownSize
	}
	return nil
}

// 追加時点の商品をコピーして持つ（カタログ側の変更から切り離す）
func cloneProduct(p model.Product) model.Product {
	if p.AdditionalImages != nil {
		p.AdditionalImages = append([]string(nil), p.AdditionalImages...)
	}
	if p.Sizes != nil {
		p.Sizes = append([]string(nil), p.Sizes...)
	}
	return p
}
