package store

import (
	"context"
	"iter"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/pkg/errors"
)

var _ Store = (*MemoryStore)(nil)

// Observer receives every committed mutation in write order
type Observer func(domain.ChangeEvent)

type outboxRecord struct {
	event     domain.OutboxEvent
	published bool
}

// MemoryStore implements Store with in-memory storage. A single lock serialises writes,
// which makes multi-record commits atomic for readers.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
	lines    map[string]*domain.CartLine
	orders   map[string]*domain.Order
	users    map[string]*domain.User
	outbox   []*outboxRecord

	observer Observer
	now      func() time.Time
}

type MemoryOption func(*MemoryStore)

func WithObserver(o Observer) MemoryOption {
	return func(s *MemoryStore) { s.observer = o }
}

func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		products: make(map[string]*domain.Product),
		lines:    make(map[string]*domain.CartLine),
		orders:   make(map[string]*domain.Order),
		users:    make(map[string]*domain.User),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetObserver replaces the observer; used when the hub is built after the store
func (s *MemoryStore) SetObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

// emit must be called with the write lock held so events leave in commit order
func (s *MemoryStore) emit(c domain.Collection, kind domain.ChangeKind, id, userID string, entity any) {
	if s.observer == nil {
		return
	}
	s.observer(domain.ChangeEvent{
		Collection: c,
		Kind:       kind,
		EntityID:   id,
		UserID:     userID,
		Entity:     entity,
		At:         s.now(),
	})
}

// Products

func (s *MemoryStore) GetProduct(_ context.Context, id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, errors.Wrapf(domain.ErrNotFound, "product %s", id)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListProducts(ctx context.Context, q domain.ProductQuery) iter.Seq2[domain.Product, error] {
	return func(yield func(domain.Product, error) bool) {
		s.mu.RLock()
		snapshot := make([]domain.Product, 0, len(s.products))
		for _, p := range s.products {
			if q.Matches(*p) {
				snapshot = append(snapshot, p.Clone())
			}
		}
		s.mu.RUnlock()

		sortProducts(snapshot, q.Sort)

		for _, p := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(domain.Product{}, err)
				return
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

func sortProducts(ps []domain.Product, sort domain.ProductSort) {
	switch sort {
	case domain.SortNewest:
		slices.SortStableFunc(ps, func(a, b domain.Product) int { return b.CreatedAt.Compare(a.CreatedAt) })
	case domain.SortPriceAsc:
		slices.SortStableFunc(ps, func(a, b domain.Product) int { return a.Price.Cmp(b.Price) })
	case domain.SortPriceDesc:
		slices.SortStableFunc(ps, func(a, b domain.Product) int { return b.Price.Cmp(a.Price) })
	default:
		rand.Shuffle(len(ps), func(i, j int) { ps[i], ps[j] = ps[j], ps[i] })
	}
}

func (s *MemoryStore) CreateProduct(_ context.Context, p domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[p.ID]; exists {
		return errors.Wrapf(domain.ErrConflict, "product %s already exists", p.ID)
	}
	p.Version = 1
	stored := p.Clone()
	s.products[p.ID] = &stored
	s.emit(domain.CollectionProducts, domain.ChangeAdded, p.ID, "", stored.Clone())
	return nil
}

func (s *MemoryStore) ReplaceProduct(_ context.Context, p domain.Product) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[p.ID]
	if !ok {
		return domain.Product{}, errors.Wrapf(domain.ErrNotFound, "product %s", p.ID)
	}
	if current.Version != p.Version {
		return domain.Product{}, errors.Wrapf(domain.ErrStaleWrite, "product %s is at version %d, not %d", p.ID, current.Version, p.Version)
	}

	stored := p.Clone()
	stored.Version = p.Version + 1
	stored.UpdatedAt = s.now()
	s.products[p.ID] = &stored
	s.emit(domain.CollectionProducts, domain.ChangeModified, p.ID, "", stored.Clone())
	return stored.Clone(), nil
}

func (s *MemoryStore) AdjustStock(_ context.Context, id string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return 0, errors.Wrapf(domain.ErrNotFound, "product %s", id)
	}
	if p.Stock+delta < 0 {
		return p.Stock, domain.NewStockError(domain.ErrInsufficientStock, id, p.Stock)
	}

	p.Stock += delta
	p.Version++
	p.UpdatedAt = s.now()
	s.emit(domain.CollectionProducts, domain.ChangeModified, id, "", p.Clone())
	return p.Stock, nil
}

func (s *MemoryStore) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "product %s", id)
	}
	delete(s.products, id)
	s.emit(domain.CollectionProducts, domain.ChangeRemoved, id, "", p.Clone())
	return nil
}

// Cart lines

func (s *MemoryStore) InsertLine(_ context.Context, line domain.CartLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.lines {
		if l.UserID == line.UserID && l.ProductID == line.ProductID {
			return errors.Wrapf(domain.ErrAlreadyInCart, "product %s", line.ProductID)
		}
	}
	stored := line
	s.lines[line.ID] = &stored
	s.emit(domain.CollectionCarts, domain.ChangeAdded, line.ID, line.UserID, stored)
	return nil
}

func (s *MemoryStore) GetLine(_ context.Context, id string) (domain.CartLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.lines[id]
	if !ok {
		return domain.CartLine{}, errors.Wrapf(domain.ErrNotFound, "cart line %s", id)
	}
	return *l, nil
}

func (s *MemoryStore) UpdateQuantity(_ context.Context, id string, quantity int) (domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lines[id]
	if !ok {
		return domain.CartLine{}, errors.Wrapf(domain.ErrNotFound, "cart line %s", id)
	}
	l.Quantity = quantity
	s.emit(domain.CollectionCarts, domain.ChangeModified, id, l.UserID, *l)
	return *l, nil
}

func (s *MemoryStore) DeleteLine(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lines[id]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "cart line %s", id)
	}
	delete(s.lines, id)
	s.emit(domain.CollectionCarts, domain.ChangeRemoved, id, l.UserID, *l)
	return nil
}

func (s *MemoryStore) ListLines(_ context.Context, userID string) ([]domain.CartLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.CartLine
	for _, l := range s.lines {
		if l.UserID == userID {
			out = append(out, *l)
		}
	}
	slices.SortFunc(out, func(a, b domain.CartLine) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CountLinesForProduct(_ context.Context, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, l := range s.lines {
		if l.ProductID == productID {
			n++
		}
	}
	return n, nil
}

// Orders

func (s *MemoryStore) GetOrder(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, errors.Wrapf(domain.ErrNotFound, "order %s", id)
	}
	return o.Clone(), nil
}

func (s *MemoryStore) ListOrders(_ context.Context, userID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Order
	for _, o := range s.orders {
		if userID == "" || o.UserID == userID {
			out = append(out, o.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdatePaymentStatus(_ context.Context, id string, status domain.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "order %s", id)
	}
	o.PaymentStatus = status
	s.emit(domain.CollectionOrders, domain.ChangeModified, id, o.UserID, o.Clone())
	return nil
}

func (s *MemoryStore) PlaceOrder(_ context.Context, order domain.Order, lines []domain.CartLine, event domain.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate everything before touching anything
	for _, want := range lines {
		got, ok := s.lines[want.ID]
		if !ok || got.Quantity != want.Quantity || got.ProductID != want.ProductID {
			return errors.Wrapf(domain.ErrStaleWrite, "cart line %s changed during checkout", want.ID)
		}
	}
	for _, ol := range order.Lines {
		p, ok := s.products[ol.ProductID]
		if !ok {
			return domain.NewStockError(domain.ErrOutOfStock, ol.ProductID, 0)
		}
		if p.Stock < ol.Quantity {
			return domain.NewStockError(domain.ErrOutOfStock, ol.ProductID, p.Stock)
		}
	}
	if _, exists := s.orders[order.ID]; exists {
		return errors.Wrapf(domain.ErrConflict, "order %s already exists", order.ID)
	}

	now := s.now()
	for _, ol := range order.Lines {
		p := s.products[ol.ProductID]
		p.Stock -= ol.Quantity
		p.Version++
		p.UpdatedAt = now
		s.emit(domain.CollectionProducts, domain.ChangeModified, p.ID, "", p.Clone())
	}
	stored := order.Clone()
	s.orders[order.ID] = &stored
	s.emit(domain.CollectionOrders, domain.ChangeAdded, order.ID, order.UserID, stored.Clone())
	for _, l := range lines {
		removed := *s.lines[l.ID]
		delete(s.lines, l.ID)
		s.emit(domain.CollectionCarts, domain.ChangeRemoved, l.ID, removed.UserID, removed)
	}
	s.outbox = append(s.outbox, &outboxRecord{event: event})
	return nil
}

func (s *MemoryStore) RemoveOrder(_ context.Context, id string, event domain.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "order %s", id)
	}
	delete(s.orders, id)
	s.outbox = append(s.outbox, &outboxRecord{event: event})
	s.emit(domain.CollectionOrders, domain.ChangeRemoved, id, o.UserID, o.Clone())
	return nil
}

// Users

func (s *MemoryStore) GetUser(_ context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return domain.User{}, errors.Wrapf(domain.ErrNotFound, "user %s", id)
	}
	return *u, nil
}

func (s *MemoryStore) EnsureUser(_ context.Context, u domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[u.ID]; ok {
		return *existing, nil
	}
	if u.DisplayName != "" && s.displayNameTaken(u.DisplayName, u.ID) {
		return domain.User{}, errors.Wrapf(domain.ErrDisplayNameTaken, "%q", u.DisplayName)
	}
	stored := u
	s.users[u.ID] = &stored
	return stored, nil
}

func (s *MemoryStore) UpdateProfile(_ context.Context, id string, profile domain.ShippingProfile) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return domain.User{}, errors.Wrapf(domain.ErrNotFound, "user %s", id)
	}
	u.Profile = profile
	return *u, nil
}

func (s *MemoryStore) SetDisplayName(_ context.Context, id, name string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return domain.User{}, errors.Wrapf(domain.ErrNotFound, "user %s", id)
	}
	if s.displayNameTaken(name, id) {
		return domain.User{}, errors.Wrapf(domain.ErrDisplayNameTaken, "%q", name)
	}
	u.DisplayName = name
	return *u, nil
}

func (s *MemoryStore) displayNameTaken(name, exceptID string) bool {
	for _, other := range s.users {
		if other.ID != exceptID && other.DisplayName == name {
			return true
		}
	}
	return false
}

func (s *MemoryStore) SetRole(_ context.Context, id string, role domain.Role) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return domain.User{}, errors.Wrapf(domain.ErrNotFound, "user %s", id)
	}
	u.Role = role
	return *u, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	slices.SortFunc(out, func(a, b domain.User) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// Outbox

func (s *MemoryStore) FetchUnpublished(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.OutboxEvent
	for _, r := range s.outbox {
		if r.published {
			continue
		}
		out = append(out, r.event)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkPublished(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.outbox {
		if slices.Contains(ids, r.event.ID) {
			r.published = true
		}
	}
	return nil
}

func (s *MemoryStore) Close(_ context.Context) error {
	return nil
}
