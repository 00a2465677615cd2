// Package usecasetest provides in-memory collaborators for engine tests.
package usecasetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zapp/backend/internal/core/ports"
	"github.com/zapp/backend/internal/entities"
	"github.com/zapp/backend/internal/usecases"
)

var (
	_ usecases.OrdersRepository       = (*Store)(nil)
	_ usecases.BatchesRepository      = (*Store)(nil)
	_ usecases.FacilitatorsRepository = (*Store)(nil)
	_ ports.FacilitatorDirectory      = (*Store)(nil)
)

// Store keeps orders, batches and facilitators in memory with the same conditional write
// and group transaction semantics as the Postgres repositories.
type Store struct {
	mu           sync.Mutex
	now          func() time.Time
	orders       map[string]*entities.Order
	batches      map[string]*entities.Batch
	facilitators map[string]*entities.Facilitator

	// GroupWriteErr, when set, makes UpdateGroup fail after the mutation ran, as a
	// failed commit would.
	GroupWriteErr error
}

func NewStore(now func() time.Time) *Store {
	return &Store{
		now:          now,
		orders:       make(map[string]*entities.Order),
		batches:      make(map[string]*entities.Batch),
		facilitators: make(map[string]*entities.Facilitator),
	}
}

// Order returns a copy of the stored order, or nil.
func (s *Store) Order(id string) *entities.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		return o.Clone()
	}
	return nil
}

// Batch returns a copy of the stored batch, or nil.
func (s *Store) Batch(id string) *entities.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batches[id]; ok {
		return b.Clone()
	}
	return nil
}

// Put overwrites an order as is.
func (s *Store) Put(o *entities.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o.Clone()
}

func (s *Store) InsertOrder(_ context.Context, order *entities.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertOrderLocked(order)
}

func (s *Store) insertOrderLocked(order *entities.Order) error {
	if _, ok := s.orders[order.ID]; ok {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	order.Version = 1
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *Store) FindOrder(_ context.Context, orderID string) (*entities.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entities.ErrOrderNotFound, orderID)
	}
	return o.Clone(), nil
}

func (s *Store) FindOrdersByIDs(_ context.Context, orderIDs []string) ([]entities.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entities.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		if o, ok := s.orders[id]; ok {
			out = append(out, *o.Clone())
		}
	}
	return out, nil
}

func (s *Store) FindUserOrders(_ context.Context, userWalletAddress string) ([]entities.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entities.Order
	for _, o := range s.orders {
		if o.UserWalletAddress == userWalletAddress {
			out = append(out, *o.Clone())
		}
	}
	sortOrders(out, true)
	return out, nil
}

func (s *Store) FindOrders(_ context.Context, filter entities.OrderFilter) ([]entities.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []entities.Order{}
	for _, o := range s.orders {
		if matches(o, filter) {
			out = append(out, *o.Clone())
		}
	}
	sortOrders(out, filter.NewestFirst)
	if filter.Limit > 0 && uint64(len(out)) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CompareAndSwapOrder(_ context.Context, order *entities.Order, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.orders[order.ID]
	if !ok {
		return false, fmt.Errorf("%w: %s", entities.ErrOrderNotFound, order.ID)
	}
	if stored.Version != expectedVersion {
		return false, nil
	}
	order.Version = expectedVersion + 1
	s.orders[order.ID] = order.Clone()
	return true, nil
}

func (s *Store) InsertBatch(_ context.Context, batch *entities.Batch, orders []entities.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batch.ID]; ok {
		return fmt.Errorf("batch %s already exists", batch.ID)
	}
	for i := range orders {
		if _, ok := s.orders[orders[i].ID]; ok {
			return fmt.Errorf("order %s already exists", orders[i].ID)
		}
	}
	for i := range orders {
		if err := s.insertOrderLocked(&orders[i]); err != nil {
			return err
		}
	}
	s.batches[batch.ID] = batch.Clone()
	return nil
}

func (s *Store) FindBatch(_ context.Context, batchID string) (*entities.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entities.ErrBatchNotFound, batchID)
	}
	return b.Clone(), nil
}

func (s *Store) FindBatchByGroup(_ context.Context, groupID string) (*entities.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batchByGroupLocked(groupID)
	if b == nil {
		return nil, fmt.Errorf("%w: %s", entities.ErrGroupNotFound, groupID)
	}
	return b.Clone(), nil
}

func (s *Store) batchByGroupLocked(groupID string) *entities.Batch {
	for _, b := range s.batches {
		if b.Group(groupID) != nil {
			return b
		}
	}
	return nil
}

// UpdateGroup holds the store lock for the whole mutation, which stands in for the row
// locks taken by the Postgres implementation.
func (s *Store) UpdateGroup(_ context.Context, groupID string, fn usecases.GroupMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.batchByGroupLocked(groupID)
	if stored == nil {
		return fmt.Errorf("%w: %s", entities.ErrGroupNotFound, groupID)
	}
	batch := stored.Clone()
	group := batch.Group(groupID)

	members := make([]entities.Order, 0, len(group.OrderIDs))
	for _, id := range group.OrderIDs {
		o, ok := s.orders[id]
		if !ok {
			return fmt.Errorf("%w: member %s of group %s", entities.ErrOrderNotFound, id, groupID)
		}
		members = append(members, *o.Clone())
	}

	if err := fn(batch, members); err != nil {
		if errors.Is(err, ports.ErrNoChanges) {
			return nil
		}
		return err
	}
	if s.GroupWriteErr != nil {
		return s.GroupWriteErr
	}

	for i := range members {
		members[i].Version++
		s.orders[members[i].ID] = members[i].Clone()
	}
	s.batches[batch.ID] = batch.Clone()
	return nil
}

func (s *Store) FindExpiredGroupIDs(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type candidate struct {
		id        string
		expiresAt time.Time
	}
	seen := make(map[string]struct{})
	var found []candidate
	for _, o := range s.orders {
		if o.Status != entities.OrderPending || o.Grouping == nil || o.Grouping.ExpiresAt.After(now) {
			continue
		}
		if _, ok := seen[o.Grouping.GroupID]; ok {
			continue
		}
		seen[o.Grouping.GroupID] = struct{}{}
		found = append(found, candidate{id: o.Grouping.GroupID, expiresAt: o.Grouping.ExpiresAt})
	}
	sort.Slice(found, func(i, j int) bool {
		if !found[i].expiresAt.Equal(found[j].expiresAt) {
			return found[i].expiresAt.Before(found[j].expiresAt)
		}
		return found[i].id < found[j].id
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	ids := make([]string, len(found))
	for i, c := range found {
		ids[i] = c.id
	}
	return ids, nil
}

func (s *Store) FindPendingGroups(_ context.Context, merchantID string, now time.Time) ([]entities.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entities.Batch
	for _, b := range s.batches {
		for _, g := range b.MerchantGroups {
			if g.MerchantID == merchantID && g.Status == entities.GroupPending && now.Before(g.ExpiresAt) {
				out = append(out, *b.Clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpsertFacilitator(_ context.Context, f *entities.Facilitator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.facilitators[f.MerchantID]; ok {
		f.CreatedAt = existing.CreatedAt
	} else if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}
	c := *f
	c.EnabledRails = append([]entities.PaymentRail(nil), f.EnabledRails...)
	s.facilitators[f.MerchantID] = &c
	return nil
}

func (s *Store) FindCovering(_ context.Context, rails []entities.PaymentRail) ([]entities.Facilitator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entities.Facilitator
	for _, f := range s.facilitators {
		if f.Active && f.Covers(rails) {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].MerchantID < out[j].MerchantID
	})
	return out, nil
}

func (s *Store) GetFacilitator(_ context.Context, merchantID string) (*entities.Facilitator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facilitators[merchantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entities.ErrFacilitatorNotFound, merchantID)
	}
	c := *f
	return &c, nil
}

func matches(o *entities.Order, filter entities.OrderFilter) bool {
	if len(filter.Statuses) > 0 && !contains(filter.Statuses, o.Status) {
		return false
	}
	if len(filter.Rails) > 0 && !contains(filter.Rails, o.PaymentRail) {
		return false
	}
	if filter.MerchantID != "" && o.BoundMerchantID() != filter.MerchantID {
		return false
	}
	if filter.UngroupedAt != nil && o.Grouping.ActiveAt(*filter.UngroupedAt) {
		return false
	}
	return true
}

func contains[T comparable](values []T, v T) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func sortOrders(orders []entities.Order, newestFirst bool) {
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if newestFirst {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
