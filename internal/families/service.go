// Package families manages households and their members on top of the
// storage facade.
package families

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fairground/go-services/internal/datastore"
	"github.com/fairground/go-services/internal/datastore/service"
)

const (
	familiesCollection = "families"
	membersCollection  = "members"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidName = errors.New("name must not be empty")
	ErrUnavailable = errors.New("storage unavailable")
)

type Family struct {
	ID        string    `doc:"id" json:"id"`
	Name      string    `doc:"name" json:"name"`
	CreatedAt time.Time `doc:"createdAt" json:"createdAt"`
}

type Member struct {
	ID        string    `doc:"id" json:"id"`
	FamilyID  string    `doc:"familyId" json:"familyId"`
	Name      string    `doc:"name" json:"name"`
	Role      string    `doc:"role" json:"role"`
	CreatedAt time.Time `doc:"createdAt" json:"createdAt"`
}

type Service struct {
	store service.Store
}

func NewService(store service.Store) *Service { return &Service{store: store} }

func (s *Service) CreateFamily(ctx context.Context, name string) (*Family, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	d := s.store.Create(ctx, familiesCollection, datastore.Document{"name": name})
	if d == nil {
		return nil, ErrUnavailable
	}
	var f Family
	if err := datastore.Decode(d, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Service) Family(ctx context.Context, id string) (*Family, error) {
	d := s.store.FindByID(ctx, familiesCollection, id)
	if d == nil {
		return nil, ErrNotFound
	}
	var f Family
	if err := datastore.Decode(d, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// AddMember attaches a new member to an existing family.
func (s *Service) AddMember(ctx context.Context, familyID, name, role string) (*Member, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if s.store.FindByID(ctx, familiesCollection, familyID) == nil {
		return nil, ErrNotFound
	}
	d := s.store.Create(ctx, membersCollection, datastore.Document{"familyId": familyID, "name": name, "role": role})
	if d == nil {
		return nil, ErrUnavailable
	}
	var m Member
	if err := datastore.Decode(d, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Members lists a family's members in creation order.
func (s *Service) Members(ctx context.Context, familyID string) ([]Member, error) {
	docs := s.store.Aggregate(ctx, membersCollection, datastore.Pipeline{
		datastore.Match(datastore.Filter{"familyId": familyID}),
		datastore.Sort(datastore.Asc("createdAt"), datastore.Asc("name")),
	})
	out := make([]Member, 0, len(docs))
	for _, d := range docs {
		var m Member
		if err := datastore.Decode(d, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// DeleteFamily removes the family's members first, then the family itself,
// and reports how many members were removed. Retrying after a partial
// failure is safe.
func (s *Service) DeleteFamily(ctx context.Context, familyID string) (int64, error) {
	if s.store.FindByID(ctx, familiesCollection, familyID) == nil {
		return 0, ErrNotFound
	}
	removed := s.store.DeleteMany(ctx, membersCollection, datastore.Filter{"familyId": familyID})
	if !s.store.DeleteOne(ctx, familiesCollection, datastore.Filter{datastore.FieldID: familyID}) {
		return removed, ErrUnavailable
	}
	return removed, nil
}
