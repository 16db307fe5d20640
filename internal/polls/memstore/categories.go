package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/polly-app/backend/internal/categories"
	"github.com/polly-app/backend/internal/models"
	"github.com/polly-app/backend/internal/polls"
)

var _ categories.Store = (*Store)(nil)

// ListCategories returns categories by name with their poll counts.
func (s *Store) ListCategories(_ context.Context) ([]models.CategoryWithCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[uuid.UUID]int)
	for l := range s.links {
		counts[l.categoryID]++
	}
	var list []models.CategoryWithCount
	for _, c := range s.categories {
		list = append(list, models.CategoryWithCount{Category: *c, PollCount: counts[c.ID]})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

// GetCategory returns a category, or ErrCategoryNotFound.
func (s *Store) GetCategory(_ context.Context, id uuid.UUID) (*models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok {
		return nil, polls.ErrCategoryNotFound
	}
	cp := *c
	return &cp, nil
}

// CreateCategory stores c, rejecting duplicate names with ErrNameTaken.
func (s *Store) CreateCategory(_ context.Context, c *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.categories {
		if existing.Name == c.Name {
			return categories.ErrNameTaken
		}
	}
	c.ID = uuid.New()
	c.CreatedAt = time.Now().UTC()
	cp := *c
	s.categories[c.ID] = &cp
	return nil
}

// DeleteCategory removes a category and its poll links.
func (s *Store) DeleteCategory(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[id]; !ok {
		return polls.ErrCategoryNotFound
	}
	delete(s.categories, id)
	for l := range s.links {
		if l.categoryID == id {
			delete(s.links, l)
		}
	}
	return nil
}

// ListByPoll returns the categories linked to a poll.
func (s *Store) ListByPoll(_ context.Context, pollID uuid.UUID) ([]models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []models.Category
	for l := range s.links {
		if l.pollID == pollID {
			list = append(list, *s.categories[l.categoryID])
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

// Attach links a category to a poll.
func (s *Store) Attach(_ context.Context, pollID, categoryID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[pollID]; !ok {
		return polls.ErrPollNotFound
	}
	if _, ok := s.categories[categoryID]; !ok {
		return polls.ErrCategoryNotFound
	}
	s.links[link{pollID: pollID, categoryID: categoryID}] = struct{}{}
	return nil
}

// Detach removes a link; a missing link is a no-op.
func (s *Store) Detach(_ context.Context, pollID, categoryID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, link{pollID: pollID, categoryID: categoryID})
	return nil
}
