// Package memstore is an in-memory polls and categories store. A single
// mutex makes every write atomic, matching the transactional guarantees of
// the PostgreSQL repository.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polly-app/backend/internal/models"
	"github.com/polly-app/backend/internal/polls"
)

type link struct {
	pollID     uuid.UUID
	categoryID uuid.UUID
}

// Store keeps polls, options, votes and categories in memory.
type Store struct {
	mu         sync.RWMutex
	polls      map[uuid.UUID]*models.Poll
	options    map[uuid.UUID]*models.PollOption
	votes      map[uuid.UUID]*models.Vote
	voteOrder  []uuid.UUID
	categories map[uuid.UUID]*models.Category
	links      map[link]struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		polls:      make(map[uuid.UUID]*models.Poll),
		options:    make(map[uuid.UUID]*models.PollOption),
		votes:      make(map[uuid.UUID]*models.Vote),
		categories: make(map[uuid.UUID]*models.Category),
		links:      make(map[link]struct{}),
	}
}

var _ polls.Store = (*Store)(nil)
var _ polls.CategoryLinker = (*Store)(nil)

// GetPoll returns a copy of the poll without options.
func (s *Store) GetPoll(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.polls[id]
	if !ok {
		return nil, polls.ErrPollNotFound
	}
	cp := *p
	cp.Options = nil
	return &cp, nil
}

// GetOption returns an option of pollID, or ErrOptionNotFound.
func (s *Store) GetOption(_ context.Context, pollID, optionID uuid.UUID) (*models.PollOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.options[optionID]
	if !ok || o.PollID != pollID {
		return nil, polls.ErrOptionNotFound
	}
	cp := *o
	return &cp, nil
}

// ListOptions returns the poll's options by order_index.
func (s *Store) ListOptions(_ context.Context, pollID uuid.UUID) ([]models.PollOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.optionsOf(pollID), nil
}

func (s *Store) optionsOf(pollID uuid.UUID) []models.PollOption {
	var list []models.PollOption
	for _, o := range s.options {
		if o.PollID == pollID {
			list = append(list, *o)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].OrderIndex < list[j].OrderIndex })
	return list
}

// FindActiveVote returns the user's active vote on the poll, or nil.
func (s *Store) FindActiveVote(_ context.Context, pollID, userID uuid.UUID) (*models.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.voteOrder) - 1; i >= 0; i-- {
		v := s.votes[s.voteOrder[i]]
		if v.PollID == pollID && v.UserID != nil && *v.UserID == userID && v.Status == models.VoteStatusActive {
			cp := *v
			return &cp, nil
		}
	}
	return nil, nil
}

// GetVote returns a vote in any status.
func (s *Store) GetVote(_ context.Context, id uuid.UUID) (*models.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.votes[id]
	if !ok {
		return nil, polls.ErrVoteNotFound
	}
	cp := *v
	return &cp, nil
}

// InsertVoteAndIncrement stores v and bumps both counters under the write lock.
func (s *Store) InsertVoteAndIncrement(_ context.Context, v *models.Vote, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[v.PollID]
	if !ok {
		return polls.ErrPollNotFound
	}
	if p.Status != models.PollStatusActive {
		return polls.ErrPollInactive
	}
	if p.Expired(now) {
		return polls.ErrPollExpired
	}
	o, ok := s.options[v.OptionID]
	if !ok || o.PollID != v.PollID {
		return polls.ErrOptionNotFound
	}
	if v.Exclusive && v.UserID != nil {
		for _, existing := range s.votes {
			if existing.PollID == v.PollID && existing.Exclusive && existing.Status == models.VoteStatusActive &&
				existing.UserID != nil && *existing.UserID == *v.UserID {
				return polls.ErrDuplicateVote
			}
		}
	}
	v.Status = models.VoteStatusActive
	v.CreatedAt, v.UpdatedAt = now, now
	cp := *v
	s.votes[v.ID] = &cp
	s.voteOrder = append(s.voteOrder, v.ID)
	o.VoteCount++
	o.UpdatedAt = now
	p.TotalVotes++
	p.UpdatedAt = now
	return nil
}

// RetractVoteAndDecrement deletes an active vote and decrements both counters.
func (s *Store) RetractVoteAndDecrement(_ context.Context, voteID uuid.UUID, now time.Time) (*models.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.votes[voteID]
	if !ok {
		return nil, polls.ErrVoteNotFound
	}
	p, ok := s.polls[v.PollID]
	if !ok {
		return nil, polls.ErrPollNotFound
	}
	if p.Status != models.PollStatusActive {
		return nil, polls.ErrPollInactive
	}
	if p.Expired(now) {
		return nil, polls.ErrPollExpired
	}
	if v.Status != models.VoteStatusActive {
		return nil, polls.ErrVoteRetracted
	}
	v.Status = models.VoteStatusDeleted
	v.UpdatedAt = now
	if o, ok := s.options[v.OptionID]; ok && o.VoteCount > 0 {
		o.VoteCount--
		o.UpdatedAt = now
	}
	if p.TotalVotes > 0 {
		p.TotalVotes--
		p.UpdatedAt = now
	}
	cp := *v
	return &cp, nil
}

// CreatePollWithOptions stores the poll, its options and its category links.
// Unknown categories are rejected before anything is written.
func (s *Store) CreatePollWithOptions(_ context.Context, p *models.Poll, options []string, categoryIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cid := range categoryIDs {
		if _, ok := s.categories[cid]; !ok {
			return polls.ErrCategoryNotFound
		}
	}
	opts := make([]models.PollOption, len(options))
	for i, text := range options {
		opts[i] = models.PollOption{
			ID:         uuid.New(),
			PollID:     p.ID,
			Text:       text,
			OrderIndex: i,
			CreatedAt:  p.CreatedAt,
			UpdatedAt:  p.CreatedAt,
		}
		o := opts[i]
		s.options[o.ID] = &o
	}
	p.TotalVotes = 0
	cp := *p
	cp.Options = nil
	s.polls[p.ID] = &cp
	for _, cid := range categoryIDs {
		s.links[link{pollID: p.ID, categoryID: cid}] = struct{}{}
	}
	p.Options = opts
	return nil
}

// UpdatePoll writes the editable fields of a poll that is not closed.
func (s *Store) UpdatePoll(_ context.Context, p *models.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.polls[p.ID]
	if !ok {
		return polls.ErrPollNotFound
	}
	if cur.Status == models.PollStatusClosed {
		return polls.ErrPollInactive
	}
	cur.Title = p.Title
	cur.Description = p.Description
	cur.ExpiresAt = p.ExpiresAt
	cur.UpdatedAt = p.UpdatedAt
	return nil
}

// DeletePoll removes the poll with its options, votes and links.
func (s *Store) DeletePoll(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[id]; !ok {
		return polls.ErrPollNotFound
	}
	delete(s.polls, id)
	for oid, o := range s.options {
		if o.PollID == id {
			delete(s.options, oid)
		}
	}
	order := s.voteOrder[:0]
	for _, vid := range s.voteOrder {
		if s.votes[vid].PollID == id {
			delete(s.votes, vid)
			continue
		}
		order = append(order, vid)
	}
	s.voteOrder = order
	for l := range s.links {
		if l.pollID == id {
			delete(s.links, l)
		}
	}
	return nil
}

// SetStatus moves the poll to to when its status is one of from.
func (s *Store) SetStatus(_ context.Context, id uuid.UUID, to models.PollStatus, now time.Time, from ...models.PollStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[id]
	if !ok {
		return false, polls.ErrPollNotFound
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			p.UpdatedAt = now
			return true, nil
		}
	}
	return false, nil
}

// CloseExpired closes active polls expired at now.
func (s *Store) CloseExpired(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, p := range s.polls {
		if p.Status == models.PollStatusActive && p.Expired(now) {
			p.Status = models.PollStatusClosed
			p.UpdatedAt = now
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// SetSnapshotKey records the archive key of the poll's results.
func (s *Store) SetSnapshotKey(_ context.Context, pollID uuid.UUID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[pollID]
	if !ok {
		return polls.ErrPollNotFound
	}
	p.SnapshotKey = &key
	return nil
}

// ListPolls returns polls matching f, newest first.
func (s *Store) ListPolls(_ context.Context, f polls.ListFilter) ([]models.Poll, error) {
	f = f.Normalize()
	q := strings.ToLower(strings.TrimSpace(f.Query))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []models.Poll
	for _, p := range s.polls {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.CreatedBy != nil && p.CreatedBy != *f.CreatedBy {
			continue
		}
		if f.CategoryID != nil {
			if _, ok := s.links[link{pollID: p.ID, categoryID: *f.CategoryID}]; !ok {
				continue
			}
		}
		if q != "" && !matches(p, q) {
			continue
		}
		cp := *p
		cp.Options = s.optionsOf(p.ID)
		list = append(list, cp)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID.String() > list[j].ID.String()
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if f.Offset >= len(list) {
		return nil, nil
	}
	list = list[f.Offset:]
	if len(list) > f.Limit {
		list = list[:f.Limit]
	}
	return list, nil
}

func matches(p *models.Poll, q string) bool {
	if strings.Contains(strings.ToLower(p.Title), q) {
		return true
	}
	return p.Description != nil && strings.Contains(strings.ToLower(*p.Description), q)
}

// ListVotesByPoll returns the poll's active votes, newest first.
func (s *Store) ListVotesByPoll(_ context.Context, pollID uuid.UUID) ([]models.Vote, error) {
	return s.activeVotes(func(v *models.Vote) bool { return v.PollID == pollID }), nil
}

// ListVotesByUser returns the user's active votes, newest first.
func (s *Store) ListVotesByUser(_ context.Context, userID uuid.UUID) ([]models.Vote, error) {
	return s.activeVotes(func(v *models.Vote) bool { return v.UserID != nil && *v.UserID == userID }), nil
}

func (s *Store) activeVotes(keep func(*models.Vote) bool) []models.Vote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []models.Vote
	for i := len(s.voteOrder) - 1; i >= 0; i-- {
		v := s.votes[s.voteOrder[i]]
		if v.Status == models.VoteStatusActive && keep(v) {
			list = append(list, *v)
		}
	}
	return list
}
