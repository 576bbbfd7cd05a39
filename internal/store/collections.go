package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

var (
	ErrCollectionNotFound  = errors.New("store: collection not found")
	ErrRequestNotFound     = errors.New("store: request not found")
	ErrEnvironmentNotFound = errors.New("store: environment not found")
	ErrNoActiveEnvironment = errors.New("store: no active environment")
)

// InitDefaults seeds an empty install with a default collection and a
// Globals environment, selecting both. Existing data is left alone.
func (s *Stores) InitDefaults(ctx context.Context) error {
	if err := s.WaitReady(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.Collections.Get()) == 0 {
		slog.Info("store: no collections found, creating default")
		c := defaultCollection()
		if err := s.Collections.SetAndFlush(ctx, []Collection{c}); err != nil {
			return err
		}
		if err := s.CurrentCollectionID.SetAndFlush(ctx, c.ID); err != nil {
			return err
		}
	}
	if len(s.Environments.Get()) == 0 {
		slog.Info("store: no environments found, creating Globals")
		e := Environment{ID: GenNewID(), Name: GlobalsEnvironment, Variables: map[string]Variable{}}
		if err := s.Environments.SetAndFlush(ctx, []Environment{e}); err != nil {
			return err
		}
		if err := s.CurrentEnvironmentID.SetAndFlush(ctx, e.ID); err != nil {
			return err
		}
	}
	return nil
}

func defaultCollection() Collection {
	return Collection{ID: GenNewID(), Title: DefaultCollectionName, Requests: []Request{}, Headers: []Header{}}
}

// CurrentCollection returns the selected collection, if any.
func (s *Stores) CurrentCollection() (Collection, bool) {
	id := s.CurrentCollectionID.Get()
	if id == "" {
		return Collection{}, false
	}
	return findCollection(s.Collections.Get(), id)
}

// CollectionUpdate carries the fields to change; nil fields are kept.
type CollectionUpdate struct {
	Title   *string
	BaseURL *string
	Headers []Header
}

// CreateCollection appends a collection with a fresh ID. The new state is
// validated before anything is written.
func (s *Stores) CreateCollection(ctx context.Context, title, baseURL string, headers []Header) (Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Collection{ID: GenNewID(), Title: title, BaseURL: baseURL, Requests: []Request{}, Headers: nonNil(headers)}
	next := append(slices.Clone(s.Collections.Get()), c)
	if err := ValidateCollections(next); err != nil {
		return Collection{}, err
	}
	return c, s.Collections.SetAndFlush(ctx, next)
}

func (s *Stores) UpdateCollection(ctx context.Context, id string, upd CollectionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := mapCollection(s.Collections.Get(), id, func(c Collection) Collection {
		if upd.Title != nil {
			c.Title = *upd.Title
		}
		if upd.BaseURL != nil {
			c.BaseURL = *upd.BaseURL
		}
		if upd.Headers != nil {
			c.Headers = upd.Headers
		}
		return c
	})
	if err != nil {
		return err
	}
	if err := ValidateCollections(next); err != nil {
		return err
	}
	return s.Collections.SetAndFlush(ctx, next)
}

// DeleteCollection removes a collection. Removing the last one recreates the
// default collection and selects it; removing the selected one otherwise
// clears the selection.
func (s *Stores) DeleteCollection(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.Collections.Get()
	next := slices.DeleteFunc(slices.Clone(cur), func(c Collection) bool { return c.ID == id })
	if len(next) == len(cur) {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
	}

	if len(next) == 0 {
		def := defaultCollection()
		next = append(next, def)
		s.CurrentCollectionID.Set(def.ID)
	} else if s.CurrentCollectionID.Get() == id {
		s.CurrentCollectionID.Set("")
	}

	if err := s.Collections.SetAndFlush(ctx, next); err != nil {
		return err
	}
	return s.CurrentCollectionID.Flush(ctx)
}

// SelectCollection makes id the current collection; "" clears the selection.
func (s *Stores) SelectCollection(ctx context.Context, id string) error {
	if id != "" {
		if _, ok := findCollection(s.Collections.Get(), id); !ok {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
		}
	}
	return s.CurrentCollectionID.SetAndFlush(ctx, id)
}

// CreateRequest adds a request with a fresh ID to a collection.
func (s *Stores) CreateRequest(ctx context.Context, collectionID string, nr NewRequest) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := nr.withID(GenNewID())
	next, err := mapCollection(s.Collections.Get(), collectionID, func(c Collection) Collection {
		c.Requests = append(slices.Clone(c.Requests), r)
		return c
	})
	if err != nil {
		return Request{}, err
	}
	if err := ValidateCollections(next); err != nil {
		return Request{}, err
	}
	return r, s.Collections.SetAndFlush(ctx, next)
}

// UpdateRequest replaces a request's fields with nr, keeping its ID.
func (s *Stores) UpdateRequest(ctx context.Context, collectionID, requestID string, nr NewRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	next, err := mapCollection(s.Collections.Get(), collectionID, func(c Collection) Collection {
		reqs := slices.Clone(c.Requests)
		for i := range reqs {
			if reqs[i].ID == requestID {
				reqs[i] = nr.withID(requestID)
				found = true
			}
		}
		c.Requests = reqs
		return c
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	if err := ValidateCollections(next); err != nil {
		return err
	}
	return s.Collections.SetAndFlush(ctx, next)
}

func (s *Stores) DeleteRequest(ctx context.Context, collectionID, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	next, err := mapCollection(s.Collections.Get(), collectionID, func(c Collection) Collection {
		n := len(c.Requests)
		c.Requests = slices.DeleteFunc(slices.Clone(c.Requests), func(r Request) bool { return r.ID == requestID })
		found = len(c.Requests) != n
		return c
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	return s.Collections.SetAndFlush(ctx, next)
}

// FindRequest locates a request in any collection.
func (s *Stores) FindRequest(requestID string) (Collection, Request, bool) {
	for _, c := range s.Collections.Get() {
		for _, r := range c.Requests {
			if r.ID == requestID {
				return c, r, true
			}
		}
	}
	return Collection{}, Request{}, false
}

func findCollection(cs []Collection, id string) (Collection, bool) {
	for _, c := range cs {
		if c.ID == id {
			return c, true
		}
	}
	return Collection{}, false
}

// mapCollection returns a copy of cs with fn applied to collection id.
func mapCollection(cs []Collection, id string, fn func(Collection) Collection) ([]Collection, error) {
	next := slices.Clone(cs)
	for i := range next {
		if next[i].ID == id {
			next[i] = fn(next[i])
			return next, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
}
