package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

var ErrSecretNotFound = errors.New("store: secret not found")

// SetSecret creates a secret, or updates the one with the same key and scope.
func (s *Stores) SetSecret(ctx context.Context, sec Secret) (Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sec.Scope == "" {
		sec.Scope = ScopeGlobal
	}
	next := slices.Clone(s.Secrets.Get())
	i := slices.IndexFunc(next, func(old Secret) bool {
		return old.Key == sec.Key && old.Scope == sec.Scope && old.CollectionID == sec.CollectionID
	})
	if i >= 0 {
		sec.ID = next[i].ID
		next[i] = sec
	} else {
		sec.ID = GenNewID()
		next = append(next, sec)
	}
	if err := ValidateSecrets(next); err != nil {
		return Secret{}, err
	}
	return sec, s.Secrets.SetAndFlush(ctx, next)
}

func (s *Stores) DeleteSecret(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.Secrets.Get()
	next := slices.DeleteFunc(slices.Clone(cur), func(sec Secret) bool { return sec.ID == id })
	if len(next) == len(cur) {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, id)
	}
	return s.Secrets.SetAndFlush(ctx, next)
}
