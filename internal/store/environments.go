package store

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// CurrentEnvironment returns the active environment, if any.
func (s *Stores) CurrentEnvironment() (Environment, bool) {
	id := s.CurrentEnvironmentID.Get()
	if id == "" {
		return Environment{}, false
	}
	for _, e := range s.Environments.Get() {
		if e.ID == id {
			return e, true
		}
	}
	return Environment{}, false
}

func (s *Stores) CreateEnvironment(ctx context.Context, name string) (Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := Environment{ID: GenNewID(), Name: name, Variables: map[string]Variable{}}
	next := append(slices.Clone(s.Environments.Get()), e)
	if err := ValidateEnvironments(next); err != nil {
		return Environment{}, err
	}
	return e, s.Environments.SetAndFlush(ctx, next)
}

// RenameEnvironment changes an environment's name.
func (s *Stores) RenameEnvironment(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := mapEnvironment(s.Environments.Get(), id, func(e Environment) Environment {
		e.Name = name
		return e
	})
	if err != nil {
		return err
	}
	if err := ValidateEnvironments(next); err != nil {
		return err
	}
	return s.Environments.SetAndFlush(ctx, next)
}

// DeleteEnvironment removes an environment and clears the selection if it
// was active.
func (s *Stores) DeleteEnvironment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.Environments.Get()
	next := slices.DeleteFunc(slices.Clone(cur), func(e Environment) bool { return e.ID == id })
	if len(next) == len(cur) {
		return fmt.Errorf("%w: %s", ErrEnvironmentNotFound, id)
	}
	if err := s.Environments.SetAndFlush(ctx, next); err != nil {
		return err
	}
	if s.CurrentEnvironmentID.Get() == id {
		return s.CurrentEnvironmentID.SetAndFlush(ctx, "")
	}
	return nil
}

// SelectEnvironment makes id active; "" clears the selection.
func (s *Stores) SelectEnvironment(ctx context.Context, id string) error {
	if id != "" {
		if _, err := mapEnvironment(s.Environments.Get(), id, func(e Environment) Environment { return e }); err != nil {
			return err
		}
	}
	return s.CurrentEnvironmentID.SetAndFlush(ctx, id)
}

// SaveVariable creates or replaces a variable in an environment.
func (s *Stores) SaveVariable(ctx context.Context, environmentID, key string, v Variable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveVariableLocked(ctx, environmentID, key, v)
}

func (s *Stores) saveVariableLocked(ctx context.Context, environmentID, key string, v Variable) error {
	next, err := mapEnvironment(s.Environments.Get(), environmentID, func(e Environment) Environment {
		vars := maps.Clone(e.Variables)
		if vars == nil {
			vars = map[string]Variable{}
		}
		vars[key] = v
		e.Variables = vars
		return e
	})
	if err != nil {
		return err
	}
	if err := ValidateEnvironments(next); err != nil {
		return err
	}
	return s.Environments.SetAndFlush(ctx, next)
}

func (s *Stores) DeleteVariable(ctx context.Context, environmentID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := mapEnvironment(s.Environments.Get(), environmentID, func(e Environment) Environment {
		vars := maps.Clone(e.Variables)
		delete(vars, key)
		e.Variables = vars
		return e
	})
	if err != nil {
		return err
	}
	return s.Environments.SetAndFlush(ctx, next)
}

// SaveVariableToActive stores a plain (non-secret) variable in the active
// environment, e.g. a token captured from a response.
func (s *Stores) SaveVariableToActive(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.CurrentEnvironmentID.Get()
	if id == "" {
		slog.Warn("store: no active environment, variable not saved", "key", key)
		return ErrNoActiveEnvironment
	}
	return s.saveVariableLocked(ctx, id, key, Variable{Value: value})
}

func mapEnvironment(envs []Environment, id string, fn func(Environment) Environment) ([]Environment, error) {
	next := slices.Clone(envs)
	for i := range next {
		if next[i].ID == id {
			next[i] = fn(next[i])
			return next, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrEnvironmentNotFound, id)
}
