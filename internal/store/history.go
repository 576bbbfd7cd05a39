package store

import (
	"context"
	"slices"
	"time"
)

// AddHistory records a request/response pair at the top of the history,
// keeping at most MaxHistory entries. It is a no-op while history is
// disabled. The write is debounced; history is not critical data.
func (s *Stores) AddHistory(req NewRequest, resp Response, sourceRequestID string) (HistoryEntry, bool) {
	if !s.HistoryEnabled.Get() {
		return HistoryEntry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := HistoryEntry{
		ID:                  GenNewID(),
		CreatedAt:           time.Now().UTC(),
		RequestSnapshot:     req,
		SourceRequestID:     sourceRequestID,
		Response:            resp,
		ActiveEnvironmentID: s.CurrentEnvironmentID.Get(),
	}
	entry.RequestSnapshot.Headers = nonNil(entry.RequestSnapshot.Headers)

	cur := s.History.Get()
	next := make([]HistoryEntry, 0, min(len(cur)+1, MaxHistory))
	next = append(next, entry)
	next = append(next, cur[:min(len(cur), MaxHistory-1)]...)
	s.History.Set(next)
	return entry, true
}

func (s *Stores) DeleteHistory(ctx context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.DeleteFunc(slices.Clone(s.History.Get()), func(h HistoryEntry) bool { return h.ID == entryID })
	return s.History.SetAndFlush(ctx, next)
}

func (s *Stores) ClearHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.History.SetAndFlush(ctx, []HistoryEntry{})
}

// SetHistoryEnabled toggles recording. Existing entries are kept.
func (s *Stores) SetHistoryEnabled(ctx context.Context, enabled bool) error {
	return s.HistoryEnabled.SetAndFlush(ctx, enabled)
}
