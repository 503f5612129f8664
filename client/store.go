package client

import (
	"sync"
	"time"

	"pawboard-api/domain"
)

// Toast is a transient error banner shown over the board.
type Toast struct {
	ID      int
	Message string
	ShownAt time.Time
}

// State is the full client-side state snapshot handed to subscribers.
// The board is kept stale-but-available: a failed refresh never clears
// an already loaded board.
type State struct {
	Board         domain.Board
	HasBoard      bool
	LastFetchedAt time.Time
	Toasts        []Toast
}

// Action is a state transition understood by the store. The set of
// implementations is closed; reduce handles every one of them.
type Action interface{ isAction() }

type boardReplaced struct {
	board     domain.Board
	fetchedAt time.Time
}

type boardPatched struct {
	patch     domain.Board
	fetchedAt time.Time
}

type toastPushed struct{ toast Toast }

type toastDismissed struct{ id int }

func (boardReplaced) isAction()  {}
func (boardPatched) isAction()   {}
func (toastPushed) isAction()    {}
func (toastDismissed) isAction() {}

// Store holds the client state and applies actions one at a time.
// Dispatch is synchronous: subscribers have seen the new state by the
// time it returns.
type Store struct {
	mu    sync.Mutex
	state State
	subs  []func(State)
}

func NewStore() *Store {
	return &Store{}
}

// Subscribe registers a listener invoked after every dispatch. The
// listener runs with the store lock held and must not dispatch.
func (s *Store) Subscribe(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// State returns a snapshot of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch reduces the action into the state and notifies subscribers.
func (s *Store) Dispatch(a Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = reduce(s.state, a)
	for _, fn := range s.subs {
		fn(s.state)
	}
}

func reduce(st State, a Action) State {
	switch act := a.(type) {
	case boardReplaced:
		st.Board = act.board
		st.HasBoard = true
		st.LastFetchedAt = act.fetchedAt
		st.Toasts = nil
	case boardPatched:
		st.Board = domain.ApplyPatch(st.Board, act.patch)
		st.HasBoard = true
		st.LastFetchedAt = act.fetchedAt
		st.Toasts = nil
	case toastPushed:
		st.Toasts = append(append([]Toast(nil), st.Toasts...), act.toast)
	case toastDismissed:
		kept := make([]Toast, 0, len(st.Toasts))
		for _, t := range st.Toasts {
			if t.ID != act.id {
				kept = append(kept, t)
			}
		}
		st.Toasts = kept
	}
	return st
}

// PendingMoveSet tracks visits with an in-flight move request so a
// double-tap on a card issues at most one network call.
type PendingMoveSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewPendingMoveSet() *PendingMoveSet {
	return &PendingMoveSet{ids: map[string]struct{}{}}
}

// Add marks the visit pending. It returns false when a move for the
// same visit is already in flight.
func (p *PendingMoveSet) Add(visitID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.ids[visitID]; ok {
		return false
	}
	p.ids[visitID] = struct{}{}
	return true
}

// Remove clears the pending mark.
func (p *PendingMoveSet) Remove(visitID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ids, visitID)
}

// Has reports whether a move for the visit is in flight.
func (p *PendingMoveSet) Has(visitID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.ids[visitID]
	return ok
}
