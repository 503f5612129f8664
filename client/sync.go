package client

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"pawboard-api/domain"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultToastTTL     = 6 * time.Second

	// Incremental responses carry no removal record, so a visit that
	// leaves the active board (checkout) lingers locally until the next
	// full fetch. Forcing a full reload every N polls bounds that window.
	defaultFullReloadEvery = 10
)

// ErrReadonlyBoard is returned when a mutation is attempted against a
// board the server marked read-only (public or display views).
var ErrReadonlyBoard = errors.New("board is read-only")

// SyncerOption tweaks a Syncer.
type SyncerOption func(*Syncer)

// WithPollInterval overrides the background poll interval.
func WithPollInterval(d time.Duration) SyncerOption {
	return func(s *Syncer) { s.interval = d }
}

// WithToastTTL overrides how long error toasts stay up.
func WithToastTTL(d time.Duration) SyncerOption {
	return func(s *Syncer) { s.toastTTL = d }
}

// WithFullReloadEvery overrides how many incremental polls may run
// before the next poll is promoted to a full reload.
func WithFullReloadEvery(n int) SyncerOption {
	return func(s *Syncer) { s.fullEvery = n }
}

// Syncer drives the polling loop that keeps the local board fresh and
// funnels user mutations through the pending-move guard. A Syncer owns
// one background timer; at most one poll is scheduled at a time, and
// every load reschedules the next one on the way out.
type Syncer struct {
	api     *Client
	store   *Store
	pending *PendingMoveSet
	logger  *log.Logger

	interval  time.Duration
	toastTTL  time.Duration
	fullEvery int
	now       func() time.Time

	mu             sync.Mutex
	timer          *time.Timer
	stopped        bool
	toastSeq       int
	pollsSinceFull int
}

func NewSyncer(api *Client, store *Store, logger *log.Logger, opts ...SyncerOption) *Syncer {
	if logger == nil {
		panic("client: nil logger")
	}
	s := &Syncer{
		api:      api,
		store:    store,
		pending:   NewPendingMoveSet(),
		logger:    logger,
		interval:  defaultPollInterval,
		toastTTL:  defaultToastTTL,
		fullEvery: defaultFullReloadEvery,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start performs an initial full load and begins the background poll.
func (s *Syncer) Start(ctx context.Context) error {
	return s.LoadBoard(ctx, true)
}

// Stop cancels the background poll. In-flight requests finish on their
// own; they will not reschedule.
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Pending reports whether a move for the visit is in flight, for
// rendering the card as busy.
func (s *Syncer) Pending(visitID string) bool {
	return s.pending.Has(visitID)
}

// LoadBoard fetches the board and merges it into the store. When the
// store already holds a board and forceFull is false, it asks only for
// visits modified since the last known update and reconciles them with
// ApplyPatch; otherwise it replaces the board wholesale. A failed load
// leaves the stale board in place and raises a toast. The next poll is
// scheduled regardless of the outcome.
func (s *Syncer) LoadBoard(ctx context.Context, forceFull bool) error {
	defer s.scheduleNext()

	st := s.store.State()
	s.mu.Lock()
	if s.fullEvery > 0 && s.pollsSinceFull >= s.fullEvery {
		forceFull = true
	}
	s.mu.Unlock()

	var modifiedAfter time.Time
	if !forceFull && st.HasBoard && !st.Board.LastUpdated.IsZero() {
		modifiedAfter = st.Board.LastUpdated
	}

	board, err := s.api.FetchBoard(ctx, modifiedAfter)
	if err != nil {
		s.logger.WithError(err).Warn("board load failed; keeping stale board")
		s.pushToast("Couldn't refresh the board. Showing the last loaded state.")
		return err
	}

	fetchedAt := s.now()
	s.mu.Lock()
	if modifiedAfter.IsZero() {
		s.pollsSinceFull = 0
	} else {
		s.pollsSinceFull++
	}
	s.mu.Unlock()
	if modifiedAfter.IsZero() {
		s.store.Dispatch(boardReplaced{board: board, fetchedAt: fetchedAt})
	} else {
		s.store.Dispatch(boardPatched{patch: board, fetchedAt: fetchedAt})
	}
	return nil
}

// Refresh forces a full reload, bypassing the incremental path.
func (s *Syncer) Refresh(ctx context.Context) error {
	return s.LoadBoard(ctx, true)
}

// Move requests a stage transition for the visit. A read-only board is
// refused outright. While a move for the same visit is in flight,
// further calls are silent no-ops: the card is already on its way and a
// double-tap must not issue a second request. On success the board is
// reloaded in full so the authoritative stage, timer, and status land
// at once.
func (s *Syncer) Move(ctx context.Context, visitID, toStage, comment string) error {
	if s.readonly() {
		return ErrReadonlyBoard
	}
	if !s.pending.Add(visitID) {
		return nil
	}
	defer s.pending.Remove(visitID)

	res, err := s.api.Move(ctx, visitID, toStage, comment)
	if err != nil {
		s.pushToast(moveErrorMessage(err))
		return err
	}
	if res.Pending {
		// Another session holds the move; the poll will pick up the result.
		return nil
	}
	return s.LoadBoard(ctx, true)
}

// Checkout completes the visit and reloads the board. Like Move it is
// refused on a read-only board.
func (s *Syncer) Checkout(ctx context.Context, visitID, comment string) error {
	if s.readonly() {
		return ErrReadonlyBoard
	}
	if !s.pending.Add(visitID) {
		return nil
	}
	defer s.pending.Remove(visitID)

	if _, err := s.api.Checkout(ctx, visitID, comment); err != nil {
		s.pushToast(moveErrorMessage(err))
		return err
	}
	return s.LoadBoard(ctx, true)
}

// CheckIn creates a visit and reloads the board.
func (s *Syncer) CheckIn(ctx context.Context, visit domain.Visit) (domain.Visit, error) {
	created, err := s.api.CheckIn(ctx, visit)
	if err != nil {
		s.pushToast(moveErrorMessage(err))
		return domain.Visit{}, err
	}
	if err := s.LoadBoard(ctx, true); err != nil {
		return created, err
	}
	return created, nil
}

func (s *Syncer) readonly() bool {
	st := s.store.State()
	return st.HasBoard && st.Board.Readonly
}

func (s *Syncer) scheduleNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.interval, func() {
		if err := s.LoadBoard(context.Background(), false); err != nil {
			s.logger.WithError(err).Debug("background poll failed")
		}
	})
}

func (s *Syncer) pushToast(message string) {
	s.mu.Lock()
	s.toastSeq++
	id := s.toastSeq
	s.mu.Unlock()

	s.store.Dispatch(toastPushed{toast: Toast{ID: id, Message: message, ShownAt: s.now()}})
	time.AfterFunc(s.toastTTL, func() {
		s.store.Dispatch(toastDismissed{id: id})
	})
}

func moveErrorMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return "Something went wrong. Please try again."
}
