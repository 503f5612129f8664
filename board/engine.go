// Package board implements the stage transition engine: validated moves
// between workflow stages, checkout, audit history and stage-change events.
package board

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"pawboard-api/domain"
)

var (
	ErrUnknownStage      = errors.New("unknown stage")
	ErrSameStage         = errors.New("visit already in that stage")
	ErrVisitInactive     = errors.New("visit is not on the active board")
	ErrAlreadyCheckedOut = errors.New("visit already checked out")
	ErrAtEdge            = errors.New("no neighbouring stage in that direction")
	ErrNotOnBoard        = errors.New("visit not on board")
)

// Direction selects the neighbouring stage for a quick move.
type Direction string

const (
	DirPrev Direction = "prev"
	DirNext Direction = "next"
)

// Store is the persistence surface the engine mutates through.
type Store interface {
	FetchStages(ctx context.Context) ([]domain.Stage, error)
	FetchVisit(ctx context.Context, id string) (domain.Visit, error)
	UpdateVisit(ctx context.Context, visit domain.Visit) error
	ApplyMove(ctx context.Context, visit domain.Visit, entry domain.HistoryEntry) error
	ApplyCheckout(ctx context.Context, visit domain.Visit, entry domain.HistoryEntry) error
	ApplyCheckIn(ctx context.Context, visit domain.Visit, entry domain.HistoryEntry) error
}

// Events receives stage-changed events for downstream consumers. Event
// delivery failures never fail the move that produced them.
type Events interface {
	StageChanged(ctx context.Context, ev domain.StageChangedEvent) error
}

// Engine applies stage transitions. Capacity limits are advisory: a move
// into a column already at or over its limits is accepted, the limits
// only drive the capacity hint on the column header.
type Engine struct {
	store  Store
	events Events
	logger *log.Logger

	// readyStageKey marks the stage whose arrivals flip a visit's status
	// to ready-for-pickup.
	readyStageKey string

	now    func() time.Time
	nextID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithReadyStage overrides the stage key that marks visits ready.
func WithReadyStage(key string) Option {
	return func(e *Engine) { e.readyStageKey = key }
}

// WithClock overrides the engine clock, used in tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a transition engine over the given store and event sink.
func NewEngine(store Store, events Events, logger *log.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		events:        events,
		logger:        logger,
		readyStageKey: "ready",
		now:           time.Now,
		nextID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Move transitions a visit into toStage. On success the visit's stage
// timer is reset, a history row is appended and a stage-changed event is
// fired. The returned visit reflects the applied state.
func (e *Engine) Move(ctx context.Context, visitID, toStage, comment, actor string) (domain.Visit, error) {
	stages, err := e.store.FetchStages(ctx)
	if err != nil {
		return domain.Visit{}, err
	}
	if !stageExists(stages, toStage) {
		return domain.Visit{}, ErrUnknownStage
	}

	visit, err := e.store.FetchVisit(ctx, visitID)
	if err != nil {
		return domain.Visit{}, err
	}
	if !visit.Active() {
		return domain.Visit{}, ErrVisitInactive
	}
	if visit.CurrentStage == toStage {
		return domain.Visit{}, ErrSameStage
	}

	now := e.now()
	elapsed := visit.ElapsedSeconds(now)
	entry := domain.HistoryEntry{
		VisitID:        visit.ID,
		FromStage:      visit.CurrentStage,
		ToStage:        toStage,
		Comment:        comment,
		ChangedBy:      actor,
		ChangedAt:      now,
		ElapsedSeconds: elapsed,
	}

	fromStage := visit.CurrentStage
	visit.CurrentStage = toStage
	visit.TimerStartedAt = now
	visit.TimerElapsedSeconds = 0
	visit.UpdatedAt = now
	if toStage == e.readyStageKey {
		visit.Status = domain.StatusReady
	} else {
		visit.Status = domain.StatusInProgress
	}

	if err := e.store.ApplyMove(ctx, visit, entry); err != nil {
		return domain.Visit{}, err
	}

	e.fireStageChanged(ctx, domain.VisitStageChanged, visit, fromStage, toStage, comment, actor, elapsed, now)
	return visit, nil
}

// CheckIn puts a new visit onto the board in the first stage (or the
// stage named on the visit, if any) and fires a checked-in event through
// the same pipeline moves use.
func (e *Engine) CheckIn(ctx context.Context, visit domain.Visit) (domain.Visit, error) {
	stages, err := e.store.FetchStages(ctx)
	if err != nil {
		return domain.Visit{}, err
	}
	if len(stages) == 0 {
		return domain.Visit{}, ErrUnknownStage
	}
	if visit.CurrentStage == "" {
		visit.CurrentStage = stages[0].Key
	} else if !stageExists(stages, visit.CurrentStage) {
		return domain.Visit{}, ErrUnknownStage
	}

	now := e.now()
	if visit.ID == "" {
		visit.ID = e.nextID()
	}
	visit.Status = domain.StatusInProgress
	visit.CheckInAt = now
	visit.TimerStartedAt = now
	visit.TimerElapsedSeconds = 0
	visit.UpdatedAt = now
	visit.CheckOutAt = time.Time{}

	entry := domain.HistoryEntry{
		VisitID:   visit.ID,
		ToStage:   visit.CurrentStage,
		ChangedBy: visit.CheckedInBy,
		ChangedAt: now,
	}
	if err := e.store.ApplyCheckIn(ctx, visit, entry); err != nil {
		return domain.Visit{}, err
	}

	e.fireStageChanged(ctx, domain.VisitCheckedIn, visit, "", visit.CurrentStage, "", visit.CheckedInBy, 0, now)
	return visit, nil
}

// Update persists edited visit fields without touching the stage. The
// visit keeps its column; downstream consumers get a visit-updated event
// so read models and polling clients can refresh the card.
func (e *Engine) Update(ctx context.Context, visit domain.Visit, actor string) (domain.Visit, error) {
	now := e.now()
	visit.UpdatedAt = now

	if err := e.store.UpdateVisit(ctx, visit); err != nil {
		return domain.Visit{}, err
	}

	e.fireStageChanged(ctx, domain.VisitUpdated, visit, visit.CurrentStage, visit.CurrentStage, "", actor, 0, now)
	return visit, nil
}

// Checkout completes a visit and removes it from the active board on the
// next refresh. A second checkout of the same visit is rejected.
func (e *Engine) Checkout(ctx context.Context, visitID, comment, actor string) (domain.Visit, error) {
	visit, err := e.store.FetchVisit(ctx, visitID)
	if err != nil {
		return domain.Visit{}, err
	}
	if !visit.Active() {
		return domain.Visit{}, ErrAlreadyCheckedOut
	}

	now := e.now()
	elapsed := visit.ElapsedSeconds(now)
	entry := domain.HistoryEntry{
		VisitID:        visit.ID,
		FromStage:      visit.CurrentStage,
		ToStage:        domain.StageCompleted,
		Comment:        comment,
		ChangedBy:      actor,
		ChangedAt:      now,
		ElapsedSeconds: elapsed,
	}

	fromStage := visit.CurrentStage
	visit.Status = domain.StatusCompleted
	visit.CheckOutAt = now
	visit.UpdatedAt = now

	if err := e.store.ApplyCheckout(ctx, visit, entry); err != nil {
		return domain.Visit{}, err
	}

	e.fireStageChanged(ctx, domain.VisitCheckedOut, visit, fromStage, domain.StageCompleted, comment, actor, elapsed, now)
	return visit, nil
}

// MoveDirection resolves the neighbouring stage by board position and
// delegates to Move. The neighbour is positional; there is no allowed-
// predecessor graph.
func (e *Engine) MoveDirection(ctx context.Context, b domain.Board, visitID string, dir Direction, actor string) (domain.Visit, error) {
	col, _, ok := domain.FindVisit(b, visitID)
	if !ok {
		return domain.Visit{}, ErrNotOnBoard
	}
	idx := b.StageIndex(col.Key)
	switch dir {
	case DirPrev:
		idx--
	case DirNext:
		idx++
	default:
		return domain.Visit{}, ErrAtEdge
	}
	if idx < 0 || idx >= len(b.Stages) {
		return domain.Visit{}, ErrAtEdge
	}
	return e.Move(ctx, visitID, b.Stages[idx].Key, "", actor)
}

func (e *Engine) fireStageChanged(ctx context.Context, evType string, visit domain.Visit, from, to, comment, actor string, elapsed int, at time.Time) {
	if e.events == nil {
		return
	}
	ev := domain.StageChangedEvent{
		ID:               e.nextID(),
		Type:             evType,
		VisitID:          visit.ID,
		FromStage:        from,
		ToStage:          to,
		Comment:          comment,
		ChangedBy:        actor,
		ElapsedSeconds:   elapsed,
		ClientName:       visit.Client.Name,
		GuardianFullName: visit.Guardian.FullName(),
		GuardianEmail:    visit.Guardian.Email,
		OccurredAt:       at,
	}
	if err := e.events.StageChanged(ctx, ev); err != nil && e.logger != nil {
		e.logger.WithFields(log.Fields{
			"visit_id": visit.ID,
			"to_stage": to,
			"error":    err.Error(),
		}).Error("stage-changed event delivery failed")
	}
}

func stageExists(stages []domain.Stage, key string) bool {
	for _, s := range stages {
		if s.Key == key {
			return true
		}
	}
	return false
}
