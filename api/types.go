package api

import (
	"context"
	"time"

	"pawboard-api/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	FetchView(ctx context.Context, name string) (domain.View, error)
	FetchBoard(ctx context.Context, view domain.View, isPublic bool, modifiedAfter time.Time) (domain.Board, error)
	FetchVisit(ctx context.Context, id string) (domain.Visit, error)
	UpdateVisit(ctx context.Context, v domain.Visit) error
	FetchHistory(ctx context.Context, visitID string) ([]domain.HistoryEntry, error)
	FetchDeliveries(ctx context.Context, visitID string) ([]domain.DeliveryRecord, error)
	FetchServices(ctx context.Context, serviceContext string) ([]domain.ServiceItem, error)
	SearchIntake(ctx context.Context, query string) ([]domain.IntakeMatch, error)
}

// Engine applies visit lifecycle transitions.
type Engine interface {
	CheckIn(ctx context.Context, visit domain.Visit) (domain.Visit, error)
	Update(ctx context.Context, visit domain.Visit, actor string) (domain.Visit, error)
	Move(ctx context.Context, visitID, toStage, comment, actor string) (domain.Visit, error)
	Checkout(ctx context.Context, visitID, comment, actor string) (domain.Visit, error)
}

// NotFoundError marks storage lookups for entities that do not exist.
type NotFoundError interface {
	error
	NotFound()
}

// Authenticator is implemented by types able to extract staff user IDs
// from Authorization headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// MoveGuard serializes in-flight moves per visit across API instances.
type MoveGuard interface {
	// Acquire marks the visit as mid-transition and returns true when no
	// other move currently holds it.
	Acquire(ctx context.Context, visitID string) (bool, error)
	// Release frees the visit for the next move.
	Release(ctx context.Context, visitID string) error
}
