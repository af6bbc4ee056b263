package repo

import (
	"context"

	"signoff/internal/domain"
)

// Store persists approval requests and their audit trail.
//
// Update is a compare-and-swap on Request.Version: it succeeds only when the
// stored version equals req.Version, and on success bumps req.Version. A
// mismatch yields domain.StaleStateError.
type Store interface {
	Create(ctx context.Context, req domain.Request, evts ...domain.Event) error
	Get(ctx context.Context, id string) (domain.Request, error)
	List(ctx context.Context) ([]domain.Request, error)
	Update(ctx context.Context, req *domain.Request, evts ...domain.Event) error
	AppendEvents(ctx context.Context, evts ...domain.Event) error
	Events(ctx context.Context, requestID string) ([]domain.Event, error)
}

func notFound(id string) error {
	return domain.NotFoundError{Kind: "request", ID: id}
}
