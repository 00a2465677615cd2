package events

import (
	"context"
	"errors"

	"github.com/zapp/backend/internal/core/ports"
	"github.com/zapp/backend/internal/entities"
)

// Fanout delivers every event to each publisher and joins their errors.
type Fanout []ports.EventPublisher

func (f Fanout) Publish(ctx context.Context, events ...entities.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
