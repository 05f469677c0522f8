package notify

import (
	"context"
	"errors"

	"github.com/dpup/trafficwatch/server/internal/lib/alerts"
)

// MultiPublisher fans an event out to every publisher. Each publisher is
// attempted; failures are joined.
type MultiPublisher []alerts.Publisher

var _ alerts.Publisher = MultiPublisher(nil)

// Publish implements alerts.Publisher.
func (m MultiPublisher) Publish(ctx context.Context, recipientUserID string, event alerts.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, recipientUserID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
