package observability

import (
	"context"
	"errors"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

// ReadinessGroup is ready when every member is ready.
type ReadinessGroup []sharedobs.ReadinessChecker

// CheckReadiness returns the joined errors of all members that are not ready.
func (g ReadinessGroup) CheckReadiness(ctx context.Context) error {
	var errs []error
	for _, c := range g {
		if err := c.CheckReadiness(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
