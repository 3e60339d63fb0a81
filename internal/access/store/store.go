// Package store holds the AccessRequest persistence backends. Every backend
// honours the same contract: Insert rejects duplicates with sentinel.ErrConflict,
// lookups miss with sentinel.ErrNotFound, and Execute runs validate+mutate as one
// atomic step so concurrent decisions on the same id are arbitrated here.
package store

import (
	"fmt"

	"jitaccess/internal/access/models"
	"jitaccess/pkg/platform/sentinel"
)

// statusGuard is the compare half of CompareAndTransition.
func statusGuard(expected models.Status) func(*models.AccessRequest) error {
	return func(r *models.AccessRequest) error {
		if r.Status != expected {
			return fmt.Errorf("request %s is %s, expected %s: %w", r.ID, r.Status, expected, sentinel.ErrInvalidState)
		}
		return nil
	}
}
