// Package ports defines the external collaborators of the access module.
// The service consumes them; adapters under internal/access/adapters implement them.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks NotificationChannel,PolicyEnforcer

import (
	"context"

	"jitaccess/internal/access/models"
	id "jitaccess/pkg/domain"
)

// NotificationChannel resolves principals to channel addresses and delivers
// free-text messages. Rendering is the channel's concern.
type NotificationChannel interface {
	ResolveAddress(ctx context.Context, principal id.Principal) (string, error)
	Send(ctx context.Context, address, message string) error
}

// PolicyEnforcer activates a time-bounded grant out of band.
// Submissions are attempted at most once per call and are not idempotent.
type PolicyEnforcer interface {
	SubmitGrant(ctx context.Context, grant models.PolicyGrant) error
}
