// Package purchase describes completed checkout sessions from the payment processor.
package purchase

import (
	"context"
	"strings"
	"time"
)

// Session is one completed checkout for the configured product.
type Session struct {
	Reference string
	Email     string
	Name      *string
	CreatedAt time.Time
}

// HasEmail reports whether the session carries a usable email.
func (s Session) HasEmail() bool {
	return strings.TrimSpace(s.Email) != ""
}

// Source lists completed sessions created at or after since, in the order the
// processor returns them.
type Source interface {
	ListCompletedSessions(ctx context.Context, since time.Time) ([]Session, error)
}
