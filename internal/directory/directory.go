// Package directory describes the learning platform's account and enrollment API
// as seen by the reconciliation jobs.
package directory

import "context"

// Account is a learning platform user.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Directory is the learning platform surface used by sync and sweep.
//
// FindAccountByEmail returns sentinel.ErrNotFound when no account exists.
// Enroll and Unenroll return an error matching ErrAlreadyInState when the account
// is already in the requested state.
type Directory interface {
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)
	CreateAccount(ctx context.Context, email, name string) (*Account, error)
	Enroll(ctx context.Context, accountID, resourceID string) error
	Unenroll(ctx context.Context, accountID, resourceID string) error
	Ping(ctx context.Context) error
}
