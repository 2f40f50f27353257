package directory

import "context"

type User struct {
	UID         string
	DN          string
	DisplayName string
	Mail        string
}

// Directory resolves platform users.
type Directory interface {
	Close()
	LookupUser(ctx context.Context, uid string) (*User, error)
	// Purge drops expired cached users.
	Purge()
}
