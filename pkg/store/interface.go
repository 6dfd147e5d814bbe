package store

import "linechat/pkg/model"

// CredentialStore is the persistence interface for the credential table.
// The default implementation is SQLite; MemoryStore backs unit tests.
//
// The surface is deliberately narrow: credentials are written once on first
// registration and never updated or deleted.
type CredentialStore interface {
	// Lookup returns the credential for an exact username match, or
	// (nil, nil) when no such user exists.
	Lookup(username string) (*model.Credential, error)

	// Create persists a first-time registration and returns the stored
	// record. Fails on invalid usernames, empty passwords, or duplicates.
	Create(username, password string) (*model.Credential, error)

	// Count returns the number of stored credentials.
	Count() (int, error)

	Close() error
}

// Compile-time checks: both implementations satisfy CredentialStore.
var _ CredentialStore = (*Store)(nil)
var _ CredentialStore = (*MemoryStore)(nil)
