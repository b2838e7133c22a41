package persistence

import (
	"database/sql"
	"errors"

	"calsync_server/core/port/out"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = out.ErrNotFound

// notFound maps sql.ErrNoRows to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// TokenCipher encrypts secrets at rest. A nil cipher stores plaintext.
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(value string) (string, error)
}
