package persistence

import (
	"database/sql"
	"fmt"
	"time"
)

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func timePtrArg(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func stringPtrArg(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func encryptValue(cipher TokenCipher, v string) (string, error) {
	if cipher == nil || v == "" {
		return v, nil
	}
	enc, err := cipher.Encrypt(v)
	if err != nil {
		return "", fmt.Errorf("encrypt secret: %w", err)
	}
	return enc, nil
}

func decryptValue(cipher TokenCipher, v string) (string, error) {
	if cipher == nil || v == "" {
		return v, nil
	}
	return cipher.Decrypt(v)
}
