package store

import (
	"context"
	"fmt"
	"time"
)

// AcquireLease takes the named lease for holder until now+ttl.
//
// The lease is granted when nobody holds it, when the previous lease has
// expired, or when holder already owns it (renewal). acquired is false when
// another holder's lease is still live.
func (s *Store) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (acquired bool, err error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO drain_leases (name, holder, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE drain_leases.expires_at <= ? OR drain_leases.holder = excluded.holder
	`, name, holder, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease %q: rows affected: %w", name, err)
	}
	return affected > 0, nil
}

// ReleaseLease drops the named lease if holder owns it.
func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM drain_leases WHERE name = ? AND holder = ?`, name, holder)
	if err != nil {
		return fmt.Errorf("release lease %q: %w", name, err)
	}
	return nil
}
