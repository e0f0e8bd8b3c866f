package session

import (
	"context"
	"errors"

	"github.com/gaspardpetit/skybridge/internal/mapstore"
)

// followKey indexes the upstream follow record of accountID for subject.
// Follow records do not expire.
func (s *Store) followKey(accountID, subject string) string {
	return s.prefix + ":follow:" + accountID + ":" + subject
}

// SaveFollow remembers the record URI of accountID following subject.
func (s *Store) SaveFollow(ctx context.Context, accountID, subject, uri string) error {
	if accountID == "" || subject == "" || uri == "" {
		return errors.New("session: empty follow record")
	}
	return s.kv.Set(ctx, s.followKey(accountID, subject), uri, 0)
}

// FollowRecord returns the record URI saved by SaveFollow, if any.
func (s *Store) FollowRecord(ctx context.Context, accountID, subject string) (string, bool, error) {
	v, err := s.kv.Get(ctx, s.followKey(accountID, subject))
	if errors.Is(err, mapstore.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// DeleteFollow forgets the follow record of accountID for subject.
func (s *Store) DeleteFollow(ctx context.Context, accountID, subject string) error {
	return s.kv.Delete(ctx, s.followKey(accountID, subject))
}
