package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/serviohub/partner-agent/internal/pkg/api"
)

const (
	keySession = "agent:session"
	keyCompany = "agent:companyID"
)

// Store persists the signed-in identity in the device key-value storage
type Store struct {
	rdb redis.UniversalClient
}

// NewStore creates session store instance
func NewStore(rdb redis.UniversalClient) (*Store, error) {
	if rdb == nil {
		return nil, fmt.Errorf("no redis client")
	}
	return &Store{rdb: rdb}, nil
}

// Save persists the session, written on sign-in only
func (s *Store) Save(ctx context.Context, ses *api.Session) error {
	if ses == nil {
		return fmt.Errorf("no session")
	}
	b, err := json.Marshal(ses)
	if err != nil {
		return fmt.Errorf("can't marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, keySession, b, 0).Err(); err != nil {
		return fmt.Errorf("can't save session: %w", err)
	}
	return nil
}

// Load returns the active session, nil means logged out
func (s *Store) Load(ctx context.Context) (*api.Session, error) {
	b, err := s.rdb.Get(ctx, keySession).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("can't load session: %w", err)
	}
	var res api.Session
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, fmt.Errorf("can't unmarshal session: %w", err)
	}
	return &res, nil
}

// Clear drops the session and the cached company id, called on sign-out
func (s *Store) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, keySession, keyCompany).Err(); err != nil {
		return fmt.Errorf("can't clear session: %w", err)
	}
	return nil
}

// SaveCompanyID caches the partner's company id
func (s *Store) SaveCompanyID(ctx context.Context, id int64) error {
	if err := s.rdb.Set(ctx, keyCompany, id, 0).Err(); err != nil {
		return fmt.Errorf("can't save company id: %w", err)
	}
	return nil
}

// CompanyID returns the cached company id, 0 means none
func (s *Store) CompanyID(ctx context.Context) (int64, error) {
	res, err := s.rdb.Get(ctx, keyCompany).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("can't load company id: %w", err)
	}
	return res, nil
}
