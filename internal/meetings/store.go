// Package meetings is a non-authoritative cache of meeting metadata in
// redis. It backs the meetings REST API; room joins never consult it, so
// the service degrades gracefully when redis is absent.
package meetings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hudl-live/huddle/internal/domain"
)

const (
	keyPrefix  = "meeting:"
	meetingTTL = 24 * time.Hour

	// createAttempts bounds retries on the astronomically unlikely code
	// collision before giving up.
	createAttempts = 5
)

var ErrNotFound = errors.New("meeting not found")

type Meeting struct {
	Code      string    `json:"code"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

type Store struct {
	rdb *redis.Client
}

func NewStore(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Create registers a meeting under a fresh code and returns it.
func (s *Store) Create(ctx context.Context, title string) (Meeting, error) {
	if title == "" {
		title = "Meeting"
	}
	for i := 0; i < createAttempts; i++ {
		m := Meeting{
			Code:      domain.NewMeetingCode(),
			Title:     title,
			CreatedAt: time.Now().UTC(),
		}
		b, err := json.Marshal(m)
		if err != nil {
			return Meeting{}, err
		}
		set, err := s.rdb.SetNX(ctx, keyPrefix+m.Code, b, meetingTTL).Result()
		if err != nil {
			return Meeting{}, fmt.Errorf("store meeting: %w", err)
		}
		if set {
			return m, nil
		}
	}
	return Meeting{}, errors.New("could not allocate a meeting code")
}

func (s *Store) Get(ctx context.Context, code string) (Meeting, error) {
	code = domain.NormalizeCode(code)
	b, err := s.rdb.Get(ctx, keyPrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return Meeting{}, ErrNotFound
	}
	if err != nil {
		return Meeting{}, fmt.Errorf("load meeting: %w", err)
	}
	var m Meeting
	if err := json.Unmarshal(b, &m); err != nil {
		return Meeting{}, fmt.Errorf("decode meeting: %w", err)
	}
	return m, nil
}
