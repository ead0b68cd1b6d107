// Package session mirrors live WebSocket connections into Redis so that other
// services can see which user holds which connection on which server
// instance. The mirror is best-effort; in-process state stays authoritative.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// UserSessionsPrefix is the Redis key prefix for the per-user set of
	// connection ids.
	UserSessionsPrefix = "user_sessions:"

	// SessionTTL is the time-to-live for session keys in Redis.
	SessionTTL = 1 * time.Hour
)

// Session represents a connection's state stored in Redis.
type Session struct {
	ID         string `redis:"id"`
	UserID     string `redis:"user_id"`
	Server     string `redis:"server"`      // which WS server instance
	CreatedAt  int64  `redis:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Store manages session state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this WS server instance
}

// NewStore creates a new session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// NewStoreWithClient wraps an existing Redis client.
func NewStoreWithClient(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Create stores a new session for connID owned by userID with a 1h TTL and
// indexes it under the user.
func (s *Store) Create(ctx context.Context, connID, userID string) error {
	key := SessionPrefix + connID
	now := time.Now().Unix()

	session := map[string]interface{}{
		"id":          connID,
		"user_id":     userID,
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, session)
	pipe.Expire(ctx, key, SessionTTL)
	if userID != "" {
		pipe.SAdd(ctx, UserSessionsPrefix+userID, connID)
		pipe.Expire(ctx, UserSessionsPrefix+userID, SessionTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: create %s: %w", connID, err)
	}
	return nil
}

// Get retrieves a session from Redis. Returns nil if not found.
func (s *Store) Get(ctx context.Context, connID string) (*Session, error) {
	key := SessionPrefix + connID
	var session Session
	if err := s.client.HGetAll(ctx, key).Scan(&session); err != nil {
		return nil, fmt.Errorf("session: get %s: %w", connID, err)
	}
	if session.ID == "" {
		return nil, nil // not found
	}
	return &session, nil
}

// UserSessions returns the connection ids recorded for userID across all
// server instances.
func (s *Store) UserSessions(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, UserSessionsPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("session: user sessions %s: %w", userID, err)
	}
	return ids, nil
}

// Touch records activity on the session and refreshes its TTL.
func (s *Store) Touch(ctx context.Context, connID, userID string) error {
	key := SessionPrefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	if userID != "" {
		pipe.Expire(ctx, UserSessionsPrefix+userID, SessionTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session and its user index entry from Redis.
func (s *Store) Delete(ctx context.Context, connID, userID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, SessionPrefix+connID)
	if userID != "" {
		pipe.SRem(ctx, UserSessionsPrefix+userID, connID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
