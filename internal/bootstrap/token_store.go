package bootstrap

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrTokenNotFound is returned for unknown, expired or already used tokens
var ErrTokenNotFound = errors.New("registration token not found or already consumed")

const keyPrefix = "relay:registration:token:"

// consumeScript reads and deletes a token in one step
var consumeScript = redis.NewScript(`
	local data = redis.call('GET', KEYS[1])
	if not data then
		return nil
	end
	redis.call('DEL', KEYS[1])
	return data
`)

// TokenStore handles one-time relay registration tokens
type TokenStore struct {
	rdb *redis.Client
}

// NewTokenStore creates a new token store
func NewTokenStore(rdb *redis.Client) *TokenStore {
	return &TokenStore{rdb: rdb}
}

// TokenData is stored in Redis for a registration token.
// An empty RelayID lets the relay choose or be assigned its id.
type TokenData struct {
	RelayID   string    `json:"relayId,omitempty"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// GenerateToken generates a random token string
func GenerateToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// CreateToken stores a new registration token valid for ttl
func (ts *TokenStore) CreateToken(ctx context.Context, data TokenData, ttl time.Duration) (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token data: %w", err)
	}

	if err := ts.rdb.Set(ctx, keyPrefix+token, jsonData, ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store token in Redis: %w", err)
	}

	return token, nil
}

// PeekToken returns the data of a live token without consuming it
func (ts *TokenStore) PeekToken(ctx context.Context, token string) (*TokenData, error) {
	jsonData, err := ts.rdb.Get(ctx, keyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}

	var data TokenData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}
	return &data, nil
}

// ConsumeToken atomically consumes a token and returns its data
func (ts *TokenStore) ConsumeToken(ctx context.Context, token string) (*TokenData, error) {
	result, err := consumeScript.Run(ctx, ts.rdb, []string{keyPrefix + token}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to execute consume script: %w", err)
	}

	jsonData, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from Redis")
	}

	var data TokenData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}
	return &data, nil
}
