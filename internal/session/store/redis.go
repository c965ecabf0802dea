package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"session-manager/backend/internal/session/domain"
)

const (
	indexKeyPrefix  = "account_sessions:"
	recordKeyPrefix = "session:"

	// Records are fetched in batches during a global stats scan so a large
	// deployment never produces a single unbounded MGET.
	statsFetchBatch = 200
)

// createScript atomically evicts the oldest sessions down to limit-1, indexes
// the new token, and writes its record with a TTL. ZPOPMIN returns member and
// score pairs, so evicted records are deleted by walking every other element.
var createScript = goredis.NewScript(`
local count = redis.call('ZCARD', KEYS[1])
local limit = tonumber(ARGV[3])
if count >= limit then
    local evicted = redis.call('ZPOPMIN', KEYS[1], count - limit + 1)
    for i = 1, #evicted, 2 do
        redis.call('DEL', '` + recordKeyPrefix + `' .. evicted[i])
    end
end
redis.call('ZADD', KEYS[1], tonumber(ARGV[1]), ARGV[2])
redis.call('SET', KEYS[2], ARGV[4], 'EX', tonumber(ARGV[5]))
return 1
`)

// deleteScript deletes the record and removes the index entry only when the
// record actually existed, then reports whether it did. Deleting an already
// absent session is a no-op with result 0.
var deleteScript = goredis.NewScript(`
local deleted = redis.call('DEL', KEYS[1])
if deleted == 1 then
    redis.call('ZREM', KEYS[2], ARGV[1])
end
return deleted
`)

// renewScript refreshes the record's TTL and last-active timestamp if the
// record still exists, and bumps the index score only if the token is still
// indexed (ZADD XX never inserts). Either half alone is a valid partial renew;
// both absent makes the whole call a no-op.
var renewScript = goredis.NewScript(`
local data = redis.call('GET', KEYS[2])
if data then
    local record = cjson.decode(data)
    record['last_active_at'] = ARGV[3]
    redis.call('SET', KEYS[2], cjson.encode(record), 'EX', tonumber(ARGV[4]))
end
redis.call('ZADD', KEYS[1], 'XX', tonumber(ARGV[1]), ARGV[2])
return 1
`)

// RedisStore is the production session store. Both structures live in Redis:
// a sorted set per account keyed by recency, and one JSON record per token
// carrying the TTL.
type RedisStore struct {
	client   *goredis.Client
	accounts AccountResolver
}

func NewRedisStore(client *goredis.Client, accounts AccountResolver) *RedisStore {
	return &RedisStore{client: client, accounts: accounts}
}

func indexKey(accountID string) string {
	return indexKeyPrefix + accountID
}

func recordKey(token string) string {
	return recordKeyPrefix + token
}

// recencyScore orders sessions within an account index. Microsecond precision
// keeps practical ties rare while staying exactly representable as a Redis
// sorted-set score.
func recencyScore(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func (s *RedisStore) CreateWithEviction(ctx context.Context, accountID string, sess *domain.Session, ttl time.Duration, limit int) error {
	record, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	keys := []string{indexKey(accountID), recordKey(sess.Token)}
	args := []any{
		recencyScore(sess.LastActiveAt),
		sess.Token,
		limit,
		record,
		int(ttl.Seconds()),
	}
	if err := createScript.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, token string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, recordKey(token)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) RenewIfPresent(ctx context.Context, accountID, token string, ttl time.Duration) error {
	now := time.Now().UTC()
	keys := []string{indexKey(accountID), recordKey(token)}
	args := []any{
		recencyScore(now),
		token,
		now.Format(time.RFC3339Nano),
		int(ttl.Seconds()),
	}
	if err := renewScript.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("renew session: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteAndUnindex(ctx context.Context, token, accountID string) (bool, error) {
	keys := []string{recordKey(token), indexKey(accountID)}
	deleted, err := deleteScript.Run(ctx, s.client, keys, token).Int()
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return deleted == 1, nil
}

func (s *RedisStore) ListActive(ctx context.Context, accountID string) ([]*domain.Session, error) {
	tokens, err := s.client.ZRange(ctx, indexKey(accountID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list account index: %w", err)
	}
	sessions, stale, err := s.fetchRecords(ctx, tokens)
	if err != nil {
		return nil, err
	}
	// Index entries whose record has expired are removed lazily. A cleanup
	// failure is logged and ignored so the read always succeeds.
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, indexKey(accountID), stale...).Err(); err != nil {
			log.Printf("session store: pruning %d stale index entries for account %s: %v", len(stale), accountID, err)
		}
	}
	return sessions, nil
}

func (s *RedisStore) Stats(ctx context.Context, accountID string) (*Stats, error) {
	var sessions []*domain.Session
	if accountID != "" {
		var err error
		if sessions, err = s.ListActive(ctx, accountID); err != nil {
			return nil, err
		}
	} else {
		// SCAN walks account indexes without blocking the server; entries
		// created or destroyed mid-scan may or may not appear. The result
		// is an explicitly best-effort snapshot.
		iter := s.client.Scan(ctx, 0, indexKeyPrefix+"*", 0).Iterator()
		var tokens []string
		for iter.Next(ctx) {
			members, err := s.client.ZRange(ctx, iter.Val(), 0, -1).Result()
			if err != nil {
				return nil, fmt.Errorf("scan account index %s: %w", iter.Val(), err)
			}
			tokens = append(tokens, members...)
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("scan account indexes: %w", err)
		}
		var err error
		if sessions, _, err = s.fetchRecords(ctx, tokens); err != nil {
			return nil, err
		}
	}

	ids := make([]string, 0, len(sessions))
	seen := make(map[string]struct{}, len(sessions))
	for _, sess := range sessions {
		if _, ok := seen[sess.AccountID]; !ok {
			seen[sess.AccountID] = struct{}{}
			ids = append(ids, sess.AccountID)
		}
	}
	accounts, err := s.accounts.GetByIDSet(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve session accounts: %w", err)
	}
	return buildStats(sessions, accounts), nil
}

// fetchRecords resolves tokens to live sessions in batches. Tokens whose
// record is gone are returned separately so callers can prune their index
// entries.
func (s *RedisStore) fetchRecords(ctx context.Context, tokens []string) ([]*domain.Session, []any, error) {
	var sessions []*domain.Session
	var stale []any
	for start := 0; start < len(tokens); start += statsFetchBatch {
		end := min(start+statsFetchBatch, len(tokens))
		batch := tokens[start:end]
		keys := make([]string, len(batch))
		for i, token := range batch {
			keys[i] = recordKey(token)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("fetch session records: %w", err)
		}
		for i, v := range values {
			data, ok := v.(string)
			if !ok {
				stale = append(stale, batch[i])
				continue
			}
			var sess domain.Session
			if err := json.Unmarshal([]byte(data), &sess); err != nil {
				return nil, nil, fmt.Errorf("decode session record: %w", err)
			}
			sessions = append(sessions, &sess)
		}
	}
	return sessions, stale, nil
}
