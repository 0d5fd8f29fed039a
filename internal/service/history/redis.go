package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/pipbot/internal/model/chat"
	"github.com/zhouzirui/pipbot/internal/model/mood"
)

// RedisStore 将每个 scope 存为以时间戳为分值的有序集合。
// 成员以补零的 id 开头，时间戳相同时借助 Redis 的字典序按 id 排序。
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	writes  *scopeLocks
	nowFunc func() time.Time
}

// RedisOptions 配置 NewRedisStore。
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStore 连接 Redis 并校验连接。
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return NewRedisStoreWithClient(client, opts.Prefix), nil
}

// NewRedisStoreWithClient 包装已有客户端。
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "pipbot"
	}
	return &RedisStore{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, ":"),
		writes:  newScopeLocks(),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func (s *RedisStore) seqKey() string   { return s.prefix + ":seq" }
func (s *RedisStore) scopesKey() string { return s.prefix + ":scopes" }
func (s *RedisStore) moodKey() string   { return s.prefix + ":mood" }
func (s *RedisStore) turnsKey(scope string) string {
	return s.prefix + ":turns:" + scope
}

// Append 以新的序列号保存一轮对话。
func (s *RedisStore) Append(ctx context.Context, turn chat.Turn) (chat.Turn, error) {
	if err := turn.Validate(); err != nil {
		return chat.Turn{}, storeErr("append", turn.Scope, err)
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.nowFunc()
	}

	release := s.writes.lock(turn.Scope)
	defer release()

	id, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return chat.Turn{}, storeErr("append", turn.Scope, fmt.Errorf("next id: %w", err))
	}
	turn.ID = id

	payload, err := json.Marshal(turn)
	if err != nil {
		return chat.Turn{}, storeErr("append", turn.Scope, err)
	}
	member := fmt.Sprintf("%020d|%s", id, payload)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.turnsKey(turn.Scope), redis.Z{
			Score:  float64(turn.Timestamp.UnixMicro()),
			Member: member,
		})
		pipe.SAdd(ctx, s.scopesKey(), turn.Scope)
		return nil
	})
	if err != nil {
		return chat.Turn{}, storeErr("append", turn.Scope, err)
	}
	return turn, nil
}

// RecentTurns 返回最多 limit 轮，最新的在前。
func (s *RedisStore) RecentTurns(ctx context.Context, scope string, limit int) ([]chat.Turn, error) {
	if err := validateRead(scope, limit); err != nil {
		return nil, storeErr("recent", scope, err)
	}
	if limit == 0 {
		return []chat.Turn{}, nil
	}

	members, err := s.client.ZRevRange(ctx, s.turnsKey(scope), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, storeErr("recent", scope, err)
	}

	turns := make([]chat.Turn, 0, len(members))
	for _, member := range members {
		turn, err := decodeMember(member)
		if err != nil {
			return nil, storeErr("recent", scope, err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Prune 只保留 scope 中最新的 keep 个成员。
func (s *RedisStore) Prune(ctx context.Context, scope string, keep int) (int64, error) {
	if err := validatePrune(scope, keep); err != nil {
		return 0, storeErr("prune", scope, err)
	}
	release := s.writes.lock(scope)
	defer release()

	key := s.turnsKey(scope)
	removed, err := s.client.ZRemRangeByRank(ctx, key, 0, int64(-keep-1)).Result()
	if err != nil {
		return 0, storeErr("prune", scope, err)
	}
	if keep == 0 {
		if err := s.client.SRem(ctx, s.scopesKey(), scope).Err(); err != nil {
			return removed, storeErr("prune", scope, err)
		}
	}
	return removed, nil
}

// Scopes 列出已知的 scope。
func (s *RedisStore) Scopes(ctx context.Context) ([]string, error) {
	scopes, err := s.client.SMembers(ctx, s.scopesKey()).Result()
	if err != nil {
		return nil, storeErr("scopes", "", err)
	}
	sort.Strings(scopes)
	return scopes, nil
}

// LoadMood 读取心情哈希。
func (s *RedisStore) LoadMood(ctx context.Context) (mood.State, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.moodKey()).Result()
	if err != nil {
		return mood.State{}, false, storeErr("load mood", "", err)
	}
	if len(fields) == 0 {
		return mood.State{}, false, nil
	}

	score, err := strconv.Atoi(fields["score"])
	if err != nil {
		return mood.State{}, false, storeErr("load mood", "", fmt.Errorf("parse score: %w", err))
	}
	updated, _ := strconv.ParseInt(fields["updated_at"], 10, 64)
	return mood.State{
		Score:     mood.Clamp(score),
		Label:     fields["label"],
		Day:       fields["day"],
		UpdatedAt: time.Unix(0, updated).UTC(),
	}, true, nil
}

// SaveMood 覆盖心情哈希。
func (s *RedisStore) SaveMood(ctx context.Context, st mood.State) error {
	release := s.writes.lock(moodScope)
	defer release()

	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.nowFunc()
	}
	err := s.client.HSet(ctx, s.moodKey(),
		"score", mood.Clamp(st.Score),
		"label", st.Label,
		"day", st.Day,
		"updated_at", st.UpdatedAt.UnixNano(),
	).Err()
	return storeErr("save mood", "", err)
}

// Close 关闭客户端。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeMember(member string) (chat.Turn, error) {
	_, payload, ok := strings.Cut(member, "|")
	if !ok {
		return chat.Turn{}, errors.New("malformed turn member")
	}
	var turn chat.Turn
	if err := json.Unmarshal([]byte(payload), &turn); err != nil {
		return chat.Turn{}, fmt.Errorf("decode turn: %w", err)
	}
	return turn, nil
}
