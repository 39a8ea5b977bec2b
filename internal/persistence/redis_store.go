package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MimeLyc/agentkit/internal/memory"
)

const defaultRedisPrefix = "agentkit"

// RedisStore keeps each memory item in a hash at prefix:collection:item:id.
// A sorted set at prefix:collection:index holds every id scored by the
// microsecond it was stored, which serves List and DeleteBefore.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	collection string
	owned      bool
}

var _ memory.Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, prefix string, collection string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, collection: collectionName(collection)}, nil
}

// OpenRedisStore connects to addr and checks the connection with PING.
func OpenRedisStore(ctx context.Context, addr, password string, db int, prefix, collection string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	store, err := NewRedisStore(client, prefix, collection)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

func (s *RedisStore) Collection() string {
	return s.collection
}

func (s *RedisStore) itemKey(id string) string {
	return s.prefix + ":" + s.collection + ":item:" + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":" + s.collection + ":index"
}

func (s *RedisStore) Upsert(ctx context.Context, item memory.Item) error {
	if strings.TrimSpace(item.ID) == "" {
		return fmt.Errorf("memory id is required")
	}
	metadata, err := encodeMetadata(item.Metadata)
	if err != nil {
		return err
	}
	embedding, err := encodeEmbedding(item.Embedding)
	if err != nil {
		return err
	}
	storedAt := item.StoredAt.UTC()
	if item.StoredAt.IsZero() {
		storedAt = time.Now().UTC()
	}

	key := s.itemKey(item.ID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"text", item.Text,
			"metadata", metadata,
			"embedding", embedding,
			"stored_at", strconv.FormatInt(storedAt.UnixNano(), 10),
		)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(storedAt.UnixMicro()), Member: item.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert memory %s: %w", item.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*memory.Item, error) {
	fields, err := s.client.HGetAll(ctx, s.itemKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, memory.ErrNotFound
	}
	item, err := decodeHash(id, fields)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.itemKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	if del.Val() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]memory.Item, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	items, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// DeleteBefore removes items stored strictly before t.
func (s *RedisStore) DeleteBefore(ctx context.Context, t time.Time) (int, error) {
	t = t.UTC()
	candidates, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(t.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("find old memories: %w", err)
	}
	items, err := s.load(ctx, candidates)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, item := range items {
		if !item.StoredAt.Before(t) {
			continue
		}
		if err := s.Delete(ctx, item.ID); err != nil {
			if errors.Is(err, memory.ErrNotFound) {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// Close releases the client when the store opened it itself.
func (s *RedisStore) Close() error {
	if s == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}

// load fetches the hashes for ids in order, skipping ids whose hash is gone.
func (s *RedisStore) load(ctx context.Context, ids []string) ([]memory.Item, error) {
	items := make([]memory.Item, 0, len(ids))
	if len(ids) == 0 {
		return items, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.itemKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}

	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		item, err := decodeHash(ids[i], fields)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeHash(id string, fields map[string]string) (memory.Item, error) {
	item := memory.Item{ID: id, Text: fields["text"]}
	var err error
	if item.Metadata, err = decodeMetadata(fields["metadata"]); err != nil {
		return memory.Item{}, err
	}
	if item.Embedding, err = decodeEmbedding(fields["embedding"]); err != nil {
		return memory.Item{}, err
	}
	nanos, err := strconv.ParseInt(fields["stored_at"], 10, 64)
	if err != nil {
		return memory.Item{}, fmt.Errorf("decode stored_at of %s: %w", id, err)
	}
	item.StoredAt = time.Unix(0, nanos).UTC()
	return item, nil
}
