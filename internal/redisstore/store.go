// Package redisstore keeps snapshots in Redis. Each payload lives under its
// own key; a sorted set scored by creation time provides the listing order.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	redis "github.com/redis/go-redis/v9"

	"ride-router/internal/database"
	"ride-router/internal/models"
)

const (
	keyPrefix = "ride-router:snapshot:"
	indexKey  = "ride-router:snapshots"
	infosKey  = "ride-router:snapshot-infos"
)

// Store implements database.DataStore on Redis
type Store struct {
	rdb *redis.Client

	snapshotRepo database.SnapshotRepository
}

// Open connects to a redis:// URL and verifies the connection
func Open(ctx context.Context, url string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to verify redis connection: %w", err)
	}

	log.Printf("[STORE] Connected to Redis: addr=%s db=%d", opt.Addr, opt.DB)

	store := &Store{rdb: rdb}
	store.snapshotRepo = &snapshotRepository{rdb: rdb}
	return store, nil
}

// Close closes the client
func (s *Store) Close() error {
	return s.rdb.Close()
}

// HealthCheck pings the server
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Snapshots() database.SnapshotRepository { return s.snapshotRepo }

type snapshotRepository struct {
	rdb *redis.Client
}

func payloadKey(key string) string { return keyPrefix + key }

func (r *snapshotRepository) Save(ctx context.Context, snap *models.Snapshot) (*models.Snapshot, error) {
	saved := *snap
	database.Stamp(&saved)

	for attempt := 0; attempt < database.MaxKeyAttempts; attempt++ {
		saved.Key = database.SnapshotKey(saved.CreatedAt, attempt)
		payload, err := database.EncodeSnapshot(&saved)
		if err != nil {
			return nil, err
		}

		ok, err := r.rdb.SetNX(ctx, payloadKey(saved.Key), payload, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to store snapshot: %w", err)
		}
		if !ok {
			continue
		}

		info, err := json.Marshal(saved.Info())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal snapshot info: %w", err)
		}

		_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(saved.CreatedAt.UnixNano()), Member: saved.Key})
			pipe.HSet(ctx, infosKey, saved.Key, info)
			return nil
		})
		if err != nil {
			r.rdb.Del(ctx, payloadKey(saved.Key))
			return nil, fmt.Errorf("failed to index snapshot: %w", err)
		}

		log.Printf("[STORE] Saved snapshot: key=%s id=%s staff=%d", saved.Key, saved.ID, len(saved.Staff))
		return &saved, nil
	}

	return nil, &database.ErrKeysExhausted{CreatedAt: saved.CreatedAt, Attempts: database.MaxKeyAttempts}
}

func (r *snapshotRepository) Get(ctx context.Context, key string) (*models.Snapshot, error) {
	payload, err := r.rdb.Get(ctx, payloadKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	return database.DecodeSnapshot(payload)
}

func (r *snapshotRepository) List(ctx context.Context) ([]models.SnapshotInfo, error) {
	keys, err := r.rdb.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	infos := make([]models.SnapshotInfo, 0, len(keys))
	if len(keys) == 0 {
		return infos, nil
	}

	values, err := r.rdb.HMGet(ctx, infosKey, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot infos: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			log.Printf("[ERROR] Snapshot indexed without info: key=%s", keys[i])
			continue
		}
		var info models.SnapshotInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			return nil, fmt.Errorf("failed to parse snapshot info %s: %w", keys[i], err)
		}
		infos = append(infos, info)
	}

	// Scores lose sub-microsecond precision; restore exact ordering
	database.SortInfos(infos)
	return infos, nil
}

func (r *snapshotRepository) Delete(ctx context.Context, key string) error {
	n, err := r.rdb.Del(ctx, payloadKey(key)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if n == 0 {
		return database.ErrNotFound
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, indexKey, key)
		pipe.HDel(ctx, infosKey, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to unindex snapshot: %w", err)
	}

	log.Printf("[STORE] Deleted snapshot: key=%s", key)
	return nil
}
