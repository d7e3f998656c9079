// Package redisstore keeps conversation sessions in Redis so several bot
// replicas can share them.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/zulandar/roadcall/internal/intake"
)

const (
	defaultPrefix     = "roadcall:"
	defaultMaxRetries = 32
	scanBatch         = 100
)

// ErrConflict is returned when an update kept losing the optimistic race.
var ErrConflict = errors.New("redisstore: too many concurrent updates")

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Dial connects to Redis and verifies the connection with a PING.
func Dial(ctx context.Context, cfg Config, log zerolog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redisstore: connect %s: %w", cfg.Addr, err)
	}

	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to redis")
	return client, nil
}

// Opts holds the parameters for New.
type Opts struct {
	Client redis.UniversalClient
	// Prefix namespaces every key. Defaults to "roadcall:".
	Prefix string
	// TTL is refreshed on every write so idle sessions age out even if no
	// sweep runs. Zero disables it.
	TTL        time.Duration
	MaxRetries int
	Logger     zerolog.Logger
}

// Store is an intake.Store backed by Redis. Each session is one JSON value;
// updates use WATCH/MULTI so concurrent writers to the same key retry
// instead of overwriting each other.
type Store struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	maxRetries int
	log        zerolog.Logger
}

var _ intake.Store = (*Store)(nil)

// New creates a Store.
func New(opts Opts) (*Store, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("redisstore: client is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	return &Store{
		client:     opts.Client,
		prefix:     opts.Prefix,
		ttl:        opts.TTL,
		maxRetries: opts.MaxRetries,
		log:        opts.Logger,
	}, nil
}

func (s *Store) key(userID string) string {
	return s.prefix + "session:" + userID
}

func (s *Store) pattern() string {
	// Escape glob metacharacters a prefix might contain.
	r := strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)
	return r.Replace(s.prefix) + "session:*"
}

// Create implements intake.Store.
func (s *Store) Create(ctx context.Context, userID string, p intake.Profile, now time.Time) (intake.Session, error) {
	sess := intake.NewSession(userID, p, now)
	data, err := json.Marshal(sess)
	if err != nil {
		return intake.Session{}, fmt.Errorf("redisstore: encode %s: %w", userID, err)
	}
	if err := s.client.Set(ctx, s.key(userID), data, s.ttl).Err(); err != nil {
		return intake.Session{}, fmt.Errorf("redisstore: create %s: %w", userID, err)
	}
	return sess, nil
}

// Get implements intake.Store.
func (s *Store) Get(ctx context.Context, userID string) (intake.Session, error) {
	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return intake.Session{}, intake.ErrSessionNotFound
	}
	if err != nil {
		return intake.Session{}, fmt.Errorf("redisstore: get %s: %w", userID, err)
	}
	return decode(userID, data)
}

// Update implements intake.Store.
func (s *Store) Update(ctx context.Context, userID string, fn func(*intake.Session) error) (intake.Session, error) {
	key := s.key(userID)
	var out intake.Session

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return intake.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		sess, err := decode(userID, data)
		if err != nil {
			return err
		}
		if err := fn(&sess); err != nil {
			return err
		}
		encoded, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("redisstore: encode %s: %w", userID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		if err == nil {
			out = sess
		}
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out.Clone(), nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.log.Debug().Str("user", userID).Int("attempt", attempt+1).Msg("session update raced, retrying")
			continue
		}
		return intake.Session{}, err
	}
	return intake.Session{}, fmt.Errorf("%w: %s", ErrConflict, userID)
}

// Delete implements intake.Store.
func (s *Store) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %s: %w", userID, err)
	}
	return nil
}

// DeleteIf implements intake.Store. The key is watched while cond runs, so
// a concurrent Update makes the delete retry against the new value.
func (s *Store) DeleteIf(ctx context.Context, userID string, cond func(intake.Session) bool) (bool, error) {
	key := s.key(userID)
	var deleted bool

	txf := func(tx *redis.Tx) error {
		deleted = false
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		sess, err := decode(userID, data)
		if err != nil {
			return err
		}
		if !cond(sess) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return deleted, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.log.Debug().Str("user", userID).Int("attempt", attempt+1).Msg("conditional delete raced, retrying")
			continue
		}
		return false, fmt.Errorf("redisstore: delete %s: %w", userID, err)
	}
	return false, fmt.Errorf("%w: %s", ErrConflict, userID)
}

// List implements intake.Store. Sessions are ordered by creation time.
func (s *Store) List(ctx context.Context) ([]intake.Session, error) {
	var out []intake.Session
	iter := s.client.Scan(ctx, 0, s.pattern(), scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redisstore: list: %w", err)
		}
		sess, err := decode(strings.TrimPrefix(key, s.prefix+"session:"), data)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("skipping unreadable session")
			continue
		}
		out = append(out, sess)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redisstore: list: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func decode(userID string, data []byte) (intake.Session, error) {
	var sess intake.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return intake.Session{}, fmt.Errorf("redisstore: decode %s: %w", userID, err)
	}
	return sess, nil
}
