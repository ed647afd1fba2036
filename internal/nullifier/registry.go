package nullifier

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"olocus/internal/crypto"
	dErrors "olocus/pkg/domain-errors"
)

// Registry is the global double-claim gate. Register is a linearizable
// check-and-insert: of two concurrent registrations of the same nullifier,
// exactly one succeeds.
type Registry interface {
	// CanClaim reports whether the nullifier is still unused. Advisory
	// only; publication must go through Register.
	CanClaim(ctx context.Context, n crypto.Hash) (bool, error)
	// Register claims the nullifier, failing with the double-claim code
	// when it is already taken.
	Register(ctx context.Context, n crypto.Hash) error
}

func duplicateErr(n crypto.Hash) error {
	return dErrors.Newf(dErrors.CodeDoubleClaim, "nullifier %s already registered", n.Hex())
}

// InMemoryRegistry backs single-node deployments and tests.
type InMemoryRegistry struct {
	mu   sync.Mutex
	seen map[crypto.Hash]struct{}
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{seen: make(map[crypto.Hash]struct{})}
}

func (r *InMemoryRegistry) CanClaim(_ context.Context, n crypto.Hash) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, taken := r.seen[n]
	return !taken, nil
}

func (r *InMemoryRegistry) Register(_ context.Context, n crypto.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.seen[n]; taken {
		return duplicateErr(n)
	}
	r.seen[n] = struct{}{}
	return nil
}

// RedisRegistry shares the gate across nodes through SET NX, which is the
// check-and-insert in a single Redis command.
type RedisRegistry struct {
	client goredis.Cmdable
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

type RedisOption func(*RedisRegistry)

// WithTTL expires registrations; zero means they never expire. Retention
// policies that prune claims can prune their nullifiers alongside.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *RedisRegistry) {
		r.ttl = ttl
	}
}

func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(r *RedisRegistry) {
		r.logger = logger
	}
}

func NewRedisRegistry(client goredis.Cmdable, opts ...RedisOption) *RedisRegistry {
	r := &RedisRegistry{
		client: client,
		prefix: "olocus:nullifier:",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisRegistry) key(n crypto.Hash) string {
	return r.prefix + n.Hex()
}

func (r *RedisRegistry) CanClaim(ctx context.Context, n crypto.Hash) (bool, error) {
	exists, err := r.client.Exists(ctx, r.key(n)).Result()
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeNetwork, "check nullifier")
	}
	return exists == 0, nil
}

func (r *RedisRegistry) Register(ctx context.Context, n crypto.Hash) error {
	ok, err := r.client.SetNX(ctx, r.key(n), 1, r.ttl).Result()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeNetwork, "register nullifier")
	}
	if !ok {
		return duplicateErr(n)
	}
	return nil
}

// PostgresRegistry persists the gate; the primary key makes the insert the
// check-and-insert.
type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

func (r *PostgresRegistry) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS claim_nullifiers (
			nullifier     BYTEA       PRIMARY KEY,
			registered_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure claim_nullifiers schema: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) CanClaim(ctx context.Context, n crypto.Hash) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM claim_nullifiers WHERE nullifier = $1)`,
		n[:]).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check nullifier: %w", err)
	}
	return !exists, nil
}

func (r *PostgresRegistry) Register(ctx context.Context, n crypto.Hash) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO claim_nullifiers (nullifier) VALUES ($1) ON CONFLICT DO NOTHING`,
		n[:])
	if err != nil {
		return fmt.Errorf("register nullifier: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("register nullifier: %w", err)
	}
	if inserted == 0 {
		return duplicateErr(n)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ Registry = (*InMemoryRegistry)(nil)
	_ Registry = (*RedisRegistry)(nil)
	_ Registry = (*PostgresRegistry)(nil)
)
