package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

// PostgresBlockStore persists location blocks in PostgreSQL. The composite
// primary key (chain_id, idx) makes a concurrent duplicate append a unique
// violation instead of a silent fork.
type PostgresBlockStore struct {
	db *sql.DB
}

func NewPostgresBlockStore(db *sql.DB) *PostgresBlockStore {
	return &PostgresBlockStore{db: db}
}

// EnsureSchema creates the blocks table if it does not exist. Deployments
// with managed migrations run the equivalent DDL there instead.
func (s *PostgresBlockStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS location_blocks (
			chain_id     UUID        NOT NULL,
			idx          BIGINT      NOT NULL,
			ts           TIMESTAMPTZ NOT NULL,
			ts_nanos     INT         NOT NULL,
			longitude    DOUBLE PRECISION NOT NULL,
			latitude     DOUBLE PRECISION NOT NULL,
			altitude     DOUBLE PRECISION NOT NULL,
			h_accuracy   DOUBLE PRECISION NOT NULL,
			v_accuracy   DOUBLE PRECISION NOT NULL,
			motion       TEXT        NOT NULL,
			device_fp    TEXT        NOT NULL,
			device_tamp  BOOLEAN     NOT NULL,
			prev_hash    BYTEA       NOT NULL,
			hash         BYTEA       NOT NULL,
			signature    BYTEA       NOT NULL,
			PRIMARY KEY (chain_id, idx)
		);
		CREATE INDEX IF NOT EXISTS location_blocks_ts ON location_blocks (chain_id, ts);
	`)
	if err != nil {
		return fmt.Errorf("ensure location_blocks schema: %w", err)
	}
	return nil
}

func (s *PostgresBlockStore) AppendBlock(ctx context.Context, chainID domain.ChainID, block LocationBlock) error {
	// Guard the sequential-index invariant inside one transaction so two
	// writers cannot interleave between the length check and the insert.
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var length uint64
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM location_blocks WHERE chain_id = $1`,
		uuid.UUID(chainID)).Scan(&length)
	if err != nil {
		return fmt.Errorf("count chain blocks: %w", err)
	}
	if block.Index != length {
		return dErrors.Newf(dErrors.CodeIntegrity,
			"append index %d does not extend chain of length %d", block.Index, length)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO location_blocks (
			chain_id, idx, ts, ts_nanos,
			longitude, latitude, altitude, h_accuracy, v_accuracy,
			motion, device_fp, device_tamp, prev_hash, hash, signature
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		uuid.UUID(chainID), block.Index,
		block.Timestamp.UTC(), block.Timestamp.Nanosecond(),
		block.Coordinates.Longitude, block.Coordinates.Latitude, block.Coordinates.Altitude,
		block.Accuracy.Horizontal, block.Accuracy.Vertical,
		string(block.Motion), block.Device.Fingerprint, block.Device.Tampered,
		block.PreviousHash[:], block.Hash[:], block.Signature[:],
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return dErrors.Newf(dErrors.CodeIntegrity,
				"block %d already exists on chain %s", block.Index, chainID)
		}
		return fmt.Errorf("insert block: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}

const blockColumns = `idx, ts, ts_nanos, longitude, latitude, altitude,
	h_accuracy, v_accuracy, motion, device_fp, device_tamp, prev_hash, hash, signature`

func (s *PostgresBlockStore) BlockByIndex(ctx context.Context, chainID domain.ChainID, index uint64) (LocationBlock, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+blockColumns+` FROM location_blocks WHERE chain_id = $1 AND idx = $2`,
		uuid.UUID(chainID), index)
	block, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return LocationBlock{}, ErrBlockNotFound
	}
	if err != nil {
		return LocationBlock{}, fmt.Errorf("query block by index: %w", err)
	}
	return block, nil
}

func (s *PostgresBlockStore) BlocksInRange(ctx context.Context, chainID domain.ChainID, from, to uint64) ([]LocationBlock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+blockColumns+` FROM location_blocks
		 WHERE chain_id = $1 AND idx BETWEEN $2 AND $3 ORDER BY idx`,
		uuid.UUID(chainID), from, to)
	if err != nil {
		return nil, fmt.Errorf("query blocks in range: %w", err)
	}
	defer rows.Close()
	return collectBlocks(rows)
}

func (s *PostgresBlockStore) BlocksByTime(ctx context.Context, chainID domain.ChainID, from, to time.Time) ([]LocationBlock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+blockColumns+` FROM location_blocks
		 WHERE chain_id = $1 AND ts >= $2 AND ts < $3 ORDER BY idx`,
		uuid.UUID(chainID), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query blocks by time: %w", err)
	}
	defer rows.Close()
	return collectBlocks(rows)
}

func (s *PostgresBlockStore) DeleteBlocksBefore(ctx context.Context, chainID domain.ChainID, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM location_blocks WHERE chain_id = $1 AND ts < $2`,
		uuid.UUID(chainID), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete pruned blocks: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row rowScanner) (LocationBlock, error) {
	var (
		b        LocationBlock
		ts       time.Time
		nanos    int32
		motion   string
		prevHash []byte
		hash     []byte
		sig      []byte
	)
	err := row.Scan(
		&b.Index, &ts, &nanos,
		&b.Coordinates.Longitude, &b.Coordinates.Latitude, &b.Coordinates.Altitude,
		&b.Accuracy.Horizontal, &b.Accuracy.Vertical,
		&motion, &b.Device.Fingerprint, &b.Device.Tampered,
		&prevHash, &hash, &sig,
	)
	if err != nil {
		return LocationBlock{}, err
	}
	// Postgres rounds timestamptz to microseconds; the stored nanos column
	// restores the exact value so recomputed hashes match.
	b.Timestamp = time.Unix(ts.Unix(), int64(nanos)).UTC()
	b.Motion = MotionState(motion)
	copy(b.PreviousHash[:], prevHash)
	copy(b.Hash[:], hash)
	copy(b.Signature[:], sig)

	if recomputed := b.ComputeHash(); recomputed != b.Hash {
		return LocationBlock{}, dErrors.Newf(dErrors.CodeIntegrity,
			"stored block %d failed hash recheck", b.Index)
	}
	return b, nil
}

func collectBlocks(rows *sql.Rows) ([]LocationBlock, error) {
	var out []LocationBlock
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, block)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Compile-time interface check.
var _ BlockStore = (*PostgresBlockStore)(nil)
