package anchor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"olocus/internal/crypto"
	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

// PostgresStore persists daily anchors in PostgreSQL. The unique index on
// (chain_id, day) enforces one anchor per UTC day even across concurrent
// writers.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS daily_anchors (
			id            UUID        PRIMARY KEY,
			chain_id      UUID        NOT NULL,
			day           DATE        NOT NULL,
			head_hash     BYTEA       NOT NULL,
			visits_root   BYTEA       NOT NULL,
			commitments   BYTEA       NOT NULL,
			period_start  TIMESTAMPTZ NOT NULL,
			period_end    TIMESTAMPTZ NOT NULL,
			ts_token      JSONB,
			chain_ref     JSONB,
			status        TEXT        NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			signature     BYTEA       NOT NULL,
			UNIQUE (chain_id, day)
		);
		CREATE INDEX IF NOT EXISTS daily_anchors_pending
			ON daily_anchors (chain_id, period_start) WHERE status <> 'confirmed';
	`)
	if err != nil {
		return fmt.Errorf("ensure daily_anchors schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveAnchor(ctx context.Context, a DailyAnchor) error {
	commitments, err := encodeCommitments(a.VisitCommitments)
	if err != nil {
		return err
	}
	tsToken, chainRef, err := encodeProofs(a)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_anchors (
			id, chain_id, day, head_hash, visits_root, commitments,
			period_start, period_end, ts_token, chain_ref, status, created_at, signature
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		uuid.UUID(a.ID), uuid.UUID(a.ChainID), a.Day(),
		a.ChainHeadHash[:], a.VisitsMerkleRoot[:], commitments,
		a.PeriodStart.UTC(), a.PeriodEnd.UTC(),
		tsToken, chainRef, string(a.Status), a.CreatedAt.UTC(), a.Signature[:],
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return dErrors.Newf(dErrors.CodeAnchorDuplicateDay,
				"anchor for %s already exists", a.Day().Format("2006-01-02"))
		}
		return fmt.Errorf("insert anchor: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProofs(ctx context.Context, a DailyAnchor) error {
	tsToken, chainRef, err := encodeProofs(a)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE daily_anchors SET ts_token = $2, chain_ref = $3, status = $4
		WHERE id = $1`,
		uuid.UUID(a.ID), tsToken, chainRef, string(a.Status))
	if err != nil {
		return fmt.Errorf("update anchor proofs: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAnchorNotFound
	}
	return nil
}

const anchorColumns = `id, chain_id, head_hash, visits_root, commitments,
	period_start, period_end, ts_token, chain_ref, status, created_at, signature`

func (s *PostgresStore) AnchorByID(ctx context.Context, id domain.AnchorID) (DailyAnchor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+anchorColumns+` FROM daily_anchors WHERE id = $1`, uuid.UUID(id))
	return scanAnchor(row)
}

func (s *PostgresStore) AnchorByDay(ctx context.Context, chainID domain.ChainID, day time.Time) (DailyAnchor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+anchorColumns+` FROM daily_anchors WHERE chain_id = $1 AND day = $2`,
		uuid.UUID(chainID), day.UTC().Truncate(24*time.Hour))
	return scanAnchor(row)
}

func (s *PostgresStore) PendingAnchors(ctx context.Context, chainID domain.ChainID) ([]DailyAnchor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+anchorColumns+` FROM daily_anchors
		 WHERE chain_id = $1 AND status <> 'confirmed' ORDER BY period_start`,
		uuid.UUID(chainID))
	if err != nil {
		return nil, fmt.Errorf("query pending anchors: %w", err)
	}
	defer rows.Close()

	var out []DailyAnchor
	for rows.Next() {
		a, err := scanAnchor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LatestAnchor(ctx context.Context, chainID domain.ChainID) (DailyAnchor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+anchorColumns+` FROM daily_anchors
		 WHERE chain_id = $1 ORDER BY period_start DESC LIMIT 1`,
		uuid.UUID(chainID))
	return scanAnchor(row)
}

func encodeCommitments(hashes []crypto.Hash) ([]byte, error) {
	buf := make([]byte, 0, len(hashes)*32)
	for _, h := range hashes {
		buf = append(buf, h[:]...)
	}
	return buf, nil
}

func decodeCommitments(buf []byte) ([]crypto.Hash, error) {
	if len(buf)%32 != 0 {
		return nil, dErrors.New(dErrors.CodeIntegrity, "stored commitments are not a multiple of 32 bytes")
	}
	out := make([]crypto.Hash, len(buf)/32)
	for i := range out {
		copy(out[i][:], buf[i*32:(i+1)*32])
	}
	return out, nil
}

func encodeProofs(a DailyAnchor) (tsToken, chainRef []byte, err error) {
	if a.TimestampToken != nil {
		if tsToken, err = json.Marshal(a.TimestampToken); err != nil {
			return nil, nil, fmt.Errorf("encode timestamp token: %w", err)
		}
	}
	if a.ChainRef != nil {
		if chainRef, err = json.Marshal(a.ChainRef); err != nil {
			return nil, nil, fmt.Errorf("encode chain reference: %w", err)
		}
	}
	return tsToken, chainRef, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnchor(row rowScanner) (DailyAnchor, error) {
	var (
		a           DailyAnchor
		id, chainID uuid.UUID
		headHash    []byte
		visitsRoot  []byte
		commitments []byte
		tsToken     []byte
		chainRef    []byte
		status      string
		sig         []byte
	)
	err := row.Scan(
		&id, &chainID, &headHash, &visitsRoot, &commitments,
		&a.PeriodStart, &a.PeriodEnd, &tsToken, &chainRef, &status, &a.CreatedAt, &sig,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return DailyAnchor{}, ErrAnchorNotFound
	}
	if err != nil {
		return DailyAnchor{}, fmt.Errorf("scan anchor: %w", err)
	}

	a.ID = domain.AnchorID(id)
	a.ChainID = domain.ChainID(chainID)
	copy(a.ChainHeadHash[:], headHash)
	copy(a.VisitsMerkleRoot[:], visitsRoot)
	copy(a.Signature[:], sig)
	a.Status = Status(status)
	a.PeriodStart = a.PeriodStart.UTC()
	a.PeriodEnd = a.PeriodEnd.UTC()
	a.CreatedAt = a.CreatedAt.UTC()

	if a.VisitCommitments, err = decodeCommitments(commitments); err != nil {
		return DailyAnchor{}, err
	}
	if len(tsToken) > 0 {
		a.TimestampToken = &TimestampToken{}
		if err := json.Unmarshal(tsToken, a.TimestampToken); err != nil {
			return DailyAnchor{}, fmt.Errorf("decode timestamp token: %w", err)
		}
	}
	if len(chainRef) > 0 {
		a.ChainRef = &ChainReference{}
		if err := json.Unmarshal(chainRef, a.ChainRef); err != nil {
			return DailyAnchor{}, fmt.Errorf("decode chain reference: %w", err)
		}
	}
	return a, nil
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)
