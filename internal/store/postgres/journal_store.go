package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kimpers/betchya/internal/domain"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// JournalStore implements domain.JournalStore using PostgreSQL.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a new JournalStore backed by the given connection pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// Append writes one committed transaction. A duplicate seq, hash or
// (sender, nonce) means another sequencer got there first.
func (s *JournalStore) Append(ctx context.Context, e domain.JournalEntry) error {
	txJSON, err := json.Marshal(e.Tx)
	if err != nil {
		return fmt.Errorf("postgres: marshal journal tx %d: %w", e.Seq, err)
	}

	const query = `
		INSERT INTO journal (seq, op, sender, nonce, tx, signature, hash, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.pool.Exec(ctx, query,
		int64(e.Seq), e.Tx.Op.String(), e.Tx.From.Hex(), int64(e.Tx.Nonce),
		txJSON, e.Signature, e.Hash, e.CommittedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("postgres: journal seq %d: %w", e.Seq, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: append journal seq %d: %w", e.Seq, err)
	}
	return nil
}

// ListAfter returns up to limit entries with seq > afterSeq in order.
func (s *JournalStore) ListAfter(ctx context.Context, afterSeq uint64, limit int) ([]domain.JournalEntry, error) {
	query := `SELECT seq, tx, signature, hash, committed_at FROM journal WHERE seq > $1 ORDER BY seq`
	args := []any{int64(afterSeq)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal after %d: %w", afterSeq, err)
	}
	return collectJournal(rows)
}

// ListBefore returns entries after afterSeq committed before the cutoff,
// oldest first.
func (s *JournalStore) ListBefore(ctx context.Context, afterSeq uint64, before time.Time) ([]domain.JournalEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, tx, signature, hash, committed_at FROM journal
		 WHERE seq > $1 AND committed_at < $2 ORDER BY seq`,
		int64(afterSeq), before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectJournal(rows)
}

// Head returns the highest committed seq, 0 for an empty journal.
func (s *JournalStore) Head(ctx context.Context) (uint64, error) {
	var head int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM journal`).Scan(&head); err != nil {
		return 0, fmt.Errorf("postgres: journal head: %w", err)
	}
	return uint64(head), nil
}

func collectJournal(rows pgx.Rows) ([]domain.JournalEntry, error) {
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e      domain.JournalEntry
			seq    int64
			txJSON []byte
		)
		if err := rows.Scan(&seq, &txJSON, &e.Signature, &e.Hash, &e.CommittedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan journal entry: %w", err)
		}
		if err := json.Unmarshal(txJSON, &e.Tx); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal journal tx %d: %w", seq, err)
		}
		e.Seq = uint64(seq)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: journal rows: %w", err)
	}
	return entries, nil
}
