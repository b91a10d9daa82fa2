package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kimpers/betchya/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betColumns = `bet_index, proposer, acceptor, judge, amount::text, description,
	stage, result, proposer_withdrawn, acceptor_withdrawn, acceptor_staked, created_at`

// Upsert writes the bet row and its three participation rows in one batch.
func (s *BetStore) Upsert(ctx context.Context, b domain.Bet) error {
	const upsertBet = `
		INSERT INTO bets (
			bet_index, proposer, acceptor, judge, amount, description,
			stage, result, proposer_withdrawn, acceptor_withdrawn, acceptor_staked,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5::numeric, $6,
			$7, $8, $9, $10, $11,
			$12, NOW()
		)
		ON CONFLICT (bet_index) DO UPDATE SET
			stage              = EXCLUDED.stage,
			result             = EXCLUDED.result,
			proposer_withdrawn = EXCLUDED.proposer_withdrawn,
			acceptor_withdrawn = EXCLUDED.acceptor_withdrawn,
			acceptor_staked    = EXCLUDED.acceptor_staked,
			updated_at         = NOW()`
	const insertParticipation = `
		INSERT INTO participations (address, bet_index, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (address, bet_index) DO NOTHING`

	batch := &pgx.Batch{}
	batch.Queue(upsertBet,
		int64(b.Index), b.Proposer.Hex(), b.Acceptor.Hex(), b.Judge.Hex(), b.Amount.String(), b.Description,
		b.Stage.String(), b.Result.String(), b.ProposerWithdrawn, b.AcceptorWithdrawn, b.AcceptorStaked,
		b.CreatedAt,
	)
	for _, p := range []struct {
		addr domain.Address
		role domain.Role
	}{
		{b.Proposer, domain.RoleProposer},
		{b.Acceptor, domain.RoleAcceptor},
		{b.Judge, domain.RoleJudge},
	} {
		batch.Queue(insertParticipation, p.addr.Hex(), int64(b.Index), p.role.String())
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert bet %d (stmt %d): %w", b.Index, i, err)
		}
	}
	return nil
}

// GetByIndex returns the projected bet or domain.ErrNotFound.
func (s *BetStore) GetByIndex(ctx context.Context, index uint64) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE bet_index = $1`, int64(index))
	b, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, fmt.Errorf("postgres: bet %d: %w", index, domain.ErrNotFound)
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %d: %w", index, err)
	}
	return b, nil
}

// List returns bets newest first, optionally narrowed to a stage or to
// bets an address participates in.
func (s *BetStore) List(ctx context.Context, filter domain.BetFilter, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT ` + betColumns + ` FROM bets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Stage != nil {
		query += fmt.Sprintf(" AND stage = $%d", argIdx)
		args = append(args, filter.Stage.String())
		argIdx++
	}
	if filter.Address != nil {
		query += fmt.Sprintf(" AND bet_index IN (SELECT bet_index FROM participations WHERE address = $%d)", argIdx)
		args = append(args, filter.Address.Hex())
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY bet_index DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

func scanBet(row pgx.Row) (domain.Bet, error) {
	var (
		b                         domain.Bet
		index                     int64
		proposer, acceptor, judge string
		amount, stage, result     string
	)
	if err := row.Scan(
		&index, &proposer, &acceptor, &judge, &amount, &b.Description,
		&stage, &result, &b.ProposerWithdrawn, &b.AcceptorWithdrawn, &b.AcceptorStaked, &b.CreatedAt,
	); err != nil {
		return domain.Bet{}, err
	}

	var err error
	b.Index = uint64(index)
	b.Proposer = common.HexToAddress(proposer)
	b.Acceptor = common.HexToAddress(acceptor)
	b.Judge = common.HexToAddress(judge)
	if b.Amount, err = domain.ParseAmount(amount); err != nil {
		return domain.Bet{}, err
	}
	if b.Stage, err = domain.ParseStage(stage); err != nil {
		return domain.Bet{}, err
	}
	if b.Result, err = domain.ParseResult(result); err != nil {
		return domain.Bet{}, err
	}
	return b, nil
}
