package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kimpers/betchya/internal/domain"
	"github.com/kimpers/betchya/internal/metrics"
)

// PriceSource returns the current spot price for a pair.
type PriceSource interface {
	Ticker(ctx context.Context, pair string) (decimal.Decimal, error)
}

// BetReader reads bets from the authoritative in-memory ledger for the
// confirmation scan.
type BetReader interface {
	Bet(index uint64) (domain.Bet, error)
	LedgerBets(filter domain.BetFilter, opts domain.ListOpts) []domain.Bet
}

// PriceConfig tunes the price oracle.
type PriceConfig struct {
	Pair           string
	MaxPriceAge    time.Duration
	UpdateInterval time.Duration
	ScanInterval   time.Duration
	// ScanLimit caps how many accepted bets one scan looks at.
	ScanLimit int
}

// PriceUpdate is published on domain.ChannelPriceUpdates.
type PriceUpdate struct {
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Verdict is published on domain.ChannelJudgeResults.
type Verdict struct {
	BetIndex  uint64          `json:"bet_index"`
	Pair      string          `json:"pair"`
	Reference decimal.Decimal `json:"reference"`
	Price     decimal.Decimal `json:"price"`
	Result    domain.Result   `json:"result"`
	At        time.Time       `json:"at"`
}

// PriceJudge settles bets on whether a pair's price ended above or below a
// reference. It only reaches the ledger through its JudgeCapability.
type PriceJudge struct {
	cfg     PriceConfig
	source  PriceSource
	cache   domain.PriceCache
	bus     domain.SignalBus
	judge   domain.JudgeCapability
	address domain.Address
	bets    BetReader
	dedup   *Dedup
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

// NewPriceJudge creates a PriceJudge acting as address through judge.
func NewPriceJudge(
	cfg PriceConfig,
	source PriceSource,
	cache domain.PriceCache,
	bus domain.SignalBus,
	judge domain.JudgeCapability,
	address domain.Address,
	bets BetReader,
	logger *slog.Logger,
) *PriceJudge {
	if cfg.Pair == "" {
		cfg.Pair = "ETHUSD"
	}
	if cfg.MaxPriceAge <= 0 {
		cfg.MaxPriceAge = 5 * time.Minute
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = time.Minute
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 15 * time.Second
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = 200
	}
	return &PriceJudge{
		cfg:     cfg,
		source:  source,
		cache:   cache,
		bus:     bus,
		judge:   judge,
		address: address,
		bets:    bets,
		dedup:   NewDedup(4 * cfg.ScanInterval),
		now:     time.Now,
		logger:  logger,
	}
}

func (p *PriceJudge) WithMetrics(m *metrics.Metrics) *PriceJudge {
	p.metrics = m
	return p
}

// Address is the judge address bets must name for the oracle to act.
func (p *PriceJudge) Address() domain.Address { return p.address }

// Pair is the traded pair the oracle watches.
func (p *PriceJudge) Pair() string { return p.cfg.Pair }

// UpdatePrice fetches the current price, caches it and announces it.
func (p *PriceJudge) UpdatePrice(ctx context.Context) (PriceUpdate, error) {
	price, err := p.source.Ticker(ctx, p.cfg.Pair)
	if err != nil {
		return PriceUpdate{}, fmt.Errorf("price_judge: fetch: %w", err)
	}
	u := PriceUpdate{Pair: p.cfg.Pair, Price: price, UpdatedAt: p.now().UTC()}
	if err := p.cache.SetPrice(ctx, u.Pair, u.Price, u.UpdatedAt); err != nil {
		return PriceUpdate{}, fmt.Errorf("price_judge: cache: %w", err)
	}
	if p.metrics != nil {
		f, _ := price.Float64()
		p.metrics.OraclePrice.Set(f)
	}

	if payload, err := json.Marshal(u); err == nil {
		if err := p.bus.Publish(ctx, domain.ChannelPriceUpdates, payload); err != nil {
			p.logger.WarnContext(ctx, "price_judge: publish price failed", slog.String("error", err.Error()))
		}
	}

	p.logger.InfoContext(ctx, "price_judge: price updated",
		slog.String("pair", u.Pair),
		slog.String("price", u.Price.String()),
	)
	return u, nil
}

// Price returns the cached price and when it was fetched.
func (p *PriceJudge) Price(ctx context.Context) (PriceUpdate, error) {
	price, at, err := p.cache.GetPrice(ctx, p.cfg.Pair)
	if err != nil {
		return PriceUpdate{}, fmt.Errorf("price_judge: %w", err)
	}
	return PriceUpdate{Pair: p.cfg.Pair, Price: price, UpdatedAt: at}, nil
}

// Outcome compares price with reference: above means the proposer won,
// below means the acceptor won, equal is a draw.
func Outcome(price, reference decimal.Decimal) domain.Result {
	switch price.Cmp(reference) {
	case 1:
		return domain.ResultProposerWon
	case -1:
		return domain.ResultAcceptorWon
	default:
		return domain.ResultDraw
	}
}

// freshPrice returns the cached price, or ErrStalePrice when it is older
// than MaxPriceAge.
func (p *PriceJudge) freshPrice(ctx context.Context) (PriceUpdate, error) {
	cur, err := p.Price(ctx)
	if err != nil {
		return PriceUpdate{}, err
	}
	if age := p.now().Sub(cur.UpdatedAt); age > p.cfg.MaxPriceAge {
		return PriceUpdate{}, fmt.Errorf("price_judge: price is %s old: %w", age.Round(time.Second), domain.ErrStalePrice)
	}
	return cur, nil
}

// Judge settles betIndex by comparing the current price with the reference
// bound when the oracle confirmed the bet.
func (p *PriceJudge) Judge(ctx context.Context, betIndex uint64) (Verdict, error) {
	bet, err := p.bets.Bet(betIndex)
	if err != nil {
		return Verdict{}, fmt.Errorf("price_judge: bet %d: %w", betIndex, err)
	}
	if bet.Judge != p.address {
		return Verdict{}, fmt.Errorf("price_judge: bet %d is judged by %s: %w", betIndex, bet.Judge.Hex(), domain.ErrNotAuthorized)
	}
	reference, err := p.cache.Reference(ctx, p.cfg.Pair, betIndex)
	if err != nil {
		return Verdict{}, fmt.Errorf("price_judge: bet %d reference: %w", betIndex, err)
	}

	cur, err := p.freshPrice(ctx)
	if err != nil {
		return Verdict{}, err
	}

	v := Verdict{
		BetIndex:  betIndex,
		Pair:      p.cfg.Pair,
		Reference: reference,
		Price:     cur.Price,
		Result:    Outcome(cur.Price, reference),
		At:        p.now().UTC(),
	}
	if err := p.judge.SettleBet(ctx, betIndex, v.Result); err != nil {
		return Verdict{}, fmt.Errorf("price_judge: settle bet %d: %w", betIndex, err)
	}

	if payload, err := json.Marshal(v); err == nil {
		if err := p.bus.Publish(ctx, domain.ChannelJudgeResults, payload); err != nil {
			p.logger.WarnContext(ctx, "price_judge: publish verdict failed", slog.String("error", err.Error()))
		}
	}
	p.logger.InfoContext(ctx, "price_judge: settled",
		slog.Uint64("bet_index", betIndex),
		slog.String("price", v.Price.String()),
		slog.String("reference", reference.String()),
		slog.String("result", v.Result.String()),
	)
	return v, nil
}

// ConfirmPending confirms every accepted bet that names the oracle as judge
// and returns how many confirmations were submitted. Each bet is first bound
// to the current price as its settlement reference, so nothing confirms
// without a fresh price.
func (p *PriceJudge) ConfirmPending(ctx context.Context) (int, error) {
	accepted := domain.StageAccepted
	addr := p.address
	bets := p.bets.LedgerBets(domain.BetFilter{Stage: &accepted, Address: &addr}, domain.ListOpts{Limit: p.cfg.ScanLimit})
	if len(bets) == 0 {
		return 0, nil
	}
	cur, err := p.freshPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("price_judge: confirm: %w", err)
	}

	confirmed := 0
	for _, bet := range bets {
		if bet.Judge != p.address || bet.Stage != domain.StageAccepted {
			continue
		}
		key := "confirm:" + strconv.FormatUint(bet.Index, 10)
		if p.dedup.Seen(key) {
			continue
		}
		if _, err := p.cache.BindReference(ctx, p.cfg.Pair, bet.Index, cur.Price); err != nil {
			p.dedup.Forget(key)
			p.logger.WarnContext(ctx, "price_judge: bind reference failed",
				slog.Uint64("bet_index", bet.Index),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := p.judge.ConfirmJudge(ctx, bet.Index); err != nil {
			p.dedup.Forget(key)
			p.logger.WarnContext(ctx, "price_judge: confirm failed",
				slog.Uint64("bet_index", bet.Index),
				slog.String("error", err.Error()),
			)
			continue
		}
		confirmed++
	}
	return confirmed, nil
}

// Run refreshes the price and confirms pending bets until ctx is done.
func (p *PriceJudge) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "price_judge: started",
		slog.String("pair", p.cfg.Pair),
		slog.String("address", p.address.Hex()),
	)

	if _, err := p.UpdatePrice(ctx); err != nil {
		p.logger.WarnContext(ctx, "price_judge: initial update failed", slog.String("error", err.Error()))
	}

	update := time.NewTicker(p.cfg.UpdateInterval)
	defer update.Stop()
	scan := time.NewTicker(p.cfg.ScanInterval)
	defer scan.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-update.C:
			if _, err := p.UpdatePrice(ctx); err != nil {
				p.logger.WarnContext(ctx, "price_judge: update failed", slog.String("error", err.Error()))
			}
		case <-scan.C:
			if _, err := p.ConfirmPending(ctx); err != nil {
				p.logger.WarnContext(ctx, "price_judge: scan failed", slog.String("error", err.Error()))
			}
			p.dedup.Cleanup()
		}
	}
}
