package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kimpers/betchya/internal/domain"
)

type memJournal struct {
	mu        sync.Mutex
	entries   []domain.JournalEntry
	appendErr error
}

func (j *memJournal) Append(_ context.Context, e domain.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.appendErr != nil {
		return j.appendErr
	}
	if e.Seq != uint64(len(j.entries))+1 {
		return fmt.Errorf("seq %d: %w", e.Seq, domain.ErrAlreadyExists)
	}
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) ListAfter(_ context.Context, afterSeq uint64, limit int) ([]domain.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range j.entries {
		if e.Seq <= afterSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (j *memJournal) ListBefore(_ context.Context, after uint64, before time.Time) ([]domain.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range j.entries {
		if e.Seq > after && e.CommittedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *memJournal) Head(context.Context) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return uint64(len(j.entries)), nil
}

type memBets struct {
	mu   sync.Mutex
	bets map[uint64]domain.Bet
	// failNext makes the next n upserts fail.
	failNext int
}

func newMemBets() *memBets { return &memBets{bets: make(map[uint64]domain.Bet)} }

func (m *memBets) Upsert(_ context.Context, b domain.Bet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return errors.New("projection unavailable")
	}
	m.bets[b.Index] = b
	return nil
}

func (m *memBets) GetByIndex(_ context.Context, index uint64) (domain.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bets[index]
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	return b, nil
}

func (m *memBets) List(_ context.Context, f domain.BetFilter, _ domain.ListOpts) ([]domain.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Bet
	for _, b := range m.bets {
		if f.Stage != nil && b.Stage != *f.Stage {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Index > out[k].Index })
	return out, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{ID: int64(len(a.entries) + 1), Event: event, Detail: detail})
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditEntry(nil), a.entries...), nil
}

func (a *memAudit) ListBefore(context.Context, int64, time.Time) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	stream    []domain.StreamMessage
	failWith  error
}

func newMemBus() *memBus { return &memBus{published: make(map[string][][]byte)} }

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return b.failWith
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return b.failWith
	}
	id := strconv.Itoa(len(b.stream)+1) + "-0"
	b.stream = append(b.stream, domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

func (b *memBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	seen := lastID == "" || lastID == "0"
	for _, m := range b.stream {
		if seen {
			out = append(out, m)
			if count > 0 && len(out) == count {
				break
			}
		}
		if m.ID == lastID {
			seen = true
		}
	}
	return out, nil
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

// memLocks holds the lock busy for `busy` attempts before granting it.
type memLocks struct {
	mu       sync.Mutex
	busy     int
	attempts int
	held     bool
}

func (l *memLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.busy > 0 {
		l.busy--
		return nil, domain.ErrLockHeld
	}
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.held = true
	return func() {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
	}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }
