package ledger

import (
	"fmt"

	"github.com/kimpers/betchya/internal/domain"
)

// ParticipationIndex maps an address to every bet it was named in. Entries
// are only ever appended.
type ParticipationIndex struct {
	records map[domain.Address][]domain.ParticipationRecord
}

func NewParticipationIndex() *ParticipationIndex {
	return &ParticipationIndex{records: make(map[domain.Address][]domain.ParticipationRecord)}
}

// Record appends (betIndex, role) to addr's list.
func (ix *ParticipationIndex) Record(addr domain.Address, betIndex uint64, role domain.Role) {
	ix.records[addr] = append(ix.records[addr], domain.ParticipationRecord{BetIndex: betIndex, Role: role})
}

// Count returns how many participations addr has.
func (ix *ParticipationIndex) Count(addr domain.Address) uint64 {
	return uint64(len(ix.records[addr]))
}

// At returns addr's i-th participation in creation order.
func (ix *ParticipationIndex) At(addr domain.Address, i uint64) (domain.ParticipationRecord, error) {
	recs := ix.records[addr]
	if i >= uint64(len(recs)) {
		return domain.ParticipationRecord{}, fmt.Errorf("participation %d of %s: %w", i, addr.Hex(), domain.ErrNotFound)
	}
	return recs[i], nil
}

// All returns a copy of addr's participations.
func (ix *ParticipationIndex) All(addr domain.Address) []domain.ParticipationRecord {
	recs := ix.records[addr]
	out := make([]domain.ParticipationRecord, len(recs))
	copy(out, recs)
	return out
}
