package incentive

import (
	"sort"
	"time"

	"github.com/warp/settlement-engine/core"
)

// =============================================================================
// ARENA - Append-only, time-ordered deal sequence per closer
// =============================================================================

// entry is one deal as placed in the arena.
type entry struct {
	deal   Deal
	owner  core.EmployeeID // current owner
	closer core.EmployeeID // owner at close; fixes the sequence slot

	// counted is the instant the deal counts toward a period's sales: its
	// close, or the next open period when month-end locking moved it.
	counted time.Time
	// payable is the earliest instant its incentive can be paid. A deal
	// recorded after its period was locked is always paid in the next open
	// period, whatever the role's month-end locking setting.
	payable time.Time
}

// Arena holds every deal once, plus per-closer index sequences into it.
// Entries are never moved or mutated after Build. A deal keeps its slot in
// the sequence of the employee who closed it even after an ownership
// transfer, so unlock positions never shift.
type Arena struct {
	entries  []entry
	byCloser map[core.EmployeeID][]int
	byDeal   map[core.DealID]int
	locks    map[core.Period]time.Time
}

// BuildArena places deals into per-closer sequences ordered by
// (ClosedAt, Sequence, ID). owners maps a deal to its current owner.
func BuildArena(deals []Deal, owners map[core.DealID]core.EmployeeID, locked []LockedPeriod, monthEndLocking bool) *Arena {
	a := &Arena{
		entries:  make([]entry, 0, len(deals)),
		byCloser: make(map[core.EmployeeID][]int),
		byDeal:   make(map[core.DealID]int, len(deals)),
		locks:    indexLocks(locked),
	}

	for _, d := range deals {
		payable := effectiveClose(d, a.locks)
		counted := d.ClosedAt.UTC()
		if monthEndLocking {
			counted = payable
		}
		a.byDeal[d.ID] = len(a.entries)
		a.entries = append(a.entries, entry{
			deal:    d,
			owner:   owners[d.ID],
			closer:  d.closer(),
			counted: counted,
			payable: payable,
		})
	}

	for i, e := range a.entries {
		a.byCloser[e.closer] = append(a.byCloser[e.closer], i)
	}
	for closer, seq := range a.byCloser {
		sort.SliceStable(seq, func(i, j int) bool {
			x, y := a.entries[seq[i]].deal, a.entries[seq[j]].deal
			if !x.ClosedAt.Equal(y.ClosedAt) {
				return x.ClosedAt.Before(y.ClosedAt)
			}
			if x.Sequence != y.Sequence {
				return x.Sequence < y.Sequence
			}
			return x.ID < y.ID
		})
		a.byCloser[closer] = seq
	}
	return a
}

// SalesIn counts the deals emp closed that count toward period p.
func (a *Arena) SalesIn(emp core.EmployeeID, p core.Period) int {
	n := 0
	for _, idx := range a.byCloser[emp] {
		if p.Contains(a.entries[idx].counted) {
			n++
		}
	}
	return n
}

// Position returns the closer of a deal and its 0-based index in the
// closer's sequence.
func (a *Arena) Position(id core.DealID) (closer core.EmployeeID, pos int, ok bool) {
	idx, found := a.byDeal[id]
	if !found {
		return "", 0, false
	}
	closer = a.entries[idx].closer
	for p, i := range a.byCloser[closer] {
		if i == idx {
			return closer, p, true
		}
	}
	return "", 0, false
}

// ReleasePoint returns when the deal at pos in closer's sequence unlocks, and
// false when the unlocking deal has not closed yet.
func (a *Arena) ReleasePoint(closer core.EmployeeID, pos int, rule unlockLag) (time.Time, bool) {
	seq := a.byCloser[closer]
	own := a.entries[seq[pos]].payable
	trigger := pos + int(rule)
	if trigger >= len(seq) {
		return time.Time{}, false
	}
	at := a.entries[seq[trigger]].payable
	if own.After(at) {
		at = own
	}
	return at, true
}

// FirstOpen returns p, or the first period after it that is not locked.
func (a *Arena) FirstOpen(p core.Period) core.Period {
	for {
		if _, locked := a.locks[p]; !locked {
			return p
		}
		p = p.Next()
	}
}

func (a *Arena) entryAt(closer core.EmployeeID, pos int) entry {
	return a.entries[a.byCloser[closer][pos]]
}

type unlockLag int

// =============================================================================
// MONTH-END LOCKING
// =============================================================================

func indexLocks(locked []LockedPeriod) map[core.Period]time.Time {
	idx := make(map[core.Period]time.Time, len(locked))
	for _, l := range locked {
		if prev, ok := idx[l.Period]; !ok || l.LockedAt.Before(prev) {
			idx[l.Period] = l.LockedAt
		}
	}
	return idx
}

// effectiveClose rolls a deal forward past every period that was already
// locked when the deal was recorded.
func effectiveClose(d Deal, locks map[core.Period]time.Time) time.Time {
	eff := d.ClosedAt.UTC()
	p := core.PeriodOf(eff)
	recorded := d.recordedAt()
	for {
		lockedAt, ok := locks[p]
		if !ok || recorded.Before(lockedAt) {
			return eff
		}
		p = p.Next()
		eff = p.Start()
	}
}
