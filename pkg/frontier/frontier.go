// Package frontier decides how far the reflection cursor may advance.
//
// The reflection pass tails the marketplace index. Every add_transaction
// row it has seen but could not mirror yet is a Pending entry. The cursor
// may only move past positions with no pending work behind them, so a
// failed reflection is seen again on the next pass instead of being
// skipped forever.
//
// The frontier is the set of oldest outstanding trades, one per
// counterparty: a counterparty whose log is unreachable blocks only its
// own trades from being considered done.
package frontier

import "sort"

// Pending is one indexed trade whose mirror has not been written yet.
type Pending struct {
	Pos     int64  `json:"pos"`
	TradeID string `json:"trade_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Reason  string `json:"reason,omitempty"`
}

// ComputeFrontier returns the oldest pending trade of each counterparty,
// ordered by index position. A pending trade p is in the frontier iff no
// other pending trade for the same counterparty has a smaller position.
func ComputeFrontier(pending []Pending) []Pending {
	var frontier []Pending
	for _, p := range pending {
		dominated := false
		for _, q := range pending {
			if q.To == p.To && q.Pos < p.Pos {
				dominated = true
				break
			}
		}
		if !dominated {
			frontier = append(frontier, p)
		}
	}
	sort.Slice(frontier, func(i, j int) bool { return frontier[i].Pos < frontier[j].Pos })
	return frontier
}

// Watermark is the highest index position the cursor may be stored at:
// one below the oldest pending trade, or head when nothing is pending.
func Watermark(head int64, pending []Pending) int64 {
	w := head
	for _, p := range pending {
		if p.Pos-1 < w {
			w = p.Pos - 1
		}
	}
	if w < 0 {
		return 0
	}
	return w
}

// Status is a snapshot of reflection progress.
type Status struct {
	Head      int64     `json:"head"`
	Cursor    int64     `json:"cursor"`
	Watermark int64     `json:"watermark"`
	CaughtUp  bool      `json:"caught_up"`
	Frontier  []Pending `json:"frontier"`
	BlockedBy []Pending `json:"blocked_by,omitempty"`
}

// ComputeStatus reports whether the cursor can advance to head, and which
// pending trades hold it back.
func ComputeStatus(head, cursor int64, pending []Pending) Status {
	st := Status{
		Head:      head,
		Cursor:    cursor,
		Watermark: Watermark(head, pending),
		Frontier:  ComputeFrontier(pending),
	}
	for _, p := range pending {
		if p.Pos <= head {
			st.BlockedBy = append(st.BlockedBy, p)
		}
	}
	st.CaughtUp = len(st.BlockedBy) == 0 && cursor >= head
	return st
}
