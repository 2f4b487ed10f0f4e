package core

import (
	"sort"
	"sync"
)

// DefaultHistorySize is how many runs are remembered.
const DefaultHistorySize = 50

// runHistory keeps the most recent runs in memory. Stored runs are copied on
// the way in and out so callers never share state with a running load.
type runHistory struct {
	mu    sync.RWMutex
	limit int
	runs  map[string]*Run
	order []string // oldest first
}

func newRunHistory(limit int) *runHistory {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return &runHistory{limit: limit, runs: make(map[string]*Run)}
}

func (h *runHistory) put(r Run) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.runs[r.ID]; !ok {
		h.order = append(h.order, r.ID)
	}
	cp := r
	cp.Results = append([]LoadResult(nil), r.Results...)
	h.runs[r.ID] = &cp

	for len(h.order) > h.limit {
		delete(h.runs, h.order[0])
		h.order = h.order[1:]
	}
}

// appendResult adds a finished file result to a running run.
func (h *runHistory) appendResult(id string, res LoadResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.runs[id]; ok {
		r.Results = append(r.Results, res)
	}
}

func (h *runHistory) get(id string) (Run, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.runs[id]
	if !ok {
		return Run{}, false
	}
	cp := *r
	cp.Results = append([]LoadResult(nil), r.Results...)
	return cp, true
}

// list returns runs newest first, without per-file results.
func (h *runHistory) list() []Run {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Run, 0, len(h.order))
	for _, id := range h.order {
		cp := *h.runs[id]
		cp.Results = nil
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}
