package service

import (
	"math/rand"

	"votemesh/models"
)

// Weight bounds. The floor guarantees no node is ever permanently
// excluded from candidate selection.
const (
	weightMax      = 3.0
	weightMin      = 0.1
	weightMidMax   = 2.0
	weightMidFloor = 0.3
)

type reputationRecord struct {
	successes int
	failures  int
	weight    float64
}

// ReputationTable tracks per-node success/failure counters and the
// derived voting weight. Callers are expected to serialize access; the
// table itself carries no lock.
type ReputationTable struct {
	records map[int]*reputationRecord
}

func NewReputationTable(nodeCount int) *ReputationTable {
	records := make(map[int]*reputationRecord, nodeCount)
	for i := 0; i < nodeCount; i++ {
		records[i] = &reputationRecord{weight: 1.0}
	}
	return &ReputationTable{records: records}
}

// Record folds one observed outcome into a node's score. The weight
// moves incrementally rather than being recomputed, so history decays
// smoothly.
func (rt *ReputationTable) Record(nodeID int, success bool) {
	rec, ok := rt.records[nodeID]
	if !ok {
		rec = &reputationRecord{weight: 1.0}
		rt.records[nodeID] = rec
	}
	if success {
		rec.successes++
	} else {
		rec.failures++
	}

	rate := float64(rec.successes) / float64(rec.successes+rec.failures)
	switch {
	case rate > 0.8:
		rec.weight = min(rec.weight+0.2, weightMax)
	case rate < 0.3:
		rec.weight = max(rec.weight-0.3, weightMin)
	case rate > 0.5:
		rec.weight = min(rec.weight+0.05, weightMidMax)
	default:
		rec.weight = max(rec.weight-0.1, weightMidFloor)
	}
}

// Weight returns a node's current voting weight.
func (rt *ReputationTable) Weight(nodeID int) float64 {
	if rec, ok := rt.records[nodeID]; ok {
		return rec.weight
	}
	return 1.0
}

// PickWeighted draws a node with weight-proportional probability.
func (rt *ReputationTable) PickWeighted(rng *rand.Rand, nodeCount int) int {
	var total float64
	for i := 0; i < nodeCount; i++ {
		total += rt.Weight(i)
	}
	target := rng.Float64() * total
	for i := 0; i < nodeCount; i++ {
		target -= rt.Weight(i)
		if target < 0 {
			return i
		}
	}
	return nodeCount - 1
}

// Snapshot exports the table for get_state and sync_state.
func (rt *ReputationTable) Snapshot() map[int]models.ReputationEntry {
	out := make(map[int]models.ReputationEntry, len(rt.records))
	for id, rec := range rt.records {
		out[id] = models.ReputationEntry{
			Successes: rec.successes,
			Failures:  rec.failures,
			Weight:    rec.weight,
		}
	}
	return out
}

// Merge adopts peer entries that carry more observations than ours, so
// a node that was offline catches up without double counting.
func (rt *ReputationTable) Merge(entries map[int]models.ReputationEntry) {
	for id, e := range entries {
		rec, ok := rt.records[id]
		if !ok || e.Successes+e.Failures > rec.successes+rec.failures {
			rt.records[id] = &reputationRecord{
				successes: e.Successes,
				failures:  e.Failures,
				weight:    e.Weight,
			}
		}
	}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
