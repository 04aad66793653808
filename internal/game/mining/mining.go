// Package mining resolves exploration actions: extracting an asteroid's
// remaining resources bounded by the visiting fleet's cargo capacity.
package mining

import "sort"

// Result is the outcome of one exploration.
type Result struct {
	// Extracted maps resource name to the amount mined.
	Extracted map[string]int64
	// CargoUsed is the total cargo capacity consumed.
	CargoUsed int64
	// Success is true iff any resource was extracted.
	Success bool
	// HadMiner records whether a dedicated mining unit was present. Fleets
	// without one operate at reduced efficiency.
	HadMiner bool
	// Depleted is true when the asteroid holds nothing after extraction.
	Depleted bool
}

// minerEfficiency is the fraction of cargo capacity usable without a
// dedicated mining unit.
const minerEfficiency = 2

// Resolve extracts resources from an asteroid.
//
// remaining maps resource name to the asteroid's current amount. Resources
// are drained in lexicographic name order until the usable cargo capacity is
// exhausted; for each resource the amount taken is
// min(remaining, capacity left). Without a miner the usable capacity is
// halved. The input map is not mutated.
//
// Postcondition: sum of Extracted == CargoUsed <= usable capacity;
// Extracted[r] <= remaining[r] for every resource r.
func Resolve(remaining map[string]int64, cargoCapacity int64, hadMiner bool) Result {
	capacity := cargoCapacity
	if !hadMiner {
		capacity /= minerEfficiency
	}

	names := make([]string, 0, len(remaining))
	for name := range remaining {
		names = append(names, name)
	}
	sort.Strings(names)

	res := Result{
		Extracted: make(map[string]int64, len(remaining)),
		HadMiner:  hadMiner,
	}
	left := capacity
	for _, name := range names {
		if left <= 0 {
			break
		}
		available := remaining[name]
		if available <= 0 {
			continue
		}
		take := available
		if take > left {
			take = left
		}
		res.Extracted[name] = take
		res.CargoUsed += take
		left -= take
	}

	res.Success = res.CargoUsed > 0

	res.Depleted = true
	for _, name := range names {
		if remaining[name]-res.Extracted[name] > 0 {
			res.Depleted = false
			break
		}
	}
	return res
}

// Remaining returns the asteroid's resource amounts after extraction.
func Remaining(before map[string]int64, r Result) map[string]int64 {
	out := make(map[string]int64, len(before))
	for name, amount := range before {
		left := amount - r.Extracted[name]
		if left < 0 {
			left = 0
		}
		out[name] = left
	}
	return out
}
