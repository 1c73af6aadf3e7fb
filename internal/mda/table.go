package mda

import "math"

// StoppingTable precomputes n(k) for every k in [0, maxBranch]: the
// smallest number of probes that bounds the probability of missing a
// (k+1)-th load-balanced interface, under a uniform-load-balancer
// assumption, at or below bound. Computed once per run, never per hop.
func StoppingTable(bound float64, maxBranch int) []int {
	table := make([]int, maxBranch+1)
	for k := 0; k <= maxBranch; k++ {
		table[k] = stoppingCount(bound, k)
	}
	return table
}

// stoppingCount finds the smallest n >= 1 with (1 - 1/(k+1))^n <= bound/(k+1).
func stoppingCount(bound float64, k int) int {
	p := 1.0 - 1.0/float64(k+1)
	threshold := bound / float64(k+1)

	const maxProbesPerHop = 100000 // safety net; p < 1 for all k >= 0 so this always converges well below it
	for n := 1; n <= maxProbesPerHop; n++ {
		if math.Pow(p, float64(n)) <= threshold {
			return n
		}
	}
	return maxProbesPerHop
}
