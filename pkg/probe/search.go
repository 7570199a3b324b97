package probe

// Search returns the longest duration in [tolerance, upper] for which fits
// reports true, to within tolerance. upper must be at least tolerance. It
// starts from initial (raised to tolerance and capped at upper), halves it until something fits, then bisects between the best fitting and
// smallest failing durations. When nothing fits the result is tolerance.
func Search(initial, tolerance, upper float64, fits func(duration float64) bool) float64 {
	low := 0.0
	high := upper
	candidate := min(max(initial, tolerance), upper)

	if fits(candidate) {
		low = candidate
	} else {
		high = candidate
		found := false
		for candidate > tolerance {
			candidate = max(tolerance, candidate/2)
			if fits(candidate) {
				low = candidate
				found = true
				break
			}
			high = candidate
		}
		if !found {
			low = tolerance
		}
	}

	for high-low > tolerance {
		candidate = (high + low) / 2
		if fits(candidate) {
			low = candidate
		} else {
			high = candidate
		}
	}
	return low
}
