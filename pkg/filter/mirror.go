package filter

// Mirror maps an arbitrary index into [0, n) by even symmetric reflection
// about the first and last samples (..., 2, 1, 0, 1, 2, ..., n-2, n-1, n-2, ...).
func Mirror(i, n int) int {
	if n <= 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// MirrorRow writes src into dst with pad mirrored samples on each side.
// len(dst) must be len(src)+2*pad.
func MirrorRow(dst, src []float64, pad int) {
	n := len(src)
	copy(dst[pad:pad+n], src)
	for k := 1; k <= pad; k++ {
		dst[pad-k] = src[Mirror(-k, n)]
		dst[pad+n-1+k] = src[Mirror(n-1+k, n)]
	}
}
