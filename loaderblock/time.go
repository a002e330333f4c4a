package loaderblock

// NTTime is a count of 100 ns intervals since 1601-01-01T00:00:00Z, the
// epoch every NT FILETIME-shaped field uses.
type NTTime uint64

// epochDeltaNanos is the number of nanoseconds between the NT epoch
// (1601-01-01) and the Unix epoch (1970-01-01): 369 years, including 89
// leap days, expressed directly rather than via Julian-day arithmetic at
// call time since the delta itself never changes.
const epochDeltaNanos = int64(11644473600) * 1_000_000_000

// UnixNanosToNTTime converts a Unix-epoch nanosecond timestamp (as read
// from firmware and normalized by the caller) to 100 ns ticks since the
// NT epoch by adding epochDeltaNanos and dividing by 100; an instant
// before 1601-01-01 clamps to 0.
func UnixNanosToNTTime(unixNanos int64) NTTime {
	total := unixNanos + epochDeltaNanos
	if total < 0 {
		total = 0
	}
	return NTTime(total / 100)
}
