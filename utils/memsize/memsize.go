// Package memsize defines byte/bit size constants and human-readable
// formatting used throughout the engine for bandwidth and cache configuration.
package memsize

import "fmt"

// Byte size constants.
const (
	B  uint64 = 1
	KB        = B * 1024
	MB        = KB * 1024
	GB        = MB * 1024
	TB        = GB * 1024
)

// Bit size constants.
const (
	Bit  uint64 = 1
	Kbit        = Bit * 1024
	Mbit        = Kbit * 1024
	Gbit        = Mbit * 1024
	Tbit        = Gbit * 1024
)

// Format renders n bytes in the largest unit that keeps the mantissa >= 1.
func Format(n uint64) string {
	return format(n, "B", B, KB, MB, GB, TB)
}

// BitFormat renders n bits in the largest unit that keeps the mantissa >= 1.
func BitFormat(n uint64) string {
	return format(n, "bit", Bit, Kbit, Mbit, Gbit, Tbit)
}

func format(n uint64, unit string, scale ...uint64) string {
	if n == 0 {
		return fmt.Sprintf("0%s", unit)
	}
	prefixes := []string{"", "K", "M", "G", "T"}
	i := len(scale) - 1
	for i > 0 && n < scale[i] {
		i--
	}
	v := float64(n) / float64(scale[i])
	return fmt.Sprintf("%.2f%s%s", v, prefixes[i], unit)
}
