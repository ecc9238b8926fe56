package format

import "fmt"

const (
	Thousand = 1000
	Million  = Thousand * 1000
	Billion  = Million * 1000
)

// HumanNumber abbreviates a count with a K, M or B suffix, keeping three
// significant digits.
func HumanNumber(n uint64) string {
	var unit float64
	var suffix string
	switch {
	case n >= Billion:
		unit, suffix = Billion, "B"
	case n >= Million:
		unit, suffix = Million, "M"
	case n >= Thousand:
		unit, suffix = Thousand, "K"
	default:
		return fmt.Sprintf("%d", n)
	}

	v := float64(n) / unit
	switch {
	case v >= 100:
		return fmt.Sprintf("%.0f%s", v, suffix)
	case v >= 10:
		return fmt.Sprintf("%.1f%s", v, suffix)
	default:
		return fmt.Sprintf("%.2f%s", v, suffix)
	}
}
