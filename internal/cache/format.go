package cache

import (
	"math"
	"strconv"
)

var byteUnits = []string{"B", "KB", "MB", "GB"}

// FormatBytes renders n with base-1024 units rounded to two decimals,
// e.g. 1536 -> "1.5 KB". Zero renders as "0 B".
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	i := int(math.Floor(math.Log(float64(n)) / math.Log(1024)))
	if i >= len(byteUnits) {
		i = len(byteUnits) - 1
	}
	v := math.Round(float64(n)/math.Pow(1024, float64(i))*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + byteUnits[i]
}
