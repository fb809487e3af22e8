package eval

import (
	"math"
	"time"

	"github.com/xuri/excelize/v2"
)

// serialToTime converts a 1900-system day count to a UTC instant. Zero, NaN and
// out-of-range serials yield ok=false.
func serialToTime(serial float64) (time.Time, bool) {
	if serial == 0 || math.IsNaN(serial) {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
