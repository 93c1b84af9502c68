package model

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// Period is a calendar-month reporting bucket keyed by a YYYYMM code.
type Period struct {
	ID        int64     `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Year      int       `db:"year" json:"year"`
	Month     int       `db:"month" json:"month"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ParsePeriod validates a YYYYMM code and decomposes it into year and month.
func ParsePeriod(code string) (Period, error) {
	if len(code) != 6 {
		return Period{}, eris.Errorf("period: code %q must be YYYYMM", code)
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return Period{}, eris.Errorf("period: code %q is not numeric", code)
		}
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return Period{}, eris.Wrapf(err, "period: code %q", code)
	}
	year, month := n/100, n%100
	if month < 1 || month > 12 {
		return Period{}, eris.Errorf("period: invalid month in code %q", code)
	}
	return Period{Code: code, Year: year, Month: month}, nil
}

// CurrentPeriod returns the period code for the month containing t.
func CurrentPeriod(t time.Time) string {
	return t.Format("200601")
}

// Previous returns the code of the month before p.
func (p Period) Previous() string {
	first := time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
	return CurrentPeriod(first.AddDate(0, -1, 0))
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}
