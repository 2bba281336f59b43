package pass

import (
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/hallpass/internal/model"
	"github.com/hitoshi/hallpass/internal/view"
)

// Query は取得後・返却前に適用する日付とlimitの条件。
type Query struct {
	// Date が非nilの場合、その暦日の記録のみを返す。
	Date *view.Day
	// Limit が正の場合、先頭Limit件に切り詰める。
	Limit int
}

// ParseQuery はクエリ文字列の date と limit を解釈する。
// date は "YYYY-MM-DD" またはRFC 3339の時刻（locでの暦日として扱う）。
// limit は正の整数のみ有効で、それ以外は無視する。
func ParseQuery(date, limit string, loc *time.Location) (Query, error) {
	var q Query
	if date = strings.TrimSpace(date); date != "" {
		d, err := parseDate(date, loc)
		if err != nil {
			return Query{}, model.NewInvalidFilterError("date", date)
		}
		q.Date = &d
	}
	if n, err := strconv.Atoi(strings.TrimSpace(limit)); err == nil && n > 0 {
		q.Limit = n
	}
	return q, nil
}

func parseDate(s string, loc *time.Location) (view.Day, error) {
	if d, err := view.ParseDay(s); err == nil {
		return d, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return view.Day{}, err
	}
	return view.DayOf(t, loc), nil
}

// pushdownLimit はストアに渡せるlimitを返す。日付条件がある場合は全件取得が必要。
func (q Query) pushdownLimit() int {
	if q.Date != nil {
		return 0
	}
	return q.Limit
}

// Apply は日付条件で絞り込んでからlimitで切り詰める。recsの順序は保持する。
func (q Query) Apply(recs []model.PassRecord, loc *time.Location) []model.PassRecord {
	out := recs
	if q.Date != nil {
		out = make([]model.PassRecord, 0, len(recs))
		for _, r := range recs {
			if view.DayOf(r.Timestamp, loc) == *q.Date {
				out = append(out, r)
			}
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
