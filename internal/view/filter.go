// Package view は管理者向けの絞り込みと集計を提供する。
//
// 取得済み・認可済みの全記録に対して純粋関数として動作し、永続化には関与しない。
// 絞り込み条件は不変の値 Filter として扱い、変更は With* で新しい値を得る。
package view

import (
	"fmt"
	"strings"
	"time"
)

// All はteacher・locationの絞り込みを無効にする値。
const All = "all"

// Day は暦日（タイムゾーンに依存しない年月日）を表す。
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDay は "YYYY-MM-DD" 形式の文字列を Day に変換する。
func ParseDay(s string) (Day, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Day{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Day{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// DayOf は時刻tのloc上での暦日を返す。
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	return Day{Year: y, Month: m, Day: d}
}

// IsZero は未設定の場合にtrueを返す。
func (d Day) IsZero() bool { return d == Day{} }

// Before はdがoより前の日であればtrueを返す。
func (d Day) Before(o Day) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Filter は管理者画面の絞り込み条件。ゼロ値は全件を表す。
type Filter struct {
	teacher     string
	studentName string
	location    string
	dateFrom    Day
	dateTo      Day
}

// NewFilter は全件を対象とするFilterを返す。
func NewFilter() Filter { return Filter{} }

// WithTeacher は教員を指定したFilterを返す。空文字列または "all" で解除。
func (f Filter) WithTeacher(teacher string) Filter {
	f.teacher = normalizeChoice(teacher)
	return f
}

// WithStudentName は生徒名の部分一致（大文字小文字を区別しない）条件を指定する。
func (f Filter) WithStudentName(name string) Filter {
	f.studentName = strings.ToLower(strings.TrimSpace(name))
	return f
}

// WithLocation は行き先を指定したFilterを返す。空文字列または "all" で解除。
func (f Filter) WithLocation(location string) Filter {
	f.location = normalizeChoice(location)
	return f
}

// WithDateFrom は開始日（含む）を指定する。ゼロ値で解除。
func (f Filter) WithDateFrom(d Day) Filter {
	f.dateFrom = d
	return f
}

// WithDateTo は終了日（含む）を指定する。ゼロ値で解除。
func (f Filter) WithDateTo(d Day) Filter {
	f.dateTo = d
	return f
}

func (f Filter) Teacher() string     { return f.teacher }
func (f Filter) StudentName() string { return f.studentName }
func (f Filter) Location() string    { return f.location }
func (f Filter) DateFrom() Day       { return f.dateFrom }
func (f Filter) DateTo() Day         { return f.dateTo }

func normalizeChoice(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, All) {
		return ""
	}
	return s
}
