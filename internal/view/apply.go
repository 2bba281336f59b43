package view

import (
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/hallpass/internal/model"
)

// 再訪問の閾値
const (
	AdvisoryThreshold = 3
	UrgentThreshold   = 5
)

// Severity は再訪問の区分。
type Severity int

const (
	SeverityNone Severity = iota
	SeverityAdvisory
	SeverityUrgent
)

// Classify は訪問回数から区分を返す。
func Classify(visits int) Severity {
	switch {
	case visits >= UrgentThreshold:
		return SeverityUrgent
	case visits >= AdvisoryThreshold:
		return SeverityAdvisory
	default:
		return SeverityNone
	}
}

func (s Severity) String() string {
	switch s {
	case SeverityUrgent:
		return "urgent"
	case SeverityAdvisory:
		return "advisory"
	default:
		return "none"
	}
}

// Badge は区分の表示用バッジを返す。該当なしの場合は空文字列。
func (s Severity) Badge() string {
	switch s {
	case SeverityUrgent:
		return "🚨 5x"
	case SeverityAdvisory:
		return "⚠️ 3x"
	default:
		return ""
	}
}

// Visitor は絞り込み結果における生徒ごとの訪問集計。
type Visitor struct {
	StudentName string   `json:"studentName"`
	Visits      int      `json:"visits"`
	Severity    Severity `json:"-"`
	Level       string   `json:"level"`
	Badge       string   `json:"badge,omitempty"`
}

// Result はApplyの結果。
type Result struct {
	Passes []model.PassRecord
	// Visits は生徒名（小文字化・前後空白除去）ごとの訪問回数。
	Visits map[string]int
	// Visitors は訪問回数の降順（同数は名前昇順）に並べた集計。
	Visitors []Visitor
}

// VisitsFor は記録の生徒の訪問回数を返す。
func (r Result) VisitsFor(rec model.PassRecord) int {
	return r.Visits[studentKey(rec.StudentName)]
}

// BadgeFor は記録の生徒に付くバッジを返す。
func (r Result) BadgeFor(rec model.PassRecord) string {
	return Classify(r.VisitsFor(rec)).Badge()
}

// Apply はrecordsに全ての有効な条件をANDで適用し、訪問回数を集計する。
// 入力の順序は保持する。recordsは変更しない。
func Apply(records []model.PassRecord, f Filter, loc *time.Location) Result {
	if loc == nil {
		loc = time.Local
	}
	passes := make([]model.PassRecord, 0, len(records))
	for _, rec := range records {
		if f.matches(rec, loc) {
			passes = append(passes, rec)
		}
	}

	visits := make(map[string]int)
	display := make(map[string]string)
	for _, rec := range passes {
		key := studentKey(rec.StudentName)
		visits[key]++
		if _, ok := display[key]; !ok {
			display[key] = strings.TrimSpace(rec.StudentName)
		}
	}

	visitors := make([]Visitor, 0, len(visits))
	for key, n := range visits {
		sev := Classify(n)
		visitors = append(visitors, Visitor{
			StudentName: display[key],
			Visits:      n,
			Severity:    sev,
			Level:       sev.String(),
			Badge:       sev.Badge(),
		})
	}
	sort.Slice(visitors, func(i, j int) bool {
		if visitors[i].Visits != visitors[j].Visits {
			return visitors[i].Visits > visitors[j].Visits
		}
		return strings.ToLower(visitors[i].StudentName) < strings.ToLower(visitors[j].StudentName)
	})

	return Result{Passes: passes, Visits: visits, Visitors: visitors}
}

// RepeatVisitors はSeverityがadvisory以上の集計のみを返す。
func (r Result) RepeatVisitors() []Visitor {
	out := make([]Visitor, 0)
	for _, v := range r.Visitors {
		if v.Severity != SeverityNone {
			out = append(out, v)
		}
	}
	return out
}

func (f Filter) matches(rec model.PassRecord, loc *time.Location) bool {
	if f.teacher != "" && !strings.EqualFold(rec.TeacherIdentity, f.teacher) {
		return false
	}
	if f.studentName != "" && !strings.Contains(strings.ToLower(rec.StudentName), f.studentName) {
		return false
	}
	if f.location != "" && !strings.EqualFold(rec.Location, f.location) {
		return false
	}
	if !f.dateFrom.IsZero() || !f.dateTo.IsZero() {
		day := DayOf(rec.Timestamp, loc)
		if !f.dateFrom.IsZero() && day.Before(f.dateFrom) {
			return false
		}
		if !f.dateTo.IsZero() && f.dateTo.Before(day) {
			return false
		}
	}
	return true
}

func studentKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Locations は記録に現れる行き先を重複なし昇順で返す。
func Locations(records []model.PassRecord) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, rec := range records {
		if _, ok := seen[rec.Location]; ok {
			continue
		}
		seen[rec.Location] = struct{}{}
		out = append(out, rec.Location)
	}
	sort.Strings(out)
	return out
}
