package handler

import (
	"net/http"
	"strings"

	"github.com/hitoshi/hallpass/internal/middleware"
	"github.com/hitoshi/hallpass/internal/model"
	"github.com/hitoshi/hallpass/internal/view"
)

// reportEntry は記録に生徒の訪問回数バッジを付けたもの。
// model.PassRecordはMarshalJSONを持つため埋め込まずにフィールドを並べる。
type reportEntry struct {
	ID              string `json:"id"`
	StudentName     string `json:"studentName"`
	Location        string `json:"location"`
	Timestamp       string `json:"timestamp"`
	TeacherIdentity string `json:"teacherIdentity"`
	Visits          int    `json:"visits"`
	Badge           string `json:"badge,omitempty"`
}

func newReportEntry(rec model.PassRecord, visits int, badge string) reportEntry {
	return reportEntry{
		ID:              rec.ID,
		StudentName:     rec.StudentName,
		Location:        rec.Location,
		Timestamp:       model.FormatTimestamp(rec.Timestamp),
		TeacherIdentity: rec.TeacherIdentity,
		Visits:          visits,
		Badge:           badge,
	}
}

type reportResponse struct {
	Success   bool           `json:"success"`
	Logs      []reportEntry  `json:"logs"`
	Count     int            `json:"count"`
	Teachers  []string       `json:"teachers"`
	Locations []string       `json:"locations"`
	Visitors  []view.Visitor `json:"visitors"`
}

// Report は管理者画面の絞り込みと訪問回数集計を返す。
// GET /api/admin/report?adminEmail=...&teacher=...&studentName=...&location=...&dateFrom=...&dateTo=...
func (h *PassHandler) Report(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	f, err := parseFilter(params.Get("teacher"), params.Get("studentName"), params.Get("location"),
		params.Get("dateFrom"), params.Get("dateTo"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	report, err := h.service.Report(r.Context(), params.Get("adminEmail"), f)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	entries := make([]reportEntry, 0, len(report.Passes))
	for _, rec := range report.Passes {
		entries = append(entries, newReportEntry(rec, report.VisitsFor(rec), report.BadgeFor(rec)))
	}

	teachers := report.Teachers
	if teachers == nil {
		teachers = []string{}
	}
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, reportResponse{
		Success:   true,
		Logs:      entries,
		Count:     len(entries),
		Teachers:  teachers,
		Locations: report.Locations,
		Visitors:  report.Visitors,
	})
}

type archiveResponse struct {
	Success bool               `json:"success"`
	Date    string             `json:"date"`
	Logs    []model.PassRecord `json:"logs"`
	Count   int                `json:"count"`
}

// Archive は日付別アーカイブを返す。保持上限や削除で消えた記録も含む。
// GET /api/admin/archive?adminEmail=...&date=YYYY-MM-DD
func (h *PassHandler) Archive(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	day, recs, err := h.service.Archive(r.Context(), params.Get("adminEmail"), params.Get("date"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if recs == nil {
		recs = []model.PassRecord{}
	}
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, archiveResponse{
		Success: true,
		Date:    day,
		Logs:    recs,
		Count:   len(recs),
	})
}

// parseFilter はクエリ文字列からview.Filterを組み立てる。
// 日付は "YYYY-MM-DD" のみ受け付ける。
func parseFilter(teacher, studentName, location, dateFrom, dateTo string) (view.Filter, error) {
	f := view.NewFilter().
		WithTeacher(teacher).
		WithStudentName(studentName).
		WithLocation(location)

	if s := strings.TrimSpace(dateFrom); s != "" {
		d, err := view.ParseDay(s)
		if err != nil {
			return view.Filter{}, model.NewInvalidFilterError("dateFrom", s)
		}
		f = f.WithDateFrom(d)
	}
	if s := strings.TrimSpace(dateTo); s != "" {
		d, err := view.ParseDay(s)
		if err != nil {
			return view.Filter{}, model.NewInvalidFilterError("dateTo", s)
		}
		f = f.WithDateTo(d)
	}
	return f, nil
}
