package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hallpass/internal/middleware"
	"github.com/hitoshi/hallpass/internal/model"
	"github.com/hitoshi/hallpass/internal/pass"
	"github.com/hitoshi/hallpass/internal/view"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 64 << 10

// PassServiceInterface はパスハンドラーが必要とするサービスインターフェース。
type PassServiceInterface interface {
	// Append はパス記録を検証して教員のパーティションに追加する。
	Append(ctx context.Context, in pass.AppendInput) (*model.PassRecord, error)
	// ListForTenant は教員自身の記録を返す。
	ListForTenant(ctx context.Context, teacher string, q pass.Query) ([]model.PassRecord, error)
	// ListAll は管理者向けに全教員の記録を返す。
	ListAll(ctx context.Context, caller string, q pass.Query) (*model.AdminListing, error)
	// Report は管理者向けの絞り込み・集計結果を返す。
	Report(ctx context.Context, caller string, f view.Filter) (*pass.Report, error)
	// Archive は管理者向けに日付別アーカイブを返す。
	Archive(ctx context.Context, caller, date string) (string, []model.PassRecord, error)
	DeleteOne(ctx context.Context, id, caller string) (int, error)
	DeleteForTenant(ctx context.Context, teacher, caller string) (int, error)
	DeleteAll(ctx context.Context, caller string) error
	// TimeLocation は日付判定に用いるタイムゾーンを返す。
	TimeLocation() *time.Location
}

// PassHandler はパス記録のHTTPハンドラー。
type PassHandler struct {
	service PassServiceInterface
}

// NewPassHandler はPassHandlerを生成する。
func NewPassHandler(service PassServiceInterface) *PassHandler {
	return &PassHandler{service: service}
}

// logPassRequest はパス記録リクエストのボディ。
// name と teacherEmail は旧クライアントが送るフィールド名。
type logPassRequest struct {
	ID              string `json:"id"`
	StudentName     string `json:"studentName"`
	Name            string `json:"name"`
	Location        string `json:"location"`
	Timestamp       string `json:"timestamp"`
	TeacherIdentity string `json:"teacherIdentity"`
	TeacherEmail    string `json:"teacherEmail"`
}

func (r logPassRequest) toInput() pass.AppendInput {
	in := pass.AppendInput{
		ID:              r.ID,
		StudentName:     r.StudentName,
		Location:        r.Location,
		Timestamp:       r.Timestamp,
		TeacherIdentity: r.TeacherIdentity,
	}
	if strings.TrimSpace(in.StudentName) == "" {
		in.StudentName = r.Name
	}
	if strings.TrimSpace(in.TeacherIdentity) == "" {
		in.TeacherIdentity = r.TeacherEmail
	}
	return in
}

// adminRequest は管理者操作（削除系）のリクエストボディ。
type adminRequest struct {
	AdminEmail    string `json:"adminEmail"`
	TargetTeacher string `json:"targetTeacher"`
}

type logPassResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	PassID  string `json:"passId"`
}

type logsResponse struct {
	Success bool               `json:"success"`
	Logs    []model.PassRecord `json:"logs"`
	Count   int                `json:"count"`
}

type allLogsResponse struct {
	Success  bool               `json:"success"`
	Logs     []model.PassRecord `json:"logs"`
	Count    int                `json:"count"`
	Teachers []string           `json:"teachers"`
}

type deletePassResponse struct {
	Success      bool   `json:"success"`
	DeletedID    string `json:"deletedId"`
	DeletedCount int    `json:"deletedCount"`
}

type deleteTeacherResponse struct {
	Success        bool   `json:"success"`
	DeletedTeacher string `json:"deletedTeacher"`
	Count          int    `json:"count"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// LogPass はパス記録を処理する。
// POST /api/log-pass
func (h *PassHandler) LogPass(w http.ResponseWriter, r *http.Request) {
	var req logPassRequest
	if err := decodeBody(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	rec, err := h.service.Append(r.Context(), req.toInput())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, logPassResponse{
		Success: true,
		Message: "Pass logged successfully",
		PassID:  rec.ID,
	})
}

// GetLogs は教員自身の記録を返す。
// GET /api/get-logs?teacherIdentity=...&date=...&limit=...
func (h *PassHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q, err := pass.ParseQuery(params.Get("date"), params.Get("limit"), h.service.TimeLocation())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	teacher := params.Get("teacherIdentity")
	if teacher == "" {
		teacher = params.Get("teacherEmail")
	}

	logs, err := h.service.ListForTenant(r.Context(), teacher, q)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, logsResponse{Success: true, Logs: nonNil(logs), Count: len(logs)})
}

// GetAllLogs は管理者向けに全教員の記録を返す。
// GET /api/get-all-logs?adminEmail=...
func (h *PassHandler) GetAllLogs(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q, err := pass.ParseQuery(params.Get("date"), params.Get("limit"), h.service.TimeLocation())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	listing, err := h.service.ListAll(r.Context(), params.Get("adminEmail"), q)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	teachers := listing.Teachers
	if teachers == nil {
		teachers = []string{}
	}
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, allLogsResponse{
		Success:  true,
		Logs:     nonNil(listing.Passes),
		Count:    len(listing.Passes),
		Teachers: teachers,
	})
}

// DeletePass は指定IDの記録を削除する。
// DELETE /api/delete-pass/{id} または DELETE /api/delete-pass?id=...
func (h *PassHandler) DeletePass(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		id = r.URL.Query().Get("id")
	}

	var req adminRequest
	if err := decodeBody(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	n, err := h.service.DeleteOne(r.Context(), id, req.AdminEmail)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deletePassResponse{
		Success:      true,
		DeletedID:    strings.TrimSpace(id),
		DeletedCount: n,
	})
}

// DeleteTeacherPasses は教員の全記録を削除する。
// DELETE /api/delete-teacher-passes
func (h *PassHandler) DeleteTeacherPasses(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := decodeBody(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	n, err := h.service.DeleteForTenant(r.Context(), req.TargetTeacher, req.AdminEmail)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteTeacherResponse{
		Success:        true,
		DeletedTeacher: req.TargetTeacher,
		Count:          n,
	})
}

// DeleteAllPasses は全記録を削除する。
// DELETE /api/delete-all-passes
func (h *PassHandler) DeleteAllPasses(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := decodeBody(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	if err := h.service.DeleteAll(r.Context(), req.AdminEmail); err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "All passes deleted"})
}

// decodeBody はJSONボディをdstに読み込む。空のボディはゼロ値として扱う。
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return model.NewInvalidRequestError(err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func nonNil(recs []model.PassRecord) []model.PassRecord {
	if recs == nil {
		return []model.PassRecord{}
	}
	return recs
}
