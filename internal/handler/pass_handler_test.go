package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hallpass/internal/model"
	"github.com/hitoshi/hallpass/internal/pass"
	"github.com/hitoshi/hallpass/internal/view"
)

// --- モック定義 ---

// mockPassService はPassServiceInterfaceのモック実装。
type mockPassService struct {
	appendFn          func(ctx context.Context, in pass.AppendInput) (*model.PassRecord, error)
	listForTenantFn   func(ctx context.Context, teacher string, q pass.Query) ([]model.PassRecord, error)
	listAllFn         func(ctx context.Context, caller string, q pass.Query) (*model.AdminListing, error)
	reportFn          func(ctx context.Context, caller string, f view.Filter) (*pass.Report, error)
	archiveFn         func(ctx context.Context, caller, date string) (string, []model.PassRecord, error)
	deleteOneFn       func(ctx context.Context, id, caller string) (int, error)
	deleteForTenantFn func(ctx context.Context, teacher, caller string) (int, error)
	deleteAllFn       func(ctx context.Context, caller string) error
}

func (m *mockPassService) Append(ctx context.Context, in pass.AppendInput) (*model.PassRecord, error) {
	if m.appendFn != nil {
		return m.appendFn(ctx, in)
	}
	return &model.PassRecord{ID: in.ID}, nil
}

func (m *mockPassService) ListForTenant(ctx context.Context, teacher string, q pass.Query) ([]model.PassRecord, error) {
	if m.listForTenantFn != nil {
		return m.listForTenantFn(ctx, teacher, q)
	}
	return nil, nil
}

func (m *mockPassService) ListAll(ctx context.Context, caller string, q pass.Query) (*model.AdminListing, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx, caller, q)
	}
	return &model.AdminListing{}, nil
}

func (m *mockPassService) Report(ctx context.Context, caller string, f view.Filter) (*pass.Report, error) {
	if m.reportFn != nil {
		return m.reportFn(ctx, caller, f)
	}
	return &pass.Report{}, nil
}

func (m *mockPassService) Archive(ctx context.Context, caller, date string) (string, []model.PassRecord, error) {
	if m.archiveFn != nil {
		return m.archiveFn(ctx, caller, date)
	}
	return date, nil, nil
}

func (m *mockPassService) DeleteOne(ctx context.Context, id, caller string) (int, error) {
	if m.deleteOneFn != nil {
		return m.deleteOneFn(ctx, id, caller)
	}
	return 1, nil
}

func (m *mockPassService) DeleteForTenant(ctx context.Context, teacher, caller string) (int, error) {
	if m.deleteForTenantFn != nil {
		return m.deleteForTenantFn(ctx, teacher, caller)
	}
	return 0, nil
}

func (m *mockPassService) DeleteAll(ctx context.Context, caller string) error {
	if m.deleteAllFn != nil {
		return m.deleteAllFn(ctx, caller)
	}
	return nil
}

func (m *mockPassService) TimeLocation() *time.Location { return time.UTC }

// --- テストヘルパー ---

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// decodeMap はレスポンスボディをmapとしてパースするヘルパー。
func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v\nbody: %s", err, w.Body.String())
	}
	return result
}

// --- POST /api/log-pass ---

func TestPassHandler_LogPass_Success(t *testing.T) {
	var got pass.AppendInput
	h := NewPassHandler(&mockPassService{
		appendFn: func(_ context.Context, in pass.AppendInput) (*model.PassRecord, error) {
			got = in
			return &model.PassRecord{ID: in.ID}, nil
		},
	})

	body := `{"id":"1","studentName":"Ann","location":"Library","timestamp":"2024-01-01T10:00:00Z","teacherIdentity":"t@x.org"}`
	req := httptest.NewRequest(http.MethodPost, "/api/log-pass", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.LogPass(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	res := decodeMap(t, w)
	if res["success"] != true || res["passId"] != "1" || res["message"] != "Pass logged successfully" {
		t.Errorf("response = %v", res)
	}
	if got.StudentName != "Ann" || got.TeacherIdentity != "t@x.org" || got.Timestamp != "2024-01-01T10:00:00Z" {
		t.Errorf("input = %+v", got)
	}
}

// 旧クライアントのフィールド名（name, teacherEmail）も受け付ける
func TestPassHandler_LogPass_LegacyFieldNames(t *testing.T) {
	var got pass.AppendInput
	h := NewPassHandler(&mockPassService{
		appendFn: func(_ context.Context, in pass.AppendInput) (*model.PassRecord, error) {
			got = in
			return &model.PassRecord{ID: in.ID}, nil
		},
	})

	body := `{"id":"1","name":"Ann","location":"Nurse","timestamp":"2024-01-01T10:00:00Z","teacherEmail":"t@x.org"}`
	w := httptest.NewRecorder()
	h.LogPass(w, httptest.NewRequest(http.MethodPost, "/api/log-pass", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got.StudentName != "Ann" || got.TeacherIdentity != "t@x.org" {
		t.Errorf("input = %+v", got)
	}
}

func TestPassHandler_LogPass_InvalidJSON(t *testing.T) {
	called := false
	h := NewPassHandler(&mockPassService{
		appendFn: func(context.Context, pass.AppendInput) (*model.PassRecord, error) {
			called = true
			return nil, nil
		},
	})

	w := httptest.NewRecorder()
	h.LogPass(w, httptest.NewRequest(http.MethodPost, "/api/log-pass", strings.NewReader("{not json")))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if called {
		t.Error("service should not be called for invalid JSON")
	}
	if res := decodeMap(t, w); res["error"] != "Invalid request body" {
		t.Errorf("error = %v", res["error"])
	}
}

func TestPassHandler_LogPass_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"入力値不正", model.NewInvalidPassDataError("missing required fields: id"), http.StatusBadRequest, "Invalid pass data"},
		{"ストア失敗", model.NewStorageError("Failed to log pass", errors.New("disk full")), http.StatusInternalServerError, "Failed to log pass"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPassHandler(&mockPassService{
				appendFn: func(context.Context, pass.AppendInput) (*model.PassRecord, error) {
					return nil, tt.err
				},
			})
			w := httptest.NewRecorder()
			h.LogPass(w, httptest.NewRequest(http.MethodPost, "/api/log-pass", strings.NewReader(`{}`)))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if res := decodeMap(t, w); res["error"] != tt.wantError {
				t.Errorf("error = %v, want %q", res["error"], tt.wantError)
			}
		})
	}
}

// --- GET /api/get-logs ---

func TestPassHandler_GetLogs_Success(t *testing.T) {
	var gotTeacher string
	var gotQuery pass.Query
	h := NewPassHandler(&mockPassService{
		listForTenantFn: func(_ context.Context, teacher string, q pass.Query) ([]model.PassRecord, error) {
			gotTeacher, gotQuery = teacher, q
			return []model.PassRecord{{ID: "1", StudentName: "Ann"}}, nil
		},
	})

	w := httptest.NewRecorder()
	h.GetLogs(w, httptest.NewRequest(http.MethodGet, "/api/get-logs?teacherIdentity=t@x.org&date=2024-01-01&limit=5", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}
	if gotTeacher != "t@x.org" {
		t.Errorf("teacher = %q", gotTeacher)
	}
	if gotQuery.Date == nil || gotQuery.Date.String() != "2024-01-01" || gotQuery.Limit != 5 {
		t.Errorf("query = %+v", gotQuery)
	}
	res := decodeMap(t, w)
	if res["count"] != float64(1) {
		t.Errorf("count = %v, want 1", res["count"])
	}
}

// 記録がない場合もlogsはnullではなく空配列
func TestPassHandler_GetLogs_EmptyIsArray(t *testing.T) {
	h := NewPassHandler(&mockPassService{})

	w := httptest.NewRecorder()
	h.GetLogs(w, httptest.NewRequest(http.MethodGet, "/api/get-logs?teacherEmail=t@x.org", nil))

	if !strings.Contains(w.Body.String(), `"logs":[]`) {
		t.Errorf("body = %s, want empty logs array", w.Body.String())
	}
}

func TestPassHandler_GetLogs_InvalidDate(t *testing.T) {
	called := false
	h := NewPassHandler(&mockPassService{
		listForTenantFn: func(context.Context, string, pass.Query) ([]model.PassRecord, error) {
			called = true
			return nil, nil
		},
	})

	w := httptest.NewRecorder()
	h.GetLogs(w, httptest.NewRequest(http.MethodGet, "/api/get-logs?teacherIdentity=t@x.org&date=yesterday", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if called {
		t.Error("service should not be called for invalid date")
	}
}

// --- GET /api/get-all-logs ---

func TestPassHandler_GetAllLogs(t *testing.T) {
	t.Run("管理者", func(t *testing.T) {
		h := NewPassHandler(&mockPassService{
			listAllFn: func(_ context.Context, caller string, _ pass.Query) (*model.AdminListing, error) {
				if caller != "admin@school.org" {
					t.Errorf("caller = %q", caller)
				}
				return &model.AdminListing{
					Passes:   []model.PassRecord{{ID: "2"}, {ID: "1"}},
					Teachers: []string{"a@x.org", "b@x.org"},
				}, nil
			},
		})

		w := httptest.NewRecorder()
		h.GetAllLogs(w, httptest.NewRequest(http.MethodGet, "/api/get-all-logs?adminEmail=admin@school.org", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		res := decodeMap(t, w)
		if res["count"] != float64(2) {
			t.Errorf("count = %v, want 2", res["count"])
		}
		if teachers, _ := res["teachers"].([]any); len(teachers) != 2 {
			t.Errorf("teachers = %v", res["teachers"])
		}
	})

	t.Run("管理者以外は403", func(t *testing.T) {
		h := NewPassHandler(&mockPassService{
			listAllFn: func(context.Context, string, pass.Query) (*model.AdminListing, error) {
				return nil, model.NewAdminOnlyError()
			},
		})

		w := httptest.NewRecorder()
		h.GetAllLogs(w, httptest.NewRequest(http.MethodGet, "/api/get-all-logs", nil))

		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
		if res := decodeMap(t, w); res["error"] != "Unauthorized - Admin access only" {
			t.Errorf("error = %v", res["error"])
		}
	})
}

// --- DELETE /api/delete-pass ---

func TestPassHandler_DeletePass_PathParam(t *testing.T) {
	var gotID, gotCaller string
	h := NewPassHandler(&mockPassService{
		deleteOneFn: func(_ context.Context, id, caller string) (int, error) {
			gotID, gotCaller = id, caller
			return 1, nil
		},
	})

	req := httptest.NewRequest(http.MethodDelete, "/api/delete-pass/abc", strings.NewReader(`{"adminEmail":"admin@school.org"}`))
	req = withChiURLParam(req, "id", "abc")
	w := httptest.NewRecorder()

	h.DeletePass(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotID != "abc" || gotCaller != "admin@school.org" {
		t.Errorf("id=%q caller=%q", gotID, gotCaller)
	}
	res := decodeMap(t, w)
	if res["deletedId"] != "abc" || res["deletedCount"] != float64(1) {
		t.Errorf("response = %v", res)
	}
}

func TestPassHandler_DeletePass_QueryParam(t *testing.T) {
	var gotID string
	h := NewPassHandler(&mockPassService{
		deleteOneFn: func(_ context.Context, id, _ string) (int, error) {
			gotID = id
			return 1, nil
		},
	})

	w := httptest.NewRecorder()
	h.DeletePass(w, httptest.NewRequest(http.MethodDelete, "/api/delete-pass?id=xyz", strings.NewReader(`{"adminEmail":"admin@school.org"}`)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotID != "xyz" {
		t.Errorf("id = %q, want xyz", gotID)
	}
}

func TestPassHandler_DeletePass_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"ID欠落", model.NewPassIDRequiredError(), http.StatusBadRequest},
		{"管理者メール欠落", model.NewAdminEmailRequiredError(), http.StatusUnauthorized},
		{"管理者以外", model.NewUnauthorizedError("delete passes"), http.StatusForbidden},
		{"未検出", model.NewPassNotFoundError("abc"), http.StatusNotFound},
		{"ストア失敗", model.NewStorageError("Failed to delete pass", errors.New("x")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPassHandler(&mockPassService{
				deleteOneFn: func(context.Context, string, string) (int, error) { return 0, tt.err },
			})
			w := httptest.NewRecorder()
			h.DeletePass(w, httptest.NewRequest(http.MethodDelete, "/api/delete-pass?id=abc", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// --- DELETE /api/delete-teacher-passes ---

func TestPassHandler_DeleteTeacherPasses(t *testing.T) {
	var gotTeacher, gotCaller string
	h := NewPassHandler(&mockPassService{
		deleteForTenantFn: func(_ context.Context, teacher, caller string) (int, error) {
			gotTeacher, gotCaller = teacher, caller
			return 0, nil
		},
	})

	body := `{"adminEmail":"admin@school.org","targetTeacher":"t@x.org"}`
	w := httptest.NewRecorder()
	h.DeleteTeacherPasses(w, httptest.NewRequest(http.MethodDelete, "/api/delete-teacher-passes", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotTeacher != "t@x.org" || gotCaller != "admin@school.org" {
		t.Errorf("teacher=%q caller=%q", gotTeacher, gotCaller)
	}
	res := decodeMap(t, w)
	if res["deletedTeacher"] != "t@x.org" || res["count"] != float64(0) || res["success"] != true {
		t.Errorf("response = %v", res)
	}
}

// --- DELETE /api/delete-all-passes ---

func TestPassHandler_DeleteAllPasses(t *testing.T) {
	h := NewPassHandler(&mockPassService{})

	w := httptest.NewRecorder()
	h.DeleteAllPasses(w, httptest.NewRequest(http.MethodDelete, "/api/delete-all-passes", strings.NewReader(`{"adminEmail":"admin@school.org"}`)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if res := decodeMap(t, w); res["message"] != "All passes deleted" {
		t.Errorf("message = %v", res["message"])
	}
}

// --- GET /api/admin/report ---

func TestPassHandler_Report_PassesFilter(t *testing.T) {
	var got view.Filter
	h := NewPassHandler(&mockPassService{
		reportFn: func(_ context.Context, _ string, f view.Filter) (*pass.Report, error) {
			got = f
			recs := []model.PassRecord{
				{ID: "1", StudentName: "Ann"}, {ID: "2", StudentName: "Ann"}, {ID: "3", StudentName: "ann"},
			}
			return &pass.Report{
				Result:    view.Apply(recs, view.NewFilter(), time.UTC),
				Teachers:  []string{"t@x.org"},
				Locations: []string{"Library"},
			}, nil
		},
	})

	url := "/api/admin/report?adminEmail=admin@school.org&teacher=all&studentName=an&location=Library&dateFrom=2024-01-01&dateTo=2024-01-31"
	w := httptest.NewRecorder()
	h.Report(w, httptest.NewRequest(http.MethodGet, url, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	if got.Teacher() != "" || got.StudentName() != "an" || got.Location() != "Library" {
		t.Errorf("filter = teacher %q student %q location %q", got.Teacher(), got.StudentName(), got.Location())
	}
	if got.DateFrom().String() != "2024-01-01" || got.DateTo().String() != "2024-01-31" {
		t.Errorf("date range = %s..%s", got.DateFrom(), got.DateTo())
	}

	var res reportResponse
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Count != 3 || res.Logs[0].Visits != 3 || res.Logs[0].Badge != "⚠️ 3x" {
		t.Errorf("report = %+v", res)
	}
	if len(res.Visitors) != 1 || res.Visitors[0].Level != "advisory" {
		t.Errorf("visitors = %+v", res.Visitors)
	}
}

func TestPassHandler_Report_InvalidDate(t *testing.T) {
	h := NewPassHandler(&mockPassService{})

	w := httptest.NewRecorder()
	h.Report(w, httptest.NewRequest(http.MethodGet, "/api/admin/report?adminEmail=admin@school.org&dateFrom=01/02/2024", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// --- GET /api/admin/archive ---

func TestPassHandler_Archive(t *testing.T) {
	t.Run("管理者", func(t *testing.T) {
		var gotCaller, gotDate string
		h := NewPassHandler(&mockPassService{
			archiveFn: func(_ context.Context, caller, date string) (string, []model.PassRecord, error) {
				gotCaller, gotDate = caller, date
				return "2024-01-01", []model.PassRecord{
					{ID: "2", Timestamp: time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)},
					{ID: "1", Timestamp: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
				}, nil
			},
		})

		w := httptest.NewRecorder()
		h.Archive(w, httptest.NewRequest(http.MethodGet, "/api/admin/archive?adminEmail=admin@school.org&date=2024-01-01", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if gotCaller != "admin@school.org" || gotDate != "2024-01-01" {
			t.Errorf("caller = %q, date = %q", gotCaller, gotDate)
		}
		if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
			t.Errorf("Cache-Control = %q, want no-cache", cc)
		}
		res := decodeMap(t, w)
		if res["date"] != "2024-01-01" || res["count"] != float64(2) {
			t.Errorf("response = %v", res)
		}
		first := res["logs"].([]any)[0].(map[string]any)
		if first["timestamp"] != "2024-01-01T11:00:00.000Z" {
			t.Errorf("timestamp = %v", first["timestamp"])
		}
	})

	t.Run("空のアーカイブは空配列", func(t *testing.T) {
		h := NewPassHandler(&mockPassService{})
		w := httptest.NewRecorder()
		h.Archive(w, httptest.NewRequest(http.MethodGet, "/api/admin/archive?adminEmail=admin@school.org&date=2024-01-01", nil))
		if !strings.Contains(w.Body.String(), `"logs":[]`) {
			t.Errorf("body = %s, want empty logs array", w.Body.String())
		}
	})

	t.Run("エラー", func(t *testing.T) {
		tests := []struct {
			name       string
			err        error
			wantStatus int
		}{
			{"管理者以外", model.NewAdminOnlyError(), http.StatusForbidden},
			{"日付不正", model.NewInvalidFilterError("date", "x"), http.StatusBadRequest},
			{"ストア失敗", model.NewStorageError("Failed to retrieve archive", errors.New("boom")), http.StatusInternalServerError},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := NewPassHandler(&mockPassService{
					archiveFn: func(context.Context, string, string) (string, []model.PassRecord, error) {
						return "", nil, tt.err
					},
				})
				w := httptest.NewRecorder()
				h.Archive(w, httptest.NewRequest(http.MethodGet, "/api/admin/archive?date=x", nil))
				if w.Code != tt.wantStatus {
					t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
				}
			})
		}
	})
}
