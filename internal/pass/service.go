// Package pass はホールパス記録のドメインロジックを提供する。
//
// 入力の検証とサニタイズ、管理者判定、日付・件数の絞り込みを
// リポジトリの前段で行い、エラーは model.APIError の種別で返す。
package pass

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/hallpass/internal/auth"
	"github.com/hitoshi/hallpass/internal/metrics"
	"github.com/hitoshi/hallpass/internal/model"
	"github.com/hitoshi/hallpass/internal/repository"
	"github.com/hitoshi/hallpass/internal/security"
	"github.com/hitoshi/hallpass/internal/view"
)

// 操作名（ログ・メトリクスのラベル）
const (
	opAppend          = "append"
	opListForTenant   = "list_for_tenant"
	opListAll         = "list_all"
	opDeleteOne       = "delete_one"
	opDeleteForTenant = "delete_for_tenant"
	opDeleteAll       = "delete_all"
	opReport          = "report"
	opArchive         = "archive"
)

// AppendInput はパス記録の入力値。timestampは文字列のまま受け取り検証する。
type AppendInput struct {
	ID              string
	StudentName     string
	Location        string
	Timestamp       string
	TeacherIdentity string
}

// Options はServiceの設定値。
type Options struct {
	RetentionLimit int
	Location       *time.Location
	// Locations は設定された行き先。メトリクスのラベルを既知の値に丸めるために使う。
	Locations []string
}

// Report は管理者レポートの結果。
type Report struct {
	view.Result
	Teachers  []string
	Locations []string
}

// Service はパス記録のサービス層。
type Service struct {
	repo      repository.PassRepository
	gate      *auth.Gate
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	retention int
	loc       *time.Location
	locations map[string]string
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.PassRepository,
	gate *auth.Gate,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
	opts Options,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	known := make(map[string]string, len(opts.Locations))
	for _, l := range opts.Locations {
		known[strings.ToLower(l)] = l
	}
	return &Service{
		repo:      repo,
		gate:      gate,
		sanitizer: sanitizer,
		metrics:   collector,
		retention: opts.RetentionLimit,
		loc:       loc,
		locations: known,
		logger:    slog.Default(),
	}
}

// TimeLocation は日付判定に用いるタイムゾーンを返す。
func (s *Service) TimeLocation() *time.Location { return s.loc }

// Append は入力を検証・サニタイズしてから教員のパーティションに追加する。
func (s *Service) Append(ctx context.Context, in AppendInput) (*model.PassRecord, error) {
	rec, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	err = s.repo.Append(ctx, *rec, s.retention)
	s.metrics.RecordStoreLatency(opAppend, time.Since(start))
	if err != nil {
		return nil, s.storageFailure(opAppend, "Failed to log pass", err)
	}

	s.metrics.RecordPassAppended(s.locationLabel(rec.Location))
	s.logger.Info("pass logged",
		slog.String("pass_id", rec.ID),
		slog.String("teacher", rec.TeacherIdentity),
		slog.String("location", rec.Location),
	)
	return rec, nil
}

func (s *Service) validate(in AppendInput) (*model.PassRecord, error) {
	var missing []string
	id := strings.TrimSpace(in.ID)
	if id == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(in.StudentName) == "" {
		missing = append(missing, "studentName")
	}
	if strings.TrimSpace(in.Location) == "" {
		missing = append(missing, "location")
	}
	if strings.TrimSpace(in.Timestamp) == "" {
		missing = append(missing, "timestamp")
	}
	teacher := auth.NormalizeIdentity(in.TeacherIdentity)
	if teacher == "" {
		missing = append(missing, "teacherIdentity")
	}
	if len(missing) > 0 {
		return nil, model.NewInvalidPassDataError("missing required fields: " + strings.Join(missing, ", "))
	}

	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(in.Timestamp))
	if err != nil {
		return nil, model.NewInvalidPassDataError("timestamp must be an ISO-8601 instant")
	}

	student := s.sanitizer.Sanitize(in.StudentName)
	if student == "" {
		return nil, model.NewInvalidPassDataError("studentName is empty after sanitization")
	}
	location := s.sanitizer.Sanitize(in.Location)
	if location == "" {
		return nil, model.NewInvalidPassDataError("location is empty after sanitization")
	}

	return &model.PassRecord{
		ID:              id,
		StudentName:     student,
		Location:        location,
		Timestamp:       ts,
		TeacherIdentity: teacher,
	}, nil
}

// ListForTenant は教員自身の記録を返す。
func (s *Service) ListForTenant(ctx context.Context, teacher string, q Query) ([]model.PassRecord, error) {
	teacher = auth.NormalizeIdentity(teacher)
	if teacher == "" {
		return nil, model.NewTeacherRequiredError()
	}

	start := time.Now()
	recs, err := s.repo.ListForTenant(ctx, teacher, q.pushdownLimit())
	s.metrics.RecordStoreLatency(opListForTenant, time.Since(start))
	if err != nil {
		return nil, s.storageFailure(opListForTenant, "Failed to retrieve logs", err)
	}
	return q.Apply(recs, s.loc), nil
}

// ListAll は管理者向けに全教員の記録と教員集合を返す。
// 管理者以外は識別子の有無に関わらず UNAUTHORIZED となる。
func (s *Service) ListAll(ctx context.Context, caller string, q Query) (*model.AdminListing, error) {
	if !s.gate.IsAdministrator(caller) {
		s.denied(opListAll, caller)
		return nil, model.NewAdminOnlyError()
	}

	start := time.Now()
	listing, err := s.repo.ListAll(ctx, q.pushdownLimit())
	s.metrics.RecordStoreLatency(opListAll, time.Since(start))
	if err != nil {
		return nil, s.storageFailure(opListAll, "Failed to retrieve logs", err)
	}
	listing.Passes = q.Apply(listing.Passes, s.loc)
	return listing, nil
}

// Report は全記録にFilterを適用した管理者レポートを返す。
func (s *Service) Report(ctx context.Context, caller string, f view.Filter) (*Report, error) {
	if !s.gate.IsAdministrator(caller) {
		s.denied(opReport, caller)
		return nil, model.NewAdminOnlyError()
	}

	start := time.Now()
	listing, err := s.repo.ListAll(ctx, 0)
	s.metrics.RecordStoreLatency(opReport, time.Since(start))
	if err != nil {
		return nil, s.storageFailure(opReport, "Failed to retrieve logs", err)
	}
	return &Report{
		Result:    view.Apply(listing.Passes, f, s.loc),
		Teachers:  listing.Teachers,
		Locations: view.Locations(listing.Passes),
	}, nil
}

// Archive は管理者としてdate（YYYY-MM-DD、UTCの暦日）のアーカイブを返す。
// アーカイブは保持上限による切り詰めや削除の後も残る。
func (s *Service) Archive(ctx context.Context, caller, date string) (string, []model.PassRecord, error) {
	if !s.gate.IsAdministrator(caller) {
		s.denied(opArchive, caller)
		return "", nil, model.NewAdminOnlyError()
	}
	if strings.TrimSpace(date) == "" {
		return "", nil, model.NewMissingFieldsError("date is required")
	}
	day, err := view.ParseDay(date)
	if err != nil {
		return "", nil, model.NewInvalidFilterError("date", date)
	}

	start := time.Now()
	recs, err := s.repo.ListArchive(ctx, day.String())
	s.metrics.RecordStoreLatency(opArchive, time.Since(start))
	if err != nil {
		return "", nil, s.storageFailure(opArchive, "Failed to retrieve archive", err)
	}
	return day.String(), recs, nil
}

// DeleteOne は管理者として指定IDの記録を削除する。
// 1件も削除されなかった場合は NotFound を返す。
func (s *Service) DeleteOne(ctx context.Context, id, caller string) (int, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, model.NewPassIDRequiredError()
	}
	if err := s.gate.Require(caller, "delete passes"); err != nil {
		s.denied(opDeleteOne, caller)
		return 0, err
	}

	start := time.Now()
	n, err := s.repo.DeleteOne(ctx, id)
	s.metrics.RecordStoreLatency(opDeleteOne, time.Since(start))
	if err != nil {
		return 0, s.storageFailure(opDeleteOne, "Failed to delete pass", err)
	}
	if n == 0 {
		return 0, model.NewPassNotFoundError(id)
	}

	s.metrics.RecordPassesDeleted(metrics.ScopeOne, n)
	s.logger.Info("pass deleted", slog.String("pass_id", id), slog.Int("count", n))
	return n, nil
}

// DeleteForTenant は管理者として教員の全記録を削除する。0件でもエラーにしない。
func (s *Service) DeleteForTenant(ctx context.Context, teacher, caller string) (int, error) {
	teacher = auth.NormalizeIdentity(teacher)
	if teacher == "" || strings.TrimSpace(caller) == "" {
		return 0, model.NewMissingFieldsError("Admin email and target teacher are required")
	}
	if err := s.gate.Require(caller, "delete teacher passes"); err != nil {
		s.denied(opDeleteForTenant, caller)
		return 0, err
	}

	start := time.Now()
	n, err := s.repo.DeleteForTenant(ctx, teacher)
	s.metrics.RecordStoreLatency(opDeleteForTenant, time.Since(start))
	if err != nil {
		return 0, s.storageFailure(opDeleteForTenant, "Failed to delete teacher passes", err)
	}

	s.metrics.RecordPassesDeleted(metrics.ScopeTeacher, n)
	s.logger.Info("teacher passes deleted", slog.String("teacher", teacher), slog.Int("count", n))
	return n, nil
}

// DeleteAll は管理者として全記録を削除する。
func (s *Service) DeleteAll(ctx context.Context, caller string) error {
	if err := s.gate.Require(caller, "delete all passes"); err != nil {
		s.denied(opDeleteAll, caller)
		return err
	}

	start := time.Now()
	err := s.repo.DeleteAll(ctx)
	s.metrics.RecordStoreLatency(opDeleteAll, time.Since(start))
	if err != nil {
		return s.storageFailure(opDeleteAll, "Failed to delete all passes", err)
	}

	s.logger.Warn("all passes deleted")
	return nil
}

// Ping はストアへの疎通を確認する。
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.PingContext(ctx)
}

func (s *Service) storageFailure(op, message string, err error) error {
	s.metrics.RecordStorageError(op)
	s.logger.Error("store operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return model.NewStorageError(message, err)
}

func (s *Service) denied(op, caller string) {
	s.metrics.RecordAuthorizationDenied(op)
	s.logger.Warn("admin operation denied",
		slog.String("operation", op),
		slog.String("caller", caller),
	)
}

// locationLabel は未設定の行き先を "Other" に丸める。
func (s *Service) locationLabel(location string) string {
	if l, ok := s.locations[strings.ToLower(location)]; ok {
		return l
	}
	return "Other"
}
