package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/hallpass/internal/model"
)

// Dialect はSQL方言を表す。
type Dialect int

const (
	// DialectPostgres はPostgreSQL（lib/pq または pgx）。
	DialectPostgres Dialect = iota
	// DialectSQLite は modernc.org/sqlite。
	DialectSQLite
)

// sqliteTimeLayout はSQLiteに保存する時刻の固定長UTC表現。文字列比較で時刻順になる。
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLPassRepo はリレーショナルDBを使用したパスリポジトリ。
// hall_passesテーブルのseq（挿入順）がパーティション内の順序を表す。
type SQLPassRepo struct {
	db      *sql.DB
	dialect Dialect
}

var _ PassRepository = (*SQLPassRepo)(nil)

// NewPostgresPassRepo はPostgreSQL用のSQLPassRepoを生成する。
func NewPostgresPassRepo(db *sql.DB) *SQLPassRepo {
	return &SQLPassRepo{db: db, dialect: DialectPostgres}
}

// NewSQLitePassRepo はSQLite用のSQLPassRepoを生成する。
func NewSQLitePassRepo(db *sql.DB) *SQLPassRepo {
	return &SQLPassRepo{db: db, dialect: DialectSQLite}
}

// rebind は ? プレースホルダを方言に合わせて書き換える。
func (r *SQLPassRepo) rebind(query string) string {
	if r.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *SQLPassRepo) timeArg(t time.Time) any {
	if r.dialect == DialectSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t
}

// Append は記録を挿入し、同一教員の古い記録をlimit件を超えた分だけ削除する。
// 挿入と切り詰めは1トランザクションで行い、PostgreSQLでは教員単位のアドバイザリロックを取る。
func (r *SQLPassRepo) Append(ctx context.Context, rec model.PassRecord, limit int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if r.dialect == DialectPostgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.TeacherIdentity); err != nil {
			return fmt.Errorf("アドバイザリロックの取得に失敗しました: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, r.rebind(
		`INSERT INTO hall_passes (id, teacher_email, student_name, location, issued_at)
		 VALUES (?, ?, ?, ?, ?)`),
		rec.ID, rec.TeacherIdentity, rec.StudentName, rec.Location, r.timeArg(rec.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("パスの追加に失敗しました: %w", err)
	}

	_, err = tx.ExecContext(ctx, r.rebind(
		`INSERT INTO hall_pass_archive (archive_day, id, teacher_email, student_name, location, issued_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (archive_day, id) DO UPDATE SET
		   teacher_email = excluded.teacher_email,
		   student_name = excluded.student_name,
		   location = excluded.location,
		   issued_at = excluded.issued_at`),
		ArchiveDay(rec.Timestamp), rec.ID, rec.TeacherIdentity, rec.StudentName, rec.Location, r.timeArg(rec.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("パスのアーカイブに失敗しました: %w", err)
	}

	_, err = tx.ExecContext(ctx, r.rebind(
		`DELETE FROM hall_passes
		 WHERE teacher_email = ?
		   AND seq NOT IN (
		     SELECT seq FROM hall_passes WHERE teacher_email = ? ORDER BY seq DESC LIMIT ?
		   )`),
		rec.TeacherIdentity, rec.TeacherIdentity, effectiveLimit(limit),
	)
	if err != nil {
		return fmt.Errorf("保持上限の適用に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// ListForTenant は教員の記録をseq降順に返す。
func (r *SQLPassRepo) ListForTenant(ctx context.Context, teacher string, limit int) ([]model.PassRecord, error) {
	query := `SELECT id, teacher_email, student_name, location, issued_at
		 FROM hall_passes WHERE teacher_email = ? ORDER BY seq DESC`
	args := []any{teacher}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	recs, err := r.query(ctx, r.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("パス一覧の取得に失敗しました: %w", err)
	}
	return recs, nil
}

// ListAll は全教員の記録をissued_at降順に返す。
// limitが正の場合は記録と教員集合を同じ読み取りトランザクションで取得する。
func (r *SQLPassRepo) ListAll(ctx context.Context, limit int) (*model.AdminListing, error) {
	const passesQuery = `SELECT id, teacher_email, student_name, location, issued_at
		 FROM hall_passes ORDER BY issued_at DESC, seq DESC`

	if limit <= 0 {
		recs, err := r.query(ctx, r.db, passesQuery)
		if err != nil {
			return nil, fmt.Errorf("全パス一覧の取得に失敗しました: %w", err)
		}
		return &model.AdminListing{Passes: recs, Teachers: distinctTeachers(recs)}, nil
	}

	tx, err := r.db.BeginTx(ctx, r.snapshotTxOptions())
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	recs, err := r.query(ctx, tx, passesQuery+` LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("全パス一覧の取得に失敗しました: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT teacher_email FROM hall_passes ORDER BY teacher_email`)
	if err != nil {
		return nil, fmt.Errorf("教員一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	teachers := make([]string, 0)
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("教員行の読み取りに失敗しました: %w", err)
		}
		teachers = append(teachers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("教員一覧の走査に失敗しました: %w", err)
	}

	return &model.AdminListing{Passes: recs, Teachers: teachers}, nil
}

// snapshotTxOptions は複数クエリで同じスナップショットを読むためのオプションを返す。
// SQLiteのトランザクションは最初の読み取りから終了まで同じスナップショットを見る。
func (r *SQLPassRepo) snapshotTxOptions() *sql.TxOptions {
	if r.dialect == DialectPostgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

// ListArchive はdayのアーカイブをissued_at降順に返す。
func (r *SQLPassRepo) ListArchive(ctx context.Context, day string) ([]model.PassRecord, error) {
	recs, err := r.query(ctx, r.db,
		`SELECT id, teacher_email, student_name, location, issued_at
		 FROM hall_pass_archive WHERE archive_day = ? ORDER BY issued_at DESC, id`, day)
	if err != nil {
		return nil, fmt.Errorf("アーカイブの取得に失敗しました: %w", err)
	}
	return recs, nil
}

// queryer は*sql.DBと*sql.Txの共通部分。
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *SQLPassRepo) query(ctx context.Context, q queryer, query string, args ...any) ([]model.PassRecord, error) {
	rows, err := q.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := make([]model.PassRecord, 0)
	for rows.Next() {
		var rec model.PassRecord
		var issued scannedTime
		if err := rows.Scan(&rec.ID, &rec.TeacherIdentity, &rec.StudentName, &rec.Location, &issued); err != nil {
			return nil, fmt.Errorf("パス行の読み取りに失敗しました: %w", err)
		}
		rec.Timestamp = issued.Time
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("パス一覧の走査に失敗しました: %w", err)
	}
	return recs, nil
}

// DeleteOne は指定IDの記録を削除する。
func (r *SQLPassRepo) DeleteOne(ctx context.Context, id string) (int, error) {
	return r.exec(ctx, "パスの削除に失敗しました", `DELETE FROM hall_passes WHERE id = ?`, id)
}

// DeleteForTenant は教員の記録を全て削除する。
func (r *SQLPassRepo) DeleteForTenant(ctx context.Context, teacher string) (int, error) {
	return r.exec(ctx, "教員のパス削除に失敗しました", `DELETE FROM hall_passes WHERE teacher_email = ?`, teacher)
}

// DeleteAll は全ての記録を削除する。
func (r *SQLPassRepo) DeleteAll(ctx context.Context) error {
	_, err := r.exec(ctx, "全パスの削除に失敗しました", `DELETE FROM hall_passes`)
	return err
}

func (r *SQLPassRepo) exec(ctx context.Context, errMsg, query string, args ...any) (int, error) {
	res, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", errMsg, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", errMsg, err)
	}
	return int(n), nil
}

// PingContext はDBへの疎通を確認する。
func (r *SQLPassRepo) PingContext(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// scannedTime はドライバごとに異なる時刻カラムの表現（time.Time / TEXT）を吸収する。
type scannedTime struct {
	Time time.Time
}

func (t *scannedTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		return fmt.Errorf("issued_at is NULL")
	default:
		return fmt.Errorf("unsupported issued_at type %T", src)
	}
}

func (t *scannedTime) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid issued_at %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}
