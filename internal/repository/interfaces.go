// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/hallpass/internal/model"
)

// PassRepository はパス記録の永続化インターフェース。
// 教員ごとのパーティションに挿入順の逆順（最新が先頭）で保持し、
// 各パーティションの件数を保持上限以下に保つ。
type PassRepository interface {
	// Append はパーティション先頭に記録を追加し、末尾をlimit件に切り詰める。
	// limitが0以下の場合は model.DefaultRetentionLimit を用いる。
	// 同じ記録を日付別アーカイブ（ArchiveDay、同一IDは上書き）にも書き込む。
	// 戻った時点で永続化が完了している。
	Append(ctx context.Context, rec model.PassRecord, limit int) error

	// ListForTenant は教員のパーティションを最新挿入順に返す。
	// limitが正の場合は先頭limit件に切り詰める。パーティションが無い場合は空スライスを返す。
	ListForTenant(ctx context.Context, teacher string, limit int) ([]model.PassRecord, error)

	// ListAll は全パーティションを結合し、timestamp降順に並べて返す。
	// 教員集合は切り詰め前の全走査結果から導出する（重複なし、昇順）。
	ListAll(ctx context.Context, limit int) (*model.AdminListing, error)

	// ListArchive はday（YYYY-MM-DD）のアーカイブをtimestamp降順で返す。
	// アーカイブは保持上限による切り詰めや削除操作の影響を受けない。
	ListArchive(ctx context.Context, day string) ([]model.PassRecord, error)

	// DeleteOne は全パーティションから指定IDの記録を削除し、削除件数を返す。
	DeleteOne(ctx context.Context, id string) (int, error)

	// DeleteForTenant は教員のパーティションを削除し、削除件数を返す。
	DeleteForTenant(ctx context.Context, teacher string) (int, error)

	// DeleteAll は全パーティションを削除する。
	DeleteAll(ctx context.Context) error

	// PingContext はバックエンドへの疎通を確認する。
	PingContext(ctx context.Context) error
}

// ArchiveDay は記録をアーカイブする日付キー（UTCの暦日）を返す。
func ArchiveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// effectiveLimit は保持上限の既定値を補う。
func effectiveLimit(limit int) int {
	if limit <= 0 {
		return model.DefaultRetentionLimit
	}
	return limit
}

// truncate はlimitが正の場合に先頭limit件へ切り詰める。
func truncate(recs []model.PassRecord, limit int) []model.PassRecord {
	if limit > 0 && len(recs) > limit {
		return recs[:limit]
	}
	return recs
}
