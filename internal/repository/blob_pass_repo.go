package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hitoshi/hallpass/internal/blob"
	"github.com/hitoshi/hallpass/internal/model"
)

const (
	partitionPrefix = "teacher_"
	partitionSuffix = "/passes"
	archivePrefix   = "archive/"
)

// BlobPassRepo はblob.Storeを使用したパスリポジトリ。
// 教員ごとに1オブジェクト（JSON配列、最新が先頭）を保持する。
// 同一プロセス内の書き込みはパーティション単位で直列化する。
type BlobPassRepo struct {
	store blob.Store
	locks sync.Map // partition key -> *sync.Mutex
}

var _ PassRepository = (*BlobPassRepo)(nil)

// NewBlobPassRepo はBlobPassRepoを生成する。
func NewBlobPassRepo(store blob.Store) *BlobPassRepo {
	return &BlobPassRepo{store: store}
}

// PartitionKey は教員識別子からblobのキーを導出する。
func PartitionKey(teacher string) string {
	return partitionPrefix + base64.RawURLEncoding.EncodeToString([]byte(teacher)) + partitionSuffix
}

// ArchiveKey は記録1件のアーカイブキー archive/<日付>/<ID> を返す。
// IDは任意文字列のためbase64urlで符号化する。
func ArchiveKey(rec model.PassRecord) string {
	return archivePrefix + ArchiveDay(rec.Timestamp) + "/" + base64.RawURLEncoding.EncodeToString([]byte(rec.ID))
}

func (r *BlobPassRepo) lock(key string) func() {
	v, _ := r.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (r *BlobPassRepo) unlockKey(key string) {
	if v, ok := r.locks.Load(key); ok {
		v.(*sync.Mutex).Unlock()
	}
}

func (r *BlobPassRepo) read(ctx context.Context, key string) ([]model.PassRecord, error) {
	data, err := r.store.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return []model.PassRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	var recs []model.PassRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("パーティション %s の解析に失敗しました: %w", key, err)
	}
	if recs == nil {
		recs = []model.PassRecord{}
	}
	return recs, nil
}

func (r *BlobPassRepo) write(ctx context.Context, key string, recs []model.PassRecord) error {
	if len(recs) == 0 {
		if _, err := r.store.Delete(ctx, key); err != nil {
			return err
		}
		return nil
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("パーティション %s のエンコードに失敗しました: %w", key, err)
	}
	return r.store.Put(ctx, key, data)
}

func (r *BlobPassRepo) partitionKeys(ctx context.Context) ([]string, error) {
	keys, err := r.store.List(ctx, partitionPrefix)
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if strings.HasSuffix(k, partitionSuffix) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Append はパーティション先頭に記録を追加し、保持上限で切り詰める。
func (r *BlobPassRepo) Append(ctx context.Context, rec model.PassRecord, limit int) error {
	key := PartitionKey(rec.TeacherIdentity)
	unlock := r.lock(key)
	defer unlock()

	recs, err := r.read(ctx, key)
	if err != nil {
		return fmt.Errorf("パスの追加に失敗しました: %w", err)
	}

	// アーカイブは同一キーへの上書きのため、パーティション書き込みの失敗後に再送されても重複しない
	archived, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("パスのエンコードに失敗しました: %w", err)
	}
	if err := r.store.Put(ctx, ArchiveKey(rec), archived); err != nil {
		return fmt.Errorf("パスのアーカイブに失敗しました: %w", err)
	}

	recs = append([]model.PassRecord{rec}, recs...)
	recs = truncate(recs, effectiveLimit(limit))
	if err := r.write(ctx, key, recs); err != nil {
		return fmt.Errorf("パスの保存に失敗しました: %w", err)
	}
	return nil
}

// ListForTenant は教員のパーティションを最新挿入順に返す。
func (r *BlobPassRepo) ListForTenant(ctx context.Context, teacher string, limit int) ([]model.PassRecord, error) {
	recs, err := r.read(ctx, PartitionKey(teacher))
	if err != nil {
		return nil, fmt.Errorf("パス一覧の取得に失敗しました: %w", err)
	}
	return truncate(recs, limit), nil
}

// ListAll は全パーティションを結合してtimestamp降順で返す。
func (r *BlobPassRepo) ListAll(ctx context.Context, limit int) (*model.AdminListing, error) {
	keys, err := r.partitionKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("パーティション一覧の取得に失敗しました: %w", err)
	}
	all := make([]model.PassRecord, 0)
	for _, key := range keys {
		recs, err := r.read(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("全パス一覧の取得に失敗しました: %w", err)
		}
		all = append(all, recs...)
	}
	sortByTimestampDesc(all)
	return &model.AdminListing{
		Passes:   truncate(all, limit),
		Teachers: distinctTeachers(all),
	}, nil
}

// ListArchive はdayのアーカイブ済み記録をtimestamp降順で返す。
func (r *BlobPassRepo) ListArchive(ctx context.Context, day string) ([]model.PassRecord, error) {
	keys, err := r.store.List(ctx, archivePrefix+day+"/")
	if err != nil {
		return nil, fmt.Errorf("アーカイブ一覧の取得に失敗しました: %w", err)
	}
	recs := make([]model.PassRecord, 0, len(keys))
	for _, key := range keys {
		data, err := r.store.Get(ctx, key)
		if errors.Is(err, blob.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("アーカイブ %s の取得に失敗しました: %w", key, err)
		}
		var rec model.PassRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("アーカイブ %s の解析に失敗しました: %w", key, err)
		}
		recs = append(recs, rec)
	}
	sortByTimestampDesc(recs)
	return recs, nil
}

// partitionRewrite はDeleteOneで書き戻すパーティションの内容。
type partitionRewrite struct {
	key     string
	kept    []model.PassRecord
	removed int
}

// DeleteOne は全パーティションから指定IDの記録を取り除く。
//
// 全パーティションを読み、書き戻し内容を確定してから書き込む。読み取りや解析に
// 失敗した場合はどのパーティションも変更しない。対象パーティションのロックは
// 書き込み完了まで保持する。IDは通常1パーティションにしか存在しないため、
// 書き込みは多くの場合1回で終わる。
func (r *BlobPassRepo) DeleteOne(ctx context.Context, id string) (int, error) {
	keys, err := r.partitionKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("パーティション一覧の取得に失敗しました: %w", err)
	}

	var rewrites []partitionRewrite
	defer func() {
		for _, rw := range rewrites {
			r.unlockKey(rw.key)
		}
	}()

	for _, key := range keys {
		unlock := r.lock(key)
		rw, err := r.planDelete(ctx, key, id)
		if err != nil {
			unlock()
			return 0, fmt.Errorf("パスの削除に失敗しました: %w", err)
		}
		if rw.removed == 0 {
			unlock()
			continue
		}
		rewrites = append(rewrites, rw)
	}

	deleted := 0
	for _, rw := range rewrites {
		if err := r.write(ctx, rw.key, rw.kept); err != nil {
			return deleted, fmt.Errorf("パスの削除に失敗しました: %w", err)
		}
		deleted += rw.removed
	}
	return deleted, nil
}

func (r *BlobPassRepo) planDelete(ctx context.Context, key, id string) (partitionRewrite, error) {
	recs, err := r.read(ctx, key)
	if err != nil {
		return partitionRewrite{}, err
	}
	kept := make([]model.PassRecord, 0, len(recs))
	for _, rec := range recs {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	return partitionRewrite{key: key, kept: kept, removed: len(recs) - len(kept)}, nil
}

// DeleteForTenant は教員のパーティションを丸ごと削除する。
func (r *BlobPassRepo) DeleteForTenant(ctx context.Context, teacher string) (int, error) {
	key := PartitionKey(teacher)
	unlock := r.lock(key)
	defer unlock()

	recs, err := r.read(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("教員のパス削除に失敗しました: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}
	if _, err := r.store.Delete(ctx, key); err != nil {
		return 0, fmt.Errorf("教員のパス削除に失敗しました: %w", err)
	}
	return len(recs), nil
}

// DeleteAll は全パーティションを削除する。
func (r *BlobPassRepo) DeleteAll(ctx context.Context) error {
	keys, err := r.partitionKeys(ctx)
	if err != nil {
		return fmt.Errorf("パーティション一覧の取得に失敗しました: %w", err)
	}
	for _, key := range keys {
		unlock := r.lock(key)
		_, err := r.store.Delete(ctx, key)
		unlock()
		if err != nil {
			return fmt.Errorf("全パスの削除に失敗しました: %w", err)
		}
	}
	return nil
}

// PingContext はblobストアの疎通を確認する。
func (r *BlobPassRepo) PingContext(ctx context.Context) error {
	return r.store.Ping(ctx)
}
