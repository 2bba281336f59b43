package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/hallpass/internal/model"
)

const (
	redisTeacherKeyPrefix = "hallpass:teacher:"
	redisTeachersKey      = "hallpass:teachers"
	redisArchivePrefix    = "hallpass:archive:"
)

// RedisPassRepo はRedisを使用したパスリポジトリ。
// 教員ごとに1つのリスト（LPUSHで先頭に追加）と、教員集合のセットを保持する。
type RedisPassRepo struct {
	client redis.UniversalClient
}

var _ PassRepository = (*RedisPassRepo)(nil)

// NewRedisPassRepo はRedisPassRepoを生成する。
func NewRedisPassRepo(client redis.UniversalClient) *RedisPassRepo {
	return &RedisPassRepo{client: client}
}

func redisTeacherKey(teacher string) string {
	return redisTeacherKeyPrefix + teacher
}

func redisArchiveKey(day string) string {
	return redisArchivePrefix + day
}

// Append はLPUSHとLTRIMをMULTI/EXECで実行する。
// 日付ごとのハッシュ（フィールドは記録ID）にも同じ記録を書き込む。
func (r *RedisPassRepo) Append(ctx context.Context, rec model.PassRecord, limit int) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("パスのエンコードに失敗しました: %w", err)
	}
	key := redisTeacherKey(rec.TeacherIdentity)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, int64(effectiveLimit(limit)-1))
		pipe.SAdd(ctx, redisTeachersKey, rec.TeacherIdentity)
		pipe.HSet(ctx, redisArchiveKey(ArchiveDay(rec.Timestamp)), rec.ID, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("パスの追加に失敗しました: %w", err)
	}
	return nil
}

// ListForTenant は教員のリストを先頭から返す。
func (r *RedisPassRepo) ListForTenant(ctx context.Context, teacher string, limit int) ([]model.PassRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := r.client.LRange(ctx, redisTeacherKey(teacher), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("パス一覧の取得に失敗しました: %w", err)
	}
	return decodeRedisRecords(raw)
}

// ListAll は教員集合の全リストを結合してtimestamp降順で返す。
func (r *RedisPassRepo) ListAll(ctx context.Context, limit int) (*model.AdminListing, error) {
	teachers, err := r.client.SMembers(ctx, redisTeachersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("教員一覧の取得に失敗しました: %w", err)
	}
	all := make([]model.PassRecord, 0)
	for _, t := range teachers {
		recs, err := r.ListForTenant(ctx, t, 0)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	sortByTimestampDesc(all)
	return &model.AdminListing{
		Passes:   truncate(all, limit),
		Teachers: distinctTeachers(all),
	}, nil
}

// ListArchive は日付のハッシュの全値をtimestamp降順で返す。
func (r *RedisPassRepo) ListArchive(ctx context.Context, day string) ([]model.PassRecord, error) {
	raw, err := r.client.HVals(ctx, redisArchiveKey(day)).Result()
	if err != nil {
		return nil, fmt.Errorf("アーカイブの取得に失敗しました: %w", err)
	}
	recs, err := decodeRedisRecords(raw)
	if err != nil {
		return nil, err
	}
	sortByTimestampDesc(recs)
	return recs, nil
}

// DeleteOne は各リストから指定IDの要素をLREMで取り除く。
func (r *RedisPassRepo) DeleteOne(ctx context.Context, id string) (int, error) {
	teachers, err := r.client.SMembers(ctx, redisTeachersKey).Result()
	if err != nil {
		return 0, fmt.Errorf("教員一覧の取得に失敗しました: %w", err)
	}
	deleted := 0
	for _, t := range teachers {
		key := redisTeacherKey(t)
		raw, err := r.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return deleted, fmt.Errorf("パスの削除に失敗しました: %w", err)
		}
		for _, item := range raw {
			var rec model.PassRecord
			if err := json.Unmarshal([]byte(item), &rec); err != nil || rec.ID != id {
				continue
			}
			n, err := r.client.LRem(ctx, key, 1, item).Result()
			if err != nil {
				return deleted, fmt.Errorf("パスの削除に失敗しました: %w", err)
			}
			deleted += int(n)
		}
	}
	return deleted, nil
}

// DeleteForTenant は教員のリストを削除し、削除前の件数を返す。
func (r *RedisPassRepo) DeleteForTenant(ctx context.Context, teacher string) (int, error) {
	key := redisTeacherKey(teacher)
	var llen *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		llen = pipe.LLen(ctx, key)
		pipe.Del(ctx, key)
		pipe.SRem(ctx, redisTeachersKey, teacher)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("教員のパス削除に失敗しました: %w", err)
	}
	return int(llen.Val()), nil
}

// DeleteAll は全教員のリストと教員集合を削除する。
func (r *RedisPassRepo) DeleteAll(ctx context.Context) error {
	teachers, err := r.client.SMembers(ctx, redisTeachersKey).Result()
	if err != nil {
		return fmt.Errorf("教員一覧の取得に失敗しました: %w", err)
	}
	keys := make([]string, 0, len(teachers)+1)
	for _, t := range teachers {
		keys = append(keys, redisTeacherKey(t))
	}
	keys = append(keys, redisTeachersKey)
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("全パスの削除に失敗しました: %w", err)
	}
	return nil
}

// PingContext はRedisへの疎通を確認する。
func (r *RedisPassRepo) PingContext(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func decodeRedisRecords(raw []string) ([]model.PassRecord, error) {
	recs := make([]model.PassRecord, 0, len(raw))
	for _, item := range raw {
		var rec model.PassRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("パスのデコードに失敗しました: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
