// Package blob はキー単位でバイト列を保存するストアを提供する。
//
// パス記録のblobレイアウト（教員ごとに1オブジェクト）の土台として、
// プロセス内メモリ・ローカルファイルシステム・S3互換バケットの3実装を持つ。
package blob

import (
	"context"
	"errors"
)

// ErrNotFound はキーに対応するオブジェクトが存在しないことを表す。
var ErrNotFound = errors.New("blob not found")

// Store はblobストアのインターフェース。
// Put は既存キーを上書きする。
type Store interface {
	// Get はキーの内容を返す。存在しない場合は ErrNotFound を返す。
	Get(ctx context.Context, key string) ([]byte, error)
	// Put はキーに内容を書き込む。
	Put(ctx context.Context, key string, data []byte) error
	// Delete はキーを削除し、削除前に存在していたかを返す。
	Delete(ctx context.Context, key string) (bool, error)
	// List はprefixに前方一致するキーを昇順で返す。
	List(ctx context.Context, prefix string) ([]string, error)
	// Ping はストアへの疎通を確認する。
	Ping(ctx context.Context) error
}
