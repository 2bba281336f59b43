// Package auth は管理者判定（Authorization Gate）を提供する。
//
// 本システムの管理者判定は、呼び出し側が申告したメールアドレスと
// 設定で注入された管理者アドレスの比較のみで行う。
// セッションやトークンの概念は持たない。
package auth

import (
	"strings"

	"golang.org/x/net/idna"

	"github.com/hitoshi/hallpass/internal/model"
)

// Gate は管理者判定を行う。
type Gate struct {
	admin string
}

// NewGate は管理者アドレスを受け取りGateを生成する。
// 空文字列を渡した場合は誰も管理者として扱わない。
func NewGate(adminEmail string) *Gate {
	return &Gate{admin: NormalizeIdentity(adminEmail)}
}

// IsAdministrator はidentityが管理者アドレスと一致する場合にtrueを返す。
func (g *Gate) IsAdministrator(identity string) bool {
	if g == nil || g.admin == "" {
		return false
	}
	id := NormalizeIdentity(identity)
	return id != "" && id == g.admin
}

// Require は管理者でない場合にAuthorization種別のエラーを返す。
// identityが空の場合は ADMIN_EMAIL_REQUIRED、不一致の場合は UNAUTHORIZED を返す。
func (g *Gate) Require(identity, operation string) error {
	if strings.TrimSpace(identity) == "" {
		return model.NewAdminEmailRequiredError()
	}
	if !g.IsAdministrator(identity) {
		return model.NewUnauthorizedError(operation)
	}
	return nil
}

// NormalizeIdentity は教員・管理者の識別子（メールアドレス）を正規化する。
// 前後の空白を除去して小文字化し、ドメイン部はIDNAのASCII形式に変換する。
// 変換できないドメインは小文字化した値のまま返す。
func NormalizeIdentity(identity string) string {
	id := strings.ToLower(strings.TrimSpace(identity))
	at := strings.LastIndex(id, "@")
	if at < 0 || at == len(id)-1 {
		return id
	}
	domain, err := idna.Lookup.ToASCII(id[at+1:])
	if err != nil {
		return id
	}
	return id[:at+1] + domain
}
