// Package authz はロールに基づく認可判定を提供する。
//
// 特権操作（注文ステータスの変更、ユーザー一覧の取得など）は
// すべてRequireを通して判定する。状態を持たない純粋な関数のみで構成される。
package authz

import (
	"fmt"

	"github.com/Dan203302/control-system-backend/pkg/apperr"
	"github.com/Dan203302/control-system-backend/pkg/token"
)

const (
	// RoleAdmin は管理者ロール。
	RoleAdmin = "admin"
	// RoleManager はマネージャーロール。
	RoleManager = "manager"
	// RoleEngineer はエンジニアロール。新規登録時の既定値。
	RoleEngineer = "engineer"
)

// HasAnyRole は利用者のロールと許可ロールに共通するものがあるかを返す。
func HasAnyRole(id token.Identity, allowed ...string) bool {
	for _, have := range id.Roles {
		for _, want := range allowed {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Require は利用者が許可ロールのいずれかを持つことを確認する。
// 持たない場合は apperr.ErrForbidden をラップして返す。
func Require(id token.Identity, allowed ...string) error {
	if HasAnyRole(id, allowed...) {
		return nil
	}
	return fmt.Errorf("%w: subject=%s, required=%v", apperr.ErrForbidden, id.Subject, allowed)
}
