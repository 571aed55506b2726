package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Dan203302/control-system-backend/internal/config"
	"github.com/Dan203302/control-system-backend/pkg/ratelimit"
)

// AuthMode はルートが要求する認証の強さ。
type AuthMode int

const (
	// AuthNone は認証を要求しない。
	AuthNone AuthMode = iota
	// AuthPresence はBearerトークンの存在だけを確認する。
	AuthPresence
	// AuthVerified はgatewayでもトークンを完全に検証する。
	AuthVerified
)

// String はAuthModeの名前を返す。
func (m AuthMode) String() string {
	switch m {
	case AuthNone:
		return "none"
	case AuthPresence:
		return "presence"
	case AuthVerified:
		return "verified"
	default:
		return fmt.Sprintf("AuthMode(%d)", int(m))
	}
}

// Route はパスの接頭辞と転送先バックエンドの対応。起動時に作成され以後変更されない。
type Route struct {
	// ID はレート制限キーとメトリクスに使うルートの識別子。
	ID string
	// Prefix はマッチさせるパスの接頭辞（例: "/api/v1/orders"）。
	Prefix string
	// Backend は転送先のベースURL。
	Backend string
	// Auth は転送前に要求する認証。
	Auth AuthMode
	// Limit はクライアントごとのリクエスト上限。
	Limit ratelimit.Rule
}

// matches はpathがルートの接頭辞にセグメント境界で一致するかを返す。
func (r Route) matches(path string) bool {
	if !strings.HasPrefix(path, r.Prefix) {
		return false
	}
	rest := path[len(r.Prefix):]
	return rest == "" || rest[0] == '/'
}

// RouteTable は最長一致でルートを解決する。並行して読み取れる。
type RouteTable struct {
	// routes は接頭辞の長い順に並んだルート。
	routes []Route
}

// NewRouteTable はルートを検証してRouteTableを生成する。
func NewRouteTable(routes []Route) (*RouteTable, error) {
	if len(routes) == 0 {
		return nil, errors.New("ルートが1つも定義されていません")
	}
	ids := make(map[string]struct{}, len(routes))
	prefixes := make(map[string]struct{}, len(routes))
	sorted := make([]Route, 0, len(routes))

	for _, r := range routes {
		if r.ID == "" {
			return nil, fmt.Errorf("ルート %q のIDが空です", r.Prefix)
		}
		if !strings.HasPrefix(r.Prefix, "/") || (len(r.Prefix) > 1 && strings.HasSuffix(r.Prefix, "/")) {
			return nil, fmt.Errorf("ルート %s の接頭辞 %q が不正です", r.ID, r.Prefix)
		}
		u, err := url.Parse(r.Backend)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("ルート %s の転送先 %q が不正です", r.ID, r.Backend)
		}
		if _, dup := ids[r.ID]; dup {
			return nil, fmt.Errorf("ルートID %s が重複しています", r.ID)
		}
		if _, dup := prefixes[r.Prefix]; dup {
			return nil, fmt.Errorf("接頭辞 %s が重複しています", r.Prefix)
		}
		ids[r.ID] = struct{}{}
		prefixes[r.Prefix] = struct{}{}
		sorted = append(sorted, r)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &RouteTable{routes: sorted}, nil
}

// Match はpathに最も長く一致するルートを返す。
func (t *RouteTable) Match(path string) (Route, bool) {
	for _, r := range t.routes {
		if r.matches(path) {
			return r, true
		}
	}
	return Route{}, false
}

// Routes はすべてのルートを接頭辞の長い順に返す。
func (t *RouteTable) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// DefaultRoutes は設定から標準のルートを組み立てる。
// 認証系のルートはログイン前に呼ばれるため認証を要求しない。
func DefaultRoutes(cfg config.GatewayConfig) []Route {
	return []Route{
		{
			ID:      "auth",
			Prefix:  "/api/v1/auth",
			Backend: cfg.UsersURL,
			Auth:    AuthNone,
			Limit:   cfg.Limits.Auth.Rule(),
		},
		{
			ID:      "users",
			Prefix:  "/api/v1/users",
			Backend: cfg.UsersURL,
			Auth:    AuthPresence,
			Limit:   cfg.Limits.Users.Rule(),
		},
		{
			ID:      "orders",
			Prefix:  "/api/v1/orders",
			Backend: cfg.OrdersURL,
			Auth:    AuthPresence,
			Limit:   cfg.Limits.Orders.Rule(),
		},
	}
}
