package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrUserNotFound はユーザーが存在しないことを表す。
var ErrUserNotFound = errors.New("user not found")

// ErrEmailTaken はメールアドレスが既に登録されていることを表す。
var ErrEmailTaken = errors.New("email already registered")

// User はユーザーの永続化モデル。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Roles        []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ListParams は一覧取得の条件。
type ListParams struct {
	// Page は1始まりのページ番号。
	Page int
	// Size は1ページの件数。
	Size int
	// Query はメールアドレスまたは名前の部分一致条件（大文字小文字を区別しない）。
	Query string
}

// Store はユーザーのSQLiteストア。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// NormalizeEmail はメールアドレスを比較用に正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create はユーザーを登録する。IDと日時はストアが採番する。
func (s *Store) Create(ctx context.Context, email, passwordHash, name string, roles []string) (User, error) {
	if roles == nil {
		roles = []string{}
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return User{}, fmt.Errorf("ロールのシリアライズに失敗: %w", err)
	}

	now := s.now().UTC()
	u := User{
		ID:           uuid.NewString(),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		Name:         name,
		Roles:        roles,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, name, roles, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.Name, string(rolesJSON), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("ユーザーの登録に失敗: %w", err)
	}
	return u, nil
}

const selectColumns = `id, email, password_hash, name, roles, created_at, updated_at`

// GetByID はIDでユーザーを取得する。
func (s *Store) GetByID(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetByEmail はメールアドレスでユーザーを取得する。
func (s *Store) GetByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM users WHERE email = ?`, NormalizeEmail(email))
	return scanUser(row)
}

// UpdateName はユーザーの表示名を更新し、更新後のユーザーを返す。
func (s *Store) UpdateName(ctx context.Context, id, name string) (User, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET name = ?, updated_at = ? WHERE id = ?`,
		name, s.now().UTC(), id,
	)
	if err != nil {
		return User{}, fmt.Errorf("ユーザーの更新に失敗: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return User{}, ErrUserNotFound
	}
	return s.GetByID(ctx, id)
}

// List は条件に一致するユーザーを登録順に返す。2つ目の戻り値は条件に一致する総数。
func (s *Store) List(ctx context.Context, p ListParams) ([]User, int, error) {
	where := ""
	var args []any
	if q := strings.TrimSpace(p.Query); q != "" {
		pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
		where = ` WHERE lower(email) LIKE ? ESCAPE '\' OR lower(name) LIKE ? ESCAPE '\'`
		args = append(args, pattern, pattern)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ユーザー数の取得に失敗: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM users`+where+` ORDER BY created_at, id LIMIT ? OFFSET ?`,
		append(args, p.Size, (p.Page-1)*p.Size)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ユーザー一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	users := make([]User, 0, p.Size)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ユーザー一覧の読み込みに失敗: %w", err)
	}
	return users, total, nil
}

// SubjectExists はトークンの主体がユーザーとして存在するかを返す。
func (s *Store) SubjectExists(ctx context.Context, subject string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, subject).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ユーザーの存在確認に失敗: %w", err)
	}
	return true, nil
}

// scanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type scanner interface {
	Scan(dest ...any) error
}

// scanUser は1行をUserに変換する。
func scanUser(row scanner) (User, error) {
	var (
		u     User
		roles string
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &roles, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("ユーザーの読み込みに失敗: %w", err)
	}
	if err := json.Unmarshal([]byte(roles), &u.Roles); err != nil {
		return User{}, fmt.Errorf("ロールのデシリアライズに失敗: %w", err)
	}
	if u.Roles == nil {
		u.Roles = []string{}
	}
	return u, nil
}

// isUniqueViolation はerrが一意制約違反かを返す。
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// escapeLike はLIKEのワイルドカード文字をエスケープする。
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
