package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Status は注文の状態。
type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusCanceled   Status = "canceled"
)

// Final は以後キャンセルできない状態かどうかを返す。
func (s Status) Final() bool {
	return s == StatusDone || s == StatusCanceled
}

var (
	// ErrOrderNotFound は注文が存在しないことを表す。
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderFinal は注文が完了またはキャンセル済みであることを表す。
	ErrOrderFinal = errors.New("order already finished")
)

// Item は注文明細。
type Item struct {
	// SKU は商品コード。
	SKU string `json:"sku" binding:"required,min=1"`
	// Qty は数量。
	Qty int `json:"qty" binding:"required,min=1"`
	// Price は単価。
	Price float64 `json:"price" binding:"min=0"`
}

// Order は注文の永続化モデル。
type Order struct {
	ID          string
	UserID      string
	Items       []Item
	Status      Status
	TotalAmount float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ListParams は一覧取得の条件。
type ListParams struct {
	// UserID は注文者。
	UserID string
	// Page は1始まりのページ番号。
	Page int
	// Size は1ページの件数。
	Size int
	// Ascending がtrueなら作成日時の古い順、falseなら新しい順。
	Ascending bool
}

// TotalAmount は明細の合計金額を小数点以下2桁に丸めて返す。
func TotalAmount(items []Item) float64 {
	var total float64
	for _, it := range items {
		total += float64(it.Qty) * it.Price
	}
	return math.Round(total*100) / 100
}

// Store は注文のSQLiteストア。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create は注文を登録する。合計金額は明細から計算する。
func (s *Store) Create(ctx context.Context, userID string, items []Item) (Order, error) {
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return Order{}, fmt.Errorf("明細のシリアライズに失敗: %w", err)
	}

	now := s.now().UTC()
	o := Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		Items:       items,
		Status:      StatusCreated,
		TotalAmount: TotalAmount(items),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, items, status, total_amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, string(itemsJSON), string(o.Status), o.TotalAmount, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return Order{}, fmt.Errorf("注文の登録に失敗: %w", err)
	}
	return o, nil
}

const selectColumns = `id, user_id, items, status, total_amount, created_at, updated_at`

// Get はIDで注文を取得する。
func (s *Store) Get(ctx context.Context, id string) (Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

// ListByUser はユーザーの注文を作成日時順に返す。2つ目の戻り値は総数。
func (s *Store) ListByUser(ctx context.Context, p ListParams) ([]Order, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM orders WHERE user_id = ?`, p.UserID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("注文数の取得に失敗: %w", err)
	}

	order := `created_at DESC, id DESC`
	if p.Ascending {
		order = `created_at ASC, id ASC`
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM orders WHERE user_id = ? ORDER BY `+order+` LIMIT ? OFFSET ?`,
		p.UserID, p.Size, (p.Page-1)*p.Size,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("注文一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	orders := make([]Order, 0, p.Size)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("注文一覧の読み込みに失敗: %w", err)
	}
	return orders, total, nil
}

// UpdateStatus は注文の状態を更新し、更新後の注文を返す。
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) (Order, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.now().UTC(), id,
	)
	if err != nil {
		return Order{}, fmt.Errorf("注文状態の更新に失敗: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Order{}, ErrOrderNotFound
	}
	return s.Get(ctx, id)
}

// Cancel は完了またはキャンセル済みでない注文をキャンセルする。
// 状態の確認と更新は1つのUPDATE文で行う。
func (s *Store) Cancel(ctx context.Context, id string) (Order, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status NOT IN (?, ?)`,
		string(StatusCanceled), s.now().UTC(), id, string(StatusDone), string(StatusCanceled),
	)
	if err != nil {
		return Order{}, fmt.Errorf("注文のキャンセルに失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Order{}, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return Order{}, err
		}
		return Order{}, ErrOrderFinal
	}
	return s.Get(ctx, id)
}

// scanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type scanner interface {
	Scan(dest ...any) error
}

// scanOrder は1行をOrderに変換する。
func scanOrder(row scanner) (Order, error) {
	var (
		o      Order
		items  string
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &items, &status, &o.TotalAmount, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("注文の読み込みに失敗: %w", err)
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return Order{}, fmt.Errorf("明細のデシリアライズに失敗: %w", err)
	}
	o.Status = Status(status)
	return o, nil
}
