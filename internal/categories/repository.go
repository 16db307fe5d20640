package categories

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polly-app/backend/internal/models"
	"github.com/polly-app/backend/internal/polls"
)

// ErrNameTaken is returned when a category name already exists.
var ErrNameTaken = &polls.Error{Kind: polls.KindConflict, Reason: "A category with this name already exists"}

// Store persists categories and their links to polls.
type Store interface {
	ListCategories(ctx context.Context) ([]models.CategoryWithCount, error)
	GetCategory(ctx context.Context, id uuid.UUID) (*models.Category, error)
	CreateCategory(ctx context.Context, c *models.Category) error
	DeleteCategory(ctx context.Context, id uuid.UUID) error
	ListByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Category, error)
	Attach(ctx context.Context, pollID, categoryID uuid.UUID) error
	Detach(ctx context.Context, pollID, categoryID uuid.UUID) error
}

// Repository is the PostgreSQL category Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a categories repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// ListCategories returns all categories by name with the number of polls
// tagged with each.
func (r *Repository) ListCategories(ctx context.Context) ([]models.CategoryWithCount, error) {
	const q = `SELECT c.id, c.name, c.description, c.color, c.created_at, COUNT(pc.poll_id)
		FROM categories c
		LEFT JOIN poll_categories pc ON pc.category_id = c.id
		GROUP BY c.id
		ORDER BY c.name`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, polls.Persistence("list categories", err)
	}
	defer rows.Close()
	var list []models.CategoryWithCount
	for rows.Next() {
		var c models.CategoryWithCount
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Color, &c.CreatedAt, &c.PollCount); err != nil {
			return nil, polls.Persistence("scan category", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, polls.Persistence("list categories", err)
	}
	return list, nil
}

// GetCategory returns a category by ID.
func (r *Repository) GetCategory(ctx context.Context, id uuid.UUID) (*models.Category, error) {
	var c models.Category
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, color, created_at FROM categories WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Description, &c.Color, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, polls.ErrCategoryNotFound
	}
	if err != nil {
		return nil, polls.Persistence("get category", err)
	}
	return &c, nil
}

// CreateCategory inserts c, filling ID and CreatedAt.
func (r *Repository) CreateCategory(ctx context.Context, c *models.Category) error {
	const q = `INSERT INTO categories (name, description, color) VALUES ($1, $2, $3)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, q, c.Name, c.Description, c.Color).Scan(&c.ID, &c.CreatedAt)
	if pgCode(err) == "23505" {
		return ErrNameTaken
	}
	if err != nil {
		return polls.Persistence("create category", err)
	}
	return nil
}

// DeleteCategory removes a category and its poll links.
func (r *Repository) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return polls.Persistence("delete category", err)
	}
	if tag.RowsAffected() == 0 {
		return polls.ErrCategoryNotFound
	}
	return nil
}

// ListByPoll returns the categories of a poll by name.
func (r *Repository) ListByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Category, error) {
	const q = `SELECT c.id, c.name, c.description, c.color, c.created_at
		FROM categories c
		JOIN poll_categories pc ON pc.category_id = c.id
		WHERE pc.poll_id = $1
		ORDER BY c.name`
	rows, err := r.pool.Query(ctx, q, pollID)
	if err != nil {
		return nil, polls.Persistence("list poll categories", err)
	}
	defer rows.Close()
	var list []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Color, &c.CreatedAt); err != nil {
			return nil, polls.Persistence("scan category", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, polls.Persistence("list poll categories", err)
	}
	return list, nil
}

// Attach links a category to a poll. Attaching twice is a no-op.
func (r *Repository) Attach(ctx context.Context, pollID, categoryID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO poll_categories (poll_id, category_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, pollID, categoryID)
	if pgCode(err) == "23503" {
		var pgErr *pgconn.PgError
		errors.As(err, &pgErr)
		if strings.Contains(pgErr.ConstraintName, "poll_id") {
			return polls.ErrPollNotFound
		}
		return polls.ErrCategoryNotFound
	}
	if err != nil {
		return polls.Persistence("attach category", err)
	}
	return nil
}

// Detach removes a category link. Detaching a missing link is a no-op.
func (r *Repository) Detach(ctx context.Context, pollID, categoryID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM poll_categories WHERE poll_id = $1 AND category_id = $2`,
		pollID, categoryID); err != nil {
		return polls.Persistence("detach category", err)
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
