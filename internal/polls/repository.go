package polls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polly-app/backend/internal/models"
)

const (
	pollColumns = `id, title, description, status, created_by, expires_at, allow_multiple_votes,
		allow_anonymous, total_votes, snapshot_key, created_at, updated_at`
	optionColumns = `id, poll_id, text, vote_count, order_index, created_at, updated_at`
	voteColumns   = `id, poll_id, option_id, user_id, ip_address, user_agent, status, exclusive, created_at, updated_at`

	uniqueActiveVoteIndex = "votes_one_active_per_user"
	categoryForeignKey    = "poll_categories_category_id_fkey"
)

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

type scanner interface {
	Scan(dest ...any) error
}

func scanPoll(row scanner) (*models.Poll, error) {
	var p models.Poll
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Status, &p.CreatedBy, &p.ExpiresAt, &p.AllowMultipleVotes,
		&p.AllowAnonymous, &p.TotalVotes, &p.SnapshotKey, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanOption(row scanner) (models.PollOption, error) {
	var o models.PollOption
	err := row.Scan(&o.ID, &o.PollID, &o.Text, &o.VoteCount, &o.OrderIndex, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func scanVote(row scanner) (*models.Vote, error) {
	var v models.Vote
	err := row.Scan(&v.ID, &v.PollID, &v.OptionID, &v.UserID, &v.IPAddress, &v.UserAgent, &v.Status, &v.Exclusive,
		&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetPoll returns a poll by ID without options.
func (r *Repository) GetPoll(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	p, err := scanPoll(r.pool.QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, Persistence("get poll", err)
	}
	return p, nil
}

// GetOption returns an option that belongs to pollID.
func (r *Repository) GetOption(ctx context.Context, pollID, optionID uuid.UUID) (*models.PollOption, error) {
	o, err := scanOption(r.pool.QueryRow(ctx,
		`SELECT `+optionColumns+` FROM poll_options WHERE id = $1 AND poll_id = $2`, optionID, pollID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOptionNotFound
	}
	if err != nil {
		return nil, Persistence("get option", err)
	}
	return &o, nil
}

// ListOptions returns a poll's options in display order.
func (r *Repository) ListOptions(ctx context.Context, pollID uuid.UUID) ([]models.PollOption, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+optionColumns+` FROM poll_options WHERE poll_id = $1 ORDER BY order_index`, pollID)
	if err != nil {
		return nil, Persistence("list options", err)
	}
	defer rows.Close()
	var list []models.PollOption
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, Persistence("scan option", err)
		}
		list = append(list, o)
	}
	if err := rows.Err(); err != nil {
		return nil, Persistence("list options", err)
	}
	return list, nil
}

// FindActiveVote returns the user's active vote on a poll, or nil.
func (r *Repository) FindActiveVote(ctx context.Context, pollID, userID uuid.UUID) (*models.Vote, error) {
	v, err := scanVote(r.pool.QueryRow(ctx, `SELECT `+voteColumns+` FROM votes
		WHERE poll_id = $1 AND user_id = $2 AND status = 'active'
		ORDER BY created_at DESC LIMIT 1`, pollID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Persistence("find active vote", err)
	}
	return v, nil
}

// GetVote returns a vote by ID, active or not.
func (r *Repository) GetVote(ctx context.Context, id uuid.UUID) (*models.Vote, error) {
	v, err := scanVote(r.pool.QueryRow(ctx, `SELECT `+voteColumns+` FROM votes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVoteNotFound
	}
	if err != nil {
		return nil, Persistence("get vote", err)
	}
	return v, nil
}

// InsertVoteAndIncrement inserts v and bumps both counters in one
// transaction. The poll row is updated first so concurrent votes on the same
// poll serialize on it; the partial unique index rejects a second active
// exclusive vote by the same user.
func (r *Repository) InsertVoteAndIncrement(ctx context.Context, v *models.Vote, now time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Persistence("begin vote", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `UPDATE polls SET total_votes = total_votes + 1, updated_at = $2
		WHERE id = $1 AND status = 'active' AND (expires_at IS NULL OR expires_at > $2)`, v.PollID, now)
	if err != nil {
		return Persistence("increment poll total", err)
	}
	if tag.RowsAffected() == 0 {
		return r.whyNotVotable(ctx, tx, v.PollID, now)
	}

	tag, err = tx.Exec(ctx, `UPDATE poll_options SET vote_count = vote_count + 1, updated_at = $3
		WHERE id = $1 AND poll_id = $2`, v.OptionID, v.PollID, now)
	if err != nil {
		return Persistence("increment option count", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOptionNotFound
	}

	const insert = `INSERT INTO votes (id, poll_id, option_id, user_id, ip_address, user_agent, status, exclusive, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', $7, $8, $8)`
	if _, err := tx.Exec(ctx, insert, v.ID, v.PollID, v.OptionID, v.UserID, v.IPAddress, v.UserAgent, v.Exclusive, now); err != nil {
		if isUniqueViolation(err, uniqueActiveVoteIndex) {
			return ErrDuplicateVote
		}
		return Persistence("insert vote", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Persistence("commit vote", err)
	}
	v.Status = models.VoteStatusActive
	v.CreatedAt, v.UpdatedAt = now, now
	return nil
}

func (r *Repository) whyNotVotable(ctx context.Context, tx pgx.Tx, pollID uuid.UUID, now time.Time) error {
	var status models.PollStatus
	var expiresAt *time.Time
	err := tx.QueryRow(ctx, `SELECT status, expires_at FROM polls WHERE id = $1`, pollID).Scan(&status, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPollNotFound
	}
	if err != nil {
		return Persistence("get poll status", err)
	}
	if status != models.PollStatusActive {
		return ErrPollInactive
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return ErrPollExpired
	}
	return Persistence("increment poll total", fmt.Errorf("poll %s not updated", pollID))
}

// RetractVoteAndDecrement marks an active vote deleted and decrements both
// counters. Locks are taken poll row first, matching InsertVoteAndIncrement.
func (r *Repository) RetractVoteAndDecrement(ctx context.Context, voteID uuid.UUID, now time.Time) (*models.Vote, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, Persistence("begin retract", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var pollID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT poll_id FROM votes WHERE id = $1`, voteID).Scan(&pollID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVoteNotFound
	}
	if err != nil {
		return nil, Persistence("get vote poll", err)
	}

	var status models.PollStatus
	var expiresAt *time.Time
	err = tx.QueryRow(ctx, `SELECT status, expires_at FROM polls WHERE id = $1 FOR UPDATE`, pollID).Scan(&status, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, Persistence("lock poll", err)
	}
	if status != models.PollStatusActive {
		return nil, ErrPollInactive
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, ErrPollExpired
	}

	v, err := scanVote(tx.QueryRow(ctx, `UPDATE votes SET status = 'deleted', updated_at = $2
		WHERE id = $1 AND status = 'active' RETURNING `+voteColumns, voteID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVoteRetracted
	}
	if err != nil {
		return nil, Persistence("retract vote", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE poll_options SET vote_count = vote_count - 1, updated_at = $2
		WHERE id = $1 AND vote_count > 0`, v.OptionID, now); err != nil {
		return nil, Persistence("decrement option count", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE polls SET total_votes = total_votes - 1, updated_at = $2
		WHERE id = $1 AND total_votes > 0`, v.PollID, now); err != nil {
		return nil, Persistence("decrement poll total", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, Persistence("commit retract", err)
	}
	return v, nil
}

// CreatePollWithOptions inserts the poll, its options and its category links
// in one transaction. An unknown category rolls everything back.
func (r *Repository) CreatePollWithOptions(ctx context.Context, p *models.Poll, options []string, categoryIDs []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Persistence("begin create poll", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const insertPoll = `INSERT INTO polls (id, title, description, status, created_by, expires_at,
		allow_multiple_votes, allow_anonymous, total_votes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $9)`
	if _, err := tx.Exec(ctx, insertPoll, p.ID, p.Title, p.Description, p.Status, p.CreatedBy, p.ExpiresAt,
		p.AllowMultipleVotes, p.AllowAnonymous, p.CreatedAt); err != nil {
		return Persistence("insert poll", err)
	}

	const insertOption = `INSERT INTO poll_options (id, poll_id, text, vote_count, order_index, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, $5)`
	opts := make([]models.PollOption, len(options))
	batch := &pgx.Batch{}
	for i, text := range options {
		opts[i] = models.PollOption{
			ID:         uuid.New(),
			PollID:     p.ID,
			Text:       text,
			OrderIndex: i,
			CreatedAt:  p.CreatedAt,
			UpdatedAt:  p.CreatedAt,
		}
		batch.Queue(insertOption, opts[i].ID, p.ID, text, i, p.CreatedAt)
	}
	const linkCategory = `INSERT INTO poll_categories (poll_id, category_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`
	for _, cid := range categoryIDs {
		batch.Queue(linkCategory, p.ID, cid)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		if isForeignKeyViolation(err, categoryForeignKey) {
			return ErrCategoryNotFound
		}
		return Persistence("insert options", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Persistence("commit create poll", err)
	}
	p.Options = opts
	p.TotalVotes = 0
	return nil
}

// UpdatePoll writes the editable fields of a poll that is not closed.
func (r *Repository) UpdatePoll(ctx context.Context, p *models.Poll) error {
	const q = `UPDATE polls SET title = $2, description = $3, expires_at = $4, updated_at = $5
		WHERE id = $1 AND status <> 'closed'`
	tag, err := r.pool.Exec(ctx, q, p.ID, p.Title, p.Description, p.ExpiresAt, p.UpdatedAt)
	if err != nil {
		return Persistence("update poll", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetPoll(ctx, p.ID); err != nil {
			return err
		}
		return ErrPollInactive
	}
	return nil
}

// DeletePoll removes a poll; options, votes and category links cascade.
func (r *Repository) DeletePoll(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM polls WHERE id = $1`, id)
	if err != nil {
		return Persistence("delete poll", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPollNotFound
	}
	return nil
}

// SetStatus moves a poll to status to when its current status is in from.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, to models.PollStatus, now time.Time, from ...models.PollStatus) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE polls SET status = $2, updated_at = $4
		WHERE id = $1 AND status = ANY($3)`, id, string(to), allowed, now)
	if err != nil {
		return false, Persistence("set poll status", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := r.GetPoll(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// CloseExpired closes active polls whose expiry is at or before now.
func (r *Repository) CloseExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `UPDATE polls SET status = 'closed', updated_at = $1
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1
		RETURNING id`, now)
	if err != nil {
		return nil, Persistence("close expired polls", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, Persistence("close expired polls", err)
	}
	return ids, nil
}

// SetSnapshotKey records the archive key of the poll's final results.
func (r *Repository) SetSnapshotKey(ctx context.Context, pollID uuid.UUID, key string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE polls SET snapshot_key = $2 WHERE id = $1`, pollID, key)
	if err != nil {
		return Persistence("set snapshot key", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPollNotFound
	}
	return nil
}

// ListPolls returns polls matching f, newest first, with their options.
func (r *Repository) ListPolls(ctx context.Context, f ListFilter) ([]models.Poll, error) {
	f = f.Normalize()
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != "" {
		conds = append(conds, "p.status = "+arg(string(f.Status)))
	}
	if f.CreatedBy != nil {
		conds = append(conds, "p.created_by = "+arg(*f.CreatedBy))
	}
	if f.CategoryID != nil {
		conds = append(conds, "EXISTS (SELECT 1 FROM poll_categories pc WHERE pc.poll_id = p.id AND pc.category_id = "+arg(*f.CategoryID)+")")
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		n := arg("%" + likeEscaper.Replace(q) + "%")
		conds = append(conds, "(p.title ILIKE "+n+" OR p.description ILIKE "+n+")")
	}
	query := `SELECT ` + prefixed("p.", pollColumns) + ` FROM polls p`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY p.created_at DESC LIMIT " + arg(f.Limit) + " OFFSET " + arg(f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, Persistence("list polls", err)
	}
	defer rows.Close()
	var list []models.Poll
	index := make(map[uuid.UUID]int)
	var ids []uuid.UUID
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, Persistence("scan poll", err)
		}
		index[p.ID] = len(list)
		ids = append(ids, p.ID)
		list = append(list, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, Persistence("list polls", err)
	}
	if len(ids) == 0 {
		return list, nil
	}

	optRows, err := r.pool.Query(ctx, `SELECT `+optionColumns+` FROM poll_options
		WHERE poll_id = ANY($1) ORDER BY poll_id, order_index`, ids)
	if err != nil {
		return nil, Persistence("list poll options", err)
	}
	defer optRows.Close()
	for optRows.Next() {
		o, err := scanOption(optRows)
		if err != nil {
			return nil, Persistence("scan option", err)
		}
		i := index[o.PollID]
		list[i].Options = append(list[i].Options, o)
	}
	if err := optRows.Err(); err != nil {
		return nil, Persistence("list poll options", err)
	}
	return list, nil
}

// ListVotesByPoll returns active votes on a poll, newest first.
func (r *Repository) ListVotesByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Vote, error) {
	return r.listVotes(ctx, `SELECT `+voteColumns+` FROM votes
		WHERE poll_id = $1 AND status = 'active' ORDER BY created_at DESC`, pollID)
}

// ListVotesByUser returns a user's active votes, newest first.
func (r *Repository) ListVotesByUser(ctx context.Context, userID uuid.UUID) ([]models.Vote, error) {
	return r.listVotes(ctx, `SELECT `+voteColumns+` FROM votes
		WHERE user_id = $1 AND status = 'active' ORDER BY created_at DESC`, userID)
}

func (r *Repository) listVotes(ctx context.Context, query string, id uuid.UUID) ([]models.Vote, error) {
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, Persistence("list votes", err)
	}
	defer rows.Close()
	var list []models.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, Persistence("scan vote", err)
		}
		list = append(list, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, Persistence("list votes", err)
	}
	return list, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}

func isForeignKeyViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" && (constraint == "" || pgErr.ConstraintName == constraint)
}
