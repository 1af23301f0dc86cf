package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/selfdb-io/selfdb/internal/db"
	"github.com/selfdb-io/selfdb/internal/httpx"
	"github.com/selfdb-io/selfdb/internal/model"
)

const userColumns = `id, email, password_hash, first_name, last_name, role, is_active, created_at`

// UserSortable is the sort_by allowlist for user listings.
var UserSortable = map[string]bool{
	"email":      true,
	"first_name": true,
	"last_name":  true,
	"role":       true,
	"created_at": true,
}

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser fetches a user by id.
func GetUser(ctx context.Context, q db.Querier, id uuid.UUID) (*model.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, httpx.MapDBError(err, "User")
	}
	return u, nil
}

// GetUserByEmail fetches a user by email, case-insensitively.
func GetUserByEmail(ctx context.Context, q db.Querier, email string) (*model.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
	if err != nil {
		return nil, httpx.MapDBError(err, "User")
	}
	return u, nil
}

// CreateUser inserts a new user row. The first registered user becomes an
// admin; everyone after is a regular user.
func CreateUser(ctx context.Context, q db.Querier, email, passwordHash, firstName, lastName string) (*model.User, error) {
	var existing int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&existing); err != nil {
		return nil, err
	}
	role := model.RoleUser
	if existing == 0 {
		role = model.RoleAdmin
	}
	id := uuid.New()
	_, err := q.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, first_name, last_name, role, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE, CURRENT_TIMESTAMP)`,
		id, strings.ToLower(strings.TrimSpace(email)), passwordHash, firstName, lastName, role)
	if err != nil {
		return nil, err
	}
	return GetUser(ctx, q, id)
}

// CountUsers counts users matching the search term.
func CountUsers(ctx context.Context, q db.Querier, search string) (int64, error) {
	if err := ValidateSearchTerm(search); err != nil {
		return 0, err
	}
	var n int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users
		 WHERE ($1 = '' OR email ILIKE $2 OR first_name ILIKE $2 OR last_name ILIKE $2)`,
		search, "%"+search+"%").Scan(&n)
	return n, err
}

// ListUsers pages through users with the shared search/sort options.
func ListUsers(ctx context.Context, q db.Querier, opts ListOptions) ([]*model.User, error) {
	if err := opts.Normalize(100, UserSortable, "created_at"); err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE ($1 = '' OR email ILIKE $2 OR first_name ILIKE $2 OR last_name ILIKE $2)
		 `+opts.OrderClause()+` OFFSET $3 LIMIT $4`,
		opts.Search, opts.LikePattern(), opts.Skip, opts.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []*model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UserUpdate carries the PATCH-able fields; nil means leave unchanged.
type UserUpdate struct {
	Email        *string `json:"email"`
	FirstName    *string `json:"first_name"`
	LastName     *string `json:"last_name"`
	Role         *string `json:"role"`
	IsActive     *bool   `json:"is_active"`
	PasswordHash *string `json:"-"`
}

// UpdateUser applies a partial update and returns the fresh row.
func UpdateUser(ctx context.Context, q db.Querier, id uuid.UUID, upd UserUpdate) (*model.User, error) {
	if upd.Role != nil && *upd.Role != model.RoleUser && *upd.Role != model.RoleAdmin {
		return nil, httpx.Validation("role must be USER or ADMIN")
	}
	res, err := q.ExecContext(ctx,
		`UPDATE users SET
			email = COALESCE($2, email),
			first_name = COALESCE($3, first_name),
			last_name = COALESCE($4, last_name),
			role = COALESCE($5, role),
			is_active = COALESCE($6, is_active),
			password_hash = COALESCE($7, password_hash)
		 WHERE id = $1`,
		id, lower(upd.Email), upd.FirstName, upd.LastName, upd.Role, upd.IsActive, upd.PasswordHash)
	if err != nil {
		return nil, httpx.MapDBError(err, "User")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, httpx.NotFound("User")
	}
	return GetUser(ctx, q, id)
}

// DeleteUser removes a user row.
func DeleteUser(ctx context.Context, q db.Querier, id uuid.UUID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return httpx.MapDBError(err, "User")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httpx.NotFound("User")
	}
	return nil
}

func lower(s *string) *string {
	if s == nil {
		return nil
	}
	l := strings.ToLower(strings.TrimSpace(*s))
	return &l
}

// nullTimePtr converts a nullable column into a *time.Time.
func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// nullStrPtr converts a nullable column into a *string.
func nullStrPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// nullUUIDPtr converts a nullable uuid column into a *uuid.UUID.
func nullUUIDPtr(u uuid.NullUUID) *uuid.UUID {
	if !u.Valid {
		return nil
	}
	v := u.UUID
	return &v
}
