package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `username, full_name, email, password_hash, birthday, avatar, is_admin, groups, assigned_pools, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var (
		user         User
		groupsJSON   []byte
		assignedJSON []byte
	)
	err := row.Scan(
		&user.Username, &user.FullName, &user.Email, &user.PasswordHash,
		&user.Birthday, &user.Avatar, &user.Admin,
		&groupsJSON, &assignedJSON,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	if err := json.Unmarshal(groupsJSON, &user.Groups); err != nil {
		return User{}, fmt.Errorf("decode groups for %s: %w", user.Username, err)
	}
	if err := json.Unmarshal(assignedJSON, &user.AssignedPools); err != nil {
		return User{}, fmt.Errorf("decode assigned pools for %s: %w", user.Username, err)
	}
	return user, nil
}

// LoadUsers reads the full user collection.
func (s *PostgresStore) LoadUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY LOWER(username)`)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// SaveUsers writes the full user collection back in one transaction: every
// user in the slice is upserted and any row not in the slice is deleted.
// Either the whole collection lands or nothing does.
func (s *PostgresStore) SaveUsers(ctx context.Context, users []User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save users: %w", err)
	}
	defer tx.Rollback()

	kept := make([]string, 0, len(users))
	for i := range users {
		user := &users[i]
		groupsJSON, err := json.Marshal(nonNilStrings(user.Groups))
		if err != nil {
			return fmt.Errorf("encode groups for %s: %w", user.Username, err)
		}
		assignedJSON, err := json.Marshal(nonNilMap(user.AssignedPools))
		if err != nil {
			return fmt.Errorf("encode assigned pools for %s: %w", user.Username, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO users (username, full_name, email, password_hash, birthday, avatar, is_admin, groups, assigned_pools)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (username) DO UPDATE SET
				full_name=EXCLUDED.full_name,
				email=EXCLUDED.email,
				password_hash=EXCLUDED.password_hash,
				birthday=EXCLUDED.birthday,
				avatar=EXCLUDED.avatar,
				is_admin=EXCLUDED.is_admin,
				groups=EXCLUDED.groups,
				assigned_pools=EXCLUDED.assigned_pools,
				updated_at=NOW()
		`, user.Username, user.FullName, user.Email, user.PasswordHash,
			user.Birthday, user.Avatar, user.Admin, groupsJSON, assignedJSON)
		if err != nil {
			return fmt.Errorf("upsert user %s: %w", user.Username, err)
		}
		kept = append(kept, strings.ToLower(user.Username))
	}

	keptJSON, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("encode kept usernames: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM users
		WHERE LOWER(username) <> ALL (SELECT value FROM jsonb_array_elements_text($1::jsonb) AS t(value))
	`, keptJSON); err != nil {
		return fmt.Errorf("prune users: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save users: %w", err)
	}
	return nil
}

// GetUser looks up a single user by case-insensitive username.
func (s *PostgresStore) GetUser(ctx context.Context, username string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(username)=LOWER($1)`, username)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %s: %w", username, err)
	}
	return user, nil
}

// CreateUser inserts a new user row. Fails if the username is already taken
// (case-insensitively, via the unique index on LOWER(username)).
func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	groupsJSON, err := json.Marshal(nonNilStrings(user.Groups))
	if err != nil {
		return fmt.Errorf("encode groups: %w", err)
	}
	assignedJSON, err := json.Marshal(nonNilMap(user.AssignedPools))
	if err != nil {
		return fmt.Errorf("encode assigned pools: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (username, full_name, email, password_hash, birthday, avatar, is_admin, groups, assigned_pools)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, user.Username, user.FullName, user.Email, user.PasswordHash,
		user.Birthday, user.Avatar, user.Admin, groupsJSON, assignedJSON)
	if err != nil {
		return fmt.Errorf("insert user %s: %w", user.Username, err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserEmail(ctx context.Context, username, email string) error {
	return s.updateUserColumn(ctx, username, "email", email)
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	return s.updateUserColumn(ctx, username, "password_hash", passwordHash)
}

func (s *PostgresStore) updateUserColumn(ctx context.Context, username, column, value string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET `+column+`=$1, updated_at=NOW() WHERE LOWER(username)=LOWER($2)`,
		value, username)
	if err != nil {
		return fmt.Errorf("update %s for %s: %w", column, username, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s for %s: %w", column, username, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, username, fullName, birthday, avatar string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET full_name=$1, birthday=$2, avatar=$3, updated_at=NOW()
		WHERE LOWER(username)=LOWER($4)
	`, fullName, birthday, avatar, username)
	if err != nil {
		return fmt.Errorf("update profile for %s: %w", username, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update profile for %s: %w", username, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const ideaColumns = `id, for_user, added_by, name, description, link, value, priority, bought_by, date_bought, created_at`

func scanIdea(row interface{ Scan(...any) error }) (GiftIdea, error) {
	var (
		idea       GiftIdea
		value      sql.NullString
		priority   sql.NullInt64
		boughtBy   sql.NullString
		dateBought sql.NullTime
	)
	err := row.Scan(
		&idea.ID, &idea.ForUser, &idea.AddedBy, &idea.Name,
		&idea.Description, &idea.Link,
		&value, &priority, &boughtBy, &dateBought,
		&idea.CreatedAt,
	)
	if err != nil {
		return GiftIdea{}, err
	}
	if value.Valid {
		idea.Value = &value.String
	}
	if priority.Valid {
		p := int(priority.Int64)
		idea.Priority = &p
	}
	if boughtBy.Valid {
		idea.BoughtBy = &boughtBy.String
	}
	if dateBought.Valid {
		t := dateBought.Time
		idea.DateBought = &t
	}
	return idea, nil
}

// LoadIdeas reads the full gift idea collection.
func (s *PostgresStore) LoadIdeas(ctx context.Context) ([]GiftIdea, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ideaColumns+` FROM gift_ideas ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load ideas: %w", err)
	}
	defer rows.Close()

	var ideas []GiftIdea
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idea: %w", err)
		}
		ideas = append(ideas, idea)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ideas: %w", err)
	}
	return ideas, nil
}

// SaveIdeas writes the full idea collection back in one transaction, mirroring
// SaveUsers: upsert everything in the slice, delete everything else.
func (s *PostgresStore) SaveIdeas(ctx context.Context, ideas []GiftIdea) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save ideas: %w", err)
	}
	defer tx.Rollback()

	kept := make([]int64, 0, len(ideas))
	for i := range ideas {
		idea := &ideas[i]
		var (
			value      any
			priority   any
			boughtBy   any
			dateBought any
		)
		if idea.Value != nil {
			value = *idea.Value
		}
		if idea.Priority != nil {
			priority = *idea.Priority
		}
		if idea.BoughtBy != nil {
			boughtBy = *idea.BoughtBy
		}
		if idea.DateBought != nil {
			dateBought = *idea.DateBought
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO gift_ideas (id, for_user, added_by, name, description, link, value, priority, bought_by, date_bought)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				for_user=EXCLUDED.for_user,
				added_by=EXCLUDED.added_by,
				name=EXCLUDED.name,
				description=EXCLUDED.description,
				link=EXCLUDED.link,
				value=EXCLUDED.value,
				priority=EXCLUDED.priority,
				bought_by=EXCLUDED.bought_by,
				date_bought=EXCLUDED.date_bought
		`, idea.ID, idea.ForUser, idea.AddedBy, idea.Name, idea.Description, idea.Link,
			value, priority, boughtBy, dateBought)
		if err != nil {
			return fmt.Errorf("upsert idea %d: %w", idea.ID, err)
		}
		kept = append(kept, idea.ID)
	}

	keptJSON, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("encode kept idea ids: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM gift_ideas
		WHERE id <> ALL (SELECT value::bigint FROM jsonb_array_elements_text($1::jsonb) AS t(value))
	`, keptJSON); err != nil {
		return fmt.Errorf("prune ideas: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save ideas: %w", err)
	}
	return nil
}

// SearchIdeas is the SQL fallback behind the search service: a case-insensitive
// substring match over name and description.
func (s *PostgresStore) SearchIdeas(ctx context.Context, query string, limit int) ([]GiftIdea, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.ReplaceAll(strings.ReplaceAll(query, "%", `\%`), "_", `\_`) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ideaColumns+` FROM gift_ideas
		WHERE name ILIKE $1 OR description ILIKE $1
		ORDER BY id
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search ideas: %w", err)
	}
	defer rows.Close()

	var ideas []GiftIdea
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idea: %w", err)
		}
		ideas = append(ideas, idea)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ideas: %w", err)
	}
	return ideas, nil
}

// Pool instruction blobs, keyed by pool name.

func (s *PostgresStore) SavePoolInstructions(ctx context.Context, poolName, instructions string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pool_instructions (pool_name, instructions)
		VALUES ($1, $2)
		ON CONFLICT (pool_name) DO UPDATE SET instructions=EXCLUDED.instructions
	`, poolName, instructions)
	if err != nil {
		return fmt.Errorf("save instructions for pool %s: %w", poolName, err)
	}
	return nil
}

func (s *PostgresStore) GetPoolInstructions(ctx context.Context, poolName string) (string, error) {
	var instructions string
	err := s.db.QueryRowContext(ctx,
		`SELECT instructions FROM pool_instructions WHERE pool_name=$1`, poolName).Scan(&instructions)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get instructions for pool %s: %w", poolName, err)
	}
	return instructions, nil
}

func (s *PostgresStore) DeletePoolInstructions(ctx context.Context, poolName string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pool_instructions WHERE pool_name=$1`, poolName); err != nil {
		return fmt.Errorf("delete instructions for pool %s: %w", poolName, err)
	}
	return nil
}

// Refresh sessions, used when Redis is not configured.

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, username string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, username, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET username=EXCLUDED.username, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, username, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var username string
	err := s.db.QueryRowContext(ctx, `
		SELECT username FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup refresh session: %w", err)
	}
	return username, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
