package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RyanZhang-64/bhakti-steps/internal/model"
)

// ErrDuplicate reports a unique-constraint violation, e.g. a second sadhana
// log for the same (user, date).
var ErrDuplicate = errors.New("duplicate row")

const uniqueViolation = "23505"

func translateErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Users

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	var user model.User
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, first_name, last_name, spiritual_master_id, created_at, updated_at, deleted_at
		FROM users
		WHERE email = $1 AND deleted_at IS NULL
	`, email)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.SpiritualMasterID,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.DeletedAt,
	)
	return user, err
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	var user model.User
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, first_name, last_name, spiritual_master_id, created_at, updated_at, deleted_at
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`, userID)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.SpiritualMasterID,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.DeletedAt,
	)
	return user, err
}

// GetRole resolves a user's single role by table existence. Invite-only
// admission guarantees each account lands in exactly one of these tables.
func (s *Store) GetRole(ctx context.Context, userID string) (model.Role, error) {
	role := model.Role{UserID: userID}

	if s.exists(ctx, `SELECT 1 FROM administrators WHERE user_id = $1`, userID) {
		role.UserType = "admin"
		return role, nil
	}
	if s.exists(ctx, `SELECT 1 FROM mentors WHERE user_id = $1`, userID) {
		role.UserType = "mentor"
		return role, nil
	}
	if s.exists(ctx, `SELECT 1 FROM mentees WHERE user_id = $1`, userID) {
		role.UserType = "mentee"
		return role, nil
	}
	return role, pgx.ErrNoRows
}

// CreateUserWithRole inserts the account row and its role-table row in one
// transaction so no principal ever exists without a role.
func (s *Store) CreateUserWithRole(ctx context.Context, user model.User, userType string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, spiritual_master_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName, user.SpiritualMasterID, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return translateErr(err)
	}

	var roleTable string
	switch userType {
	case "admin":
		roleTable = `INSERT INTO administrators (user_id) VALUES ($1)`
	case "mentor":
		roleTable = `INSERT INTO mentors (user_id) VALUES ($1)`
	case "mentee":
		roleTable = `INSERT INTO mentees (user_id) VALUES ($1)`
	default:
		return errors.New("invalid user type")
	}
	if _, err := tx.Exec(ctx, roleTable, user.ID); err != nil {
		return translateErr(err)
	}

	return tx.Commit(ctx)
}

// ChangeRole moves the account to a different role table. Only admin
// handlers reach this; for everyone else the role is immutable.
func (s *Store) ChangeRole(ctx context.Context, userID, userType string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range []string{
		`DELETE FROM administrators WHERE user_id = $1`,
		`DELETE FROM mentors WHERE user_id = $1`,
		`DELETE FROM mentees WHERE user_id = $1`,
	} {
		if _, err := tx.Exec(ctx, table, userID); err != nil {
			return err
		}
	}

	var insert string
	switch userType {
	case "admin":
		insert = `INSERT INTO administrators (user_id) VALUES ($1)`
	case "mentor":
		insert = `INSERT INTO mentors (user_id) VALUES ($1)`
	case "mentee":
		insert = `INSERT INTO mentees (user_id) VALUES ($1)`
	default:
		return errors.New("invalid user type")
	}
	if _, err := tx.Exec(ctx, insert, userID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

type UserUpdate struct {
	Email             *string
	PasswordHash      *string
	FirstName         *string
	LastName          *string
	SpiritualMasterID *string
}

func (s *Store) UpdateUser(ctx context.Context, userID string, update UserUpdate) (model.User, error) {
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET email = COALESCE($1, email),
		    password_hash = COALESCE($2, password_hash),
		    first_name = COALESCE($3, first_name),
		    last_name = COALESCE($4, last_name),
		    spiritual_master_id = COALESCE($5, spiritual_master_id),
		    updated_at = $6
		WHERE id = $7 AND deleted_at IS NULL
	`, update.Email, update.PasswordHash, update.FirstName, update.LastName, update.SpiritualMasterID, time.Now().UTC(), userID)
	if err != nil {
		return model.User{}, translateErr(err)
	}
	return s.GetUserByID(ctx, userID)
}

// SoftDeleteUser marks the account deleted without dropping its rows.
func (s *Store) SoftDeleteUser(ctx context.Context, userID string, deletedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL
	`, deletedAt, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Batches

func (s *Store) CreateBatch(ctx context.Context, batch model.Batch) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO batches (id, mentor_id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, batch.ID, batch.MentorID, batch.Name, batch.Status, batch.CreatedAt, batch.UpdatedAt)
	return translateErr(err)
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (model.Batch, error) {
	var batch model.Batch
	row := s.pool.QueryRow(ctx, `
		SELECT id, mentor_id, name, status, created_at, updated_at
		FROM batches
		WHERE id = $1
	`, batchID)
	err := row.Scan(&batch.ID, &batch.MentorID, &batch.Name, &batch.Status, &batch.CreatedAt, &batch.UpdatedAt)
	return batch, err
}

func (s *Store) ListBatches(ctx context.Context, limit int) ([]model.Batch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, mentor_id, name, status, created_at, updated_at
		FROM batches
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

func (s *Store) ListBatchesByMentor(ctx context.Context, mentorID string, limit int) ([]model.Batch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, mentor_id, name, status, created_at, updated_at
		FROM batches
		WHERE mentor_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, mentorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

func (s *Store) ListBatchesByMentee(ctx context.Context, menteeID string, limit int) ([]model.Batch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT b.id, b.mentor_id, b.name, b.status, b.created_at, b.updated_at
		FROM batches b
		JOIN batch_memberships m ON m.batch_id = b.id
		WHERE m.mentee_id = $1 AND m.left_at IS NULL
		ORDER BY b.created_at DESC
		LIMIT $2
	`, menteeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

func scanBatches(rows pgx.Rows) ([]model.Batch, error) {
	var batches []model.Batch
	for rows.Next() {
		var batch model.Batch
		if err := rows.Scan(&batch.ID, &batch.MentorID, &batch.Name, &batch.Status, &batch.CreatedAt, &batch.UpdatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

func (s *Store) UpdateBatchStatus(ctx context.Context, batchID, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE batches SET status = $1, updated_at = $2 WHERE id = $3
	`, status, time.Now().UTC(), batchID)
	return err
}

func (s *Store) UpdateBatchName(ctx context.Context, batchID, name string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE batches SET name = $1, updated_at = $2 WHERE id = $3
	`, name, time.Now().UTC(), batchID)
	return err
}

func (s *Store) DeleteBatch(ctx context.Context, batchID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM batches WHERE id = $1`, batchID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Memberships

func (s *Store) CreateMembership(ctx context.Context, membership model.Membership) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO batch_memberships (id, batch_id, mentee_id, joined_at, left_at)
		VALUES ($1, $2, $3, $4, $5)
	`, membership.ID, membership.BatchID, membership.MenteeID, membership.JoinedAt, membership.LeftAt)
	return translateErr(err)
}

func (s *Store) ListActiveMembers(ctx context.Context, batchID string) ([]model.Membership, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, batch_id, mentee_id, joined_at, left_at
		FROM batch_memberships
		WHERE batch_id = $1 AND left_at IS NULL
		ORDER BY joined_at
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []model.Membership
	for rows.Next() {
		var m model.Membership
		if err := rows.Scan(&m.ID, &m.BatchID, &m.MenteeID, &m.JoinedAt, &m.LeftAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// EndMembership marks the membership left rather than deleting the row, so
// history survives while mentor visibility ends.
func (s *Store) EndMembership(ctx context.Context, batchID, menteeID string, leftAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE batch_memberships
		SET left_at = $1
		WHERE batch_id = $2 AND mentee_id = $3 AND left_at IS NULL
	`, leftAt, batchID, menteeID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// HasActiveMentorship implements the policy engine's mentor directory: true
// iff the mentor owns a batch with a membership for the mentee whose left_at
// is unset. A departed mentee is invisible to the former mentor.
func (s *Store) HasActiveMentorship(ctx context.Context, mentorID, menteeID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM batch_memberships m
			JOIN batches b ON b.id = m.batch_id
			WHERE b.mentor_id = $1 AND m.mentee_id = $2 AND m.left_at IS NULL
		)
	`, mentorID, menteeID).Scan(&ok)
	return ok, err
}

// Sadhana logs

func (s *Store) CreateSadhanaLog(ctx context.Context, entry model.SadhanaLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sadhana_logs (id, user_id, log_date, japa_rounds, reading_minutes, mangala_arati, morning_program, book_reading, score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, entry.ID, entry.UserID, entry.LogDate, entry.JapaRounds, entry.ReadingMinutes, entry.MangalaArati, entry.MorningProgram, entry.BookReading, entry.Score, entry.CreatedAt, entry.UpdatedAt)
	return translateErr(err)
}

func (s *Store) GetSadhanaLog(ctx context.Context, logID string) (model.SadhanaLog, error) {
	var entry model.SadhanaLog
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, log_date, japa_rounds, reading_minutes, mangala_arati, morning_program, book_reading, score, created_at, updated_at
		FROM sadhana_logs
		WHERE id = $1
	`, logID)
	err := row.Scan(&entry.ID, &entry.UserID, &entry.LogDate, &entry.JapaRounds, &entry.ReadingMinutes, &entry.MangalaArati, &entry.MorningProgram, &entry.BookReading, &entry.Score, &entry.CreatedAt, &entry.UpdatedAt)
	return entry, err
}

func (s *Store) ListSadhanaLogs(ctx context.Context, userID string, from, to *time.Time, limit int) ([]model.SadhanaLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, log_date, japa_rounds, reading_minutes, mangala_arati, morning_program, book_reading, score, created_at, updated_at
		FROM sadhana_logs
		WHERE user_id = $1
		  AND ($2::date IS NULL OR log_date >= $2)
		  AND ($3::date IS NULL OR log_date <= $3)
		ORDER BY log_date DESC
		LIMIT $4
	`, userID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.SadhanaLog
	for rows.Next() {
		var entry model.SadhanaLog
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.LogDate, &entry.JapaRounds, &entry.ReadingMinutes, &entry.MangalaArati, &entry.MorningProgram, &entry.BookReading, &entry.Score, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type SadhanaUpdate struct {
	JapaRounds     *int32
	ReadingMinutes *int32
	MangalaArati   *bool
	MorningProgram *bool
	BookReading    *bool
	Score          *int32
}

func (s *Store) UpdateSadhanaLog(ctx context.Context, logID string, update SadhanaUpdate) (model.SadhanaLog, error) {
	_, err := s.pool.Exec(ctx, `
		UPDATE sadhana_logs
		SET japa_rounds = COALESCE($1, japa_rounds),
		    reading_minutes = COALESCE($2, reading_minutes),
		    mangala_arati = COALESCE($3, mangala_arati),
		    morning_program = COALESCE($4, morning_program),
		    book_reading = COALESCE($5, book_reading),
		    score = COALESCE($6, score),
		    updated_at = $7
		WHERE id = $8
	`, update.JapaRounds, update.ReadingMinutes, update.MangalaArati, update.MorningProgram, update.BookReading, update.Score, time.Now().UTC(), logID)
	if err != nil {
		return model.SadhanaLog{}, err
	}
	return s.GetSadhanaLog(ctx, logID)
}

func (s *Store) DeleteSadhanaLog(ctx context.Context, logID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sadhana_logs WHERE id = $1`, logID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Service logs

func (s *Store) CreateServiceLog(ctx context.Context, entry model.ServiceLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO service_logs (id, user_id, department_id, log_date, duration_hours, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.UserID, entry.DepartmentID, entry.LogDate, entry.DurationHours, entry.Description, entry.CreatedAt)
	return translateErr(err)
}

func (s *Store) ListServiceLogs(ctx context.Context, userID string, from, to *time.Time, limit int) ([]model.ServiceLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, department_id, log_date, duration_hours, description, created_at
		FROM service_logs
		WHERE user_id = $1
		  AND ($2::date IS NULL OR log_date >= $2)
		  AND ($3::date IS NULL OR log_date <= $3)
		ORDER BY log_date DESC
		LIMIT $4
	`, userID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.ServiceLog
	for rows.Next() {
		var entry model.ServiceLog
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.DepartmentID, &entry.LogDate, &entry.DurationHours, &entry.Description, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Push tokens

// UpsertPushToken refreshes last_seen_at when the same (user, token) pair is
// registered again instead of growing a duplicate row.
func (s *Store) UpsertPushToken(ctx context.Context, token model.PushToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO push_tokens (id, user_id, token, platform, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, token)
		DO UPDATE SET platform = EXCLUDED.platform, last_seen_at = EXCLUDED.last_seen_at
	`, token.ID, token.UserID, token.Token, token.Platform, token.CreatedAt, token.LastSeenAt)
	return err
}

func (s *Store) ListPushTokens(ctx context.Context, userID string) ([]model.PushToken, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, token, platform, created_at, last_seen_at
		FROM push_tokens
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []model.PushToken
	for rows.Next() {
		var token model.PushToken
		if err := rows.Scan(&token.ID, &token.UserID, &token.Token, &token.Platform, &token.CreatedAt, &token.LastSeenAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

func (s *Store) DeletePushToken(ctx context.Context, userID, tokenID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM push_tokens WHERE id = $1 AND user_id = $2
	`, tokenID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Reference tables

func (s *Store) ListSpiritualMasters(ctx context.Context) ([]model.SpiritualMaster, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM spiritual_masters ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var masters []model.SpiritualMaster
	for rows.Next() {
		var master model.SpiritualMaster
		if err := rows.Scan(&master.ID, &master.Name); err != nil {
			return nil, err
		}
		masters = append(masters, master)
	}
	return masters, rows.Err()
}

func (s *Store) ListDepartments(ctx context.Context) ([]model.Department, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM departments ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var departments []model.Department
	for rows.Next() {
		var department model.Department
		if err := rows.Scan(&department.ID, &department.Name); err != nil {
			return nil, err
		}
		departments = append(departments, department)
	}
	return departments, rows.Err()
}

func (s *Store) ListCourseCategories(ctx context.Context) ([]model.CourseCategory, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM course_categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []model.CourseCategory
	for rows.Next() {
		var category model.CourseCategory
		if err := rows.Scan(&category.ID, &category.Name); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

func (s *Store) DepartmentExists(ctx context.Context, departmentID string) bool {
	return s.exists(ctx, `SELECT 1 FROM departments WHERE id = $1`, departmentID)
}

func (s *Store) SpiritualMasterExists(ctx context.Context, masterID string) bool {
	return s.exists(ctx, `SELECT 1 FROM spiritual_masters WHERE id = $1`, masterID)
}

// Refresh sessions

func (s *Store) CreateRefreshSession(ctx context.Context, session model.RefreshSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_token_sessions (id, user_id, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, session.ID, session.UserID, session.TokenHash, session.CreatedAt, session.ExpiresAt, session.RevokedAt, session.UserAgent, session.IPAddress)
	return err
}

func (s *Store) GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error) {
	var session model.RefreshSession
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address
		FROM refresh_token_sessions
		WHERE token_hash = $1
	`, tokenHash)
	err := row.Scan(&session.ID, &session.UserID, &session.TokenHash, &session.CreatedAt, &session.ExpiresAt, &session.RevokedAt, &session.UserAgent, &session.IPAddress)
	return session, err
}

func (s *Store) RevokeRefreshSession(ctx context.Context, sessionID string, revokedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE refresh_token_sessions SET revoked_at = $1 WHERE id = $2`, revokedAt, sessionID)
	return err
}

func (s *Store) RevokeRefreshSessionsByUser(ctx context.Context, userID string, revokedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_token_sessions SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL
	`, revokedAt, userID)
	return err
}

func (s *Store) DeleteStaleRefreshSessions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM refresh_token_sessions
		WHERE expires_at < $1 OR revoked_at IS NOT NULL
	`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) exists(ctx context.Context, query string, arg string) bool {
	var exists bool
	_ = s.pool.QueryRow(ctx, `SELECT EXISTS (`+query+`)`, arg).Scan(&exists)
	return exists
}
