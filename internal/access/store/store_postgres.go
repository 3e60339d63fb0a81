package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"jitaccess/internal/access/models"
	id "jitaccess/pkg/domain"
	"jitaccess/pkg/platform/sentinel"
	"jitaccess/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

const selectColumns = `id, requester, action_name, action_params, requested_ttl, granted_ttl, reason,
	status, approver, created_at, decided_at, grant_status, grant_attempts, grant_error, grant_updated_at`

// PostgresStore persists access requests in PostgreSQL.
// It works on either the pgx stdlib driver or lib/pq; stores stay pure I/O.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate access_requests: %w", err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) conn(ctx context.Context) execer {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.db
}

func (s *PostgresStore) Insert(ctx context.Context, req *models.AccessRequest) error {
	query := `
		INSERT INTO access_requests (id, requester, action_name, action_params, requested_ttl, granted_ttl, reason,
			status, approver, created_at, decided_at, grant_status, grant_attempts, grant_error, grant_updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		req.ID.String(),
		req.Requester.String(),
		req.ActionName,
		paramsText(req),
		req.RequestedTTL.String(),
		req.GrantedTTL.String(),
		req.Reason,
		req.Status.String(),
		req.Approver.String(),
		req.CreatedAt,
		nullTime(req.DecidedAt),
		req.GrantStatus.String(),
		req.GrantAttempts,
		req.GrantError,
		nullTime(req.GrantUpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("request %s: %w", req.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert access request: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, reqID id.RequestID) (*models.AccessRequest, error) {
	query := `SELECT ` + selectColumns + ` FROM access_requests WHERE id = $1`
	req, err := scanAccessRequest(s.conn(ctx).QueryRowContext(ctx, query, reqID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("request %s: %w", reqID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get access request: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) CompareAndTransition(ctx context.Context, reqID id.RequestID, expected models.Status, mutate func(*models.AccessRequest)) (*models.AccessRequest, error) {
	return s.Execute(ctx, reqID, statusGuard(expected), mutate)
}

// Execute locks the row with SELECT ... FOR UPDATE so concurrent callers
// serialize on it; the loser re-reads the committed state and fails validation.
func (s *PostgresStore) Execute(ctx context.Context, reqID id.RequestID, validate func(*models.AccessRequest) error, mutate func(*models.AccessRequest)) (*models.AccessRequest, error) {
	var result *models.AccessRequest
	err := tx.Run(ctx, s.db, func(ctx context.Context, t *sql.Tx) error {
		query := `SELECT ` + selectColumns + ` FROM access_requests WHERE id = $1 FOR UPDATE`
		req, err := scanAccessRequest(t.QueryRowContext(ctx, query, reqID.String()))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("request %s: %w", reqID, sentinel.ErrNotFound)
			}
			return fmt.Errorf("lock access request: %w", err)
		}
		if validate != nil {
			if err := validate(req); err != nil {
				return err
			}
		}
		mutate(req)
		update := `
			UPDATE access_requests SET
				granted_ttl = $2,
				status = $3,
				approver = $4,
				decided_at = $5,
				grant_status = $6,
				grant_attempts = $7,
				grant_error = $8,
				grant_updated_at = $9
			WHERE id = $1
		`
		if _, err := t.ExecContext(ctx, update,
			req.ID.String(),
			req.GrantedTTL.String(),
			req.Status.String(),
			req.Approver.String(),
			nullTime(req.DecidedAt),
			req.GrantStatus.String(),
			req.GrantAttempts,
			req.GrantError,
			nullTime(req.GrantUpdatedAt),
		); err != nil {
			return fmt.Errorf("update access request: %w", err)
		}
		result = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) List(ctx context.Context, filter models.Filter) ([]*models.AccessRequest, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.Status != nil {
		add("status = ?", filter.Status.String())
	}
	if filter.ActionName != "" {
		add("action_name = ?", filter.ActionName)
	}
	if !filter.Requester.IsNil() {
		add("requester = ?", filter.Requester.String())
	}
	if filter.GrantStatus != nil {
		add("grant_status = ?", filter.GrantStatus.String())
	}
	if !filter.CreatedAfter.IsZero() {
		add("created_at >= ?", filter.CreatedAfter)
	}
	if !filter.CreatedBefore.IsZero() {
		add("created_at < ?", filter.CreatedBefore)
	}

	query := `SELECT ` + selectColumns + ` FROM access_requests`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY seq`

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list access requests: %w", err)
	}
	defer rows.Close()

	out := make([]*models.AccessRequest, 0)
	for rows.Next() {
		req, err := scanAccessRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan access request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access requests: %w", err)
	}
	return out, nil
}

type accessRequestRow interface {
	Scan(dest ...any) error
}

func scanAccessRequest(row accessRequestRow) (*models.AccessRequest, error) {
	var (
		req                        models.AccessRequest
		reqID, requester, approver string
		requestedTTL, grantedTTL   string
		status, grantStatus        string
		params                     []byte
		decidedAt, grantUpdatedAt  sql.NullTime
	)
	if err := row.Scan(
		&reqID, &requester, &req.ActionName, &params, &requestedTTL, &grantedTTL, &req.Reason,
		&status, &approver, &req.CreatedAt, &decidedAt, &grantStatus, &req.GrantAttempts, &req.GrantError, &grantUpdatedAt,
	); err != nil {
		return nil, err
	}
	req.ID = id.RequestID(reqID)
	req.Requester = id.Principal(requester)
	req.Approver = id.Principal(approver)
	req.RequestedTTL = models.TTL(requestedTTL)
	req.GrantedTTL = models.TTL(grantedTTL)
	req.Status = models.Status(status)
	req.GrantStatus = models.GrantStatus(grantStatus)
	req.ActionParams = append([]byte(nil), params...)
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}
	if grantUpdatedAt.Valid {
		t := grantUpdatedAt.Time
		req.GrantUpdatedAt = &t
	}
	return &req, nil
}

func paramsText(req *models.AccessRequest) string {
	if len(req.ActionParams) == 0 {
		return "{}"
	}
	return string(req.ActionParams)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// isUniqueViolation recognizes duplicate keys from either supported driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}
