package audit

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"docparse-tracker/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Postgres writes the audit trail to a Postgres table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// RunMigrations executes the embedded SQL migrations in order.
func (p *Postgres) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := p.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Append adds an audit row.
func (p *Postgres) Append(ctx context.Context, e models.AuditLog) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO docparse_audit_logs (artifact_id, task_id, event, detail, ts)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
	`, e.ArtifactID, emptyToNil(e.TaskID), e.Event, e.Detail, recordedAt(e))
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// History returns the latest events of an artifact, newest first.
func (p *Postgres) History(ctx context.Context, artifactID string, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT artifact_id, task_id, event, detail, ts
		FROM docparse_audit_logs WHERE artifact_id = $1
		ORDER BY ts DESC, id DESC LIMIT $2
	`, artifactID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var out []models.AuditLog
	for rows.Next() {
		var e models.AuditLog
		var task pgtype.Text
		if err := rows.Scan(&e.ArtifactID, &task, &e.Event, &e.Detail, &e.Recorded); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		e.TaskID = task.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return out, nil
}

func recordedAt(e models.AuditLog) any {
	if e.Recorded.IsZero() {
		return nil
	}
	return e.Recorded
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
