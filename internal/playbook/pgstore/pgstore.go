// Package pgstore provides a PostgreSQL implementation of playbook.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/aegis/internal/playbook"
	"github.com/linnemanlabs/aegis/internal/rules"
)

const tracerName = "github.com/linnemanlabs/aegis/internal/playbook/pgstore"

//go:embed schema.sql
var schema string

// Store persists playbook records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const playbookColumns = `id, filename, path, agent, alert_trigger, rule_id, alert_type, signature_id, agent_ip,
	content, prompt, model, tokens_in, tokens_out, yaml_valid, yaml_error, status,
	created_at, expires_at, decided_by, decided_at, run`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Get retrieves a playbook by ID.
func (s *Store) Get(ctx context.Context, id string) (*playbook.Playbook, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	query := `SELECT ` + playbookColumns + ` FROM playbooks WHERE id = $1`
	p, err := scanPlaybook(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	return p, true, nil
}

// Put inserts or updates a playbook record.
func (s *Store) Put(ctx context.Context, p *playbook.Playbook) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()

	var runJSON []byte
	if p.Run != nil {
		var err error
		if runJSON, err = json.Marshal(p.Run); err != nil {
			fail(span, err)
			return fmt.Errorf("marshal run: %w", err)
		}
	}

	query := `INSERT INTO playbooks (` + playbookColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	ON CONFLICT (id) DO UPDATE SET
		content    = EXCLUDED.content,
		model      = EXCLUDED.model,
		tokens_in  = EXCLUDED.tokens_in,
		tokens_out = EXCLUDED.tokens_out,
		yaml_valid = EXCLUDED.yaml_valid,
		yaml_error = EXCLUDED.yaml_error,
		status     = EXCLUDED.status,
		expires_at = EXCLUDED.expires_at,
		decided_by = EXCLUDED.decided_by,
		decided_at = EXCLUDED.decided_at,
		run        = EXCLUDED.run`

	c := p.Classification
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Filename, p.Path, p.Agent, string(c.Trigger), c.RuleID, c.Type, c.SignatureID, c.AgentIP,
		p.Content, p.Prompt, p.Model, p.TokensIn, p.TokensOut, p.YAMLValid, p.YAMLError, string(p.Status),
		p.CreatedAt, p.ExpiresAt, p.DecidedBy, p.DecidedAt, runJSON,
	)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("upsert playbook: %w", err)
	}
	return nil
}

// List returns playbooks matching status, oldest first. An empty status matches all.
func (s *Store) List(ctx context.Context, status playbook.Status) ([]*playbook.Playbook, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	query := `SELECT ` + playbookColumns + ` FROM playbooks
		WHERE ($1 = '' OR status = $1) ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query playbooks: %w", err)
	}
	defer rows.Close()

	var out []*playbook.Playbook
	for rows.Next() {
		p, err := scanPlaybook(rows)
		if err != nil {
			fail(span, err)
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		fail(span, err)
		return nil, fmt.Errorf("iterate playbooks: %w", err)
	}
	return out, nil
}

// scanPlaybook scans one row. pgx.ErrNoRows is returned unwrapped.
func scanPlaybook(row pgx.Row) (*playbook.Playbook, error) {
	var (
		p       playbook.Playbook
		trigger string
		status  string
		runJSON []byte
	)
	c := &p.Classification

	err := row.Scan(
		&p.ID, &p.Filename, &p.Path, &p.Agent, &trigger, &c.RuleID, &c.Type, &c.SignatureID, &c.AgentIP,
		&p.Content, &p.Prompt, &p.Model, &p.TokensIn, &p.TokensOut, &p.YAMLValid, &p.YAMLError, &status,
		&p.CreatedAt, &p.ExpiresAt, &p.DecidedBy, &p.DecidedAt, &runJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	c.Trigger = rules.Trigger(trigger)
	p.Status = playbook.Status(status)

	if len(runJSON) > 0 {
		p.Run = &playbook.RunResult{}
		if err := json.Unmarshal(runJSON, p.Run); err != nil {
			return nil, fmt.Errorf("unmarshal run: %w", err)
		}
	}
	return &p, nil
}
