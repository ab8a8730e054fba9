package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelock/carelock/internal/database"
	"github.com/carelock/carelock/internal/models"
)

// AuditStore is the Postgres-backed audit.Store. A single INSERT commits
// the whole record, so appends are all-or-nothing; the unique constraint
// on seq refuses forks of the chain.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(db *database.DB) *AuditStore {
	return &AuditStore{pool: db.Pool}
}

func scanAuditRecord(row pgx.Row) (*models.AuditRecord, error) {
	var rec models.AuditRecord
	err := row.Scan(
		&rec.ID, &rec.Seq, &rec.ActorID, &rec.Action, &rec.Resource,
		&rec.Outcome, &rec.Detail, &rec.CreatedAt, &rec.PriorHash, &rec.SelfHash,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &rec, nil
}

func (s *AuditStore) Append(ctx context.Context, rec *models.AuditRecord) error {
	query := `
		INSERT INTO audit_records (
			id, seq, actor_id, action, resource, outcome, detail,
			created_at, prior_hash, self_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Seq, rec.ActorID, rec.Action, rec.Resource,
		rec.Outcome, rec.Detail, rec.CreatedAt, rec.PriorHash, rec.SelfHash,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", database.MapPostgresError(err))
	}

	return nil
}

func (s *AuditStore) Tail(ctx context.Context) (*models.AuditRecord, error) {
	query := `
		SELECT id, seq, actor_id, action, resource, outcome, detail,
		       created_at, prior_hash, self_hash
		FROM audit_records
		ORDER BY seq DESC
		LIMIT 1
	`

	return scanAuditRecord(s.pool.QueryRow(ctx, query))
}

func (s *AuditStore) Range(ctx context.Context, fromSeq, toSeq int64) ([]*models.AuditRecord, error) {
	query := `
		SELECT id, seq, actor_id, action, resource, outcome, detail,
		       created_at, prior_hash, self_hash
		FROM audit_records
		WHERE seq >= $1 AND ($2 <= 0 OR seq <= $2)
		ORDER BY seq
	`

	rows, err := s.pool.Query(ctx, query, fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.AuditRecord, 0)
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}

	return records, nil
}
