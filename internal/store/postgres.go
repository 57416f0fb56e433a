// Package store holds the four backing stores: Postgres (relational source
// of truth), Qdrant (vector index), Neo4j (episode graph), and Redis (hot
// cache). Every read carries the tenant predicate; every write stamps the
// tenant fields.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

type PostgresStore struct {
	db          *pgxpool.Pool
	legacyReads bool
}

func NewPostgresStore(db *pgxpool.Pool, legacyReads bool) *PostgresStore {
	return &PostgresStore{db: db, legacyReads: legacyReads}
}

// tenantPredicate builds the isolation clause: company and app must match
// (legacy company lanes join the company check only when enabled), and the
// row's user lane must be one the reader may see.
func (s *PostgresStore) tenantPredicate(t domain.TenantContext, args *[]any) string {
	var sb strings.Builder

	if s.legacyReads {
		companies := append([]string{t.CompanyID}, domain.LegacyCompanyIDs...)
		*args = append(*args, companies)
		fmt.Fprintf(&sb, "company_id = ANY($%d)", len(*args))
	} else {
		*args = append(*args, t.CompanyID)
		fmt.Fprintf(&sb, "company_id = $%d", len(*args))
	}

	*args = append(*args, t.AppID)
	fmt.Fprintf(&sb, " AND app_id = $%d", len(*args))

	*args = append(*args, t.ReadUserIDs())
	fmt.Fprintf(&sb, " AND user_id = ANY($%d)", len(*args))

	return sb.String()
}

func (s *PostgresStore) InsertContent(ctx context.Context, rec *domain.ContentRecord) error {
	var embedding *pgvector.Vector
	if len(rec.Embedding) > 0 {
		v := pgvector.NewVector(rec.Embedding)
		embedding = &v
	}

	// ON CONFLICT keeps the insert idempotent under saga retries: replaying
	// the same content for the same scope touches updated_at and nothing else.
	return s.db.QueryRow(ctx,
		`INSERT INTO unified_content (id, content_type, content, content_hash, tags, metadata, importance, embedding, company_id, app_id, user_id, session_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (content_hash, company_id, app_id, user_id)
		 DO UPDATE SET updated_at = NOW()
		 RETURNING id, created_at, updated_at`,
		rec.ID, rec.ContentType, rec.Content, rec.ContentHash, rec.Tags, rec.Metadata, rec.Importance, embedding,
		rec.Tenant.CompanyID, rec.Tenant.AppID, rec.Tenant.UserID, rec.Tenant.SessionID,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

const contentColumns = `id, content_type, content, content_hash, tags, metadata, importance, company_id, app_id, user_id, session_id, created_at, updated_at`

func scanContent(row pgx.Row) (*domain.ContentRecord, error) {
	rec := &domain.ContentRecord{}
	err := row.Scan(
		&rec.ID, &rec.ContentType, &rec.Content, &rec.ContentHash, &rec.Tags, &rec.Metadata, &rec.Importance,
		&rec.Tenant.CompanyID, &rec.Tenant.AppID, &rec.Tenant.UserID, &rec.Tenant.SessionID,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) GetContent(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (*domain.ContentRecord, error) {
	args := []any{id}
	pred := s.tenantPredicate(tenant, &args)
	return scanContent(s.db.QueryRow(ctx,
		`SELECT `+contentColumns+` FROM unified_content WHERE id = $1 AND `+pred, args...))
}

func (s *PostgresStore) GetContentByHash(ctx context.Context, hash string, tenant domain.TenantContext) (*domain.ContentRecord, error) {
	// Dedup is scoped to the exact writer lane, not the read-visible lanes:
	// a user storing content the system lane already holds still gets their
	// own record.
	return scanContent(s.db.QueryRow(ctx,
		`SELECT `+contentColumns+`
		 FROM unified_content
		 WHERE content_hash = $1 AND company_id = $2 AND app_id = $3 AND user_id = $4`,
		hash, tenant.CompanyID, tenant.AppID, tenant.UserID))
}

func (s *PostgresStore) ListContent(ctx context.Context, tenant domain.TenantContext, limit, offset int) ([]domain.ContentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var args []any
	pred := s.tenantPredicate(tenant, &args)
	args = append(args, limit, offset)

	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT `+contentColumns+`
		 FROM unified_content
		 WHERE %s
		 ORDER BY created_at DESC
		 LIMIT $%d OFFSET $%d`, pred, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()

	var out []domain.ContentRecord
	for rows.Next() {
		rec, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content row: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountContent(ctx context.Context, tenant domain.TenantContext) (int, error) {
	var args []any
	pred := s.tenantPredicate(tenant, &args)

	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM unified_content WHERE `+pred, args...).Scan(&n)
	return n, err
}

func (s *PostgresStore) DeleteContent(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM unified_content WHERE id = $1 AND company_id = $2 AND app_id = $3 AND user_id = $4`,
		id, tenant.CompanyID, tenant.AppID, tenant.UserID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteContentBatch(ctx context.Context, ids []uuid.UUID, tenant domain.TenantContext) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx,
		`DELETE FROM unified_content WHERE id = ANY($1) AND company_id = $2 AND app_id = $3 AND user_id = $4`,
		ids, tenant.CompanyID, tenant.AppID, tenant.UserID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// FindSimilar is the relational pgvector lane: used for SIMILAR_TO linking
// at write time and as the degraded recall path when the vector store is
// down.
func (s *PostgresStore) FindSimilar(ctx context.Context, embedding []float32, tenant domain.TenantContext, threshold float64, limit int) ([]domain.ScoredContent, error) {
	if limit <= 0 {
		limit = 10
	}
	var args []any
	pred := s.tenantPredicate(tenant, &args)

	args = append(args, pgvector.NewVector(embedding))
	vecParam := len(args)
	args = append(args, threshold)
	thresholdParam := len(args)
	args = append(args, limit)
	limitParam := len(args)

	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT `+contentColumns+`, 1 - (embedding <=> $%d) AS score
		 FROM unified_content
		 WHERE %s AND embedding IS NOT NULL AND 1 - (embedding <=> $%d) >= $%d
		 ORDER BY embedding <=> $%d
		 LIMIT $%d`,
		vecParam, pred, vecParam, thresholdParam, vecParam, limitParam), args...)
	if err != nil {
		return nil, fmt.Errorf("find similar: %w", err)
	}
	defer rows.Close()

	var out []domain.ScoredContent
	for rows.Next() {
		var sc domain.ScoredContent
		err := rows.Scan(
			&sc.ID, &sc.ContentType, &sc.Content, &sc.ContentHash, &sc.Tags, &sc.Metadata, &sc.Importance,
			&sc.Tenant.CompanyID, &sc.Tenant.AppID, &sc.Tenant.UserID, &sc.Tenant.SessionID,
			&sc.CreatedAt, &sc.UpdatedAt, &sc.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("scan similar row: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SearchText(ctx context.Context, query string, tenant domain.TenantContext, limit int) ([]domain.ContentRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var args []any
	pred := s.tenantPredicate(tenant, &args)
	args = append(args, "%"+strings.ToLower(query)+"%")
	patternParam := len(args)
	args = append(args, limit)
	limitParam := len(args)

	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT `+contentColumns+`
		 FROM unified_content
		 WHERE %s AND LOWER(content) LIKE $%d
		 ORDER BY created_at DESC
		 LIMIT $%d`, pred, patternParam, limitParam), args...)
	if err != nil {
		return nil, fmt.Errorf("search text: %w", err)
	}
	defer rows.Close()

	var out []domain.ContentRecord
	for rows.Next() {
		rec, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc *domain.Document) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO documents (id, title, type, format, size, hash, version, tags, source, metadata, company_id, app_id, user_id, session_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id, created_at, updated_at`,
		doc.ID, doc.Title, doc.Type, doc.Format, doc.Size, doc.Hash, doc.Version, doc.Tags, doc.Source, doc.Metadata,
		doc.Tenant.CompanyID, doc.Tenant.AppID, doc.Tenant.UserID, doc.Tenant.SessionID,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM documents WHERE id = $1 AND company_id = $2 AND app_id = $3 AND user_id = $4`,
		id, tenant.CompanyID, tenant.AppID, tenant.UserID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
