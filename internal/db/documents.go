package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DocumentRepository handles the embedded user documents the RAG pipeline
// reads and writes. Embeddings live in a pgvector column.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// vectorLiteral renders an embedding as a pgvector text literal.
func vectorLiteral(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%.6f", v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Exists reports whether a document with identical content already exists for
// the (user, summary type) pair.
func (r *DocumentRepository) Exists(ctx context.Context, userID uuid.UUID, summaryType, content string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM user_documents
			WHERE user_id = $1 AND summary_type = $2 AND content = $3
		)
	`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, summaryType, content).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking document existence: %w", err)
	}
	return exists, nil
}

// Insert stores a new document with its embedding and metadata.
func (r *DocumentRepository) Insert(ctx context.Context, doc *Document) error {
	query := `
		INSERT INTO user_documents (id, user_id, source, summary_type, content, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, CAST($6 AS vector), $7::jsonb, NOW())
	`
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("encoding document metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx, query,
		doc.ID,
		doc.UserID,
		doc.Source,
		doc.SummaryType,
		doc.Content,
		vectorLiteral(doc.Embedding),
		metadata,
	)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// Nearest retrieves the user's k documents closest to the query embedding,
// restricted to the given summary types, nearest first.
func (r *DocumentRepository) Nearest(ctx context.Context, userID uuid.UUID, embedding []float32, summaryTypes []string, k int) ([]Document, error) {
	query := `
		SELECT id, user_id, source, summary_type, content, metadata, created_at
		FROM user_documents
		WHERE user_id = $1 AND summary_type = ANY($2)
		ORDER BY embedding <-> CAST($3 AS vector)
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, userID, summaryTypes, vectorLiteral(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("querying nearest documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var metadata []byte
		if err := rows.Scan(
			&doc.ID,
			&doc.UserID,
			&doc.Source,
			&doc.SummaryType,
			&doc.Content,
			&metadata,
			&doc.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("decoding document metadata: %w", err)
			}
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDailyBefore removes daily documents whose metadata date is strictly
// before the given day (YYYY-MM-DD).
func (r *DocumentRepository) DeleteDailyBefore(ctx context.Context, userID uuid.UUID, date string) (int64, error) {
	query := `
		DELETE FROM user_documents
		WHERE user_id = $1 AND summary_type = $2 AND metadata->>'date' < $3
	`
	result, err := r.pool.Exec(ctx, query, userID, SummaryDaily, date)
	if err != nil {
		return 0, fmt.Errorf("deleting stale daily documents: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteWeeklyBefore removes weekly documents whose metadata week start is
// strictly before the given day (YYYY-MM-DD).
func (r *DocumentRepository) DeleteWeeklyBefore(ctx context.Context, userID uuid.UUID, weekStart string) (int64, error) {
	query := `
		DELETE FROM user_documents
		WHERE user_id = $1 AND summary_type = $2 AND metadata->>'week_start' < $3
	`
	result, err := r.pool.Exec(ctx, query, userID, SummaryWeekly, weekStart)
	if err != nil {
		return 0, fmt.Errorf("deleting stale weekly documents: %w", err)
	}
	return result.RowsAffected(), nil
}
