package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"manual-rag/internal/config"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

type Document struct {
	bun.BaseModel    `bun:"table:documents,alias:d"`
	ID               string    `bun:"id,pk"`
	UserID           string    `bun:"user_id,notnull,unique"`
	FilePath         string    `bun:"file_path,notnull"`
	OriginalFilename string    `bun:"original_filename,notnull"`
	TotalPages       int       `bun:"total_pages,notnull,default:0"`
	ProcessingMethod string    `bun:"processing_method"`
	Processed        bool      `bun:"processed,notnull,default:false"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type Chunk struct {
	bun.BaseModel      `bun:"table:chunks,alias:c"`
	ID                 string          `bun:"id,pk"`
	UserID             string          `bun:"user_id,notnull"`
	DocumentID         string          `bun:"document_id,notnull"`
	Content            string          `bun:"content,notnull"`
	PageNumber         int             `bun:"page_number,notnull"`
	ChunkIndex         int             `bun:"chunk_index,notnull"`
	HasDiagram         bool            `bun:"has_diagram,notnull,default:false"`
	DiagramDescription string          `bun:"diagram_description"`
	Embedding          pgvector.Vector `bun:"embedding,notnull,type:vector"`
}

type Image struct {
	bun.BaseModel `bun:"table:images,alias:i"`
	ID            string          `bun:"id,pk"`
	UserID        string          `bun:"user_id,notnull"`
	DocumentID    string          `bun:"document_id,notnull"`
	PageNumber    int             `bun:"page_number,notnull"`
	AssetURL      string          `bun:"asset_url,notnull"`
	Caption       string          `bun:"caption,notnull"`
	ImageType     string          `bun:"image_type,notnull"`
	Width         int             `bun:"width"`
	Height        int             `bun:"height"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
}

// matchedChunk and matchedImage are rows returned by the match functions.
type matchedChunk struct {
	ID                 string  `bun:"id"`
	UserID             string  `bun:"user_id"`
	DocumentID         string  `bun:"document_id"`
	Content            string  `bun:"content"`
	PageNumber         int     `bun:"page_number"`
	ChunkIndex         int     `bun:"chunk_index"`
	HasDiagram         bool    `bun:"has_diagram"`
	DiagramDescription string  `bun:"diagram_description"`
	Similarity         float64 `bun:"similarity"`
}

type matchedImage struct {
	ID         string  `bun:"id"`
	UserID     string  `bun:"user_id"`
	DocumentID string  `bun:"document_id"`
	PageNumber int     `bun:"page_number"`
	AssetURL   string  `bun:"asset_url"`
	Caption    string  `bun:"caption"`
	ImageType  string  `bun:"image_type"`
	Width      int     `bun:"width"`
	Height     int     `bun:"height"`
	Similarity float64 `bun:"similarity"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with the configured driver: "pgdriver"
// (default) or "pq".
func ConnectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is not configured")
	}
	dsn := cfg.URL
	if !strings.Contains(dsn, "sslmode=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "sslmode=disable"
	}

	switch cfg.Driver {
	case "pq":
		sqldb, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return sqldb, nil
	default:
		opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	}
}

// InitDB creates the vector extension, tables, indexes and match functions.
// It is idempotent.
func InitDB(ctx context.Context, db *bun.DB, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dimension)
	}
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	if _, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create documents: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Chunk)(nil)).IfNotExists().
		ForeignKey(`("document_id") REFERENCES "documents" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("create chunks: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Image)(nil)).IfNotExists().
		ForeignKey(`("document_id") REFERENCES "documents" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("create images: %w", err)
	}

	for _, stmt := range schemaStatements(dimension) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	log.Info().Int("dimension", dimension).Msg("Database schema initialized")
	return nil
}

func schemaStatements(dimension int) []string {
	return []string{
		fmt.Sprintf(`ALTER TABLE chunks ALTER COLUMN embedding TYPE vector(%d)`, dimension),
		fmt.Sprintf(`ALTER TABLE images ALTER COLUMN embedding TYPE vector(%d)`, dimension),
		`CREATE INDEX IF NOT EXISTS chunks_user_id_idx ON chunks (user_id)`,
		`CREATE INDEX IF NOT EXISTS images_user_id_idx ON images (user_id)`,
		`CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS images_embedding_idx ON images USING hnsw (embedding vector_cosine_ops)`,
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION match_chunks(
	query_embedding vector(%d),
	match_threshold float,
	match_count int,
	p_user_id text
)
RETURNS TABLE (
	id text, user_id text, document_id text, content text, page_number int,
	chunk_index int, has_diagram boolean, diagram_description text, similarity float
)
LANGUAGE sql STABLE
AS $$
	SELECT c.id, c.user_id, c.document_id, c.content, c.page_number,
		c.chunk_index, c.has_diagram, c.diagram_description,
		1 - (c.embedding <=> query_embedding) AS similarity
	FROM chunks c
	WHERE c.user_id = p_user_id
		AND 1 - (c.embedding <=> query_embedding) > match_threshold
	ORDER BY c.embedding <=> query_embedding, c.chunk_index
	LIMIT match_count;
$$`, dimension),
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION match_images(
	query_embedding vector(%d),
	match_threshold float,
	match_count int,
	p_user_id text
)
RETURNS TABLE (
	id text, user_id text, document_id text, page_number int, asset_url text,
	caption text, image_type text, width int, height int, similarity float
)
LANGUAGE sql STABLE
AS $$
	SELECT i.id, i.user_id, i.document_id, i.page_number, i.asset_url,
		i.caption, i.image_type, i.width, i.height,
		1 - (i.embedding <=> query_embedding) AS similarity
	FROM images i
	WHERE i.user_id = p_user_id
		AND 1 - (i.embedding <=> query_embedding) > match_threshold
	ORDER BY i.embedding <=> query_embedding, i.page_number
	LIMIT match_count;
$$`, dimension),
	}
}

// drop tables and functions

func DropDB(ctx context.Context, db *bun.DB) error {
	for _, stmt := range []string{
		`DROP FUNCTION IF EXISTS match_chunks`,
		`DROP FUNCTION IF EXISTS match_images`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	for _, model := range []interface{}{(*Image)(nil), (*Chunk)(nil), (*Document)(nil)} {
		if _, err := db.NewDropTable().Model(model).IfExists().Cascade().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
