package db

import (
	"context"
	"os"
	"testing"

	"manual-rag/internal/config"
	"manual-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 3

// openTestStore connects to TEST_DATABASE_URL and resets the schema.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	sqldb, err := ConnectDB(config.DatabaseConfig{URL: url})
	require.NoError(t, err)

	bunDB := NewDB(sqldb, false)
	ctx := context.Background()
	require.NoError(t, DropDB(ctx, bunDB))
	require.NoError(t, InitDB(ctx, bunDB, testDimension))
	require.NoError(t, InitDB(ctx, bunDB, testDimension), "schema init is idempotent")

	store := NewStore(bunDB)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func scope(t *testing.T, id string) models.UserScope {
	s, err := models.NewUserScope(id)
	require.NoError(t, err)
	return s
}

func TestStoreLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	alice, bob := scope(t, "alice"), scope(t, "bob")

	doc := &models.Document{FilePath: "documents/alice/a.pdf", OriginalFilename: "a.pdf"}
	require.NoError(t, store.CreateDocument(ctx, alice, doc))
	require.NotEmpty(t, doc.ID)

	got, err := store.GetDocument(ctx, alice)
	require.NoError(t, err)
	assert.False(t, got.Processed)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = store.GetDocument(ctx, bob)
	require.ErrorIs(t, err, models.ErrNotFound)

	gen := models.Generation{
		DocumentID: doc.ID,
		TotalPages: 2,
		Method:     models.ProcessingVision,
		Chunks: []models.Chunk{
			{Content: "drain the tank", PageNumber: 1, ChunkIndex: 0, Embedding: []float32{1, 0, 0}},
			{Content: "replace the filter", PageNumber: 2, ChunkIndex: 1, HasDiagram: true, DiagramDescription: "filter", Embedding: []float32{0.8, 0.6, 0}},
			{Content: "unrelated", PageNumber: 2, ChunkIndex: 2, Embedding: []float32{0, 0, 1}},
		},
		Images: []models.Image{
			{PageNumber: 2, AssetURL: "/assets/x.png", Caption: "Filter diagram", ImageType: models.ImageDiagram, Width: 200, Height: 100, Embedding: []float32{1, 0, 0}},
		},
	}
	require.NoError(t, store.CommitGeneration(ctx, alice, gen))

	t.Run("document marked processed", func(t *testing.T) {
		got, err := store.GetDocument(ctx, alice)
		require.NoError(t, err)
		assert.True(t, got.Processed)
		assert.Equal(t, 2, got.TotalPages)
		assert.Equal(t, models.ProcessingVision, got.ProcessingMethod)
	})

	t.Run("search is thresholded and ordered", func(t *testing.T) {
		chunks, err := store.SearchChunks(ctx, alice, []float32{1, 0, 0}, 0.3, 10)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "drain the tank", chunks[0].Content)
		assert.InDelta(t, 1.0, chunks[0].Similarity, 1e-6)
		assert.InDelta(t, 0.8, chunks[1].Similarity, 1e-6)

		limited, err := store.SearchChunks(ctx, alice, []float32{1, 0, 0}, 0.3, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		images, err := store.SearchImages(ctx, alice, []float32{1, 0, 0}, 0.25, 4)
		require.NoError(t, err)
		require.Len(t, images, 1)
		assert.Equal(t, models.ImageDiagram, images[0].ImageType)
	})

	t.Run("other users see nothing", func(t *testing.T) {
		chunks, err := store.SearchChunks(ctx, bob, []float32{1, 0, 0}, 0, 10)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("recommit replaces the generation", func(t *testing.T) {
		gen.Chunks = gen.Chunks[:1]
		gen.Images = nil
		require.NoError(t, store.CommitGeneration(ctx, alice, gen))
		chunks, err := store.SearchChunks(ctx, alice, []float32{1, 0, 0}, -1, 10)
		require.NoError(t, err)
		assert.Len(t, chunks, 1)
	})

	t.Run("new upload supersedes and cascades", func(t *testing.T) {
		next := &models.Document{FilePath: "documents/alice/b.pdf", OriginalFilename: "b.pdf"}
		require.NoError(t, store.CreateDocument(ctx, alice, next))
		got, err := store.GetDocument(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, next.ID, got.ID)
		chunks, err := store.SearchChunks(ctx, alice, []float32{1, 0, 0}, -1, 10)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("commit for unknown document fails", func(t *testing.T) {
		err := store.CommitGeneration(ctx, bob, models.Generation{DocumentID: "missing"})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}
