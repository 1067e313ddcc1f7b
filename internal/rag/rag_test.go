package rag

import (
	"context"
	"errors"
	"testing"

	"manual-rag/internal/config"
	"manual-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	chunks     []models.ScoredChunk
	images     []models.ScoredImage
	err        error
	userID     string
	thresholds []float64
	chunkLimit int
	imageLimit int
}

func (f *fakeSearcher) SearchChunks(_ context.Context, scope models.UserScope, _ []float32, threshold float64, limit int) ([]models.ScoredChunk, error) {
	f.userID = scope.UserID()
	f.chunkLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

func (f *fakeSearcher) SearchImages(_ context.Context, _ models.UserScope, _ []float32, threshold float64, limit int) ([]models.ScoredImage, error) {
	f.thresholds = append(f.thresholds, threshold)
	f.imageLimit = limit
	return f.images, nil
}

type fakeDocs struct {
	doc *models.Document
	err error
}

func (f *fakeDocs) GetDocument(context.Context, models.UserScope) (*models.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.doc == nil {
		return nil, models.ErrNotFound
	}
	return f.doc, nil
}

type fakeQueryEmbedder struct{ err error }

func (f fakeQueryEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

type fakeChat struct {
	answer string
	err    error
	calls  int
	user   string
}

func (f *fakeChat) Complete(_ context.Context, _, user string) (string, error) {
	f.calls++
	f.user = user
	return f.answer, f.err
}

func chunk(page, index int, content string, sim float64) models.ScoredChunk {
	return models.ScoredChunk{Chunk: models.Chunk{PageNumber: page, ChunkIndex: index, Content: content}, Similarity: sim}
}

func image(page int, caption string, kind models.ImageType, sim float64) models.ScoredImage {
	return models.ScoredImage{Image: models.Image{PageNumber: page, Caption: caption, ImageType: kind, AssetURL: "/assets/" + caption}, Similarity: sim}
}

func ragConfig() config.RAGConfig {
	return config.RAGConfig{
		ChunkLimit:             8,
		ImageLimit:             4,
		ChunkThreshold:         0.3,
		ImageThreshold:         0.25,
		ImageFallbackThreshold: 0.5,
		MaxFallbackImages:      2,
	}
}

func TestRetriever(t *testing.T) {
	ctx := context.Background()

	t.Run("filters, orders and caps", func(t *testing.T) {
		store := &fakeSearcher{
			chunks: []models.ScoredChunk{chunk(1, 0, "a", 0.4), chunk(2, 1, "b", 0.9), chunk(3, 2, "c", 0.3), chunk(4, 3, "d", 0.7)},
			images: []models.ScoredImage{image(1, "x", models.ImagePhoto, 0.26), image(2, "y", models.ImageDiagram, 0.2)},
		}
		r := NewRetriever(store, WithImageThreshold(0.25))
		got, err := r.Retrieve(ctx, []float32{1}, "u1", 2, 4, 0.3)
		require.NoError(t, err)
		require.Len(t, got.Chunks, 2)
		assert.Equal(t, "b", got.Chunks[0].Content)
		assert.Equal(t, "d", got.Chunks[1].Content)
		require.Len(t, got.Images, 1)
		assert.Equal(t, "x", got.Images[0].Caption)
		assert.Equal(t, "u1", store.userID)
		assert.Equal(t, []float64{0.25}, store.thresholds)
	})

	t.Run("raising the threshold never adds results", func(t *testing.T) {
		store := &fakeSearcher{
			chunks: []models.ScoredChunk{chunk(1, 0, "a", 0.35), chunk(2, 1, "b", 0.92), chunk(3, 2, "c", 0.5), chunk(4, 3, "d", 0.81), chunk(5, 4, "e", 0.1)},
			images: []models.ScoredImage{image(1, "x", models.ImagePhoto, 0.6), image(2, "y", models.ImageDiagram, 0.97), image(3, "z", models.ImageChart, 0.3)},
		}
		r := NewRetriever(store)
		prevChunks, prevImages := -1, -1
		for _, threshold := range []float64{0.0, 0.3, 0.5, 0.8, 0.95} {
			got, err := r.Retrieve(ctx, []float32{1}, "u1", 10, 10, threshold)
			require.NoError(t, err)
			if prevChunks >= 0 {
				assert.LessOrEqual(t, len(got.Chunks), prevChunks, "chunks at %v", threshold)
				assert.LessOrEqual(t, len(got.Images), prevImages, "images at %v", threshold)
			}
			prevChunks, prevImages = len(got.Chunks), len(got.Images)
			for i := 1; i < len(got.Chunks); i++ {
				assert.GreaterOrEqual(t, got.Chunks[i-1].Similarity, got.Chunks[i].Similarity)
			}
			for i := 1; i < len(got.Images); i++ {
				assert.GreaterOrEqual(t, got.Images[i-1].Similarity, got.Images[i].Similarity)
			}
			for _, c := range got.Chunks {
				assert.Greater(t, c.Similarity, threshold)
			}
		}
		assert.Equal(t, 0, prevChunks)
		assert.Equal(t, 1, prevImages)
	})

	t.Run("nothing found is not an error", func(t *testing.T) {
		got, err := NewRetriever(&fakeSearcher{}).Retrieve(ctx, []float32{1}, "u1", 8, 4, 0.3)
		require.NoError(t, err)
		assert.True(t, got.Empty())
	})

	t.Run("invalid input and store errors", func(t *testing.T) {
		r := NewRetriever(&fakeSearcher{})
		_, err := r.Retrieve(ctx, []float32{1}, "", 8, 4, 0.3)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
		_, err = r.Retrieve(ctx, nil, "u1", 8, 4, 0.3)
		assert.ErrorIs(t, err, models.ErrInvalidInput)

		_, err = NewRetriever(&fakeSearcher{err: errors.New("timeout")}).Retrieve(ctx, []float32{1}, "u1", 8, 4, 0.3)
		assert.Error(t, err)
	})
}

func TestComposerAnswer(t *testing.T) {
	ctx := context.Background()
	processed := &models.Document{ID: "d1", Processed: true}

	newComposer := func(docs *fakeDocs, store *fakeSearcher, chat *fakeChat) *Composer {
		return NewComposer(docs, fakeQueryEmbedder{}, NewRetriever(store), chat, nil, ragConfig())
	}

	t.Run("not ready", func(t *testing.T) {
		for name, docs := range map[string]*fakeDocs{
			"no document":   {},
			"not processed": {doc: &models.Document{ID: "d1"}},
		} {
			t.Run(name, func(t *testing.T) {
				chat := &fakeChat{}
				_, err := newComposer(docs, &fakeSearcher{}, chat).Answer(ctx, "how?", "u1")
				assert.ErrorIs(t, err, models.ErrNotReady)
				assert.Zero(t, chat.calls)
			})
		}
	})

	t.Run("no context skips the model", func(t *testing.T) {
		chat := &fakeChat{answer: "made up"}
		got, err := newComposer(&fakeDocs{doc: processed}, &fakeSearcher{}, chat).Answer(ctx, "how do I fly?", "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{models.NoContextAnswer}, got.Steps)
		assert.Empty(t, got.Images)
		assert.Equal(t, models.NoContextAnswer, got.RawResponse)
		assert.Zero(t, chat.calls)
	})

	t.Run("steps and tagged images", func(t *testing.T) {
		store := &fakeSearcher{
			chunks: []models.ScoredChunk{chunk(4, 7, "Remove the four screws.", 0.8), chunk(2, 3, "Disconnect power.", 0.6)},
			images: []models.ScoredImage{
				image(4, "Exploded view of the filter housing", models.ImageDiagram, 0.4),
				image(5, "Photo of the control panel", models.ImagePhoto, 0.9),
			},
		}
		chat := &fakeChat{answer: "1. Disconnect power (page 2).\n2. Remove the four screws [IMAGE: filter housing exploded view].\n3. Lift the cover."}
		got, err := newComposer(&fakeDocs{doc: processed}, store, chat).Answer(ctx, "How do I open the filter housing?", "u1")
		require.NoError(t, err)

		assert.Equal(t, []string{"1. Disconnect power (page 2).", "2. Remove the four screws.", "3. Lift the cover."}, got.Steps)
		require.Len(t, got.Images, 1)
		assert.Equal(t, "/assets/Exploded view of the filter housing", got.Images[0].URL)
		assert.Equal(t, 4, got.Images[0].PageNumber)
		assert.Equal(t, chat.answer, got.RawResponse)

		assert.Contains(t, chat.user, "=== Page 2 ===\nDisconnect power.")
		assert.Contains(t, chat.user, "Question: How do I open the filter housing?")
		assert.Equal(t, 8, store.chunkLimit)
		assert.Equal(t, 4, store.imageLimit)
	})

	t.Run("untagged answers surface strong images", func(t *testing.T) {
		store := &fakeSearcher{
			chunks: []models.ScoredChunk{chunk(1, 0, "Wiring", 0.8)},
			images: []models.ScoredImage{
				image(1, "a", models.ImageDiagram, 0.9),
				image(1, "b", models.ImageDiagram, 0.7),
				image(1, "c", models.ImageDiagram, 0.6),
				image(1, "d", models.ImageDiagram, 0.3),
			},
		}
		got, err := newComposer(&fakeDocs{doc: processed}, store, &fakeChat{answer: "Connect red to L1."}).Answer(ctx, "wiring?", "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"Connect red to L1."}, got.Steps)
		require.Len(t, got.Images, 2)
		assert.Equal(t, "a", got.Images[0].Caption)
		assert.Equal(t, "b", got.Images[1].Caption)
	})

	t.Run("failures", func(t *testing.T) {
		store := &fakeSearcher{chunks: []models.ScoredChunk{chunk(1, 0, "x", 0.8)}}
		_, err := newComposer(&fakeDocs{doc: processed}, store, &fakeChat{err: errors.New("breaker open")}).Answer(ctx, "q", "u1")
		assert.Error(t, err)

		c := NewComposer(&fakeDocs{doc: processed}, fakeQueryEmbedder{err: errors.New("down")}, NewRetriever(store), &fakeChat{}, nil, ragConfig())
		_, err = c.Answer(ctx, "q", "u1")
		assert.Error(t, err)

		_, err = newComposer(&fakeDocs{doc: processed}, store, &fakeChat{}).Answer(ctx, "   ", "u1")
		assert.ErrorIs(t, err, models.ErrInvalidInput)
		_, err = newComposer(&fakeDocs{doc: processed}, store, &fakeChat{}).Answer(ctx, "q", "")
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})
}

func TestParseSteps(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"numbered", "1. First.\n2. Second.", []string{"1. First.", "2. Second."}},
		{"indented markers", "  1. Open the lid.\n  2. Check the seal.", []string{"1. Open the lid.", "2. Check the seal."}},
		{"parenthesis and intro", "Per page 3:\n1) Drain\n2) Refill", []string{"Per page 3:", "1) Drain", "2) Refill"}},
		{"step markers", "Step 1: Unplug\nStep 2: Wait", []string{"Step 1: Unplug", "Step 2: Wait"}},
		{"single marker falls back to paragraphs", "1. Only one\n\nSecond paragraph", []string{"1. Only one", "Second paragraph"}},
		{"paragraphs", "First part.\n\n  \nSecond part.", []string{"First part.", "Second part."}},
		{"single", "  Just one answer.  ", []string{"Just one answer."}},
		{"empty", "  ", []string{""}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseSteps(tc.in))
		})
	}
}

func TestResolveImages(t *testing.T) {
	scorer := NewKeywordScorer()
	images := []models.ScoredImage{
		image(3, "Wiring diagram of the pump relay", models.ImageDiagram, 0.4),
		image(3, "Wiring of the pump motor", models.ImagePhoto, 0.6),
		image(7, "Torque chart", models.ImageChart, 0.3),
	}

	t.Run("each tag takes its best unused image", func(t *testing.T) {
		got := ResolveImages("See [IMAGE: pump relay wiring diagram] and [IMAGE: pump wiring] and [IMAGE: unrelated thing]", images, scorer, 0.5, 2)
		require.Len(t, got, 2)
		assert.Equal(t, "Wiring diagram of the pump relay", got[0].Caption)
		assert.Equal(t, "Wiring of the pump motor", got[1].Caption)
	})

	t.Run("type name alone matches", func(t *testing.T) {
		got := ResolveImages("[IMAGE: chart]", images, scorer, 0.5, 2)
		require.Len(t, got, 1)
		assert.Equal(t, models.ImageChart, got[0].ImageType)
	})

	t.Run("no tags uses the fallback threshold", func(t *testing.T) {
		got := ResolveImages("No tags here.", images, scorer, 0.5, 2)
		require.Len(t, got, 1)
		assert.Equal(t, "Wiring of the pump motor", got[0].Caption)
	})

	t.Run("no images", func(t *testing.T) {
		assert.Empty(t, ResolveImages("[IMAGE: x]", nil, scorer, 0.5, 2))
	})
}

func TestKeywordScorer(t *testing.T) {
	s := NewKeywordScorer()
	img := image(1, "Exploded view of the filter housing", models.ImageDiagram, 0.5)
	assert.Equal(t, 2.0, s.Score("filter housing", img))
	assert.Equal(t, 2.5, s.Score("filter housing diagram", img))
	assert.Equal(t, 0.0, s.Score("the of a", img), "short words are ignored")
}

func TestBuildContext(t *testing.T) {
	r := &models.Retrieval{
		Chunks: []models.ScoredChunk{
			{Chunk: models.Chunk{PageNumber: 5, ChunkIndex: 9, Content: "later", HasDiagram: true, DiagramDescription: "[wiring] relay"}, Similarity: 0.9},
			{Chunk: models.Chunk{PageNumber: 2, ChunkIndex: 1, Content: "earlier"}, Similarity: 0.5},
			{Chunk: models.Chunk{PageNumber: 5, ChunkIndex: 8, Content: "first on five", HasDiagram: true, DiagramDescription: "[wiring] relay"}, Similarity: 0.4},
		},
		Images: []models.ScoredImage{image(5, "Relay diagram", models.ImageDiagram, 0.7)},
	}
	want := "=== Page 2 ===\nearlier\n\n" +
		"=== Page 5 ===\nfirst on five\n\n[Diagrams on this page: [wiring] relay]\n\nlater\n\n" +
		"Available images:\n- [diagram] Relay diagram (page 5)\n"
	assert.Equal(t, want, BuildContext(r))
}

func TestStripImageTags(t *testing.T) {
	assert.Equal(t, "Remove the cover and check.", StripImageTags("Remove the cover [IMAGE: cover]\n and check."))
	assert.Equal(t, []string{"cover", "relay"}, ImageTags("[IMAGE: cover] text [IMAGE:relay ]"))

	t.Run("tags are case insensitive", func(t *testing.T) {
		assert.Equal(t, []string{"wiring diagram", "relay"}, ImageTags("[Image: wiring diagram] then [image:relay]"))
		assert.Equal(t, "Check the relay.", StripImageTags("Check the relay [Image: relay]."))

		images := []models.ScoredImage{image(2, "Wiring diagram of the relay", models.ImageDiagram, 0.3)}
		got := ResolveImages("See [Image: wiring diagram].", images, NewKeywordScorer(), 0.5, 2)
		require.Len(t, got, 1)
		assert.Equal(t, "Wiring diagram of the relay", got[0].Caption)
	})
}
