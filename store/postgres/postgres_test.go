package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragchat "github.com/langdocs/ragchat"
)

type mapEmbedder struct {
	vectors map[string][]float32
}

func (e *mapEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, ok := e.vectors[text]
		if !ok {
			return nil, fmt.Errorf("no vector for %q", text)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *mapEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func testEmbedder() *mapEmbedder {
	return &mapEmbedder{vectors: map[string][]float32{
		"agents run tools":     {1, 0, 0},
		"tell me about agents": {1, 0.5, 0},
	}}
}

func TestPostgresStore_Add(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	vs := NewPostgresStoreWithPool(mock, testEmbedder(), "documents", 3)

	now := time.Now()
	doc := ragchat.Document{
		ID:        "agents",
		Content:   "agents run tools",
		Metadata:  map[string]any{"category": "agents"},
		CreatedAt: now,
	}
	metadataJSON, _ := json.Marshal(doc.Metadata)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents")).
		WithArgs(
			doc.ID,
			doc.Content,
			metadataJSON,
			"[1,0,0]",
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = vs.Add(context.Background(), []ragchat.Document{doc})
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Add_PreEmbedded(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	vs := NewPostgresStoreWithPool(mock, nil, "documents", 3)

	now := time.Now()
	doc := ragchat.Document{
		ID:        "agents",
		Content:   "anything",
		Embedding: []float32{0, 1, 0},
		CreatedAt: now,
	}
	metadataJSON, _ := json.Marshal(doc.Metadata)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents")).
		WithArgs(doc.ID, doc.Content, metadataJSON, "[0,1,0]", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = vs.Add(context.Background(), []ragchat.Document{doc})
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Search(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	vs := NewPostgresStoreWithPool(mock, testEmbedder(), "documents", 3)

	now := time.Now()
	metadataJSON, _ := json.Marshal(map[string]any{"category": "agents"})

	rows := pgxmock.NewRows([]string{"id", "content", "metadata", "created_at", "score"}).
		AddRow("agents", "agents run tools", metadataJSON, now, 0.93).
		AddRow("both", "agents with memory", []byte(nil), now, 0.71)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY embedding <=> $1::vector")).
		WithArgs("[1,0.5,0]", 2).
		WillReturnRows(rows)

	results, err := vs.Search(context.Background(), "tell me about agents", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "agents", results[0].Document.ID)
	assert.Equal(t, "agents run tools", results[0].Document.Content)
	assert.Equal(t, "agents", results[0].Document.Metadata["category"])
	assert.InDelta(t, 0.93, results[0].Score, 1e-6)
	assert.Nil(t, results[1].Document.Metadata)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SearchWithFilter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	vs := NewPostgresStoreWithPool(mock, testEmbedder(), "documents", 3)

	filter := map[string]any{"category": "agents"}
	filterJSON, _ := json.Marshal(filter)

	rows := pgxmock.NewRows([]string{"id", "content", "metadata", "created_at", "score"}).
		AddRow("agents", "agents run tools", filterJSON, time.Now(), 0.93)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE metadata @> $3::jsonb")).
		WithArgs("[1,0.5,0]", 5, filterJSON).
		WillReturnRows(rows)

	results, err := vs.SearchWithFilter(context.Background(), "tell me about agents", 5, filter)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "agents", results[0].Document.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Search_NoRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	vs := NewPostgresStoreWithPool(mock, testEmbedder(), "documents", 3)

	rows := pgxmock.NewRows([]string{"id", "content", "metadata", "created_at", "score"})

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY embedding <=> $1::vector")).
		WithArgs("[1,0.5,0]", 5).
		WillReturnRows(rows)

	results, err := vs.Search(context.Background(), "tell me about agents", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Search_DatabaseError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	vs := NewPostgresStoreWithPool(mock, testEmbedder(), "documents", 3)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY embedding <=> $1::vector")).
		WithArgs("[1,0.5,0]", 5).
		WillReturnError(errors.New("connection refused"))

	_, err = vs.Search(context.Background(), "tell me about agents", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to search documents")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	vs := NewPostgresStoreWithPool(mock, testEmbedder(), "documents", 3)

	ids := []string{"agents", "memory"}
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM documents WHERE id = ANY($1)")).
		WithArgs(ids).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	err = vs.Delete(context.Background(), ids)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	vs := NewPostgresStoreWithPool(mock, testEmbedder(), "documents", 3)

	now := time.Now()
	rows := pgxmock.NewRows([]string{"count", "coalesce"}).AddRow(42, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WillReturnRows(rows)

	stats, err := vs.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, stats.TotalDocuments)
	assert.Equal(t, 3, stats.Dimension)
	assert.Equal(t, now, stats.LastUpdated)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DefaultOptions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	vs := NewPostgresStoreWithPool(mock, nil, "", 0)
	assert.Equal(t, "documents", vs.tableName)
	assert.Equal(t, DefaultDimension, vs.dimension)
}
