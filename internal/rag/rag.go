// Package rag provides retrieval augmentation for the pipeline stages:
// a SQLite-backed store of solved exemplar problems and embedding-based
// retrieval of the most similar ones. Retrieved exemplars are prepended
// to stage prompts when a RAG mode is enabled.
package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"optimod/internal/llm"
)

// Mode selects what gets augmented.
type Mode string

const (
	// ModeNone disables retrieval augmentation.
	ModeNone Mode = "none"
	// ModeProblem retrieves whole-problem exemplars for every stage.
	ModeProblem Mode = "problem"
	// ModeConstraint retrieves constraint-level exemplars for the
	// formulation stages only.
	ModeConstraint Mode = "constraint"
)

// ParseMode validates a mode string from the CLI.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeNone:
		return ModeNone, nil
	case ModeProblem:
		return ModeProblem, nil
	case ModeConstraint:
		return ModeConstraint, nil
	}
	return ModeNone, fmt.Errorf("unknown RAG mode %q (want none, problem, or constraint)", s)
}

// Exemplar is one stored reference problem or constraint with its
// formulation, used as in-context guidance.
type Exemplar struct {
	ID         int64
	Kind       string // "problem" or "constraint"
	Content    string // description text the embedding indexes
	Solution   string // formulation/code shown to the model
	Similarity float64
}

// Store persists exemplars and their embeddings in SQLite.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewStore opens (creating if needed) the exemplar database.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create rag store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open rag store: %w", err)
	}
	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS exemplars (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			solution TEXT NOT NULL,
			embedding TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("initialize rag store: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Add stores an exemplar with its embedding.
func (s *Store) Add(ctx context.Context, kind, content, solution string, embedding []float32) error {
	raw, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO exemplars (kind, content, solution, embedding) VALUES (?, ?, ?, ?)",
		kind, content, solution, string(raw))
	if err != nil {
		return fmt.Errorf("store exemplar: %w", err)
	}
	return nil
}

// Search returns the k exemplars of the given kind most similar to the
// query embedding, by cosine similarity.
func (s *Store) Search(ctx context.Context, kind string, query []float32, k int) ([]Exemplar, error) {
	if k <= 0 {
		k = 3
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, kind, content, solution, embedding FROM exemplars WHERE kind = ?", kind)
	if err != nil {
		return nil, fmt.Errorf("query exemplars: %w", err)
	}
	defer rows.Close()

	var results []Exemplar
	for rows.Next() {
		var e Exemplar
		var rawEmbedding string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Content, &e.Solution, &rawEmbedding); err != nil {
			return nil, err
		}
		var embedding []float32
		if err := json.Unmarshal([]byte(rawEmbedding), &embedding); err != nil {
			continue
		}
		e.Similarity = cosine(query, embedding)
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Retriever pairs the store with an embedder and renders retrieved
// exemplars into prompt context.
type Retriever struct {
	store    *Store
	embedder llm.Embedder
	topK     int
}

// NewRetriever creates a retriever returning at most topK exemplars.
func NewRetriever(store *Store, embedder llm.Embedder, topK int) *Retriever {
	if topK <= 0 {
		topK = 3
	}
	return &Retriever{store: store, embedder: embedder, topK: topK}
}

// Context retrieves exemplars similar to the query and renders them as a
// prompt section. An empty string means nothing useful was found; a
// retrieval failure is returned to the caller to decide on, not
// swallowed here.
func (r *Retriever) Context(ctx context.Context, kind, query string) (string, error) {
	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	exemplars, err := r.store.Search(ctx, kind, embedding, r.topK)
	if err != nil {
		return "", err
	}
	if len(exemplars) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Reference examples of similar problems and their formulations:\n")
	for i, e := range exemplars {
		fmt.Fprintf(&b, "\n--- Example %d ---\n%s\n%s\n", i+1, e.Content, e.Solution)
	}
	return b.String(), nil
}
