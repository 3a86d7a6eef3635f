package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/config"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/document"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/embedding"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/retrieval/qdrantkb"
)

// Seeds the qdrant knowledge base with indicator guidance documents.
func main() {
	dir := flag.String("dir", "./data/indicators", "Directory of .md, .txt or .csv indicator documents")
	chunkSize := flag.Int("chunk", 1500, "Chunk size in characters")
	overlap := flag.Int("overlap", 150, "Overlap between chunks in characters")
	flag.Parse()

	// 1. Load Configuration
	cfg := config.Load()
	collection := cfg.Retrieval.KnowledgeBaseID
	if collection == "" {
		log.Fatal("Error: KNOWLEDGE_BASE_ID is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	// 2. Connect
	embedder, err := embedding.NewProvider(ctx, cfg.Ai.EmbeddingProvider, cfg.Ai.EmbeddingModel, cfg.Ai.OllamaBaseURL, cfg.Ai.GeminiAPIKey)
	if err != nil {
		log.Fatalf("Error: Failed to init embedding provider: %v", err)
	}
	client, err := qdrantkb.Dial(qdrantkb.ConnConfig{
		Host:   cfg.Qdrant.Host,
		Port:   cfg.Qdrant.Port,
		APIKey: cfg.Qdrant.APIKey,
		UseTLS: cfg.Qdrant.UseTLS,
	})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer client.Close()

	indexer := qdrantkb.NewIndexer(client, embedder, collection, *chunkSize, *overlap)
	if err := indexer.EnsureCollection(ctx); err != nil {
		log.Fatalf("Error: %v", err)
	}

	// 3. Index every document under dir
	log.Printf("Seeding collection %q from %s...", collection, *dir)
	files, points := 0, 0
	err = filepath.WalkDir(*dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		text, err := readDocument(path)
		if errors.Is(err, document.ErrUnsupportedType) || errors.Is(err, document.ErrEmpty) {
			log.Printf("Skipping %s: %v", path, err)
			return nil
		}
		if err != nil {
			return err
		}

		rel, _ := filepath.Rel(*dir, path)
		n, err := indexer.Index(ctx, qdrantkb.Passage{Source: filepath.ToSlash(rel), Text: text})
		if err != nil {
			return err
		}
		log.Printf("Indexed %s (%d chunks)", rel, n)
		files++
		points += n
		return nil
	})
	if err != nil {
		log.Fatalf("Error: Seeding failed: %v", err)
	}

	log.Printf("Seeding completed: %d documents, %d points.", files, points)
}

// readDocument returns the full text of a file. CSV catalogues are indexed
// whole rather than as the preview an upload gets.
func readDocument(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		text := strings.TrimSpace(string(data))
		if text == "" {
			return "", document.ErrEmpty
		}
		return text, nil
	}
	doc, err := document.Extract(data, filepath.Base(path))
	if err != nil {
		return "", err
	}
	return doc.Text, nil
}
