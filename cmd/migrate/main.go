package main

import (
	"flag"
	"log"

	"gorm.io/gorm"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/bootstrap"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/config"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/model"
)

var extensionSQL = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto;`,
	`CREATE EXTENSION IF NOT EXISTS vector;`,
}

// AutoMigrate does not create vector indexes.
var indexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_memory_records_embedding
	 ON memory_records USING hnsw (embedding_value vector_cosine_ops);`,
	`CREATE INDEX IF NOT EXISTS idx_memory_records_actor
	 ON memory_records (namespace, actor_id, updated_at DESC);`,
}

func main() {
	skipIndexes := flag.Bool("skip-indexes", false, "only create the table, not the recall indexes")
	flag.Parse()

	cfg := config.Load()
	if cfg.Database.Connection == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	db, err := bootstrap.OpenDatabase(cfg)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	log.Println("Step 1: Setting up extensions...")
	execAll(db, extensionSQL)

	log.Println("Step 2: Running AutoMigrate for memory records...")
	if err := db.AutoMigrate(&model.MemoryRecord{}); err != nil {
		log.Fatalf("Error: AutoMigrate failed: %v", err)
	}

	if !*skipIndexes {
		log.Println("Step 3: Creating indexes...")
		execAll(db, indexSQL)
	}

	log.Println("Success: memory schema is up to date.")
}

// execAll logs failures and keeps going; a missing extension shows up again
// as an AutoMigrate error.
func execAll(db *gorm.DB, statements []string) {
	for _, sql := range statements {
		if err := db.Exec(sql).Error; err != nil {
			log.Printf("Warn: %v. Continuing...", err)
		}
	}
}
