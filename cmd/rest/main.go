package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/bootstrap"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/config"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/server"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/tracer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load Configuration
	cfg := config.Load()

	// 2. Tracer (no-op unless OTEL_ENABLED=true)
	shutdownTracer := tracer.InitTracer(ctx, cfg.Tracing)
	defer shutdownTracer(context.Background())

	// 3. Database, only needed by the pgvector memory backend
	gormDB, err := bootstrap.OpenDatabase(cfg)
	if err != nil {
		log.Panicf("Unable to connect to GORM DB: %v", err)
	}

	// 4. Bootstrap Dependencies (Container)
	container, err := bootstrap.NewContainer(ctx, cfg, bootstrap.Options{DB: gormDB, Realtime: true})
	if err != nil {
		log.Fatalf("Bootstrap failed: %v", err)
	}
	defer container.Close()

	// 5. Start Background Services
	if err := container.Start(ctx); err != nil {
		log.Fatalf("Background services failed to start: %v", err)
	}

	// 6. Initialize Server
	srv := server.New(cfg, container)

	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// 7. Run Server
	if err := srv.Run(); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}
