package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/bootstrap"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/config"
)

// globals are the flags shared by every subcommand.
type globals struct {
	actorID   string
	sessionID string
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "cba",
		Short:         "Project intake assistant for Circular Bioeconomy Alliance indicators",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.actorID, "actor", "cli", "Actor (user) ID")
	root.PersistentFlags().StringVar(&g.sessionID, "session", "", "Session ID (new session when empty)")

	root.AddCommand(
		newChatCmd(g),
		newAskCmd(g),
		newUploadCmd(g),
		newEventsCmd(),
	)
	return root
}

// session returns the configured session ID, minting one on first use so
// every turn of a command lands in the same session.
func (g *globals) session() string {
	if g.sessionID == "" {
		g.sessionID = uuid.NewString()
	}
	return g.sessionID
}

// openContainer wires the same components as the HTTP server, without the
// websocket hub.
func openContainer(ctx context.Context) (*bootstrap.Container, error) {
	cfg := config.Load()

	var db *gorm.DB
	if cfg.Memory.Backend == "pgvector" {
		conn, err := bootstrap.OpenDatabase(cfg)
		if err != nil {
			return nil, err
		}
		db = conn
	}

	container, err := bootstrap.NewContainer(ctx, cfg, bootstrap.Options{DB: db, Quiet: true})
	if err != nil {
		return nil, err
	}

	go func() {
		if err := container.Start(ctx); err != nil {
			container.Logger.Error("CLI", "Background consumer stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	return container, nil
}
