package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/config"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/events"
	pktNats "github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/nats"
)

func newEventsCmd() *cobra.Command {
	var eventType, durable string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail lifecycle events from NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.App.NatsURL == "" {
				return fmt.Errorf("NATS_URL is not set")
			}

			sub, err := pktNats.NewSubscriber(cfg.App.NatsURL, logger.NewNop())
			if err != nil {
				return err
			}
			defer sub.Close()

			out := cmd.OutOrStdout()
			color.Cyan("Listening for %s events on %s\n", eventType, cfg.App.NatsURL)
			return sub.Subscribe(cmd.Context(), eventType, durable, func(_ context.Context, e events.Event) error {
				data, err := json.Marshal(e.Payload())
				if err != nil {
					return err
				}
				color.New(color.FgGreen).Fprintf(out, "%s %s ", e.Timestamp().Format("15:04:05"), e.EventType())
				fmt.Fprintln(out, string(data))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "*", "Event type to follow, e.g. INTAKE_COMPLETED")
	cmd.Flags().StringVar(&durable, "durable", "", "Durable consumer name (replays missed events)")
	return cmd
}
