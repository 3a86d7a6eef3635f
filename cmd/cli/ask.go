package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/dto"
)

func newAskCmd(g *globals) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   `ask "<message>"`,
		Short: "Send a single message and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			container, err := openContainer(ctx)
			if err != nil {
				return err
			}
			defer container.Close()

			resp := container.ConversationService.ProcessTurn(ctx, &dto.TurnRequest{
				Prompt:    args[0],
				SessionID: g.session(),
				ActorID:   g.actorID,
			})

			if asJSON {
				out, err := json.MarshalIndent(resp, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			renderTurn(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw turn response")
	return cmd
}
