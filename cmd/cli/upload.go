package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/dto"
)

func newUploadCmd(g *globals) *cobra.Command {
	var attach bool

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Extract project fields from a document",
		Long: "Reads a project document, extracts the intake fields it mentions and " +
			"optionally attaches it to the session given by --session.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			ctx := cmd.Context()
			container, err := openContainer(ctx)
			if err != nil {
				return err
			}
			defer container.Close()

			req := &dto.UploadRequest{
				Data:     data,
				Filename: filepath.Base(args[0]),
				ActorID:  g.actorID,
			}
			if attach {
				req.SessionID = g.session()
			}

			resp, err := container.ConversationService.ProcessUpload(ctx, req)
			if err != nil {
				return err
			}
			renderUpload(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&attach, "attach", false, "Attach the document to the session")
	return cmd
}
