package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/dto"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/service"
)

var exitWords = map[string]bool{"exit": true, "quit": true, "bye": true}

func newChatCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive intake conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			container, err := openContainer(ctx)
			if err != nil {
				return err
			}
			defer container.Close()

			color.Cyan("CBA project intake. Type 'exit' to leave.\n")
			return chatLoop(cmd, container.ConversationService, g, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func chatLoop(cmd *cobra.Command, svc service.IConversationService, g *globals, in io.Reader, out io.Writer) error {
	ctx := cmd.Context()
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if exitWords[strings.ToLower(line)] {
			return nil
		}

		resp := svc.ProcessTurn(ctx, &dto.TurnRequest{
			Prompt:    line,
			SessionID: g.session(),
			ActorID:   g.actorID,
		})
		renderTurn(out, resp)

		if ctx.Err() != nil {
			return nil
		}
	}
}
