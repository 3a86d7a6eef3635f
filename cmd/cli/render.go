package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/dto"
)

var (
	assistantColor = color.New(color.FgCyan)
	errorColor     = color.New(color.FgRed)
	hintColor      = color.New(color.FgYellow)
	metaColor      = color.New(color.Faint)
)

// renderTurn prints a turn response the way the chat loop shows it.
func renderTurn(w io.Writer, resp *dto.TurnResponse) {
	if resp.Status == dto.StatusError {
		errorColor.Fprintf(w, "! %s\n", resp.Result)
		if resp.Hint != "" {
			hintColor.Fprintf(w, "  %s\n", resp.Hint)
		}
		if resp.Retryable {
			metaColor.Fprintln(w, "  (temporary failure, send the message again to retry)")
		}
		return
	}

	assistantColor.Fprintf(w, "assistant> %s\n", strings.TrimSpace(resp.Result))
	if len(resp.Missing) > 0 {
		metaColor.Fprintf(w, "  [%s] missing: %s\n", resp.Phase, strings.Join(resp.Missing, ", "))
	} else if resp.Phase != "" {
		metaColor.Fprintf(w, "  [%s]\n", resp.Phase)
	}
}

func renderUpload(w io.Writer, resp *dto.UploadResponse) {
	assistantColor.Fprintln(w, resp.Message)
	for name, value := range resp.Found {
		if name == "commodity" {
			continue // alias of project_type
		}
		fmt.Fprintf(w, "  %-12s %v\n", name+":", value)
	}
	if len(resp.Missing) > 0 {
		hintColor.Fprintf(w, "  missing: %s\n", strings.Join(resp.Missing, ", "))
	}
	if resp.SessionID != "" {
		metaColor.Fprintf(w, "  session %s [%s]\n", resp.SessionID, resp.Phase)
	}
}
