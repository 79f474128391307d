package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/quill/internal/relay"
	"github.com/MikeSquared-Agency/quill/internal/suggest"
)

func newParseCommand() *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Normalize a raw model answer into reply candidates",
		Long:  "Reads a raw model answer from the given file (or stdin) and prints the cleaned candidates as a JSON array.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open %s: %w", args[0], err)
				}
				defer f.Close()
				in = f
			}

			raw, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return writeCandidates(cmd.OutOrStdout(), suggest.Normalize(string(raw)), plain)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print a numbered list instead of JSON")
	return cmd
}

func writeCandidates(w io.Writer, cands []string, plain bool) error {
	if plain {
		_, err := fmt.Fprintln(w, relay.RenderCandidates(cands))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(cands)
}
