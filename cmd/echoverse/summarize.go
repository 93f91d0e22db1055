package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ent0n29/echoverse/internal/summary"
)

var (
	summarizeKey   string
	summarizeFile  string
	summarizeForce bool
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize one transcript from a file or stdin and print the result as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		built, err := loadRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = built.Cleanup() }()

		in := io.Reader(os.Stdin)
		if summarizeFile != "" && summarizeFile != "-" {
			f, err := os.Open(summarizeFile)
			if err != nil {
				return fmt.Errorf("open transcript: %w", err)
			}
			defer f.Close()
			in = f
		}
		return runSummarize(cmd.Context(), built.Generator, summarizeKey, summarizeForce, in, cmd.OutOrStdout())
	},
}

func init() {
	summarizeCmd.Flags().StringVar(&summarizeKey, "key", "", "conversation key to cache the summary under")
	summarizeCmd.Flags().StringVar(&summarizeFile, "file", "-", "transcript file, - for stdin")
	summarizeCmd.Flags().BoolVar(&summarizeForce, "force", false, "regenerate even when a summary is stored")
	_ = summarizeCmd.MarkFlagRequired("key")
}

type generator interface {
	Generate(ctx context.Context, req summary.Request) (summary.Result, error)
}

func runSummarize(ctx context.Context, gen generator, key string, force bool, in io.Reader, out io.Writer) error {
	transcript, err := io.ReadAll(io.LimitReader(in, 1<<20))
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}
	res, err := gen.Generate(ctx, summary.Request{
		ConversationKey: key,
		Transcript:      string(transcript),
		ForceRegenerate: force,
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
