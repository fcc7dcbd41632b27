package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/osdr-rag-go/internal/tracing"
)

// defaultSummaryLength is the token ceiling of the final summary.
const defaultSummaryLength = 400

// NewSummarizeCmd constructs the `osdrrag summarize` command, which runs the
// map-reduce summarizer over a file or piped text without touching the index.
func NewSummarizeCmd() *cobra.Command {
	var (
		file      string
		maxLength int
	)

	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Summarize a long text with the configured model",
		Long: `Summarize a long text. The text is split into chunks, each chunk is
summarized, and the partial summaries are combined into one.

Examples:
  osdrrag summarize --file abstract.txt
  cat paper.txt | osdrrag summarize --max-length 200`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()

			text, err := readInput(file, cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("summarize: %w", err)
			}
			if text == "" {
				return fmt.Errorf("summarize: provide --file <path> or pipe text via stdin")
			}

			flush := tracing.Enable(log)
			defer flush()

			a, err := buildApp(ctx, log)
			if err != nil {
				return fmt.Errorf("summarize: %w", err)
			}
			defer a.Close()

			out, err := a.summarizer.Summarize(ctx, text, maxLength)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the text to summarize (default: stdin)")
	cmd.Flags().IntVar(&maxLength, "max-length", defaultSummaryLength, "Maximum length of the final summary in tokens")

	return cmd
}

// readInput returns the contents of path, or of stdin when path is empty and
// stdin is not a terminal.
func readInput(path string, stdin io.Reader) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %q: %w", path, err)
		}
		return string(data), nil
	}

	if f, ok := stdin.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil {
			return "", fmt.Errorf("failed to stat stdin: %w", err)
		}
		if stat.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}
