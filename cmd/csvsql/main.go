package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/JayJamieson/csv-sql/pkg/app"
	"github.com/JayJamieson/csv-sql/pkg/config"
	"github.com/JayJamieson/csv-sql/pkg/logging"
	"github.com/JayJamieson/csv-sql/pkg/render"
	"github.com/JayJamieson/csv-sql/pkg/sample"
	"github.com/JayJamieson/csv-sql/pkg/source"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile   string
	inputPath string
	format    string
)

var rootCmd = &cobra.Command{
	Use:   "csvsql",
	Short: "Ask questions about a CSV file in plain language",
	Long: `csvsql loads a CSV file into an embedded table, turns a question into a
read-only SQL query with a language model and prints the result.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return render.ValidFormat(format)
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Generate SQL for a question and run it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, a *app.App) error {
			stmt, result, err := a.Session.Ask(ctx, strings.Join(args, " "))
			if stmt.Text != "" && format == render.FormatTable {
				_ = render.SQL(cmd.ErrOrStderr(), stmt.Text)
			}
			if err != nil {
				return err
			}
			return render.Result(cmd.OutOrStdout(), result, format)
		})
	},
}

var execCmd = &cobra.Command{
	Use:   "exec [sql]",
	Short: "Run a read-only SQL statement against the loaded table",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, a *app.App) error {
			result, err := a.Session.ExecuteRaw(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return render.Result(cmd.OutOrStdout(), result, format)
		})
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Show the inferred columns of the CSV file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, a *app.App) error {
			descriptors, err := a.Session.Describe()
			if err != nil {
				return err
			}
			return render.Descriptors(cmd.OutOrStdout(), descriptors, format)
		})
	},
}

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Write a demo transactions CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, _ := cmd.Flags().GetInt("rows")
		seed, _ := cmd.Flags().GetInt64("seed")
		output, _ := cmd.Flags().GetString("output")

		var w io.Writer = cmd.OutOrStdout()
		if output != "" && output != "-" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer f.Close()
			w = f
		}
		return sample.WriteTransactions(w, rows, seed)
	},
}

// withSession loads --file into a fresh session and runs fn against it.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	if inputPath == "" {
		return errors.New("--file is required")
	}

	cfg, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	input, name, err := openInput(ctx, a.Fetcher, inputPath, cfg.Upload.MaxBytes)
	if err != nil {
		return err
	}
	defer input.Close()

	if _, err := a.Session.Load(ctx, name, input); err != nil {
		return err
	}
	logger.Debug("input loaded", zap.String("file", name))

	return fn(ctx, a)
}

func openInput(ctx context.Context, fetcher *source.Fetcher, path string, maxBytes int64) (io.ReadCloser, string, error) {
	if path == "-" {
		return io.NopCloser(source.LimitReader(os.Stdin, maxBytes)), "stdin.csv", nil
	}
	if strings.Contains(path, "://") {
		return fetcher.Open(ctx, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	return struct {
		io.Reader
		io.Closer
	}{source.LimitReader(f, maxBytes), f}, filepath.Base(path), nil
}

func init() {
	pflags := rootCmd.PersistentFlags()
	pflags.StringVar(&cfgFile, "config", "", "config file (default is ./csvsql.yaml)")
	pflags.StringVarP(&inputPath, "file", "f", "", "CSV file path, http(s)/s3 URL, or - for stdin")
	pflags.StringVarP(&format, "format", "o", render.FormatTable, "output format: table, csv or json")
	pflags.String("engine", "duckdb", "embedded engine: duckdb or sqlite")
	pflags.String("table", "transactions", "name of the loaded table")
	pflags.String("provider", "gemini", "LLM provider: gemini or openai")
	pflags.String("model", "", "LLM model name")

	_ = viper.BindPFlag("store.engine", pflags.Lookup("engine"))
	_ = viper.BindPFlag("table.name", pflags.Lookup("table"))
	_ = viper.BindPFlag("llm.provider", pflags.Lookup("provider"))
	_ = viper.BindPFlag("llm.model", pflags.Lookup("model"))

	sampleCmd.Flags().Int("rows", 100, "number of rows to generate")
	sampleCmd.Flags().Int64("seed", 0, "random seed, 0 for a random one")
	sampleCmd.Flags().String("output", "-", "output file, - for stdout")

	rootCmd.AddCommand(askCmd, execCmd, describeCmd, sampleCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		render.Error(os.Stderr, err)
		os.Exit(1)
	}
}
