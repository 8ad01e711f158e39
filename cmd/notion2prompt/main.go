// notion2prompt fetches a Notion page, database, or block tree and
// renders it as prompt text for a large language model.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/notiontools/notion2prompt/pkg/logging"
	"github.com/notiontools/notion2prompt/pkg/pipeline"
	"github.com/notiontools/notion2prompt/pkg/render"
)

var rootCmd = &cobra.Command{
	Use:   "notion2prompt <url-or-id>",
	Short: "Render Notion content as an AI prompt",
	Long: `notion2prompt fetches a Notion page, database, or block (recursively,
within depth and item limits) and renders the content as prompt text.

The prompt is written to stdout; logs go to stderr. Authentication uses
the NOTION_API_KEY environment variable or the api-key setting.`,
	Args:          cobra.ExactArgs(1),
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.Flags()
	flags.Int("depth", pipeline.DefaultDepth, "how many levels below the root to fetch (negative = root only)")
	flags.Int("limit", pipeline.DefaultLimit, "maximum number of items to fetch, root included")
	flags.String("template", pipeline.DefaultTemplate, fmt.Sprintf("output template (%v)", render.Names()))
	flags.Bool("always-fetch-databases", false, "fetch database rows even at the depth limit")
	flags.Bool("include-properties", false, "include page properties in the output")
	flags.String("instruction", "", "instruction text opening the prompt")
	flags.Bool("no-cache", false, "disable the response cache")
	flags.Duration("cache-ttl", pipeline.DefaultCacheTTL, "how long cached API responses stay fresh")
	flags.Int("concurrency", 0, "maximum concurrent API requests (0 = auto)")
	flags.StringP("output", "o", "", "write the prompt to a file instead of stdout")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-pretty", false, "human-readable log output")

	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("NOTION2PROMPT")
	viper.AutomaticEnv()

	viper.SetConfigName("notion2prompt")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home + "/.config")
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Config file is optional; flags and env override it.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(viper.GetString("log-level")),
		Pretty: viper.GetBool("log-pretty"),
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.New(pipeline.Config{
		Input:                args[0],
		APIKey:               viper.GetString("api-key"),
		Depth:                viper.GetInt("depth"),
		Limit:                viper.GetInt("limit"),
		Template:             viper.GetString("template"),
		AlwaysFetchDatabases: viper.GetBool("always-fetch-databases"),
		IncludeProperties:    viper.GetBool("include-properties"),
		Instruction:          viper.GetString("instruction"),
		NoCache:              viper.GetBool("no-cache"),
		CacheTTL:             viper.GetDuration("cache-ttl"),
		Concurrency:          viper.GetInt("concurrency"),
	})
	if err != nil {
		return err
	}

	start := time.Now()
	prompt, err := p.FetchAndRender(ctx)
	if err != nil {
		return err
	}

	if out := viper.GetString("output"); out != "" {
		if err := os.WriteFile(out, []byte(prompt), 0o644); err != nil {
			return fmt.Errorf("write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "wrote %d bytes to %s in %s\n", len(prompt), out, time.Since(start).Round(time.Millisecond))
		return nil
	}

	fmt.Print(prompt)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
