package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aluiziolira/go-scrape-tululu/config"
	"github.com/aluiziolira/go-scrape-tululu/models"
	"github.com/aluiziolira/go-scrape-tululu/scraper"
	"github.com/aluiziolira/go-scrape-tululu/sink"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(viper.New()).ExecuteContext(ctx); err != nil {
		slog.Error("scrape failed", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"start-page":    "start_page",
	"end-page":      "end_page",
	"dest-folder":   "dest_folder",
	"skip-txt":      "skip_text",
	"skip-imgs":     "skip_images",
	"category":      "category_id",
	"format":        "output_format",
	"max-retries":   "max_retries",
	"retry-backoff": "retry_backoff",
	"metrics-addr":  "metrics_addr",
	"verbose":       "verbose",
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Download science fiction books from tululu.org",
		Long: `scraper walks the category listing of tululu.org, downloads every book's
text and cover and writes the collected metadata to a JSON file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, v, cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	flags.Int("start-page", defaults.StartPage, "Category page to start from")
	flags.Int("end-page", defaults.EndPage, "Last category page to scrape, inclusive (0 means the last page)")
	flags.String("dest-folder", defaults.DestFolder, "Folder for books, images and the metadata file")
	flags.Bool("skip-txt", defaults.SkipText, "Do not download book texts")
	flags.Bool("skip-imgs", defaults.SkipImages, "Do not download cover images")
	flags.Int("category", defaults.CategoryID, "Category id to walk")
	flags.String("format", defaults.OutputFormat, "Metadata format: json, csv, or dual")
	flags.Int("max-retries", defaults.MaxRetries, "Retries per request on network faults (0 retries forever)")
	flags.Duration("retry-backoff", defaults.RetryBackoff, "Initial retry backoff")
	flags.String("metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flags.BoolP("verbose", "v", defaults.Verbose, "Enable verbose logging")

	return cmd
}

func loadConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) (*config.Config, error) {
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	slog.Info("starting scrape",
		slog.String("category", cfg.CategoryURL()),
		slog.Int("start_page", cfg.StartPage),
		slog.Int("end_page", cfg.EndPage),
		slog.String("dest", cfg.DestFolder),
	)

	metrics := scraper.NewMetrics()
	fetcher, err := scraper.NewFetcher(cfg, metrics)
	if err != nil {
		return fmt.Errorf("initialising fetcher: %w", err)
	}
	s, err := scraper.NewScraper(cfg, fetcher, metrics)
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	books, result, err := s.Scrape(ctx)
	if err != nil {
		if result != nil {
			printSummary(result, "")
		}
		return err
	}

	output := cfg.MetadataPath()
	if err := writeMetadata(cfg.OutputFormat, output, books); err != nil {
		return err
	}

	printSummary(result, output)
	return nil
}

func writeMetadata(format, path string, books []*models.Book) error {
	writer, err := sink.NewWriter(format, path)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	if err := writer.Write(books); err != nil {
		writer.Close()
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing writer: %w", err)
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}
	return nil
}

func printSummary(result *models.RunResult, outputFile string) {
	duration := result.EndTime.Sub(result.StartTime)
	booksPerSec := 0.0
	if duration.Seconds() > 0 {
		booksPerSec = float64(result.Recorded) / duration.Seconds()
	}

	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")
	fmt.Printf("  Books saved:   %d of %d\n", result.Recorded, result.Requested)
	fmt.Printf("  Failed books:  %d\n", result.Failed)
	if len(result.FailedPages) > 0 {
		fmt.Printf("  Failed pages:  %v\n", result.FailedPages)
	}
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	fmt.Printf("  Pages:         %d\n", result.PageCount)
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Books/sec:     %.2f\n", booksPerSec)
	if outputFile != "" {
		fmt.Printf("  Output file:   %s\n", outputFile)
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
