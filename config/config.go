package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL            string        `mapstructure:"base_url"`
	CategoryID         int           `mapstructure:"category_id"`
	StartPage          int           `mapstructure:"start_page"`
	EndPage            int           `mapstructure:"end_page"` // inclusive, 0 means last page
	DestFolder         string        `mapstructure:"dest_folder"`
	BooksDir           string        `mapstructure:"books_dir"`
	ImagesDir          string        `mapstructure:"images_dir"`
	MetadataFile       string        `mapstructure:"metadata_file"`
	SkipText           bool          `mapstructure:"skip_text"`
	SkipImages         bool          `mapstructure:"skip_images"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxRetries         int           `mapstructure:"max_retries"` // 0 retries transient faults forever
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax    time.Duration `mapstructure:"retry_backoff_max"`
	UserAgent          string        `mapstructure:"user_agent"`
	OutputFormat       string        `mapstructure:"output_format"` // json, csv, or dual
	ExistenceCacheSize int           `mapstructure:"existence_cache_size"`
	MetricsAddr        string        `mapstructure:"metrics_addr"`
	Verbose            bool          `mapstructure:"verbose"`
}

// DefaultConfig returns defaults for the science fiction category of tululu.org.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://tululu.org",
		CategoryID:         55,
		StartPage:          1,
		EndPage:            0,
		DestFolder:         ".",
		BooksDir:           "books",
		ImagesDir:          "images",
		MetadataFile:       "books.json",
		SkipText:           false,
		SkipImages:         false,
		Timeout:            30 * time.Second,
		MaxRetries:         0,
		RetryBackoff:       time.Second,
		RetryBackoffMax:    time.Minute,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		OutputFormat:       "json",
		ExistenceCacheSize: 4096,
		MetricsAddr:        "",
		Verbose:            false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.CategoryID <= 0 {
		return fmt.Errorf("category id must be positive")
	}
	if c.StartPage <= 0 {
		return fmt.Errorf("start page must be positive")
	}
	if c.EndPage < 0 {
		return fmt.Errorf("end page cannot be negative")
	}
	if c.EndPage > 0 && c.EndPage < c.StartPage {
		return fmt.Errorf("end page (%d) cannot precede start page (%d)", c.EndPage, c.StartPage)
	}
	if c.DestFolder == "" {
		return fmt.Errorf("destination folder cannot be empty")
	}
	if c.BooksDir == "" || c.ImagesDir == "" {
		return fmt.Errorf("books and images directories cannot be empty")
	}
	if c.MetadataFile == "" {
		return fmt.Errorf("metadata file cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff <= 0 {
		return fmt.Errorf("retry backoff must be positive")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.ExistenceCacheSize <= 0 {
		return fmt.Errorf("existence cache size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// CategoryURL is the listing root, e.g. https://tululu.org/l55.
func (c *Config) CategoryURL() string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/l" + strconv.Itoa(c.CategoryID)
}

// BooksPath is the folder text artifacts are stored in.
func (c *Config) BooksPath() string {
	return filepath.Join(c.DestFolder, c.BooksDir)
}

// ImagesPath is the folder cover images are stored in.
func (c *Config) ImagesPath() string {
	return filepath.Join(c.DestFolder, c.ImagesDir)
}

// MetadataPath is the snapshot file location.
func (c *Config) MetadataPath() string {
	return filepath.Join(c.DestFolder, c.MetadataFile)
}

// SetDefaults registers DefaultConfig values on v so flags, env and files
// all layer over the same baseline.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("category_id", d.CategoryID)
	v.SetDefault("start_page", d.StartPage)
	v.SetDefault("end_page", d.EndPage)
	v.SetDefault("dest_folder", d.DestFolder)
	v.SetDefault("books_dir", d.BooksDir)
	v.SetDefault("images_dir", d.ImagesDir)
	v.SetDefault("metadata_file", d.MetadataFile)
	v.SetDefault("skip_text", d.SkipText)
	v.SetDefault("skip_images", d.SkipImages)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("retry_backoff", d.RetryBackoff)
	v.SetDefault("retry_backoff_max", d.RetryBackoffMax)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("output_format", d.OutputFormat)
	v.SetDefault("existence_cache_size", d.ExistenceCacheSize)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("verbose", d.Verbose)
}

// Load builds a Config from v. When path is set the file is read first;
// TULULU_* environment variables override it.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix("TULULU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
