// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App       AppConfig
	Logger    LoggerConfig
	Storage   StorageConfig
	Upload    UploadConfig
	Thumbnail ThumbnailConfig
	Server    ServerConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// StorageConfig holds catalog and blob storage locations.
type StorageConfig struct {
	// DataPath is the base directory; the other paths default beneath it.
	DataPath       string
	OriginalsPath  string // Root for original image blobs (default: {data}/uploads/originals)
	ThumbnailsPath string // Root for derived thumbnails (default: {data}/uploads/thumbnails)
	DatabasePath   string // SQLite catalog file (default: {data}/picdex.db)
}

// UploadConfig bounds what ingestion accepts.
type UploadConfig struct {
	MaxUploadBytes   int64    // Hard cap on upload size (default: 10 MiB)
	AllowedMimeTypes []string // Sniffed content types accepted for ingestion
	RateLimitPerMin  int      // Upload requests allowed per client per minute (default: 30)
}

// ThumbnailConfig bounds derived thumbnails.
type ThumbnailConfig struct {
	MaxWidth  int // Default: 256
	MaxHeight int // Default: 256
	Quality   int // JPEG encode quality (default: 85)
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string        // Server port (default: 8080)
	ReadTimeout  time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout time.Duration // HTTP write timeout (default: 60s, uploads are slow)
	IdleTimeout  time.Duration // HTTP idle timeout (default: 60s)
	CORSOrigins  []string      // Allowed CORS origins (default: *)
}

// defaultMimeTypes are the content types ingestion accepts out of the box.
var defaultMimeTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	// Define command-line flags.
	env := flag.String("env", "", "Environment (development, staging, production)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	dataPath := flag.String("data-path", "", "Base path for catalog and blob storage")
	originalsPath := flag.String("originals-path", "", "Root directory for original image blobs")
	thumbnailsPath := flag.String("thumbnails-path", "", "Root directory for derived thumbnails")
	databasePath := flag.String("database-path", "", "Path to the SQLite catalog file")

	// Upload flags
	maxUploadBytes := flag.String("max-upload-bytes", "", "Maximum upload size in bytes (default: 10485760)")
	allowedMimeTypes := flag.String("allowed-mime-types", "", "Comma-separated MIME allow-list")
	uploadRateLimit := flag.String("upload-rate-limit", "", "Upload requests per client per minute (default: 30)")

	// Thumbnail flags
	thumbMaxWidth := flag.String("thumb-max-width", "", "Thumbnail max width (default: 256)")
	thumbMaxHeight := flag.String("thumb-max-height", "", "Thumbnail max height (default: 256)")
	thumbQuality := flag.String("thumb-quality", "", "Thumbnail JPEG quality (default: 85)")

	// Server flags
	serverPort := flag.String("port", "", "Server port (default: 8080)")
	readTimeout := flag.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := flag.String("write-timeout", "", "HTTP write timeout (default: 60s)")
	idleTimeout := flag.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	corsOrigins := flag.String("cors-origins", "", "Comma-separated allowed CORS origins")

	envFile := flag.String("env-file", ".env", "Path to .env file")

	// Parse flags but don't exit on error - we want to handle it gracefully.
	flag.Parse()

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	// Build config with proper precedence.
	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Storage: StorageConfig{
			DataPath:       getConfigValue(*dataPath, "DATA_PATH", ""),
			OriginalsPath:  getConfigValue(*originalsPath, "ORIGINALS_PATH", ""),
			ThumbnailsPath: getConfigValue(*thumbnailsPath, "THUMBNAILS_PATH", ""),
			DatabasePath:   getConfigValue(*databasePath, "DATABASE_PATH", ""),
		},
		Upload: UploadConfig{
			MaxUploadBytes:   getInt64ConfigValue(*maxUploadBytes, "MAX_UPLOAD_BYTES", 10<<20),
			AllowedMimeTypes: getListConfigValue(*allowedMimeTypes, "ALLOWED_MIME_TYPES", defaultMimeTypes),
			RateLimitPerMin:  getIntConfigValue(*uploadRateLimit, "UPLOAD_RATE_LIMIT", 30),
		},
		Thumbnail: ThumbnailConfig{
			MaxWidth:  getIntConfigValue(*thumbMaxWidth, "THUMB_MAX_WIDTH", 256),
			MaxHeight: getIntConfigValue(*thumbMaxHeight, "THUMB_MAX_HEIGHT", 256),
			Quality:   getIntConfigValue(*thumbQuality, "THUMB_QUALITY", 85),
		},
		Server: ServerConfig{
			Port:        getConfigValue(*serverPort, "SERVER_PORT", "8080"),
			CORSOrigins: getListConfigValue(*corsOrigins, "BACKEND_CORS_ORIGINS", []string{"*"}),
		},
	}

	// Parse server timeouts.
	readTimeoutStr := getConfigValue(*readTimeout, "SERVER_READ_TIMEOUT", "15s")
	readTimeoutDuration, err := time.ParseDuration(readTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid read timeout %q: %w", readTimeoutStr, err)
	}
	cfg.Server.ReadTimeout = readTimeoutDuration

	writeTimeoutStr := getConfigValue(*writeTimeout, "SERVER_WRITE_TIMEOUT", "60s")
	writeTimeoutDuration, err := time.ParseDuration(writeTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid write timeout %q: %w", writeTimeoutStr, err)
	}
	cfg.Server.WriteTimeout = writeTimeoutDuration

	idleTimeoutStr := getConfigValue(*idleTimeout, "SERVER_IDLE_TIMEOUT", "60s")
	idleTimeoutDuration, err := time.ParseDuration(idleTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid idle timeout %q: %w", idleTimeoutStr, err)
	}
	cfg.Server.IdleTimeout = idleTimeoutDuration

	// Expand and validate storage paths.
	if err := cfg.expandStoragePaths(); err != nil {
		return nil, fmt.Errorf("invalid storage path: %w", err)
	}

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Storage.DataPath == "" {
		return errors.New("data path cannot be empty after expansion")
	}
	if c.Upload.MaxUploadBytes <= 0 {
		return errors.New("max upload bytes must be positive")
	}
	if len(c.Upload.AllowedMimeTypes) == 0 {
		return errors.New("allowed MIME types cannot be empty")
	}
	if c.Thumbnail.MaxWidth <= 0 || c.Thumbnail.MaxHeight <= 0 {
		return errors.New("thumbnail bounds must be positive")
	}
	if c.Thumbnail.Quality < 1 || c.Thumbnail.Quality > 100 {
		return errors.New("thumbnail quality must be between 1 and 100")
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	// Expand tilde.
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Make absolute if needed.
	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandStoragePaths expands the base data path and derives the blob
// roots and database path beneath it when they were not set explicitly.
func (c *Config) expandStoragePaths() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultData := filepath.Join(homeDir, "PicDex", "data")

	expanded, err := expandPath(c.Storage.DataPath, defaultData)
	if err != nil {
		return err
	}
	c.Storage.DataPath = expanded

	c.Storage.OriginalsPath, err = expandPath(c.Storage.OriginalsPath,
		filepath.Join(c.Storage.DataPath, "uploads", "originals"))
	if err != nil {
		return err
	}
	c.Storage.ThumbnailsPath, err = expandPath(c.Storage.ThumbnailsPath,
		filepath.Join(c.Storage.DataPath, "uploads", "thumbnails"))
	if err != nil {
		return err
	}
	c.Storage.DatabasePath, err = expandPath(c.Storage.DatabasePath,
		filepath.Join(c.Storage.DataPath, "picdex.db"))
	if err != nil {
		return err
	}
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// getInt64ConfigValue returns an int64 from flag, env var, or default.
func getInt64ConfigValue(flagValue, envKey string, defaultValue int64) int64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int64
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// getListConfigValue returns a comma-separated list from flag, env var,
// or default. Entries are trimmed; empty entries are dropped.
func getListConfigValue(flagValue, envKey string, defaultValue []string) []string {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(strValue, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=value.
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present.
		value = strings.Trim(value, `"'`)

		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
