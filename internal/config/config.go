package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"docscan/internal/logger"
)

type Config struct {
	// OCR provider configuration
	OCRProvider        string
	OCRAPIURL          string
	OCREngine          string
	OCRDefaultLanguage string
	OCRTimeout         time.Duration
	OCRRatePerMinute   int

	// API key pool configuration
	KeyConfigPath string
	KeySelection  string
	KeyStore      string
	KeyDBPath     string

	// Page rendering configuration
	MaxPDFPages       int
	MaxImageDimension int
	JPEGQuality       int
	PDFRenderScale    float64
	PdftoppmPath      string
	PdfinfoPath       string

	// Batch recognition
	BatchWorkers int

	// Storage directories
	UploadDir string
	TextDir   string
	MetaDir   string
	TempDir   string

	// Result storage
	ResultStore  string
	ResultDBPath string

	// HTTP service configuration
	HTTPAddr       string
	AllowedOrigins string

	// Temp cleanup configuration
	CleanupSchedule string
	CleanupMaxAge   time.Duration

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		OCRProvider:        getEnv("OCR_PROVIDER", "ocrspace"),
		OCRAPIURL:          getEnv("OCR_API_URL", "https://api.ocr.space/parse/image"),
		OCREngine:          getEnv("OCR_ENGINE", "2"),
		OCRDefaultLanguage: getEnv("OCR_DEFAULT_LANGUAGE", "ger"),
		OCRTimeout:         getEnvDuration("OCR_TIMEOUT", 20*time.Second),
		OCRRatePerMinute:   getEnvInt("OCR_RATE_PER_MINUTE", 30),
		KeyConfigPath:      getEnv("OCR_KEY_CONFIG", "config/ocr_config.json"),
		KeySelection:       getEnv("OCR_KEY_SELECTION", "roundrobin"),
		KeyStore:           getEnv("OCR_KEY_STORE", "file"),
		KeyDBPath:          getEnv("OCR_KEY_DB", "data/keys.db"),
		MaxPDFPages:        getEnvInt("MAX_PDF_PAGES", 3),
		MaxImageDimension:  getEnvInt("MAX_IMAGE_DIMENSION", 2000),
		JPEGQuality:        getEnvInt("JPEG_QUALITY", 90),
		PDFRenderScale:     getEnvFloat("PDF_RENDER_SCALE", 1.5),
		PdftoppmPath:       getEnv("PDFTOPPM_PATH", "pdftoppm"),
		PdfinfoPath:        getEnv("PDFINFO_PATH", "pdfinfo"),
		BatchWorkers:       getEnvInt("BATCH_WORKERS", 4),
		UploadDir:          getEnv("UPLOAD_DIR", "uploads"),
		TextDir:            getEnv("TEXT_DIR", "texts"),
		MetaDir:            getEnv("META_DIR", "meta"),
		TempDir:            getEnv("TEMP_DIR", "temp"),
		ResultStore:        getEnv("RESULT_STORE", "file"),
		ResultDBPath:       getEnv("RESULT_DB", "data/texts.db"),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		AllowedOrigins:     getEnv("ALLOWED_ORIGINS", "*"),
		CleanupSchedule:    getEnv("CLEANUP_SCHEDULE", "0 3 * * *"),
		CleanupMaxAge:      getEnvDuration("CLEANUP_MAX_AGE", 24*time.Hour),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:      getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:          getEnv("LOG_OUTPUT", "stderr"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.OCRProvider {
	case "ocrspace", "vision":
	default:
		return fmt.Errorf("OCR_PROVIDER must be 'ocrspace' or 'vision', got %q", c.OCRProvider)
	}
	switch c.KeySelection {
	case "roundrobin", "random":
	default:
		return fmt.Errorf("OCR_KEY_SELECTION must be 'roundrobin' or 'random', got %q", c.KeySelection)
	}
	switch c.KeyStore {
	case "file", "sqlite":
	default:
		return fmt.Errorf("OCR_KEY_STORE must be 'file' or 'sqlite', got %q", c.KeyStore)
	}
	switch c.ResultStore {
	case "file", "sqlite":
	default:
		return fmt.Errorf("RESULT_STORE must be 'file' or 'sqlite', got %q", c.ResultStore)
	}
	if c.KeyConfigPath == "" {
		return fmt.Errorf("OCR_KEY_CONFIG is required")
	}
	if c.MaxPDFPages < 1 {
		return fmt.Errorf("MAX_PDF_PAGES must be at least 1, got %d", c.MaxPDFPages)
	}
	if c.MaxImageDimension < 1 {
		return fmt.Errorf("MAX_IMAGE_DIMENSION must be positive, got %d", c.MaxImageDimension)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be between 1 and 100, got %d", c.JPEGQuality)
	}
	if c.PDFRenderScale <= 0 {
		return fmt.Errorf("PDF_RENDER_SCALE must be positive, got %v", c.PDFRenderScale)
	}
	if c.OCRTimeout <= 0 {
		return fmt.Errorf("OCR_TIMEOUT must be positive, got %v", c.OCRTimeout)
	}
	if c.BatchWorkers < 1 {
		return fmt.Errorf("BATCH_WORKERS must be at least 1, got %d", c.BatchWorkers)
	}
	if c.OCRRatePerMinute < 0 {
		return fmt.Errorf("OCR_RATE_PER_MINUTE must not be negative, got %d", c.OCRRatePerMinute)
	}
	return nil
}

// AllowedOriginList splits ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOriginList() []string {
	var origins []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
