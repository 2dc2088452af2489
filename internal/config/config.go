package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	units "github.com/docker/go-units"
)

// Settings holds the application configuration, loaded from the environment.
type Settings struct {
	// Server
	Host string
	Port int

	// Providers
	OpenAIAPIKey string

	// Vector store
	ChromaPersistDir string

	// File processing
	MaxFileSize     int64
	MaxFilesPerRepo int

	SupportedExtensions []string
	ExcludedDirs        []string

	// Chunking
	ChunkSize    int
	ChunkOverlap int

	// RAG
	MaxContextChunks    int
	SimilarityThreshold float64

	// Cache
	CacheDir string
}

// DefaultSupportedExtensions is the file extension allow-list used when
// GITSLEUTH_EXTENSIONS is not set.
var DefaultSupportedExtensions = []string{
	".py", ".js", ".ts", ".jsx", ".tsx", ".java", ".go", ".rs",
	".cpp", ".c", ".h", ".hpp", ".cs", ".php", ".rb", ".swift",
	".md", ".txt", ".yml", ".yaml", ".json", ".xml", ".sql",
}

// DefaultExcludedDirs are directory names skipped during the repository walk.
var DefaultExcludedDirs = []string{
	"node_modules", ".git", "dist", "build", "__pycache__",
	".pytest_cache", ".venv", "venv", "env", ".env",
	"target", "bin", "obj", ".vs", ".idea", ".vscode",
}

// Load reads settings from the environment, applying defaults for anything
// unset. Invalid values are logged and replaced by the default.
func Load() *Settings {
	return &Settings{
		Host:                getEnvOrDefault("GITSLEUTH_HOST", "0.0.0.0"),
		Port:                getEnvInt("GITSLEUTH_PORT", 8000),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		ChromaPersistDir:    getEnvOrDefault("GITSLEUTH_CHROMA_DIR", "./chroma_db"),
		MaxFileSize:         getEnvSize("GITSLEUTH_MAX_FILE_SIZE", 1000000),
		MaxFilesPerRepo:     getEnvInt("GITSLEUTH_MAX_FILES", 1000),
		SupportedExtensions: getEnvList("GITSLEUTH_EXTENSIONS", DefaultSupportedExtensions),
		ExcludedDirs:        getEnvList("GITSLEUTH_EXCLUDED_DIRS", DefaultExcludedDirs),
		ChunkSize:           getEnvInt("GITSLEUTH_CHUNK_SIZE", 1000),
		ChunkOverlap:        getEnvInt("GITSLEUTH_CHUNK_OVERLAP", 200),
		MaxContextChunks:    getEnvInt("GITSLEUTH_MAX_CONTEXT_CHUNKS", 12),
		SimilarityThreshold: getEnvFloat("GITSLEUTH_SIMILARITY_THRESHOLD", 0.15),
		CacheDir:            getEnvOrDefault("GITSLEUTH_CACHE_DIR", "./cache"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("⚠️  Invalid %s value '%s', using default %d: %v", key, raw, defaultValue, err)
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("⚠️  Invalid %s value '%s', using default %v: %v", key, raw, defaultValue, err)
		return defaultValue
	}
	return v
}

// getEnvSize parses human-readable byte sizes ("1MB", "500KB").
func getEnvSize(key string, defaultValue int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := units.FromHumanSize(raw)
	if err != nil {
		log.Printf("⚠️  Invalid %s value '%s', using default %d: %v", key, raw, defaultValue, err)
		return defaultValue
	}
	return v
}

func getEnvList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
