package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Load reads the .env file specified by NEXUS_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("NEXUS_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

// floatEnv parses a float env var, clamping to [min,max]. Parse failures
// fall back to the default with a warning.
func floatEnv(key string, def, min, max float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		zap.L().Warn("invalid float env var, using default",
			zap.String("key", key), zap.String("value", raw), zap.Float64("default", def))
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func intEnv(key string, def, min, max int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		zap.L().Warn("invalid int env var, using default",
			zap.String("key", key), zap.String("value", raw), zap.Int("default", def))
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func boolEnv(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		zap.L().Warn("invalid bool env var, using default",
			zap.String("key", key), zap.String("value", raw), zap.Bool("default", def))
		return def
	}
	return v
}

func ServerPort() int {
	return intEnv("SERVER_PORT", 8080, 1, 65535)
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string { return os.Getenv("DATABASE_URL") }

func RedisURL() string {
	if v := os.Getenv("REDIS_URL"); v != "" {
		return v
	}
	return "redis://localhost:6379/0"
}

func QdrantURL() string {
	if v := os.Getenv("QDRANT_URL"); v != "" {
		return v
	}
	return "http://localhost:6333"
}

func QdrantAPIKey() string { return os.Getenv("QDRANT_API_KEY") }

func Neo4jURI() string {
	if v := os.Getenv("NEO4J_URI"); v != "" {
		return v
	}
	return "bolt://localhost:7687"
}

func Neo4jUser() string {
	if v := os.Getenv("NEO4J_USER"); v != "" {
		return v
	}
	return "neo4j"
}

func Neo4jPassword() string { return os.Getenv("NEO4J_PASSWORD") }

// VoyageAPIKey returns the embedder credential. Voyage keys start with
// "pa-"; a malformed key fails fast at boot.
func VoyageAPIKey() (string, error) {
	key := os.Getenv("VOYAGE_API_KEY")
	if key == "" {
		return "", fmt.Errorf("VOYAGE_API_KEY is required")
	}
	if !strings.HasPrefix(key, "pa-") {
		return "", fmt.Errorf("VOYAGE_API_KEY is malformed: expected pa- prefix")
	}
	return key, nil
}

func OpenRouterAPIKey() string { return os.Getenv("OPENROUTER_API_KEY") }

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

// RateLimitRPS returns requests per second limit. Defaults to 100.
func RateLimitRPS() float64 {
	return floatEnv("RATE_LIMIT_RPS", 100, 1, 100000)
}

// RateLimitBurst returns the burst size for rate limiting. Defaults to 20.
func RateLimitBurst() int {
	return intEnv("RATE_LIMIT_BURST", 20, 1, 100000)
}

// Extraction and classification knobs.

func EntityMinConfidence() float64  { return floatEnv("ENTITY_MIN_CONFIDENCE", 0.5, 0, 1) }
func EntityMinNameLength() int      { return intEnv("ENTITY_MIN_NAME_LENGTH", 2, 1, 100) }
func MaxEntitiesPerEpisode() int    { return intEnv("MAX_ENTITIES_PER_EPISODE", 20, 1, 200) }
func MaxEntitiesPerQuery() int      { return intEnv("MAX_ENTITIES_PER_QUERY", 50, 1, 200) }
func LLMEntityExtraction() bool     { return boolEnv("ENABLE_LLM_ENTITY_EXTRACTION", true) }
func RegexEntityFallback() bool     { return boolEnv("ENABLE_REGEX_ENTITY_FALLBACK", true) }
func FactMinConfidence() float64    { return floatEnv("FACT_MIN_CONFIDENCE", 0.6, 0, 1) }
func MaxFactsPerEpisode() int       { return intEnv("MAX_FACTS_PER_EPISODE", 10, 1, 100) }
func FactMinObjectLength() int      { return intEnv("FACT_MIN_OBJECT_LENGTH", 5, 1, 1000) }
func FactMaxObjectLength() int      { return intEnv("FACT_MAX_OBJECT_LENGTH", 100, 1, 1000) }
func ClassificationHigh() float64   { return floatEnv("CLASSIFICATION_HIGH_CONFIDENCE", 0.95, 0, 1) }
func ClassificationMedium() float64 { return floatEnv("CLASSIFICATION_MEDIUM_CONFIDENCE", 0.7, 0, 1) }
func ClassificationBase() float64   { return floatEnv("CLASSIFICATION_BASE_CONFIDENCE", 0.6, 0, 1) }
func ClassificationMinSalience() float64 {
	return floatEnv("CLASSIFICATION_MIN_SALIENCE", 0.1, 0, 1)
}
func SemanticClassification() bool { return boolEnv("ENABLE_SEMANTIC_CLASSIFICATION", true) }

// Recall tuning. Thresholds are empirical; keep them configurable.

func EpisodicScoreThreshold() float64 { return floatEnv("EPISODIC_SCORE_THRESHOLD", 0.5, 0, 1) }
func UnifiedScoreThreshold() float64  { return floatEnv("UNIFIED_SCORE_THRESHOLD", 0.15, 0, 1) }
func RerankShortlistMax() int         { return intEnv("RERANK_SHORTLIST_MAX", 30, 1, 200) }
func ResolverEntityWindow() int       { return intEnv("RESOLVER_ENTITY_WINDOW", 500, 1, 5000) }

// LegacyCompanyReads gates the backward-compat company-id allow-list on
// reads. On by default.
func LegacyCompanyReads() bool { return boolEnv("LEGACY_COMPANY_READS", true) }

// EmbeddingCacheTTLHours is the TTL for cached embedding vectors.
func EmbeddingCacheTTLHours() int { return intEnv("EMBEDDING_CACHE_TTL_HOURS", 24, 1, 24*30) }

// ConsolidationIntervalMinutes is the background sweep cadence.
func ConsolidationIntervalMinutes() int {
	return intEnv("CONSOLIDATION_INTERVAL_MINUTES", 60, 1, 24*60)
}
