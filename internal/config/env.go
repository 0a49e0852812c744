package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	AIAPIKey     string
	EmbedModel   string
	EmbedDim     int
	GenModel     string
	JWTSecret    string
	Port         string

	// Pipeline knobs.
	ChunkTokens    int
	OverlapTokens  int
	UpsertBatch    int
	IngestWorkers  int
	DocTopK        int
	SourceTopK     int
	MaxSessions    int
	MinTextLen     int
}

// LoadConfig loads the environment variables and returns config.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "docbot-docs"),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:     getEnvInt("EMBED_DIM", 768),
		GenModel:     getEnv("GEN_MODEL", "gemini-1.5-flash"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		Port:         getEnv("PORT", "8080"),

		ChunkTokens:   getEnvInt("CHUNK_TOKENS", 500),
		OverlapTokens: getEnvInt("OVERLAP_TOKENS", 50),
		UpsertBatch:   getEnvInt("UPSERT_BATCH", 100),
		IngestWorkers: getEnvInt("INGEST_WORKERS", 4),
		DocTopK:       getEnvInt("DOC_TOP_K", 3),
		SourceTopK:    getEnvInt("SOURCE_TOP_K", 3),
		MaxSessions:   getEnvInt("MAX_SESSIONS", 256),
		MinTextLen:    getEnvInt("MIN_TEXT_LEN", 20),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}
