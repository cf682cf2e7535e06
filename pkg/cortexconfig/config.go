// Package cortexconfig loads Client configuration from environment
// variables or a JSON file, following the same .env-discovery and
// provider-switch pattern used throughout this codebase.
package cortexconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// ErrInvalidConfig indicates a required configuration field is missing.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete configuration for a Client.
type Config struct {
	Storage     StorageConfig     `json:"storage"`
	Embedder    EmbedderConfig    `json:"embedder"`
	LLM         LLMConfig         `json:"llm"`
	Attribution AttributionConfig `json:"attribution"`
	Pricing     PricingConfig     `json:"pricing"`
}

// StorageConfig selects and configures a storage.Store backend.
type StorageConfig struct {
	// Provider is one of "sqlite", "postgres", "oceanbase".
	Provider string                 `json:"provider"`
	Config   map[string]interface{} `json:"config"`
}

// EmbedderConfig configures the embedder.Embedder adapter.
type EmbedderConfig struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url,omitempty"`
}

// LLMConfig configures the llm.Provider / llm.LogProbOracle adapter.
type LLMConfig struct {
	Provider        string `json:"provider"`
	APIKey          string `json:"api_key"`
	Model           string `json:"model"`
	CompletionModel string `json:"completion_model,omitempty"`
	BaseURL         string `json:"base_url,omitempty"`
}

// AttributionConfig holds the recognized attribution-engine options
// (§6 Configuration).
type AttributionConfig struct {
	ContextCiteNumSamples    int     `json:"contextcite_num_samples"`
	ContextCiteLassoLambda   float64 `json:"contextcite_lasso_lambda"`
	ContextCiteMinConfidence float64 `json:"contextcite_min_confidence"`
	// ContextCiteSampleRate is the fraction of production transactions
	// that fall back to ContextCite when the caller doesn't request a
	// method explicitly (§9: "ContextCite is run on ~1% (low-confidence,
	// debug)"). EAS is the default path for the rest.
	ContextCiteSampleRate float64 `json:"contextcite_sample_rate"`
	ShapleyMaxExactK      int     `json:"shapley_max_exact_k"`
	ShapleyMCSamples      int     `json:"shapley_mc_samples"`
	TransactionTTLHours   int     `json:"transaction_ttl_hours"`
}

// PricingConfig holds the retrieval/pricing defaults §6 names, used
// as the fallback when no AgentCostConfig is stored for an agent.
type PricingConfig struct {
	InputTokenCost         float64 `json:"input_token_cost"`
	OutputTokenCost        float64 `json:"output_token_cost"`
	QueriesPerDay          float64 `json:"queries_per_day"`
	RedundancySimThreshold float64 `json:"redundancy_similarity_threshold"`
	CoRetrievalRate        float64 `json:"co_retrieval_rate"`
	StalenessWindowDays    int     `json:"staleness_window_days"`
}

// LoadConfigFromEnv loads configuration from environment variables,
// after locating and loading a .env file via FindEnvFile.
//
// Supported environment variables:
//   - STORAGE_PROVIDER (sqlite, postgres, oceanbase)
//   - SQLITE_PATH
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_DATABASE, POSTGRES_SSLMODE
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD, OCEANBASE_DATABASE
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_COMPLETION_MODEL, LLM_BASE_URL
//   - CONTEXTCITE_NUM_SAMPLES, CONTEXTCITE_LASSO_LAMBDA, CONTEXTCITE_MIN_CONFIDENCE, CONTEXTCITE_SAMPLE_RATE
//   - SHAPLEY_MAX_EXACT_K, SHAPLEY_MC_SAMPLES
//   - TRANSACTION_TTL_HOURS
//   - INPUT_TOKEN_COST, OUTPUT_TOKEN_COST, QUERIES_PER_DAY
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("STORAGE_PROVIDER", "sqlite")
	storageConfig := make(map[string]interface{})

	switch provider {
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		storageConfig = map[string]interface{}{
			"host":     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":     port,
			"user":     getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password": os.Getenv("POSTGRES_PASSWORD"),
			"db_name":  getEnvOrDefault("POSTGRES_DATABASE", "cortex"),
			"ssl_mode": getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "oceanbase":
		port, _ := strconv.Atoi(getEnvOrDefault("OCEANBASE_PORT", "2881"))
		storageConfig = map[string]interface{}{
			"host":     getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			"port":     port,
			"user":     getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			"password": os.Getenv("OCEANBASE_PASSWORD"),
			"db_name":  getEnvOrDefault("OCEANBASE_DATABASE", "cortex"),
		}
	default:
		storageConfig = map[string]interface{}{
			"db_path": getEnvOrDefault("SQLITE_PATH", "./cortex.db"),
		}
	}

	numSamples, _ := strconv.Atoi(getEnvOrDefault("CONTEXTCITE_NUM_SAMPLES", "64"))
	lassoLambda, _ := strconv.ParseFloat(getEnvOrDefault("CONTEXTCITE_LASSO_LAMBDA", "0.1"), 64)
	minConfidence, _ := strconv.ParseFloat(getEnvOrDefault("CONTEXTCITE_MIN_CONFIDENCE", "0.8"), 64)
	sampleRate, _ := strconv.ParseFloat(getEnvOrDefault("CONTEXTCITE_SAMPLE_RATE", "0.01"), 64)
	maxExactK, _ := strconv.Atoi(getEnvOrDefault("SHAPLEY_MAX_EXACT_K", "15"))
	mcSamples, _ := strconv.Atoi(getEnvOrDefault("SHAPLEY_MC_SAMPLES", "100"))
	ttlHours, _ := strconv.Atoi(getEnvOrDefault("TRANSACTION_TTL_HOURS", "24"))

	inputCost, _ := strconv.ParseFloat(getEnvOrDefault("INPUT_TOKEN_COST", "0.0000015"), 64)
	outputCost, _ := strconv.ParseFloat(getEnvOrDefault("OUTPUT_TOKEN_COST", "0.000002"), 64)
	queriesPerDay, _ := strconv.ParseFloat(getEnvOrDefault("QUERIES_PER_DAY", "10"), 64)
	redundancyThreshold, _ := strconv.ParseFloat(getEnvOrDefault("REDUNDANCY_SIMILARITY_THRESHOLD", "0.92"), 64)
	coRetrievalRate, _ := strconv.ParseFloat(getEnvOrDefault("CO_RETRIEVAL_RATE", "0.3"), 64)
	stalenessWindow, _ := strconv.Atoi(getEnvOrDefault("STALENESS_WINDOW_DAYS", "90"))

	cfg := &Config{
		Storage: StorageConfig{Provider: provider, Config: storageConfig},
		Embedder: EmbedderConfig{
			Provider: getEnvOrDefault("EMBEDDING_PROVIDER", "openai"),
			APIKey:   os.Getenv("EMBEDDING_API_KEY"),
			Model:    getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
			BaseURL:  os.Getenv("EMBEDDING_BASE_URL"),
		},
		LLM: LLMConfig{
			Provider:        getEnvOrDefault("LLM_PROVIDER", "openai"),
			APIKey:          os.Getenv("LLM_API_KEY"),
			Model:           getEnvOrDefault("LLM_MODEL", "gpt-4"),
			CompletionModel: getEnvOrDefault("LLM_COMPLETION_MODEL", "gpt-3.5-turbo-instruct"),
			BaseURL:         os.Getenv("LLM_BASE_URL"),
		},
		Attribution: AttributionConfig{
			ContextCiteNumSamples:    numSamples,
			ContextCiteLassoLambda:   lassoLambda,
			ContextCiteMinConfidence: minConfidence,
			ContextCiteSampleRate:    sampleRate,
			ShapleyMaxExactK:         maxExactK,
			ShapleyMCSamples:         mcSamples,
			TransactionTTLHours:      ttlHours,
		},
		Pricing: PricingConfig{
			InputTokenCost:         inputCost,
			OutputTokenCost:        outputCost,
			QueriesPerDay:          queriesPerDay,
			RedundancySimThreshold: redundancyThreshold,
			CoRetrievalRate:        coRetrievalRate,
			StalenessWindowDays:    stalenessWindow,
		},
	}
	return cfg, nil
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cortexconfig.LoadConfigFromJSON: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cortexconfig.LoadConfigFromJSON: %w", err)
	}
	return &cfg, nil
}

// Validate checks that every required provider field is set.
func (c *Config) Validate() error {
	if c.Storage.Provider == "" {
		return fmt.Errorf("cortexconfig.Validate: storage: %w", ErrInvalidConfig)
	}
	if c.Embedder.Provider == "" {
		return fmt.Errorf("cortexconfig.Validate: embedder: %w", ErrInvalidConfig)
	}
	if c.LLM.Provider == "" {
		return fmt.Errorf("cortexconfig.Validate: llm: %w", ErrInvalidConfig)
	}
	if c.Attribution.ContextCiteNumSamples != 0 && c.Attribution.ContextCiteNumSamples < 2 {
		return fmt.Errorf("cortexconfig.Validate: attribution: contextcite_num_samples must be 0 (default) or >= 2, got %d: %w", c.Attribution.ContextCiteNumSamples, ErrInvalidConfig)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// FindEnvFile searches the current directory, then up to four parent
// directories, for a .env or .env.example file.
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")
		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}
