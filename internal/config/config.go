package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

type Config struct {
	Media    MediaConfig
	Models   ModelsConfig
	Pipeline PipelineConfig
	Database DatabaseConfig
	Web      WebConfig
}

type MediaConfig struct {
	Dir string // root directory of the media library
}

type ModelsConfig struct {
	URL      string               `yaml:"-"`      // base URL of the inference sidecar (e.g. http://localhost:8000)
	Registry map[string]ModelSpec `yaml:"models"` // per-model input contracts, embedded defaults
}

// ModelSpec describes the input/output contract of one served model.
type ModelSpec struct {
	InputSize     int    `yaml:"input_size"`    // square input resolution in pixels
	Dim           int    `yaml:"dim"`           // output vector length (0 = raw tensor output)
	Normalization string `yaml:"normalization"` // "imagenet" or "raw"
	Anchors       int    `yaml:"anchors"`       // detection anchor count (detector models only)
}

type PipelineConfig struct {
	ChunkSize  int // paths per chunk (default 500)
	QueueDepth int // bounded channel capacity between stages (default 3)
	Workers    int // parallel decode/preprocess workers (0 = GOMAXPROCS)
}

type DatabaseConfig struct {
	URL                    string // PostgreSQL connection URL
	MaxOpenConns           int    // Maximum open connections (default 25)
	MaxIdleConns           int    // Maximum idle connections (default 5)
	HNSWEmbeddingIndexPath string // Path to persist the embedding HNSW index (optional)
}

type WebConfig struct {
	Host string
	Port int
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envOr reads an environment variable with a default fallback.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func Load() *Config {
	var models ModelsConfig
	if err := yaml.Unmarshal(modelsYAML, &models); err != nil {
		// Embedded file, so this can only fail on a bad commit
		panic("failed to unmarshal embedded models.yaml: " + err.Error())
	}
	models.URL = os.Getenv("MODELS_URL")

	return &Config{
		Media: MediaConfig{
			Dir: os.Getenv("MEDIA_DIR"),
		},
		Models: models,
		Pipeline: PipelineConfig{
			ChunkSize:  envInt("CHUNK_SIZE", 500),
			QueueDepth: envInt("PIPELINE_QUEUE_DEPTH", 3),
			Workers:    envInt("PREPROCESS_WORKERS", 0),
		},
		Database: DatabaseConfig{
			URL:                    os.Getenv("DATABASE_URL"),
			MaxOpenConns:           envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:           envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWEmbeddingIndexPath: os.Getenv("HNSW_EMBEDDING_INDEX_PATH"),
		},
		Web: WebConfig{
			Host: envOr("WEB_HOST", "0.0.0.0"),
			Port: envInt("WEB_PORT", 8080),
		},
	}
}

// Model returns the registered spec for a model name, with a zero value
// fallback for unknown names.
func (c *ModelsConfig) Model(name string) ModelSpec {
	if spec, ok := c.Registry[name]; ok {
		return spec
	}
	return ModelSpec{}
}
