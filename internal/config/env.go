package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DotEnvPath is the optional file read before environment lookups.
var DotEnvPath = ".env"

type secrets struct {
	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	LLMAPIKey      string `envconfig:"LLM_API_KEY"`
	MinioAccessKey string `envconfig:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `envconfig:"MINIO_SECRET_KEY"`
	PostgresDSN    string `envconfig:"VENTPIPE_POSTGRES_DSN"`
	NtfyTopic      string `envconfig:"VENTPIPE_NTFY_TOPIC"`
	APIToken       string `envconfig:"VENTPIPE_API_TOKEN"`
}

// applyEnvironment fills credentials the TOML file left empty. Values already
// exported in the process environment win over the .env file.
func (c *Config) applyEnvironment() error {
	if err := godotenv.Load(DotEnvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", DotEnvPath, err)
	}

	var env secrets
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	fill(&c.Transcription.APIKey, env.GeminiAPIKey)
	if strings.EqualFold(strings.TrimSpace(c.Analysis.Backend), AnalysisBackendLLM) {
		fill(&c.Analysis.APIKey, env.LLMAPIKey)
	}
	fill(&c.Blob.AccessKey, env.MinioAccessKey)
	fill(&c.Blob.SecretKey, env.MinioSecretKey)
	fill(&c.Sink.PostgresDSN, env.PostgresDSN)
	fill(&c.Notifications.NtfyTopic, env.NtfyTopic)
	fill(&c.Paths.APIToken, env.APIToken)
	return nil
}

func fill(target *string, value string) {
	if strings.TrimSpace(*target) == "" && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}
