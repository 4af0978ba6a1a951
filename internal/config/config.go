package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	BlobDir   string `toml:"blob_dir"`
	UploadDir string `toml:"upload_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// Pipeline contains worker pool and lease timing.
type Pipeline struct {
	Workers                  int `toml:"workers"`
	MaxAttempts              int `toml:"max_attempts"`
	StageTimeoutSeconds      int `toml:"stage_timeout_seconds"`
	LeaseTimeoutSeconds      int `toml:"lease_timeout_seconds"`
	PollIntervalSeconds      int `toml:"poll_interval_seconds"`
	PollJitterMillis         int `toml:"poll_jitter_millis"`
	HeartbeatIntervalSeconds int `toml:"heartbeat_interval_seconds"`
	ReclaimIntervalSeconds   int `toml:"reclaim_interval_seconds"`
	MaxUploadMiB             int `toml:"max_upload_mib"`
}

// Backoff shapes the delay between transient retries of one stage.
type Backoff struct {
	InitialSeconds float64 `toml:"initial_seconds"`
	Multiplier     float64 `toml:"multiplier"`
	MaxSeconds     float64 `toml:"max_seconds"`
	Randomization  float64 `toml:"randomization"`
}

// Blob selects the content-addressed audio store.
type Blob struct {
	Backend   string `toml:"backend"`
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Anonymizer configures voice anonymization.
type Anonymizer struct {
	Backend          string `toml:"backend"`
	FFmpegBinary     string `toml:"ffmpeg_binary"`
	FFprobeBinary    string `toml:"ffprobe_binary"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	DefaultPreset    string `toml:"default_preset"`
	AllowPassthrough bool   `toml:"allow_passthrough"`
}

// Transcription configures the speech-to-text capability and its circuit breaker.
type Transcription struct {
	Backend                string `toml:"backend"`
	APIKey                 string `toml:"api_key"`
	BaseURL                string `toml:"base_url"`
	Model                  string `toml:"model"`
	TimeoutSeconds         int    `toml:"timeout_seconds"`
	BreakerThreshold       int    `toml:"breaker_threshold"`
	BreakerCooldownSeconds int    `toml:"breaker_cooldown_seconds"`
	WhisperXModel          string `toml:"whisperx_model"`
	WhisperXCUDA           bool   `toml:"whisperx_cuda"`
}

// Analysis configures summarization and sentiment classification.
type Analysis struct {
	Backend        string `toml:"backend"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Sink selects where finished annotations are published.
type Sink struct {
	Backend     string `toml:"backend"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// Retention controls how long post audio stays playable.
type Retention struct {
	AudioRetentionDays   int `toml:"audio_retention_days"`
	SweepIntervalMinutes int `toml:"sweep_interval_minutes"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	DeadJobs       bool   `toml:"dead_jobs"`
	Breaker        bool   `toml:"breaker"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for ventpipe.
//
// Configuration sections by subsystem:
//   - Paths: data, log, blob and upload directories plus the API bind address
//   - Pipeline: worker count, attempts, lease and polling timing
//   - Backoff: retry delay curve for transient failures
//   - Blob: filesystem or MinIO audio storage
//   - Anonymizer, Transcription, Analysis: capability backends
//   - Sink: where ready/failed results are published
//   - Retention: audio expiry for posts
//   - Notifications: ntfy operator alerts
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Backoff       Backoff       `toml:"backoff"`
	Blob          Blob          `toml:"blob"`
	Anonymizer    Anonymizer    `toml:"anonymizer"`
	Transcription Transcription `toml:"transcription"`
	Analysis      Analysis      `toml:"analysis"`
	Sink          Sink          `toml:"sink"`
	Retention     Retention     `toml:"retention"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/ventpipe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnvironment(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("ventpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.UploadDir}
	if c.Blob.Backend == BlobBackendFilesystem {
		dirs = append(dirs, c.Paths.BlobDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath is the SQLite file holding job records.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "jobs.db")
}

// SubmissionsDBPath is the SQLite file holding the local submission records.
func (c *Config) SubmissionsDBPath() string {
	return filepath.Join(c.Paths.DataDir, "submissions.db")
}

// LockPath is the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "ventpipe.lock")
}

// StageTimeout bounds a single capability call.
func (p Pipeline) StageTimeout() time.Duration {
	return time.Duration(p.StageTimeoutSeconds) * time.Second
}

// LeaseTimeout is how long a worker may hold a job without heartbeating.
func (p Pipeline) LeaseTimeout() time.Duration {
	return time.Duration(p.LeaseTimeoutSeconds) * time.Second
}

// PollInterval is the idle wait between empty lease attempts.
func (p Pipeline) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSeconds) * time.Second
}

// PollJitter is the standard deviation applied to the idle wait.
func (p Pipeline) PollJitter() time.Duration {
	return time.Duration(p.PollJitterMillis) * time.Millisecond
}

// HeartbeatInterval is how often an active worker extends its lease.
func (p Pipeline) HeartbeatInterval() time.Duration {
	return time.Duration(p.HeartbeatIntervalSeconds) * time.Second
}

// ReclaimInterval is how often expired leases are swept.
func (p Pipeline) ReclaimInterval() time.Duration {
	return time.Duration(p.ReclaimIntervalSeconds) * time.Second
}

// MaxUploadBytes caps the raw audio accepted by the store stage.
func (p Pipeline) MaxUploadBytes() int64 {
	return int64(p.MaxUploadMiB) << 20
}

// Timeout returns the per-call anonymizer timeout.
func (a Anonymizer) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// Timeout returns the per-call transcription timeout.
func (t Transcription) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// BreakerCooldown is how long the circuit stays open after tripping.
func (t Transcription) BreakerCooldown() time.Duration {
	return time.Duration(t.BreakerCooldownSeconds) * time.Second
}

// Timeout returns the per-call analysis timeout.
func (a Analysis) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// AudioRetention is the playable lifetime of post audio.
func (r Retention) AudioRetention() time.Duration {
	return time.Duration(r.AudioRetentionDays) * 24 * time.Hour
}

// SweepInterval is how often expired audio is cleaned up.
func (r Retention) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalMinutes) * time.Minute
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
