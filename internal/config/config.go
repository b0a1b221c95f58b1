// Package config provides the configuration structure for the higgs-tts front-ends.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/higgs-tts/internal/fsutil"
)

// EnvRoot names the environment variable that overrides the installation root.
const EnvRoot = "HIGGS_ROOT"

// Default locations, relative to the installation root unless absolute.
const (
	defaultOutputDir       = "generated_audio"
	defaultTempDir         = "temp"
	defaultVoicePromptsDir = "higgs-audio/examples/voice_prompts"
	defaultLogsDir         = "logs"
	defaultWorkDir         = "higgs-audio"
	defaultModelPath       = "model/higgs-v2-base"
	defaultToolchainDir    = "higgs-audio/conda_env"
	defaultAudioTokenizer  = "/root/.cache/huggingface/hub/models--bosonai--higgs-audio-v2-tokenizer/" +
		"snapshots/9d4988fbd4ad07b4cac3a5fa462741a41810dbec"
	defaultCommand = "python"
	defaultScript  = "examples/generation.py"
	defaultDevice  = "cuda"

	defaultHost        = "0.0.0.0"
	defaultPort        = 5902
	defaultBodyLimitMB = 50
	defaultTokensCap   = 4096

	defaultJobsSubject = "tts.jobs"
	defaultTextBucket  = "TEXT_FILES"
	defaultAudioBucket = "AUDIO_FILES"

	megabyte = 1024 * 1024
)

// Error message format strings.
const (
	errFmtResolveWorkingDir  = "failed to resolve working directory: %w"
	errFmtReadConfigFile     = "failed to read config file %s: %w"
	errFmtDecodeConfigFile   = "failed to decode config file %s: %w"
	errFmtConfiguratorLoad   = "failed to load configuration from configurator: %w"
	errFmtEnsureDirectory    = "failed to prepare %s: %w"
	errFmtResolveConfigPaths = "failed to resolve configuration paths: %w"
)

// PathsConfig holds the filesystem layout.
type PathsConfig struct {
	Root            string `toml:"root"`
	OutputDir       string `toml:"output_dir"`
	TempDir         string `toml:"temp_dir"`
	VoicePromptsDir string `toml:"voice_prompts_dir"`
	BaseLogsDir     string `toml:"base_logs_dir"`
}

// GeneratorConfig describes how the external generation program is launched.
type GeneratorConfig struct {
	Command        string `toml:"command"`
	Script         string `toml:"script"`
	WorkDir        string `toml:"work_dir"`
	ModelPath      string `toml:"model_path"`
	AudioTokenizer string `toml:"audio_tokenizer"`
	Device         string `toml:"device"`
	ToolchainDir   string `toml:"toolchain_dir"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ServerConfig holds the HTTP front-end settings.
type ServerConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	BodyLimitMB     int    `toml:"body_limit_mb"`
	MaxNewTokensCap int    `toml:"max_new_tokens_cap"`
}

// NATSConfig holds the optional job-worker settings. An empty URL disables the worker.
type NATSConfig struct {
	URL                    string `toml:"url"`
	JobsSubject            string `toml:"jobs_subject"`
	TextObjectStoreBucket  string `toml:"text_object_store_bucket"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// Config is the root configuration structure.
type Config struct {
	Paths     PathsConfig     `toml:"paths"`
	Generator GeneratorConfig `toml:"generator"`
	Server    ServerConfig    `toml:"server"`
	NATS      NATSConfig      `toml:"nats"`
}

// Default returns the stock layout rooted at root.
func Default(root string) *Config {
	cfg := &Config{
		Paths: PathsConfig{
			Root:            root,
			OutputDir:       defaultOutputDir,
			TempDir:         defaultTempDir,
			VoicePromptsDir: defaultVoicePromptsDir,
			BaseLogsDir:     defaultLogsDir,
		},
		Generator: GeneratorConfig{
			Command:        defaultCommand,
			Script:         defaultScript,
			WorkDir:        defaultWorkDir,
			ModelPath:      defaultModelPath,
			AudioTokenizer: defaultAudioTokenizer,
			Device:         defaultDevice,
			ToolchainDir:   defaultToolchainDir,
			TimeoutSeconds: 0,
		},
		Server: ServerConfig{
			Host:            defaultHost,
			Port:            defaultPort,
			BodyLimitMB:     defaultBodyLimitMB,
			MaxNewTokensCap: defaultTokensCap,
		},
		NATS: NATSConfig{
			URL:                    "",
			JobsSubject:            defaultJobsSubject,
			TextObjectStoreBucket:  defaultTextBucket,
			AudioObjectStoreBucket: defaultAudioBucket,
		},
	}

	return cfg
}

// RootFromEnv returns $HIGGS_ROOT, or the working directory when it is unset.
func RootFromEnv() (string, error) {
	if root := os.Getenv(EnvRoot); root != "" {
		return root, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf(errFmtResolveWorkingDir, err)
	}

	return wd, nil
}

// Load loads the configuration through the central configurator and completes it
// with defaults rooted at root.
func Load(root string, log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf(errFmtConfiguratorLoad, err)
	}

	return finish(&cfg, root)
}

// LoadFile decodes a TOML file and completes it with defaults rooted at root.
func LoadFile(path, root string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf(errFmtReadConfigFile, path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf(errFmtDecodeConfigFile, path, err)
	}

	return finish(&cfg, root)
}

// Discover loads path when it is set. Otherwise it asks the configurator and,
// when that fails, falls back to the stock layout rooted at root after logging
// a warning.
func Discover(path, root string, log *logger.Logger) (*Config, error) {
	if path != "" {
		return LoadFile(path, root)
	}

	cfg, err := Load(root, log)
	if err == nil {
		return cfg, nil
	}

	log.Warn("No project configuration found (%v), using defaults rooted at %s", err, root)

	return finish(Default(root), root)
}

func finish(cfg *Config, root string) (*Config, error) {
	if cfg.Paths.Root == "" {
		cfg.Paths.Root = root
	}

	cfg.ApplyDefaults()

	err := cfg.Resolve()
	if err != nil {
		return nil, fmt.Errorf(errFmtResolveConfigPaths, err)
	}

	return cfg, nil
}

// ApplyDefaults fills every zero-valued field from Default.
func (c *Config) ApplyDefaults() {
	def := Default(c.Paths.Root)

	setString(&c.Paths.OutputDir, def.Paths.OutputDir)
	setString(&c.Paths.TempDir, def.Paths.TempDir)
	setString(&c.Paths.VoicePromptsDir, def.Paths.VoicePromptsDir)
	setString(&c.Paths.BaseLogsDir, def.Paths.BaseLogsDir)

	setString(&c.Generator.Command, def.Generator.Command)
	setString(&c.Generator.Script, def.Generator.Script)
	setString(&c.Generator.WorkDir, def.Generator.WorkDir)
	setString(&c.Generator.ModelPath, def.Generator.ModelPath)
	setString(&c.Generator.AudioTokenizer, def.Generator.AudioTokenizer)
	setString(&c.Generator.Device, def.Generator.Device)
	setString(&c.Generator.ToolchainDir, def.Generator.ToolchainDir)

	setString(&c.Server.Host, def.Server.Host)
	setInt(&c.Server.Port, def.Server.Port)
	setInt(&c.Server.BodyLimitMB, def.Server.BodyLimitMB)
	setInt(&c.Server.MaxNewTokensCap, def.Server.MaxNewTokensCap)

	setString(&c.NATS.JobsSubject, def.NATS.JobsSubject)
	setString(&c.NATS.TextObjectStoreBucket, def.NATS.TextObjectStoreBucket)
	setString(&c.NATS.AudioObjectStoreBucket, def.NATS.AudioObjectStoreBucket)
}

// Resolve makes the root absolute and anchors every relative path at it.
func (c *Config) Resolve() error {
	root, err := filepath.Abs(c.Paths.Root)
	if err != nil {
		return err
	}

	c.Paths.Root = root

	for _, p := range []*string{
		&c.Paths.OutputDir,
		&c.Paths.TempDir,
		&c.Paths.VoicePromptsDir,
		&c.Paths.BaseLogsDir,
		&c.Generator.WorkDir,
		&c.Generator.ModelPath,
		&c.Generator.AudioTokenizer,
		&c.Generator.ToolchainDir,
	} {
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(root, *p)
		}
	}

	return nil
}

// EnsureDirectories creates the output, temp, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.TempDir, c.Paths.BaseLogsDir} {
		err := fsutil.EnsureDir(dir)
		if err != nil {
			return fmt.Errorf(errFmtEnsureDirectory, dir, err)
		}
	}

	return nil
}

// GeneratorTimeout returns the configured run limit; zero means unlimited.
func (c *Config) GeneratorTimeout() time.Duration {
	if c.Generator.TimeoutSeconds <= 0 {
		return 0
	}

	return time.Duration(c.Generator.TimeoutSeconds) * time.Second
}

// BodyLimitBytes returns the HTTP request-body cap in bytes.
func (c *Config) BodyLimitBytes() int {
	return c.Server.BodyLimitMB * megabyte
}

func setString(field *string, def string) {
	if *field == "" {
		*field = def
	}
}

func setInt(field *int, def int) {
	if *field == 0 {
		*field = def
	}
}
