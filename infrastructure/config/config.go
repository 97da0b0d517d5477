// Package config loads the application configuration from defaults, an
// optional YAML file and PAGECAP_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mstoykov/envconfig"
	"gopkg.in/yaml.v3"

	"pagecap-go/infrastructure/browser"
	"pagecap-go/infrastructure/devtools"
	"pagecap-go/infrastructure/encoder"
	"pagecap-go/infrastructure/logging"
)

// Storage drivers.
const (
	StorageSQLite = "sqlite"
	StorageMongo  = "mongo"
	StorageNone   = "none"
)

// Config is the root configuration.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Browser     BrowserConfig     `yaml:"browser"`
	Encoder     EncoderConfig     `yaml:"encoder"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	NATS        NATSConfig        `yaml:"nats"`
	Remote      RemoteConfig      `yaml:"remote"`
}

type LogConfig struct {
	Level     string `yaml:"level" envconfig:"PAGECAP_LOG_LEVEL"`
	Format    string `yaml:"format" envconfig:"PAGECAP_LOG_FORMAT"`
	Dir       string `yaml:"dir" envconfig:"PAGECAP_LOG_DIR"`
	Console   bool   `yaml:"console" envconfig:"PAGECAP_LOG_CONSOLE"`
	AddSource bool   `yaml:"addSource" envconfig:"PAGECAP_LOG_ADD_SOURCE"`
}

type BrowserConfig struct {
	ExecPath          string        `yaml:"execPath" envconfig:"PAGECAP_BROWSER_EXEC_PATH"`
	Headless          bool          `yaml:"headless" envconfig:"PAGECAP_BROWSER_HEADLESS"`
	NoSandbox         bool          `yaml:"noSandbox" envconfig:"PAGECAP_BROWSER_NO_SANDBOX"`
	WindowWidth       int           `yaml:"windowWidth" envconfig:"PAGECAP_BROWSER_WINDOW_WIDTH"`
	WindowHeight      int           `yaml:"windowHeight" envconfig:"PAGECAP_BROWSER_WINDOW_HEIGHT"`
	UserDataDir       string        `yaml:"userDataDir" envconfig:"PAGECAP_BROWSER_USER_DATA_DIR"`
	NavigationTimeout time.Duration `yaml:"navigationTimeout" envconfig:"PAGECAP_BROWSER_NAVIGATION_TIMEOUT"`
	ScreenshotTimeout time.Duration `yaml:"screenshotTimeout" envconfig:"PAGECAP_BROWSER_SCREENSHOT_TIMEOUT"`
}

type EncoderConfig struct {
	FFmpegPath   string `yaml:"ffmpegPath" envconfig:"PAGECAP_FFMPEG_PATH"`
	TempDir      string `yaml:"tempDir" envconfig:"PAGECAP_ENCODER_TEMP_DIR"`
	PreferNative bool   `yaml:"preferNative" envconfig:"PAGECAP_ENCODER_PREFER_NATIVE"`
}

type CoordinatorConfig struct {
	// MaxConcurrent bounds simultaneous browsers; 1 processes items one by one.
	MaxConcurrent int           `yaml:"maxConcurrent" envconfig:"PAGECAP_MAX_CONCURRENT"`
	MaxDuration   time.Duration `yaml:"maxDuration" envconfig:"PAGECAP_MAX_DURATION"`
	SettleDelay   time.Duration `yaml:"settleDelay" envconfig:"PAGECAP_SETTLE_DELAY"`
	StopTimeout   time.Duration `yaml:"stopTimeout" envconfig:"PAGECAP_STOP_TIMEOUT"`
	EventBuffer   int           `yaml:"eventBuffer" envconfig:"PAGECAP_EVENT_BUFFER"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr" envconfig:"PAGECAP_SERVER_ADDR"`
	RequestTimeout time.Duration `yaml:"requestTimeout" envconfig:"PAGECAP_SERVER_REQUEST_TIMEOUT"`
	MaxBodyBytes   int64         `yaml:"maxBodyBytes" envconfig:"PAGECAP_SERVER_MAX_BODY_BYTES"`
}

type StorageConfig struct {
	Driver        string `yaml:"driver" envconfig:"PAGECAP_STORAGE_DRIVER"`
	SQLitePath    string `yaml:"sqlitePath" envconfig:"PAGECAP_SQLITE_PATH"`
	ArtifactDir   string `yaml:"artifactDir" envconfig:"PAGECAP_ARTIFACT_DIR"`
	MongoURI      string `yaml:"mongoURI" envconfig:"PAGECAP_MONGO_URI"`
	MongoDatabase string `yaml:"mongoDatabase" envconfig:"PAGECAP_MONGO_DATABASE"`
	GridFSBucket  string `yaml:"gridfsBucket" envconfig:"PAGECAP_GRIDFS_BUCKET"`
	// PersistArtifacts stores artifact bytes next to the history records.
	PersistArtifacts bool `yaml:"persistArtifacts" envconfig:"PAGECAP_PERSIST_ARTIFACTS"`
}

type NATSConfig struct {
	URL           string `yaml:"url" envconfig:"PAGECAP_NATS_URL"`
	SubjectPrefix string `yaml:"subjectPrefix" envconfig:"PAGECAP_NATS_SUBJECT_PREFIX"`
	Name          string `yaml:"name" envconfig:"PAGECAP_NATS_NAME"`
}

type RemoteConfig struct {
	// URL of a running browser's DevTools endpoint; empty launches a local browser.
	URL            string        `yaml:"url" envconfig:"PAGECAP_REMOTE_URL"`
	HealthInterval time.Duration `yaml:"healthInterval" envconfig:"PAGECAP_REMOTE_HEALTH_INTERVAL"`
	HealthTimeout  time.Duration `yaml:"healthTimeout" envconfig:"PAGECAP_REMOTE_HEALTH_TIMEOUT"`
}

// DefaultDataDir returns the directory for the local history database and artifacts.
func DefaultDataDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "pagecap")
}

// Default returns the built-in configuration.
func Default() *Config {
	driver := browser.DefaultDriverConfig()
	dataDir := DefaultDataDir()
	remote := devtools.DefaultClientConfig()

	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Browser: BrowserConfig{
			Headless:          driver.Headless,
			NoSandbox:         driver.NoSandbox,
			WindowWidth:       driver.WindowWidth,
			WindowHeight:      driver.WindowHeight,
			NavigationTimeout: driver.NavigationTimeout,
			ScreenshotTimeout: driver.ScreenshotTimeout,
		},
		Encoder: EncoderConfig{
			FFmpegPath: encoder.DefaultConfig().FFmpegPath,
		},
		Coordinator: CoordinatorConfig{
			MaxConcurrent: 1,
			MaxDuration:   5 * time.Minute,
			SettleDelay:   time.Second,
			StopTimeout:   10 * time.Second,
			EventBuffer:   256,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: 10 * time.Minute,
			MaxBodyBytes:   1 << 20,
		},
		Storage: StorageConfig{
			Driver:           StorageSQLite,
			SQLitePath:       filepath.Join(dataDir, "history.db"),
			ArtifactDir:      filepath.Join(dataDir, "artifacts"),
			MongoDatabase:    "pagecap",
			GridFSBucket:     "artifacts",
			PersistArtifacts: true,
		},
		NATS: NATSConfig{
			SubjectPrefix: "pagecap",
			Name:          "pagecap",
		},
		Remote: RemoteConfig{
			HealthInterval: remote.HealthInterval,
			HealthTimeout:  remote.HealthTimeout,
		},
	}
}

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Load builds the configuration. path may be empty; lookup defaults to os.LookupEnv.
func Load(path string, lookup LookupFunc) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeYAML overlays the YAML document onto cfg, rejecting unknown keys.
func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	sections := []any{
		&c.Log, &c.Browser, &c.Encoder, &c.Coordinator,
		&c.Server, &c.Storage, &c.NATS, &c.Remote,
	}
	for _, section := range sections {
		if err := envconfig.Process("", section, lookup); err != nil {
			return err
		}
	}

	// Honour the variables the Puppeteer ecosystem uses for the browser binary
	if c.Browser.ExecPath == "" {
		for _, key := range []string{"PUPPETEER_EXECUTABLE_PATH", "CHROME_PATH"} {
			if v, ok := lookup(key); ok && v != "" {
				c.Browser.ExecPath = v
				break
			}
		}
	}
	return nil
}

// Validate checks the configuration for values the application cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Log.Format))
	}
	if c.Browser.NavigationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("browser navigation timeout must be positive"))
	}
	if c.Coordinator.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("coordinator maxConcurrent must be at least 1"))
	}
	if c.Coordinator.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("coordinator maxDuration must not be negative"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, fmt.Errorf("server addr is required"))
	}

	switch c.Storage.Driver {
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("storage sqlitePath is required for the sqlite driver"))
		}
		if c.Storage.PersistArtifacts && c.Storage.ArtifactDir == "" {
			errs = append(errs, fmt.Errorf("storage artifactDir is required to persist artifacts"))
		}
	case StorageMongo:
		if c.Storage.MongoURI == "" {
			errs = append(errs, fmt.Errorf("storage mongoURI is required for the mongo driver"))
		}
	case StorageNone:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	if c.Remote.URL != "" {
		if _, err := devtools.HTTPBase(c.Remote.URL); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// DriverConfig returns the browser driver configuration.
func (c *Config) DriverConfig() *browser.DriverConfig {
	d := browser.DefaultDriverConfig()
	d.Headless = c.Browser.Headless
	d.NoSandbox = c.Browser.NoSandbox
	d.ExecPath = c.Browser.ExecPath
	d.WindowWidth = c.Browser.WindowWidth
	d.WindowHeight = c.Browser.WindowHeight
	d.UserDataDir = c.Browser.UserDataDir
	d.NavigationTimeout = c.Browser.NavigationTimeout
	d.ScreenshotTimeout = c.Browser.ScreenshotTimeout
	d.RemoteURL = c.Remote.URL
	return d
}

// EncoderConfig returns the encoder configuration.
func (c *Config) EncoderConfig() *encoder.Config {
	return &encoder.Config{
		FFmpegPath:   c.Encoder.FFmpegPath,
		TempDir:      c.Encoder.TempDir,
		PreferNative: c.Encoder.PreferNative,
	}
}

// LoggingConfig returns the logging configuration.
func (c *Config) LoggingConfig() *logging.Config {
	l := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		l.Level = level
	}
	l.Format = c.Log.Format
	l.Dir = c.Log.Dir
	l.Console = c.Log.Console
	l.AddSource = c.Log.AddSource
	return l
}

// DevtoolsConfig returns the remote browser client configuration.
func (c *Config) DevtoolsConfig() *devtools.ClientConfig {
	d := devtools.DefaultClientConfig()
	d.BaseURL = c.Remote.URL
	d.HealthInterval = c.Remote.HealthInterval
	d.HealthTimeout = c.Remote.HealthTimeout
	return d
}
