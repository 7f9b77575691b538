package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Worker     WorkerConfig     `yaml:"worker"`
	Registry   RegistryConfig   `yaml:"registry"`
	Launcher   LauncherConfig   `yaml:"launcher"`
	Runner     RunnerConfig     `yaml:"runner"`
	Logs       LogsConfig       `yaml:"logs"`
	Browser    BrowserConfig    `yaml:"browser"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Automation AutomationConfig `yaml:"automation"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
}

// ServerConfig holds control panel HTTP/WebSocket settings.
type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or "" (open)
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// WorkerConfig describes how to invoke the automation worker executable.
// The session id is appended as the final argument at spawn time.
type WorkerConfig struct {
	Command     string        `yaml:"command"`
	Args        []string      `yaml:"args,omitempty"`
	WorkDir     string        `yaml:"workdir,omitempty"`
	StopTimeout time.Duration `yaml:"stop_timeout"` // graceful terminate wait (default: 10s)
}

// RegistryConfig holds session store settings.
type RegistryConfig struct {
	DBPath      string `yaml:"db_path"`
	ProfilesDir string `yaml:"profiles_dir"`
}

// LauncherConfig holds parallel launcher settings.
type LauncherConfig struct {
	// StartInterval paces start-all spawns so concurrent sessions do not hit
	// the target site in the same instant. Zero disables pacing.
	StartInterval time.Duration `yaml:"start_interval"`
}

// RunnerConfig holds sequential runner settings.
type RunnerConfig struct {
	DequeueWait time.Duration `yaml:"dequeue_wait"` // bounded wait so cancel is observed (default: 1s)
}

// LogsConfig holds per-session log channel settings.
type LogsConfig struct {
	Capacity     int           `yaml:"capacity"`      // records kept per session (default: 200)
	DrainLimit   int           `yaml:"drain_limit"`   // default max for log queries (default: 100)
	Heartbeat    time.Duration `yaml:"heartbeat"`     // stream heartbeat interval (default: 5s)
	PollInterval time.Duration `yaml:"poll_interval"` // stream emission check cadence (default: 1s)
}

// BrowserConfig holds the interactive login flow settings.
type BrowserConfig struct {
	LoginURL     string        `yaml:"login_url"`
	LoginPath    string        `yaml:"login_path"`    // URL path that means "still on the login page"
	ReadyQuery   string        `yaml:"ready_query"`   // CSS query that appears once logged in (optional)
	Headless     bool          `yaml:"headless"`      // login is interactive; headless only for tests
	LoginTimeout time.Duration `yaml:"login_timeout"` // overall login wait (default: 5m)
}

// SchedulerConfig holds cron-driven batch trigger settings.
type SchedulerConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Tasks   []ScheduledTaskConfig `yaml:"tasks"`
}

// ScheduledTaskConfig defines a single scheduled batch run.
type ScheduledTaskConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression
	Mode     string `yaml:"mode"`     // "parallel" or "sequential"
}

// AutomationConfig is the settings document the workers consume. It is
// exposed over GET/POST /api/config and persisted separately so panel edits
// survive restarts without touching the server config.
type AutomationConfig struct {
	Search      SearchConfig      `yaml:"search" json:"search"`
	Run         RunConfig         `yaml:"run" json:"run"`
	Sale        SaleConfig        `yaml:"sale" json:"sale"`
	Filters     FiltersConfig     `yaml:"filters" json:"filters"`
	Credentials CredentialsConfig `yaml:"credentials" json:"credentials"`
}

// SearchConfig holds product search settings.
type SearchConfig struct {
	Product  string `yaml:"product" json:"product"`
	Query    string `yaml:"query" json:"query"`
	MinPrice int    `yaml:"min_price" json:"min_price"`
	MaxPrice int    `yaml:"max_price" json:"max_price"`
}

// RunConfig holds per-run worker behavior settings.
type RunConfig struct {
	WaitTime        time.Duration `yaml:"wait_time" json:"wait_time"`
	MaxRetries      int           `yaml:"max_retries" json:"max_retries"`
	Headless        bool          `yaml:"headless" json:"headless"`
	PageLoadTimeout time.Duration `yaml:"page_load_timeout" json:"page_load_timeout"`
}

// SaleConfig holds discount detection settings.
type SaleConfig struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	MinDiscount int  `yaml:"min_discount" json:"min_discount"`
	MaxDiscount int  `yaml:"max_discount" json:"max_discount"`
	PreferSale  bool `yaml:"prefer_sale" json:"prefer_sale"`
}

// FiltersConfig holds result filtering settings.
type FiltersConfig struct {
	Brand     string `yaml:"brand" json:"brand"`
	SortBy    string `yaml:"sort_by" json:"sort_by"`
	Condition string `yaml:"condition" json:"condition"`
}

// CredentialsConfig holds site credentials. Password supports "enc:" values
// decrypted with CARTPILOT_CONFIG_KEY.
type CredentialsConfig struct {
	Email    string `yaml:"email" json:"email"`
	Password string `yaml:"password" json:"-"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "noop" or "stdout"
}

// Defaults returns a Config with sane defaults applied.
func Defaults() *Config {
	dataDir := "./data"
	return &Config{
		Server: ServerConfig{
			Addr: ":8090",
		},
		Worker: WorkerConfig{
			Command:     "cartpilot-worker",
			Args:        []string{"--yes"},
			StopTimeout: 10 * time.Second,
		},
		Registry: RegistryConfig{
			DBPath:      filepath.Join(dataDir, "sessions.db"),
			ProfilesDir: filepath.Join(dataDir, "profiles"),
		},
		Launcher: LauncherConfig{
			StartInterval: 0,
		},
		Runner: RunnerConfig{
			DequeueWait: 1 * time.Second,
		},
		Logs: LogsConfig{
			Capacity:     200,
			DrainLimit:   100,
			Heartbeat:    5 * time.Second,
			PollInterval: 1 * time.Second,
		},
		Browser: BrowserConfig{
			LoginURL:     "https://www.flipkart.com/account/login",
			LoginPath:    "/account/login",
			Headless:     false,
			LoginTimeout: 5 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Enabled: false,
		},
		Automation: AutomationConfig{
			Search: SearchConfig{
				Product:  "iPhone",
				Query:    "iPhone 14 128GB",
				MinPrice: 1,
				MaxPrice: 999999,
			},
			Run: RunConfig{
				WaitTime:        3 * time.Second,
				MaxRetries:      3,
				Headless:        true,
				PageLoadTimeout: 30 * time.Second,
			},
			Sale: SaleConfig{
				Enabled:     true,
				MinDiscount: 10,
				MaxDiscount: 50,
			},
			Filters: FiltersConfig{
				Brand:     "Apple",
				SortBy:    "price_low_to_high",
				Condition: "new",
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts
// "enc:" secrets. A missing file yields defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("CARTPILOT_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps CARTPILOT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CARTPILOT_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CARTPILOT_WORKER_COMMAND"); v != "" {
		cfg.Worker.Command = v
	}
	if v := os.Getenv("CARTPILOT_WORKER_STOP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Worker.StopTimeout = d
		}
	}
	if v := os.Getenv("CARTPILOT_REGISTRY_DB_PATH"); v != "" {
		cfg.Registry.DBPath = v
	}
	if v := os.Getenv("CARTPILOT_REGISTRY_PROFILES_DIR"); v != "" {
		cfg.Registry.ProfilesDir = v
	}
	if v := os.Getenv("CARTPILOT_LOGS_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Logs.Capacity = n
		}
	}
	if v := os.Getenv("CARTPILOT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CARTPILOT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CARTPILOT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("CARTPILOT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("CARTPILOT_BROWSER_LOGIN_URL"); v != "" {
		cfg.Browser.LoginURL = v
	}
	if v := os.Getenv("CARTPILOT_BROWSER_HEADLESS"); v == "true" {
		cfg.Browser.Headless = true
	}
}

// Validate checks cross-field constraints that yaml decoding cannot express.
func Validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if cfg.Worker.Command == "" {
		return fmt.Errorf("worker.command must not be empty")
	}
	if cfg.Worker.StopTimeout <= 0 {
		return fmt.Errorf("worker.stop_timeout must be positive")
	}
	if cfg.Logs.Capacity <= 0 {
		return fmt.Errorf("logs.capacity must be positive")
	}
	if cfg.Runner.DequeueWait <= 0 {
		return fmt.Errorf("runner.dequeue_wait must be positive")
	}
	if cfg.Server.Auth.Type == "static" && len(cfg.Server.Auth.Tokens) == 0 {
		return fmt.Errorf("server.auth.type is static but no tokens configured")
	}
	for _, task := range cfg.Scheduler.Tasks {
		if task.Mode != "parallel" && task.Mode != "sequential" {
			return fmt.Errorf("scheduler task %q: mode must be parallel or sequential", task.Name)
		}
		if task.Schedule == "" {
			return fmt.Errorf("scheduler task %q: schedule must not be empty", task.Name)
		}
	}
	return nil
}

// SaveAutomation persists the automation settings document so edits made
// through the panel survive restarts.
func SaveAutomation(path string, a AutomationConfig) error {
	data, err := yaml.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal automation config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// LoadAutomation reads a previously saved automation settings document.
func LoadAutomation(path string) (*AutomationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a AutomationConfig
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse automation config: %w", err)
	}
	return &a, nil
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
