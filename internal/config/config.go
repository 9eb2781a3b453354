package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codefionn/tempo/internal/consts"
)

// HomeEnv overrides both the config and state directories when set.
const HomeEnv = "TEMPO_HOME"

// Tracking modes
const (
	ModeSingle = "single"
	ModeLinked = "linked"
)

// SocketConfig controls the IPC listener.
type SocketConfig struct {
	Path           string `json:"path,omitempty" yaml:"path,omitempty"`
	Permissions    string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	MaxConnections int    `json:"max_connections,omitempty" yaml:"max_connections,omitempty"`
}

// TrackingConfig controls the session state machine and the monitor.
type TrackingConfig struct {
	Mode                  string   `json:"mode" yaml:"mode"`
	LinkedProjects        []string `json:"linked_projects,omitempty" yaml:"linked_projects,omitempty"`
	IdleTimeoutSeconds    int      `json:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`
	SleepThresholdSeconds int      `json:"sleep_threshold_seconds" yaml:"sleep_threshold_seconds"`
	TickIntervalSeconds   int      `json:"tick_interval_seconds" yaml:"tick_interval_seconds"`
	FlushIntervalSeconds  int      `json:"flush_interval_seconds" yaml:"flush_interval_seconds"`
	MaxSessionHours       int      `json:"max_session_hours" yaml:"max_session_hours"`
	WarnSessionHours      int      `json:"warn_session_hours" yaml:"warn_session_hours"`
	PrioritySlotMillis    int      `json:"priority_slot_ms" yaml:"priority_slot_ms"`
}

// RateLimitConfig controls signal admission and debouncing.
type RateLimitConfig struct {
	Terminal           int `json:"terminal" yaml:"terminal"`
	IDE                int `json:"ide" yaml:"ide"`
	ManualCLI          int `json:"manual_cli" yaml:"manual_cli"`
	WindowMillis       int `json:"window_ms" yaml:"window_ms"`
	IDEDebounceSeconds int `json:"ide_debounce_seconds" yaml:"ide_debounce_seconds"`
	SwitchSettleSecs   int `json:"switch_settle_seconds" yaml:"switch_settle_seconds"`
}

// ProjectConfig extends the resolver's built-in tables.
type ProjectConfig struct {
	ExtraMarkers  []string `json:"extra_markers,omitempty" yaml:"extra_markers,omitempty"`
	ReservedPaths []string `json:"reserved_paths,omitempty" yaml:"reserved_paths,omitempty"`
}

// StoreConfig controls the SQLite store and flush retries.
type StoreConfig struct {
	Path               string `json:"path,omitempty" yaml:"path,omitempty"`
	RetryAttempts      int    `json:"retry_attempts" yaml:"retry_attempts"`
	RetryInitialMillis int    `json:"retry_initial_ms" yaml:"retry_initial_ms"`
	RetryMaxMillis     int    `json:"retry_max_ms" yaml:"retry_max_ms"`
}

// Config holds the daemon configuration.
type Config struct {
	LogLevel   string          `json:"log_level" yaml:"log_level"`
	LogPath    string          `json:"log_path,omitempty" yaml:"log_path,omitempty"`
	PidPath    string          `json:"pid_path,omitempty" yaml:"pid_path,omitempty"`
	LockPath   string          `json:"lock_path,omitempty" yaml:"lock_path,omitempty"`
	Socket     SocketConfig    `json:"socket" yaml:"socket"`
	Tracking   TrackingConfig  `json:"tracking" yaml:"tracking"`
	RateLimits RateLimitConfig `json:"rate_limits" yaml:"rate_limits"`
	Projects   ProjectConfig   `json:"projects" yaml:"projects"`
	Store      StoreConfig     `json:"store" yaml:"store"`
}

// ConfigDir returns the directory holding config files.
func ConfigDir() string {
	if home := strings.TrimSpace(os.Getenv(HomeEnv)); home != "" {
		return home
	}
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "tempo")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "tempo")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "tempo")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "tempo")
	}
}

// StateDir returns the directory holding the socket, pid, lock, database and logs.
func StateDir() string {
	if home := strings.TrimSpace(os.Getenv(HomeEnv)); home != "" {
		return home
	}
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "tempo")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "tempo")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "tempo")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "tempo")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".tempo")
	}
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: "info",
		Socket: SocketConfig{
			Permissions:    fmt.Sprintf("%#o", consts.SocketPermissions),
			MaxConnections: consts.MaxConnections,
		},
		Tracking: TrackingConfig{
			Mode:                  ModeSingle,
			IdleTimeoutSeconds:    int(consts.DefaultIdleTimeout / time.Second),
			SleepThresholdSeconds: int(consts.DefaultSleepThreshold / time.Second),
			TickIntervalSeconds:   int(consts.DefaultTickInterval / time.Second),
			FlushIntervalSeconds:  int(consts.DefaultFlushInterval / time.Second),
			MaxSessionHours:       int(consts.MaxSessionDuration / time.Hour),
			WarnSessionHours:      int(consts.WarnSessionDuration / time.Hour),
			PrioritySlotMillis:    int(consts.PrioritySlot / time.Millisecond),
		},
		RateLimits: RateLimitConfig{
			Terminal:           consts.TerminalSignalsPerWindow,
			IDE:                consts.IDESignalsPerWindow,
			ManualCLI:          consts.ManualSignalsPerWindow,
			WindowMillis:       int(consts.RateWindow / time.Millisecond),
			IDEDebounceSeconds: int(consts.IDEDebounce / time.Second),
			SwitchSettleSecs:   int(consts.SwitchSettle / time.Second),
		},
		Store: StoreConfig{
			RetryAttempts:      consts.DefaultStoreRetries,
			RetryInitialMillis: int(consts.DefaultStoreRetryInitial / time.Millisecond),
			RetryMaxMillis:     int(consts.DefaultStoreRetryMax / time.Millisecond),
		},
	}
	cfg.fillPaths()
	return cfg
}

// GetConfigPath returns the default config file location.
func GetConfigPath() string {
	dir := ConfigDir()
	for _, name := range []string{"config.yaml", "config.yml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return filepath.Join(dir, name)
		}
	}
	return filepath.Join(dir, "config.json")
}

// Load reads path over the defaults. A missing file yields the defaults.
// Files ending in .yaml or .yml are parsed as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.fillPaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path in the format implied by its extension.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Tracking.Mode {
	case ModeSingle, ModeLinked:
	default:
		errs = append(errs, fmt.Errorf("tracking.mode must be %q or %q, got %q", ModeSingle, ModeLinked, c.Tracking.Mode))
	}
	if c.Tracking.IdleTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("tracking.idle_timeout_seconds must be positive"))
	}
	if c.Tracking.TickIntervalSeconds <= 0 {
		errs = append(errs, errors.New("tracking.tick_interval_seconds must be positive"))
	}
	if c.Tracking.FlushIntervalSeconds <= 0 {
		errs = append(errs, errors.New("tracking.flush_interval_seconds must be positive"))
	}
	if c.Tracking.MaxSessionHours <= 0 {
		errs = append(errs, errors.New("tracking.max_session_hours must be positive"))
	}
	if c.RateLimits.Terminal < 0 || c.RateLimits.IDE < 0 || c.RateLimits.ManualCLI < 0 {
		errs = append(errs, errors.New("rate_limits must not be negative"))
	}
	if c.RateLimits.WindowMillis <= 0 {
		errs = append(errs, errors.New("rate_limits.window_ms must be positive"))
	}
	if c.Store.RetryAttempts < 0 {
		errs = append(errs, errors.New("store.retry_attempts must not be negative"))
	}
	if _, err := c.SocketMode(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) fillPaths() {
	stateDir := StateDir()
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(stateDir, "logs", "daemon.log")
	}
	if c.PidPath == "" {
		c.PidPath = filepath.Join(stateDir, "daemon.pid")
	}
	if c.LockPath == "" {
		c.LockPath = filepath.Join(stateDir, "daemon.lock")
	}
	if c.Socket.Path == "" {
		c.Socket.Path = filepath.Join(stateDir, "daemon.sock")
	}
	if c.Socket.Permissions == "" {
		c.Socket.Permissions = fmt.Sprintf("%#o", consts.SocketPermissions)
	}
	if c.Socket.MaxConnections <= 0 {
		c.Socket.MaxConnections = consts.MaxConnections
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(stateDir, "tempo.db")
	}
	c.LogPath = ExpandPath(c.LogPath)
	c.PidPath = ExpandPath(c.PidPath)
	c.LockPath = ExpandPath(c.LockPath)
	c.Socket.Path = ExpandPath(c.Socket.Path)
	c.Store.Path = ExpandPath(c.Store.Path)
}

// ExpandPath expands a leading ~ and environment variables.
func ExpandPath(p string) string {
	p = os.ExpandEnv(strings.TrimSpace(p))
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// SocketMode parses Socket.Permissions as an octal file mode.
func (c *Config) SocketMode() (os.FileMode, error) {
	var mode uint32
	if _, err := fmt.Sscanf(strings.TrimPrefix(c.Socket.Permissions, "0o"), "%o", &mode); err != nil {
		return 0, fmt.Errorf("socket.permissions %q is not an octal mode", c.Socket.Permissions)
	}
	if mode > 0o777 {
		return 0, fmt.Errorf("socket.permissions %q out of range", c.Socket.Permissions)
	}
	return os.FileMode(mode), nil
}

// IdleTimeout returns the inactivity period after which a session pauses.
func (t TrackingConfig) IdleTimeout() time.Duration {
	return time.Duration(t.IdleTimeoutSeconds) * time.Second
}

// SleepThreshold returns the clock drift treated as host sleep.
func (t TrackingConfig) SleepThreshold() time.Duration {
	return time.Duration(t.SleepThresholdSeconds) * time.Second
}

// TickInterval returns the monitor period.
func (t TrackingConfig) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalSeconds) * time.Second
}

// FlushInterval returns the heartbeat period.
func (t TrackingConfig) FlushInterval() time.Duration {
	return time.Duration(t.FlushIntervalSeconds) * time.Second
}

// MaxSession returns the hard session cap.
func (t TrackingConfig) MaxSession() time.Duration {
	return time.Duration(t.MaxSessionHours) * time.Hour
}

// WarnSession returns the soft warning threshold, zero disables it.
func (t TrackingConfig) WarnSession() time.Duration {
	return time.Duration(t.WarnSessionHours) * time.Hour
}

// PrioritySlot returns the window in which signal sources are ranked.
func (t TrackingConfig) PrioritySlot() time.Duration {
	return time.Duration(t.PrioritySlotMillis) * time.Millisecond
}

// Window returns the rate window.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMillis) * time.Millisecond
}

// IDEDebounce returns the minimum spacing of IDE signals per project.
func (r RateLimitConfig) IDEDebounce() time.Duration {
	return time.Duration(r.IDEDebounceSeconds) * time.Second
}

// SwitchSettle returns the project switch settle window.
func (r RateLimitConfig) SwitchSettle() time.Duration {
	return time.Duration(r.SwitchSettleSecs) * time.Second
}

// RetryInitial returns the first flush retry interval.
func (s StoreConfig) RetryInitial() time.Duration {
	return time.Duration(s.RetryInitialMillis) * time.Millisecond
}

// RetryMax returns the largest flush retry interval.
func (s StoreConfig) RetryMax() time.Duration {
	return time.Duration(s.RetryMaxMillis) * time.Millisecond
}
