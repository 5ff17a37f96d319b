package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"msgrelay/protocol"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "msgrelay"
	// EnvDataDir overrides the resolved data directory.
	EnvDataDir = "MSGRELAY_DATA_DIR"
	// DefaultListenHost is the interface the relay binds to.
	DefaultListenHost = "127.0.0.1"
	// DefaultPort is used when neither a port file nor a flag supplies one.
	DefaultPort = 1234
	// DefaultPortFile is read relative to the data directory.
	DefaultPortFile = "port.info"
	// DefaultDatabaseFile is the SQLite filename under the data directory.
	DefaultDatabaseFile = "server.db"
	// DefaultLogLevel is the zerolog level name used without overrides.
	DefaultLogLevel = "info"
	// DefaultLogFormat selects the human-readable console writer.
	DefaultLogFormat = "console"
	// configFileName is the persisted configuration file.
	configFileName = "config.toml"
)

// PortSource records where the effective listening port came from.
type PortSource string

const (
	PortFromFlag   PortSource = "flag"
	PortFromFile   PortSource = "port_file"
	PortFromConfig PortSource = "config"
)

// RelayConfig contains persistent relay settings.
type RelayConfig struct {
	RelayID        string `toml:"relay_id"`
	InstanceName   string `toml:"instance_name"`
	ListenHost     string `toml:"listen_host"`
	Port           int    `toml:"port"`
	PortFile       string `toml:"port_file"`
	DatabaseFile   string `toml:"database_file"`
	ReadBufferSize int    `toml:"read_buffer_size"`
	LogLevel       string `toml:"log_level"`
	LogFormat      string `toml:"log_format"`
	Advertise      bool   `toml:"advertise"`
	MetricsAddress string `toml:"metrics_address"`
}

// ResolveDataDir returns the OS-aware relay data directory.
//
// If MSGRELAY_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(EnvDataDir); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.toml for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the data directory if needed.
func EnsureDataDirectories(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", dataDir, err)
	}
	return nil
}

// Load decodes config.toml from disk. Unknown keys are rejected.
func Load(path string) (*RelayConfig, error) {
	var cfg RelayConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("load config: unknown keys %s", strings.Join(keys, ", "))
	}

	return &cfg, nil
}

// Save encodes cfg as TOML and writes it to disk.
func Save(path string, cfg *RelayConfig) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		_ = file.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config exist, then returns both.
// An empty dataDir resolves through ResolveDataDir.
func LoadOrCreate(dataDir string) (*RelayConfig, string, error) {
	if dataDir == "" {
		resolved, err := ResolveDataDir()
		if err != nil {
			return nil, "", err
		}
		dataDir = resolved
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

// DatabasePath resolves the database file against dataDir.
func (c *RelayConfig) DatabasePath(dataDir string) string {
	return resolvePath(dataDir, c.DatabaseFile)
}

// PortFilePath resolves the port file against dataDir.
func (c *RelayConfig) PortFilePath(dataDir string) string {
	return resolvePath(dataDir, c.PortFile)
}

// ListenAddress joins the listen host with port.
func (c *RelayConfig) ListenAddress(port int) string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(port))
}

// ResolvePort picks the listening port: a positive flagPort wins, then the
// port file when it exists, then the configured port.
func (c *RelayConfig) ResolvePort(dataDir string, flagPort int) (int, PortSource, error) {
	if flagPort > 0 {
		if err := validatePort(flagPort); err != nil {
			return 0, "", err
		}
		return flagPort, PortFromFlag, nil
	}

	port, err := ReadPortFile(c.PortFilePath(dataDir))
	switch {
	case err == nil:
		return port, PortFromFile, nil
	case !errors.Is(err, fs.ErrNotExist):
		return 0, "", err
	}

	if err := validatePort(c.Port); err != nil {
		return 0, "", err
	}
	return c.Port, PortFromConfig, nil
}

// ReadPortFile parses the port number on the first line of path.
func ReadPortFile(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open port file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return 0, fmt.Errorf("read port file: %w", err)
		}
		return 0, fmt.Errorf("read port file %q: empty", path)
	}

	port, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return 0, fmt.Errorf("parse port file %q: %w", path, err)
	}
	if err := validatePort(port); err != nil {
		return 0, fmt.Errorf("port file %q: %w", path, err)
	}
	return port, nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range 1..65535", port)
	}
	return nil
}

func resolvePath(dataDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dataDir, path)
}

func defaultInstanceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "msgrelay"
}

func defaultConfig() *RelayConfig {
	return &RelayConfig{
		RelayID:        uuid.NewString(),
		InstanceName:   defaultInstanceName(),
		ListenHost:     DefaultListenHost,
		Port:           DefaultPort,
		PortFile:       DefaultPortFile,
		DatabaseFile:   DefaultDatabaseFile,
		ReadBufferSize: protocol.ReadBufferSize,
		LogLevel:       DefaultLogLevel,
		LogFormat:      DefaultLogFormat,
	}
}

func normalizeDefaults(cfg *RelayConfig) bool {
	updated := false

	if cfg.RelayID == "" {
		cfg.RelayID = uuid.NewString()
		updated = true
	}
	if cfg.InstanceName == "" {
		cfg.InstanceName = defaultInstanceName()
		updated = true
	}
	if cfg.ListenHost == "" {
		cfg.ListenHost = DefaultListenHost
		updated = true
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = DefaultPort
		updated = true
	}
	if cfg.PortFile == "" {
		cfg.PortFile = DefaultPortFile
		updated = true
	}
	if cfg.DatabaseFile == "" {
		cfg.DatabaseFile = DefaultDatabaseFile
		updated = true
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = protocol.ReadBufferSize
		updated = true
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
		updated = true
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = DefaultLogFormat
		updated = true
	}

	return updated
}
