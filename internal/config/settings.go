package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	RankingStrategyHeuristic  = "heuristic"
	RankingStrategyPrediction = "prediction"

	StorageBackendBbolt = "bbolt"
	StorageBackendFile  = "file"

	defaultWatchdogMS               = 500
	defaultSortWorkers              = 2
	defaultLabelCacheSize           = 256
	defaultPresentationConcurrency  = 1
	defaultMaxTargetsPerRow         = 4
	defaultMaxShortcutTargetsPerApp = 2
	defaultWatchDebounceMS          = 500
)

type Config struct {
	Ranking  RankingConfig  `toml:"ranking"`
	Resolver ResolverConfig `toml:"resolver"`
	Chooser  ChooserConfig  `toml:"chooser"`
	Storage  StorageConfig  `toml:"storage"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Watch    WatchConfig    `toml:"watch"`
	Logging  LoggingConfig  `toml:"logging"`
}

type RankingConfig struct {
	Strategy       string `toml:"strategy"`
	WatchdogMS     int    `toml:"watchdog_ms"`
	PromoteToFirst string `toml:"promote_to_first"`
	Referrer       string `toml:"referrer"`
	Locale         string `toml:"locale"`
}

type ResolverConfig struct {
	FilterLastUsed          *bool `toml:"filter_last_used"`
	UseLayoutWithDefault    bool  `toml:"use_layout_with_default"`
	SortWorkers             int   `toml:"sort_workers"`
	LabelCacheSize          int   `toml:"label_cache_size"`
	PresentationConcurrency int   `toml:"presentation_concurrency"`
}

type ChooserConfig struct {
	MaxTargetsPerRow         int   `toml:"max_targets_per_row"`
	MaxShortcutTargetsPerApp int   `toml:"max_shortcut_targets_per_app"`
	ApplySharingAppLimits    *bool `toml:"apply_sharing_app_limits"`
	DirectShare              *bool `toml:"direct_share"`
}

type StorageConfig struct {
	Backend string `toml:"backend"`
	DBPath  string `toml:"db_path"`
	Dir     string `toml:"dir"`
}

type CatalogConfig struct {
	Path string `toml:"path"`
}

type WatchConfig struct {
	DebounceMS int `toml:"debounce_ms"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

func Default() Config {
	return Config{
		Ranking: RankingConfig{
			Strategy:   RankingStrategyHeuristic,
			WatchdogMS: defaultWatchdogMS,
		},
		Resolver: ResolverConfig{
			SortWorkers:             defaultSortWorkers,
			LabelCacheSize:          defaultLabelCacheSize,
			PresentationConcurrency: defaultPresentationConcurrency,
		},
		Chooser: ChooserConfig{
			MaxTargetsPerRow:         defaultMaxTargetsPerRow,
			MaxShortcutTargetsPerApp: defaultMaxShortcutTargetsPerApp,
		},
		Storage: StorageConfig{
			Backend: StorageBackendBbolt,
		},
		Watch: WatchConfig{
			DebounceMS: defaultWatchDebounceMS,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads config.toml from the data directory and applies SHARESHEET_*
// overrides from the environment and the data directory's .env file.
func Load() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Config{}, err
	}
	envPath, err := EnvPath()
	if err != nil {
		return Config{}, err
	}
	return loadFromPaths(path, envPath)
}

func loadFromPaths(path, envPath string) (Config, error) {
	cfg := Default()
	if err := readTOML(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := loadEnvFile(envPath); err != nil {
		return Config{}, err
	}
	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

// loadEnvFile loads key=value pairs without overriding variables that are
// already set in the process environment.
func loadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("SHARESHEET_RANKING_STRATEGY")); v != "" {
		c.Ranking.Strategy = v
	}
	if v, ok := envInt(getenv, "SHARESHEET_WATCHDOG_MS"); ok {
		c.Ranking.WatchdogMS = v
	}
	if v := strings.TrimSpace(getenv("SHARESHEET_PROMOTE_TO_FIRST")); v != "" {
		c.Ranking.PromoteToFirst = v
	}
	if v, ok := envBool(getenv, "SHARESHEET_FILTER_LAST_USED"); ok {
		c.Resolver.FilterLastUsed = &v
	}
	if v := strings.TrimSpace(getenv("SHARESHEET_REFERRER")); v != "" {
		c.Ranking.Referrer = v
	}
	if v, ok := envBool(getenv, "SHARESHEET_DIRECT_SHARE"); ok {
		c.Chooser.DirectShare = &v
	}
	if v := strings.TrimSpace(getenv("SHARESHEET_STORAGE_BACKEND")); v != "" {
		c.Storage.Backend = v
	}
	if v := strings.TrimSpace(getenv("SHARESHEET_CATALOG")); v != "" {
		c.Catalog.Path = v
	}
	if v := strings.TrimSpace(getenv("SHARESHEET_LOG_LEVEL")); v != "" {
		c.Logging.Level = v
	}
}

func envInt(getenv func(string) string, key string) (int, bool) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(getenv func(string) string, key string) (bool, bool) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func (c Config) RankingStrategy() string {
	switch strings.ToLower(strings.TrimSpace(c.Ranking.Strategy)) {
	case RankingStrategyPrediction:
		return RankingStrategyPrediction
	default:
		return RankingStrategyHeuristic
	}
}

func (c Config) WatchdogTimeout() time.Duration {
	if c.Ranking.WatchdogMS <= 0 {
		return defaultWatchdogMS * time.Millisecond
	}
	return time.Duration(c.Ranking.WatchdogMS) * time.Millisecond
}

func (c Config) PromoteToFirst() string {
	return strings.TrimSpace(c.Ranking.PromoteToFirst)
}

func (c Config) Referrer() string {
	return strings.TrimSpace(c.Ranking.Referrer)
}

func (c Config) Locale() string {
	locale := strings.TrimSpace(c.Ranking.Locale)
	if locale == "" {
		return "en-US"
	}
	return locale
}

func (c Config) FilterLastUsed() bool {
	if c.Resolver.FilterLastUsed == nil {
		return true
	}
	return *c.Resolver.FilterLastUsed
}

func (c Config) UseLayoutWithDefault() bool {
	return c.Resolver.UseLayoutWithDefault
}

func (c Config) SortWorkers() int {
	if c.Resolver.SortWorkers <= 0 {
		return defaultSortWorkers
	}
	return c.Resolver.SortWorkers
}

func (c Config) LabelCacheSize() int {
	if c.Resolver.LabelCacheSize <= 0 {
		return defaultLabelCacheSize
	}
	return c.Resolver.LabelCacheSize
}

func (c Config) PresentationConcurrency() int {
	if c.Resolver.PresentationConcurrency <= 0 {
		return defaultPresentationConcurrency
	}
	return c.Resolver.PresentationConcurrency
}

func (c Config) MaxTargetsPerRow() int {
	if c.Chooser.MaxTargetsPerRow <= 0 {
		return defaultMaxTargetsPerRow
	}
	return c.Chooser.MaxTargetsPerRow
}

func (c Config) MaxShortcutTargetsPerApp() int {
	if c.Chooser.MaxShortcutTargetsPerApp <= 0 {
		return defaultMaxShortcutTargetsPerApp
	}
	return c.Chooser.MaxShortcutTargetsPerApp
}

func (c Config) ApplySharingAppLimits() bool {
	if c.Chooser.ApplySharingAppLimits == nil {
		return true
	}
	return *c.Chooser.ApplySharingAppLimits
}

func (c Config) DirectShareEnabled() bool {
	if c.Chooser.DirectShare == nil {
		return true
	}
	return *c.Chooser.DirectShare
}

func (c Config) StorageBackend() string {
	switch strings.ToLower(strings.TrimSpace(c.Storage.Backend)) {
	case StorageBackendFile:
		return StorageBackendFile
	default:
		return StorageBackendBbolt
	}
}

func (c Config) ResolveStorageDBPath() (string, error) {
	if strings.TrimSpace(c.Storage.DBPath) == "" {
		return StorageDBPath()
	}
	return resolveConfigPath(c.Storage.DBPath)
}

func (c Config) ResolveStorageDir() (string, error) {
	if strings.TrimSpace(c.Storage.Dir) == "" {
		return StorageDir()
	}
	return resolveConfigPath(c.Storage.Dir)
}

func (c Config) ResolveCatalogPath() (string, error) {
	if strings.TrimSpace(c.Catalog.Path) == "" {
		return CatalogPath()
	}
	return resolveConfigPath(c.Catalog.Path)
}

func (c Config) WatchDebounce() time.Duration {
	if c.Watch.DebounceMS <= 0 {
		return defaultWatchDebounceMS * time.Millisecond
	}
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

func (c Config) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return "info"
	}
	return level
}

func readTOML(path string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return toml.Unmarshal(data, out)
}

func resolveConfigPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("path is required")
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, path), nil
}
