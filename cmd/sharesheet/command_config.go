package main

import (
	"encoding/json"
	"errors"
	"flag"
	"io"
	"strings"

	"sharesheet/internal/config"

	toml "github.com/pelletier/go-toml/v2"
)

type ConfigCommand struct {
	stdout     io.Writer
	stderr     io.Writer
	loadConfig configLoader
}

const (
	configFormatJSON = "json"
	configFormatTOML = "toml"

	configScopeRanking  = "ranking"
	configScopeResolver = "resolver"
	configScopeChooser  = "chooser"
	configScopeStorage  = "storage"
	configScopePaths    = "paths"
	configScopeLogging  = "logging"
)

var allConfigScopes = []string{
	configScopeRanking,
	configScopeResolver,
	configScopeChooser,
	configScopeStorage,
	configScopePaths,
	configScopeLogging,
}

type configOutput struct {
	ConfigPath string                   `json:"config_path,omitempty" toml:"config_path,omitempty"`
	Ranking    *effectiveRankingConfig  `json:"ranking,omitempty" toml:"ranking,omitempty"`
	Resolver   *effectiveResolverConfig `json:"resolver,omitempty" toml:"resolver,omitempty"`
	Chooser    *effectiveChooserConfig  `json:"chooser,omitempty" toml:"chooser,omitempty"`
	Storage    *effectiveStorageConfig  `json:"storage,omitempty" toml:"storage,omitempty"`
	Paths      *effectivePathsConfig    `json:"paths,omitempty" toml:"paths,omitempty"`
	Logging    *effectiveLoggingConfig  `json:"logging,omitempty" toml:"logging,omitempty"`
}

type effectiveRankingConfig struct {
	Strategy       string `json:"strategy" toml:"strategy"`
	WatchdogMS     int64  `json:"watchdog_ms" toml:"watchdog_ms"`
	PromoteToFirst string `json:"promote_to_first,omitempty" toml:"promote_to_first,omitempty"`
	Referrer       string `json:"referrer,omitempty" toml:"referrer,omitempty"`
	Locale         string `json:"locale" toml:"locale"`
}

type effectiveResolverConfig struct {
	FilterLastUsed          bool `json:"filter_last_used" toml:"filter_last_used"`
	UseLayoutWithDefault    bool `json:"use_layout_with_default" toml:"use_layout_with_default"`
	SortWorkers             int  `json:"sort_workers" toml:"sort_workers"`
	LabelCacheSize          int  `json:"label_cache_size" toml:"label_cache_size"`
	PresentationConcurrency int  `json:"presentation_concurrency" toml:"presentation_concurrency"`
}

type effectiveChooserConfig struct {
	MaxTargetsPerRow         int  `json:"max_targets_per_row" toml:"max_targets_per_row"`
	MaxShortcutTargetsPerApp int  `json:"max_shortcut_targets_per_app" toml:"max_shortcut_targets_per_app"`
	ApplySharingAppLimits    bool `json:"apply_sharing_app_limits" toml:"apply_sharing_app_limits"`
	DirectShare              bool `json:"direct_share" toml:"direct_share"`
}

type effectiveStorageConfig struct {
	Backend string `json:"backend" toml:"backend"`
	DBPath  string `json:"db_path,omitempty" toml:"db_path,omitempty"`
	Dir     string `json:"dir,omitempty" toml:"dir,omitempty"`
}

type effectivePathsConfig struct {
	Catalog         string `json:"catalog" toml:"catalog"`
	WatchDebounceMS int64  `json:"watch_debounce_ms" toml:"watch_debounce_ms"`
}

type effectiveLoggingConfig struct {
	Level string `json:"level" toml:"level"`
}

func NewConfigCommand(stdout, stderr io.Writer, loadConfig configLoader) *ConfigCommand {
	if loadConfig == nil {
		loadConfig = config.Load
	}
	return &ConfigCommand{
		stdout:     stdout,
		stderr:     stderr,
		loadConfig: loadConfig,
	}
}

func (c *ConfigCommand) Run(args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	defaults := fs.Bool("default", false, "print default config values")
	format := fs.String("format", configFormatJSON, "output format: json|toml")
	var scopes stringList
	fs.Var(&scopes, "scope", "scope to print: "+strings.Join(allConfigScopes, "|")+"|all (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resolvedFormat, err := resolveConfigFormat(*format)
	if err != nil {
		return err
	}
	resolvedScopes, err := resolveConfigScopes(scopes)
	if err != nil {
		return err
	}
	payload, err := c.buildOutput(*defaults, resolvedScopes)
	if err != nil {
		return err
	}
	return writeConfigOutput(c.stdout, resolvedFormat, payload)
}

func (c *ConfigCommand) buildOutput(defaults bool, scopes map[string]struct{}) (configOutput, error) {
	var cfg config.Config
	if defaults {
		cfg = config.Default()
	} else {
		loaded, err := c.loadConfig()
		if err != nil {
			return configOutput{}, err
		}
		cfg = loaded
	}
	out := configOutput{}
	if path, err := config.ConfigPath(); err == nil {
		out.ConfigPath = path
	}

	if scopeSelected(scopes, configScopeRanking) {
		out.Ranking = &effectiveRankingConfig{
			Strategy:       cfg.RankingStrategy(),
			WatchdogMS:     cfg.WatchdogTimeout().Milliseconds(),
			PromoteToFirst: cfg.PromoteToFirst(),
			Referrer:       cfg.Referrer(),
			Locale:         cfg.Locale(),
		}
	}
	if scopeSelected(scopes, configScopeResolver) {
		out.Resolver = &effectiveResolverConfig{
			FilterLastUsed:          cfg.FilterLastUsed(),
			UseLayoutWithDefault:    cfg.UseLayoutWithDefault(),
			SortWorkers:             cfg.SortWorkers(),
			LabelCacheSize:          cfg.LabelCacheSize(),
			PresentationConcurrency: cfg.PresentationConcurrency(),
		}
	}
	if scopeSelected(scopes, configScopeChooser) {
		out.Chooser = &effectiveChooserConfig{
			MaxTargetsPerRow:         cfg.MaxTargetsPerRow(),
			MaxShortcutTargetsPerApp: cfg.MaxShortcutTargetsPerApp(),
			ApplySharingAppLimits:    cfg.ApplySharingAppLimits(),
			DirectShare:              cfg.DirectShareEnabled(),
		}
	}
	if scopeSelected(scopes, configScopeStorage) {
		storage := &effectiveStorageConfig{Backend: cfg.StorageBackend()}
		var err error
		if storage.Backend == config.StorageBackendFile {
			storage.Dir, err = cfg.ResolveStorageDir()
		} else {
			storage.DBPath, err = cfg.ResolveStorageDBPath()
		}
		if err != nil {
			return configOutput{}, err
		}
		out.Storage = storage
	}
	if scopeSelected(scopes, configScopePaths) {
		catalogPath, err := cfg.ResolveCatalogPath()
		if err != nil {
			return configOutput{}, err
		}
		out.Paths = &effectivePathsConfig{
			Catalog:         catalogPath,
			WatchDebounceMS: cfg.WatchDebounce().Milliseconds(),
		}
	}
	if scopeSelected(scopes, configScopeLogging) {
		out.Logging = &effectiveLoggingConfig{Level: cfg.LogLevel()}
	}
	return out, nil
}

func writeConfigOutput(out io.Writer, format string, payload any) error {
	switch format {
	case configFormatJSON:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(payload)
	case configFormatTOML:
		data, err := toml.Marshal(payload)
		if err != nil {
			return err
		}
		if len(data) == 0 || data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		_, err = out.Write(data)
		return err
	default:
		return errors.New("unsupported format")
	}
}

func resolveConfigFormat(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", configFormatJSON:
		return configFormatJSON, nil
	case configFormatTOML:
		return configFormatTOML, nil
	default:
		return "", errors.New("invalid format: must be json or toml")
	}
}

func resolveConfigScopes(values []string) (map[string]struct{}, error) {
	all := func() map[string]struct{} {
		out := make(map[string]struct{}, len(allConfigScopes))
		for _, scope := range allConfigScopes {
			out[scope] = struct{}{}
		}
		return out
	}
	if len(values) == 0 {
		return all(), nil
	}
	out := map[string]struct{}{}
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			scope := strings.ToLower(strings.TrimSpace(part))
			if scope == "all" {
				return all(), nil
			}
			if !isConfigScope(scope) {
				return nil, errors.New("invalid scope: must be one of " + strings.Join(allConfigScopes, ", ") + ", or all")
			}
			out[scope] = struct{}{}
		}
	}
	return out, nil
}

func isConfigScope(scope string) bool {
	for _, known := range allConfigScopes {
		if scope == known {
			return true
		}
	}
	return false
}

func scopeSelected(scopes map[string]struct{}, scope string) bool {
	_, ok := scopes[scope]
	return ok
}
