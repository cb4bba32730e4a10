package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"go-httpd/server"
)

const configFile = "httpd.json"

type AppServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	VersionMajor int    `json:"version_major"`
	VersionMinor int    `json:"version_minor"`
	VersionPatch int    `json:"version_patch"`

	ReadTimeoutMs  int   `json:"read_timeout_ms"`
	WriteTimeoutMs int   `json:"write_timeout_ms"`
	MaxHeaderBytes int   `json:"max_header_bytes"`
	MaxBodyBytes   int64 `json:"max_body_bytes"`

	Static            []server.StaticMount `json:"static"`
	CacheStatic       bool                 `json:"cache_static"`
	CacheMaxFileBytes int64                `json:"cache_max_file_bytes"`

	AuthPrefixes []string `json:"auth_prefixes"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// defaultConfig returns the settings used when httpd.json is missing or
// invalid.
func defaultConfig() *AppServerConfig {
	return &AppServerConfig{
		Host:              "0.0.0.0",
		Port:              8080,
		VersionMajor:      1,
		VersionMinor:      0,
		VersionPatch:      0,
		ReadTimeoutMs:     15000,
		WriteTimeoutMs:    15000,
		MaxHeaderBytes:    8 << 10,
		MaxBodyBytes:      10 << 20,
		Static:            []server.StaticMount{{Prefix: "/static", Dir: "public"}},
		CacheStatic:       false,
		CacheMaxFileBytes: 1 << 20,
		AuthPrefixes:      []string{"/api/private"},
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// loadConfig reads httpd.json from projectRoot, falling back to defaults on
// any error and fixing up invalid fields one by one.
func loadConfig(projectRoot string, log zerolog.Logger) *AppServerConfig {
	log = log.With().Str("component", "config").Logger()
	cfgPath := filepath.Join(projectRoot, configFile)

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		log.Info().Err(err).Str("path", cfgPath).Msg("no config file, using defaults")
		return defaultConfig()
	}

	def := defaultConfig()
	// Fields absent from the file keep their defaults.
	cfg := *def
	cfg.Static = nil
	cfg.AuthPrefixes = nil
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Warn().Err(err).Str("path", cfgPath).Msg("invalid config file, using defaults")
		return defaultConfig()
	}

	if cfg.Host == "" {
		log.Warn().Str("default", def.Host).Msg("host is empty, falling back")
		cfg.Host = def.Host
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		log.Warn().Int("port", cfg.Port).Int("default", def.Port).Msg("port is invalid, falling back")
		cfg.Port = def.Port
	}
	if cfg.VersionMajor < 0 || cfg.VersionMinor < 0 || cfg.VersionPatch < 0 {
		log.Warn().Msg("version has a negative component, falling back")
		cfg.VersionMajor, cfg.VersionMinor, cfg.VersionPatch = def.VersionMajor, def.VersionMinor, def.VersionPatch
	}
	if cfg.ReadTimeoutMs < 0 {
		log.Warn().Int("read_timeout_ms", cfg.ReadTimeoutMs).Int("default", def.ReadTimeoutMs).Msg("read timeout is invalid, falling back")
		cfg.ReadTimeoutMs = def.ReadTimeoutMs
	}
	if cfg.WriteTimeoutMs < 0 {
		log.Warn().Int("write_timeout_ms", cfg.WriteTimeoutMs).Int("default", def.WriteTimeoutMs).Msg("write timeout is invalid, falling back")
		cfg.WriteTimeoutMs = def.WriteTimeoutMs
	}
	if cfg.MaxHeaderBytes <= 0 {
		log.Warn().Int("max_header_bytes", cfg.MaxHeaderBytes).Int("default", def.MaxHeaderBytes).Msg("header limit is invalid, falling back")
		cfg.MaxHeaderBytes = def.MaxHeaderBytes
	}
	if cfg.MaxBodyBytes <= 0 {
		log.Warn().Int64("max_body_bytes", cfg.MaxBodyBytes).Int64("default", def.MaxBodyBytes).Msg("body limit is invalid, falling back")
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.CacheMaxFileBytes <= 0 {
		cfg.CacheMaxFileBytes = def.CacheMaxFileBytes
	}

	if len(cfg.Static) == 0 {
		log.Info().Msg("no static mounts configured, using defaults")
		cfg.Static = def.Static
	}
	for i, m := range cfg.Static {
		if !strings.HasPrefix(m.Prefix, "/") {
			log.Warn().Int("index", i).Str("prefix", m.Prefix).Msg("static prefix does not start with '/', fixing")
			cfg.Static[i].Prefix = "/" + m.Prefix
		}
		if m.Dir == "" {
			log.Warn().Int("index", i).Msg("static dir is empty, mount will be skipped")
		}
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = def.LogFormat
	}
	return &cfg
}

// applyEnv overrides file settings from the environment.
func (c *AppServerConfig) applyEnv(log zerolog.Logger) {
	if lvl := os.Getenv("APP_LOG_LEVEL"); lvl != "" {
		c.LogLevel = lvl
	}
	addr := os.Getenv("APP_SERVER_ADDR")
	if addr == "" {
		return
	}
	host, port, err := splitAddr(addr)
	if err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("ignoring APP_SERVER_ADDR")
		return
	}
	if host != "" {
		c.Host = host
	}
	c.Port = port
}

// serverConfig converts to the server package configuration. Relative
// static dirs are resolved against root.
func (c *AppServerConfig) serverConfig() server.Config {
	return server.Config{
		Host:           c.Host,
		Port:           uint16(c.Port),
		VersionMajor:   c.VersionMajor,
		VersionMinor:   c.VersionMinor,
		VersionPatch:   c.VersionPatch,
		ReadTimeout:    time.Duration(c.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:   time.Duration(c.WriteTimeoutMs) * time.Millisecond,
		MaxHeaderBytes: c.MaxHeaderBytes,
		MaxBodyBytes:   c.MaxBodyBytes,
	}
}

func (c *AppServerConfig) mounts(root string) []server.StaticMount {
	out := make([]server.StaticMount, 0, len(c.Static))
	for _, m := range c.Static {
		if m.Dir == "" {
			continue
		}
		dir := m.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		out = append(out, server.StaticMount{Prefix: m.Prefix, Dir: dir})
	}
	return out
}

// getProjectRoot walks up from the working directory to the first
// directory holding go.mod.
func getProjectRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return wd
		}
		dir = parent
	}
}
