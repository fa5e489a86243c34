package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type RuntimeConfig struct {
	HostURL      string // WebSocket endpoint of the native host
	Token        string
	HealthBind   string
	HealthPort   string
	CdpURL       string // empty = launch Chrome ourselves
	StateDir     string
	ProfileDir   string
	ChromeBinary string
	Headless     bool
	NoRestore    bool
	MaxTabs      int

	ActionTimeout   time.Duration
	NavigateTimeout time.Duration
	ShutdownTimeout time.Duration

	// Host channel
	RequestTimeout time.Duration
	HeartbeatEvery time.Duration
	ReconnectBase  time.Duration
	ReconnectCap   time.Duration
	MaxReconnects  int

	// Element resolution retry, independent of reconnect backoff
	ClickRetries    int
	ClickRetryDelay time.Duration

	// Extraction bounds keep result envelopes small
	MaxTextLength int
	MaxLinks      int
	MaxImages     int
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func envBoolOr(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return h
}

func (c *RuntimeConfig) HealthAddr() string {
	return c.HealthBind + ":" + c.HealthPort
}

type FileConfig struct {
	HostURL     string `json:"hostUrl"`
	Token       string `json:"token,omitempty"`
	CdpURL      string `json:"cdpUrl,omitempty"`
	StateDir    string `json:"stateDir"`
	ProfileDir  string `json:"profileDir"`
	Headless    *bool  `json:"headless,omitempty"`
	NoRestore   bool   `json:"noRestore"`
	MaxTabs     *int   `json:"maxTabs,omitempty"`
	TimeoutSec  int    `json:"timeoutSec,omitempty"`
	NavigateSec int    `json:"navigateSec,omitempty"`
}

func Load() *RuntimeConfig {
	cfg := &RuntimeConfig{
		HostURL:      envOr("VOXTAB_HOST_URL", "ws://127.0.0.1:9741/bridge"),
		Token:        os.Getenv("VOXTAB_TOKEN"),
		HealthBind:   envOr("VOXTAB_BIND", "127.0.0.1"),
		HealthPort:   envOr("VOXTAB_PORT", "9742"),
		CdpURL:       os.Getenv("CDP_URL"),
		StateDir:     envOr("VOXTAB_STATE_DIR", filepath.Join(homeDir(), ".voxtab")),
		ProfileDir:   envOr("VOXTAB_PROFILE", filepath.Join(homeDir(), ".voxtab", "chrome-profile")),
		ChromeBinary: os.Getenv("CHROME_BINARY"),
		Headless:     envBoolOr("VOXTAB_HEADLESS", true),
		NoRestore:    os.Getenv("VOXTAB_NO_RESTORE") == "true",
		MaxTabs:      envIntOr("VOXTAB_MAX_TABS", 20),

		ActionTimeout:   15 * time.Second,
		NavigateTimeout: 30 * time.Second,
		ShutdownTimeout: 10 * time.Second,

		RequestTimeout: 30 * time.Second,
		HeartbeatEvery: 30 * time.Second,
		ReconnectBase:  2 * time.Second,
		ReconnectCap:   60 * time.Second,
		MaxReconnects:  5,

		ClickRetries:    envIntOr("VOXTAB_CLICK_RETRIES", 3),
		ClickRetryDelay: 500 * time.Millisecond,

		MaxTextLength: 50000,
		MaxLinks:      100,
		MaxImages:     50,
	}

	configPath := envOr("VOXTAB_CONFIG", filepath.Join(homeDir(), ".voxtab", "config.json"))

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg
	}

	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return cfg
	}

	if fc.HostURL != "" && os.Getenv("VOXTAB_HOST_URL") == "" {
		cfg.HostURL = fc.HostURL
	}
	if fc.Token != "" && os.Getenv("VOXTAB_TOKEN") == "" {
		cfg.Token = fc.Token
	}
	if fc.CdpURL != "" && os.Getenv("CDP_URL") == "" {
		cfg.CdpURL = fc.CdpURL
	}
	if fc.StateDir != "" && os.Getenv("VOXTAB_STATE_DIR") == "" {
		cfg.StateDir = fc.StateDir
	}
	if fc.ProfileDir != "" && os.Getenv("VOXTAB_PROFILE") == "" {
		cfg.ProfileDir = fc.ProfileDir
	}
	if fc.Headless != nil && os.Getenv("VOXTAB_HEADLESS") == "" {
		cfg.Headless = *fc.Headless
	}
	if fc.NoRestore && os.Getenv("VOXTAB_NO_RESTORE") == "" {
		cfg.NoRestore = true
	}
	if fc.MaxTabs != nil && os.Getenv("VOXTAB_MAX_TABS") == "" {
		cfg.MaxTabs = *fc.MaxTabs
	}
	if fc.TimeoutSec > 0 {
		cfg.ActionTimeout = time.Duration(fc.TimeoutSec) * time.Second
	}
	if fc.NavigateSec > 0 {
		cfg.NavigateTimeout = time.Duration(fc.NavigateSec) * time.Second
	}

	return cfg
}

func DefaultFileConfig() FileConfig {
	h := true
	return FileConfig{
		HostURL:     "ws://127.0.0.1:9741/bridge",
		StateDir:    filepath.Join(homeDir(), ".voxtab"),
		ProfileDir:  filepath.Join(homeDir(), ".voxtab", "chrome-profile"),
		Headless:    &h,
		NoRestore:   false,
		TimeoutSec:  15,
		NavigateSec: 30,
	}
}

func HandleConfigCommand(cfg *RuntimeConfig) {
	if len(os.Args) < 3 {
		fmt.Println("Usage: voxtab config <command>")
		fmt.Println("Commands:")
		fmt.Println("  init    - Create default config file")
		fmt.Println("  show    - Show current configuration")
		return
	}

	switch os.Args[2] {
	case "init":
		configPath := filepath.Join(homeDir(), ".voxtab", "config.json")

		if _, err := os.Stat(configPath); err == nil {
			fmt.Printf("Config file already exists at %s\n", configPath)
			fmt.Print("Overwrite? (y/N): ")
			var response string
			_, _ = fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				return
			}
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			fmt.Printf("Error creating directory: %v\n", err)
			os.Exit(1)
		}

		fc := DefaultFileConfig()
		data, _ := json.MarshalIndent(fc, "", "  ")
		if err := os.WriteFile(configPath, data, 0644); err != nil {
			fmt.Printf("Error writing config: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Config file created at %s\n", configPath)

	case "show":
		fmt.Println("Current configuration:")
		fmt.Printf("  Host URL:   %s\n", cfg.HostURL)
		fmt.Printf("  Token:      %s\n", MaskToken(cfg.Token))
		fmt.Printf("  CDP URL:    %s\n", cfg.CdpURL)
		fmt.Printf("  State Dir:  %s\n", cfg.StateDir)
		fmt.Printf("  Profile:    %s\n", cfg.ProfileDir)
		fmt.Printf("  Headless:   %v\n", cfg.Headless)
		fmt.Printf("  Max Tabs:   %d\n", cfg.MaxTabs)
		fmt.Printf("  Timeouts:   action=%v navigate=%v\n", cfg.ActionTimeout, cfg.NavigateTimeout)
		fmt.Printf("  Reconnect:  base=%v cap=%v max=%d\n", cfg.ReconnectBase, cfg.ReconnectCap, cfg.MaxReconnects)

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[2])
		os.Exit(1)
	}
}

func MaskToken(t string) string {
	if t == "" {
		return "(none)"
	}
	if len(t) <= 8 {
		return "***"
	}
	return t[:4] + "..." + t[len(t)-4:]
}
