// Package config resolves provider, model, and tool-daemon
// configuration from CLI overrides, environment variables, and the
// user config file at $HOME/.finger/config.json, in that precedence
// order, falling back to hardcoded defaults.
//
// Grounded on _examples/original_source/rust/kernel-config.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Named defaults, preserved verbatim from the reference implementation
// (see DESIGN.md for the decision to keep these literal values).
const (
	DefaultProviderID     = "crsb"
	DefaultBaseURL        = "https://codex.funai.vip/openai"
	DefaultWireAPI        = "responses"
	DefaultEnvKey         = "CRS_OAI_KEY2"
	DefaultModel          = "gpt-5.3-codex"
	DefaultProviderIDCRSA = "crsa"
	DefaultEnvKeyCRSA     = "CRS_OAI_KEY1"

	DefaultToolDaemonURL = "http://127.0.0.1:9999"
	DefaultToolAgentID   = "chat-codex"

	// LocalDevAPIKey substitutes for a missing API key when the
	// resolved base URL is loopback.
	LocalDevAPIKey = "local-dev-key"
)

// Environment variable names consulted during resolution.
const (
	EnvKernelProvider = "FINGER_KERNEL_PROVIDER"
	EnvConfigPath     = "FINGER_CONFIG_PATH"
	EnvToolDaemonURL  = "FINGER_TOOL_DAEMON_URL"
	EnvToolAgentID    = "FINGER_TOOL_AGENT_ID"
)

// ProviderConfig describes one named upstream chat-completion provider.
type ProviderConfig struct {
	Name    string `json:"name,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	WireAPI string `json:"wire_api,omitempty"`
	EnvKey  string `json:"env_key,omitempty"`
	Model   string `json:"model,omitempty"`
}

// KernelUserConfig is the "kernel" object inside the user config file.
type KernelUserConfig struct {
	Provider      string                    `json:"provider,omitempty"`
	ToolDaemonURL string                    `json:"tool_daemon_url,omitempty"`
	ToolAgentID   string                    `json:"tool_agent_id,omitempty"`
	Providers     map[string]ProviderConfig `json:"providers,omitempty"`
}

// FingerUserConfig is the full shape of $HOME/.finger/config.json.
type FingerUserConfig struct {
	Kernel KernelUserConfig `json:"kernel"`
}

// Overrides carries explicit, highest-precedence values (e.g. from CLI flags).
type Overrides struct {
	ProviderID    string
	ToolDaemonURL string
	ToolAgentID   string
}

// Resolved is the fully-resolved configuration the kernel runs with.
type Resolved struct {
	ProviderID    string
	Provider      ProviderConfig
	ToolDaemonURL string
	ToolAgentID   string
	APIKey        string
}

// ResolveConfigPath returns the user config file path: FINGER_CONFIG_PATH
// if set, else $HOME/.finger/config.json, falling back to "." if HOME
// is unset.
func ResolveConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	home := os.Getenv("HOME")
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".finger", "config.json")
}

// LoadUserConfig reads and parses the user config file, returning a
// zero-value FingerUserConfig (not an error) when the file is absent.
func LoadUserConfig(path string) (FingerUserConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FingerUserConfig{}, nil
		}
		return FingerUserConfig{}, err
	}
	var cfg FingerUserConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return FingerUserConfig{}, err
	}
	return cfg, nil
}

// IsLocalBaseURL reports whether baseURL points at a loopback address.
func IsLocalBaseURL(baseURL string) bool {
	lower := strings.ToLower(baseURL)
	return strings.HasPrefix(lower, "http://127.0.0.1") || strings.HasPrefix(lower, "http://localhost")
}

func defaultProviderConfig(providerID string) ProviderConfig {
	if providerID == DefaultProviderIDCRSA {
		return ProviderConfig{
			Name:    DefaultProviderIDCRSA,
			BaseURL: DefaultBaseURL,
			WireAPI: DefaultWireAPI,
			EnvKey:  DefaultEnvKeyCRSA,
			Model:   DefaultModel,
		}
	}
	return ProviderConfig{
		Name:    DefaultProviderID,
		BaseURL: DefaultBaseURL,
		WireAPI: DefaultWireAPI,
		EnvKey:  DefaultEnvKey,
		Model:   DefaultModel,
	}
}

// Load resolves the full configuration: override > environment variable
// > user config file > hardcoded default, independently for each field.
func Load(overrides Overrides, userCfg FingerUserConfig) Resolved {
	providerID := firstNonEmpty(overrides.ProviderID, os.Getenv(EnvKernelProvider), userCfg.Kernel.Provider, DefaultProviderID)
	toolDaemonURL := firstNonEmpty(overrides.ToolDaemonURL, os.Getenv(EnvToolDaemonURL), userCfg.Kernel.ToolDaemonURL, DefaultToolDaemonURL)
	toolAgentID := firstNonEmpty(overrides.ToolAgentID, os.Getenv(EnvToolAgentID), userCfg.Kernel.ToolAgentID, DefaultToolAgentID)

	provider := defaultProviderConfig(providerID)
	if fileProvider, ok := userCfg.Kernel.Providers[providerID]; ok {
		provider = mergeProvider(provider, fileProvider)
	}

	apiKey := os.Getenv(provider.EnvKey)
	if apiKey == "" && IsLocalBaseURL(provider.BaseURL) {
		apiKey = LocalDevAPIKey
	}

	return Resolved{
		ProviderID:    providerID,
		Provider:      provider,
		ToolDaemonURL: toolDaemonURL,
		ToolAgentID:   toolAgentID,
		APIKey:        apiKey,
	}
}

func mergeProvider(base, override ProviderConfig) ProviderConfig {
	if override.Name != "" {
		base.Name = override.Name
	}
	if override.BaseURL != "" {
		base.BaseURL = override.BaseURL
	}
	if override.WireAPI != "" {
		base.WireAPI = override.WireAPI
	}
	if override.EnvKey != "" {
		base.EnvKey = override.EnvKey
	}
	if override.Model != "" {
		base.Model = override.Model
	}
	return base
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
