package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCRSBDefaultsWithOverrides(t *testing.T) {
	t.Setenv(EnvKernelProvider, "")
	t.Setenv(DefaultEnvKey, "secret-b")

	resolved := Load(Overrides{ToolAgentID: "custom-agent"}, FingerUserConfig{})

	require.Equal(t, DefaultProviderID, resolved.ProviderID)
	require.Equal(t, DefaultBaseURL, resolved.Provider.BaseURL)
	require.Equal(t, DefaultModel, resolved.Provider.Model)
	require.Equal(t, "secret-b", resolved.APIKey)
	require.Equal(t, "custom-agent", resolved.ToolAgentID)
}

func TestLoadCRSADefaults(t *testing.T) {
	t.Setenv(DefaultEnvKeyCRSA, "secret-a")

	resolved := Load(Overrides{ProviderID: DefaultProviderIDCRSA}, FingerUserConfig{})

	require.Equal(t, DefaultProviderIDCRSA, resolved.ProviderID)
	require.Equal(t, DefaultEnvKeyCRSA, resolved.Provider.EnvKey)
	require.Equal(t, "secret-a", resolved.APIKey)
}

func TestLocalDevKeySubstitutedForLoopback(t *testing.T) {
	t.Setenv(DefaultEnvKey, "")

	userCfg := FingerUserConfig{Kernel: KernelUserConfig{
		Providers: map[string]ProviderConfig{
			DefaultProviderID: {BaseURL: "http://127.0.0.1:8080"},
		},
	}}

	resolved := Load(Overrides{}, userCfg)
	require.Equal(t, LocalDevAPIKey, resolved.APIKey)
}

func TestUserConfigProviderOverridesMerge(t *testing.T) {
	userCfg := FingerUserConfig{Kernel: KernelUserConfig{
		Providers: map[string]ProviderConfig{
			DefaultProviderID: {Model: "custom-model"},
		},
	}}

	resolved := Load(Overrides{}, userCfg)
	require.Equal(t, "custom-model", resolved.Provider.Model)
	require.Equal(t, DefaultBaseURL, resolved.Provider.BaseURL)
}

func TestIsLocalBaseURL(t *testing.T) {
	require.True(t, IsLocalBaseURL("http://127.0.0.1:9999"))
	require.True(t, IsLocalBaseURL("http://localhost:9999"))
	require.False(t, IsLocalBaseURL("https://codex.funai.vip/openai"))
}
