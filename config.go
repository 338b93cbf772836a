package agentloop

import (
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// Environment variables consulted by the config resolver. Explicit profile
// values always win over these; these win over built-in defaults.
const (
	EnvGeminiAPIKey    = "GEMINI_API_KEY"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvOpenAIBaseURL   = "OPENAI_BASE_URL"
	EnvOllamaHost      = "OLLAMA_HOST"
	EnvModelOverride   = "AGENTLOOP_MODEL"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// APIKeyFromEnv returns the conventional environment credential for a
// backend family, or "".
func APIKeyFromEnv(id ProviderID) string {
	switch id {
	case ProviderGemini:
		return getEnv(EnvGeminiAPIKey, "")
	case ProviderAnthropic:
		return getEnv(EnvAnthropicAPIKey, "")
	case ProviderOpenAICompat:
		return getEnv(EnvOpenAIAPIKey, "")
	default:
		return ""
	}
}

// EndpointFromEnv returns the environment endpoint override for a backend
// family, or "".
func EndpointFromEnv(id ProviderID) string {
	switch id {
	case ProviderOpenAICompat:
		return getEnv(EnvOpenAIBaseURL, "")
	case ProviderOllama:
		return getEnv(EnvOllamaHost, "")
	default:
		return ""
	}
}

// ModelOverrideFromEnv returns the cross-backend model override, or "".
func ModelOverrideFromEnv() string {
	return getEnv(EnvModelOverride, "")
}

// StoredCredential is one entry of the persisted credential store, written
// by an out-of-band login flow (API key or OAuth token).
type StoredCredential struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key,omitempty"`
	// OAuthToken is a bearer token minted by an interactive login; used
	// when no API key is present.
	OAuthToken string `json:"oauth_token,omitempty"`
}

type credentialFile struct {
	Credentials []StoredCredential `json:"credentials"`
}

// DefaultCredentialPath returns the persisted credential store location.
func DefaultCredentialPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".agentloop", "credentials.json")
}

// LoadStoredCredential reads the credential store and returns the entry for
// a provider. A missing or unreadable store is not an error; resolution
// simply moves on to the next source.
func LoadStoredCredential(path string, id ProviderID) (StoredCredential, bool) {
	if path == "" {
		return StoredCredential{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return StoredCredential{}, false
	}
	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return StoredCredential{}, false
	}
	for _, cred := range file.Credentials {
		if cred.Provider == id.String() {
			return cred, true
		}
	}
	return StoredCredential{}, false
}

// Token returns the usable secret of a credential: the API key when present,
// otherwise the OAuth token.
func (c StoredCredential) Token() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return c.OAuthToken
}
