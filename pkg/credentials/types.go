package credentials

import "github.com/papercomputeco/wsrelay/pkg/llm"

// Credential is what the chat client needs to reach one upstream flavor.
type Credential struct {
	APIKey string `toml:"api_key"`

	// BaseURL, when set, is sent as the relay request's baseURL so the relay
	// does not fall back to its configured upstream. Azure deployments need it.
	BaseURL string `toml:"base_url,omitempty"`
}

// Source says where a resolved key came from.
type Source string

const (
	SourceNone   Source = ""
	SourceEnv    Source = "env"
	SourceStored Source = "stored"
)

// Resolved is a Credential together with the origin of its key.
type Resolved struct {
	Credential
	Flavor llm.Flavor
	Source Source
}

// file is the on-disk layout of credentials.toml:
//
//	version = 1
//
//	[upstream.apikey]
//	api_key = "..."
//	base_url = "https://example.openai.azure.com/openai/deployments/gpt/chat/completions?api-version=2024-06-01"
type file struct {
	Version   int                   `toml:"version"`
	Upstreams map[string]Credential `toml:"upstream"`
}
