package upstream

import (
	"net/http"

	"github.com/papercomputeco/wsrelay/pkg/llm"
	"github.com/papercomputeco/wsrelay/pkg/utils"
)

const (
	// apiKeyHeader carries the key for FlavorAPIKey endpoints.
	apiKeyHeader = "API-Key"
)

// setRequestHeaders sets content negotiation and flavor-specific auth headers
// on an outgoing upstream request.
func setRequestHeaders(req *http.Request, flavor llm.Flavor, key string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", utils.UserAgent())

	// Accept-Encoding is left unset so that Go's http.Transport negotiates
	// gzip itself and transparently decompresses the stream.

	if key == "" {
		return
	}

	switch flavor {
	case llm.FlavorAPIKey:
		req.Header.Set(apiKeyHeader, key)
	default:
		req.Header.Set("Authorization", "Bearer "+key)
	}
}
