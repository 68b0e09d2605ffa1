package score

import (
	"fmt"
	"net/http"

	"github.com/squeezewatch/squeezewatch/internal/config"
)

// New returns the Provider described by cfg.
// HTTP-backed providers build their client once and reuse it.
func New(cfg config.ScoreConfig) (Provider, error) {
	switch cfg.Type {
	case "squeeze":
		return &squeezeProvider{
			endpoint: cfg.Endpoint,
			apiKey:   cfg.APIKey(),
			client:   buildHTTPClient(cfg, false),
		}, nil
	case "prometheus":
		return &promProvider{
			endpoint: cfg.Endpoint,
			metric:   cfg.Metric,
			label:    cfg.Label,
			client:   buildHTTPClient(cfg, true),
		}, nil
	case "static":
		return NewStatic(cfg.Static), nil
	default:
		return nil, fmt.Errorf("score: unsupported provider type %q", cfg.Type)
	}
}

// authRoundTripper injects the provider key header into every outgoing request.
type authRoundTripper struct {
	base   http.RoundTripper
	header string
	key    string
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.key != "" {
		req = req.Clone(req.Context())
		req.Header.Set(t.header, t.key)
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs the provider's http.Client. The per-call timeout
// is enforced by the Gateway's context, so the client carries none of its own.
// When headerAuth is set, the API key travels in cfg.AuthHeader.
func buildHTTPClient(cfg config.ScoreConfig, headerAuth bool) *http.Client {
	var transport http.RoundTripper = http.DefaultTransport
	if headerAuth && cfg.APIKey() != "" {
		header := cfg.AuthHeader
		if header == "" {
			header = config.DefaultAuthHeader
		}
		transport = &authRoundTripper{base: transport, header: header, key: cfg.APIKey()}
	}
	return &http.Client{Transport: transport}
}
