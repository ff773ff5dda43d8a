package outbound

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// HTTPProvider delivers a payload as a JSON POST to a fixed endpoint with
// the tenant credential as a bearer token. The response status drives the
// failure class, so retry policy stays in the orchestrator.
type HTTPProvider struct {
	ProviderName string
	Endpoint     string
	Client       *http.Client
}

func NewHTTPProvider(name, endpoint string) *HTTPProvider {
	return &HTTPProvider{ProviderName: name, Endpoint: endpoint, Client: &http.Client{}}
}

// Name implements Provider.
func (p *HTTPProvider) Name() string { return p.ProviderName }

// Deliver implements Provider. The provider-side job reference is taken
// from the X-Job-ID response header when present.
func (p *HTTPProvider) Deliver(ctx context.Context, req Request) (string, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader([]byte(req.Payload)))
	if err != nil {
		return "", NewProviderError(p.ProviderName, ClassPermanent, err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("X-Tenant-ID", req.TenantID)
	if req.Credential.Token != "" {
		hreq.Header.Set("Authorization", "Bearer "+req.Credential.Token)
	}

	resp, err := p.Client.Do(hreq)
	if err != nil {
		return "", NewProviderError(p.ProviderName, ClassNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.Header.Get("X-Job-ID"), nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	return "", NewProviderError(p.ProviderName, classifyStatus(resp.StatusCode), cause)
}

func classifyStatus(code int) Class {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ClassAuth
	case code == http.StatusTooManyRequests:
		return ClassRateLimit
	case code == http.StatusRequestTimeout:
		return ClassNetwork
	case code >= 500:
		return ClassTemporary
	default:
		return ClassPermanent
	}
}

// LogProvider records deliveries to the log instead of an external
// service. Used when a provider endpoint is not configured.
type LogProvider struct {
	ProviderName string
}

// Name implements Provider.
func (p *LogProvider) Name() string { return p.ProviderName }

// Deliver implements Provider.
func (p *LogProvider) Deliver(ctx context.Context, req Request) (string, error) {
	log.Ctx(ctx).Info().
		Str("provider", p.ProviderName).
		Str("tenant_id", req.TenantID).
		Str("event_type", req.EventType).
		Msg("log-only delivery")
	return "", nil
}

// ProviderFor returns an HTTP provider when an endpoint is configured and
// the log-only provider otherwise.
func ProviderFor(name, endpoint string) Provider {
	if endpoint == "" {
		return &LogProvider{ProviderName: name}
	}
	return NewHTTPProvider(name, endpoint)
}

var _ Provider = (*HTTPProvider)(nil)
var _ Provider = (*LogProvider)(nil)
