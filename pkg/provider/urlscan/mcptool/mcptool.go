// Package mcptool adapts urlscan.Provider to a URL-reputation tool invoked
// over the Model Context Protocol, so any MCP-compliant scanning service can
// back the intelligence extractor without this package knowing its transport.
package mcptool

import (
	"context"
	"fmt"

	"github.com/MrWong99/callbroker/internal/mcp"
	"github.com/MrWong99/callbroker/pkg/provider/urlscan"
)

// defaultToolName is the MCP tool name this adapter calls. Servers that
// expose the scanner under a different name should set WithToolName.
const defaultToolName = "scan_url"

// Option configures a Provider.
type Option func(*Provider)

// WithToolName overrides the MCP tool name to invoke.
func WithToolName(name string) Option {
	return func(p *Provider) { p.toolName = name }
}

// Provider calls a URL-reputation tool over an established MCP client
// session.
type Provider struct {
	client   *mcp.Client
	toolName string
}

// New wraps an already-dialed MCP client as a urlscan.Provider.
func New(client *mcp.Client, opts ...Option) *Provider {
	p := &Provider{client: client, toolName: defaultToolName}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type scanArgs struct {
	URL string `json:"url"`
}

type scanResponse struct {
	Verdict string   `json:"verdict"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// Scan invokes the configured MCP tool with {"url": url} and parses its JSON
// text result into a urlscan.Result.
func (p *Provider) Scan(ctx context.Context, url string) (urlscan.Result, error) {
	var resp scanResponse
	if err := p.client.CallToolJSON(ctx, p.toolName, scanArgs{URL: url}, &resp); err != nil {
		return urlscan.Result{}, fmt.Errorf("mcptool: scan %q: %w", url, err)
	}
	return toResult(url, resp), nil
}

// toResult maps the tool's wire response onto urlscan.Result, normalising
// any verdict string the tool didn't report as one of the known values to
// VerdictUnknown rather than failing the scan.
func toResult(url string, resp scanResponse) urlscan.Result {
	verdict := urlscan.Verdict(resp.Verdict)
	switch verdict {
	case urlscan.VerdictBenign, urlscan.VerdictSuspicious, urlscan.VerdictMalicious:
	default:
		verdict = urlscan.VerdictUnknown
	}

	return urlscan.Result{
		URL:     url,
		Verdict: verdict,
		Score:   resp.Score,
		Reasons: resp.Reasons,
	}
}

var _ urlscan.Provider = (*Provider)(nil)
