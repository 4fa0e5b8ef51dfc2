// Package mock provides an in-memory urlscan.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callbroker/pkg/provider/urlscan"
)

// Provider returns a canned Result (or Err) for every Scan call and records
// each URL it was asked to scan.
type Provider struct {
	mu      sync.Mutex
	Result  urlscan.Result
	Err     error
	Scanned []string
}

// Scan returns p.Result/p.Err and records the URL.
func (p *Provider) Scan(_ context.Context, url string) (urlscan.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Scanned = append(p.Scanned, url)
	if p.Err != nil {
		return urlscan.Result{}, p.Err
	}
	res := p.Result
	res.URL = url
	return res, nil
}

var _ urlscan.Provider = (*Provider)(nil)
