package pyservice

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Prober is anything that can answer a GET, typically a *Client.
type Prober interface {
	Name() string
	Get(ctx context.Context, path string, query url.Values) Response
}

// CheckHealth probes GET /health on every client concurrently. A service that
// fails to answer is reported unhealthy; the check itself never fails.
func CheckHealth(ctx context.Context, clients ...Prober) map[string]bool {
	status := make(map[string]bool, len(clients))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, client := range clients {
		client := client
		g.Go(func() error {
			resp := client.Get(gctx, "/health", nil)
			mu.Lock()
			status[client.Name()] = resp.Success
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return status
}

// AllHealthy reports whether every entry in status is true.
func AllHealthy(status map[string]bool) bool {
	for _, ok := range status {
		if !ok {
			return false
		}
	}
	return true
}
