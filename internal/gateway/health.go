package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/logline-run/logline/infrastructure/httputil"
)

const healthzTimeout = 2 * time.Second

// healthzResponse is the aggregated body spec.md §4.6 names.
type healthzResponse struct {
	Gateway  string            `json:"gateway"`
	Services map[string]string `json:"services"`
}

// HealthzHandler queries /health on every configured backend in parallel
// with a bounded timeout and reports aggregated status.
func HealthzHandler(backendURLs map[string]string, client *http.Client) http.HandlerFunc {
	if client == nil {
		client = &http.Client{}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		results := make(map[string]string, len(backendURLs))
		var mu sync.Mutex
		var wg sync.WaitGroup

		for name, base := range backendURLs {
			name, base := name, base
			wg.Add(1)
			go func() {
				defer wg.Done()
				status := probeHealth(r.Context(), client, base)
				mu.Lock()
				results[name] = status
				mu.Unlock()
			}()
		}
		wg.Wait()

		overall := "ok"
		for _, status := range results {
			if status != "ok" {
				overall = "degraded"
				break
			}
		}

		httputil.WriteJSON(w, http.StatusOK, healthzResponse{Gateway: overall, Services: results})
	}
}

func probeHealth(ctx context.Context, client *http.Client, base string) string {
	ctx, cancel := context.WithTimeout(ctx, healthzTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return "degraded"
	}
	resp, err := client.Do(req)
	if err != nil {
		return "degraded"
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "degraded"
	}
	return "ok"
}
