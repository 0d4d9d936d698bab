package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const probeTimeout = 10 * time.Second

// Probe checks that the components repository is reachable. Transient
// network failures are retried with exponential backoff until the
// probe window closes; a definitive "repository does not exist" answer
// fails immediately.
//
// Only http(s) URLs are probed. Other schemes (ssh remotes, local
// paths) are assumed reachable since the runner resolves them with its
// own transport.
func Probe(ctx context.Context, client *http.Client, ref RepoRef) error {
	if !strings.HasPrefix(ref.URL, "http://") && !strings.HasPrefix(ref.URL, "https://") {
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = probeTimeout

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, ref.URL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build probe request: %w", err))
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("probe %s: %w", ref.URL, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("components repository not found: %s", ref.URL))
		case resp.StatusCode >= 500:
			return fmt.Errorf("components repository returned %d", resp.StatusCode)
		default:
			return nil
		}
	}

	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}
