package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
)

// ScriptLoader fetches the gateway's checkout script before handing out the
// SDK. A fetch that fails (network error, blocked, non-2xx) fails the load.
type ScriptLoader struct {
	url    string
	sdk    SDK
	client *http.Client
}

// NewScriptLoader creates a ScriptLoader for the script at url. client may be
// nil.
func NewScriptLoader(url string, sdk SDK, client *http.Client) *ScriptLoader {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ScriptLoader{url: url, sdk: sdk, client: client}
}

// Load implements Loader.
func (l *ScriptLoader) Load(ctx context.Context) (SDK, error) {
	if l.url == "" {
		return l.sdk, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch gateway script")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("fetch gateway script: unexpected status %d", resp.StatusCode)
	}
	return l.sdk, nil
}
