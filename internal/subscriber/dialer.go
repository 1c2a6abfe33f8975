package subscriber

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPDialer connects to the server's event stream endpoint.
type HTTPDialer struct {
	BaseURL string
	Client  *http.Client
}

func (d *HTTPDialer) Dial(ctx context.Context, ownerID string) (io.ReadCloser, error) {
	client := d.Client
	if client == nil {
		// No timeout: the stream is long-lived.
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.BaseURL+"/api/uploads/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Owner-ID", ownerID)
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
