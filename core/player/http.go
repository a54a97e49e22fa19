package player

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultHeadBytes is how much of a rendition HTTPPreloader fetches.
const DefaultHeadBytes = 512 << 10

// HTTPPreloader fetches the head of a rendition with a range request and
// records the transfer in Network. Renditions are encoded with their index
// at the front, so the head is what a swap needs regardless of position.
type HTTPPreloader struct {
	Client    *http.Client
	Network   *NetworkEstimator
	HeadBytes int64
	Now       func() time.Time
}

// Preload implements Preloader.
func (h *HTTPPreloader) Preload(ctx context.Context, src Source, position time.Duration) error {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	n := h.HeadBytes
	if n <= 0 {
		n = DefaultHeadBytes
	}
	now := h.Now
	if now == nil {
		now = time.Now
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return fmt.Errorf("preload %s: %w", src.Label, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", n-1))

	start := now()
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("preload %s: %w", src.Label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("preload %s: unexpected status %d", src.Label, resp.StatusCode)
	}
	read, err := io.Copy(io.Discard, io.LimitReader(resp.Body, n))
	if err != nil {
		return fmt.Errorf("preload %s: %w", src.Label, err)
	}
	if h.Network != nil {
		h.Network.AddTransfer(read, now().Sub(start).Seconds())
	}
	return nil
}
