package tunnel

import (
	"context"
	"io"
	"net/http"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat/schema"
)

// DefaultProbeTimeout applies when Verify is called without a deadline.
const DefaultProbeTimeout = 10 * time.Second

func probe(ctx context.Context, client *http.Client, log pslog.Logger, baseURL string) error {
	url := baseURL + ProbePath
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultProbeTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &schema.VerifyError{URL: url, Err: err}
	}
	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		log.Warn("tunnel verify failed", "url", url, "err", err)
		return &schema.VerifyError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		log.Warn("tunnel verify failed", "url", url, "status", resp.StatusCode)
		return &schema.VerifyError{URL: url, Status: resp.StatusCode}
	}
	log.Info("tunnel verify ok", "url", url, "elapsed", time.Since(started))
	return nil
}
