package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/FranksOps/lookout/pkg/httpclient"
)

// maxPayloadBytes bounds a single dataset or result file download.
const maxPayloadBytes = 64 << 20

// getRaw downloads rawURL and returns its body. Non-2xx answers surface as a
// *httpclient.StatusError.
func getRaw(ctx context.Context, client *httpclient.Client, rawURL string, header http.Header) ([]byte, error) {
	resp, err := client.Get(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := httpclient.CheckStatus(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("context: read body: %w", err)
	}
	if len(body) > maxPayloadBytes {
		return nil, fmt.Errorf("context: payload exceeds %d bytes", maxPayloadBytes)
	}
	return body, nil
}

// launchErr converts a transport or status failure into a *LaunchError.
func launchErr(provider, op string, err error) *LaunchError {
	le := &LaunchError{Provider: provider, Op: op}
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		le.StatusCode = se.StatusCode
		le.Body = se.Body
		return le
	}
	le.Err = err
	return le
}
