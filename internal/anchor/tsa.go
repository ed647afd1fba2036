package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	dErrors "olocus/pkg/domain-errors"

	"olocus/internal/crypto"
)

// TimestampAuthority countersigns an anchor digest with a trusted clock.
type TimestampAuthority interface {
	Timestamp(ctx context.Context, digest crypto.Hash) (*TimestampToken, error)
	Name() string
}

// HTTPTimestampAuthority talks to a single RFC 3161 style endpoint over a
// JSON shim. The request carries the hex digest; the response returns the
// opaque token and the asserted time.
type HTTPTimestampAuthority struct {
	url    string
	client *http.Client
}

func NewHTTPTimestampAuthority(url string, timeout time.Duration) *HTTPTimestampAuthority {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTimestampAuthority{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTimestampAuthority) Name() string { return t.url }

type tsaRequest struct {
	Digest string `json:"digest"`
}

type tsaResponse struct {
	Token      []byte    `json:"token"`
	AssertedAt time.Time `json:"asserted_at"`
}

func (t *HTTPTimestampAuthority) Timestamp(ctx context.Context, digest crypto.Hash) (*TimestampToken, error) {
	body, err := json.Marshal(tsaRequest{Digest: digest.Hex()})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode timestamp request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimestampAuthority, "build timestamp request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimestampAuthority, "timestamp authority unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, dErrors.Newf(dErrors.CodeTimestampAuthority, "timestamp authority %s returned %d", t.url, resp.StatusCode)
	}

	var out tsaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimestampAuthority, "decode timestamp response")
	}
	if len(out.Token) == 0 || out.AssertedAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeTimestampAuthority, "timestamp response missing token or time")
	}

	return &TimestampToken{
		Authority:  t.url,
		Token:      out.Token,
		AssertedAt: out.AssertedAt.UTC(),
	}, nil
}

// FallbackAuthority tries the primary, then each backup in order. Every
// attempt after the first waits with exponential backoff so a flapping
// primary does not hammer the backups.
type FallbackAuthority struct {
	authorities []TimestampAuthority
	baseDelay   time.Duration
	logger      *slog.Logger
}

type FallbackOption func(*FallbackAuthority)

func WithFallbackLogger(logger *slog.Logger) FallbackOption {
	return func(f *FallbackAuthority) {
		f.logger = logger
	}
}

func WithBaseDelay(d time.Duration) FallbackOption {
	return func(f *FallbackAuthority) {
		f.baseDelay = d
	}
}

func NewFallbackAuthority(authorities []TimestampAuthority, opts ...FallbackOption) *FallbackAuthority {
	f := &FallbackAuthority{
		authorities: authorities,
		baseDelay:   500 * time.Millisecond,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FallbackAuthority) Name() string {
	if len(f.authorities) == 0 {
		return "none"
	}
	return f.authorities[0].Name()
}

func (f *FallbackAuthority) Timestamp(ctx context.Context, digest crypto.Hash) (*TimestampToken, error) {
	if len(f.authorities) == 0 {
		return nil, dErrors.New(dErrors.CodeTimestampAuthority, "no timestamp authorities configured")
	}

	var lastErr error
	delay := f.baseDelay
	for i, authority := range f.authorities {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimestampAuthority, "timestamp fallback cancelled")
			case <-time.After(delay):
			}
			delay *= 2
		}

		token, err := authority.Timestamp(ctx, digest)
		if err == nil {
			return token, nil
		}
		lastErr = err
		f.logger.WarnContext(ctx, "timestamp authority failed, trying next",
			"authority", authority.Name(),
			"attempt", i+1,
			"error", err,
		)
	}
	return nil, dErrors.Wrap(lastErr, dErrors.CodeTimestampAuthority,
		fmt.Sprintf("all %d timestamp authorities failed", len(f.authorities)))
}
