package signaling

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/breeze-rmm/agent/internal/httputil"
)

const (
	defaultResolveInterval = 5 * time.Minute
	resolverInitialBackoff = 5 * time.Second
	resolverMaxBackoff     = 5 * time.Minute
)

// resolverDoc is the resolver endpoint's HTTP response shape.
type resolverDoc struct {
	URL string `json:"url"`
}

// Resolver periodically discovers the relay's current WebSocket endpoint
// and drives (re)connects on the injected Client whenever that endpoint
// changes or the client isn't currently connected. The individual HTTP
// GET retries through internal/httputil; the resolver's own outer
// exponential backoff spans whole polls and layers on top.
type Resolver struct {
	client          *Client
	httpClient      *http.Client
	resolverURL     string
	interval        time.Duration
	currentEndpoint string
}

// NewResolver builds a Resolver that drives client's (re)connects. interval
// is the steady-state poll period once resolution is succeeding (default 5
// minutes if zero).
func NewResolver(client *Client, resolverURL string, interval time.Duration) *Resolver {
	if interval <= 0 {
		interval = defaultResolveInterval
	}
	return &Resolver{
		client:      client,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		resolverURL: resolverURL,
		interval:    interval,
	}
}

// Run drives the resolve-then-(re)connect loop until ctx is canceled. It
// resolves once immediately on entry rather than waiting a full interval.
func (r *Resolver) Run(ctx context.Context) {
	backoff := resolverInitialBackoff

	for {
		endpoint, err := r.resolveOnce(ctx)
		if err != nil {
			log.Warn("resolver: lookup failed, keeping last known endpoint", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > resolverMaxBackoff {
				backoff = resolverMaxBackoff
			}
			continue
		}
		backoff = resolverInitialBackoff

		// Connect supersedes any live socket and fires the disconnect
		// handler for it, so an endpoint change tears the current session
		// lease down before the new handshake begins.
		if endpoint != r.currentEndpoint || !r.client.Connected() {
			r.currentEndpoint = endpoint
			if connErr := r.client.Connect(endpoint); connErr != nil {
				log.Warn("resolver: connect failed", "endpoint", endpoint, "error", connErr)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.interval):
		}
	}
}

// resolveOnce returns the current signaling endpoint: either the resolver
// URL verbatim, when it is already an absolute ws(s):// URI (bypassing HTTP
// entirely for local deployments), or the `url` field of the resolver's
// JSON document.
func (r *Resolver) resolveOnce(ctx context.Context) (string, error) {
	if isAbsoluteWS(r.resolverURL) {
		return r.resolverURL, nil
	}

	resp, err := httputil.Do(ctx, r.httpClient, http.MethodGet, r.resolverURL, nil, nil, httputil.DefaultRetryConfig())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &httpStatusError{status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", err
	}
	var doc resolverDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", err
	}
	if doc.URL == "" {
		return "", errEmptyResolverDoc
	}
	return doc.URL, nil
}

type httpStatusError struct{ status int }

func (e *httpStatusError) Error() string {
	return "resolver: unexpected HTTP status " + http.StatusText(e.status)
}

var errEmptyResolverDoc = &emptyResolverDocError{}

type emptyResolverDocError struct{}

func (e *emptyResolverDocError) Error() string { return "resolver: response had empty url field" }
