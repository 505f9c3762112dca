package samples

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"graphony/internal/util"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// FetchErrorKind classifies remote failures so callers can react without
// string matching. None of these are fatal to playback: the scheduler
// falls back to a synthesized voice.
type FetchErrorKind string

const (
	FetchTimeout     FetchErrorKind = "timeout"
	FetchNotFound    FetchErrorKind = "not_found"
	FetchClientError FetchErrorKind = "client_error"
	FetchServerError FetchErrorKind = "server_error"
	FetchTransport   FetchErrorKind = "transport"
)

// FetchError is the typed error returned for any remote repository
// failure.
type FetchError struct {
	Kind     FetchErrorKind
	SampleID int64
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("sample fetch failed (%s, status %d): sample %d", e.Kind, e.Status, e.SampleID)
	}
	return fmt.Sprintf("sample fetch failed (%s): sample %d: %v", e.Kind, e.SampleID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Metadata describes one remote sample.
type Metadata struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	GenreTag   string `json:"genre"`
	DurationMs int    `json:"duration_ms"`
	License    string `json:"license"`
	SizeBytes  int64  `json:"size_bytes"`
}

// SearchParams filters a metadata search.
type SearchParams struct {
	GenreTag      string
	Licenses      []string
	MaxDurationMs int
	Limit         int
}

// Client talks to the remote sample repository API. Requests are rate
// limited and bounded in concurrency so preloading cannot starve the
// playback path.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client

	reqLock    *semaphore.Weighted
	limiter    *rate.Limiter
	maxRetries int
}

// NewClientParams contains configuration options for creating a Client.
type NewClientParams struct {
	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
	RequestsPerSecond     float64
	MaxRetries            int

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewClient creates a repository client for the given base URL.
func NewClient(params NewClientParams) (*Client, error) {
	u, err := url.Parse(params.BaseURL)
	if err != nil {
		return nil, err
	}

	maxConcurrent := params.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	rps := params.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &headerTransport{
				headers: map[string]string{
					"Authorization": "Bearer " + params.ApiKey,
				},
				rt: http.DefaultTransport,
			},
		}
	}

	return &Client{
		baseURL:    u,
		apiKey:     params.ApiKey,
		httpClient: httpClient,
		reqLock:    semaphore.NewWeighted(maxConcurrent),
		limiter:    rate.NewLimiter(rate.Limit(rps), int(maxConcurrent)),
		maxRetries: maxRetries,
	}, nil
}

// Search queries sample metadata by genre with optional license and
// duration filters.
func (c *Client) Search(ctx context.Context, params SearchParams) ([]Metadata, error) {
	query := url.Values{}
	if params.GenreTag != "" {
		query.Set("genre", params.GenreTag)
	}
	for _, license := range params.Licenses {
		query.Add("license", license)
	}
	if params.MaxDurationMs > 0 {
		query.Set("max_duration_ms", strconv.Itoa(params.MaxDurationMs))
	}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}

	body, err := c.do(ctx, 0, "/samples?"+query.Encode())
	if err != nil {
		return nil, err
	}

	var results []Metadata
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, &FetchError{Kind: FetchTransport, Err: err}
	}
	return results, nil
}

// Fetch downloads the binary audio payload and metadata for a sample id.
func (c *Client) Fetch(ctx context.Context, sampleID int64) ([]byte, Metadata, error) {
	metaBody, err := c.do(ctx, sampleID, fmt.Sprintf("/samples/%d", sampleID))
	if err != nil {
		return nil, Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(metaBody, &meta); err != nil {
		return nil, Metadata{}, &FetchError{Kind: FetchTransport, SampleID: sampleID, Err: err}
	}

	payload, err := c.do(ctx, sampleID, fmt.Sprintf("/samples/%d/download", sampleID))
	if err != nil {
		return nil, Metadata{}, err
	}
	return payload, meta, nil
}

// do performs one rate-limited, retried GET against the repository.
func (c *Client) do(ctx context.Context, sampleID int64, path string) ([]byte, error) {
	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, &FetchError{Kind: FetchTimeout, SampleID: sampleID, Err: err}
	}
	defer c.reqLock.Release(1)

	// 4xx responses are final; retrying cannot fix them.
	var permanent *FetchError
	var body []byte
	err := util.RetryErrWithContext(ctx, c.maxRetries, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return &FetchError{Kind: FetchTimeout, SampleID: sampleID, Err: err}
		}

		endpoint := strings.TrimSuffix(c.baseURL.String(), "/") + path
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return &FetchError{Kind: FetchTransport, SampleID: sampleID, Err: err}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			kind := FetchTransport
			if errors.Is(err, context.DeadlineExceeded) {
				kind = FetchTimeout
			}
			return &FetchError{Kind: kind, SampleID: sampleID, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			fe := classifyStatus(resp.StatusCode, sampleID)
			if fe.Kind == FetchNotFound || fe.Kind == FetchClientError {
				permanent = fe
				return nil
			}
			return fe
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return &FetchError{Kind: FetchTransport, SampleID: sampleID, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if permanent != nil {
		return nil, permanent
	}
	return body, nil
}

func classifyStatus(status int, sampleID int64) *FetchError {
	switch {
	case status == http.StatusNotFound:
		return &FetchError{Kind: FetchNotFound, SampleID: sampleID, Status: status}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &FetchError{Kind: FetchTimeout, SampleID: sampleID, Status: status}
	case status >= 400 && status < 500:
		return &FetchError{Kind: FetchClientError, SampleID: sampleID, Status: status}
	default:
		return &FetchError{Kind: FetchServerError, SampleID: sampleID, Status: status}
	}
}
