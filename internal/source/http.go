package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"concytec/internal/graph/models"
	"concytec/internal/platform/metrics"
	"concytec/pkg/platform/circuit"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPProvider reads external records served as JSON documents of the form
//
//	{"id": "...", "metadata": [{"key": "dc.title", "value": "...", "authority": "...", "confidence": 600}]}
//
// The metadata array is decoded one record at a time.
type HTTPProvider struct {
	id      string
	host    string
	client  *http.Client
	apiKey  string
	breaker *circuit.Breaker
	metrics *metrics.Metrics
}

type HTTPOption func(*HTTPProvider)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider) {
		if c != nil {
			p.client = c
		}
	}
}

func WithAPIKey(key string) HTTPOption {
	return func(p *HTTPProvider) {
		p.apiKey = key
	}
}

func WithBreaker(b *circuit.Breaker) HTTPOption {
	return func(p *HTTPProvider) {
		p.breaker = b
	}
}

func WithMetrics(m *metrics.Metrics) HTTPOption {
	return func(p *HTTPProvider) {
		p.metrics = m
	}
}

// NewHTTPProvider handles every URI on host.
func NewHTTPProvider(providerID, host string, opts ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		id:      providerID,
		host:    strings.ToLower(host),
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		breaker: circuit.New(providerID),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *HTTPProvider) ID() string { return p.id }

func (p *HTTPProvider) Handles(u *url.URL) bool {
	return strings.EqualFold(u.Hostname(), p.host)
}

type record struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	Authority  string `json:"authority"`
	Confidence *int   `json:"confidence"`
}

func (p *HTTPProvider) Records(ctx context.Context, u *url.URL) iter.Seq2[models.MetadataValue, error] {
	return func(yield func(models.MetadataValue, error) bool) {
		if !p.breaker.Allow() {
			p.observe("rejected")
			yield(models.MetadataValue{}, NewProviderError(ErrorOutage, p.id, "circuit open", nil))
			return
		}
		body, err := p.fetch(ctx, u)
		if err != nil {
			p.record(err)
			yield(models.MetadataValue{}, err)
			return
		}
		defer body.Close()

		err = p.decode(body, yield)
		p.record(err)
		if err != nil {
			yield(models.MetadataValue{}, err)
		}
	}
}

func (p *HTTPProvider) fetch(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, NewProviderError(ErrorInternal, p.id, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, NewProviderError(ErrorTimeout, p.id, "request timed out", err)
		}
		return nil, NewProviderError(ErrorOutage, p.id, "request failed", err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	return nil, NewProviderError(categoryForStatus(resp.StatusCode), p.id, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
}

func categoryForStatus(status int) ErrorCategory {
	switch {
	case status == http.StatusNotFound:
		return ErrorNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorAuthentication
	case status == http.StatusTooManyRequests:
		return ErrorRateLimited
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return ErrorTimeout
	case status >= 500:
		return ErrorOutage
	default:
		return ErrorBadData
	}
}

// errStopped marks a consumer that stopped iterating early.
var errStopped = errors.New("stopped")

func (p *HTTPProvider) decode(r io.Reader, yield func(models.MetadataValue, error) bool) error {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return NewProviderError(ErrorBadData, p.id, "decode document", err)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return NewProviderError(ErrorBadData, p.id, "decode document", err)
		}
		if key, _ := tok.(string); key != "metadata" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return NewProviderError(ErrorBadData, p.id, "decode document", err)
			}
			continue
		}
		err = p.decodeMetadata(dec, yield)
		if errors.Is(err, errStopped) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *HTTPProvider) decodeMetadata(dec *json.Decoder, yield func(models.MetadataValue, error) bool) error {
	if err := expectDelim(dec, '['); err != nil {
		return NewProviderError(ErrorBadData, p.id, "decode metadata", err)
	}
	for dec.More() {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			return NewProviderError(ErrorBadData, p.id, "decode metadata record", err)
		}
		if rec.Key == "" {
			return NewProviderError(ErrorBadData, p.id, "metadata record without key", nil)
		}
		mv := models.NewValue(rec.Key, rec.Value)
		mv.Authority = rec.Authority
		mv.Confidence = -1
		if rec.Confidence != nil {
			mv.Confidence = *rec.Confidence
		}
		if !yield(mv, nil) {
			return errStopped
		}
	}
	if _, err := dec.Token(); err != nil {
		return NewProviderError(ErrorBadData, p.id, "decode metadata", err)
	}
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func (p *HTTPProvider) record(err error) {
	if err == nil {
		p.breaker.RecordSuccess()
		p.observe("success")
		return
	}
	// Missing records and bad payloads say nothing about the provider's health.
	if IsRetryable(err) || CategoryOf(err) == ErrorAuthentication {
		p.breaker.RecordFailure()
	}
	p.observe(string(CategoryOf(err)))
}

func (p *HTTPProvider) observe(outcome string) {
	if p.metrics != nil {
		p.metrics.IncrementSourceFetch(p.id, outcome)
	}
}
