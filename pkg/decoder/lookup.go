package decoder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/product-labo/Meta-sub005/internal/constants"
)

// Lookuper resolves a selector through an external signature directory.
// A nil entry with a nil error means the selector is unknown there.
type Lookuper interface {
	Lookup(ctx context.Context, selector string) (*SignatureEntry, error)
}

// HTTPLookuperConfig configures the external directories
type HTTPLookuperConfig struct {
	SourcifyURL string
	FourByteURL string
	Timeout     time.Duration
}

// HTTPLookuper queries Sourcify first and falls back to 4byte.directory
type HTTPLookuper struct {
	client      *http.Client
	sourcifyURL string
	fourByteURL string
	logger      *zap.Logger
}

// NewHTTPLookuper creates a lookuper. Empty URLs disable that source.
func NewHTTPLookuper(cfg HTTPLookuperConfig, logger *zap.Logger) *HTTPLookuper {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultLookupTimeout
	}
	return &HTTPLookuper{
		client:      &http.Client{Timeout: timeout},
		sourcifyURL: cfg.SourcifyURL,
		fourByteURL: cfg.FourByteURL,
		logger:      logger.With(zap.String("component", "signature-lookup")),
	}
}

// Lookup tries each configured source in turn. Source errors are logged and
// only returned when no source produced an answer.
func (l *HTTPLookuper) Lookup(ctx context.Context, selector string) (*SignatureEntry, error) {
	sel, ok := NormalizeSelector(selector)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSelector, selector)
	}

	var lastErr error
	if l.sourcifyURL != "" {
		entry, err := l.lookupSourcify(ctx, sel)
		if err != nil {
			l.logger.Debug("sourcify lookup failed", zap.String("selector", sel), zap.Error(err))
			lastErr = err
		} else if entry != nil {
			return entry, nil
		}
	}

	if l.fourByteURL != "" {
		entry, err := l.lookupFourByte(ctx, sel)
		if err != nil {
			l.logger.Debug("4byte lookup failed", zap.String("selector", sel), zap.Error(err))
			lastErr = err
		} else if entry != nil {
			return entry, nil
		}
	}

	return nil, lastErr
}

type sourcifyResponse struct {
	Ok     bool `json:"ok"`
	Result struct {
		Function map[string][]struct {
			Name                string `json:"name"`
			Filtered            bool   `json:"filtered"`
			HasVerifiedContract bool   `json:"hasVerifiedContract"`
		} `json:"function"`
	} `json:"result"`
}

func (l *HTTPLookuper) lookupSourcify(ctx context.Context, selector string) (*SignatureEntry, error) {
	q := url.Values{}
	q.Set("function", selector)
	q.Set("filter", "true")

	var resp sourcifyResponse
	if err := l.getJSON(ctx, l.sourcifyURL+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if !resp.Ok {
		return nil, fmt.Errorf("sourcify returned ok=false for %s", selector)
	}

	// Prefer signatures with verified contracts, skip filtered spam
	var pick string
	for _, candidate := range resp.Result.Function[selector] {
		if candidate.Filtered || SelectorOf(candidate.Name) != selector {
			continue
		}
		if pick == "" || candidate.HasVerifiedContract {
			pick = candidate.Name
			if candidate.HasVerifiedContract {
				break
			}
		}
	}
	if pick == "" {
		return nil, nil
	}
	return &SignatureEntry{Selector: selector, Signature: pick, Source: SourceSourcify}, nil
}

type fourByteResponse struct {
	Count   int `json:"count"`
	Results []struct {
		ID        int    `json:"id"`
		Signature string `json:"text_signature"`
	} `json:"results"`
}

func (l *HTTPLookuper) lookupFourByte(ctx context.Context, selector string) (*SignatureEntry, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("hex_signature", selector)

	var resp fourByteResponse
	if err := l.getJSON(ctx, l.fourByteURL+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	// The oldest submission is the least likely to be a collision
	results := resp.Results
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	for _, r := range results {
		if SelectorOf(r.Signature) == selector {
			return &SignatureEntry{Selector: selector, Signature: r.Signature, Source: SourceFourByte}, nil
		}
	}
	return nil, nil
}

func (l *HTTPLookuper) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("url: %v, code: %v, error-response: %s", rawURL, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
