package citation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/c360studio/draftloop/cache"
)

// ErrNotFound is returned when the bibliographic service has no record for
// a DOI.
var ErrNotFound = errors.New("citation record not found")

// maxLookupBody bounds a bibliographic service response body.
const maxLookupBody = 2 * 1024 * 1024 // 2MB

// Client queries a CrossRef-compatible works API. Resolved records and
// search results go through the cache: citations keep for 24 hours keyed by
// canonical DOI, searches for one hour keyed by query and row count.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	cache      *cache.Cache
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithCache enables record and search caching.
func WithCache(ch *cache.Cache) ClientOption {
	return func(c *Client) { c.cache = ch }
}

// NewClient creates a bibliographic lookup client. mailto, when set, joins
// the User-Agent per the CrossRef etiquette.
func NewClient(baseURL, mailto string, timeout time.Duration, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ua := "draftloop/0.1"
	if mailto != "" {
		ua = fmt.Sprintf("draftloop/0.1 (mailto:%s)", mailto)
	}
	c := &Client{
		baseURL:    baseURL,
		userAgent:  ua,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve looks up a DOI and returns its validated record. The DOI is
// normalized first; repeated lookups within the cache TTL return
// structurally identical records.
func (c *Client) Resolve(ctx context.Context, doi string) (*Record, error) {
	canonical := NormalizeDOI(doi)
	if canonical == "" {
		return nil, fmt.Errorf("empty DOI")
	}

	if c.cache != nil {
		var cached Record
		if c.cache.Get(ctx, cache.NamespaceCitation, canonical, &cached) {
			c.logger.Debug("citation served from cache", "doi", canonical)
			return &cached, nil
		}
	}

	var payload struct {
		Message crossrefWork `json:"message"`
	}
	status, err := c.getJSON(ctx, c.baseURL+"/works/"+url.PathEscape(canonical), &payload)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, ErrNotFound
	case status != http.StatusOK:
		return nil, fmt.Errorf("bibliographic service returned status %d for %s", status, canonical)
	}

	record := payload.Message.toRecord()
	record.DOI = canonical
	record.URL = "https://doi.org/" + canonical
	record.IsValid = true
	record.ValidationDate = time.Now().UTC()

	if c.cache != nil {
		c.cache.Set(ctx, cache.NamespaceCitation, canonical, record)
	}
	return record, nil
}

// Search queries the works index sorted by relevance. Results carry the
// service's relevance score.
func (c *Client) Search(ctx context.Context, query string, rows int) ([]Record, error) {
	if rows <= 0 {
		rows = 10
	}
	cacheKey := query + ":" + strconv.Itoa(rows)

	if c.cache != nil {
		var cached []Record
		if c.cache.Get(ctx, cache.NamespaceCrossRefSearch, cacheKey, &cached) {
			c.logger.Debug("citation search served from cache", "query", query)
			return cached, nil
		}
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("rows", strconv.Itoa(rows))
	params.Set("sort", "relevance")
	params.Set("order", "desc")

	var payload struct {
		Message struct {
			Items []crossrefWork `json:"items"`
		} `json:"message"`
	}
	status, err := c.getJSON(ctx, c.baseURL+"/works?"+params.Encode(), &payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("bibliographic search returned status %d", status)
	}

	records := make([]Record, 0, len(payload.Message.Items))
	for _, work := range payload.Message.Items {
		rec := work.toRecord()
		rec.DOI = NormalizeDOI(work.DOI)
		if rec.DOI != "" {
			rec.URL = "https://doi.org/" + rec.DOI
		}
		records = append(records, *rec)
	}

	if c.cache != nil {
		c.cache.Set(ctx, cache.NamespaceCrossRefSearch, cacheKey, records)
	}
	return records, nil
}

// getJSON performs a GET and decodes the body when the status is 200. Non-OK
// statuses are returned to the caller undecoded.
func (c *Client) getJSON(ctx context.Context, rawURL string, dest any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("bibliographic service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxLookupBody))
		return resp.StatusCode, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLookupBody))
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// crossrefWork is the subset of the works schema this system maps. Unknown
// fields are ignored.
type crossrefWork struct {
	DOI            string     `json:"DOI"`
	Title          []string   `json:"title"`
	Author         []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
	} `json:"author"`
	ContainerTitle []string `json:"container-title"`
	Volume         string   `json:"volume"`
	Page           string   `json:"page"`
	Abstract       string   `json:"abstract"`
	Score          float64  `json:"score"`
	PublishedPrint struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"published-print"`
	PublishedOnline struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"published-online"`
}

func (w crossrefWork) toRecord() *Record {
	rec := &Record{
		Volume:   w.Volume,
		Pages:    w.Page,
		Abstract: w.Abstract,
		Score:    w.Score,
	}
	if len(w.Title) > 0 {
		rec.Title = w.Title[0]
	}
	if len(w.ContainerTitle) > 0 {
		rec.Journal = w.ContainerTitle[0]
	}
	for _, a := range w.Author {
		switch {
		case a.Family != "" && a.Given != "":
			rec.Authors = append(rec.Authors, a.Family+", "+a.Given)
		case a.Family != "":
			rec.Authors = append(rec.Authors, a.Family)
		}
	}
	rec.Year = extractYear(w.PublishedPrint.DateParts)
	if rec.Year == 0 {
		rec.Year = extractYear(w.PublishedOnline.DateParts)
	}
	return rec
}

func extractYear(dateParts [][]int) int {
	if len(dateParts) > 0 && len(dateParts[0]) > 0 {
		return dateParts[0][0]
	}
	return 0
}
