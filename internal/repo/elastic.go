package repo

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-hotspots/internal/models"
)

// TimestampField is the document field used to bound telemetry searches.
const TimestampField = "@timestamp"

// ElasticOptions configures an ElasticClient.
type ElasticOptions struct {
	URL                string
	Username           string
	Password           string
	CAFile             string
	InsecureSkipVerify bool
	Timeout            time.Duration
	EventsIndex        string
}

// SearchQuery bounds a scrolled telemetry search to [Start, End).
type SearchQuery struct {
	Start    time.Time
	End      time.Time
	PageSize int
	Scroll   time.Duration
	// MaxDocs caps the records delivered; zero means unbounded.
	MaxDocs int
}

// ElasticClient reads telemetry with the scroll API and writes alert documents.
type ElasticClient struct {
	baseURL     string
	username    string
	password    string
	eventsIndex string
	httpClient  *http.Client
	newID       func() string
}

// NewElasticClient constructs a client targeting the configured cluster.
func NewElasticClient(opts ElasticOptions) (*ElasticClient, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.CAFile != "" || opts.InsecureSkipVerify {
		tlsCfg := &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify} //nolint:gosec // operator opt-in
		if opts.CAFile != "" {
			pem, err := os.ReadFile(opts.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read elastic CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("elastic CA file %s holds no certificates", opts.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
		transport.TLSClientConfig = tlsCfg
	}
	return &ElasticClient{
		baseURL:     strings.TrimRight(opts.URL, "/"),
		username:    opts.Username,
		password:    opts.Password,
		eventsIndex: opts.EventsIndex,
		httpClient:  &http.Client{Timeout: opts.Timeout, Transport: transport},
		newID:       uuid.NewString,
	}, nil
}

// IndexName builds the telemetry index pattern for a log, e.g. tigera_secure_ee_flows.cluster.*.
func IndexName(prefix, log, cluster string) string {
	return fmt.Sprintf("%s_%s.%s.*", prefix, log, cluster)
}

type scrollResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			Source models.Record `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Scroll pages through index for the query window and hands each page to onPage.
// A missing index or a response without a scroll id yields zero records.
// It returns the number of records delivered.
func (c *ElasticClient) Scroll(ctx context.Context, index string, q SearchQuery, onPage func([]models.Record) error) (int, error) {
	if c == nil {
		return 0, fmt.Errorf("elastic client not initialised")
	}
	if c.baseURL == "" {
		return 0, fmt.Errorf("elastic URL not configured")
	}
	if q.PageSize <= 0 {
		q.PageSize = 10000
	}
	if q.Scroll <= 0 {
		q.Scroll = 20 * time.Second
	}
	keepAlive := fmt.Sprintf("%ds", int(q.Scroll.Seconds()))

	// Unset bounds leave that side of the window open.
	bounds := map[string]any{}
	if !q.Start.IsZero() {
		bounds["gte"] = q.Start.UTC().Format(time.RFC3339)
	}
	if !q.End.IsZero() {
		bounds["lt"] = q.End.UTC().Format(time.RFC3339)
	}
	body := map[string]any{
		"size": q.PageSize,
		"sort": []string{"_doc"},
		"query": map[string]any{
			"range": map[string]any{TimestampField: bounds},
		},
	}

	var resp scrollResponse
	found, err := c.doJSON(ctx, http.MethodPost, c.resolvePath(index, "_search")+"?scroll="+keepAlive, body, &resp)
	if err != nil {
		return 0, fmt.Errorf("elastic search %s failed: %w", index, err)
	}
	if !found || resp.ScrollID == "" {
		return 0, nil
	}
	scrollID := resp.ScrollID
	defer c.clearScroll(scrollID)

	total := 0
	for {
		page := make([]models.Record, 0, len(resp.Hits.Hits))
		for _, hit := range resp.Hits.Hits {
			if hit.Source != nil {
				page = append(page, hit.Source)
			}
		}
		if len(resp.Hits.Hits) == 0 {
			return total, nil
		}
		if q.MaxDocs > 0 && total+len(page) > q.MaxDocs {
			page = page[:q.MaxDocs-total]
		}
		if len(page) > 0 {
			if err := onPage(page); err != nil {
				return total, err
			}
			total += len(page)
		}
		if q.MaxDocs > 0 && total >= q.MaxDocs {
			return total, nil
		}

		if resp.ScrollID != "" {
			scrollID = resp.ScrollID
		}
		resp = scrollResponse{}
		next := map[string]any{"scroll": keepAlive, "scroll_id": scrollID}
		found, err := c.doJSON(ctx, http.MethodPost, c.resolvePath("_search", "scroll"), next, &resp)
		if err != nil {
			return total, fmt.Errorf("elastic scroll %s failed: %w", index, err)
		}
		if !found {
			return total, nil
		}
	}
}

// WriteAlert stores doc in the events index under a fresh id.
func (c *ElasticClient) WriteAlert(ctx context.Context, doc models.AlertDocument) error {
	if c == nil {
		return fmt.Errorf("elastic client not initialised")
	}
	if c.eventsIndex == "" {
		return fmt.Errorf("elastic events index not configured")
	}
	endpoint := c.resolvePath(c.eventsIndex, "_create", c.newID())
	found, err := c.doJSON(ctx, http.MethodPut, endpoint, doc, nil)
	if err != nil {
		return fmt.Errorf("elastic alert write failed: %w", err)
	}
	if !found {
		return fmt.Errorf("elastic alert write failed: index %s not found", c.eventsIndex)
	}
	return nil
}

func (c *ElasticClient) clearScroll(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = c.doJSON(ctx, http.MethodDelete, c.resolvePath("_search", "scroll"), map[string]any{"scroll_id": id}, nil)
}

func (c *ElasticClient) resolvePath(parts ...string) string {
	cleaned := "/" + strings.TrimLeft(path.Join(parts...), "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

// doJSON sends payload and decodes a 2xx body into out. A 404 reports found=false without error.
func (c *ElasticClient) doJSON(ctx context.Context, method, endpoint string, payload any, out any) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("elastic returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return true, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return true, nil
}
