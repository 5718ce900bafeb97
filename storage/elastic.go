package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
)

const defaultEngineTimeout = 30 * time.Second

// Elastic implements SearchEngine on an Elasticsearch cluster.
type Elastic struct {
	client  *elasticsearch.Client
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewElastic connects to the cluster and verifies it is reachable.
func NewElastic(addresses []string, username, password string, timeout time.Duration, logger *zap.SugaredLogger) (*Elastic, error) {
	if timeout <= 0 {
		timeout = defaultEngineTimeout
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	res, err := client.Info(client.Info.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("%w: %s", ErrEngineUnavailable, res.Status())
	}

	logger.Infow("Connected to search engine", "addresses", addresses)
	return &Elastic{client: client, timeout: timeout, logger: logger}, nil
}

// withTimeout bounds every engine call; a hung engine must never block
// a worker indefinitely.
func (e *Elastic) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

// IndexExists reports whether the index has been created.
func (e *Elastic) IndexExists(ctx context.Context, index string) (bool, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	res, err := e.client.Indices.Exists([]string{index}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, wrapTransportErr("index exists check", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("index exists check failed: %s", res.Status())
	}
}

// GetIndexSetting reads one settings key. The dotted key is resolved
// against the nested settings document the engine returns.
func (e *Elastic) GetIndexSetting(ctx context.Context, index, key string) (string, bool, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	res, err := e.client.Indices.GetSettings(
		e.client.Indices.GetSettings.WithContext(ctx),
		e.client.Indices.GetSettings.WithIndex(index),
	)
	if err != nil {
		return "", false, wrapTransportErr("get index settings", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return "", false, fmt.Errorf("get index settings: %w", ErrIndexNotFound)
	}
	if res.IsError() {
		return "", false, fmt.Errorf("get index settings failed: %s", res.Status())
	}

	var body map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", false, fmt.Errorf("failed to decode settings response: %w", err)
	}

	perIndex, ok := body[index].(map[string]interface{})
	if !ok {
		// Settings come back keyed by the concrete index name, which may
		// differ from the requested alias; take the first entry.
		for _, v := range body {
			if m, isMap := v.(map[string]interface{}); isMap {
				perIndex = m
				ok = true
				break
			}
		}
		if !ok {
			return "", false, nil
		}
	}
	settings, _ := perIndex["settings"].(map[string]interface{})
	value, found := lookupDotted(settings, key)
	if !found {
		return "", false, nil
	}
	s, isString := value.(string)
	if !isString {
		s = fmt.Sprintf("%v", value)
	}
	return s, true, nil
}

// PutIndexSetting writes one settings key on an existing index.
func (e *Elastic) PutIndexSetting(ctx context.Context, index, key, value string) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	body, err := json.Marshal(map[string]string{key: value})
	if err != nil {
		return fmt.Errorf("failed to marshal settings body: %w", err)
	}

	res, err := e.client.Indices.PutSettings(
		bytes.NewReader(body),
		e.client.Indices.PutSettings.WithContext(ctx),
		e.client.Indices.PutSettings.WithIndex(index),
	)
	if err != nil {
		return wrapTransportErr("put index settings", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("put index settings: %w", ErrIndexNotFound)
	}
	if res.IsError() {
		return fmt.Errorf("put index settings failed: %s", responseError(res))
	}
	return nil
}

// BulkUpsert writes documents under their dedup-key ids. The index is
// created lazily by the first write.
func (e *Elastic) BulkUpsert(ctx context.Context, index string, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var buf bytes.Buffer
	for _, doc := range docs {
		action := map[string]interface{}{
			"index": map[string]interface{}{"_index": index, "_id": doc.ID},
		}
		if err := json.NewEncoder(&buf).Encode(action); err != nil {
			return 0, fmt.Errorf("failed to encode bulk action: %w", err)
		}
		if err := json.NewEncoder(&buf).Encode(doc.Fields); err != nil {
			return 0, fmt.Errorf("failed to encode bulk document: %w", err)
		}
	}

	res, err := e.client.Bulk(bytes.NewReader(buf.Bytes()), e.client.Bulk.WithContext(ctx))
	if err != nil {
		return 0, wrapTransportErr("bulk upsert", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("bulk upsert failed: %s", responseError(res))
	}

	var bulkRes struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkRes); err != nil {
		return 0, fmt.Errorf("failed to decode bulk response: %w", err)
	}

	accepted := len(docs)
	if bulkRes.Errors {
		for _, item := range bulkRes.Items {
			for _, op := range item {
				if op.Status >= 300 {
					accepted--
					e.logger.Warnw("Bulk item rejected",
						"index", index, "status", op.Status,
						"type", op.Error.Type, "reason", op.Error.Reason)
				}
			}
		}
	}
	return accepted, nil
}

// Search runs a bounded query body.
func (e *Elastic) Search(ctx context.Context, index string, body map[string]interface{}) (*SearchResult, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query body: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(index),
		e.client.Search.WithBody(bytes.NewReader(encoded)),
	)
	if err != nil {
		return nil, wrapTransportErr("search", err)
	}
	defer res.Body.Close()

	if err := checkQueryResponse(res); err != nil {
		return nil, err
	}
	return decodeSearchResult(res.Body)
}

// OpenScroll starts a server-side cursor over the query body.
func (e *Elastic) OpenScroll(ctx context.Context, index string, body map[string]interface{}, keepAlive time.Duration) (*ScrollPage, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scroll body: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(index),
		e.client.Search.WithBody(bytes.NewReader(encoded)),
		e.client.Search.WithScroll(keepAlive),
	)
	if err != nil {
		return nil, wrapTransportErr("open scroll", err)
	}
	defer res.Body.Close()

	if err := checkQueryResponse(res); err != nil {
		return nil, err
	}
	return decodeScrollPage(res.Body)
}

// ContinueScroll pulls the next batch from an open cursor.
func (e *Elastic) ContinueScroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*ScrollPage, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	res, err := e.client.Scroll(
		e.client.Scroll.WithContext(ctx),
		e.client.Scroll.WithScrollID(scrollID),
		e.client.Scroll.WithScroll(keepAlive),
	)
	if err != nil {
		return nil, wrapTransportErr("continue scroll", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("continue scroll: %w", ErrScrollExpired)
	}
	if err := checkQueryResponse(res); err != nil {
		return nil, err
	}
	return decodeScrollPage(res.Body)
}

// ClearScroll releases a cursor. An already expired id is not an error.
func (e *Elastic) ClearScroll(ctx context.Context, scrollID string) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	res, err := e.client.ClearScroll(
		e.client.ClearScroll.WithContext(ctx),
		e.client.ClearScroll.WithScrollID(scrollID),
	)
	if err != nil {
		return wrapTransportErr("clear scroll", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("clear scroll failed: %s", res.Status())
	}
	return nil
}

// UpdateByQuery sets fields on every matching document.
func (e *Elastic) UpdateByQuery(ctx context.Context, index string, query map[string]interface{}, set map[string]interface{}) (int64, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var script strings.Builder
	params := make(map[string]interface{}, len(set))
	for field, value := range set {
		fmt.Fprintf(&script, "ctx._source[%q] = params[%q];", field, field)
		params[field] = value
	}

	body := map[string]interface{}{
		"query": query,
		"script": map[string]interface{}{
			"source": script.String(),
			"lang":   "painless",
			"params": params,
		},
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal update body: %w", err)
	}

	res, err := e.client.UpdateByQuery(
		[]string{index},
		e.client.UpdateByQuery.WithContext(ctx),
		e.client.UpdateByQuery.WithBody(bytes.NewReader(encoded)),
		e.client.UpdateByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, wrapTransportErr("update by query", err)
	}
	defer res.Body.Close()

	if err := checkQueryResponse(res); err != nil {
		return 0, err
	}

	var ubq struct {
		Updated int64 `json:"updated"`
	}
	if err := json.NewDecoder(res.Body).Decode(&ubq); err != nil {
		return 0, fmt.Errorf("failed to decode update response: %w", err)
	}
	return ubq.Updated, nil
}

// checkQueryResponse maps engine error statuses onto the sentinel
// errors callers branch on.
func checkQueryResponse(res *esapi.Response) error {
	switch {
	case res.StatusCode == http.StatusNotFound:
		return fmt.Errorf("engine reported: %w", ErrIndexNotFound)
	case res.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadQuery, responseError(res))
	case res.StatusCode == http.StatusRequestTimeout, res.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("engine reported: %w", ErrEngineTimeout)
	case res.IsError():
		return fmt.Errorf("engine request failed: %s", responseError(res))
	}
	return nil
}

// wrapTransportErr classifies client-side failures: deadline overruns
// become ErrEngineTimeout, everything else ErrEngineUnavailable.
func wrapTransportErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrEngineTimeout)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrEngineUnavailable, err)
}

func responseError(res *esapi.Response) string {
	raw, err := io.ReadAll(io.LimitReader(res.Body, 2048))
	if err != nil || len(raw) == 0 {
		return res.Status()
	}
	return fmt.Sprintf("%s: %s", res.Status(), string(raw))
}

func decodeSearchResult(body io.Reader) (*SearchResult, error) {
	var raw struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string                 `json:"_id"`
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
		Aggregations map[string]interface{} `json:"aggregations"`
	}
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	result := &SearchResult{
		Total:        raw.Hits.Total.Value,
		Hits:         make([]Hit, 0, len(raw.Hits.Hits)),
		Aggregations: raw.Aggregations,
	}
	for _, h := range raw.Hits.Hits {
		result.Hits = append(result.Hits, Hit{ID: h.ID, Source: h.Source})
	}
	return result, nil
}

func decodeScrollPage(body io.Reader) (*ScrollPage, error) {
	var raw struct {
		ScrollID string `json:"_scroll_id"`
		Hits     struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string                 `json:"_id"`
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode scroll response: %w", err)
	}

	page := &ScrollPage{
		ScrollID: raw.ScrollID,
		Total:    raw.Hits.Total.Value,
		Hits:     make([]Hit, 0, len(raw.Hits.Hits)),
	}
	for _, h := range raw.Hits.Hits {
		page.Hits = append(page.Hits, Hit{ID: h.ID, Source: h.Source})
	}
	return page, nil
}

// lookupDotted resolves a dotted settings key against the nested
// settings document ("index.argus.schema_version" → settings.index...).
func lookupDotted(settings map[string]interface{}, key string) (interface{}, bool) {
	if settings == nil {
		return nil, false
	}
	if v, ok := settings[key]; ok {
		return v, true
	}
	parts := strings.Split(key, ".")
	current := settings
	for i, part := range parts {
		value, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return value, true
		}
		next, ok := value.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}
