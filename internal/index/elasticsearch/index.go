// Package elasticsearch implements crawler.Index on top of an Elasticsearch cluster.
package elasticsearch

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

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// DefaultTimeout bounds each index request.
const DefaultTimeout = 30 * time.Second

// Config describes how to reach the cluster and which index to write.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string
	Index     string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Index synchronizes records into one Elasticsearch index.
type Index struct {
	client  *es.Client
	name    string
	timeout time.Duration
	logger  *zap.Logger
}

var _ crawler.Index = (*Index)(nil)

// New builds a client from cfg. It does not contact the cluster.
func New(cfg Config, logger *zap.Logger) (*Index, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("at least one elasticsearch address is required")
	}
	clientCfg := es.Config{
		Addresses: cfg.Addresses,
		Transport: cfg.Transport,
	}
	if cfg.APIKey != "" {
		clientCfg.APIKey = cfg.APIKey
	} else if cfg.Username != "" {
		clientCfg.Username = cfg.Username
		clientCfg.Password = cfg.Password
	}
	client, err := es.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return NewWithClient(client, cfg.Index, cfg.Timeout, logger)
}

// NewWithClient wraps an existing client.
func NewWithClient(client *es.Client, name string, timeout time.Duration, logger *zap.Logger) (*Index, error) {
	if client == nil {
		return nil, errors.New("elasticsearch client is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("index name is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{client: client, name: name, timeout: timeout, logger: logger}, nil
}

// Configure creates the index with settings when it is missing and updates
// the dynamic settings otherwise. An empty settings map is a no-op.
func (i *Index) Configure(ctx context.Context, settings map[string]any) error {
	if len(settings) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	exists, err := i.client.Indices.Exists([]string{i.name}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", i.name, err)
	}
	closeBody(exists)

	var res *esapi.Response
	switch exists.StatusCode {
	case http.StatusNotFound:
		body, err := json.Marshal(map[string]any{"settings": settings})
		if err != nil {
			return fmt.Errorf("marshal index settings: %w", err)
		}
		res, err = i.client.Indices.Create(
			i.name,
			i.client.Indices.Create.WithBody(bytes.NewReader(body)),
			i.client.Indices.Create.WithContext(ctx),
		)
		if err != nil {
			return fmt.Errorf("create index %s: %w", i.name, err)
		}
	case http.StatusOK:
		body, err := json.Marshal(settings)
		if err != nil {
			return fmt.Errorf("marshal index settings: %w", err)
		}
		res, err = i.client.Indices.PutSettings(
			bytes.NewReader(body),
			i.client.Indices.PutSettings.WithIndex(i.name),
			i.client.Indices.PutSettings.WithContext(ctx),
		)
		if err != nil {
			return fmt.Errorf("put settings on %s: %w", i.name, err)
		}
	default:
		return fmt.Errorf("check index %s: unexpected status %d", i.name, exists.StatusCode)
	}
	defer closeBody(res)
	if res.IsError() {
		return fmt.Errorf("configure index %s: %s", i.name, res.String())
	}
	i.logger.Info("index configured", zap.String("index", i.name), zap.Int("settings", len(settings)))
	return nil
}

type bulkItem struct {
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error,omitempty"`
}

type bulkResponse struct {
	Errors bool                  `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

// Upsert indexes the record under its objectID through the bulk API and
// returns the _id the cluster acknowledged.
func (i *Index) Upsert(ctx context.Context, record crawler.Record) (string, error) {
	id := record.ObjectID()
	if id == "" {
		return "", errors.New("record has no objectID")
	}
	doc, err := record.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal record %s: %w", id, err)
	}
	item, err := i.bulk(ctx, "index", id, doc)
	if err != nil {
		return "", err
	}
	if item.Status >= http.StatusBadRequest || len(item.Error) > 0 {
		return "", fmt.Errorf("index rejected %s: status %d %s", id, item.Status, string(item.Error))
	}
	return item.ID, nil
}

// Delete removes one record through the bulk API, which carries the _id in
// the body rather than the URL path. A missing document is not an error.
func (i *Index) Delete(ctx context.Context, objectID string) error {
	if objectID == "" {
		return errors.New("objectID is required")
	}
	item, err := i.bulk(ctx, "delete", objectID, nil)
	if err != nil {
		return err
	}
	if item.Status == http.StatusNotFound {
		i.logger.Debug("delete of missing record", zap.String("object_id", objectID))
		return nil
	}
	if item.Status >= http.StatusBadRequest || len(item.Error) > 0 {
		return fmt.Errorf("delete rejected %s: status %d %s", objectID, item.Status, string(item.Error))
	}
	return nil
}

// bulk sends a single-action bulk request and returns its only item. doc is
// omitted for delete actions.
func (i *Index) bulk(ctx context.Context, op, id string, doc []byte) (bulkItem, error) {
	action, err := json.Marshal(map[string]any{op: map[string]string{"_index": i.name, "_id": id}})
	if err != nil {
		return bulkItem{}, fmt.Errorf("marshal bulk action: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(action) + len(doc) + 2)
	buf.Write(action)
	buf.WriteByte('\n')
	if doc != nil {
		buf.Write(doc)
		buf.WriteByte('\n')
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	res, err := i.client.Bulk(&buf, i.client.Bulk.WithContext(ctx))
	if err != nil {
		return bulkItem{}, fmt.Errorf("bulk %s %s: %w", op, id, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return bulkItem{}, fmt.Errorf("bulk %s %s: %s", op, id, res.String())
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return bulkItem{}, fmt.Errorf("decode bulk response: %w", err)
	}
	if len(parsed.Items) == 0 {
		return bulkItem{}, errors.New("bulk response has no items")
	}
	item, ok := parsed.Items[0][op]
	if !ok {
		return bulkItem{}, fmt.Errorf("bulk response has no %s item", op)
	}
	return item, nil
}

// DeleteOlderThan removes every record whose timestamp is before cutoff and
// returns the number deleted.
func (i *Index) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := map[string]any{
		"query": map[string]any{
			"range": map[string]any{
				crawler.FieldTimestamp: map[string]any{"lt": cutoff.UnixMilli()},
			},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return 0, fmt.Errorf("marshal purge query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	res, err := i.client.DeleteByQuery(
		[]string{i.name},
		bytes.NewReader(body),
		i.client.DeleteByQuery.WithContext(ctx),
		i.client.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", i.name, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return 0, fmt.Errorf("purge %s: %s", i.name, res.String())
	}

	var parsed struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode purge response: %w", err)
	}
	return parsed.Deleted, nil
}

func closeBody(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}
