package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/grantmatchd/internal/errs"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("grantmatchd.vectorstore")

// namespacePattern validates namespace names: lowercase letters, numbers,
// underscores, 1-64 characters.
var namespacePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// maxBatchPageSize is the hard per-call record limit of the wrapped store.
const maxBatchPageSize = 100

// Config holds vector index client configuration.
type Config struct {
	// Host is the store's gRPC hostname.
	Host string

	// Port is the gRPC port (6334), not the HTTP REST port.
	Port int

	// IndexName prefixes every namespace collection.
	IndexName string

	// Dimension is the embedding width; every stored and queried vector
	// must match it exactly.
	Dimension int

	UseTLS bool

	// MaxRetries bounds retry attempts for transient gRPC failures.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubling per attempt.
	RetryBackoff time.Duration

	// MaxMessageSize is the gRPC message size cap in bytes.
	MaxMessageSize int

	// CircuitBreakerThreshold is the failure count that opens the circuit.
	CircuitBreakerThreshold int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", errs.ErrValidation)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", errs.ErrValidation, c.Port)
	}
	if c.IndexName == "" {
		return fmt.Errorf("%w: index name required", errs.ErrValidation)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension required", errs.ErrValidation)
	}
	return namespaceValid(c.IndexName)
}

// namespaceValid checks a namespace or index segment against the naming rules.
func namespaceValid(name string) error {
	if !namespacePattern.MatchString(name) {
		return fmt.Errorf("%w: name must match ^[a-z0-9_]{1,64}$, got %q", errs.ErrValidation, name)
	}
	return nil
}

// isTransient reports whether a gRPC error is worth retrying.
func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// Client is the namespace-partitioned vector index client backed by Qdrant's
// gRPC API. A namespace maps to the collection {index}_{namespace}.
type Client struct {
	client *qdrant.Client
	config Config

	// collections caches namespace existence to avoid repeated checks.
	collections sync.Map

	breaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

// NewClient validates the configuration, connects, and health-checks the
// store before returning a ready client.
func NewClient(cfg Config) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to vector store: %v", errs.ErrProvider, err)
	}

	c := &Client{client: qc, config: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Healthy(ctx); err != nil {
		_ = qc.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	return c, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Healthy performs a health check on the store connection.
func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("%w: health check: %v", errs.ErrProvider, err)
	}
	return nil
}

// Dimension returns the configured embedding width.
func (c *Client) Dimension() int {
	return c.config.Dimension
}

// collectionName maps a namespace to its backing collection.
func (c *Client) collectionName(namespace string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return c.config.IndexName + "_" + namespace
}

// validateVector enforces the dimensionality invariant before any write or
// query reaches the store.
func (c *Client) validateVector(vector []float32) error {
	if len(vector) != c.config.Dimension {
		return fmt.Errorf("%w: invalid embedding dimension: expected %d, got %d",
			errs.ErrValidation, c.config.Dimension, len(vector))
	}
	return nil
}

// retry runs op with exponential backoff on transient failures, honoring the
// circuit breaker. Permanent failures return immediately.
func (c *Client) retry(ctx context.Context, name string, op func() error) error {
	backoff := c.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			c.resetBreaker()
			return nil
		}
		if c.breakerOpen() {
			return fmt.Errorf("%w: %s: circuit breaker open", errs.ErrProvider, name)
		}
		if !isTransient(err) {
			return fmt.Errorf("%w: %s: %v", errs.ErrProvider, name, err)
		}
		c.recordFailure()
		if attempt == c.config.MaxRetries {
			return fmt.Errorf("%w: %s failed after %d retries: %v", errs.ErrProvider, name, c.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (c *Client) recordFailure() {
	c.breaker.mu.Lock()
	defer c.breaker.mu.Unlock()
	c.breaker.failures++
	c.breaker.lastFail = time.Now()
}

func (c *Client) resetBreaker() {
	c.breaker.mu.Lock()
	defer c.breaker.mu.Unlock()
	c.breaker.failures = 0
}

func (c *Client) breakerOpen() bool {
	c.breaker.mu.Lock()
	defer c.breaker.mu.Unlock()
	if c.breaker.failures >= c.config.CircuitBreakerThreshold {
		if time.Since(c.breaker.lastFail) > 30*time.Second {
			c.breaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// ensureNamespace creates the backing collection on first use.
func (c *Client) ensureNamespace(ctx context.Context, namespace string) error {
	name := c.collectionName(namespace)
	if _, ok := c.collections.Load(name); ok {
		return nil
	}

	var exists bool
	err := c.retry(ctx, "collection_exists", func() error {
		info, err := c.client.GetCollectionInfo(ctx, name)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				exists = false
				return nil
			}
			return err
		}
		exists = info != nil
		return nil
	})
	if err != nil {
		return fmt.Errorf("checking namespace %s: %w", namespace, err)
	}

	if !exists {
		err := c.retry(ctx, "create_collection", func() error {
			return c.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: name,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(c.config.Dimension),
					Distance: qdrant.Distance_Cosine,
				}),
			})
		})
		if err != nil {
			return fmt.Errorf("creating namespace %s: %w", namespace, err)
		}
	}

	c.collections.Store(name, true)
	return nil
}

// Upsert stores a single record in the namespace, stamping updated_at into
// its metadata. Re-upserting the same id replaces the prior record.
func (c *Client) Upsert(ctx context.Context, record Record, namespace string) error {
	ctx, span := tracer.Start(ctx, "vectorstore.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.String("record_id", record.ID),
	)

	if err := c.upsertPage(ctx, []Record{record}, namespace); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to store vector: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// BatchError summarizes partial failures of a batch upsert.
type BatchError struct {
	Total  int
	Failed int
	Errors []error
}

func (e *BatchError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d of %d batch pages failed: %s", e.Failed, e.Total, strings.Join(msgs, "; "))
}

func (e *BatchError) Unwrap() error { return errs.ErrProvider }

// UpsertBatch stores records in pages of at most 100 per underlying call, in
// order. Validation runs for the whole batch before any page is written; page
// failures are folded into a single BatchError.
func (c *Client) UpsertBatch(ctx context.Context, records []Record, namespace string) error {
	ctx, span := tracer.Start(ctx, "vectorstore.UpsertBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("record_count", len(records)),
	)

	if len(records) == 0 {
		return fmt.Errorf("%w: records cannot be empty", errs.ErrValidation)
	}
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("%w: record %d has no id", errs.ErrValidation, i)
		}
		if err := c.validateVector(r.Vector); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}

	pages := chunkRecords(records, maxBatchPageSize)
	batchErr := &BatchError{Total: len(pages)}
	for i, page := range pages {
		if err := c.upsertPage(ctx, page, namespace); err != nil {
			batchErr.Failed++
			batchErr.Errors = append(batchErr.Errors, fmt.Errorf("page %d: %w", i, err))
		}
	}
	if batchErr.Failed > 0 {
		span.RecordError(batchErr)
		span.SetStatus(codes.Error, batchErr.Error())
		return batchErr
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// chunkRecords splits records into pages of at most size, preserving order
// with no duplication or loss across pages.
func chunkRecords(records []Record, size int) [][]Record {
	pages := make([][]Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		pages = append(pages, records[start:end])
	}
	return pages
}

// upsertPage writes one page of validated records.
func (c *Client) upsertPage(ctx context.Context, records []Record, namespace string) error {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := namespaceValid(namespace); err != nil {
		return err
	}
	for _, r := range records {
		if err := c.validateVector(r.Vector); err != nil {
			return err
		}
	}
	if err := c.ensureNamespace(ctx, namespace); err != nil {
		return err
	}

	now := time.Now().Unix()
	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		metadata := make(map[string]any, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			metadata[k] = v
		}
		metadata["id"] = r.ID
		metadata["updated_at"] = now

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointUUID(r.ID)),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payloadFromMetadata(metadata),
		}
	}

	return c.retry(ctx, "upsert", func() error {
		_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: c.collectionName(namespace),
			Points:         points,
		})
		return err
	})
}

// Search returns up to TopK hits ordered by descending similarity score.
// An empty result set is a valid outcome, never an error.
func (c *Client) Search(ctx context.Context, queryVector []float32, opts SearchOptions) ([]SearchResult, error) {
	ctx, span := tracer.Start(ctx, "vectorstore.Search")
	defer span.End()

	if err := c.validateVector(queryVector); err != nil {
		return nil, err
	}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	namespace := opts.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := namespaceValid(namespace); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("top_k", opts.TopK),
	)

	query := &qdrant.QueryPoints{
		CollectionName: c.collectionName(namespace),
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          qdrant.PtrOf(uint64(opts.TopK)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildFilter(opts.Filter),
	}
	if opts.IncludeValues {
		query.WithVectors = qdrant.NewWithVectors(true)
	}

	var points []*qdrant.ScoredPoint
	err := c.retry(ctx, "search", func() error {
		res, err := c.client.Query(ctx, query)
		if err != nil {
			// A namespace never written to has no collection yet; that is
			// an empty result, not a failure.
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				points = nil
				return nil
			}
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching namespace %s: %w", namespace, err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, scoredResult(p))
	}

	span.SetAttributes(attribute.Int("result_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// HybridSearch combines similarity search with a structured metadata filter.
func (c *Client) HybridSearch(ctx context.Context, queryVector []float32, filters *Filters, opts SearchOptions) ([]SearchResult, error) {
	opts.Filter = filters
	return c.Search(ctx, queryVector, opts)
}

// scoredResult converts a store hit into a SearchResult.
func scoredResult(p *qdrant.ScoredPoint) SearchResult {
	r := SearchResult{Score: p.Score}
	if p.Payload != nil {
		r.Metadata = metadataFromPayload(p.Payload)
		if id, ok := r.Metadata["id"].(string); ok {
			r.ID = id
		}
	}
	if vec := p.GetVectors().GetVector(); vec != nil {
		r.Values = vec.GetData()
	}
	return r
}

// Fetch retrieves a record by id. A missing id returns nil, not an error;
// hits carry a unit score to signal an exact fetch.
func (c *Client) Fetch(ctx context.Context, id, namespace string) (*SearchResult, error) {
	ctx, span := tracer.Start(ctx, "vectorstore.Fetch")
	defer span.End()

	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := namespaceValid(namespace); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.String("record_id", id),
	)

	var points []*qdrant.RetrievedPoint
	err := c.retry(ctx, "fetch", func() error {
		res, err := c.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: c.collectionName(namespace),
			Ids:            []*qdrant.PointId{qdrant.NewIDUUID(pointUUID(id))},
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				points = nil
				return nil
			}
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fetching %s from namespace %s: %w", id, namespace, err)
	}

	if len(points) == 0 {
		span.SetStatus(codes.Ok, "not found")
		return nil, nil
	}

	p := points[0]
	result := &SearchResult{ID: id, Score: 1.0}
	if p.Payload != nil {
		result.Metadata = metadataFromPayload(p.Payload)
	}
	if vec := p.GetVectors().GetVector(); vec != nil {
		result.Values = vec.GetData()
	}

	span.SetStatus(codes.Ok, "success")
	return result, nil
}

// Delete removes a record by id. Best-effort: deleting a missing id succeeds.
func (c *Client) Delete(ctx context.Context, id, namespace string) error {
	ctx, span := tracer.Start(ctx, "vectorstore.Delete")
	defer span.End()

	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := namespaceValid(namespace); err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.String("record_id", id),
	)

	err := c.retry(ctx, "delete", func() error {
		_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: c.collectionName(namespace),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{
						Ids: []*qdrant.PointId{qdrant.NewIDUUID(pointUUID(id))},
					},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting %s from namespace %s: %w", id, namespace, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteByFilter removes every record matching the structured filter.
func (c *Client) DeleteByFilter(ctx context.Context, filters *Filters, namespace string) error {
	ctx, span := tracer.Start(ctx, "vectorstore.DeleteByFilter")
	defer span.End()

	if filters.Empty() {
		return fmt.Errorf("%w: filter cannot be empty", errs.ErrValidation)
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := namespaceValid(namespace); err != nil {
		return err
	}
	span.SetAttributes(attribute.String("namespace", namespace))

	err := c.retry(ctx, "delete_by_filter", func() error {
		_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: c.collectionName(namespace),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: buildFilter(filters),
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting by filter from namespace %s: %w", namespace, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Stats returns read-only statistics for one namespace. Unknown namespaces
// report zero vectors rather than failing.
func (c *Client) Stats(ctx context.Context, namespace string) (*NamespaceStats, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := namespaceValid(namespace); err != nil {
		return nil, err
	}

	stats := &NamespaceStats{Namespace: namespace, Dimension: c.config.Dimension}
	err := c.retry(ctx, "stats", func() error {
		info, err := c.client.GetCollectionInfo(ctx, c.collectionName(namespace))
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				return nil
			}
			return err
		}
		if info.PointsCount != nil {
			stats.VectorCount = int(*info.PointsCount)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("namespace stats for %s: %w", namespace, err)
	}
	return stats, nil
}

// ListNamespaces returns the namespaces of this index.
func (c *Client) ListNamespaces(ctx context.Context) ([]string, error) {
	var collections []string
	err := c.retry(ctx, "list_namespaces", func() error {
		res, err := c.client.ListCollections(ctx)
		if err != nil {
			return err
		}
		collections = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing namespaces: %w", err)
	}

	prefix := c.config.IndexName + "_"
	namespaces := make([]string, 0, len(collections))
	for _, name := range collections {
		if strings.HasPrefix(name, prefix) {
			namespaces = append(namespaces, strings.TrimPrefix(name, prefix))
		}
	}
	return namespaces, nil
}

// DescribeIndex aggregates stats across all namespaces of the index.
func (c *Client) DescribeIndex(ctx context.Context) (*IndexStats, error) {
	namespaces, err := c.ListNamespaces(ctx)
	if err != nil {
		return nil, err
	}

	out := &IndexStats{IndexName: c.config.IndexName, Dimension: c.config.Dimension}
	for _, ns := range namespaces {
		stats, err := c.Stats(ctx, ns)
		if err != nil {
			return nil, err
		}
		out.Namespaces = append(out.Namespaces, *stats)
		out.TotalVectorCount += stats.VectorCount
	}
	return out, nil
}
