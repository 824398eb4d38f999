package patternstore

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// QdrantConfig configures the qdrant gRPC index.
type QdrantConfig struct {
	Host       string
	Port       int
	UseTLS     bool
	APIKey     string
	Collection string
	Dimension  int

	// MaxMessageSize bounds gRPC messages in both directions. Default 50MB.
	MaxMessageSize int
}

// QdrantVector is a VectorIndex backed by a qdrant collection with cosine
// distance. Pattern fields are stored as string payload values.
type QdrantVector struct {
	client     *qdrant.Client
	collection string
	logger     *zap.Logger
}

// NewQdrantVector connects, health-checks, and ensures the collection exists.
func NewQdrantVector(ctx context.Context, cfg QdrantConfig, logger *zap.Logger) (*QdrantVector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "cogflow_patterns"
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 50 * 1024 * 1024
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("qdrant: dimension must be positive, got %d", cfg.Dimension)
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	q := &QdrantVector{client: client, collection: cfg.Collection, logger: logger}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check failed: %w", err)
	}
	if err := q.ensureCollection(hctx, cfg.Dimension); err != nil {
		_ = client.Close()
		return nil, err
	}
	return q, nil
}

func (q *QdrantVector) ensureCollection(ctx context.Context, dim int) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", q.collection, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", q.collection, err)
	}
	q.logger.Info("created qdrant collection", zap.String("collection", q.collection), zap.Int("dimension", dim))
	return nil
}

// Upsert writes p as a single point keyed by its uuid.
func (q *QdrantVector) Upsert(ctx context.Context, p Pattern) error {
	ctx, span := tracer.Start(ctx, "QdrantVector.Upsert")
	defer span.End()

	meta, err := encodeFields(p)
	if err != nil {
		return err
	}
	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Embedding...),
			Payload: toPayload(meta),
		}},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting pattern %s: %w", p.ID, err)
	}
	return nil
}

// Search runs a filtered nearest-neighbour query.
func (q *QdrantVector) Search(ctx context.Context, vec []float32, kind Kind, topK int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "QdrantVector.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", topK), attribute.String("pattern.kind", string(kind)))

	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	res, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		Filter:         kindFilter(kind),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying patterns: %w", err)
	}

	matches := make([]Match, 0, len(res))
	for _, point := range res {
		id := point.GetId().GetUuid()
		p, err := decodeFields(id, fromPayload(point.GetPayload()))
		if err != nil {
			q.logger.Warn("skipping undecodable pattern", zap.String("id", id), zap.Error(err))
			continue
		}
		if dense := point.GetVectors().GetVector(); dense != nil {
			p.Embedding = dense.GetData()
		}
		matches = append(matches, Match{Pattern: p, Score: point.GetScore()})
	}
	return matches, nil
}

// Delete removes points by id.
func (q *QdrantVector) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("deleting %d patterns: %w", len(ids), err)
	}
	return nil
}

// Close closes the gRPC connection.
func (q *QdrantVector) Close() error {
	return q.client.Close()
}

func kindFilter(kind Kind) *qdrant.Filter {
	if kind == "" {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: fieldKind,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: string(kind)},
					},
				},
			},
		}},
	}
}

func toPayload(meta map[string]string) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(meta))
	for k, v := range meta {
		payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
	}
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) map[string]string {
	meta := make(map[string]string, len(payload))
	for k, v := range payload {
		if s, ok := v.GetKind().(*qdrant.Value_StringValue); ok {
			meta[k] = s.StringValue
		}
	}
	return meta
}

var _ VectorIndex = (*QdrantVector)(nil)
