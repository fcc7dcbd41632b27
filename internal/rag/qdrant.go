package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/osdr-rag-go/internal/index"
)

// defaultUpsertBatch bounds the number of points per Upsert call.
const defaultUpsertBatch = 256

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to publish into (default: osdr_papers).
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// BatchSize is the number of points per Upsert call (default: 256).
	BatchSize int

	// Logger receives publication progress. Defaults to slog.Default().
	Logger *slog.Logger
}

// QdrantMirror implements Publisher by copying every snapshot into a Qdrant
// collection. The collection is recreated on each publish so it always holds
// exactly one build. Point ids are the snapshot positions, and the distance
// is Euclidean to match the local flat index ordering.
type QdrantMirror struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this mirror.
	cfg *QdrantConfig
}

// NewQdrantMirror creates a QdrantMirror. No RPC is made until Publish.
func NewQdrantMirror(cfg *QdrantConfig) (*QdrantMirror, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "osdr_papers"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultUpsertBatch
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		// The server may be down at startup; Publish reports it per rebuild.
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantMirror{client: client, cfg: cfg}, nil
}

// Client exposes the underlying client for health checks.
func (m *QdrantMirror) Client() *qdrant.Client { return m.client }

// Publish recreates the collection sized to the snapshot's dimension and
// upserts every item with its vector and a string payload.
func (m *QdrantMirror) Publish(ctx context.Context, snap *index.Snapshot) error {
	if snap == nil || snap.Len() == 0 {
		return fmt.Errorf("qdrant: nothing to publish")
	}

	if err := m.recreateCollection(ctx, uint64(snap.Index.Dim())); err != nil {
		return err
	}

	total := snap.Len()
	for start := 0; start < total; start += m.cfg.BatchSize {
		end := min(start+m.cfg.BatchSize, total)
		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, point(i, snap.Items.At(i), snap.Index.Vector(i), snap.BuildID.String()))
		}

		if _, err := m.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: m.cfg.Collection,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("qdrant: upsert batch at %d failed: %w", start, err)
		}
	}

	m.cfg.Logger.Info("qdrant: snapshot published",
		slog.String("collection", m.cfg.Collection),
		slog.String("build_id", snap.BuildID.String()),
		slog.Int("points", total),
	)
	return nil
}

// recreateCollection drops any previous build and creates an empty collection.
func (m *QdrantMirror) recreateCollection(ctx context.Context, dim uint64) error {
	exists, err := m.client.CollectionExists(ctx, m.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		if err := m.client.DeleteCollection(ctx, m.cfg.Collection); err != nil {
			return fmt.Errorf("qdrant: failed to drop collection %q: %w", m.cfg.Collection, err)
		}
	}

	err = m.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: m.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dim,
			Distance: qdrant.Distance_Euclid,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", m.cfg.Collection, err)
	}
	return nil
}

// point converts the item at position i into a Qdrant point.
func point(i int, it index.Item, vec []float32, buildID string) *qdrant.PointStruct {
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDNum(uint64(i)),
		Vectors: qdrant.NewVectors(vec...),
		Payload: qdrant.NewValueMap(payload(it, buildID)),
	}
}

// payload flattens an item into the value types NewValueMap accepts.
func payload(it index.Item, buildID string) map[string]any {
	related := make([]any, 0, len(it.Meta.Related))
	for _, r := range it.Meta.Related {
		related = append(related, r)
	}
	return map[string]any{
		"id":           it.ID,
		"build_id":     buildID,
		"origin":       string(it.Meta.Origin),
		"title":        it.Meta.Title,
		"program":      it.Meta.Program,
		"year":         it.Meta.Year,
		"date":         it.Meta.Date,
		"link":         it.Meta.Link,
		"text_preview": it.TextPreview,
		"related":      related,
	}
}

// Close closes the underlying Qdrant gRPC connection.
func (m *QdrantMirror) Close() error {
	return m.client.Close()
}
