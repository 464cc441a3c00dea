package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantIndex is an external ANN vector backend, used instead of the
// in-process brute-force VectorIndex once a single agent's memory store
// outgrows what a linear scan can serve within a search's latency budget.
// It implements the same id-keyed add/search/delete surface as VectorIndex
// so HybridRetriever can be pointed at either.
type QdrantIndex struct {
	conn       *grpc.ClientConn
	points     qdrant.PointsClient
	collection string
	dimension  int
}

// NewQdrantIndex dials a Qdrant instance and ensures the configured
// collection exists with the given vector dimension and cosine distance.
func NewQdrantIndex(ctx context.Context, address, collection string, dimension int) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("memory: qdrant dial failed: %w", err)
	}

	collections := qdrant.NewCollectionsClient(conn)
	_, err = collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(dimension),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		// Collection may already exist; this is not fatal to startup.
		_ = err
	}

	return &QdrantIndex{
		conn:       conn,
		points:     qdrant.NewPointsClient(conn),
		collection: collection,
		dimension:  dimension,
	}, nil
}

// Close releases the underlying gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}

// pointID derives Qdrant's required UUID/uint64 point id from a memory id,
// preserving it round-trip via the point's payload.
func pointID(memoryID string) *qdrant.PointId {
	id := memoryID
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(memoryID)).String()
	}
	return &qdrant.PointId{
		PointIdOptions: &qdrant.PointId_Uuid{Uuid: id},
	}
}

// upsert indexes or replaces a memory's vector.
func (q *QdrantIndex) upsert(ctx context.Context, memoryID, channelID string, vector []float32) error {
	if len(vector) != q.dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, q.dimension, len(vector))
	}
	_, err := q.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      pointID(memoryID),
				Vectors: qdrant.NewVectors(vector...),
				Payload: map[string]*qdrant.Value{
					"memory_id":  {Kind: &qdrant.Value_StringValue{StringValue: memoryID}},
					"channel_id": {Kind: &qdrant.Value_StringValue{StringValue: channelID}},
				},
			},
		},
	})
	return err
}

// AddVector satisfies DenseIndex by upserting against a background context;
// the dial established at construction time is long-lived, so per-call
// requests don't need a caller-supplied deadline the rest of DenseIndex's
// synchronous callers have no way to provide.
func (q *QdrantIndex) AddVector(memoryID, channelID string, vector []float32) error {
	return q.upsert(context.Background(), memoryID, channelID, vector)
}

// UpdateVector is identical to AddVector: Qdrant's upsert replaces existing
// points with the same id.
func (q *QdrantIndex) UpdateVector(memoryID, channelID string, vector []float32) error {
	return q.upsert(context.Background(), memoryID, channelID, vector)
}

// DeleteVector removes a memory's vector from the index.
func (q *QdrantIndex) DeleteVector(memoryID string) {
	_, _ = q.points.Delete(context.Background(), &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{pointID(memoryID)}},
			},
		},
	})
}

// Search returns the top-K memory ids by cosine similarity, optionally
// filtered to a channel (or channel-less/global points).
func (q *QdrantIndex) Search(vector []float32, topK int, channelID string) ([]string, []float64, error) {
	if len(vector) != q.dimension {
		return nil, nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, q.dimension, len(vector))
	}

	req := &qdrant.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if channelID != "" {
		req.Filter = &qdrant.Filter{
			Should: []*qdrant.Condition{
				qdrant.NewMatch("channel_id", channelID),
				qdrant.NewMatch("channel_id", ""),
			},
		}
	}

	resp, err := q.points.Search(context.Background(), req)
	if err != nil {
		return nil, nil, fmt.Errorf("memory: qdrant search failed: %w", err)
	}

	ids := make([]string, 0, len(resp.Result))
	scores := make([]float64, 0, len(resp.Result))
	for _, hit := range resp.Result {
		memoryID := hit.GetPayload()["memory_id"].GetStringValue()
		if memoryID == "" {
			continue
		}
		ids = append(ids, memoryID)
		scores = append(scores, float64(hit.GetScore()))
	}
	return ids, scores, nil
}

// Save, Load, and snapshot are no-ops: Qdrant is its own system of record,
// so there is no local state to persist across restarts and no finite
// point set to scan for the decay loop's merge-duplicate detection.
func (q *QdrantIndex) Save(path string) error                        { return nil }
func (q *QdrantIndex) Load(path string) error                        { return nil }
func (q *QdrantIndex) snapshot() (ids []string, vectors [][]float32) { return nil, nil }

var _ DenseIndex = (*QdrantIndex)(nil)
