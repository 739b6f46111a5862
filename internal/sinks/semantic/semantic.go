// Package semantic implements the vector-similarity retrieval sink over
// Qdrant, adapted from the ingestion engine's original single-purpose
// vector store into the three-sink fan-out's semantic leg.
package semantic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/autopiloot/corepipe/internal/sinks"
)

// Store is the sole owner of Qdrant operations for the semantic sink.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New creates a Store connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

func (s *Store) Close() error { return s.conn.Close() }

// EnsureCollection creates the collection if it doesn't already exist.
func (s *Store) EnsureCollection(ctx context.Context, dims int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", s.collection, err)
	}
	return nil
}

// Upsert implements sinks.SemanticSink. Point IDs are a UUID derived from
// the chunk_id (chunkUUID) so re-indexing an unchanged chunk is a no-op overwrite, not a duplicate.
func (s *Store) Upsert(ctx context.Context, records []sinks.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := map[string]*pb.Value{
			"chunk_id":       {Kind: &pb.Value_StringValue{StringValue: r.ChunkID}},
			"video_id":       {Kind: &pb.Value_StringValue{StringValue: r.VideoID}},
			"channel_id":     {Kind: &pb.Value_StringValue{StringValue: r.ChannelID}},
			"content":        {Kind: &pb.Value_StringValue{StringValue: r.Text}},
			"content_sha256": {Kind: &pb.Value_StringValue{StringValue: r.ContentSHA256}},
			"published_at":   {Kind: &pb.Value_StringValue{StringValue: r.PublishedAt.UTC().Format(time.RFC3339)}},
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: chunkUUID(r.ChunkID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding}}},
			Payload: payload,
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Search implements sinks.SemanticSink.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]sinks.SearchHit, error) {
	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filters) > 0 {
		must := make([]*pb.Condition, 0, len(filters))
		for k, v := range filters {
			must = append(must, fieldMatch(k, v))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	hits := make([]sinks.SearchHit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		payload := r.GetPayload()
		publishedAt, _ := time.Parse(time.RFC3339, payload["published_at"].GetStringValue())
		hits[i] = sinks.SearchHit{
			ChunkID:     payload["chunk_id"].GetStringValue(),
			VideoID:     payload["video_id"].GetStringValue(),
			ChannelID:   payload["channel_id"].GetStringValue(),
			PublishedAt: publishedAt,
			Score:       float64(r.GetScore()),
			Text:        payload["content"].GetStringValue(),
		}
	}
	return hits, nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

// chunkUUID derives a deterministic UUID-shaped point ID from a chunk_id,
// since Qdrant point IDs must be UUIDs or unsigned integers. Re-indexing
// the same chunk_id always produces the same point ID, making Upsert an
// idempotent overwrite.
func chunkUUID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}
