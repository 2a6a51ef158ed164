package similar

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrZeroVector is returned for circuits with nothing to compare.
var ErrZeroVector = errors.New("similar: zero feature vector")

// pointNamespace derives stable point ids from submission ids.
var pointNamespace = uuid.MustParse("6f1c2a52-0b7e-4a55-9a43-3f1f0d3c9e11")

// PointsClient is the subset of the Qdrant points API the index uses.
type PointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// CollectionsClient is the subset of the Qdrant collections API the index uses.
type CollectionsClient interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Entry is one indexed submission.
type Entry struct {
	SubmissionID string
	ExamCode     string
	StudentCode  string
	Vector       []float32
}

// Match is a neighbouring submission and its cosine similarity.
type Match struct {
	SubmissionID string  `json:"submission_id"`
	StudentCode  string  `json:"student_code"`
	Score        float32 `json:"score"`
}

// Index stores submission feature vectors in one Qdrant collection.
type Index struct {
	conn        *grpc.ClientConn
	points      PointsClient
	collections CollectionsClient
	collection  string
}

// New connects to Qdrant's gRPC endpoint at addr.
func New(addr, collection string) (*Index, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("similar: dial qdrant %s: %w", addr, err)
	}
	idx := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection)
	idx.conn = conn
	return idx, nil
}

// NewWithClients builds an Index on existing clients.
func NewWithClients(points PointsClient, collections CollectionsClient, collection string) *Index {
	return &Index{points: points, collections: collections, collection: collection}
}

// Close releases the gRPC connection, if New opened one.
func (i *Index) Close() error {
	if i.conn == nil {
		return nil
	}
	return i.conn.Close()
}

// PointID maps a submission id to its Qdrant point id.
func PointID(submissionID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(submissionID)).String()
}

// EnsureCollection creates the cosine collection when it is missing.
func (i *Index) EnsureCollection(ctx context.Context) error {
	list, err := i.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("similar: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == i.collection {
			return nil
		}
	}
	_, err = i.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: i.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: Dims, Distance: pb.Distance_Cosine},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("similar: create collection %s: %w", i.collection, err)
	}
	return nil
}

// Upsert indexes e, replacing an earlier vector for the same submission.
func (i *Index) Upsert(ctx context.Context, e Entry) error {
	if len(e.Vector) != Dims {
		return fmt.Errorf("similar: vector has %d dims, want %d", len(e.Vector), Dims)
	}
	if isZero(e.Vector) {
		return ErrZeroVector
	}
	wait := true
	_, err := i.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: i.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(e.SubmissionID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: e.Vector}}},
			Payload: map[string]*pb.Value{
				"submission_id": stringValue(e.SubmissionID),
				"exam_code":     stringValue(e.ExamCode),
				"student_code":  stringValue(e.StudentCode),
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("similar: upsert %s: %w", e.SubmissionID, err)
	}
	return nil
}

// Remove drops a submission from the index.
func (i *Index) Remove(ctx context.Context, submissionID string) error {
	wait := true
	_, err := i.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: i.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{
					{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(submissionID)}},
				}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("similar: delete %s: %w", submissionID, err)
	}
	return nil
}

// Similar returns up to limit submissions of examCode closest to vec, best
// first. The submission named by exclude is left out.
func (i *Index) Similar(ctx context.Context, examCode string, vec []float32, exclude string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 5
	}
	if isZero(vec) {
		return nil, ErrZeroVector
	}
	resp, err := i.points.Search(ctx, &pb.SearchPoints{
		CollectionName: i.collection,
		Vector:         vec,
		Limit:          uint64(limit + 1),
		Filter:         &pb.Filter{Must: []*pb.Condition{keywordMatch("exam_code", examCode)}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("similar: search %s: %w", examCode, err)
	}
	var out []Match
	for _, p := range resp.GetResult() {
		payload := p.GetPayload()
		m := Match{
			SubmissionID: payload["submission_id"].GetStringValue(),
			StudentCode:  payload["student_code"].GetStringValue(),
			Score:        p.GetScore(),
		}
		if m.SubmissionID == exclude {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func keywordMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
