package skills

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/memohai/switchboard/internal/embeddings"
)

// Payload keys of a skill point.
const (
	payloadOrganizationID = "organization_id"
	payloadTitle          = "title"
	payloadTriggerText    = "trigger_text"
	payloadResponseText   = "response_text"
	payloadHandover       = "requires_human_handover"
	payloadEnabled        = "enabled"
)

const defaultRankLimit = 5

// qdrantAPI is the subset of *qdrant.Client the index uses.
type qdrantAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Close() error
}

// QdrantIndex ranks skills by cosine similarity of embedded text in one collection.
type QdrantIndex struct {
	client     qdrantAPI
	embedder   embeddings.Embedder
	collection string
	limit      int
	logger     *slog.Logger
}

// NewQdrantIndex connects to Qdrant's gRPC endpoint and ensures the collection exists.
func NewQdrantIndex(log *slog.Logger, embedder embeddings.Embedder, baseURL, apiKey, collection string, timeout time.Duration) (*QdrantIndex, error) {
	if embedder == nil {
		return nil, errors.New("qdrant index: embedder is required")
	}
	host, port, useTLS, err := parseEndpoint(baseURL)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	idx := newQdrantIndex(log, client, embedder, collection)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func newQdrantIndex(log *slog.Logger, client qdrantAPI, embedder embeddings.Embedder, collection string) *QdrantIndex {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(collection) == "" {
		collection = "skills"
	}
	return &QdrantIndex{
		client:     client,
		embedder:   embedder,
		collection: collection,
		limit:      defaultRankLimit,
		logger:     log.With(slog.String("store", "qdrant"), slog.String("collection", collection)),
	}
}

// Close releases the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// Rank embeds text and returns the organization's enabled skills scoring at least threshold.
func (q *QdrantIndex) Rank(ctx context.Context, organizationID, text string, threshold float64) ([]Match, error) {
	vector, err := q.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed inbound text: %w", err)
	}
	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          qdrant.PtrOf(uint64(q.limit)),
		Filter:         organizationFilter(organizationID, true),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if threshold > 0 {
		req.ScoreThreshold = qdrant.PtrOf(float32(threshold))
	}
	scored, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	out := make([]Match, 0, len(scored))
	for _, point := range scored {
		payload := point.GetPayload()
		out = append(out, Match{
			SkillID:               pointIDToString(point.GetId()),
			Title:                 payload[payloadTitle].GetStringValue(),
			TriggerText:           payload[payloadTriggerText].GetStringValue(),
			ResponseText:          payload[payloadResponseText].GetStringValue(),
			RequiresHumanHandover: payload[payloadHandover].GetBoolValue(),
			Similarity:            float64(point.GetScore()),
		})
	}
	return out, nil
}

// Upsert embeds title and trigger text of each skill and writes one point per skill id.
func (q *QdrantIndex) Upsert(ctx context.Context, items []Skill) error {
	if len(items) == 0 {
		return nil
	}
	inputs := make([]string, len(items))
	for i, s := range items {
		inputs[i] = strings.TrimSpace(s.Title + "\n" + s.TriggerText)
	}
	vectors, err := q.embedder.EmbedBatch(ctx, inputs)
	if err != nil {
		return fmt.Errorf("embed skills: %w", err)
	}
	points := make([]*qdrant.PointStruct, 0, len(items))
	for i, s := range items {
		payload, err := qdrant.TryValueMap(map[string]any{
			payloadOrganizationID: s.OrganizationID,
			payloadTitle:          s.Title,
			payloadTriggerText:    s.TriggerText,
			payloadResponseText:   s.ResponseText,
			payloadHandover:       s.RequiresHumanHandover,
			payloadEnabled:        s.Enabled,
		})
		if err != nil {
			return fmt.Errorf("skill %s payload: %w", s.ID, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(s.ID),
			Vectors: qdrant.NewVectorsDense(vectors[i]),
			Payload: payload,
		})
	}
	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// DeleteOrganization removes every point of the organization.
func (q *QdrantIndex) DeleteOrganization(ctx context.Context, organizationID string) error {
	if strings.TrimSpace(organizationID) == "" {
		return errors.New("organization id is required")
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(organizationFilter(organizationID, false)),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("qdrant collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.embedder.Dimensions()),
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}
	fields := map[string]qdrant.FieldType{
		payloadOrganizationID: qdrant.FieldType_FieldTypeKeyword,
		payloadEnabled:        qdrant.FieldType_FieldTypeBool,
	}
	for name, typ := range fields {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      name,
			FieldType:      qdrant.PtrOf(typ),
			Wait:           qdrant.PtrOf(true),
		}); err != nil {
			return fmt.Errorf("qdrant field index %s: %w", name, err)
		}
	}
	q.logger.Info("created skills collection", slog.Int("dimensions", q.embedder.Dimensions()))
	return nil
}

func organizationFilter(organizationID string, enabledOnly bool) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatch(payloadOrganizationID, organizationID)}
	if enabledOnly {
		must = append(must, qdrant.NewMatchBool(payloadEnabled, true))
	}
	return &qdrant.Filter{Must: must}
}

func parseEndpoint(endpoint string) (string, int, bool, error) {
	if endpoint == "" {
		return "127.0.0.1", 6334, false, nil
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", 0, false, err
	}
	host := parsed.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	port := 6334
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, err
		}
	}
	return host, port, parsed.Scheme == "https", nil
}

func pointIDToString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	if num := id.GetNum(); num != 0 {
		return strconv.FormatUint(num, 10)
	}
	return ""
}
