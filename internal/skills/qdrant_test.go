package skills

import (
	"context"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	dims  int
	calls [][]string
}

func (f *fakeEmbedder) Embed(ctx context.Context, input string) ([]float32, error) {
	v, err := f.EmbedBatch(ctx, []string{input})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, inputs []string) ([][]float32, error) {
	f.calls = append(f.calls, inputs)
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = make([]float32, f.dims)
		out[i][0] = float32(i + 1)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

type fakeQdrant struct {
	exists      bool
	created     *qdrant.CreateCollection
	fieldIndex  []string
	lastQuery   *qdrant.QueryPoints
	queryResult []*qdrant.ScoredPoint
	upserts     []*qdrant.UpsertPoints
	deletes     []*qdrant.DeletePoints
}

func (f *fakeQdrant) Close() error { return nil }

func (f *fakeQdrant) CollectionExists(context.Context, string) (bool, error) { return f.exists, nil }

func (f *fakeQdrant) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.created = req
	return nil
}

func (f *fakeQdrant) CreateFieldIndex(_ context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error) {
	f.fieldIndex = append(f.fieldIndex, req.GetFieldName())
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.lastQuery = req
	return f.queryResult, nil
}

func (f *fakeQdrant) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserts = append(f.upserts, req)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.deletes = append(f.deletes, req)
	return &qdrant.UpdateResult{}, nil
}

func filterKeys(f *qdrant.Filter) []string {
	keys := make([]string, 0, len(f.GetMust()))
	for _, c := range f.GetMust() {
		keys = append(keys, c.GetField().GetKey())
	}
	return keys
}

func TestEnsureCollectionCreatesWithIndexes(t *testing.T) {
	fq := &fakeQdrant{}
	idx := newQdrantIndex(nil, fq, &fakeEmbedder{dims: 4}, "")
	require.NoError(t, idx.ensureCollection(context.Background()))
	require.NotNil(t, fq.created)
	assert.Equal(t, "skills", fq.created.GetCollectionName())
	assert.Equal(t, uint64(4), fq.created.GetVectorsConfig().GetParams().GetSize())
	assert.ElementsMatch(t, []string{payloadOrganizationID, payloadEnabled}, fq.fieldIndex)

	fq2 := &fakeQdrant{exists: true}
	require.NoError(t, newQdrantIndex(nil, fq2, &fakeEmbedder{dims: 4}, "skills").ensureCollection(context.Background()))
	assert.Nil(t, fq2.created)
}

func TestRankFiltersAndMapsPayload(t *testing.T) {
	payload, err := qdrant.TryValueMap(map[string]any{
		payloadTitle:        "Fiyatlar",
		payloadTriggerText:  "fiyat listesi",
		payloadResponseText: "Fiyat listemiz ektedir.",
		payloadHandover:     false,
	})
	require.NoError(t, err)
	fq := &fakeQdrant{queryResult: []*qdrant.ScoredPoint{{
		Id:      qdrant.NewIDUUID("3f1c9a52-5f5d-4a43-b0a0-2b1f6c0f6d11"),
		Score:   0.83,
		Payload: payload,
	}}}
	idx := newQdrantIndex(nil, fq, &fakeEmbedder{dims: 2}, "skills")

	matches, err := idx.Rank(context.Background(), "org-1", "fiyat ne kadar", 0.6)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "3f1c9a52-5f5d-4a43-b0a0-2b1f6c0f6d11", matches[0].SkillID)
	assert.Equal(t, "Fiyat listemiz ektedir.", matches[0].ResponseText)
	assert.InDelta(t, 0.83, matches[0].Similarity, 1e-6)

	require.NotNil(t, fq.lastQuery)
	assert.InDelta(t, 0.6, fq.lastQuery.GetScoreThreshold(), 1e-6)
	assert.Equal(t, []string{payloadOrganizationID, payloadEnabled}, filterKeys(fq.lastQuery.GetFilter()))
}

func TestUpsertAndReindex(t *testing.T) {
	fq := &fakeQdrant{exists: true}
	emb := &fakeEmbedder{dims: 2}
	idx := newQdrantIndex(nil, fq, emb, "skills")
	lister := listerFunc(func(context.Context, string) ([]Skill, error) {
		return []Skill{
			{ID: "aaaaaaaa-0000-0000-0000-000000000001", OrganizationID: "org-1", Title: "Fiyat", TriggerText: "fiyat listesi", Enabled: true},
			{ID: "aaaaaaaa-0000-0000-0000-000000000002", OrganizationID: "org-1", Title: "Destek", TriggerText: "destek istiyorum", RequiresHumanHandover: true, Enabled: true},
		}, nil
	})

	n, err := NewIndexer(nil, lister, idx).Reindex(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, fq.deletes, 1)
	assert.Equal(t, []string{payloadOrganizationID}, filterKeys(fq.deletes[0].GetPoints().GetFilter()))
	require.Len(t, fq.upserts, 1)
	assert.Len(t, fq.upserts[0].GetPoints(), 2)
	assert.Equal(t, []string{"Fiyat\nfiyat listesi", "Destek\ndestek istiyorum"}, emb.calls[0])
	assert.True(t, fq.upserts[0].GetPoints()[1].GetPayload()[payloadHandover].GetBoolValue())
}

type listerFunc func(ctx context.Context, orgID string) ([]Skill, error)

func (f listerFunc) ListEnabled(ctx context.Context, orgID string) ([]Skill, error) { return f(ctx, orgID) }

func TestParseEndpoint(t *testing.T) {
	host, port, tls, err := parseEndpoint("https://qdrant.internal:7334")
	require.NoError(t, err)
	assert.Equal(t, "qdrant.internal", host)
	assert.Equal(t, 7334, port)
	assert.True(t, tls)

	host, port, tls, err = parseEndpoint("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 6334, port)
	assert.False(t, tls)
}
