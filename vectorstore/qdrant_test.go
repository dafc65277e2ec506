package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(Config{URL: server.URL, Collection: "regdocs_v1"})
	return client, server
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	var created bool
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/regdocs_v1/exists":
			fmt.Fprint(w, `{"result":{"exists":false}}`)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/regdocs_v1":
			var body struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, 768, body.Vectors.Size)
			assert.Equal(t, "Cosine", body.Vectors.Distance)
			created = true
			fmt.Fprint(w, `{"result":true}`)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	require.NoError(t, client.EnsureCollection(context.Background(), 768))
	assert.True(t, created)
}

func TestEnsureCollectionSkipsExisting(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			t.Fatal("existing collection must not be recreated")
		}
		fmt.Fprint(w, `{"result":{"exists":true}}`)
	}))
	require.NoError(t, client.EnsureCollection(context.Background(), 768))
}

func TestEnsureCollectionRejectsBadDimension(t *testing.T) {
	client := NewClient(Config{URL: "http://unused", Collection: "c"})
	require.Error(t, client.EnsureCollection(context.Background(), 0))
}

func TestUpsertSendsPointsWithWait(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/collections/regdocs_v1/points", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("wait"))

		var body struct {
			Points []Point `json:"points"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Points, 1)
		assert.Equal(t, uint64(42), body.Points[0].ID)
		assert.Equal(t, "reach.pdf", body.Points[0].Payload.SourceName)
		fmt.Fprint(w, `{"result":{"status":"completed"}}`)
	}))

	err := client.Upsert(context.Background(), []Point{{
		ID:     42,
		Vector: []float32{0.1, 0.2},
		Payload: Payload{
			SourcePath: "/data/reach.pdf",
			SourceName: "reach.pdf",
			FileSHA1:   "abc",
			ChunkIndex: 3,
			Text:       "excerpt",
		},
	}})
	require.NoError(t, err)
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	client := NewClient(Config{URL: "http://unused", Collection: "c"})
	require.NoError(t, client.Upsert(context.Background(), nil))
}

func TestUpsertSurfacesHTTPError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "wrong vector size", http.StatusBadRequest)
	}))
	err := client.Upsert(context.Background(), []Point{{ID: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status")
}

func TestSearchDecodesScoredPoints(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/regdocs_v1/points/search", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(5), body["limit"])
		assert.Equal(t, true, body["with_payload"])

		fmt.Fprint(w, `{"result":[
			{"id":1,"score":0.91,"payload":{"source_name":"a.pdf","chunk_index":2,"text":"first"}},
			{"id":2,"score":0.40,"payload":{"source_name":"b.pdf","chunk_index":0,"text":"second"}}
		]}`)
	}))

	hits, err := client.Search(context.Background(), []float32{0.5}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 0.91, hits[0].Score)
	assert.Equal(t, "a.pdf", hits[0].Payload.SourceName)
	assert.Equal(t, 2, hits[0].Payload.ChunkIndex)
}

func TestScrollPaginatesUntilNullOffset(t *testing.T) {
	var calls int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/regdocs_v1/points/scroll", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, false, body["with_vectors"])

		calls++
		switch calls {
		case 1:
			assert.NotContains(t, body, "offset")
			assert.Contains(t, body, "filter")
			fmt.Fprint(w, `{"result":{"points":[{"id":1,"payload":{"chunk_index":0}}],"next_page_offset":17}}`)
		default:
			assert.Equal(t, float64(17), body["offset"])
			fmt.Fprint(w, `{"result":{"points":[{"id":2,"payload":{"chunk_index":1}}],"next_page_offset":null}}`)
		}
	}))

	req := ScrollRequest{Filter: MatchValue("file_sha1", "abc"), Limit: 1}
	var indexes []int
	for {
		page, err := client.Scroll(context.Background(), req)
		require.NoError(t, err)
		for _, p := range page.Points {
			indexes = append(indexes, p.Payload.ChunkIndex)
		}
		if page.NextOffset == nil {
			break
		}
		req.Offset = page.NextOffset
	}
	assert.Equal(t, []int{0, 1}, indexes)
	assert.Equal(t, 2, calls)
}

func TestCount(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/regdocs_v1/points/count", r.URL.Path)
		fmt.Fprint(w, `{"result":{"count":1234}}`)
	}))
	n, err := client.Count(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1234, n)
}

func TestDeleteByFilterRequiresFilter(t *testing.T) {
	client := NewClient(Config{URL: "http://unused", Collection: "c"})
	require.Error(t, client.DeleteByFilter(context.Background(), nil))
}

func TestReadyProbesReadyz(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/readyz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	require.NoError(t, client.Ready(context.Background()))
}
