package httpadmin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pulsarbroker/internal/data"
	"github.com/sawpanic/pulsarbroker/internal/ids"
	"github.com/sawpanic/pulsarbroker/internal/model"
	"github.com/sawpanic/pulsarbroker/internal/persistence"
	"github.com/sawpanic/pulsarbroker/internal/services"
)

func newTestServer(t *testing.T) (*Server, model.Topic, model.SubscriptionMeta) {
	t.Helper()
	store := &data.Store{
		Entities: persistence.NewInMemoryEntityStore(),
		Events:   persistence.NewInMemoryEventLog(),
	}
	ctx := context.Background()
	require.NoError(t, data.Add(ctx, store, data.TypeCluster, ids.ClusterKey, model.Cluster{Name: "test"}))
	admin := &services.AdminService{Store: store}
	topic, err := admin.CreateTopic(ctx, "prices", 1, ids.NodeId(1), 0)
	require.NoError(t, err)
	meta, err := admin.CreateSubscription(ctx, topic.Id, "sub-a", false)
	require.NoError(t, err)
	stats := &services.StatsService{Admin: admin}
	srv := NewServer(admin, stats, DefaultConfig("127.0.0.1:0"))
	return srv, topic, meta
}

func doRequest(srv *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v), "decode response body %q", rec.Body.String())
}

func TestServer_HealthReturnsOK(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/v1/admin/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_SetsRequestIDHeaderAndJSONContentType(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/v1/admin/health")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestServer_ClusterReturnsName(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/v1/admin/cluster")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var c model.Cluster
	decodeJSON(t, rec, &c)
	assert.Equal(t, "test", c.Name)
}

func TestServer_ClusterStats(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/v1/admin/cluster/stats")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stats services.ClusterStats
	decodeJSON(t, rec, &stats)
	assert.Equal(t, 1, stats.TopicCount)
}

func TestServer_NodeNotFoundMapsTo404(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/v1/admin/nodes/999")
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func TestServer_TopicByID(t *testing.T) {
	srv, topic, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, fmt.Sprintf("/v1/admin/topics/%d", topic.Id))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got model.Topic
	decodeJSON(t, rec, &got)
	assert.Equal(t, "prices", got.Name)
}

func TestServer_TopicUnknownIDMapsTo404(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/v1/admin/topics/987654")
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func TestServer_TopicMalformedIDMapsTo400(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/v1/admin/topics/not-a-number")
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestServer_PartitionsForTopic(t *testing.T) {
	srv, topic, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, fmt.Sprintf("/v1/admin/topics/%d/partitions", topic.Id))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var partitions []model.Partition
	decodeJSON(t, rec, &partitions)
	assert.Len(t, partitions, 1)
}

func TestServer_PartitionAndPartitionStats(t *testing.T) {
	srv, topic, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, fmt.Sprintf("/v1/admin/topics/%d/partitions/0", topic.Id))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	statsRec := doRequest(srv, http.MethodGet, fmt.Sprintf("/v1/admin/topics/%d/partitions/0/stats", topic.Id))
	require.Equal(t, http.StatusOK, statsRec.Code, statsRec.Body.String())
	var stats services.PartitionStats
	decodeJSON(t, statsRec, &stats)
	assert.Equal(t, ids.NodeId(1), stats.OwnerNodeId)
}

func TestServer_LedgersAndLedgerByID(t *testing.T) {
	srv, topic, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, fmt.Sprintf("/v1/admin/topics/%d/partitions/0/ledgers", topic.Id))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ledgers []model.Ledger
	decodeJSON(t, rec, &ledgers)
	require.Len(t, ledgers, 1, "expected 1 ledger to exist after topic creation")

	ledgerRec := doRequest(srv, http.MethodGet, fmt.Sprintf("/v1/admin/topics/%d/partitions/0/ledgers/%d", topic.Id, ledgers[0].Id))
	assert.Equal(t, http.StatusOK, ledgerRec.Code, ledgerRec.Body.String())
}

func TestServer_SubscriptionAndSubscriptionStats(t *testing.T) {
	srv, topic, meta := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, fmt.Sprintf("/v1/admin/topics/%d/subscriptions/%d", topic.Id, meta.Id))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	statsRec := doRequest(srv, http.MethodGet, fmt.Sprintf("/v1/admin/topics/%d/subscriptions/%d/stats", topic.Id, meta.Id))
	require.Equal(t, http.StatusOK, statsRec.Code, statsRec.Body.String())
	var body map[string]int
	decodeJSON(t, statsRec, &body)
	_, ok := body["queue_depth"]
	assert.True(t, ok, "expected a queue_depth field, got %+v", body)
}

func TestServer_UnknownRouteMapsTo404WithBody(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/v1/admin/nonexistent")
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.NotEmpty(t, body["error"])
}
