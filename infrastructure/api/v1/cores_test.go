package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracksync/tracksync/application/service"
	"github.com/tracksync/tracksync/domain/health"
	"github.com/tracksync/tracksync/domain/shard"
	"github.com/tracksync/tracksync/infrastructure/api/v1/dto"
)

type fakeAdmin struct {
	report    health.Report
	summary   service.Summary
	retryIDs  []int64
	fixed     int
	reindexed [][]int64
	purged    [][]int64
	err       error
}

func (f *fakeAdmin) Check(context.Context) (health.Report, error) { return f.report, f.err }

func (f *fakeAdmin) Fix(context.Context) (health.Report, error) {
	f.fixed++
	return f.report, f.err
}

func (f *fakeAdmin) Summary(context.Context) (service.Summary, error) { return f.summary, f.err }

func (f *fakeAdmin) ReindexNodes(_ context.Context, ids []int64) error {
	f.reindexed = append(f.reindexed, ids)
	return f.err
}

func (f *fakeAdmin) ReindexTransactions(_ context.Context, ids []int64) error {
	f.reindexed = append(f.reindexed, ids)
	return f.err
}

func (f *fakeAdmin) ReindexAcls(_ context.Context, ids []int64) error {
	f.reindexed = append(f.reindexed, ids)
	return f.err
}

func (f *fakeAdmin) PurgeNodes(_ context.Context, ids []int64) error {
	f.purged = append(f.purged, ids)
	return f.err
}

func (f *fakeAdmin) PurgeTransactions(_ context.Context, ids []int64) error {
	f.purged = append(f.purged, ids)
	return f.err
}

func (f *fakeAdmin) PurgeAcls(_ context.Context, ids []int64) error {
	f.purged = append(f.purged, ids)
	return f.err
}

func (f *fakeAdmin) PurgeChangeSets(_ context.Context, ids []int64) error {
	f.purged = append(f.purged, ids)
	return f.err
}

func (f *fakeAdmin) Retry(context.Context) ([]int64, error) { return f.retryIDs, f.err }

type fakeShards struct {
	check  shard.CheckResult
	policy shard.RangePolicy
	err    error
}

func (f *fakeShards) RangeCheck(context.Context) (shard.CheckResult, error) {
	return f.check, f.err
}

func (f *fakeShards) Expand(context.Context, int64) (shard.RangePolicy, error) {
	return f.policy, f.err
}

func newTestRouter(admin *fakeAdmin, shards ShardService) chi.Router {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cores := map[string]Core{"alpha": {Admin: admin, Shards: shards}}
	return NewCoresRouter(cores, logger).Routes()
}

func doAction(t *testing.T, router chi.Router, core, action string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, "/"+core+"/action/"+action, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCoresRouter_UnknownCore(t *testing.T) {
	router := newTestRouter(&fakeAdmin{}, nil)
	w := doAction(t, router, "missing", "CHECK", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCoresRouter_UnknownAction(t *testing.T) {
	router := newTestRouter(&fakeAdmin{}, nil)
	w := doAction(t, router, "alpha", "FROBNICATE", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCoresRouter_CheckReturnsReport(t *testing.T) {
	report := health.NewBuilder().TxMissingFromIndex(5).Build()
	router := newTestRouter(&fakeAdmin{report: report}, nil)

	w := doAction(t, router, "alpha", "CHECK", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ReportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []int64{5}, resp.TxMissingFromIndex)
	assert.False(t, resp.Clean)
}

func TestCoresRouter_ActionIsCaseInsensitive(t *testing.T) {
	admin := &fakeAdmin{report: health.NewBuilder().Build()}
	router := newTestRouter(admin, nil)
	w := doAction(t, router, "alpha", "fix", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, admin.fixed)
}

func TestCoresRouter_ReindexPassesIDLists(t *testing.T) {
	admin := &fakeAdmin{}
	router := newTestRouter(admin, nil)

	w := doAction(t, router, "alpha", "REINDEX", dto.ActionRequest{
		NodeIDs: []int64{1, 2},
		TxIDs:   []int64{3},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, admin.reindexed, 3)
	assert.Equal(t, []int64{1, 2}, admin.reindexed[0])
	assert.Equal(t, []int64{3}, admin.reindexed[1])
	assert.Empty(t, admin.reindexed[2])
}

func TestCoresRouter_RetryReturnsIDs(t *testing.T) {
	router := newTestRouter(&fakeAdmin{retryIDs: []int64{7, 8}}, nil)

	w := doAction(t, router, "alpha", "RETRY", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ActionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []int64{7, 8}, resp.IDs)
	assert.Equal(t, "ok", resp.Status)
}

func TestCoresRouter_RangeCheckWithoutShards(t *testing.T) {
	router := newTestRouter(&fakeAdmin{}, nil)
	w := doAction(t, router, "alpha", "RANGECHECK", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCoresRouter_RangeCheck(t *testing.T) {
	policy := shard.NewRangePolicy(0, 100)
	shards := &fakeShards{check: policy.RangeCheck(60, 30)}
	router := newTestRouter(&fakeAdmin{}, shards)

	w := doAction(t, router, "alpha", "RANGECHECK", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.RangeCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "recommendExpansion", resp.Outcome)
	assert.Positive(t, resp.Extra)
}

func TestCoresRouter_ExpandValidatesAdd(t *testing.T) {
	router := newTestRouter(&fakeAdmin{}, &fakeShards{})
	w := doAction(t, router, "alpha", "EXPAND", dto.ActionRequest{Add: 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCoresRouter_ExpandConflictWhenAlreadyExpanded(t *testing.T) {
	router := newTestRouter(&fakeAdmin{}, &fakeShards{err: shard.ErrAlreadyExpanded})
	w := doAction(t, router, "alpha", "EXPAND", dto.ActionRequest{Add: 50})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCoresRouter_Expand(t *testing.T) {
	expanded, err := shard.NewRangePolicy(0, 100).Expand(100, 40)
	require.NoError(t, err)
	router := newTestRouter(&fakeAdmin{}, &fakeShards{policy: expanded})

	w := doAction(t, router, "alpha", "EXPAND", dto.ActionRequest{Add: 100})
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.RangeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(200), resp.End)
	assert.True(t, resp.Expanded)
}
