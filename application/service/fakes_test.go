package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/tracksync/tracksync/domain/acl"
	"github.com/tracksync/tracksync/domain/document"
	domainindex "github.com/tracksync/tracksync/domain/index"
	"github.com/tracksync/tracksync/domain/node"
	"github.com/tracksync/tracksync/domain/repo"
	"github.com/tracksync/tracksync/domain/store"
	"github.com/tracksync/tracksync/domain/tracker"
	"github.com/tracksync/tracksync/domain/txn"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- fake index engine ---

type fakeDoc struct {
	key    document.Key
	fields map[string]any
}

type fakeMutation struct {
	doc     *document.Document
	key     *document.Key
	docType document.DocType
	options []store.Option
}

type fakeEngine struct {
	mu        sync.Mutex
	committed map[string]fakeDoc
	commitErr error
	commits   int
	rollbacks int
	dupCounts map[document.DocType]int64
	// facetExtra adds synthetic counts to FacetCounts buckets, keyed by
	// docType/field. The map-backed store cannot hold duplicate keys, so
	// duplicate faults are injected here.
	facetExtra map[string]map[int64]int
	capped     []int64
}

// fakeBatch buffers mutations privately, like the real engine's batch,
// so tests can interleave concurrent runs against one fake engine.
type fakeBatch struct {
	engine  *fakeEngine
	mu      sync.Mutex
	pending []fakeMutation
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		committed:  map[string]fakeDoc{},
		dupCounts:  map[document.DocType]int64{},
		facetExtra: map[string]map[int64]int{},
	}
}

func (f *fakeEngine) Begin() domainindex.Batch {
	return &fakeBatch{engine: f}
}

func (b *fakeBatch) Index(_ context.Context, doc document.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, fakeMutation{doc: &doc})
	return nil
}

func (b *fakeBatch) DeleteByKey(_ context.Context, key document.Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, fakeMutation{key: &key})
	return nil
}

func (b *fakeBatch) DeleteByQuery(_ context.Context, docType document.DocType, options ...store.Option) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, fakeMutation{docType: docType, options: options})
	return nil
}

func (b *fakeBatch) Commit(_ context.Context) error {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	f := b.engine
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		err := f.commitErr
		f.commitErr = nil
		return err
	}
	for _, m := range pending {
		switch {
		case m.doc != nil:
			key := m.doc.Key()
			stored := map[string]any{}
			if existing, ok := f.committed[key.String()]; ok {
				stored = existing.fields
			}
			f.committed[key.String()] = fakeDoc{key: key, fields: m.doc.Merge(stored)}
		case m.key != nil:
			delete(f.committed, m.key.String())
		default:
			for keyStr, doc := range f.committed {
				if doc.key.Type() == m.docType && matchesConditions(doc.fields, m.options...) {
					delete(f.committed, keyStr)
				}
			}
		}
	}
	f.commits++
	return nil
}

func (b *fakeBatch) Rollback(_ context.Context) error {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()

	b.engine.mu.Lock()
	defer b.engine.mu.Unlock()
	b.engine.rollbacks++
	return nil
}

// seedDocs commits documents straight into the fake store.
func (f *fakeEngine) seedDocs(docs ...document.Document) error {
	b := f.Begin()
	for _, doc := range docs {
		if err := b.Index(context.Background(), doc); err != nil {
			return err
		}
	}
	return b.Commit(context.Background())
}

func (f *fakeEngine) Get(_ context.Context, key document.Key) (domainindex.StoredDoc, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.committed[key.String()]
	if !ok {
		return domainindex.StoredDoc{}, false, nil
	}
	return domainindex.NewStoredDoc(doc.key, doc.fields), true, nil
}

func (f *fakeEngine) Find(_ context.Context, docType document.DocType, options ...store.Option) ([]domainindex.StoredDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domainindex.StoredDoc
	for _, doc := range f.committed {
		if doc.key.Type() == docType && matchesConditions(doc.fields, options...) {
			out = append(out, domainindex.NewStoredDoc(doc.key, doc.fields))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().ID() < out[j].Key().ID() })
	q := store.Build(options...)
	if q.LimitValue() > 0 && len(out) > q.LimitValue() {
		out = out[:q.LimitValue()]
	}
	return out, nil
}

func (f *fakeEngine) FacetCounts(_ context.Context, docType document.DocType, field string, window domainindex.FacetWindow, minCount int) (map[int64]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[int64]int{}
	for _, doc := range f.committed {
		if doc.key.Type() != docType {
			continue
		}
		v, ok := coerceInt64(doc.fields[field])
		if !ok || v < window.Lo || v >= window.Hi {
			continue
		}
		counts[v]++
	}
	for v, extra := range f.facetExtra[string(docType)+"/"+field] {
		if v >= window.Lo && v < window.Hi {
			counts[v] += extra
		}
	}
	for v, c := range counts {
		if c < minCount {
			delete(counts, v)
		}
	}
	return counts, nil
}

func (f *fakeEngine) addFacetExtra(docType document.DocType, field string, value int64, extra int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(docType) + "/" + field
	if f.facetExtra[key] == nil {
		f.facetExtra[key] = map[int64]int{}
	}
	f.facetExtra[key][value] += extra
}

func (f *fakeEngine) Count(_ context.Context, docType document.DocType, options ...store.Option) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, doc := range f.committed {
		if doc.key.Type() == docType && matchesConditions(doc.fields, options...) {
			count++
		}
	}
	return count, nil
}

func (f *fakeEngine) DuplicateCount(_ context.Context, docType document.DocType) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dupCounts[docType], nil
}

func (f *fakeEngine) MaxField(_ context.Context, docType document.DocType, field string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max int64
	for _, doc := range f.committed {
		if doc.key.Type() != docType {
			continue
		}
		if v, ok := coerceInt64(doc.fields[field]); ok && v > max {
			max = v
		}
	}
	return max, nil
}

func (f *fakeEngine) Cap(_ context.Context, docType document.DocType, max int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capped = append(f.capped, max)
	for keyStr, doc := range f.committed {
		if doc.key.Type() == docType && doc.key.ID() > max {
			delete(f.committed, keyStr)
		}
	}
	return nil
}

func matchesConditions(fields map[string]any, options ...store.Option) bool {
	q := store.Build(options...)
	for _, cond := range q.Conditions() {
		if !matchesCondition(fields, cond) {
			return false
		}
	}
	return true
}

func matchesCondition(fields map[string]any, cond store.Condition) bool {
	value := fields[cond.Field()]

	if cond.Field() == document.FieldAncestorRefs {
		want := fmt.Sprintf("%v", cond.Value())
		for _, ref := range toStrings(value) {
			if ref == want {
				return true
			}
		}
		return false
	}

	switch cond.Compare() {
	case store.CompareIn:
		have, ok := coerceInt64(value)
		if !ok {
			return false
		}
		ids, _ := cond.Value().([]int64)
		for _, id := range ids {
			if id == have {
				return true
			}
		}
		return false
	case store.CompareGreaterThan:
		have, ok := coerceInt64(value)
		want, _ := coerceInt64(cond.Value())
		return ok && have > want
	case store.CompareGreaterThanField:
		have, ok := coerceInt64(value)
		other, ook := coerceInt64(fields[fmt.Sprintf("%v", cond.Value())])
		return ok && ook && have > other
	case store.CompareGreaterOrEqual:
		have, ok := coerceInt64(value)
		want, _ := coerceInt64(cond.Value())
		return ok && have >= want
	case store.CompareLessThan:
		have, ok := coerceInt64(value)
		want, _ := coerceInt64(cond.Value())
		return ok && have < want
	case store.CompareLessOrEqual:
		have, ok := coerceInt64(value)
		want, _ := coerceInt64(cond.Value())
		return ok && have <= want
	default:
		if have, ok := coerceInt64(value); ok {
			want, wok := coerceInt64(cond.Value())
			return wok && have == want
		}
		return fmt.Sprintf("%v", value) == fmt.Sprintf("%v", cond.Value())
	}
}

func coerceInt64(v any) (int64, bool) {
	switch vv := v.(type) {
	case int64:
		return vv, true
	case int:
		return int64(vv), true
	case float64:
		return int64(vv), true
	default:
		return 0, false
	}
}

func toStrings(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		var out []string
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{vv}
	default:
		return nil
	}
}

// --- fake repository client ---

type fakeClient struct {
	mu         sync.Mutex
	txns       []txn.Transaction
	changeSets []txn.AclChangeSet
	nodesByTxn map[int64][]node.Node
	metadata   map[int64]node.Metadata
	aclsBySet  map[int64][]int64
	readers    map[int64]acl.Readers
	content    map[int64]repo.TextContent

	txnErr      error
	bulkMetaErr error
	metaErrs    map[int64]error
	contentErrs map[int64]error
	modelDiffs  []repo.ModelDiff
	modelErr    error

	onNodes func()
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		nodesByTxn:  map[int64][]node.Node{},
		metadata:    map[int64]node.Metadata{},
		aclsBySet:   map[int64][]int64{},
		readers:     map[int64]acl.Readers{},
		content:     map[int64]repo.TextContent{},
		metaErrs:    map[int64]error{},
		contentErrs: map[int64]error{},
	}
}

func (f *fakeClient) Transactions(_ context.Context, sinceCommitTime, sinceID int64, maxResults int) ([]txn.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.txnErr != nil {
		return nil, f.txnErr
	}
	var out []txn.Transaction
	for _, t := range f.txns {
		if t.CommitTimeMs() >= sinceCommitTime && t.ID() > sinceID {
			out = append(out, t)
		}
		if len(out) == maxResults {
			break
		}
	}
	return out, nil
}

func (f *fakeClient) AclChangeSets(_ context.Context, sinceCommitTime, sinceID int64, maxResults int) ([]txn.AclChangeSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []txn.AclChangeSet
	for _, cs := range f.changeSets {
		if cs.CommitTimeMs() >= sinceCommitTime && cs.ID() > sinceID {
			out = append(out, cs)
		}
		if len(out) == maxResults {
			break
		}
	}
	return out, nil
}

func (f *fakeClient) Nodes(_ context.Context, txnIDs []int64) ([]node.Node, error) {
	f.mu.Lock()
	onNodes := f.onNodes
	f.mu.Unlock()
	if onNodes != nil {
		onNodes()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []node.Node
	for _, id := range txnIDs {
		out = append(out, f.nodesByTxn[id]...)
	}
	return out, nil
}

func (f *fakeClient) NodeMetadata(_ context.Context, req repo.MetadataRequest) ([]node.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bulkMetaErr != nil && len(req.NodeIDs) > 1 {
		return nil, f.bulkMetaErr
	}
	var out []node.Metadata
	for _, id := range req.NodeIDs {
		if err, ok := f.metaErrs[id]; ok {
			return nil, err
		}
		if meta, ok := f.metadata[id]; ok {
			out = append(out, meta)
		}
	}
	return out, nil
}

func (f *fakeClient) Acls(_ context.Context, changeSetIDs []int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, id := range changeSetIDs {
		out = append(out, f.aclsBySet[id]...)
	}
	return out, nil
}

func (f *fakeClient) AclReaders(_ context.Context, aclID int64) (acl.Readers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.readers[aclID]
	if !ok {
		return acl.Readers{}, fmt.Errorf("unknown acl %d", aclID)
	}
	return r, nil
}

func (f *fakeClient) TextContent(_ context.Context, nodeID int64, _ string) (repo.TextContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.contentErrs[nodeID]; ok {
		return repo.TextContent{}, err
	}
	c, ok := f.content[nodeID]
	if !ok {
		return repo.TextContent{}, fmt.Errorf("no content for node %d", nodeID)
	}
	return c, nil
}

func (f *fakeClient) ModelDiffs(_ context.Context, _ []repo.ModelSnapshot) ([]repo.ModelDiff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.modelErr != nil {
		return nil, f.modelErr
	}
	return f.modelDiffs, nil
}

// --- in-memory state store ---

type memStateStore struct {
	mu     sync.Mutex
	states map[string]tracker.State
	saves  int
}

func newMemStateStore() *memStateStore {
	return &memStateStore{states: map[string]tracker.State{}}
}

func stateMapKey(core string, kind tracker.Kind) string {
	return core + "/" + kind.String()
}

func (m *memStateStore) Load(_ context.Context, core string, kind tracker.Kind, holeRetention time.Duration) (tracker.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[stateMapKey(core, kind)]; ok {
		return s, nil
	}
	return tracker.NewState(core, kind, holeRetention), nil
}

func (m *memStateStore) Save(_ context.Context, state tracker.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[stateMapKey(state.Core(), state.Kind())] = state
	m.saves++
	return nil
}

func (m *memStateStore) Overwrite(_ context.Context, state tracker.State) error {
	return m.Save(context.Background(), state)
}
