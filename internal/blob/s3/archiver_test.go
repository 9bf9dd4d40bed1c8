package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

type memBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	multipart []string
	putErr    error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.mu.Lock()
	m.multipart = append(m.multipart, path)
	m.mu.Unlock()
	return m.Put(ctx, path, data, contentTypeJSONL)
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type fakeDeals struct {
	results []domain.DealResult
	deleted []time.Time
}

func (f *fakeDeals) ListBefore(_ context.Context, before time.Time) ([]domain.DealResult, error) {
	var out []domain.DealResult
	for _, r := range f.results {
		if r.CompletedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeDeals) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	f.deleted = append(f.deleted, before)
	return 0, nil
}

type fakeAudit struct {
	entries []domain.AuditEntry
	logged  []string
	details []map[string]any
	deleted int
}

func (f *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	f.logged = append(f.logged, event)
	f.details = append(f.details, detail)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return f.entries, nil
}

func (f *fakeAudit) ListBefore(context.Context, time.Time) ([]domain.AuditEntry, error) {
	return f.entries, nil
}

func (f *fakeAudit) DeleteBefore(context.Context, time.Time) (int64, error) {
	f.deleted++
	return int64(len(f.entries)), nil
}

var now = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func result(id string, completed time.Time) domain.DealResult {
	return domain.DealResult{ID: id, Deal: domain.Deal{ItemName: "Tempered AK47"}, CompletedAt: completed}
}

func readLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestArchiveDealsGroupsByMonth(t *testing.T) {
	blobs := newMemBlobs()
	deals := &fakeDeals{results: []domain.DealResult{
		result("a", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)),
		result("b", time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC)),
		result("c", time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)),
		result("d", time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)),
	}}
	audit := &fakeAudit{}
	a := NewArchiver(blobs, blobs, deals, audit, ArchiverConfig{}, func() time.Time { return now })

	n, err := a.ArchiveDeals(context.Background(), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	jan := readLines(t, blobs.objects["archive/deal_results/2026-01.jsonl"])
	require.Len(t, jan, 2)
	assert.Equal(t, "a", jan[0]["id"])
	assert.Equal(t, "b", jan[1]["id"])
	assert.Len(t, readLines(t, blobs.objects["archive/deal_results/2026-02.jsonl"]), 1)
	assert.Len(t, blobs.objects, 2)

	assert.Equal(t, []string{"archive.deal_results", "archive.deal_results"}, audit.logged)
	assert.Equal(t, "archive/deal_results/2026-01.jsonl", audit.details[0]["path"])
	assert.Equal(t, int64(2), audit.details[0]["count"])
	assert.Empty(t, deals.deleted, "prune disabled")
}

func TestArchiveDealsDoesNotOverwrite(t *testing.T) {
	blobs := newMemBlobs()
	blobs.objects["archive/deal_results/2026-01.jsonl"] = []byte("old\n")
	deals := &fakeDeals{results: []domain.DealResult{result("a", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))}}
	a := NewArchiver(blobs, blobs, deals, &fakeAudit{}, ArchiverConfig{Prune: true}, func() time.Time { return now })

	_, err := a.ArchiveDeals(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, []byte("old\n"), blobs.objects["archive/deal_results/2026-01.jsonl"])
	suffixed := "archive/deal_results/2026-01-" + "1773100800" + ".jsonl"
	assert.Contains(t, blobs.objects, suffixed)
	assert.Equal(t, []time.Time{now}, deals.deleted)
}

func TestArchiveNothingToDo(t *testing.T) {
	blobs := newMemBlobs()
	deals := &fakeDeals{}
	a := NewArchiver(blobs, blobs, deals, &fakeAudit{}, ArchiverConfig{Prune: true}, func() time.Time { return now })

	n, err := a.ArchiveDeals(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
	assert.Empty(t, deals.deleted)
}

func TestArchiveUploadFailureSkipsPrune(t *testing.T) {
	blobs := newMemBlobs()
	blobs.putErr = errors.New("denied")
	deals := &fakeDeals{results: []domain.DealResult{result("a", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))}}
	a := NewArchiver(blobs, blobs, deals, &fakeAudit{}, ArchiverConfig{Prune: true}, func() time.Time { return now })

	_, err := a.ArchiveDeals(context.Background(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
	assert.Empty(t, deals.deleted)
}

func TestArchiveAuditMultipart(t *testing.T) {
	blobs := newMemBlobs()
	audit := &fakeAudit{entries: []domain.AuditEntry{
		{ID: 1, Event: "deal_completed", CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
	}}
	a := NewArchiver(blobs, blobs, &fakeDeals{}, audit, ArchiverConfig{Prune: true, MultipartThreshold: 1}, func() time.Time { return now })

	n, err := a.ArchiveAudit(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"archive/audit_log/2026-02.jsonl"}, blobs.multipart)
	assert.Equal(t, 1, audit.deleted)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("https://e2.example.com", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	require.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	require.Error(t, err)
}

func TestWriterAndReaderAgainstFakeS3(t *testing.T) {
	var mu sync.Mutex
	stored := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/archive-bucket/")
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			stored[key] = body
			w.Header().Set("ETag", `"etag"`)
			w.WriteHeader(http.StatusOK)
		case http.MethodHead:
			if _, ok := stored[key]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	c, err := New(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "archive-bucket",
		AccessKey:      "AKID",
		SecretKey:      "SECRET",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	w, r := NewWriter(c), NewReader(c)

	ok, err := r.Exists(context.Background(), "archive/deal_results/2026-01.jsonl")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, w.Put(context.Background(), "archive/deal_results/2026-01.jsonl",
		bytes.NewReader([]byte("{}\n")), contentTypeJSONL))

	ok, err = r.Exists(context.Background(), "archive/deal_results/2026-01.jsonl")
	require.NoError(t, err)
	assert.True(t, ok)
}
