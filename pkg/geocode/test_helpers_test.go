package geocode

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// newRewriteClient creates an HTTP client that rewrites requests to a test server URL.
// All requests matching the target prefix are redirected to the test server.
func newRewriteClient(testServerURL, targetPrefix string) *http.Client {
	return &http.Client{
		Transport: &rewriteTransport{
			base:         http.DefaultTransport,
			testServer:   testServerURL,
			targetPrefix: targetPrefix,
		},
	}
}

type rewriteTransport struct {
	base         http.RoundTripper
	testServer   string
	targetPrefix string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	origURL := req.URL.String()
	if strings.HasPrefix(origURL, t.targetPrefix) {
		suffix := origURL[len(t.targetPrefix):]
		newURL := t.testServer + suffix
		newReq := req.Clone(req.Context())
		parsed, err := req.URL.Parse(newURL)
		if err != nil {
			return nil, err
		}
		newReq.URL = parsed
		newReq.Host = parsed.Host
		return t.base.RoundTrip(newReq)
	}
	return t.base.RoundTrip(req)
}

// fakeProvider returns canned results and counts calls.
type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	result  *Result
	err     error
	results map[string]*Result // per-address result, keyed by raw input
	errFor  map[string]error   // per-address failure, keyed by raw input
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Resolve(_ context.Context, address string) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errFor[address]; ok {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[address]; ok {
		out := *r
		return &out, nil
	}
	out := *f.result
	return &out, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// validResult builds a minimal valid geocode result.
func validResult(formatted string) *Result {
	lat, lng := -35.0269, 117.8837
	return &Result{
		FormattedAddress: formatted,
		Suburb:           "Albany",
		State:            "Western Australia",
		Country:          "Australia",
		Latitude:         &lat,
		Longitude:        &lng,
		Valid:            true,
	}
}

// memStore is an in-memory geocode.Store with fault injection.
type memStore struct {
	mu      sync.Mutex
	entries map[string]*Entry

	failGet   bool
	failPut   bool
	failTouch bool
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*Entry)}
}

func (m *memStore) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, eris.New("store unavailable")
	}
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	out := *e
	return &out, nil
}

func (m *memStore) Touch(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTouch {
		return eris.New("store unavailable")
	}
	if e, ok := m.entries[key]; ok {
		e.UsageCount++
		e.LastUsedAt = time.Now().UTC()
	}
	return nil
}

func (m *memStore) Put(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return eris.New("store unavailable")
	}
	if existing, ok := m.entries[e.Key]; ok {
		existing.Result = e.Result
		existing.GeocodedBy = e.GeocodedBy
		existing.LastUsedAt = e.LastUsedAt
		return nil
	}
	cp := *e
	m.entries[e.Key] = &cp
	return nil
}

func (m *memStore) Override(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[e.Key]; ok {
		existing.Result = e.Result
		existing.ManualOverride = true
		existing.OverrideAt = e.OverrideAt
		existing.OverrideBy = e.OverrideBy
		return nil
	}
	cp := *e
	m.entries[e.Key] = &cp
	return nil
}

func (m *memStore) Stats(_ context.Context) (*CacheStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &CacheStats{}
	for _, e := range m.entries {
		st.Total++
		if e.Result.Valid {
			st.Valid++
		} else {
			st.Invalid++
		}
		if e.Result.PartialMatch {
			st.PartialMatches++
		}
		if e.ManualOverride {
			st.ManualOverrides++
		}
		st.TotalUsage += e.UsageCount
	}
	return st, nil
}

func (m *memStore) ListInvalid(_ context.Context, limit int) ([]InvalidEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []InvalidEntry
	for _, e := range m.entries {
		if e.Result.Valid {
			continue
		}
		out = append(out, InvalidEntry{
			Address:    e.OriginalAddress,
			GeocodedAt: e.GeocodedAt,
			UsageCount: e.UsageCount,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) Purge(_ context.Context, cutoff *time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for k, e := range m.entries {
		if cutoff == nil || e.LastUsedAt.Before(*cutoff) {
			delete(m.entries, k)
			count++
		}
	}
	return count, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) entry(key string) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[key]
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
