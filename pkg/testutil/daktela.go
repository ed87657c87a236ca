package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ajitpratap0/daktela-extractor/pkg/json"
	"github.com/ajitpratap0/daktela-extractor/pkg/models"
)

// Fake API credentials accepted by FakeDaktela.
const (
	FakeUsername = "extractor"
	FakePassword = "secret"
	FakeToken    = "tok-123"
)

// RecordedRequest is one request received by FakeDaktela.
type RecordedRequest struct {
	Resource string
	Query    url.Values
}

// Skip returns the request's skip parameter.
func (r RecordedRequest) Skip() int {
	n, _ := strconv.Atoi(r.Query.Get("skip"))
	return n
}

type failureRule struct {
	after  int
	status int
	served int
}

// FakeDaktela is an in-process stand-in for the Daktela v6 API. Resources
// are addressed by their path below api/v6 without the .json suffix, e.g.
// "contacts" or "tickets/42/activities".
type FakeDaktela struct {
	*httptest.Server

	// Delay is applied to every data request while it counts as in flight.
	Delay time.Duration

	mu       sync.Mutex
	data     map[string][]*models.Record
	failures map[string]*failureRule
	requests []RecordedRequest

	logins   int32
	inFlight int32
	peak     int32
}

// NewFakeDaktela starts a fake API server that is closed with the test.
func NewFakeDaktela(t *testing.T) *FakeDaktela {
	t.Helper()
	f := &FakeDaktela{
		data:     make(map[string][]*models.Record),
		failures: make(map[string]*failureRule),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Close)
	return f
}

// SetRecords replaces the records served for resource.
func (f *FakeDaktela) SetRecords(resource string, records ...*models.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[resource] = records
}

// GenerateRecords serves n records for resource with ids 1..n.
func (f *FakeDaktela) GenerateRecords(resource string, n int) {
	records := make([]*models.Record, n)
	for i := range records {
		id := strconv.Itoa(i + 1)
		records[i] = models.RecordFrom("name", id, "title", resource+" "+id)
	}
	f.SetRecords(resource, records...)
}

// FailAfter makes resource answer with status once it has served ok
// successful requests.
func (f *FakeDaktela) FailAfter(resource string, ok, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[resource] = &failureRule{after: ok, status: status}
}

// Requests returns the data requests received for resource, in arrival order.
func (f *FakeDaktela) Requests(resource string) []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RecordedRequest
	for _, r := range f.requests {
		if r.Resource == resource {
			out = append(out, r)
		}
	}
	return out
}

// AllRequests returns every data request received.
func (f *FakeDaktela) AllRequests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.requests...)
}

// Logins returns the number of successful logins.
func (f *FakeDaktela) Logins() int {
	return int(atomic.LoadInt32(&f.logins))
}

// PeakInFlight returns the highest number of concurrent data requests seen.
func (f *FakeDaktela) PeakInFlight() int {
	return int(atomic.LoadInt32(&f.peak))
}

func (f *FakeDaktela) handle(w http.ResponseWriter, r *http.Request) {
	resource := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v6/"), ".json")
	query := r.URL.Query()

	if resource == "login" {
		f.login(w, r, query)
		return
	}
	if query.Get("accessToken") != FakeToken {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": []string{"Invalid token"}})
		return
	}

	current := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&f.peak)
		if current <= peak || atomic.CompareAndSwapInt32(&f.peak, peak, current) {
			break
		}
	}
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}

	f.mu.Lock()
	f.requests = append(f.requests, RecordedRequest{Resource: resource, Query: query})
	if rule, ok := f.failures[resource]; ok {
		if rule.served >= rule.after {
			f.mu.Unlock()
			w.WriteHeader(rule.status)
			return
		}
		rule.served++
	}
	records := f.data[resource]
	f.mu.Unlock()

	skip, _ := strconv.Atoi(query.Get("skip"))
	take, err := strconv.Atoi(query.Get("take"))
	if err != nil || take <= 0 {
		take = len(records)
	}
	start := min(skip, len(records))
	end := min(start+take, len(records))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"error": []string{},
		"result": map[string]interface{}{
			"data":  records[start:end],
			"total": len(records),
		},
	})
}

func (f *FakeDaktela) login(w http.ResponseWriter, r *http.Request, query url.Values) {
	if r.Method != http.MethodPost || query.Get("username") != FakeUsername || query.Get("password") != FakePassword {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": []string{"Invalid credentials"}})
		return
	}
	atomic.AddInt32(&f.logins, 1)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"error":  []string{},
		"result": map[string]interface{}{"accessToken": FakeToken},
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.MarshalToWriter(w, body)
}
