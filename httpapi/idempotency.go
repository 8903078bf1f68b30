package httpapi

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// idempotencyContextKey is the context key the write-operation handlers can
// use to read back the id assigned to (or already recorded for) a request.
type idempotencyContextKey struct{}

// idempotencyRecord is a completed request's replayed response, grounded on
// the teacher's services/otc-gateway/middleware/idempotency.go shape
// (key, assigned request id, status, buffered body) but kept in memory
// rather than a gorm table, since the lending market's write operations are
// already individually transactional and only need replay protection for
// the lifetime of a client's retry window, not permanent audit storage.
type idempotencyRecord struct {
	requestID string
	status    int
	body      []byte
}

type idempotencyStore struct {
	mu      sync.Mutex
	records map[string]idempotencyRecord
}

func newIdempotencyStore() *idempotencyStore {
	return &idempotencyStore{records: make(map[string]idempotencyRecord)}
}

// WithIdempotency replays the previously recorded response for any request
// carrying an Idempotency-Key header already seen, and otherwise assigns the
// request a fresh uuid and records its outcome for future replays. Requests
// without the header pass through unchanged.
func (st *idempotencyStore) WithIdempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		st.mu.Lock()
		record, seen := st.records[key]
		st.mu.Unlock()
		if seen {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotency-Replayed", "true")
			w.WriteHeader(record.status)
			_, _ = w.Write(record.body)
			return
		}

		requestID := uuid.NewString()
		ctx := context.WithValue(r.Context(), idempotencyContextKey{}, requestID)
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		st.mu.Lock()
		st.records[key] = idempotencyRecord{requestID: requestID, status: rec.status, body: rec.buf}
		st.mu.Unlock()
	})
}

type responseRecorder struct {
	http.ResponseWriter
	buf    []byte
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.buf = append(rr.buf, b...)
	return rr.ResponseWriter.Write(b)
}

// idempotencyRequestID returns the uuid assigned to the current request, if
// any, for handlers that want to echo it back or use it as a flash-loan or
// liquidation term correlation id in logs.
func idempotencyRequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(idempotencyContextKey{}).(string)
	return id, ok
}
