package testutils

import (
	"slices"
	"sync"
	"testing"

	"github.com/AdinAck/Headlights-App/internal/endpoint"
	"github.com/AdinAck/Headlights-App/internal/protocol"
	"github.com/AdinAck/Headlights-App/internal/session"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return &TestHelper{T: t, Logger: logger}
}

// Characteristics returns the characteristic UUIDs of table, leaving out the
// given endpoints.
func Characteristics(table *endpoint.Table, omit ...endpoint.Endpoint) []transport.UUID {
	var out []transport.UUID
	for _, e := range table.Entries() {
		if slices.Contains(omit, e.Endpoint) {
			continue
		}
		out = append(out, e.UUID)
	}
	return out
}

// CharOf returns the characteristic UUID of ep in table, panicking if absent.
func CharOf(table *endpoint.Table, ep endpoint.Endpoint) transport.UUID {
	e, ok := table.Entry(ep)
	if !ok {
		panic("testutils: endpoint " + ep.String() + " not in table " + table.Version())
	}
	return e.UUID
}

// MustEncode encodes p or panics.
func MustEncode(p protocol.Packet) []byte {
	b, err := protocol.Encode(p)
	if err != nil {
		panic(err)
	}
	return b
}

// ChangeRecorder collects session changes. It is safe for concurrent use.
type ChangeRecorder struct {
	mu      sync.Mutex
	changes []session.Change
}

func (r *ChangeRecorder) Observe(c session.Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *ChangeRecorder) All() []session.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Change(nil), r.changes...)
}

// Of returns the recorded changes of type t.
func (r *ChangeRecorder) Of(t session.ChangeType) []session.Change {
	var out []session.Change
	for _, c := range r.All() {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

func (r *ChangeRecorder) Reset() {
	r.mu.Lock()
	r.changes = nil
	r.mu.Unlock()
}
