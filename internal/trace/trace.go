// Package trace records session changes for later inspection.
//
// A Recorder keeps the most recent changes in an overlapped ring buffer; once
// full, the oldest record is dropped. Flush drains the buffer as a CBOR
// sequence, which ReadAll or Reader decode back. Packets are stored in their
// wire encoding so a trace shows exactly what the peripheral sent.
package trace

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdinAck/Headlights-App/internal/protocol"
	"github.com/AdinAck/Headlights-App/internal/session"
	"github.com/fxamacker/cbor/v2"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// MaxBufferSize guards against accidental misconfiguration.
const MaxBufferSize uint32 = 1 << 20

// Record is one traced change.
type Record struct {
	At       time.Time     `cbor:"1,keyasint" json:"at"`
	ID       string        `cbor:"2,keyasint,omitempty" json:"id,omitempty"`
	Change   string        `cbor:"3,keyasint" json:"change"`
	State    string        `cbor:"4,keyasint,omitempty" json:"state,omitempty"`
	Endpoint string        `cbor:"5,keyasint,omitempty" json:"endpoint,omitempty"`
	Kind     protocol.Kind `cbor:"6,keyasint,omitempty" json:"kind,omitempty"`
	Data     []byte        `cbor:"7,keyasint,omitempty" json:"data,omitempty"`
	Adapter  string        `cbor:"8,keyasint,omitempty" json:"adapter,omitempty"`
	Error    string        `cbor:"9,keyasint,omitempty" json:"error,omitempty"`
}

// Packet decodes the recorded packet, nil if the record carries none.
func (r Record) Packet() (protocol.Packet, error) {
	if r.Kind == protocol.KindNone {
		return nil, nil
	}
	return protocol.Decode(r.Kind, r.Data)
}

// FromChange converts a change to its record form.
func FromChange(c session.Change) Record {
	rec := Record{
		At:     c.At,
		ID:     string(c.ID),
		Change: c.Type.String(),
	}
	if c.ID != "" {
		rec.State = c.State.String()
	}
	if c.Endpoint != 0 {
		rec.Endpoint = c.Endpoint.String()
	}
	if c.Type == session.ChangeAdapterChanged {
		rec.Adapter = c.Adapter.String()
	}
	if c.Packet != nil {
		if b, err := protocol.Encode(c.Packet); err == nil {
			rec.Kind = c.Packet.Kind()
			rec.Data = b
		}
	}
	if c.Err != nil {
		rec.Error = c.Err.Error()
	}
	return rec
}

// Metrics counts recorder activity.
type Metrics struct {
	Recorded    int64
	Overwritten int64
	Flushed     int64
}

// Recorder buffers change records. All methods are safe for concurrent use.
type Recorder struct {
	buffer mpmc.RichOverlappedRingBuffer[Record]
	logger *logrus.Logger

	// flushMu serializes draining; enqueueing is lock-free.
	flushMu sync.Mutex

	recorded    atomic.Int64
	overwritten atomic.Int64
	flushed     atomic.Int64
}

// NewRecorder creates a recorder keeping at most size records. A nil logger
// gets a default one.
func NewRecorder(size uint32, logger *logrus.Logger) (*Recorder, error) {
	if size == 0 {
		return nil, errors.New("trace: buffer size must be > 0")
	}
	if size > MaxBufferSize {
		return nil, fmt.Errorf("trace: buffer size %d exceeds maximum %d", size, MaxBufferSize)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Recorder{
		buffer: mpmc.NewOverlappedRingBuffer[Record](size),
		logger: logger,
	}, nil
}

// Observe records c. It has the session.Observer signature so it can be
// registered directly with the router.
func (r *Recorder) Observe(c session.Change) {
	r.Record(FromChange(c))
}

// Record enqueues rec, dropping the oldest record when full.
func (r *Recorder) Record(rec Record) {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	overwrites, err := r.buffer.EnqueueM(rec)
	if err != nil {
		r.logger.WithError(err).Warn("trace record dropped")
		return
	}
	r.recorded.Add(1)
	r.overwritten.Add(int64(overwrites))
}

// Len returns the number of buffered records.
func (r *Recorder) Len() int {
	return int(r.buffer.Quantity())
}

// Drain removes and returns every buffered record, oldest first.
func (r *Recorder) Drain() ([]Record, error) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()
	return r.drain()
}

func (r *Recorder) drain() ([]Record, error) {
	var out []Record
	for !r.buffer.IsEmpty() {
		rec, err := r.buffer.Dequeue()
		if err != nil {
			return out, fmt.Errorf("trace: dequeue: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Flush drains the buffer into w as a CBOR sequence and returns the number of
// records written.
func (r *Recorder) Flush(w io.Writer) (int, error) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	recs, err := r.drain()
	if err != nil {
		return 0, err
	}
	enc := NewEncoder(w)
	for i, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return i, fmt.Errorf("trace: encode record %d: %w", i, err)
		}
		r.flushed.Add(1)
	}
	return len(recs), nil
}

func (r *Recorder) Metrics() Metrics {
	return Metrics{
		Recorded:    r.recorded.Load(),
		Overwritten: r.overwritten.Load(),
		Flushed:     r.flushed.Load(),
	}
}

// Reader streams records from a CBOR sequence.
type Reader struct {
	dec *cbor.Decoder
}

func NewReader(rd io.Reader) *Reader {
	return &Reader{dec: NewDecoder(rd)}
}

// Next returns the next record, io.EOF at the end of the stream.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ReadAll decodes every record of rd.
func ReadAll(rd io.Reader) ([]Record, error) {
	reader := NewReader(rd)
	var out []Record
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("trace: decode record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}
