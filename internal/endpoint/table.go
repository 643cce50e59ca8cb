package endpoint

import (
	"fmt"

	"github.com/AdinAck/Headlights-App/internal/protocol"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Entry binds an endpoint to its characteristic.
type Entry struct {
	Endpoint Endpoint
	UUID     transport.UUID
	Role     Role
	Kind     protocol.Kind
}

// Char builds an Entry from a textual characteristic UUID.
func Char(ep Endpoint, charUUID string, role Role, kind protocol.Kind) Entry {
	return Entry{Endpoint: ep, UUID: transport.NormalizeUUID(charUUID), Role: role, Kind: kind}
}

// Table is the ordered, bijective endpoint set of one protocol version.
// Tables are immutable after construction and safe for concurrent use.
type Table struct {
	version string
	service transport.UUID
	entries *orderedmap.OrderedMap[Endpoint, Entry]
	byUUID  map[transport.UUID]Endpoint
}

// NewTable validates entries and builds a Table. Entry order is preserved and
// used for discovery and subscription order.
func NewTable(version, service string, entries ...Entry) (*Table, error) {
	svc := transport.NormalizeUUID(service)
	if _, err := uuid.Parse(string(svc)); err != nil {
		return nil, fmt.Errorf("table %s: invalid service UUID %q: %w", version, service, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("table %s: no entries", version)
	}

	t := &Table{
		version: version,
		service: svc,
		entries: orderedmap.New[Endpoint, Entry](len(entries)),
		byUUID:  make(map[transport.UUID]Endpoint, len(entries)),
	}
	for _, e := range entries {
		if _, err := uuid.Parse(string(e.UUID)); err != nil {
			return nil, fmt.Errorf("table %s: endpoint %s: invalid characteristic UUID %q: %w", version, e.Endpoint, e.UUID, err)
		}
		if e.Role == 0 {
			return nil, fmt.Errorf("table %s: endpoint %s has no role", version, e.Endpoint)
		}
		if e.Kind == protocol.KindNone && (e.Role.Has(RoleWrite) || e.Role.Decodable()) {
			return nil, fmt.Errorf("table %s: endpoint %s has no packet kind", version, e.Endpoint)
		}
		if _, dup := t.entries.Get(e.Endpoint); dup {
			return nil, fmt.Errorf("table %s: duplicate endpoint %s", version, e.Endpoint)
		}
		if other, dup := t.byUUID[e.UUID]; dup {
			return nil, fmt.Errorf("table %s: endpoints %s and %s share characteristic %s", version, other, e.Endpoint, e.UUID)
		}
		t.entries.Set(e.Endpoint, e)
		t.byUUID[e.UUID] = e.Endpoint
	}
	return t, nil
}

func mustTable(version, service string, entries ...Entry) *Table {
	t, err := NewTable(version, service, entries...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) Version() string         { return t.version }
func (t *Table) Service() transport.UUID { return t.service }

// Len returns the expected endpoint count.
func (t *Table) Len() int { return t.entries.Len() }

// Entries returns the entries in declaration order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, t.entries.Len())
	for pair := t.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Endpoints returns the expected endpoint set in declaration order.
func (t *Table) Endpoints() []Endpoint {
	out := make([]Endpoint, 0, t.entries.Len())
	for pair := t.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Entry returns the entry of ep.
func (t *Table) Entry(ep Endpoint) (Entry, bool) {
	return t.entries.Get(ep)
}

// Lookup resolves a characteristic UUID to its entry.
func (t *Table) Lookup(char transport.UUID) (Entry, bool) {
	ep, ok := t.byUUID[char]
	if !ok {
		return Entry{}, false
	}
	return t.entries.Get(ep)
}

// CharacteristicUUIDs returns every characteristic UUID, used as the discovery
// filter.
func (t *Table) CharacteristicUUIDs() []transport.UUID {
	out := make([]transport.UUID, 0, t.entries.Len())
	for pair := t.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.UUID)
	}
	return out
}

// Notifying returns the entries to subscribe to after validation.
func (t *Table) Notifying() []Entry {
	return t.filter(RoleNotify)
}

// OneShot returns the entries read once to finalize a session load.
func (t *Table) OneShot() []Entry {
	return t.filter(RoleRead)
}

func (t *Table) filter(role Role) []Entry {
	var out []Entry
	for pair := t.entries.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Role.Has(role) {
			out = append(out, pair.Value)
		}
	}
	return out
}
