package transport

// Event is a transport notification. The concrete types below form a closed set.
type Event interface {
	// Peripheral returns the peripheral the event refers to, empty for
	// adapter-level events.
	Peripheral() ID
	isEvent()
}

// AdapterStateChanged reports a change of the local adapter. Err carries the
// reason when State is not AdapterReady.
type AdapterStateChanged struct {
	State AdapterState
	Err   error
}

// Advertisement reports an advertisement received while scanning.
type Advertisement struct {
	ID               ID
	Name             string
	RSSI             int
	Services         []UUID
	ManufacturerData []byte
	Connectable      bool
}

// Connected reports an established link.
type Connected struct {
	ID ID
}

// Disconnected reports a dropped link or a failed connection attempt (Err set).
type Disconnected struct {
	ID  ID
	Err error
}

// ServicesDiscovered completes a DiscoverServices command.
type ServicesDiscovered struct {
	ID       ID
	Services []UUID
	Err      error
}

// CharacteristicsDiscovered completes a DiscoverCharacteristics command.
type CharacteristicsDiscovered struct {
	ID              ID
	Service         UUID
	Characteristics []UUID
	Err             error
}

// ValueUpdated carries a notification or the result of a Read.
type ValueUpdated struct {
	ID             ID
	Characteristic UUID
	Value          []byte
	Err            error
}

// NotifyStateChanged completes a Subscribe command.
type NotifyStateChanged struct {
	ID             ID
	Characteristic UUID
	Err            error
}

// WriteCompleted completes an acknowledged Write command.
type WriteCompleted struct {
	ID             ID
	Characteristic UUID
	Err            error
}

func (AdapterStateChanged) Peripheral() ID         { return "" }
func (e Advertisement) Peripheral() ID             { return e.ID }
func (e Connected) Peripheral() ID                 { return e.ID }
func (e Disconnected) Peripheral() ID              { return e.ID }
func (e ServicesDiscovered) Peripheral() ID        { return e.ID }
func (e CharacteristicsDiscovered) Peripheral() ID { return e.ID }
func (e ValueUpdated) Peripheral() ID              { return e.ID }
func (e NotifyStateChanged) Peripheral() ID        { return e.ID }
func (e WriteCompleted) Peripheral() ID            { return e.ID }

func (AdapterStateChanged) isEvent()       {}
func (Advertisement) isEvent()             {}
func (Connected) isEvent()                 {}
func (Disconnected) isEvent()              {}
func (ServicesDiscovered) isEvent()        {}
func (CharacteristicsDiscovered) isEvent() {}
func (ValueUpdated) isEvent()              {}
func (NotifyStateChanged) isEvent()        {}
func (WriteCompleted) isEvent()            {}
