// Package protocol implements the fixed-layout binary codec spoken by headlight
// peripherals.
//
// Every packet kind has a declared byte size and a positional field layout.
// Multi-byte integers are little-endian. Single-byte enumerations carry a closed
// set of valid values: a byte outside that set is a protocol violation and fails
// the whole packet, it is never surfaced as a new variant.
//
// Packet types own their codec through encoding.BinaryMarshaler and
// encoding.BinaryUnmarshaler. Decode and Encode dispatch on Kind for callers that
// only know the kind at runtime (the device session, driven by its endpoint table).
package protocol
