// Package directory tracks the devices present on a bus.
//
// The Directory is driven by decoded announce packets and by a periodic
// Sweep. Each device moves through
//
//	Unknown -> Announced -> Stale -> Removed
//
// A device is Announced after its first announce, Stale once it has been
// silent for longer than LostAfter, and Removed (purged) once it has been
// silent for longer than DisconnectAfter. An announce from a Stale device
// makes it Announced again.
//
// The Directory is the only owner of device state. Callers get immutable
// DeviceInfo snapshots and refer to devices by wire.DeviceID; a lookup of a
// removed device simply reports "not found".
package directory
