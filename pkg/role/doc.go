// Package role binds named roles to services on remote devices.
//
// A role is a requirement such as "left button" that an application
// declares before any device is present. The Manager matches unbound roles
// against the device directory on a fixed period. Matching is
// deterministic: roles are visited in name order, devices in identifier
// order, and each role takes the first free slot of its class. Slot 0 (the
// control service) is never bound.
//
// Every binding is written to a persistence.Store as "<device-hex>:<index>"
// under the role name. When a role is declared, or when its cached device
// reconnects, the cached slot is reclaimed if it is still free and still
// hosts the role's class. A device disconnect unbinds its roles but keeps
// the cache, so the same device takes its roles back when it returns.
//
// Server exposes the manager as the role manager service so that a remote
// tool can inspect and edit the bindings; Client is that tool's side.
package role
