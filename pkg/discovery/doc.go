// Package discovery implements mDNS/DNS-SD discovery of TCP bus hubs.
//
// A hub relays frames between every connected endpoint and so acts as a
// simulated single-wire bus. Hubs advertise themselves as _wirebus._tcp in
// the local domain so that devices and host tools can find one without a
// configured address.
//
// # Instance Names
//
// The instance name is "wirebus-<name>", cut to the 63 byte DNS label limit.
//
// # TXT Records
//
//   - v: protocol version, "major.minor" (required)
//   - id: hub instance identifier (required)
//   - conn: number of connected endpoints (optional)
//
// Browsers drop hubs whose major version differs from version.Current.
package discovery
