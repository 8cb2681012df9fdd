// Package persistence stores small key-value settings that must survive a
// restart, such as the role binding cache.
//
// FileStore keeps everything in one JSON document and rewrites it on every
// change. MemoryStore is the in-process equivalent used by tests and by
// endpoints that run without a state file.
package persistence
