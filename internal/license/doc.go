// Package license implements the local side of Pro licensing: an encrypted,
// machine-bound license cache, a feature gate that answers availability from
// that cache without touching the network, and a client for the activation
// protocol spoken by the license server.
//
// # Architecture Overview
//
// The package consists of several components:
//
//	- Store: encrypted license envelope and pending deactivation record under <root>/.pro
//	- Gate: lock-free feature availability over an atomically swapped snapshot
//	- Client: activate, validate and deactivate calls with a closed error taxonomy
//	- Manager: the activation lifecycle tying the three together
//	- HealthChecker and Watcher: diagnostics and hot reload for the daemon
//
// # Cache Format
//
// The record is serialized to JSON and sealed with AES-256-GCM under a key
// derived from the machine fingerprint with PBKDF2-HMAC-SHA256 and a fresh
// salt. The envelope stores ciphertext, nonce, tag and salt as lowercase hex
// and authenticates them, together with the format version, with HMAC-SHA256.
// Reads fail closed: any malformed, tampered or foreign envelope yields no
// record.
//
// # License States
//
// State is derived from the record and the clock, never stored:
//
//	Not Activated  no valid record
//	Active         now <= activatedAt + cacheValidDays
//	Grace          expired, but within gracePeriodDays after expiry
//	Expired        beyond the grace period
//
// Pro features are available in Active and Grace only.
//
// # Feature Matching
//
// A record lists feature patterns. An id matches on an exact entry, on its
// family wildcard (pro.squads.* for pro.squads.premium), or on pro.* for ids
// under pro.
//
// # Offline Deactivation
//
// When the server cannot be reached, deactivation still removes the local
// cache and records the key in pending-deactivation.json. SyncPending replays
// it once the server is reachable again.
package license
