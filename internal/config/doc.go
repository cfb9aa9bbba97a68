// Package config defines the socksbridge configuration schema and the Store
// that the proxy engine reads it from.
//
// Configuration is a single YAML document holding the shared TLS material,
// global flags and timeouts, and the list of HTTPS proxy listeners. The engine
// never caches it across decisions: every authentication failure, timeout
// resolution and reload calls Store.Read, so edits become visible without a
// restart.
package config
