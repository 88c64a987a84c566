// Package ir holds the declarative manifest of a scripting host: the extra
// events it registers and the handle profiles it overrides.
//
// ir imports nothing internal. The compiler package produces a Manifest
// from CUE and turns it into an events.Registry and handle profiles.
//
// Manifests have a canonical JSON form (RFC 8785 key order, NFC strings, no
// floats, no nulls) and a domain-separated SHA-256 hash over it, so two
// peers can confirm they run the same event table before a game starts.
package ir
