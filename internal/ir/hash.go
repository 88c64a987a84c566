package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix leaves room to
// change the algorithm.
const (
	DomainManifest = "luahost/manifest/v1"
	DomainEvents   = "luahost/events/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ManifestHash identifies a manifest independently of declaration order.
func ManifestHash(m *Manifest) (string, error) {
	canonical, err := MarshalCanonical(m.Object())
	if err != nil {
		return "", fmt.Errorf("ManifestHash: %w", err)
	}
	return hashWithDomain(DomainManifest, canonical), nil
}

// EventTableHash identifies a complete event table, given as name to
// flag-string pairs (e.g. "managed|unsynced").
func EventTableHash(table map[string]string) (string, error) {
	obj := make(Object, len(table))
	for name, flags := range table {
		obj[name] = String(flags)
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventTableHash: %w", err)
	}
	return hashWithDomain(DomainEvents, canonical), nil
}

// MustManifestHash is like ManifestHash but panics on error.
func MustManifestHash(m *Manifest) string {
	h, err := ManifestHash(m)
	if err != nil {
		panic(err)
	}
	return h
}
