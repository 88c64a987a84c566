package vfs

import "strings"

// Source identifies where a read root's files come from.
type Source byte

const (
	SourceRaw  Source = 'r' // plain directories on disk
	SourceMod  Source = 'M' // game archives
	SourceMap  Source = 'm' // map archive
	SourceBase Source = 'b' // engine base content
	SourceMenu Source = 'e' // menu archives
)

func (s Source) String() string {
	switch s {
	case SourceRaw:
		return "raw"
	case SourceMod:
		return "mod"
	case SourceMap:
		return "map"
	case SourceBase:
		return "base"
	case SourceMenu:
		return "menu"
	}
	return "unknown"
}

// ParseSource parses a source by letter or name.
func ParseSource(s string) (Source, bool) {
	switch strings.ToLower(s) {
	case "r", "raw":
		return SourceRaw, true
	case "mod":
		return SourceMod, true
	case "map":
		return SourceMap, true
	case "b", "base":
		return SourceBase, true
	case "e", "menu":
		return SourceMenu, true
	}
	switch s {
	case "M":
		return SourceMod, true
	case "m":
		return SourceMap, true
	}
	return 0, false
}

// Mode is an ordered set of sources; the order is the search order.
type Mode string

const (
	ModeRaw      Mode = "r"
	ModeMod      Mode = "M"
	ModeMap      Mode = "m"
	ModeBase     Mode = "b"
	ModeMenu     Mode = "e"
	ModeZip      Mode = "Mmeb"
	ModeRawFirst Mode = "rMmeb"
	ModeZipFirst Mode = "Mmebr"
	ModeRawOnly  Mode = ModeRaw
	ModeZipOnly  Mode = ModeZip
)

// Sources returns the valid sources of m in order, without duplicates.
func (m Mode) Sources() []Source {
	var out []Source
	seen := make(map[Source]bool)
	for i := 0; i < len(m); i++ {
		s := Source(m[i])
		if _, ok := ParseSource(string(m[i])); !ok || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Restrict returns the sources of m that are also in allowed, keeping m's
// order. A script asking for raw access in a production build gets its
// request narrowed this way instead of failing outright.
func (m Mode) Restrict(allowed Mode) Mode {
	var b strings.Builder
	for _, s := range m.Sources() {
		if strings.IndexByte(string(allowed), byte(s)) >= 0 {
			b.WriteByte(byte(s))
		}
	}
	return Mode(b.String())
}
