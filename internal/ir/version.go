package ir

const (
	// ManifestVersion is the manifest schema version.
	ManifestVersion = "1"

	// HostVersion is the scripting host version.
	HostVersion = "0.1.0"
)
