// Package config loads the host's YAML configuration and keeps the named
// runtime settings scripts read and write.
//
// A config file looks like:
//
//	dev_mode: false
//	threaded: true
//	seed: 1234
//	frames: 900
//	frame_rate: 30
//	database: luahost.db
//	handles: [rules, gaia, ui]
//	teams: [0, 0, 1, 1]
//	team: 0
//	vfs:
//	  roots:
//	    - {source: mod, path: game.sdz}
//	    - {source: raw, path: ., prefix: LuaUI}
//	  write_dir: .
//	  write_prefixes: [LuaUI/Config]
//	settings:
//	  InvertQueueKey: 0
//	  KeyChainTimeout: 750
//
// Settings change at runtime through Settings.Set, the Spring.SetConfig*
// script functions, or edits to the file picked up by Watch. Subscribers
// registered with Settings.Subscribe hear about every change.
package config
