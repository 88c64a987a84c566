// Package harness runs dispatch scenarios against a real engine.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: rules_before_ui
//	description: "GameFrame reaches handles in profile order"
//	manifest: manifest.cue          # optional, relative to the scenario
//	files:                          # in-memory archive content
//	  LuaRules/main.lua: |
//	    function GameFrame(f) Spring.Echo("rules", f) end
//	handles: [rules, ui]
//	steps:
//	  - frames: 2
//	  - notify: UnitCreated
//	    args: [7, 1]
//	  - allow: AllowCommand
//	    args: [7]
//	    expect: false
//	  - kill: ui
//	assertions:
//	  - type: trace_order
//	    lines: ["rules 1", "rules 2"]
//
// Scripts report what they saw by calling Spring.Echo; every call becomes
// one trace event tagged with the frame, the handle and the half.
//
// # Assertion Types
//
//   - trace_contains: a line (optionally from one handle) appears
//   - trace_order: lines appear in the given order
//   - trace_count: a line appears exactly N times
//   - loaded: exactly these handles are loaded after the last step
//   - fault_count: the store holds N faults for a handle
//
// # Deterministic Runs
//
// Each run gets a fresh in-memory store, sequence instance IDs, a fixed
// seed and unthreaded frames unless the scenario asks otherwise, so traces
// are reproducible and can be compared against golden files in
// testdata/golden.
package harness
