package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/spring/spring-sub006/internal/ir"
)

// Load compiles the manifest at path: a single .cue file or a directory
// holding one CUE package.
func Load(path string) (*ir.Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}

	ctx := cuecontext.New()
	var v cue.Value
	if info.IsDir() {
		instances := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(instances) == 0 {
			return nil, fmt.Errorf("manifest: no CUE instances in %s", path)
		}
		if err := instances[0].Err; err != nil {
			return nil, fmt.Errorf("manifest: loading %s: %w", path, err)
		}
		v = ctx.BuildInstance(instances[0])
	} else {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
		v = ctx.CompileBytes(src, cue.Filename(path))
	}
	return CompileManifest(v)
}

// CompileString compiles manifest source held in memory.
func CompileString(src, filename string) (*ir.Manifest, error) {
	v := cuecontext.New().CompileString(src, cue.Filename(filename))
	return CompileManifest(v)
}
