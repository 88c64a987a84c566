package script

import (
	"bytes"
	"fmt"
	"strings"
	"syscall"

	lua "github.com/yuin/gopher-lua"

	"github.com/spring/spring-sub006/internal/vfs"
)

var vfsModes = map[string]vfs.Mode{
	"RAW":       vfs.ModeRaw,
	"MOD":       vfs.ModeMod,
	"MAP":       vfs.ModeMap,
	"BASE":      vfs.ModeBase,
	"MENU":      vfs.ModeMenu,
	"ZIP":       vfs.ModeZip,
	"RAW_FIRST": vfs.ModeRawFirst,
	"ZIP_FIRST": vfs.ModeZipFirst,
	"RAW_ONLY":  vfs.ModeRawOnly,
	"ZIP_ONLY":  vfs.ModeZipOnly,
}

func (h *Host) installVFS() {
	L := h.L
	t := subTable(L, h.env, "VFS")
	L.SetFuncs(t, map[string]lua.LGFunction{
		"Include":        h.vfsInclude,
		"LoadFile":       h.vfsLoadFile,
		"FileExists":     h.vfsFileExists,
		"DirList":        h.vfsDirList,
		"SubDirList":     h.vfsSubDirList,
		"ZlibCompress":   vfsZlibCompress,
		"ZlibDecompress": vfsZlibDecompress,
		"CompressFolder": h.vfsCompressFolder,
	})
	for name, mode := range vfsModes {
		t.RawSetString(name, lua.LString(mode))
	}
}

// mode reads the optional mode argument at n, narrowed to the modes this
// host may use. ok is false when nothing of the request survives.
func (h *Host) mode(L *lua.LState, n int) (vfs.Mode, bool) {
	requested := vfs.Mode(L.OptString(n, string(h.opts.ReadMode)))
	m := requested.Restrict(h.opts.AllowedModes)
	return m, m != ""
}

func (h *Host) fsOrDeny(L *lua.LState, op string) (*vfs.FS, int) {
	if h.opts.FS == nil {
		return nil, pushErr(L, errDenied(op))
	}
	return h.opts.FS, 0
}

// VFS.Include(path [, env [, mode]]) runs a file and returns its results.
// Errors are raised in the caller.
func (h *Host) vfsInclude(L *lua.LState) int {
	path := L.CheckString(1)
	env := h.env
	if t, ok := L.Get(2).(*lua.LTable); ok {
		env = t
	}
	mode, ok := h.mode(L, 3)
	if !ok || h.opts.FS == nil {
		L.RaiseError("VFS.Include: %s: %s", path, syscall.EACCES)
	}
	data, err := h.opts.FS.ReadFile(path, mode)
	if err != nil {
		L.RaiseError("VFS.Include: %s", err.Error())
	}
	fn, err := L.Load(bytes.NewReader(data), path)
	if err != nil {
		L.RaiseError("VFS.Include: %s", err.Error())
	}
	fn.Env = env

	top := L.GetTop()
	L.Push(fn)
	L.Call(0, lua.MultRet)
	return L.GetTop() - top
}

// VFS.LoadFile(path [, mode]) returns the file contents or nil.
func (h *Host) vfsLoadFile(L *lua.LState) int {
	path := L.CheckString(1)
	mode, ok := h.mode(L, 2)
	if !ok {
		return pushErr(L, errDenied("open"))
	}
	v, n := h.fsOrDeny(L, "open")
	if v == nil {
		return n
	}
	data, err := v.ReadFile(path, mode)
	if err != nil {
		return pushErr(L, err)
	}
	L.Push(lua.LString(data))
	return 1
}

// VFS.FileExists(path [, mode]) -> boolean
func (h *Host) vfsFileExists(L *lua.LState) int {
	path := L.CheckString(1)
	mode, ok := h.mode(L, 2)
	L.Push(lua.LBool(ok && h.opts.FS != nil && h.opts.FS.Exists(path, mode)))
	return 1
}

func (h *Host) vfsDirList(L *lua.LState) int {
	return h.list(L, false)
}

func (h *Host) vfsSubDirList(L *lua.LState) int {
	return h.list(L, true)
}

// list backs VFS.DirList and VFS.SubDirList:
// (dir [, pattern [, mode [, recursive]]]) -> table of paths
func (h *Host) list(L *lua.LState, dirs bool) int {
	dir := L.CheckString(1)
	pattern := L.OptString(2, "*")
	mode, ok := h.mode(L, 3)
	recursive := L.OptBool(4, false)
	if !ok {
		return pushErr(L, errDenied("readdir"))
	}
	v, n := h.fsOrDeny(L, "readdir")
	if v == nil {
		return n
	}

	var (
		names []string
		err   error
	)
	if dirs {
		names, err = v.SubDirs(dir, pattern, mode, recursive)
	} else {
		names, err = v.DirList(dir, pattern, mode, recursive)
	}
	if err != nil {
		return pushErr(L, err)
	}
	L.Push(ToLua(L, names))
	return 1
}

func vfsZlibCompress(L *lua.LState) int {
	out, err := vfs.ZlibCompress([]byte(L.CheckString(1)))
	if err != nil {
		return pushErr(L, err)
	}
	L.Push(lua.LString(out))
	return 1
}

func vfsZlibDecompress(L *lua.LState) int {
	out, err := vfs.ZlibDecompress([]byte(L.CheckString(1)), int64(L.OptInt(2, 0)))
	if err != nil {
		return pushErr(L, err)
	}
	L.Push(lua.LString(out))
	return 1
}

// VFS.CompressFolder(dir [, archiveType [, outPath [, includeFolder [, mode]]]])
// packs dir into a zip below the write directory. Returns the number of
// files packed.
func (h *Host) vfsCompressFolder(L *lua.LState) int {
	dir := L.CheckString(1)
	kind := strings.ToLower(L.OptString(2, "zip"))
	out := L.OptString(3, strings.TrimSuffix(dir, "/")+".zip")
	includeFolder := L.OptBool(4, false)
	mode, ok := h.mode(L, 5)
	if kind != "zip" {
		L.ArgError(2, fmt.Sprintf("unsupported archive type %q", kind))
	}
	if !ok {
		return pushErr(L, errDenied("compress"))
	}
	if h.opts.Synced {
		return pushErr(L, errDenied("compress"))
	}
	v, n := h.fsOrDeny(L, "compress")
	if v == nil {
		return n
	}
	count, err := v.PackZip(dir, out, includeFolder, mode)
	if err != nil {
		return pushErr(L, err)
	}
	L.Push(lua.LNumber(count))
	return 1
}
