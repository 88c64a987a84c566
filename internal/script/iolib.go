package script

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const fileTypeName = "luahost.file"

// luaFile is the userdata behind io.open handles.
type luaFile struct {
	path   string
	r      *bufio.Reader
	w      *os.File
	closed bool
}

// pushErr pushes the (nil, message, errno) triple Lua I/O functions
// return on failure.
func pushErr(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	L.Push(lua.LNumber(errnoOf(err)))
	return 3
}

func errnoOf(err error) int {
	var errno syscall.Errno
	switch {
	case errors.As(err, &errno):
		return int(errno)
	case errors.Is(err, fs.ErrNotExist):
		return int(syscall.ENOENT)
	case errors.Is(err, fs.ErrPermission):
		return int(syscall.EACCES)
	}
	return int(syscall.EIO)
}

func errDenied(op string) error {
	return fmt.Errorf("%s: %w", op, syscall.EACCES)
}

func (h *Host) installIO() {
	L := h.L

	mt := L.NewTypeMetatable(fileTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"read":  fileRead,
		"lines": fileLines,
		"write": fileWrite,
		"flush": fileFlush,
		"close": fileClose,
	}))

	ioTbl := subTable(L, h.env, "io")
	L.SetFuncs(ioTbl, map[string]lua.LGFunction{
		"open":  h.ioOpen,
		"lines": h.ioLines,
		"popen": denyProcess,
	})

	osTbl := subTable(L, h.env, "os")
	L.SetFuncs(osTbl, map[string]lua.LGFunction{
		"remove":  h.osRemove,
		"rename":  h.osRename,
		"execute": denyProcess,
	})
	if !h.opts.Synced {
		L.SetFuncs(osTbl, map[string]lua.LGFunction{
			"clock": osClock,
			"time":  osTime,
			"date":  osDate,
		})
	}
}

// denyProcess backs io.popen and os.execute: no subprocesses, ever.
func denyProcess(L *lua.LState) int {
	return pushErr(L, errDenied("exec"))
}

var processStart = time.Now()

func osClock(L *lua.LState) int {
	L.Push(lua.LNumber(time.Since(processStart).Seconds()))
	return 1
}

func osTime(L *lua.LState) int {
	L.Push(lua.LNumber(time.Now().Unix()))
	return 1
}

func osDate(L *lua.LState) int {
	format := L.OptString(1, "%c")
	t := time.Now()
	if L.GetTop() >= 2 {
		t = time.Unix(int64(L.CheckNumber(2)), 0)
	}
	utc := strings.HasPrefix(format, "!")
	if utc {
		format = format[1:]
		t = t.UTC()
	}
	L.Push(lua.LString(strftime(format, t)))
	return 1
}

// strftime supports the conversions scripts use for log stamps.
func strftime(format string, t time.Time) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 == len(format) {
			b.WriteByte(c)
			continue
		}
		i++
		switch format[i] {
		case 'Y':
			b.WriteString(strconv.Itoa(t.Year()))
		case 'm':
			b.WriteString(t.Format("01"))
		case 'd':
			b.WriteString(t.Format("02"))
		case 'H':
			b.WriteString(t.Format("15"))
		case 'M':
			b.WriteString(t.Format("04"))
		case 'S':
			b.WriteString(t.Format("05"))
		case 'c':
			b.WriteString(t.Format("Mon Jan  2 15:04:05 2006"))
		case 'x':
			b.WriteString(t.Format("01/02/06"))
		case 'X':
			b.WriteString(t.Format("15:04:05"))
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(format[i])
		}
	}
	return b.String()
}

func (h *Host) ioOpen(L *lua.LState) int {
	path := L.CheckString(1)
	mode := strings.ReplaceAll(L.OptString(2, "r"), "b", "")

	f := &luaFile{path: path}
	switch mode {
	case "r":
		if h.opts.FS == nil {
			return pushErr(L, errDenied("open"))
		}
		data, err := h.opts.FS.ReadFile(path, h.opts.ReadMode)
		if err != nil {
			return pushErr(L, err)
		}
		f.r = bufio.NewReader(bytes.NewReader(data))
	case "w", "a":
		if h.opts.Synced || h.opts.FS == nil {
			return pushErr(L, errDenied("open"))
		}
		w, err := h.opts.FS.Create(path, mode == "a")
		if err != nil {
			return pushErr(L, err)
		}
		f.w = w
	default:
		return pushErr(L, &fs.PathError{Op: "open", Path: path, Err: syscall.EINVAL})
	}

	ud := L.NewUserData()
	ud.Value = f
	L.SetMetatable(ud, L.GetTypeMetatable(fileTypeName))
	L.Push(ud)
	return 1
}

func (h *Host) ioLines(L *lua.LState) int {
	path := L.CheckString(1)
	if h.opts.FS == nil {
		L.RaiseError("%s: %s", path, errDenied("open"))
	}
	data, err := h.opts.FS.ReadFile(path, h.opts.ReadMode)
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	r := bufio.NewReader(bytes.NewReader(data))
	L.Push(L.NewFunction(func(L *lua.LState) int {
		line, ok := readLine(r, false)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(line))
		return 1
	}))
	return 1
}

func (h *Host) osRemove(L *lua.LState) int {
	path := L.CheckString(1)
	if h.opts.Synced || h.opts.FS == nil {
		return pushErr(L, errDenied("remove"))
	}
	if err := h.opts.FS.Remove(path); err != nil {
		return pushErr(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

func (h *Host) osRename(L *lua.LState) int {
	from := L.CheckString(1)
	to := L.CheckString(2)
	if h.opts.Synced || h.opts.FS == nil {
		return pushErr(L, errDenied("rename"))
	}
	if err := h.opts.FS.Rename(from, to); err != nil {
		return pushErr(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

func checkFile(L *lua.LState) *luaFile {
	ud := L.CheckUserData(1)
	f, ok := ud.Value.(*luaFile)
	if !ok {
		L.ArgError(1, "file expected")
		return nil
	}
	if f.closed {
		L.RaiseError("attempt to use a closed file")
	}
	return f
}

func readLine(r *bufio.Reader, keepNL bool) (string, bool) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	if !keepNL {
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	}
	return line, true
}

func fileRead(L *lua.LState) int {
	f := checkFile(L)
	if f.r == nil {
		return pushErr(L, &fs.PathError{Op: "read", Path: f.path, Err: syscall.EBADF})
	}
	formats := []lua.LValue{lua.LString("*l")}
	if L.GetTop() > 1 {
		formats = formats[:0]
		for i := 2; i <= L.GetTop(); i++ {
			formats = append(formats, L.Get(i))
		}
	}
	for _, format := range formats {
		if n, ok := format.(lua.LNumber); ok {
			buf := make([]byte, int(n))
			k, err := io.ReadFull(f.r, buf)
			if k == 0 && (err != nil || n > 0) {
				L.Push(lua.LNil)
				continue
			}
			L.Push(lua.LString(buf[:k]))
			continue
		}
		switch strings.TrimPrefix(lua.LVAsString(format), "*") {
		case "a":
			rest, _ := io.ReadAll(f.r)
			L.Push(lua.LString(rest))
		case "l":
			if line, ok := readLine(f.r, false); ok {
				L.Push(lua.LString(line))
			} else {
				L.Push(lua.LNil)
			}
		case "L":
			if line, ok := readLine(f.r, true); ok {
				L.Push(lua.LString(line))
			} else {
				L.Push(lua.LNil)
			}
		case "n":
			var num float64
			if _, err := fmt.Fscan(f.r, &num); err != nil {
				L.Push(lua.LNil)
			} else {
				L.Push(lua.LNumber(num))
			}
		default:
			L.ArgError(2, "invalid format")
		}
	}
	return len(formats)
}

func fileLines(L *lua.LState) int {
	f := checkFile(L)
	L.Push(L.NewFunction(func(L *lua.LState) int {
		if f.closed || f.r == nil {
			L.Push(lua.LNil)
			return 1
		}
		line, ok := readLine(f.r, false)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(line))
		return 1
	}))
	return 1
}

func fileWrite(L *lua.LState) int {
	f := checkFile(L)
	if f.w == nil {
		return pushErr(L, &fs.PathError{Op: "write", Path: f.path, Err: syscall.EBADF})
	}
	for i := 2; i <= L.GetTop(); i++ {
		var s string
		switch v := L.Get(i).(type) {
		case lua.LString:
			s = string(v)
		case lua.LNumber:
			s = v.String()
		default:
			L.ArgError(i, "string expected")
		}
		if _, err := f.w.WriteString(s); err != nil {
			return pushErr(L, err)
		}
	}
	L.Push(L.Get(1))
	return 1
}

func fileFlush(L *lua.LState) int {
	f := checkFile(L)
	if f.w != nil {
		if err := f.w.Sync(); err != nil {
			return pushErr(L, err)
		}
	}
	L.Push(lua.LTrue)
	return 1
}

func fileClose(L *lua.LState) int {
	f := checkFile(L)
	f.closed = true
	if f.w != nil {
		if err := f.w.Close(); err != nil {
			return pushErr(L, err)
		}
	}
	L.Push(lua.LTrue)
	return 1
}
