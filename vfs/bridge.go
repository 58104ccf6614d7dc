// Package vfs exposes the forensic engine's data model as a file tree:
//
//	/proc/<pid>/name.txt
//	/proc/<pid>/info.txt
//	/proc/<pid>/minidump/mem
//	/proc/<pid>/modules/<name>/{base.txt,size.txt,image.mem}
//
// The bridge is thin plumbing: it parses paths, lists directories and
// dispatches byte-range reads, while the expensive engine enumerations are
// held in bounded cache maps keyed by stable identifiers.
package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path"
	"strconv"
	"strings"

	"github.com/gobwas/glob"

	"vmmfs/config"
	"vmmfs/ob"
	"vmmfs/vmm"
)

var ErrReadOnly = errors.New("vfs: read-only file")

// procsKey is the single slot holding the process table in the proc cache.
const procsKey uint64 = 1

// vmemSize is the size reported for raw virtual-memory windows, where the
// file offset is the virtual address.
const vmemSize uint64 = 1 << 40

// accounting weights charged against the object budget
const (
	entryWeight = 1 << 9
	tableWeight = 1 << 12
)

type procTable struct {
	order []uint32 // pids in enumeration order
	byPid *ob.Map[vmm.ProcessInfo]
}

type moduleTable struct {
	pid    uint32
	names  []string                 // module names in enumeration order
	byName *ob.Map[vmm.ModuleEntry] // keyed by ob.KeyOf(name)
}

// Bridge serves listings and reads over one engine client. Safe for
// concurrent use; each request works on counted table references so a
// concurrent Refresh cannot pull data out from under a reader.
type Bridge struct {
	client  vmm.Client
	procs   *ob.CacheMap[procTable]
	modules *ob.CacheMap[moduleTable]
}

func NewBridge(client vmm.Client) *Bridge {
	return &Bridge{
		client:  client,
		procs:   ob.NewCacheMap[procTable](config.ProcCacheCapacity, config.ProcCacheTTL),
		modules: ob.NewCacheMap[moduleTable](config.ModuleCacheCapacity, config.ModuleCacheTTL),
	}
}

// procTable returns a counted reference to the cached process table,
// enumerating through the engine on a miss. The caller releases it.
func (b *Bridge) procTable() (*ob.Object[procTable], error) {
	if o, ok := b.procs.GetRef(procsKey); ok {
		return o, nil
	}
	list, err := b.client.ProcessList()
	if err != nil {
		return nil, err
	}
	t := procTable{
		order: make([]uint32, 0, len(list)),
		byPid: ob.NewMap[vmm.ProcessInfo](len(list)),
	}
	for _, p := range list {
		o, err := ob.New(ob.TagProcess, entryWeight, p, nil)
		if err != nil {
			t.byPid.Clear()
			return nil, err
		}
		t.order = append(t.order, p.PID)
		_, err = t.byPid.Insert(uint64(p.PID), o)
		o.Release()
		if err != nil {
			t.byPid.Clear()
			return nil, err
		}
	}
	to, err := ob.New(ob.TagTable, tableWeight, t, func(t *procTable) { t.byPid.Clear() })
	if err != nil {
		t.byPid.Clear()
		return nil, err
	}
	if err := b.procs.Put(procsKey, to); err != nil {
		to.Release()
		return nil, err
	}
	return to, nil
}

// moduleTable returns a counted reference to the cached module table of one
// process. The caller releases it.
func (b *Bridge) moduleTable(pid uint32) (*ob.Object[moduleTable], error) {
	if o, ok := b.modules.GetRef(uint64(pid)); ok {
		return o, nil
	}
	mods, err := b.client.ProcessModules(pid)
	if err != nil {
		return nil, err
	}
	t := moduleTable{
		pid:    pid,
		names:  make([]string, 0, len(mods)),
		byName: ob.NewMap[vmm.ModuleEntry](len(mods)),
	}
	for _, m := range mods {
		o, err := ob.New(ob.TagModule, entryWeight, m, nil)
		if err != nil {
			t.byName.Clear()
			return nil, err
		}
		t.names = append(t.names, m.Name)
		_, err = t.byName.Insert(ob.KeyOf(m.Name), o)
		o.Release()
		if err != nil {
			t.byName.Clear()
			return nil, err
		}
	}
	to, err := ob.New(ob.TagTable, tableWeight, t, func(t *moduleTable) { t.byName.Clear() })
	if err != nil {
		t.byName.Clear()
		return nil, err
	}
	if err := b.modules.Put(uint64(pid), to); err != nil {
		to.Release()
		return nil, err
	}
	return to, nil
}

func (b *Bridge) process(pid uint32) (vmm.ProcessInfo, error) {
	to, err := b.procTable()
	if err != nil {
		return vmm.ProcessInfo{}, err
	}
	defer to.Release()
	p, ok := to.Value().byPid.Lookup(uint64(pid))
	if !ok {
		return vmm.ProcessInfo{}, fs.ErrNotExist
	}
	return *p, nil
}

// splitPath normalizes a vfs path into its segments; nil means the root.
func splitPath(p string) []string {
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

func parsePid(s string) (uint32, bool) {
	pid, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(pid), true
}

func renderName(p vmm.ProcessInfo) string {
	return p.Name + "\n"
}

func renderInfo(p vmm.ProcessInfo) string {
	mode := "kernel"
	if p.IsUserMode {
		mode = "user"
	}
	return fmt.Sprintf(
		"pid:       %d\nppid:      %d\nname:      %s\nname-long: %s\nmode:      %s\nstate:     %d\nsession:   %d\neprocess:  0x%x\npeb:       0x%x\n",
		p.PID, p.PPID, p.Name, p.NameLong, mode, p.State, p.SessionID, p.VaEPROCESS, p.VaPEB)
}

func renderHex(v uint64) string {
	return fmt.Sprintf("0x%x\n", v)
}

// List returns the entries of a directory in the exposed tree.
func (b *Bridge) List(vpath string) ([]vmm.VfsEntry, error) {
	seg := splitPath(vpath)
	if len(seg) == 0 {
		return []vmm.VfsEntry{{Name: "proc", IsDir: true}}, nil
	}
	if seg[0] != "proc" {
		return nil, fs.ErrNotExist
	}
	if len(seg) == 1 {
		to, err := b.procTable()
		if err != nil {
			return nil, err
		}
		defer to.Release()
		t := to.Value()
		out := make([]vmm.VfsEntry, 0, len(t.order))
		for _, pid := range t.order {
			out = append(out, vmm.VfsEntry{Name: strconv.FormatUint(uint64(pid), 10), IsDir: true})
		}
		return out, nil
	}
	pid, ok := parsePid(seg[1])
	if !ok {
		return nil, fs.ErrNotExist
	}
	p, err := b.process(pid)
	if err != nil {
		return nil, err
	}
	rest := seg[2:]
	switch {
	case len(rest) == 0:
		return []vmm.VfsEntry{
			{Name: "name.txt", Size: uint64(len(renderName(p)))},
			{Name: "info.txt", Size: uint64(len(renderInfo(p)))},
			{Name: "minidump", IsDir: true},
			{Name: "modules", IsDir: true},
		}, nil
	case rest[0] == "minidump" && len(rest) == 1:
		return []vmm.VfsEntry{{Name: "mem", Size: vmemSize}}, nil
	case rest[0] == "modules" && len(rest) <= 2:
		mo, err := b.moduleTable(pid)
		if err != nil {
			return nil, err
		}
		defer mo.Release()
		t := mo.Value()
		if len(rest) == 1 {
			out := make([]vmm.VfsEntry, 0, len(t.names))
			for _, name := range t.names {
				out = append(out, vmm.VfsEntry{Name: name, IsDir: true})
			}
			return out, nil
		}
		m, ok := t.byName.Lookup(ob.KeyOf(rest[1]))
		if !ok {
			return nil, fs.ErrNotExist
		}
		return []vmm.VfsEntry{
			{Name: "base.txt", Size: uint64(len(renderHex(m.VaBase)))},
			{Name: "size.txt", Size: uint64(len(renderHex(uint64(m.ImageSize))))},
			{Name: "image.mem", Size: uint64(m.ImageSize)},
		}, nil
	}
	return nil, fs.ErrNotExist
}

// Stat resolves a single path to its listing entry.
func (b *Bridge) Stat(vpath string) (vmm.VfsEntry, error) {
	seg := splitPath(vpath)
	if len(seg) == 0 {
		return vmm.VfsEntry{Name: "/", IsDir: true}, nil
	}
	parent := "/" + path.Join(seg[:len(seg)-1]...)
	ents, err := b.List(parent)
	if err != nil {
		return vmm.VfsEntry{}, err
	}
	for _, e := range ents {
		if e.Name == seg[len(seg)-1] {
			return e, nil
		}
	}
	return vmm.VfsEntry{}, fs.ErrNotExist
}

func sliceText(s string, size int, offset uint64) []byte {
	if offset >= uint64(len(s)) {
		return []byte{}
	}
	end := offset + uint64(size)
	if end > uint64(len(s)) {
		end = uint64(len(s))
	}
	return []byte(s[offset:end])
}

// Read returns up to size bytes of a file at offset. Reads past the end of
// a sized file return a short or empty slice, not an error.
func (b *Bridge) Read(vpath string, size int, offset uint64) ([]byte, error) {
	if size < 0 {
		size = 0
	}
	if size > config.ReadChunkMax {
		size = config.ReadChunkMax
	}
	seg := splitPath(vpath)
	if len(seg) < 3 || seg[0] != "proc" {
		return nil, fs.ErrNotExist
	}
	pid, ok := parsePid(seg[1])
	if !ok {
		return nil, fs.ErrNotExist
	}
	p, err := b.process(pid)
	if err != nil {
		return nil, err
	}
	rest := seg[2:]
	switch {
	case len(rest) == 1 && rest[0] == "name.txt":
		return sliceText(renderName(p), size, offset), nil
	case len(rest) == 1 && rest[0] == "info.txt":
		return sliceText(renderInfo(p), size, offset), nil
	case len(rest) == 2 && rest[0] == "minidump" && rest[1] == "mem":
		return b.client.MemRead(pid, offset, size)
	case len(rest) == 3 && rest[0] == "modules":
		mo, err := b.moduleTable(pid)
		if err != nil {
			return nil, err
		}
		defer mo.Release()
		m, ok := mo.Value().byName.Lookup(ob.KeyOf(rest[1]))
		if !ok {
			return nil, fs.ErrNotExist
		}
		switch rest[2] {
		case "base.txt":
			return sliceText(renderHex(m.VaBase), size, offset), nil
		case "size.txt":
			return sliceText(renderHex(uint64(m.ImageSize)), size, offset), nil
		case "image.mem":
			if offset >= uint64(m.ImageSize) {
				return []byte{}, nil
			}
			if remain := uint64(m.ImageSize) - offset; uint64(size) > remain {
				size = int(remain)
			}
			return b.client.MemRead(pid, m.VaBase+offset, size)
		}
	}
	return nil, fs.ErrNotExist
}

// Write passes data through to the engine for raw memory files. Everything
// else in the tree is read-only.
func (b *Bridge) Write(vpath string, data []byte, offset uint64) error {
	seg := splitPath(vpath)
	if len(seg) < 3 || seg[0] != "proc" {
		return fs.ErrNotExist
	}
	pid, ok := parsePid(seg[1])
	if !ok {
		return fs.ErrNotExist
	}
	if _, err := b.process(pid); err != nil {
		return err
	}
	rest := seg[2:]
	switch {
	case len(rest) == 2 && rest[0] == "minidump" && rest[1] == "mem":
		return b.client.MemWrite(pid, offset, data)
	case len(rest) == 3 && rest[0] == "modules" && rest[2] == "image.mem":
		mo, err := b.moduleTable(pid)
		if err != nil {
			return err
		}
		defer mo.Release()
		m, ok := mo.Value().byName.Lookup(ob.KeyOf(rest[1]))
		if !ok {
			return fs.ErrNotExist
		}
		if offset >= uint64(m.ImageSize) {
			return fs.ErrInvalid
		}
		return b.client.MemWrite(pid, m.VaBase+offset, data)
	}
	if _, err := b.Stat(vpath); err != nil {
		return err
	}
	return ErrReadOnly
}

// Find walks the tree and returns every path matching the glob pattern,
// e.g. "/proc/*/modules/*/base.txt".
func (b *Bridge) Find(pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}
	var out []string
	var walk func(dir string)
	walk = func(dir string) {
		// best effort: a subtree the engine cannot enumerate is skipped,
		// the rest of the tree stays searchable
		ents, err := b.List(dir)
		if err != nil {
			return
		}
		for _, e := range ents {
			full := path.Join(dir, e.Name)
			if g.Match(full) {
				out = append(out, full)
			}
			if e.IsDir {
				walk(full)
			}
		}
	}
	walk("/")
	return out, nil
}

// Refresh drops the cached enumerations; the next request re-queries the
// engine. Used when upstream data is known stale.
func (b *Bridge) Refresh() {
	b.procs.Clear()
	b.modules.Clear()
	log.Println("vfs: dropped cached enumerations")
}
