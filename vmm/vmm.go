// Package vmm types the boundary to the external memory-forensics engine.
// The engine itself lives in a native library supplied by the host; this
// package only defines what the bridge and plugin layers consume from it.
package vmm

import "errors"

var (
	ErrNotFound   = errors.New("vmm: not found")
	ErrNotRunning = errors.New("vmm: engine not running")
)

type ProcessInfo struct {
	PID        uint32
	PPID       uint32
	Name       string
	NameLong   string
	IsUserMode bool
	State      uint32
	SessionID  uint32
	VaEPROCESS uint64
	VaPEB      uint64
}

type ModuleEntry struct {
	PID       uint32
	VaBase    uint64
	VaEntry   uint64
	ImageSize uint32
	IsWow64   bool
	Name      string
	FullName  string
}

// VfsEntry is one name in a directory listing of the exposed file tree.
type VfsEntry struct {
	Name  string
	IsDir bool
	Size  uint64
}

// Client is the query surface of the engine. All methods are synchronous
// and safe for concurrent use; results are snapshots, never live views.
type Client interface {
	ProcessList() ([]ProcessInfo, error)
	ProcessModules(pid uint32) ([]ModuleEntry, error)
	MemRead(pid uint32, va uint64, size int) ([]byte, error)
	MemWrite(pid uint32, va uint64, data []byte) error
}
