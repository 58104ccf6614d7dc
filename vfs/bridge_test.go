package vfs

import (
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmmfs/config"
	"vmmfs/vmm"
)

type memWrite struct {
	pid  uint32
	va   uint64
	data []byte
}

// fakeClient is an in-memory stand-in for the engine. Memory reads return a
// deterministic pattern (low byte of the address) so range dispatch is
// checkable; enumeration calls are counted to observe caching.
type fakeClient struct {
	mu          sync.Mutex
	procs       []vmm.ProcessInfo
	mods        map[uint32][]vmm.ModuleEntry
	listCalls   int
	moduleCalls int
	writes      []memWrite
}

func (f *fakeClient) ProcessList() ([]vmm.ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]vmm.ProcessInfo(nil), f.procs...), nil
}

func (f *fakeClient) ProcessModules(pid uint32) ([]vmm.ModuleEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moduleCalls++
	mods, ok := f.mods[pid]
	if !ok {
		return nil, vmm.ErrNotFound
	}
	return append([]vmm.ModuleEntry(nil), mods...), nil
}

func (f *fakeClient) MemRead(pid uint32, va uint64, size int) ([]byte, error) {
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(va + uint64(i))
	}
	return out, nil
}

func (f *fakeClient) MemWrite(pid uint32, va uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, memWrite{pid: pid, va: va, data: append([]byte(nil), data...)})
	return nil
}

func newTestClient() *fakeClient {
	return &fakeClient{
		procs: []vmm.ProcessInfo{
			{PID: 4, Name: "System", NameLong: "System", State: 0},
			{PID: 728, PPID: 4, Name: "lsass.exe", NameLong: "lsass.exe", IsUserMode: true, SessionID: 0, VaEPROCESS: 0xffff800012345678, VaPEB: 0x7ffd9000},
			{PID: 3104, PPID: 728, Name: "notepad.exe", NameLong: "notepad.exe", IsUserMode: true, SessionID: 1},
		},
		mods: map[uint32][]vmm.ModuleEntry{
			728: {
				{PID: 728, Name: "lsass.exe", FullName: `C:\Windows\System32\lsass.exe`, VaBase: 0x7ff600000000, ImageSize: 0x1000},
				{PID: 728, Name: "ntdll.dll", FullName: `C:\Windows\System32\ntdll.dll`, VaBase: 0x7ffe00000000, ImageSize: 0x2000},
			},
		},
	}
}

func names(ents []vmm.VfsEntry) []string {
	out := make([]string, 0, len(ents))
	for _, e := range ents {
		out = append(out, e.Name)
	}
	return out
}

func TestListTree(t *testing.T) {
	b := NewBridge(newTestClient())
	defer b.Refresh()

	root, err := b.List("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"proc"}, names(root))

	procs, err := b.List("/proc")
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "728", "3104"}, names(procs), "pids in enumeration order")

	dir, err := b.List("/proc/728")
	require.NoError(t, err)
	assert.Equal(t, []string{"name.txt", "info.txt", "minidump", "modules"}, names(dir))

	mods, err := b.List("/proc/728/modules")
	require.NoError(t, err)
	assert.Equal(t, []string{"lsass.exe", "ntdll.dll"}, names(mods))

	files, err := b.List("/proc/728/modules/ntdll.dll")
	require.NoError(t, err)
	assert.Equal(t, []string{"base.txt", "size.txt", "image.mem"}, names(files))
	assert.Equal(t, uint64(0x2000), files[2].Size)

	_, err = b.List("/proc/9999")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	_, err = b.List("/registry")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestListCachesEnumeration(t *testing.T) {
	c := newTestClient()
	b := NewBridge(c)
	defer b.Refresh()

	for i := 0; i < 5; i++ {
		_, err := b.List("/proc")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, c.listCalls, "repeated listings served from the cache")

	for i := 0; i < 5; i++ {
		_, err := b.List("/proc/728/modules")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, c.moduleCalls)

	b.Refresh()
	_, err := b.List("/proc")
	require.NoError(t, err)
	assert.Equal(t, 2, c.listCalls, "refresh drops the cache")
}

func TestCacheTTLReenumerates(t *testing.T) {
	oldTTL := config.ProcCacheTTL
	config.ProcCacheTTL = time.Millisecond
	defer func() { config.ProcCacheTTL = oldTTL }()

	c := newTestClient()
	b := NewBridge(c)
	defer b.Refresh()

	_, err := b.List("/proc")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = b.List("/proc")
	require.NoError(t, err)
	assert.Equal(t, 2, c.listCalls, "expired table re-enumerated")
}

func TestReadTextFiles(t *testing.T) {
	b := NewBridge(newTestClient())
	defer b.Refresh()

	data, err := b.Read("/proc/728/name.txt", 64, 0)
	require.NoError(t, err)
	assert.Equal(t, "lsass.exe\n", string(data))

	// offset slicing and short read at EOF
	data, err = b.Read("/proc/728/name.txt", 64, 5)
	require.NoError(t, err)
	assert.Equal(t, ".exe\n", string(data))
	data, err = b.Read("/proc/728/name.txt", 64, 100)
	require.NoError(t, err)
	assert.Empty(t, data)

	info, err := b.Read("/proc/728/info.txt", 4096, 0)
	require.NoError(t, err)
	assert.Contains(t, string(info), "pid:       728")
	assert.Contains(t, string(info), "mode:      user")
	assert.Contains(t, string(info), "eprocess:  0xffff800012345678")

	base, err := b.Read("/proc/728/modules/ntdll.dll/base.txt", 64, 0)
	require.NoError(t, err)
	assert.Equal(t, "0x7ffe00000000\n", string(base))

	_, err = b.Read("/proc/728/nope.txt", 16, 0)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestReadMemoryDispatch(t *testing.T) {
	b := NewBridge(newTestClient())
	defer b.Refresh()

	// minidump offset is the virtual address
	data, err := b.Read("/proc/728/minidump/mem", 4, 0x1000)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0x02, 0x03}, data)

	// module image reads are based at the module and clamped to its size
	data, err = b.Read("/proc/728/modules/ntdll.dll/image.mem", 4, 0x10)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x11, 0x12, 0x13}, data)

	data, err = b.Read("/proc/728/modules/ntdll.dll/image.mem", 4096, 0x2000-2)
	require.NoError(t, err)
	assert.Len(t, data, 2, "read clamped at image end")

	data, err = b.Read("/proc/728/modules/ntdll.dll/image.mem", 16, 0x9000)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestWriteDispatch(t *testing.T) {
	c := newTestClient()
	b := NewBridge(c)
	defer b.Refresh()

	require.NoError(t, b.Write("/proc/728/minidump/mem", []byte{1, 2}, 0x5000))
	require.NoError(t, b.Write("/proc/728/modules/ntdll.dll/image.mem", []byte{9}, 0x10))
	require.Len(t, c.writes, 2)
	assert.Equal(t, memWrite{pid: 728, va: 0x5000, data: []byte{1, 2}}, c.writes[0])
	assert.Equal(t, memWrite{pid: 728, va: 0x7ffe00000010, data: []byte{9}}, c.writes[1])

	assert.ErrorIs(t, b.Write("/proc/728/name.txt", []byte{0}, 0), ErrReadOnly)
	assert.ErrorIs(t, b.Write("/proc/9999/minidump/mem", []byte{0}, 0), fs.ErrNotExist)
}

func TestStat(t *testing.T) {
	b := NewBridge(newTestClient())
	defer b.Refresh()

	e, err := b.Stat("/")
	require.NoError(t, err)
	assert.True(t, e.IsDir)

	e, err = b.Stat("/proc/728/name.txt")
	require.NoError(t, err)
	assert.False(t, e.IsDir)
	assert.Equal(t, uint64(len("lsass.exe\n")), e.Size)

	e, err = b.Stat("/proc/3104")
	require.NoError(t, err)
	assert.True(t, e.IsDir)

	_, err = b.Stat("/proc/728/modules/missing.dll")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFindGlob(t *testing.T) {
	b := NewBridge(newTestClient())
	defer b.Refresh()

	paths, err := b.Find("/proc/*/name.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"/proc/4/name.txt", "/proc/728/name.txt", "/proc/3104/name.txt"}, paths)

	paths, err = b.Find("/proc/728/modules/*.dll/base.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"/proc/728/modules/ntdll.dll/base.txt"}, paths)

	_, err = b.Find("[")
	assert.Error(t, err)
}
