package vfs

import (
	"io"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAferoReadFile(t *testing.T) {
	b := NewBridge(newTestClient())
	defer b.Refresh()
	afs := b.FS()

	assert.Equal(t, "vmmfs", afs.Name())

	data, err := afero.ReadFile(afs, "/proc/728/name.txt")
	require.NoError(t, err)
	assert.Equal(t, "lsass.exe\n", string(data))
}

func TestAferoStatAndReaddir(t *testing.T) {
	b := NewBridge(newTestClient())
	defer b.Refresh()
	afs := b.FS()

	fi, err := afs.Stat("/proc/728")
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	fi, err = afs.Stat("/proc/728/modules/ntdll.dll/image.mem")
	require.NoError(t, err)
	assert.Equal(t, int64(0x2000), fi.Size())
	assert.False(t, fi.IsDir())

	_, err = afs.Stat("/proc/728/missing")
	assert.True(t, os.IsNotExist(err))

	d, err := afs.Open("/proc/728")
	require.NoError(t, err)
	defer d.Close()

	first, err := d.Readdirnames(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"name.txt", "info.txt"}, first)
	rest, err := d.Readdirnames(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"minidump", "modules"}, rest)
	_, err = d.Readdirnames(1)
	assert.ErrorIs(t, err, io.EOF)
}

func TestAferoSeekAndRead(t *testing.T) {
	b := NewBridge(newTestClient())
	defer b.Refresh()
	afs := b.FS()

	f, err := afs.Open("/proc/728/name.txt")
	require.NoError(t, err)
	defer f.Close()

	pos, err := f.Seek(5, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, int64(5), pos)

	buf := make([]byte, 16)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, ".exe\n", string(buf[:n]))

	_, err = f.Read(buf)
	assert.ErrorIs(t, err, io.EOF)

	n, err = f.ReadAt(buf[:5], 0)
	require.NoError(t, err)
	assert.Equal(t, "lsass", string(buf[:n]))
}

func TestAferoReadOnly(t *testing.T) {
	b := NewBridge(newTestClient())
	defer b.Refresh()
	afs := b.FS()

	_, err := afs.Create("/proc/new")
	assert.Error(t, err)
	assert.Error(t, afs.Mkdir("/x", 0o755))
	assert.Error(t, afs.Remove("/proc/728/name.txt"))
	_, err = afs.OpenFile("/proc/728/name.txt", os.O_RDWR, 0)
	assert.Error(t, err)

	f, err := afs.Open("/proc/728/name.txt")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Write([]byte("x"))
	assert.Error(t, err)
	assert.Error(t, f.Truncate(0))
}
