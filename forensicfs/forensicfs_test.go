package forensicfs_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"imgtriage/forensicfs"
	"imgtriage/forensicfs/memfs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenImageRetriesWithLinearBackoff(t *testing.T) {
	b := &memfs.Backend{Whole: memfs.Dir(""), FailOpens: 2}
	var waits []time.Duration
	img, err := forensicfs.OpenImage(b, "x.img", forensicfs.RetryPolicy{
		Attempts: 5,
		Backoff:  10 * time.Millisecond,
		Sleep:    func(d time.Duration) { waits = append(waits, d) },
	})
	require.NoError(t, err)
	defer img.Close()

	assert.Equal(t, 3, b.Attempts())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, waits)
}

func TestOpenImageGivesUpAfterFiveAttempts(t *testing.T) {
	b := &memfs.Backend{FailOpens: 100}
	_, err := forensicfs.OpenImage(b, "x.img", forensicfs.RetryPolicy{
		Attempts: 9,
		Backoff:  time.Millisecond,
		Sleep:    func(time.Duration) {},
	})
	require.Error(t, err)
	assert.Equal(t, forensicfs.MaxOpenAttempts, b.Attempts())
}

func TestFromFS(t *testing.T) {
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fsys := fstest.MapFS{
		"Windows/System32/cmd.exe": {Data: []byte("MZ payload"), ModTime: mtime},
		"readme.txt":               {Data: []byte("hello")},
	}
	wrapped := forensicfs.FromFS(fsys, nil)

	root, err := wrapped.ReadDir("/")
	require.NoError(t, err)
	types := map[string]forensicfs.EntryType{}
	for _, e := range root {
		types[e.Name] = e.Type
	}
	assert.Equal(t, forensicfs.TypeDir, types["Windows"])
	assert.Equal(t, forensicfs.TypeReg, types["readme.txt"])

	sys, err := wrapped.ReadDir("/Windows/System32")
	require.NoError(t, err)
	require.Len(t, sys, 1)
	assert.Equal(t, int64(10), sys[0].Meta.Size)
	require.NotNil(t, sys[0].Meta.Mtime)
	assert.True(t, sys[0].Meta.Mtime.Equal(mtime))

	f, err := wrapped.Open("/Windows/System32/cmd.exe")
	require.NoError(t, err)
	defer f.Close()
	data, err := f.ReadRandom(3, 100)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	data, err = f.ReadRandom(10, 4)
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = wrapped.Open("/missing")
	assert.Error(t, err)
	assert.NoError(t, wrapped.Close())
}

func TestDiskBackendRejectsBlankImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blank.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 1024*1024), 0600))

	img, err := forensicfs.NewDiskBackend().OpenImage(path)
	if err != nil {
		return
	}
	defer img.Close()
	_, err = img.OpenFilesystem(0)
	assert.Error(t, err)
	parts, err := img.OpenVolumeSystem()
	if err == nil {
		for _, p := range parts {
			_, ferr := img.OpenFilesystem(p.Start)
			assert.Error(t, ferr)
		}
	}
}

func TestDiskBackendMissingFile(t *testing.T) {
	_, err := forensicfs.NewDiskBackend().OpenImage(filepath.Join(t.TempDir(), "nope.img"))
	assert.Error(t, err)
}

func TestTimePtr(t *testing.T) {
	assert.Nil(t, forensicfs.TimePtr(time.Time{}))
	assert.Nil(t, forensicfs.TimePtr(time.Unix(0, 0)))
	now := time.Now()
	assert.NotNil(t, forensicfs.TimePtr(now))
}

func TestMemfsHandleAccounting(t *testing.T) {
	b := &memfs.Backend{Whole: memfs.Dir("", memfs.File("a.txt", []byte("abc")))}
	img, err := b.OpenImage("x")
	require.NoError(t, err)
	fs, err := img.OpenFilesystem(0)
	require.NoError(t, err)
	f, err := fs.Open("/a.txt")
	require.NoError(t, err)
	assert.Equal(t, 3, b.OpenHandles())
	f.Close()
	fs.Close()
	img.Close()
	assert.Equal(t, 0, b.OpenHandles())

	_, err = fs.ReadDir("/nope")
	assert.True(t, errors.Is(err, forensicfs.ErrNotFound))
}
