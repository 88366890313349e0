package analysis

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"imgtriage/risk"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fatImageSize = 40 * 1024 * 1024

// fat32Image returns the bytes of a FAT32 image holding /dir/evil.exe, placed
// in MBR partition 1 starting at sector 2048 when partitioned is set.
func fat32Image(t *testing.T, partitioned bool) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "build.img")
	d, err := diskfs.Create(path, fatImageSize, diskfs.SectorSizeDefault)
	require.NoError(t, err)

	spec := disk.FilesystemSpec{FSType: filesystem.TypeFat32}
	if partitioned {
		require.NoError(t, d.Partition(&mbr.Table{
			LogicalSectorSize:  512,
			PhysicalSectorSize: 512,
			Partitions: []*mbr.Partition{{
				Type:  mbr.Fat32LBA,
				Start: 2048,
				Size:  fatImageSize/512 - 2048,
			}},
		}))
		spec.Partition = 1
	}
	fs, err := d.CreateFilesystem(spec)
	require.NoError(t, err)
	require.NoError(t, fs.Mkdir("/dir"))
	f, err := fs.OpenFile("/dir/evil.exe", os.O_CREATE|os.O_RDWR)
	require.NoError(t, err)
	_, err = f.Write(append([]byte("MZ\x90\x00"), make([]byte, 1020)...))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, d.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestAnalyzeRealFAT32Images(t *testing.T) {
	const partLabel = "partition_1@1048576:MBR type 0x0c"
	cases := []struct {
		name        string
		partitioned bool
		volume      string
		path        string
	}{
		{"whole disk", false, "/", "/dir/evil.exe"},
		{"mbr partition", true, partLabel, partLabel + "/dir/evil.exe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.TempDir = t.TempDir()
			a := New(cfg, Deps{})

			sum, err := a.Analyze(context.Background(), Input{Name: "disk.img", Data: fat32Image(t, tc.partitioned)})
			require.NoError(t, err)
			assert.False(t, sum.Unreadable)
			assert.Equal(t, []string{tc.volume}, sum.Volumes)
			assert.GreaterOrEqual(t, sum.FileCount, 1)
			require.Len(t, sum.Suspicious, 1)
			assert.Equal(t, tc.path, sum.Suspicious[0].Path)
			assert.Equal(t, "pe_header,susp_ext", sum.Suspicious[0].Reasons)
			assert.Equal(t, risk.PathHeuristic, sum.RiskPath)
			assert.Equal(t, 50, sum.RiskScore)

			left, err := os.ReadDir(cfg.TempDir)
			require.NoError(t, err)
			assert.Empty(t, left, "backing file must be removed")
		})
	}
}
