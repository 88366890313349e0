package scanner

import (
	"fmt"
	"strings"

	"imgtriage/forensicfs"
	"imgtriage/logger"

	"github.com/pkg/errors"
)

// ErrFilesystemUnreadable means neither a whole-image filesystem nor any
// partition filesystem could be opened.
var ErrFilesystemUnreadable = errors.New("no readable filesystem in image")

// RootLabel names the single volume of an unpartitioned image.
const RootLabel = "/"

type Volume struct {
	Label string
	FS    forensicfs.Filesystem
}

// PartitionLabel renders partition_<n>@<offset>:<description>.
func PartitionLabel(p forensicfs.Partition) string {
	label := fmt.Sprintf("partition_%d@%d:%s", p.Number, p.Start, p.Description)
	return strings.TrimSuffix(label, ":")
}

// MountVolumes opens the image as one filesystem at offset 0, or failing that
// every partition with a positive length. Unmountable partitions are skipped
// and reported in the returned warnings.
func MountVolumes(img forensicfs.Image) ([]Volume, []string) {
	var warnings []string
	warn := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		logger.Debug(msg)
		warnings = append(warnings, msg)
	}

	fsys, err := openFilesystem(img, 0)
	if err == nil {
		return []Volume{{Label: RootLabel, FS: fsys}}, nil
	}
	logger.Debugf("No filesystem at offset 0: %v", err)

	parts, err := openVolumeSystem(img)
	if err != nil {
		warn("No volume system: %v", err)
		return nil, warnings
	}

	var volumes []Volume
	for _, part := range parts {
		if part.Length <= 0 {
			continue
		}
		label := PartitionLabel(part)
		fsys, err := openFilesystem(img, part.Start)
		if err != nil {
			warn("Skipping %s: %v", label, err)
			continue
		}
		volumes = append(volumes, Volume{Label: label, FS: fsys})
	}
	return volumes, warnings
}

func openFilesystem(img forensicfs.Image, offset int64) (fsys forensicfs.Filesystem, err error) {
	defer func() {
		if r := recover(); r != nil {
			fsys, err = nil, errors.Errorf("filesystem parser panic at offset %d: %v", offset, r)
		}
	}()
	return img.OpenFilesystem(offset)
}

func openVolumeSystem(img forensicfs.Image) (parts []forensicfs.Partition, err error) {
	defer func() {
		if r := recover(); r != nil {
			parts, err = nil, errors.Errorf("volume system parser panic: %v", r)
		}
	}()
	return img.OpenVolumeSystem()
}

func closeVolumes(volumes []Volume) {
	for _, v := range volumes {
		if err := v.FS.Close(); err != nil {
			logger.Debugf("Failed to close volume %s: %v", v.Label, err)
		}
	}
}
