// Package imagecheck sniffs a buffer for disk-image signatures before any
// expensive parsing is attempted.
package imagecheck

import (
	"bytes"
	"fmt"

	"github.com/h2non/filetype"
)

const (
	MinImageSize = 512

	heuristicMinSize     = 1024 * 1024
	heuristicWindow      = 10_000
	heuristicMaxPrintPct = 0.80
)

type signature struct {
	name   string
	offset int
	magic  []byte
}

var filesystemSignatures = []signature{
	{name: "NTFS OEM id", offset: 3, magic: []byte("NTFS    ")},
	{name: "FAT12 OEM id", offset: 54, magic: []byte("FAT12   ")},
	{name: "FAT16 OEM id", offset: 54, magic: []byte("FAT16   ")},
	{name: "FAT OEM id", offset: 54, magic: []byte("FAT     ")},
	{name: "FAT32 OEM id", offset: 82, magic: []byte("FAT32   ")},
	// 0xEF53 little-endian.
	{name: "ext2/3/4 superblock magic", offset: 1080, magic: []byte{0x53, 0xEF}},
	{name: "HFS+ signature", offset: 1024, magic: []byte("H+")},
	{name: "HFSX signature", offset: 1024, magic: []byte("HX")},
}

func hasAt(buf []byte, offset int, magic []byte) bool {
	end := offset + len(magic)
	return end <= len(buf) && bytes.Equal(buf[offset:end], magic)
}

// Validate classifies buf. It never fails; reason explains the verdict.
func Validate(buf []byte) (bool, string) {
	if len(buf) < MinImageSize {
		return false, fmt.Sprintf("buffer too small for a disk image (%d bytes)", len(buf))
	}
	if buf[510] == 0x55 && buf[511] == 0xAA {
		return true, "MBR boot signature found"
	}
	if hasAt(buf, 512, []byte("EFI PART")) {
		return true, "GPT header found at LBA 1"
	}
	for _, sig := range filesystemSignatures {
		if hasAt(buf, sig.offset, sig.magic) {
			return true, sig.name + " found"
		}
	}
	if len(buf) > heuristicMinSize && printableRatio(buf, heuristicWindow) < heuristicMaxPrintPct {
		return true, "large binary buffer presumed to be a raw disk image"
	}
	return false, "no disk image signature found" + mimeHint(buf)
}

func printableRatio(buf []byte, window int) float64 {
	if len(buf) < window {
		window = len(buf)
	}
	if window == 0 {
		return 0
	}
	printable := 0
	for _, b := range buf[:window] {
		if (b >= 0x20 && b < 0x7F) || b == '\t' || b == '\n' || b == '\r' {
			printable++
		}
	}
	return float64(printable) / float64(window)
}

func mimeHint(buf []byte) string {
	head := buf
	if len(head) > 261 {
		head = head[:261]
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown || kind.MIME.Value == "" {
		return ""
	}
	return fmt.Sprintf(" (looks like %s)", kind.MIME.Value)
}
