package imagecheck

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	mbr := make([]byte, 1024)
	mbr[510], mbr[511] = 0x55, 0xAA

	gpt := make([]byte, 1024)
	copy(gpt[512:], "EFI PART")

	ntfs := make([]byte, 1024)
	copy(ntfs[3:], "NTFS    ")

	fat32 := make([]byte, 1024)
	copy(fat32[82:], "FAT32   ")

	fat16 := make([]byte, 1024)
	copy(fat16[54:], "FAT16   ")

	ext := make([]byte, 2048)
	ext[1080], ext[1081] = 0x53, 0xEF

	hfs := make([]byte, 2048)
	copy(hfs[1024:], "H+")

	extAndHFS := make([]byte, 2048)
	copy(extAndHFS[1024:], "H+")
	extAndHFS[1080], extAndHFS[1081] = 0x53, 0xEF

	noise := make([]byte, 2*1024*1024)
	rand.New(rand.NewSource(7)).Read(noise)
	for i := 0; i < 1100; i++ {
		noise[i] = 0
	}

	text := bytes.Repeat([]byte("just some text\n"), 200_000)

	cases := []struct {
		name   string
		buf    []byte
		want   bool
		reason string
	}{
		{"empty", nil, false, "too small"},
		{"short", make([]byte, 511), false, "too small"},
		{"mbr", mbr, true, "MBR"},
		{"gpt", gpt, true, "GPT"},
		{"ntfs", ntfs, true, "NTFS"},
		{"fat32", fat32, true, "FAT32"},
		{"fat16", fat16, true, "FAT16"},
		{"ext", ext, true, "ext2/3/4"},
		{"hfs", hfs, true, "HFS+"},
		{"ext checked before hfs", extAndHFS, true, "ext2/3/4"},
		{"binary", noise, true, "presumed"},
		{"text", text, false, "no disk image"},
		{"small zeroes", make([]byte, 4096), false, "no disk image"},
	}
	for _, tc := range cases {
		got, reason := Validate(tc.buf)
		if got != tc.want {
			t.Errorf("%s: got %v (%s)", tc.name, got, reason)
		}
		if !strings.Contains(reason, tc.reason) {
			t.Errorf("%s: reason %q does not mention %q", tc.name, reason, tc.reason)
		}
	}
}

func TestValidateMimeHint(t *testing.T) {
	pdf := append([]byte("%PDF-1.7\n"), bytes.Repeat([]byte("a"), 1024)...)
	ok, reason := Validate(pdf)
	if ok {
		t.Fatal("pdf is not a disk image")
	}
	if !strings.Contains(reason, "application/pdf") {
		t.Fatalf("expected mime hint, got %q", reason)
	}
}

func TestPrintableRatio(t *testing.T) {
	if r := printableRatio([]byte("abc\x00"), 10); r != 0.75 {
		t.Fatalf("ratio = %f", r)
	}
	if r := printableRatio(nil, 10); r != 0 {
		t.Fatalf("ratio = %f", r)
	}
}
