package scanner

import (
	"imgtriage/hasher"
)

// readHead collects up to limit bytes from the start of r, issuing reads of at
// most chunkSize bytes. It stops early on a zero-length read; short reads are
// stitched together.
func readHead(r hasher.RandomReader, size int64, limit, chunkSize int) ([]byte, error) {
	if chunkSize <= 0 {
		chunkSize = hasher.DefaultChunkSize
	}
	want := int64(limit)
	if size < want {
		want = size
	}
	if want <= 0 {
		return []byte{}, nil
	}
	head := make([]byte, 0, want)
	for int64(len(head)) < want {
		n := int64(chunkSize)
		if remaining := want - int64(len(head)); remaining < n {
			n = remaining
		}
		data, err := r.ReadRandom(int64(len(head)), int(n))
		if err != nil {
			return head, err
		}
		if len(data) == 0 {
			break
		}
		if int64(len(data)) > n {
			data = data[:n]
		}
		head = append(head, data...)
	}
	return head, nil
}

func truncateCopy(data []byte, limit int) []byte {
	if limit >= 0 && len(data) > limit {
		data = data[:limit]
	}
	return append([]byte(nil), data...)
}
