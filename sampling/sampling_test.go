package sampling

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"imgtriage/logger"
	"imgtriage/signals"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Init("error")
}

func TestSelectExplicitFirstInTraversalOrder(t *testing.T) {
	cands := []Candidate{
		{Path: "/big.iso", Size: 9000},
		{Path: "/a.exe", Size: 10, Reasons: []string{signals.ReasonSuspExt}, Head: []byte("MZ")},
		{Path: "/rand.bin", Size: 80000, Reasons: []string{signals.ReasonHighEntropy}},
		{Path: "/b.js", Size: 5, Reasons: []string{signals.ReasonJSKeywords}, Head: []byte("eval(")},
		{Path: "/small.txt", Size: 1},
	}
	var reread []int
	items := Select(cands, MaxItems, func(i int) ([]byte, error) {
		reread = append(reread, i)
		return []byte(fmt.Sprintf("head-%d", i)), nil
	})

	require.Len(t, items, 5)
	paths := make([]string, len(items))
	for i, it := range items {
		paths[i] = it.Path
	}
	assert.Equal(t, []string{"/a.exe", "/b.js", "/rand.bin", "/big.iso", "/small.txt"}, paths)
	assert.Equal(t, []byte("MZ"), items[0].Head)
	assert.Equal(t, []byte("head-0"), items[3].Head)
	assert.ElementsMatch(t, []int{0, 2, 4}, reread)
	assert.NotNil(t, items[4].Reasons)
}

func TestSelectCapsAtMax(t *testing.T) {
	var cands []Candidate
	for i := 0; i < 20; i++ {
		cands = append(cands, Candidate{Path: fmt.Sprintf("/f%02d.exe", i), Size: int64(i), Reasons: []string{signals.ReasonSuspExt}})
	}
	cands = append(cands, Candidate{Path: "/huge.bin", Size: 1 << 30})

	items := Select(cands, MaxItems, func(int) ([]byte, error) { return nil, nil })
	require.Len(t, items, MaxItems)
	assert.Equal(t, "/f00.exe", items[0].Path)
	assert.Equal(t, "/f07.exe", items[7].Path)
}

func TestSelectClampsOversizedMax(t *testing.T) {
	var cands []Candidate
	for i := 0; i < 20; i++ {
		cands = append(cands, Candidate{Path: fmt.Sprintf("/f%02d.exe", i), Reasons: []string{signals.ReasonSuspExt}, Head: []byte("MZ")})
	}

	items := Select(cands, 20, nil)
	require.Len(t, items, MaxItems)
	assert.Equal(t, "/f07.exe", items[MaxItems-1].Path)
}

func TestSelectReasonedItemsPrecedeUnreasoned(t *testing.T) {
	cands := []Candidate{
		{Path: "/x", Size: 100},
		{Path: "/y", Size: 60000, Reasons: []string{signals.ReasonHighEntropy}},
		{Path: "/z", Size: 50},
		{Path: "/w.ps1", Size: 1, Reasons: []string{signals.ReasonPS1Keywords, signals.ReasonSuspExt}},
	}
	items := Select(cands, 3, nil)
	require.Len(t, items, 3)
	seenEmpty := false
	for _, it := range items {
		if len(it.Reasons) == 0 {
			seenEmpty = true
			continue
		}
		assert.False(t, seenEmpty, "reasoned item %s after an unreasoned one", it.Path)
	}
	assert.Equal(t, "/x", items[2].Path)
}

func TestSelectSkipsFailedRereads(t *testing.T) {
	cands := []Candidate{
		{Path: "/gone", Size: 500},
		{Path: "/ok", Size: 100},
	}
	items := Select(cands, MaxItems, func(i int) ([]byte, error) {
		if i == 0 {
			return nil, errors.New("read error")
		}
		return []byte("ok"), nil
	})
	require.Len(t, items, 1)
	assert.Equal(t, "/ok", items[0].Path)
}

func TestSelectEmptyAndZeroCap(t *testing.T) {
	assert.Empty(t, Select(nil, MaxItems, nil))
	assert.Nil(t, Select([]Candidate{{Path: "/a"}}, 0, nil))
}

func TestItemHeadNotSerialized(t *testing.T) {
	data, err := json.Marshal(Item{Path: "/a", Head: []byte("secret"), Reasons: []string{}})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
	assert.NotContains(t, string(data), "head")
}
