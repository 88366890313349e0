package fuzzy

import (
	"bytes"

	"github.com/glaslos/tlsh"
)

type TLSHHasher struct{}

func (h TLSHHasher) Name() string {
	return "tlsh"
}

func (h TLSHHasher) HashBytes(data []byte) (string, error) {
	hash, err := tlsh.HashReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func init() {
	Register(TLSHHasher{})
}
