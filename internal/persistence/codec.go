package persistence

import (
	"bytes"
	"encoding/gob"

	"github.com/petrijr/siirto/pkg/api"
)

// EncodeMetadata serializes a metadata bag using encoding/gob. Callers
// must ensure values are gob-encodable; the common kinds are registered
// by pkg/api. A nil or empty bag encodes to nil.
func EncodeMetadata(m api.Metadata) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMetadata is the inverse of EncodeMetadata. Empty input yields a
// nil bag.
func DecodeMetadata(data []byte) (api.Metadata, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m api.Metadata
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}
