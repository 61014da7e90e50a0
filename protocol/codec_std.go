//go:build nojsonsimd

package protocol

import stdjson "encoding/json"

func Encode(v any) ([]byte, error) {
	return stdjson.Marshal(v)
}

func Decode(data []byte, v any) error {
	return stdjson.Unmarshal(data, v)
}
