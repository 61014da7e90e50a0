//go:build !nojsonsimd

package protocol

import "github.com/bytedance/sonic"

var fastJSON = sonic.ConfigStd

func Encode(v any) ([]byte, error) {
	return fastJSON.Marshal(v)
}

func Decode(data []byte, v any) error {
	return fastJSON.Unmarshal(data, v)
}
