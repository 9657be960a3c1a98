package adapter

import (
	"encoding/json"
)

// JSON is the codec the push adapter decodes wire payloads with. Tests
// swap in a mock to exercise undecodable-payload paths.
//
//go:generate mockgen -source=json.go -destination=../mocks/json.go -package=mocks -mock_names=JSON=MockJSON
type JSON interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// RealJSON backs the codec with encoding/json.
type RealJSON struct{}

// NewJSON returns the encoding/json-backed codec.
func NewJSON() JSON {
	return &RealJSON{}
}

func (j *RealJSON) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (j *RealJSON) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
