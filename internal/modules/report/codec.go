package report

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes a report to msgpack
func Encode(r *Report) ([]byte, error) {
	data, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report %s: %w", r.ID, err)
	}
	return data, nil
}

// Decode parses a msgpack report
func Decode(data []byte) (*Report, error) {
	var r Report
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}
