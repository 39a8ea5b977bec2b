package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// DefaultCollection is used when a store is opened without a collection name.
const DefaultCollection = "agent_memory"

func collectionName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultCollection
	}
	return name
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var metadata map[string]any
	if err := dec.Decode(&metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	for k, v := range metadata {
		metadata[k] = restoreNumbers(v)
	}
	return metadata, nil
}

// restoreNumbers turns json.Number values back into int when integral and
// into float64 otherwise, so stored metadata reads back with the types an
// in-process map would hold.
func restoreNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil && n >= math.MinInt && n <= math.MaxInt {
			return int(n)
		}
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = restoreNumbers(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = restoreNumbers(e)
		}
		return x
	default:
		return v
	}
}

func encodeEmbedding(v []float64) (string, error) {
	if v == nil {
		v = []float64{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode embedding: %w", err)
	}
	return string(data), nil
}

func decodeEmbedding(raw string) ([]float64, error) {
	var v []float64
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return v, nil
}
