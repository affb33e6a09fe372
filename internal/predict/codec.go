package predict

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// encodePrediction serializes a prediction for cache storage.
func encodePrediction(p *Prediction) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, fmt.Errorf("encode prediction: %w", err)
	}
	return buf.Bytes(), nil
}

// decodePrediction deserializes a cached prediction payload.
func decodePrediction(payload []byte) (*Prediction, error) {
	var p Prediction
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	return &p, nil
}
