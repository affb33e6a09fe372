package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPPredictor calls a prediction server: POST {"sequence": ...} as
// JSON, decode {"human": [[...]], "mouse": [[...]]} back.
type HTTPPredictor struct {
	url        string
	httpClient *http.Client
}

// NewHTTPPredictor creates a predictor for the given endpoint URL.
// The timeout is generous because a CPU inference takes minutes.
func NewHTTPPredictor(url string) *HTTPPredictor {
	return &HTTPPredictor{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// Predict sends the sequence to the prediction server.
func (p *HTTPPredictor) Predict(ctx context.Context, sequence string) (*Prediction, error) {
	body, err := json.Marshal(map[string]string{"sequence": sequence})
	if err != nil {
		return nil, &ModelError{Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, &ModelError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ModelError{Err: fmt.Errorf("prediction request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, &ModelError{Err: fmt.Errorf("prediction server error %d: %s",
			resp.StatusCode, strings.TrimSpace(string(b)))}
	}

	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, &ModelError{Err: fmt.Errorf("decode prediction response: %w", err)}
	}
	if len(pred.Human) == 0 {
		return nil, &ModelError{Err: fmt.Errorf("prediction response contains no tracks")}
	}

	return &pred, nil
}
