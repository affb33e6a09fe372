package genome

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultSequenceAPI is the public UCSC genome sequence endpoint.
const DefaultSequenceAPI = "https://api.genome.ucsc.edu"

// RESTSource fetches reference bases from a UCSC-style sequence API
// (GET <base>/getData/sequence?genome=..&chrom=..&start=..&end=..).
// Useful when no local genome FASTA is configured.
type RESTSource struct {
	baseURL    string
	genome     string
	httpClient *http.Client
}

// NewRESTSource creates a source for the given API base URL and genome
// build (e.g. "hg19").
func NewRESTSource(baseURL, genome string) *RESTSource {
	return &RESTSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		genome:  genome,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Fetch returns the uppercased bases of [start, end) on chrom.
func (s *RESTSource) Fetch(ctx context.Context, chrom string, start, end int64) (string, error) {
	if start < 0 || start >= end {
		return "", &FetchError{Chrom: chrom, Start: start, End: end,
			Err: fmt.Errorf("invalid coordinates")}
	}

	q := url.Values{}
	q.Set("genome", s.genome)
	q.Set("chrom", chrom)
	q.Set("start", strconv.FormatInt(start, 10))
	q.Set("end", strconv.FormatInt(end, 10))
	reqURL := s.baseURL + "/getData/sequence?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", &FetchError{Chrom: chrom, Start: start, End: end, Err: err}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &FetchError{Chrom: chrom, Start: start, End: end,
			Err: fmt.Errorf("sequence API request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &FetchError{Chrom: chrom, Start: start, End: end,
			Err: fmt.Errorf("sequence API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var payload struct {
		DNA string `json:"dna"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", &FetchError{Chrom: chrom, Start: start, End: end,
			Err: fmt.Errorf("decode sequence API response: %w", err)}
	}

	// The API clamps requests past the chromosome end and returns a
	// short sequence; a fixed-length window cannot use that.
	if int64(len(payload.DNA)) != end-start {
		return "", &FetchError{Chrom: chrom, Start: start, End: end,
			Err: fmt.Errorf("expected %d bases, got %d", end-start, len(payload.DNA))}
	}

	return strings.ToUpper(payload.DNA), nil
}
