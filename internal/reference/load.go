package reference

import (
	"encoding/json"
	"io"
	"os"

	reconerrors "github.com/PentesterFlow/ReconMapper/internal/errors"
	"github.com/PentesterFlow/ReconMapper/internal/explorer"
)

// LoadCaptures decodes a capture document: either an object with a
// "results" array of page results, or a single page result.
func LoadCaptures(r io.Reader) ([]explorer.PageResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, reconerrors.New(reconerrors.Aggregation, "", "load", "failed to read captures", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, reconerrors.New(reconerrors.Aggregation, "", "load", "captures are not a JSON object", err)
	}

	if raw, ok := doc["results"]; ok {
		var results []explorer.PageResult
		if err := json.Unmarshal(raw, &results); err != nil {
			return nil, reconerrors.New(reconerrors.Aggregation, "", "load", "malformed results array", err)
		}
		return results, nil
	}

	var single explorer.PageResult
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, reconerrors.New(reconerrors.Aggregation, "", "load", "malformed page result", err)
	}
	return []explorer.PageResult{single}, nil
}

// Load decodes captures from r and ingests every result.
func (r *Registry) Load(rd io.Reader) (int, error) {
	results, err := LoadCaptures(rd)
	if err != nil {
		return 0, err
	}
	for _, res := range results {
		r.IngestResult(res)
	}
	return len(results), nil
}

// LoadFile ingests the capture file at path.
func (r *Registry) LoadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, reconerrors.New(reconerrors.Aggregation, "", "load", "cannot open "+path, err)
	}
	defer f.Close()

	n, err := r.Load(f)
	if err != nil {
		return 0, err
	}
	r.log.WithField("path", path).WithField("results", n).Info("captures loaded")
	return n, nil
}
