package ratelimit

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// bucketState is the on-disk shape of rate_limit_state (spec.md §4.1).
type bucketState struct {
	Tokens         float64 `json:"tokens"`
	LastRefillUnix float64 `json:"last_refill_unix"`
}

// banState is the on-disk shape of ban_until (spec.md §4.1): a JSON object
// holding the deadline as float epoch seconds under "until_unix".
type banState struct {
	UntilUnix float64 `json:"until_unix"`
}

// writeAtomic serialises v as JSON and writes it to path via a
// write-temp-then-rename, per spec.md §4.1 ("Writes ... are atomic").
func writeAtomic(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// readJSON reads and decodes path into v. A missing file leaves v at its
// zero value and returns nil: an absent state file just means "never
// written yet", not an error.
func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}
