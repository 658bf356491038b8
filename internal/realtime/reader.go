package realtime

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// Drain reads every JSON line from the sidecar at path into memory, in
// append order. The caller is expected to insert the result into the
// Job Store Gateway and then remove the result directory (spec.md §4.8
// "Task Pipeline reads the file into memory before the result directory
// is deleted").
func Drain(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("realtime: open sidecar: %w", err)
	}
	defer f.Close()

	var samples []Sample
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var s Sample
		if err := json.Unmarshal(line, &s); err != nil {
			continue
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return samples, fmt.Errorf("realtime: scan sidecar: %w", err)
	}
	return samples, nil
}
