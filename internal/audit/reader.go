package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"main/internal/schema"
)

// ReadDir loads every event from the segments under dir, oldest first.
// Segment file names sort chronologically, so lexical order is enough.
func ReadDir(dir, filePrefix string) ([]schema.AuditEvent, error) {
	if filePrefix == "" {
		filePrefix = defaultFilePrefix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, filePrefix+"-") && strings.HasSuffix(name, ".jsonl") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var events []schema.AuditEvent
	for _, name := range names {
		segment, err := readSegment(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		events = append(events, segment...)
	}
	return events, nil
}

func readSegment(path string) ([]schema.AuditEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []schema.AuditEvent
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event schema.AuditEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
