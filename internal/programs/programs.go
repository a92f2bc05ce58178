// Package programs reads the list of roster sites to track.
package programs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/rostertrack/internal/tracker"
)

// Load reads the program list at path.
func Load(path string) ([]tracker.Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open program list: %w", err)
	}
	defer f.Close()
	programs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return programs, nil
}

// Parse reads CSV rows of base_url, placement_url and an optional display_name.
// A row whose only field holds space-separated URLs is read as base_url then placement_url.
// Blank lines and lines starting with # are skipped.
func Parse(r io.Reader) ([]tracker.Program, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var programs []tracker.Program
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read program list: %w", err)
		}
		line, _ := reader.FieldPos(0)
		p, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if p.BaseURL == "" {
			continue
		}
		programs = append(programs, p)
	}
	return programs, nil
}

func parseRecord(record []string) (tracker.Program, error) {
	fields := make([]string, 0, len(record))
	for _, f := range record {
		fields = append(fields, strings.TrimSpace(f))
	}
	if len(fields) == 1 {
		fields = strings.Fields(fields[0])
	}
	if len(fields) > 0 && fields[0] == "" && strings.Join(fields, "") != "" {
		return tracker.Program{}, errors.New("missing base_url")
	}
	switch len(fields) {
	case 0:
		return tracker.Program{}, nil
	case 1:
		return tracker.Program{BaseURL: fields[0]}, nil
	case 2:
		return tracker.Program{BaseURL: fields[0], PlacementURL: fields[1]}, nil
	case 3:
		return tracker.Program{BaseURL: fields[0], PlacementURL: fields[1], DisplayName: fields[2]}, nil
	default:
		return tracker.Program{}, fmt.Errorf("expected at most 3 fields, got %d", len(fields))
	}
}
