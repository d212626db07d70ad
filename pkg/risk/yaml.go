package risk

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type tableFile struct {
	Thresholds []struct {
		Level      string  `yaml:"level"`
		UpperBound float64 `yaml:"upper_bound"`
	} `yaml:"thresholds"`
}

// LoadTable reads a YAML threshold table of the form
//
//	thresholds:
//	  - level: Low
//	    upper_bound: 0.3
//	  - level: Medium
//	    upper_bound: 0.6
//
// and validates it with NewTable.
func LoadTable(r io.Reader) (Table, error) {
	var file tableFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return Table{}, fmt.Errorf("decode risk table: %w", err)
	}

	thresholds := make([]Threshold, 0, len(file.Thresholds))
	for i, entry := range file.Thresholds {
		level, err := ParseLevel(entry.Level)
		if err != nil {
			return Table{}, fmt.Errorf("threshold %d: %w", i, err)
		}
		thresholds = append(thresholds, Threshold{Level: level, UpperBound: entry.UpperBound})
	}

	return NewTable(thresholds...)
}

// LoadTableFile reads a threshold table from path.
func LoadTableFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()

	return LoadTable(f)
}
