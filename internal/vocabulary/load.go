package vocabulary

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Format identifies a dataset encoding.
type Format string

const (
	FormatJSON       Format = "json"
	FormatYAML       Format = "yaml"
	FormatTabularXML Format = "icd10cm-xml"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".xml":
		return FormatTabularXML, nil
	default:
		return "", fmt.Errorf("unsupported vocabulary file extension %q", filepath.Ext(path))
	}
}

// LoadFile reads and validates the dataset at path.
func LoadFile(path string) (*Store, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, &LoadError{Source: path, Record: -1, Reason: "unknown format", Err: err}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Source: path, Record: -1, Reason: "opening dataset", Err: err}
	}
	defer f.Close()
	return load(f, format, path)
}

// Load reads and validates a dataset from r.
func Load(r io.Reader, format Format) (*Store, error) {
	return load(r, format, string(format))
}

func load(r io.Reader, format Format, source string) (*Store, error) {
	start := time.Now()
	records, err := decodeRecords(r, format)
	if err != nil {
		var re *recordError
		if errors.As(err, &re) {
			return nil, &LoadError{Source: source, Record: re.index, Reason: "malformed record", Err: re.err}
		}
		return nil, &LoadError{Source: source, Record: -1, Reason: "malformed " + string(format) + " dataset", Err: err}
	}
	store, err := NewStore(source, records)
	if err != nil {
		return nil, err
	}
	slog.Default().With("component", "vocabulary").Info("vocabulary loaded",
		"source", source,
		"format", string(format),
		"entries", store.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return store, nil
}

// recordError is a decode failure inside one element of the record array.
type recordError struct {
	index int
	err   error
}

func (e *recordError) Error() string { return fmt.Sprintf("record %d: %v", e.index, e.err) }

// decodeRecords splits the document into its array elements first so a
// field of the wrong type is reported against the record holding it.
func decodeRecords(r io.Reader, format Format) ([]Record, error) {
	switch format {
	case FormatJSON:
		var raw []json.RawMessage
		dec := json.NewDecoder(r)
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		if dec.More() {
			return nil, fmt.Errorf("unexpected data after the record array")
		}
		records := make([]Record, len(raw))
		for i, msg := range raw {
			if err := json.Unmarshal(msg, &records[i]); err != nil {
				return nil, &recordError{index: i, err: err}
			}
		}
		return records, nil
	case FormatYAML:
		var nodes []yaml.Node
		if err := yaml.NewDecoder(r).Decode(&nodes); err != nil && err != io.EOF {
			return nil, err
		}
		records := make([]Record, len(nodes))
		for i := range nodes {
			if err := nodes[i].Decode(&records[i]); err != nil {
				return nil, &recordError{index: i, err: err}
			}
		}
		return records, nil
	case FormatTabularXML:
		return decodeTabular(r)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}
