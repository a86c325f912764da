package documents

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tjfontaine/polyglot-keyconf/internal/core/domain"
)

// Reasons a registry was started from an empty list.
const (
	ResetAbsent    = "absent"
	ResetMalformed = "malformed"
)

// Registry is the model registry document. Records are kept as raw JSON so
// that records this package does not manage are written back unchanged.
type Registry struct {
	raw     []byte
	records []string

	// Reset is ResetAbsent or ResetMalformed when the registry could not be
	// used as loaded and was started from an empty list.
	Reset string
}

// ParseRegistry parses a registry document. A document that is not a JSON
// object yields an empty registry with Reset set; a `list` that is not an
// array is treated as empty while the other top-level keys are kept.
func ParseRegistry(data []byte) *Registry {
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return &Registry{raw: []byte("{}"), Reset: ResetMalformed}
	}

	r := &Registry{raw: append([]byte(nil), data...)}
	list := gjson.GetBytes(data, "list")
	if list.Exists() && !list.IsArray() {
		r.Reset = ResetMalformed
		return r
	}
	for _, rec := range list.Array() {
		r.records = append(r.records, rec.Raw)
	}
	return r
}

// LoadRegistry reads the registry at path. A missing file yields an empty
// registry; other read errors are returned.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Registry{raw: []byte("{}"), Reset: ResetAbsent}, nil
		}
		return nil, err
	}
	return ParseRegistry(data), nil
}

// Len returns the number of records.
func (r *Registry) Len() int {
	return len(r.records)
}

// DisplayNames returns the display name of every record in order.
func (r *Registry) DisplayNames() []string {
	names := make([]string, len(r.records))
	for i, rec := range r.records {
		names[i] = displayName(rec)
	}
	return names
}

// Records decodes every record. Records that do not decode are returned as
// zero values.
func (r *Registry) Records() []domain.ModelRecord {
	out := make([]domain.ModelRecord, len(r.records))
	for i, rec := range r.records {
		_ = json.Unmarshal([]byte(rec), &out[i])
	}
	return out
}

// AddManaged makes sure a managed record for modelName exists. Records whose
// display name starts with "<namespace>/" are moved ahead of all other
// records, each group keeping its relative order. A new record is placed at
// the front of the managed group. existed reports whether a managed record
// with the same display name was already present, in which case the managed
// group is left unchanged.
func (r *Registry) AddManaged(namespace, modelName string) (rec domain.ModelRecord, existed bool, err error) {
	prefix := namespace + "/"
	rec = domain.ModelRecord{
		ModelName:         modelName,
		DisplayName:       prefix + modelName,
		ToolCallSupported: true,
		VisionSupported:   true,
	}

	var managed, other []string
	for _, raw := range r.records {
		name := displayName(raw)
		if strings.HasPrefix(name, prefix) {
			if name == rec.DisplayName {
				existed = true
			}
			managed = append(managed, raw)
		} else {
			other = append(other, raw)
		}
	}

	if !existed {
		encoded, err := json.Marshal(rec)
		if err != nil {
			return rec, false, fmt.Errorf("encode record: %w", err)
		}
		managed = append([]string{string(encoded)}, managed...)
	}

	r.records = append(managed, other...)
	return rec, existed, nil
}

// Bytes returns the document with the current record list, formatted for
// writing.
func (r *Registry) Bytes() ([]byte, error) {
	list := "[" + strings.Join(r.records, ",") + "]"
	raw, err := sjson.SetRawBytes(r.raw, "list", []byte(list))
	if err != nil {
		return nil, fmt.Errorf("set list: %w", err)
	}
	return format(raw), nil
}

func displayName(raw string) string {
	return gjson.Get(raw, "name").String()
}
