package documents

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrMalformed is returned when a document is not a JSON object.
var ErrMalformed = errors.New("malformed document")

// ProviderDocument is the provider credentials/routing document. Only the
// credential list, the requester base URL and the active model are ever
// edited; every other field keeps its value and position.
type ProviderDocument struct {
	raw []byte
}

// NewProviderDocument returns an empty provider document.
func NewProviderDocument() *ProviderDocument {
	return &ProviderDocument{raw: []byte("{}")}
}

// ParseProvider parses a provider document.
func ParseProvider(data []byte) (*ProviderDocument, error) {
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return nil, ErrMalformed
	}
	raw := make([]byte, len(data))
	copy(raw, data)
	return &ProviderDocument{raw: raw}, nil
}

// LoadProvider reads and parses the provider document at path. A missing file
// yields an error matching fs.ErrNotExist.
func LoadProvider(path string) (*ProviderDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := ParseProvider(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// Credentials returns keys.<key> in order.
func (d *ProviderDocument) Credentials(key string) []string {
	res := gjson.GetBytes(d.raw, joinPath("keys", key))
	if !res.IsArray() {
		return nil
	}
	var out []string
	for _, v := range res.Array() {
		out = append(out, v.String())
	}
	return out
}

// BaseURL returns requester.<kind>.base-url.
func (d *ProviderDocument) BaseURL(kind string) string {
	return gjson.GetBytes(d.raw, joinPath("requester", kind, "base-url")).String()
}

// Model returns the active model reference.
func (d *ProviderDocument) Model() string {
	return gjson.GetBytes(d.raw, "model").String()
}

// SetCredentials replaces keys.<key> with creds.
func (d *ProviderDocument) SetCredentials(key string, creds []string) error {
	if creds == nil {
		creds = []string{}
	}
	return d.set(creds, "keys", key)
}

// SetBaseURL sets requester.<kind>.base-url.
func (d *ProviderDocument) SetBaseURL(kind, url string) error {
	return d.set(url, "requester", kind, "base-url")
}

// SetModel sets the active model reference.
func (d *ProviderDocument) SetModel(model string) error {
	return d.set(model, "model")
}

// Bytes returns the document formatted for writing.
func (d *ProviderDocument) Bytes() []byte {
	return format(d.raw)
}

// set assigns value at the nested path. Missing parents are created as empty
// objects, and parents holding a non-object value are replaced by one.
func (d *ProviderDocument) set(value any, parts ...string) error {
	raw := d.raw
	for i := 1; i < len(parts); i++ {
		parent := joinPath(parts[:i]...)
		if res := gjson.GetBytes(raw, parent); res.Exists() && !res.IsObject() {
			var err error
			if raw, err = sjson.SetRawBytes(raw, parent, []byte("{}")); err != nil {
				return fmt.Errorf("reset %s: %w", parent, err)
			}
		}
	}

	path := joinPath(parts...)
	raw, err := sjson.SetBytes(raw, path, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	d.raw = raw
	return nil
}

var pathEscaper = strings.NewReplacer(`\`, `\\`, `.`, `\.`, `*`, `\*`, `?`, `\?`)

// joinPath builds a gjson/sjson path from literal keys.
func joinPath(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = pathEscaper.Replace(p)
	}
	return strings.Join(escaped, ".")
}

// format pretty-prints raw with a four space indent, keeping key order and
// non-ASCII text as is.
func format(raw []byte) []byte {
	out := []byte(gjson.GetBytes(raw, `@pretty:{"indent":"    "}`).Raw)
	if len(out) == 0 {
		out = append([]byte(nil), raw...)
	}
	if out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out
}
