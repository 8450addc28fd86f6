package headings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type tableFile struct {
	Schema   string             `json:"schema" yaml:"schema"`
	Families map[string]*Family `json:"families" yaml:"families"`
}

// LoadTable reads an alias file. JSON and YAML are picked by extension. A missing file yields
// an empty table, which degrades every lookup to the identity mapping.
func LoadTable(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewTable(), nil
	}
	if err != nil {
		return nil, err
	}

	var tf tableFile
	if isYAML(path) {
		err = yaml.Unmarshal(b, &tf)
	} else {
		err = json.Unmarshal(b, &tf)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid alias file %s: %w", path, err)
	}
	if tf.Schema != "" && tf.Schema != SchemaVersion {
		return nil, fmt.Errorf("unsupported alias schema %q in %s", tf.Schema, path)
	}

	t := NewTable()
	for name, fam := range tf.Families {
		if fam == nil {
			continue
		}
		t.Families[name] = fam
	}
	return t, nil
}

// SaveTable writes the table atomically (temp file + rename).
func SaveTable(path string, t *Table) error {
	tf := tableFile{Schema: SchemaVersion, Families: t.Families}
	var (
		b   []byte
		err error
	)
	if isYAML(path) {
		b, err = yaml.Marshal(tf)
	} else {
		b, err = json.MarshalIndent(tf, "", "  ")
		b = append(b, '\n')
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// A family entry is a flat object: reserved keys carry the major headings and the subsection
// table, every other key is a canonical section name.

func (f *Family) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*f = Family{Subsections: map[string][]string{}, Sections: map[string][]string{}}
	for key, val := range raw {
		switch key {
		case majorHeadingsKey:
			if err := json.Unmarshal(val, &f.MajorHeadings); err != nil {
				return fmt.Errorf("%s: %w", majorHeadingsKey, err)
			}
		case subsectionsKey:
			if err := json.Unmarshal(val, &f.Subsections); err != nil {
				return fmt.Errorf("%s: %w", subsectionsKey, err)
			}
		default:
			var variants []string
			if err := json.Unmarshal(val, &variants); err != nil {
				return fmt.Errorf("section %q: %w", key, err)
			}
			f.Sections[key] = variants
		}
	}
	return nil
}

func (f *Family) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.flatten())
}

func (f *Family) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*f = Family{Subsections: map[string][]string{}, Sections: map[string][]string{}}
	for key, val := range raw {
		switch key {
		case majorHeadingsKey:
			if err := val.Decode(&f.MajorHeadings); err != nil {
				return fmt.Errorf("%s: %w", majorHeadingsKey, err)
			}
		case subsectionsKey:
			if err := val.Decode(&f.Subsections); err != nil {
				return fmt.Errorf("%s: %w", subsectionsKey, err)
			}
		default:
			var variants []string
			if err := val.Decode(&variants); err != nil {
				return fmt.Errorf("section %q: %w", key, err)
			}
			f.Sections[key] = variants
		}
	}
	return nil
}

func (f *Family) MarshalYAML() (any, error) {
	return f.flatten(), nil
}

func (f *Family) flatten() map[string]any {
	out := make(map[string]any, len(f.Sections)+2)
	if len(f.MajorHeadings) > 0 {
		out[majorHeadingsKey] = f.MajorHeadings
	}
	if len(f.Subsections) > 0 {
		out[subsectionsKey] = f.Subsections
	}
	for k, v := range f.Sections {
		out[k] = v
	}
	return out
}
