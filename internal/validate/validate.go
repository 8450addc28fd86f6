// Package validate cross-checks a compiled patch set against the approval set before anything
// touches a document.
package validate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"docpatch/internal/approval"
	"docpatch/internal/fault"
	"docpatch/internal/patch"
)

//go:embed patches.schema.json
var patchesSchema string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("patches.schema.json", patchesSchema)
	})
	return compiledSchema, schemaErr
}

// PatchSet validates an in-memory set by checking its wire form.
func PatchSet(set *patch.Set, approvals *approval.Set, banned []string) error {
	raw, err := patch.Marshal(set)
	if err != nil {
		return fmt.Errorf("marshal patch set: %w", err)
	}
	_, err = Document(raw, approvals, banned)
	return err
}

// Document validates a patch set file's bytes against approvals (which are checked first) and
// returns the decoded set. banned defaults to patch.DefaultBannedMarkers when nil.
func Document(raw []byte, approvals *approval.Set, banned []string) (*patch.Set, error) {
	if err := Approvals(approvals); err != nil {
		return nil, err
	}
	if banned == nil {
		banned = patch.DefaultBannedMarkers
	}

	var head struct {
		Schema string `json:"schema"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fault.Schema(map[string]any{"cause": err.Error()}, "invalid patch set JSON")
	}
	if head.Schema != patch.SchemaVersion {
		return nil, fault.Schema(map[string]any{"schema": head.Schema}, "invalid patches schema")
	}

	if err := checkSchema(raw); err != nil {
		return nil, err
	}

	set, err := patch.Unmarshal(raw)
	if err != nil {
		return nil, err
	}

	want := approvals.ApprovedChangeNumbers
	if !sameOrder(set.ApprovedChangeNumbers, want) {
		return nil, fault.Consistency(map[string]any{
			"approved":           want,
			"patch_set_approved": set.ApprovedChangeNumbers,
		}, "patch set approved_change_numbers differ from approvals")
	}
	nums := patch.Numbers(set.Patches)
	if !sameOrder(nums, want) {
		return nil, fault.Consistency(map[string]any{
			"approved": want,
			"patches":  nums,
		}, "mismatch between approved_change_numbers and patches nums")
	}

	for _, rec := range set.Patches {
		if err := patch.Check(rec, banned); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func checkSchema(raw []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return fmt.Errorf("compile patch set schema: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fault.Schema(map[string]any{"cause": err.Error()}, "invalid patch set JSON")
	}
	if err := schema.Validate(v); err != nil {
		return fault.Schema(map[string]any{"cause": err.Error()}, "patch set schema validation failed")
	}
	return nil
}

// Approvals checks an approval set on its own: struct rules, a matching count and no
// repeated numbers.
func Approvals(a *approval.Set) error {
	if a == nil {
		return fault.Schema(nil, "approval set is required")
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if a.ApprovedCount != len(a.ApprovedChangeNumbers) {
		return fault.Consistency(map[string]any{
			"approved_count": a.ApprovedCount,
			"listed":         len(a.ApprovedChangeNumbers),
		}, "approved_count does not match approved_change_numbers")
	}
	seen := make(map[int]bool, len(a.ApprovedChangeNumbers))
	for _, n := range a.ApprovedChangeNumbers {
		if seen[n] {
			return fault.Consistency(map[string]any{"num": n}, "approved change number listed twice")
		}
		seen[n] = true
	}
	return nil
}

func sameOrder(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
