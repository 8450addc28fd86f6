// Package approval records which proposal numbers a reviewer approved.
package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"docpatch/internal/fault"
)

const SchemaVersion = "rf_approvals_v1"

var validate = validator.New()

// Set is the persisted approval record. ApprovedChangeNumbers is authoritative and ordered.
type Set struct {
	Schema                string `json:"schema" validate:"required,eq=rf_approvals_v1"`
	ApprovedAtUTC         string `json:"approved_at_utc" validate:"required"`
	Family                string `json:"family,omitempty"`
	ProposalsPath         string `json:"proposals_path,omitempty"`
	ExistingChangeNumbers []int  `json:"existing_change_numbers" validate:"dive,gte=0"`
	ApprovedChangeNumbers []int  `json:"approved_change_numbers" validate:"dive,gte=0"`
	ApprovedCount         int    `json:"approved_count" validate:"gte=0"`
}

// Validate runs the struct-level checks.
func (s *Set) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fault.Schema(map[string]any{"cause": err.Error()}, "invalid approval set")
	}
	return nil
}

// Selection is a parsed --approve argument.
type Selection struct {
	All     bool
	Numbers []int
}

// ParseApproveArg accepts "1,3", "all", "0" or "". Numbers come back unique and sorted;
// "0" and "" select nothing.
func ParseApproveArg(arg string) (Selection, error) {
	s := strings.ToLower(strings.TrimSpace(arg))
	switch s {
	case "all":
		return Selection{All: true}, nil
	case "", "0":
		return Selection{Numbers: []int{}}, nil
	}

	seen := make(map[int]bool)
	out := []int{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || strings.HasPrefix(part, "+") {
			return Selection{}, fault.Schema(map[string]any{"token": part},
				"invalid approve token (expected comma-separated ints, or 'all', or '0')")
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return Selection{Numbers: out}, nil
}

// Resolve turns a selection into approved numbers given the numbers present in the proposal
// text. Requesting a number that does not exist is an error.
func Resolve(sel Selection, existing []int) ([]int, error) {
	if sel.All {
		out := append([]int{}, existing...)
		sort.Ints(out)
		return out, nil
	}
	present := make(map[int]bool, len(existing))
	for _, n := range existing {
		present[n] = true
	}
	var missing []int
	for _, n := range sel.Numbers {
		if !present[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return nil, fault.Schema(map[string]any{"missing": missing, "existing": existing},
			"requested approvals not found in proposals")
	}
	return append([]int{}, sel.Numbers...), nil
}

// Record parses arg against existing and builds a new approval set stamped with at.
func Record(arg string, existing []int, family, proposalsPath string, at time.Time) (*Set, error) {
	sel, err := ParseApproveArg(arg)
	if err != nil {
		return nil, err
	}
	approved, err := Resolve(sel, existing)
	if err != nil {
		return nil, err
	}
	return &Set{
		Schema:                SchemaVersion,
		ApprovedAtUTC:         at.UTC().Format(time.RFC3339),
		Family:                family,
		ProposalsPath:         proposalsPath,
		ExistingChangeNumbers: append([]int{}, existing...),
		ApprovedChangeNumbers: approved,
		ApprovedCount:         len(approved),
	}, nil
}

// Load reads an approval set. approved_change_numbers must be present and be a list.
func Load(path string) (*Set, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read approvals: %w", err)
	}
	return Unmarshal(b)
}

func Unmarshal(b []byte) (*Set, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fault.Schema(map[string]any{"cause": err.Error()}, "invalid approvals JSON")
	}
	list := strings.TrimSpace(string(raw["approved_change_numbers"]))
	if !strings.HasPrefix(list, "[") {
		return nil, fault.Schema(nil, "approvals missing approved_change_numbers list")
	}

	var s Set
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fault.Schema(map[string]any{"cause": err.Error()}, "invalid approvals JSON")
	}
	return &s, nil
}

// Save writes the set as indented JSON.
func Save(path string, s *Set) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0644)
}
