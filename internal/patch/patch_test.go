package patch

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"docpatch/internal/fault"
	"docpatch/internal/headings"
	"docpatch/internal/proposal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int) *int { return &n }

func qaTable() *headings.Table {
	t := headings.NewTable()
	t.Families["qa_automation"] = &headings.Family{
		MajorHeadings: []string{"PROFESSIONAL SUMMARY:", "TECHNICAL SKILL:", "PROFESSIONAL EXPERIENCE:"},
		Subsections:   map[string][]string{"ROLES_AND_RESPONSIBILITIES": {"Roles and Responsibilities:"}},
		Sections: map[string][]string{
			"SUMMARY":           {"PROFESSIONAL SUMMARY:"},
			"CORE COMPETENCIES": {"TECHNICAL SKILL:"},
		},
	}
	return t
}

var template = []string{"PROFESSIONAL SUMMARY:", "TECHNICAL SKILL:", "PROFESSIONAL EXPERIENCE:"}

func proposals() map[int]proposal.Record {
	return map[int]proposal.Record{
		1: {Num: 1, Section: "SUMMARY", Change: "replace_section", ToParagraphs: []string{" a ", "", "b"}},
		2: {Num: 2, Section: "PROFESSIONAL EXPERIENCE", Change: "ADD", Subsection: "ROLES_AND_RESPONSIBILITIES", ToText: "Built suites."},
		3: {Num: 3, Section: "technical skill", Change: " delete ", FromText: " Manual testing "},
		4: {Num: 4, Section: "SUMMARY", Change: "ADD", ToText: "x"},
	}
}

func TestCompile_PreservesApprovalOrderAndNormalizes(t *testing.T) {
	recs, err := Compile(proposals(), []int{3, 1, 2}, qaTable(), "qa_automation", Options{TemplateHeadings: template})
	require.NoError(t, err)
	require.Equal(t, []int{3, 1, 2}, Numbers(recs))

	assert.Equal(t, Delete{Num: 3, Section: "TECHNICAL SKILL:", FromText: "Manual testing"}, recs[0])
	assert.Equal(t, ReplaceSection{Num: 1, Section: "PROFESSIONAL SUMMARY:", Paragraphs: []string{"a", "b"}}, recs[1])
	assert.Equal(t, Add{Num: 2, Section: "PROFESSIONAL EXPERIENCE:", Subsection: "ROLES_AND_RESPONSIBILITIES", Occurrence: 1, Text: "Built suites."}, recs[2])
}

func TestCompile_MissingApprovedNumber(t *testing.T) {
	_, err := Compile(proposals(), []int{1, 9}, qaTable(), "qa_automation", Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrConsistency))
}

func TestCompile_SchemaFailures(t *testing.T) {
	cases := map[string]proposal.Record{
		"bad change":         {Num: 1, Section: "S", Change: "MOVE", ToText: "x"},
		"missing section":    {Num: 1, Change: "ADD", ToText: "x"},
		"add without to":     {Num: 1, Section: "S", Change: "ADD"},
		"replace empty":      {Num: 1, Section: "S", Change: "REPLACE_SECTION", ToParagraphs: []string{" ", ""}},
		"replace no to":      {Num: 1, Section: "S", Change: "REPLACE_SECTION"},
		"delete no from":     {Num: 1, Section: "S", Change: "DELETE"},
		"zero occurrence":    {Num: 1, Section: "S", Change: "ADD", Subsection: "R", SubsectionOccurrence: intp(0), ToText: "x"},
		"negative occurence": {Num: 1, Section: "S", Change: "ADD", Subsection: "R", SubsectionOccurrence: intp(-1), ToText: "x"},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(map[int]proposal.Record{1: p}, []int{1}, qaTable(), "qa_automation", Options{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, fault.ErrSchema), err.Error())
		})
	}
}

func TestCompile_ReplaceFromSingleText(t *testing.T) {
	recs, err := Compile(map[int]proposal.Record{
		5: {Num: 5, Section: "SUMMARY", Change: "REPLACE_SECTION", ToText: " one line "},
	}, []int{5}, qaTable(), "qa_automation", Options{})
	require.NoError(t, err)
	assert.Equal(t, ReplaceSection{Num: 5, Section: "SUMMARY", Paragraphs: []string{"one line"}}, recs[0])
}

func TestCompile_PlaceholderBan(t *testing.T) {
	props := map[int]proposal.Record{
		1: {Num: 1, Section: "SUMMARY", Change: "ADD", ToText: "Led [PROPOSED: team size] engineers"},
		2: {Num: 2, Section: "SUMMARY", Change: "ADD", ToText: "TODO later"},
	}
	_, err := Compile(props, []int{1}, qaTable(), "qa_automation", Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrPolicy))

	_, err = Compile(props, []int{2}, qaTable(), "qa_automation", Options{})
	require.NoError(t, err)

	_, err = Compile(props, []int{2}, qaTable(), "qa_automation", Options{BannedMarkers: []string{"TODO"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrPolicy))
}

func TestCompile_EmptyApprovals(t *testing.T) {
	recs, err := Compile(proposals(), nil, qaTable(), "qa_automation", Options{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMarshalUnmarshal(t *testing.T) {
	recs, err := Compile(proposals(), []int{1, 2, 3}, qaTable(), "qa_automation", Options{TemplateHeadings: template})
	require.NoError(t, err)
	set := NewSet("qa_automation", []int{1, 2, 3}, recs, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))

	b, err := Marshal(set)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"schema": "rf_patches_v1"`)
	assert.Contains(t, string(b), `"subsection_occurrence": 1`)

	back, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, set, back)
}

func TestUnmarshal_UnknownOp(t *testing.T) {
	_, err := Unmarshal([]byte(`{"schema":"rf_patches_v1","approved_change_numbers":[1],"patches":[{"num":1,"op":"MOVE","section":"S"}]}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrSchema))
}

func TestSaveLoad(t *testing.T) {
	set := NewSet("f", []int{1}, []Record{Delete{Num: 1, Section: "S", FromText: "x"}}, time.Now())
	path := filepath.Join(t.TempDir(), "patches.json")
	require.NoError(t, Save(path, set))

	loaded, raw, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Equal(t, set.Patches, loaded.Patches)
}
