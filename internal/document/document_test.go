package document

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAfter_ReturnsLastInsertedIndex(t *testing.T) {
	d := New("A", "B", "C")

	last, err := d.InsertAfter(0, "x", "y")
	require.NoError(t, err)
	assert.Equal(t, 2, last)
	assert.Equal(t, []string{"A", "x", "y", "B", "C"}, d.Texts())

	last, err = d.InsertAfter(-1, "front")
	require.NoError(t, err)
	assert.Equal(t, 0, last)
	assert.Equal(t, "front", d.Text(0))

	_, err = d.InsertAfter(10, "nope")
	assert.Error(t, err)
}

func TestRemoveRange(t *testing.T) {
	d := New("A", "B", "C", "D")
	require.NoError(t, d.RemoveRange(1, 3))
	assert.Equal(t, []string{"A", "D"}, d.Texts())
	assert.Error(t, d.RemoveRange(1, 5))
}

func TestFindExact_UsesTrimmedText(t *testing.T) {
	d := New("  Led QA team  ", "Led QA team", "Led QA teams")
	assert.Equal(t, []int{0, 1}, d.FindExact("Led QA team "))
}

func TestClone_IsIndependent(t *testing.T) {
	d := New("A", "B")
	c := d.Clone()
	_, err := c.InsertAfter(0, "new")
	require.NoError(t, err)

	assert.Equal(t, 2, d.Len())
	assert.Equal(t, 3, c.Len())
	assert.False(t, d.Equal(c))
}

func TestParseRender_RoundTripWithBlankParagraphs(t *testing.T) {
	src := "SUMMARY:\r\nFirst line\n\nSKILLS:\n"
	d := Parse(src)
	require.Equal(t, 4, d.Len())
	assert.Equal(t, "", d.Text(2))
	assert.Equal(t, "SUMMARY:\nFirst line\n\nSKILLS:\n", Render(d))

	for _, orig := range []*Document{
		New("SUMMARY:", "Body", ""),
		New("", "Body", "", ""),
		New(""),
		New(),
	} {
		back := Parse(Render(orig))
		assert.Equal(t, orig.Texts(), back.Texts(), "%q", Render(orig))
	}
	assert.Equal(t, "\n", Render(New("")))
	assert.Equal(t, 1, Parse("\n").Len())
	assert.Equal(t, 0, Parse("").Len())
	assert.Equal(t, []string{"A", "B"}, Parse("A\nB").Texts())
}

func TestParse_LongParagraphIsKept(t *testing.T) {
	long := strings.Repeat("x", 5*1024*1024)
	d := Parse("SUMMARY:\n" + long + "\nSKILLS:\n")
	require.Equal(t, 3, d.Len())
	assert.Equal(t, long, d.Text(1))
	assert.Equal(t, "SKILLS:", d.Text(2))
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "resume.txt")
	d := New("SUMMARY:", "Body")
	require.NoError(t, Save(path, d))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, d.Equal(loaded))
	assert.Equal(t, d.Hash(), loaded.Hash())
}
