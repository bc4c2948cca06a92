package concepts

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLibrary = `
diabetes:
  description: Diabetes mellitus diagnosis
  icd10_codes: [E10, E11, E12, E13, E14]
  condition: "icd10 LIKE 'E1%'"
  tables: [ovstdiag, iptdiag]
sepsis_bundle:
  description: Sepsis care bundle compliance
  bundle_logic: same_visit
  tests: [lactate, blood culture]
  notes: Requires antibiotic order in the same visit.
hba1c:
  description: Glycated hemoglobin lab result
  tests: [HbA1c]
`

func TestLoad(t *testing.T) {
	lib, err := Load(strings.NewReader(testLibrary))
	require.NoError(t, err)

	assert.Equal(t, 3, lib.Len())
	assert.Equal(t, []string{"diabetes", "hba1c", "sepsis_bundle"}, lib.Names())

	c, ok := lib.Get("diabetes")
	require.True(t, ok)
	assert.Equal(t, "diabetes", c.Name)
	assert.Len(t, c.ICD10Codes, 5)
	assert.Equal(t, "icd10 LIKE 'E1%'", c.Condition)

	b, ok := lib.Get("sepsis_bundle")
	require.True(t, ok)
	assert.Equal(t, BundleSameVisit, b.BundleLogic)

	_, ok = lib.Get("nope")
	assert.False(t, ok)
}

func TestLoadRejectsBadBundleLogic(t *testing.T) {
	_, err := Load(strings.NewReader("x:\n  description: d\n  bundle_logic: whenever"))
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	lib, err := Load(strings.NewReader(testLibrary))
	require.NoError(t, err)

	hits := lib.Search("diab")
	require.Len(t, hits, 1)
	assert.Equal(t, "diabetes", hits[0].Name)

	// Description matches too.
	hits = lib.Search("hemoglobin")
	require.Len(t, hits, 1)
	assert.Equal(t, "hba1c", hits[0].Name)

	assert.Empty(t, lib.Search("cardiology"))
}

func TestLoadFileMissingIsEmpty(t *testing.T) {
	lib, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0, lib.Len())
}

func TestSaveRoundTrip(t *testing.T) {
	lib, err := Load(strings.NewReader(testLibrary))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, lib.Save(&buf))

	again, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, lib.Names(), again.Names())

	c, ok := again.Get("sepsis_bundle")
	require.True(t, ok)
	assert.Equal(t, BundleSameVisit, c.BundleLogic)
	assert.Equal(t, "Requires antibiotic order in the same visit.", c.Notes)
}
