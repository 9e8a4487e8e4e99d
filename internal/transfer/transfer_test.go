package transfer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "nsmgr/internal/errors"
	"nsmgr/internal/puppet"
)

var sample = []puppet.Credential{
	{Name: "Alpha", Password: "p1"},
	{Name: "Beta Land", Password: "with,comma"},
	{Name: "Alpha", Password: `quote"d`},
}

func TestCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sample, Options{Format: FormatCSV}))

	got, err := Decode(&buf, Options{Format: FormatCSV})
	require.NoError(t, err)
	assert.Equal(t, sample, got)
}

func TestCSVReadsPlainLines(t *testing.T) {
	in := "Alpha,p1\n\nBeta,pa,ss\n  Gamma ,p3\n"
	got, err := Decode(strings.NewReader(in), Options{})
	require.NoError(t, err)
	assert.Equal(t, []puppet.Credential{
		{Name: "Alpha", Password: "p1"},
		{Name: "Beta", Password: "pa,ss"},
		{Name: "Gamma", Password: "p3"},
	}, got)
}

func TestCSVRejectsMissingPassword(t *testing.T) {
	_, err := Decode(strings.NewReader("Alpha,p1\nBeta\n"), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestYAMLRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sample, Options{Format: FormatYAML}))
	assert.Contains(t, buf.String(), "name: Alpha")

	got, err := Decode(&buf, Options{Format: FormatYAML})
	require.NoError(t, err)
	assert.Equal(t, sample, got)
}

func TestYAMLEmpty(t *testing.T) {
	got, err := Decode(strings.NewReader(""), Options{Format: FormatYAML})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Decode(strings.NewReader("- password: x\n"), Options{Format: FormatYAML})
	assert.Error(t, err)
}

func TestAgeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "keys", "export.agekey")
	recipient, err := GenerateIdentity(keyPath, false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(recipient, "age1"))

	_, err = GenerateIdentity(keyPath, false)
	assert.Error(t, err, "existing key must not be overwritten")

	for _, format := range []Format{FormatCSV, FormatYAML} {
		t.Run(format.String(), func(t *testing.T) {
			path := filepath.Join(dir, "puppets."+format.String()+".age")
			require.NoError(t, Export(path, sample, Options{Format: format, Recipients: []string{recipient}}))

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(raw, []byte(ageHeader)))
			assert.NotContains(t, string(raw), "Alpha")

			_, err = Import(path, Options{Format: format})
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrTransfer))

			got, err := Import(path, Options{Format: format, IdentityFile: keyPath})
			require.NoError(t, err)
			assert.Equal(t, sample, got)
		})
	}
}

func TestEncodeRejectsBadRecipient(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, sample, Options{Recipients: []string{"not-a-key"}})
	assert.Error(t, err)
}

func TestImportMissingFile(t *testing.T) {
	_, err := Import(filepath.Join(t.TempDir(), "missing.csv"), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrFileIO))
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("list.YML"))
	assert.Equal(t, FormatYAML, FormatFromPath("list.yaml.age"))
	assert.Equal(t, FormatCSV, FormatFromPath("list.txt"))

	f, err := ParseFormat("yaml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
