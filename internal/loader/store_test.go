package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/corral/api/v1alpha1"
)

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "domains"))
	require.NoError(t, s.Ensure())

	a := validDomain()
	a.Name = "alpha"
	b := validDomain()
	b.Name = "bravo"
	b.Status.Persistent = true

	require.NoError(t, s.Save(b))
	require.NoError(t, s.Save(a))

	loaded, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "alpha", loaded[0].Name)
	assert.Equal(t, "bravo", loaded[1].Name)
	assert.Equal(t, b.UID, loaded[1].UID)
	assert.True(t, loaded[1].Status.Persistent)

	require.NoError(t, s.Delete(a))
	require.NoError(t, s.Delete(a), "deleting twice is fine")

	loaded, err = s.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}

func TestStoreLoadAllSkipsBadFiles(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Save(validDomain()))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir, "broken.yaml"), []byte("{{{"), 0644))

	misnamed := validDomain()
	misnamed.Name = "other"
	require.NoError(t, SaveToFile(misnamed, filepath.Join(s.Dir, "renamed.yaml")))

	loaded, err := s.LoadAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
	assert.Contains(t, err.Error(), "renamed.yaml")
	require.Len(t, loaded, 1)
	assert.Equal(t, "web", loaded[0].Name)
}

func TestStoreLoadAllMissingDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope"))
	loaded, err := s.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestStoreSerializeParse(t *testing.T) {
	s := NewStore(t.TempDir())
	d := validDomain()

	data, err := s.Serialize(d)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kind: Domain")

	parsed, err := s.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, d.UID, parsed.UID)
	assert.Equal(t, d.Spec, parsed.Spec)

	_, err = s.Parse([]byte("kind: Domain\n"))
	require.Error(t, err)
}

func TestStoreSaveFailsWithoutDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing"))
	err := s.Save(v1alpha1.NewDomain("web"))
	require.Error(t, err)
}
