package metadata

import (
	"encoding/xml"
	"errors"
	"testing"

	"github.com/digitalocean/go-libvirt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/corral/internal/errdefs"
)

// mockLibvirtClient keeps the last stored element so Load sees what Store wrote.
type mockLibvirtClient struct {
	setMetadataError error
	getMetadataError error
	stored           string

	lastSetKey       string
	lastSetURI       string
	setMetadataCalls int
	getMetadataCalls int
}

func (m *mockLibvirtClient) DomainSetMetadata(
	dom libvirt.Domain,
	typ int32,
	metadata libvirt.OptString,
	key libvirt.OptString,
	uri libvirt.OptString,
	flags libvirt.DomainModificationImpact,
) error {
	m.setMetadataCalls++
	if m.setMetadataError != nil {
		return m.setMetadataError
	}
	m.stored = ""
	if len(metadata) > 0 {
		m.stored = metadata[0]
	}
	if len(key) > 0 {
		m.lastSetKey = key[0]
	}
	if len(uri) > 0 {
		m.lastSetURI = uri[0]
	}
	return nil
}

func (m *mockLibvirtClient) DomainGetMetadata(
	dom libvirt.Domain,
	typ int32,
	uri libvirt.OptString,
	flags libvirt.DomainModificationImpact,
) (string, error) {
	m.getMetadataCalls++
	if m.getMetadataError != nil {
		return "", m.getMetadataError
	}
	if m.stored == "" {
		return "", errors.New("metadata not found")
	}
	return m.stored, nil
}

func TestStoreAndLoad(t *testing.T) {
	mock := &mockLibvirtClient{}
	payload := []byte("apiVersion: corral.jbweber.dev/v1alpha1\nkind: Domain\nmetadata:\n  name: <web> & co\n")

	require.NoError(t, Store(mock, libvirt.Domain{}, "corral-domain", payload))
	assert.Equal(t, Prefix, mock.lastSetKey)
	assert.Equal(t, Namespace, mock.lastSetURI)

	var el Element
	require.NoError(t, xml.Unmarshal([]byte(mock.stored), &el))
	assert.Equal(t, "corral-domain", el.Key)

	got, err := Load(mock, libvirt.Domain{}, "corral-domain")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestLoad_WrongKey(t *testing.T) {
	mock := &mockLibvirtClient{}
	require.NoError(t, Store(mock, libvirt.Domain{}, "other", []byte("x")))

	_, err := Load(mock, libvirt.Domain{}, "corral-domain")
	require.ErrorIs(t, err, ErrNotOwned)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("libvirt error", func(t *testing.T) {
		mock := &mockLibvirtClient{getMetadataError: errors.New("boom")}
		_, err := Load(mock, libvirt.Domain{}, "k")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get libvirt domain metadata")
	})

	t.Run("malformed xml", func(t *testing.T) {
		mock := &mockLibvirtClient{stored: "<payload"}
		_, err := Load(mock, libvirt.Domain{}, "k")
		require.ErrorIs(t, err, errdefs.ErrMalformedResponse)
		require.ErrorIs(t, err, errdefs.ErrToolstack)
		assert.Contains(t, err.Error(), "unmarshal")
	})
}

func TestStore_Error(t *testing.T) {
	mock := &mockLibvirtClient{setMetadataError: errors.New("read-only")}
	err := Store(mock, libvirt.Domain{}, "k", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, 1, mock.setMetadataCalls)
}

func TestDeleteAndExists(t *testing.T) {
	mock := &mockLibvirtClient{}
	assert.False(t, Exists(mock, libvirt.Domain{}))

	require.NoError(t, Store(mock, libvirt.Domain{}, "k", []byte("x")))
	assert.True(t, Exists(mock, libvirt.Domain{}))

	require.NoError(t, Delete(mock, libvirt.Domain{}))
	assert.False(t, Exists(mock, libvirt.Domain{}))
}
