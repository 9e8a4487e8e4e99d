package container

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "nsmgr/internal/errors"
	"nsmgr/internal/puppet"
)

func TestRoundTrip(t *testing.T) {
	creds := []puppet.Credential{
		{Name: "Alpha", Password: "p1"},
		{Name: "Beta", Password: "p2"},
		{Name: "Alpha", Password: "dup with, comma"},
		{Name: "Ünïcødé nation", Password: ""},
	}

	data, err := Encode(creds, "hunter2")
	require.NoError(t, err)
	require.Greater(t, len(data), IVSize)
	assert.Zero(t, (len(data)-IVSize)%16)

	got, err := Decode(data, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}

func TestRoundTripInvalidUTF8(t *testing.T) {
	creds := []puppet.Credential{
		{Name: "Alpha", Password: "p\xff\xfeq"},
		{Name: "Lat\xe9n", Password: "caf\xe9"},
	}

	data, err := Encode(creds, "secret")
	require.NoError(t, err)

	got, err := Decode(data, "secret")
	require.NoError(t, err)
	require.Equal(t, creds, got)
	assert.Len(t, got[0].Password, 4)
}

func TestRoundTripEmptyList(t *testing.T) {
	data, err := Encode(nil, "pw")
	require.NoError(t, err)

	got, err := Decode(data, "pw")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEncodeUsesFreshIV(t *testing.T) {
	creds := []puppet.Credential{{Name: "Alpha", Password: "p1"}}
	a, err := Encode(creds, "pw")
	require.NoError(t, err)
	b, err := Encode(creds, "pw")
	require.NoError(t, err)

	assert.False(t, bytes.Equal(a[:IVSize], b[:IVSize]))
}

func TestWrongPassword(t *testing.T) {
	creds := []puppet.Credential{{Name: "Alpha", Password: "p1"}}
	data, err := Encode(creds, "secret")
	require.NoError(t, err)

	_, err = Decode(data, "Secret")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrDecryption))
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := Encode([]puppet.Credential{{Name: "A", Password: "b"}}, "pw")
	require.NoError(t, err)

	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"shorter than iv", make([]byte, 15)},
		{"iv only", make([]byte, IVSize)},
		{"unaligned", valid[:len(valid)-1]},
		{"trailing byte", append(append([]byte{}, valid...), 0)},
		{"flipped last block", flipLast(valid)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data, "pw")
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrDecryption), "got %v", err)
		})
	}
}

func TestEmptyPassword(t *testing.T) {
	_, err := Encode([]puppet.Credential{{Name: "A", Password: "b"}}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConfig))
	assert.True(t, errors.Is(err, ErrEmptyPassword))

	_, err = Decode(make([]byte, 32), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyPassword))
}

// A store saved and re-opened with the same password yields the same names
// in the same order.
func TestSaveOpenPreservesOrder(t *testing.T) {
	store := puppet.NewStore()
	store.Add(puppet.Credential{Name: "Alpha", Password: "p1"})
	store.Add(puppet.Credential{Name: "Beta", Password: "p2"})

	data, err := Encode(store.Credentials(), "x")
	require.NoError(t, err)

	got, err := Decode(data, "x")
	require.NoError(t, err)
	reopened := puppet.FromCredentials(got)

	var names []string
	for _, e := range reopened.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"Alpha", "Beta"}, names)
}

func TestPKCS7(t *testing.T) {
	for n := 0; n <= 32; n++ {
		in := bytes.Repeat([]byte{'a'}, n)
		padded := pkcs7Pad(in, 16)
		require.Zero(t, len(padded)%16)
		require.Greater(t, len(padded), n)

		out, err := pkcs7Unpad(padded, 16)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}

	_, err := pkcs7Unpad(bytes.Repeat([]byte{0}, 16), 16)
	assert.Error(t, err)
	_, err = pkcs7Unpad(append(bytes.Repeat([]byte{1}, 14), 3, 2), 16)
	assert.Error(t, err)
}

func TestSchemaRejectsForeignPayload(t *testing.T) {
	_, err := parsePayload([]byte(`{"format":"other","version":1,"entries":[]}`))
	assert.Error(t, err)
	_, err = parsePayload([]byte(`{"format":"nsmgr.puppets","version":3,"entries":[]}`))
	assert.Error(t, err)
	_, err = parsePayload([]byte(`{"format":"nsmgr.puppets","version":1,"entries":[{"name":"a"}]}`))
	assert.Error(t, err)
	_, err = parsePayload([]byte(`{"format":"nsmgr.puppets","version":2,"entries":[{"name":"not base64!","password":""}]}`))
	assert.Error(t, err)

	p, err := parsePayload([]byte(`{"format":"nsmgr.puppets","version":2,"entries":[{"name":"YQ==","password":"Yg=="}]}`))
	require.NoError(t, err)
	assert.Equal(t, []puppet.Credential{{Name: "a", Password: "b"}}, p.Entries)
}

func TestDecodeVersionOnePayload(t *testing.T) {
	p, err := parsePayload([]byte(`{"format":"nsmgr.puppets","version":1,"entries":[{"name":"a","password":"b"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Version)
	assert.Equal(t, []puppet.Credential{{Name: "a", Password: "b"}}, p.Entries)
}

func flipLast(b []byte) []byte {
	out := append([]byte{}, b...)
	out[len(out)-1] ^= 0xff
	return out
}
