package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoxID(t *testing.T) {
	box := &Box{Value: 100, CreationHeight: 5, Script: []byte{0xde, 0xad}}
	same := &Box{Value: 100, CreationHeight: 5, Script: []byte{0xde, 0xad}}
	assert.Equal(t, box.ID(), same.ID())

	// Any field change must move the identifier
	assert.NotEqual(t, box.ID(), (&Box{Value: 101, CreationHeight: 5, Script: []byte{0xde, 0xad}}).ID())
	assert.NotEqual(t, box.ID(), (&Box{Value: 100, CreationHeight: 6, Script: []byte{0xde, 0xad}}).ID())
	assert.NotEqual(t, box.ID(), (&Box{Value: 100, CreationHeight: 5, Script: []byte{0xde, 0xae}}).ID())
}

func TestParseBox(t *testing.T) {
	box := &Box{Value: 42, CreationHeight: 7, Script: []byte("lock")}

	parsed, err := ParseBox(box.Bytes())
	require.NoError(t, err)
	assert.Equal(t, box, parsed)
	assert.Equal(t, box.ID(), parsed.ID())

	noScript := &Box{Value: 1, CreationHeight: 0}
	parsed, err = ParseBox(noScript.Bytes())
	require.NoError(t, err)
	assert.Equal(t, noScript, parsed)
}

func TestParseBoxMalformed(t *testing.T) {
	box := &Box{Value: 42, CreationHeight: 7, Script: []byte("lock")}
	enc := box.Bytes()

	_, err := ParseBox(enc[:len(enc)-1])
	assert.ErrorIs(t, err, ErrMalformedBox)

	_, err = ParseBox(append(enc, 0x00))
	assert.ErrorIs(t, err, ErrMalformedBox)

	_, err = ParseBox(nil)
	assert.ErrorIs(t, err, ErrMalformedBox)
}
