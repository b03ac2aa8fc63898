package instrument

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmium-audio/coretone/internal/coretone/cterr"
)

func buildPack(entries [][3]uint32, data []byte) []byte {
	buf := make([]byte, headerSize+len(entries)*entrySize)
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(entries)))
	for i, e := range entries {
		base := headerSize + i*entrySize
		binary.LittleEndian.PutUint32(buf[base:base+4], e[0])
		binary.LittleEndian.PutUint32(buf[base+4:base+8], e[1])
		binary.LittleEndian.PutUint32(buf[base+8:base+12], e[2])
	}
	return append(buf, data...)
}

func TestSetupValidPack(t *testing.T) {
	scriptOff := uint32(headerSize + 1*entrySize)
	script := []byte{0, 1, 2}
	pack := buildPack([][3]uint32{{0, scriptOff, 1}}, script)

	s := New()
	require.NoError(t, s.Setup(pack))
	assert.Equal(t, uint32(1), s.Count())
}

func TestSetupInvalidMagic(t *testing.T) {
	s := New()
	err := s.Setup([]byte("NOPE\x00\x00\x00\x00"))
	assert.ErrorIs(t, err, cterr.ErrInvalidMagic)
}

func TestSetupBuildsA440NoteTable(t *testing.T) {
	pack := buildPack(nil, nil)
	s := New()
	require.NoError(t, s.Setup(pack))

	// MIDI note 69 is A440 exactly.
	assert.Equal(t, int16(440), s.NoteFreqs[69].HiSigned())
	assert.Equal(t, uint16(0), s.NoteFreqs[69].Lo())

	// Note 57 (A3) should be exactly half of A440.
	assert.Equal(t, int16(220), s.NoteFreqs[57].HiSigned())
}

func TestScriptOutOfRange(t *testing.T) {
	s := New()
	_, _, _, ok := s.Script(0)
	assert.False(t, ok)
}

func TestScriptInRange(t *testing.T) {
	scriptOff := uint32(headerSize + 1*entrySize)
	script := []byte{9, 9, 9}
	pack := buildPack([][3]uint32{{3, scriptOff, 2}}, script)

	s := New()
	require.NoError(t, s.Setup(pack))

	got, noteOff, sampleID, ok := s.Script(0)
	require.True(t, ok)
	assert.Equal(t, script, got)
	assert.Equal(t, uint32(2), noteOff)
	assert.Equal(t, uint32(3), sampleID)
}
