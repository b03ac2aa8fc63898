// Package instrument manages the active instrument pack: its patch-script
// directory and the 128-entry MIDI note frequency table instruments key
// notes against.
package instrument

import (
	"encoding/binary"
	"math"

	"github.com/osmium-audio/coretone/internal/coretone/cterr"
	"github.com/osmium-audio/coretone/internal/fixedpoint"
)

const (
	// Magic is the leading identifier every instrument pack must carry.
	Magic = "CINS"

	headerSize = 8  // magic (4) + entry count (4)
	entrySize  = 12 // sample id, script offset, note-off offset -- all uint32

	// NoteCount is the size of the MIDI-tuned note frequency table.
	NoteCount = 128

	// NoteInvalid tags a track's last dispatched note when nothing is
	// currently playing.
	NoteInvalid = 0x80
)

type dirEntry struct {
	sample  uint32
	script  uint32
	noteOff uint32
}

// Store holds the currently loaded instrument pack and the note frequency
// table it was set up against.
type Store struct {
	pack    []byte
	entries []dirEntry

	// NoteFreqs holds the Q16.16 frequency in Hz for each of the 128 MIDI
	// notes, tuned to A440: F(n) = 2^((n-69)/12) * 440.
	NoteFreqs [NoteCount]fixedpoint.Q16_16
}

// New creates an empty Store. Until Setup succeeds, Entry lookups behave
// as if no instruments are loaded.
func New() *Store {
	return &Store{}
}

// Setup validates and installs pack as the active instrument pack, and
// (re)builds the note frequency table. The table does not depend on the
// pack contents; it is recomputed here because that is when the original
// implementation built it, not because the inputs ever change.
func (s *Store) Setup(pack []byte) error {
	if len(pack) < headerSize || string(pack[:4]) != Magic {
		return cterr.Wrap("instrument", cterr.ErrInvalidMagic, "pack header")
	}

	count := binary.LittleEndian.Uint32(pack[4:8])
	dirEnd := headerSize + int(count)*entrySize
	if len(pack) < dirEnd {
		return cterr.Wrap("instrument", cterr.ErrMisaligned, "directory truncated")
	}

	entries := make([]dirEntry, count)
	for i := uint32(0); i < count; i++ {
		base := headerSize + int(i)*entrySize
		entries[i] = dirEntry{
			sample:  binary.LittleEndian.Uint32(pack[base : base+4]),
			script:  binary.LittleEndian.Uint32(pack[base+4 : base+8]),
			noteOff: binary.LittleEndian.Uint32(pack[base+8 : base+12]),
		}
	}

	for n := 0; n < NoteCount; n++ {
		freq := math.Pow(2.0, (float64(n)-69.0)/12.0) * 440.0
		whole, frac := math.Modf(freq)
		s.NoteFreqs[n] = fixedpoint.Q16_16FromParts(int16(whole), uint16(frac*65536.0))
	}

	s.pack = pack
	s.entries = entries
	return nil
}

// Count returns the number of instruments in the currently loaded pack.
func (s *Store) Count() uint32 { return uint32(len(s.entries)) }

// Script returns the patch script for instrument index, and the offset
// within that script its note-off section begins at.
func (s *Store) Script(index uint32) (script []byte, noteOff uint32, sampleID uint32, ok bool) {
	if index >= uint32(len(s.entries)) {
		return nil, 0, 0, false
	}
	e := s.entries[index]
	return s.pack[e.script:], e.noteOff, e.sample, true
}
