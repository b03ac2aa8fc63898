// Package sample manages the active sample pack: its PCM data directory
// and the precomputed frequency-ratio table used to turn a playback
// frequency in Hz into a phase increment without a divide at render time.
package sample

import (
	"encoding/binary"
	"math"

	"github.com/osmium-audio/coretone/internal/coretone/cterr"
	"github.com/osmium-audio/coretone/internal/debug"
	"github.com/osmium-audio/coretone/internal/fixedpoint"
)

const (
	// Magic is the leading identifier every sample pack must carry.
	Magic = "CSMP"

	headerSize = 8  // magic (4) + entry count (4)
	entrySize  = 16 // offset, length, sample frequency, content frequency -- all uint32

	// MaxEntries bounds how many samples a single pack may declare.
	MaxEntries = 256

	// MaxLength bounds the playable length of an individual sample, in
	// frames. Packs are not required to respect it, but a renderer may
	// use it to size scratch buffers.
	MaxLength = 32768
)

var dummy = [4]byte{}

type dirEntry struct {
	offset uint32
	length uint32
}

// Store holds the currently loaded sample pack plus its precomputed
// frequency-ratio table.
type Store struct {
	pack    []byte
	entries []dirEntry
	ratio   []fixedpoint.Q32_32
	logger  *debug.Logger
}

// New creates an empty Store. Until Setup succeeds, Get and CalcPhase
// behave as if no samples are loaded.
func New(logger *debug.Logger) *Store {
	return &Store{logger: logger}
}

// Setup validates and installs pack as the active sample pack, and
// precomputes the frequency ratio Fr = (Sf / (RenderRate * Bf)) * 2 for
// every sample it declares. renderRate is the output sample rate the
// engine renders at.
func (s *Store) Setup(pack []byte, renderRate uint32) error {
	if len(pack) < headerSize || string(pack[:4]) != Magic {
		if s.logger != nil {
			s.logger.LogSample(debug.LogLevelError, "sample pack magic mismatch", nil)
		}
		return cterr.Wrap("sample", cterr.ErrInvalidMagic, "pack header")
	}

	count := binary.LittleEndian.Uint32(pack[4:8])
	if count > MaxEntries {
		if s.logger != nil {
			s.logger.LogSamplef(debug.LogLevelError, "sample pack declares %d entries, max %d", count, MaxEntries)
		}
		return cterr.Wrap("sample", cterr.ErrTooManyEntries, "directory")
	}

	dirEnd := headerSize + int(count)*entrySize
	if len(pack) < dirEnd {
		return cterr.Wrap("sample", cterr.ErrMisaligned, "directory truncated")
	}

	entries := make([]dirEntry, count)
	ratios := make([]fixedpoint.Q32_32, count)

	dRf := float64(renderRate)
	for i := uint32(0); i < count; i++ {
		base := headerSize + int(i)*entrySize
		off := binary.LittleEndian.Uint32(pack[base : base+4])
		length := binary.LittleEndian.Uint32(pack[base+4 : base+8])
		sFreqRaw := binary.LittleEndian.Uint32(pack[base+8 : base+12])
		bFreqRaw := binary.LittleEndian.Uint32(pack[base+12 : base+16])

		entries[i] = dirEntry{offset: off, length: length}

		sFreq := fixedpoint.Q16_16(sFreqRaw)
		bFreq := fixedpoint.Q16_16(bFreqRaw)
		dSf := float64(sFreq.HiSigned()) + float64(sFreq.Lo())/65536.0
		dBf := float64(bFreq.HiSigned()) + float64(bFreq.Lo())/65536.0

		dFr := (dSf / (dRf * dBf)) * 2.0

		whole, frac := math.Modf(dFr)
		ratios[i] = fixedpoint.Q32_32FromParts(int32(whole), uint32(frac*4294967296.0))
	}

	s.pack = pack
	s.entries = entries
	s.ratio = ratios
	return nil
}

// Count returns the number of samples in the currently loaded pack.
func (s *Store) Count() uint32 { return uint32(len(s.entries)) }

// Get fetches the PCM data and length of sample index. Indices outside the
// loaded pack return a silent dummy buffer of length zero rather than an
// error, matching the original's "always hand the caller something safe
// to render" contract.
func (s *Store) Get(index uint32) (data []byte, length uint16) {
	if index < uint32(len(s.entries)) {
		e := s.entries[index]
		return s.pack[e.offset : e.offset+e.length], uint16(e.length)
	}
	return dummy[:], 0
}

// CalcPhase computes the Q16.16 phase increment needed to play sample
// index back at freqHz. Indices outside the loaded pack yield a zero
// increment, which silences the channel without requiring a separate
// range check at the call site.
func (s *Store) CalcPhase(index uint32, freqHz fixedpoint.Q16_16) fixedpoint.Q16_16 {
	if index < uint32(len(s.ratio)) {
		return fixedpoint.PhaseIncrement(freqHz, s.ratio[index])
	}
	return 0
}
