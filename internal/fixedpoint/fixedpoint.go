// Package fixedpoint implements the signed fixed-point number formats the
// synthesizer core uses in place of floating point: Q8.8 for volume
// scalars, Q16.16 for phase and frequency values, and Q32.32 for the
// precomputed sample/render frequency ratio.
//
// Every format is backed by a plain Go integer (int16/int32/int64) rather
// than the hi/lo union the original C implementation used -- the high and
// low halves are recovered with shifts and masks instead, since a Go union
// has no equivalent that is both portable and endianness-independent.
package fixedpoint

// Q8_8 is a signed 8.8 fixed-point value: the high byte is the whole part,
// the low byte the fractional part. It doubles as the plain int8*int8->int16
// "take the high byte" scale calculation the renderer and music decoder use
// for volume/panning multiplies, which is not fixed-point arithmetic in the
// strict sense but shares the same bit layout.
type Q8_8 int16

// Q8_8FromParts builds a Q8.8 value from an explicit whole/fractional byte
// pair, matching the byte order the patch VOLUME opcode fills in.
func Q8_8FromParts(whole int8, frac uint8) Q8_8 {
	return Q8_8(int16(whole)<<8 | int16(frac))
}

// Hi returns the whole (high byte) part of q.
func (q Q8_8) Hi() int8 { return int8(q >> 8) }

// Lo returns the fractional (low byte) part of q.
func (q Q8_8) Lo() uint8 { return uint8(q) }

// MulHi8 multiplies two plain signed bytes and returns the high byte of the
// 16-bit product -- the scale-factor calculation channel rendering and
// music volume recalculation both use (`scale.sWhole = main*pan;
// scale.sWhole = scale.cPair.cHi`).
func MulHi8(a, b int8) int8 {
	return Q8_8(int16(a) * int16(b)).Hi()
}

// MulHi8Predoubled is MulHi8 with the product doubled before the high byte
// is taken, used by the music decoder's panning recalculation to avoid a
// post-multiply shift later.
func MulHi8Predoubled(a, b int8) int8 {
	return Q8_8(int16(a)*int16(b) << 1).Hi()
}

// Q16_16 is a signed 16.16 fixed-point value: the high 16 bits are the
// whole part, the low 16 bits the fractional part. Phase accumulators,
// phase increments, and frequencies in Hz are all represented this way.
type Q16_16 int32

// Q16_16FromParts builds a Q16.16 value from a whole/fractional pair.
func Q16_16FromParts(whole int16, frac uint16) Q16_16 {
	return Q16_16(int32(whole)<<16 | int32(frac))
}

// HiSigned returns the signed high half of q, used to test the direction of
// a phase increment (negative means the waveform plays backward).
func (q Q16_16) HiSigned() int16 { return int16(q >> 16) }

// HiUnsigned returns the unsigned high half of q, used to index sample data
// and to test a phase accumulator against an unsigned sample length --
// a phase that has gone negative wraps to a large unsigned value here,
// which is what lets a single unsigned comparison catch both directions
// of overshoot.
func (q Q16_16) HiUnsigned() uint16 { return uint16(uint32(q) >> 16) }

// Lo returns the fractional (low 16 bits) part of q.
func (q Q16_16) Lo() uint16 { return uint16(uint32(q)) }

// Q32_32 is a signed 32.32 fixed-point value: the high 32 bits are the
// whole part, the low 32 bits the fractional part. Used only for the
// precomputed, predoubled sample/render frequency ratio table.
type Q32_32 int64

// Q32_32FromParts builds a Q32.32 value from a whole/fractional pair.
func Q32_32FromParts(whole int32, frac uint32) Q32_32 {
	return Q32_32(int64(whole)<<32 | int64(frac))
}

// Hi returns the whole (high 32 bits) part of r.
func (r Q32_32) Hi() int32 { return int32(r >> 32) }

// Lo returns the fractional (low 32 bits) part of r.
func (r Q32_32) Lo() uint32 { return uint32(r) }

// PhaseIncrement computes the Q16.16 phase increment for a playback
// frequency freqHz given a sample's precomputed Q32.32 frequency ratio.
//
// This is a mixed-precision multiply: the 32-bit frequency is sign-
// extended to 64 bits and multiplied against the full 64-bit ratio,
// truncating to 64 bits of product (matching the original's 64x64->64
// unsigned multiply on a sign-extended frequency); the high 32 bits of
// that truncated product are the resulting Q16.16 phase increment. The
// ratio has already been predoubled during setup so no further shift is
// needed here.
func PhaseIncrement(freqHz Q16_16, ratio Q32_32) Q16_16 {
	product := uint64(int64(freqHz)) * uint64(ratio)
	return Q16_16(uint32(product >> 32))
}
