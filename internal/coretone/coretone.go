// Package coretone is the engine root: the fixed-size channel/patch/track
// state, the three bounded command queues, and the per-tick Update that
// ties every other package in this module together.
package coretone

import (
	"errors"

	"github.com/osmium-audio/coretone/internal/coretone/channel"
	"github.com/osmium-audio/coretone/internal/coretone/cterr"
	"github.com/osmium-audio/coretone/internal/coretone/instrument"
	"github.com/osmium-audio/coretone/internal/coretone/music"
	"github.com/osmium-audio/coretone/internal/coretone/patch"
	"github.com/osmium-audio/coretone/internal/coretone/queue"
	"github.com/osmium-audio/coretone/internal/coretone/sample"
	"github.com/osmium-audio/coretone/internal/coretone/voice"
	"github.com/osmium-audio/coretone/internal/debug"
)

// Re-exported error kinds, so callers never need to import cterr directly.
var (
	ErrInvalidMagic   = cterr.ErrInvalidMagic
	ErrMisaligned     = cterr.ErrMisaligned
	ErrTooManyEntries = cterr.ErrTooManyEntries
	ErrNotReady       = cterr.ErrNotReady
)

// Error is the typed error every pack-loading entry point returns.
type Error = cterr.Error

// ErrNotImplemented is returned by the mutex stub methods: real
// synchronization around Update is the host's responsibility.
var ErrNotImplemented = errors.New("coretone: not implemented, provide host synchronization")

// Operating parameters. RenderRate and DecodeRate can be overridden
// through New's options; the others are fixed.
const (
	Channels          = 16
	DefaultVolume     int8 = 127
	RenderRate        = 48000
	DecodeRate        = 240
	SamplesMaxEntries = sample.MaxEntries
	SamplesMaxLength  = sample.MaxLength
	StackDepth        = patch.StackDepth
	QueueDepth        = queue.Depth
	BufferCenter      = channel.BufferCenter
)

type dispatchItem struct {
	sfx               []byte
	priority          int8
	volLeft, volRight int8
}

const (
	actionStopSFX = iota
)

type actionRequest struct {
	action int
	target int8
}

// RenderCallback is invoked once per tick after rendering. Returning false
// uninstalls it.
type RenderCallback func(buffer []int16, renderRate, bufferSamples uint32, paused bool) bool

// Engine bundles every piece of process-wide state: the fixed channel/
// patch/track arrays, the active packs, and the command queues that let
// other goroutines talk to Update without blocking it.
type Engine struct {
	channels [Channels]channel.Channel
	patches  [Channels]patch.Patch
	tracks   [Channels]music.Track

	channelPtrs []*channel.Channel
	patchPtrs   []*patch.Patch
	trackPtrs   []*music.Track

	samples      *sample.Store
	instruments  *instrument.Store
	musicMachine *music.Machine

	musicPending []byte
	musVol       int8
	musPlaying   bool

	musPlayReq, musStopReq, musAttenReq bool
	allStopReq                          bool

	paused bool

	renderCall RenderCallback

	dispatchQueue *queue.Ring[dispatchItem]
	batchQueue    *queue.Ring[dispatchItem]
	reqQueue      *queue.Ring[actionRequest]

	ready bool

	renderRate, decodeRate   uint32
	bufferSamples, bufferLen uint32

	logger *debug.Logger
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithRenderRate overrides RenderRate. decodeRate must still divide it.
func WithRenderRate(rate uint32) Option {
	return func(e *Engine) { e.renderRate = rate }
}

// WithDecodeRate overrides DecodeRate, e.g. so tests can step many ticks
// quickly. Must divide the (possibly also overridden) render rate.
func WithDecodeRate(rate uint32) Option {
	return func(e *Engine) { e.decodeRate = rate }
}

// WithLogger installs a logger. Without one, Engine logs nothing.
func WithLogger(logger *debug.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New builds an Engine with fixed-size, pre-allocated state. It is not
// ready to play anything until Init succeeds.
func New(opts ...Option) *Engine {
	e := &Engine{
		renderRate: RenderRate,
		decodeRate: DecodeRate,
		musVol:     DefaultVolume,
		musAttenReq: true,
	}

	for _, opt := range opts {
		opt(e)
	}
	e.bufferSamples = e.renderRate / e.decodeRate
	e.bufferLen = 2 * e.bufferSamples

	e.channelPtrs = make([]*channel.Channel, Channels)
	e.patchPtrs = make([]*patch.Patch, Channels)
	e.trackPtrs = make([]*music.Track, Channels)

	for i := 0; i < Channels; i++ {
		ch := &e.channels[i]
		ch.Mode = channel.ModeOff

		p := &e.patches[i]
		p.Channel = ch

		t := &e.tracks[i]
		t.Channel = ch
		t.Patch = p
		t.Note = instrument.NoteInvalid

		e.channelPtrs[i] = ch
		e.patchPtrs[i] = p
		e.trackPtrs[i] = t
	}

	e.samples = sample.New(e.logger)
	e.instruments = instrument.New()
	e.musicMachine = music.NewMachine(e.trackPtrs, e.instruments, e.samples)

	e.dispatchQueue = queue.New[dispatchItem](QueueDepth)
	e.batchQueue = queue.New[dispatchItem](QueueDepth)
	e.reqQueue = queue.New[actionRequest](QueueDepth)

	return e
}

// Init validates and installs the sample and instrument packs, the two
// packs every voice depends on regardless of what music or SFX play
// afterward. Both packs are validated even if the first fails, matching
// the original's "always run every setup, OR the failures together"
// sequencing; on any failure the engine is left not-ready.
func (e *Engine) Init(samplePack, instrPack []byte) error {
	sampleErr := e.samples.Setup(samplePack, e.renderRate)
	instrErr := e.instruments.Setup(instrPack)

	if sampleErr != nil {
		e.ready = false
		return sampleErr
	}
	if instrErr != nil {
		e.ready = false
		return instrErr
	}

	e.ready = true
	return nil
}

// Pause silences decoding of all active music and sound effects. Render
// callbacks still run and are told the paused state.
func (e *Engine) Pause() { e.paused = true }

// Resume undoes Pause.
func (e *Engine) Resume() { e.paused = false }

// IsPaused reports the current pause state.
func (e *Engine) IsPaused() bool { return e.paused }

// StopAll halts every channel's music and sound effects on the next
// Update, regardless of priority.
func (e *Engine) StopAll() {
	if e.ready {
		e.allStopReq = true
	}
}

// SetRenderCallback installs (or, with nil, removes) the post-render
// callback.
func (e *Engine) SetRenderCallback(cb RenderCallback) {
	e.renderCall = cb
}

// PlayMusic requests playback of pack on the next Update, pre-stopping
// whatever is currently playing.
func (e *Engine) PlayMusic(pack []byte) {
	if e.ready && pack != nil {
		e.StopMusic()
		e.musicPending = pack
		e.musPlayReq = true
	}
}

// StopMusic requests the currently playing track (if any) cease on the
// next Update.
func (e *Engine) StopMusic() {
	if e.ready {
		e.musStopReq = true
	}
}

// AttenMusic requests a volume change (0 silent, 127 loudest) for the
// currently playing music on the next Update.
func (e *Engine) AttenMusic(vol int8) {
	if e.ready {
		e.musVol = vol
		e.musAttenReq = true
	}
}

// CheckMusic reports whether music is currently playing.
func (e *Engine) CheckMusic() bool {
	if e.ready {
		return e.musPlaying
	}
	return false
}

// GetMood returns the music VM's last SET_MOOD value, zero if no music is
// playing. Unlike the other accessors this one is available even before
// Init, matching the original's unconditional ct_getMood.
func (e *Engine) GetMood() int32 { return e.musicMachine.Mood }

// PlaySFX enqueues sfx for dispatch on the next Update at priority
// (nonzero) with the given panning. Silently dropped if the engine isn't
// ready, priority is zero, sfx is nil, or the dispatch queue is full.
func (e *Engine) PlaySFX(sfx []byte, priority, volLeft, volRight int8) {
	if e.ready && priority != 0 && sfx != nil {
		e.dispatchQueue.Push(dispatchItem{sfx: sfx, priority: priority, volLeft: volLeft, volRight: volRight})
	}
}

// StopSFX requests every sound effect sub-patch at priority cease on the
// next Update.
func (e *Engine) StopSFX(priority int8) {
	if e.ready && priority != 0 {
		e.reqQueue.Push(actionRequest{action: actionStopSFX, target: priority})
	}
}

// AddSFX enqueues sfx into the batch set, for later release via DumpSFX --
// used to synchronize the start of several sound effects.
func (e *Engine) AddSFX(sfx []byte, priority, volLeft, volRight int8) {
	if e.ready && priority != 0 && sfx != nil {
		e.batchQueue.Push(dispatchItem{sfx: sfx, priority: priority, volLeft: volLeft, volRight: volRight})
	}
}

// DumpSFX moves every batched sound effect onto the dispatch queue at
// once.
func (e *Engine) DumpSFX() {
	if !e.ready {
		return
	}
	e.batchQueue.Drain(func(item dispatchItem) {
		e.PlaySFX(item.sfx, item.priority, item.volLeft, item.volRight)
	})
}

// AcquireMutex and ReleaseMutex are stubs: CoreTone expects the host to
// provide real synchronization around Update, exactly as the mutex
// operations this carries forward always reported failure.
func (e *Engine) AcquireMutex() error { return ErrNotImplemented }
func (e *Engine) ReleaseMutex() error { return ErrNotImplemented }

// ChannelState, PatchState, and TrackState are read-only snapshots handed
// out by State, decoupled from engine-owned memory.
type ChannelState = channel.Channel
type PatchState = patch.Patch
type TrackState = music.Track

// State returns copies of the current channel, patch, and track arrays
// for observation only -- mutating the returned slices has no effect on
// the engine.
func (e *Engine) State() (channels []ChannelState, patches []PatchState, tracks []TrackState) {
	channels = make([]ChannelState, Channels)
	patches = make([]PatchState, Channels)
	tracks = make([]TrackState, Channels)

	for i := 0; i < Channels; i++ {
		channels[i] = e.channels[i]
		patches[i] = e.patches[i]
		tracks[i] = e.tracks[i]

		patches[i].Channel = &channels[i]
		tracks[i].Channel = &channels[i]
		tracks[i].Patch = &patches[i]
	}
	return
}

// Info describes the engine's build-time operating parameters.
type Info struct {
	Channels          uint32
	RenderRate        uint32
	DecodeRate        uint32
	SamplesMaxEntries uint32
	SamplesMaxLength  uint32
}

// Info returns the engine's current operating parameters.
func (e *Engine) Info() Info {
	return Info{
		Channels:          Channels,
		RenderRate:        e.renderRate,
		DecodeRate:        e.decodeRate,
		SamplesMaxEntries: SamplesMaxEntries,
		SamplesMaxLength:  SamplesMaxLength,
	}
}

// BufferLen returns the exact number of int16 slots Update writes per
// call: 2 * (RenderRate / DecodeRate) interleaved stereo samples.
func (e *Engine) BufferLen() uint32 { return e.bufferLen }

// Update runs one tick: draining stop/play/atten requests, advancing
// music and patch decoders, dispatching sound effects, and rendering
// exactly BufferLen interleaved stereo samples into buffer. Must be
// called at DecodeRate Hz by the host.
func (e *Engine) Update(buffer []int16) {
	// ---- stops ----
	if e.musStopReq || e.allStopReq {
		for i := 0; i < Channels; i++ {
			e.tracks[i].Priority = 0
			e.tracks[i].Note = instrument.NoteInvalid

			if e.patches[i].Instrument || e.allStopReq {
				e.patches[i].Instrument = false
				e.patches[i].Priority = 0
				e.channels[i].Mode = channel.ModeOff
			}
		}

		e.musPlaying = false
		e.musicMachine.Mood = 0
	}
	e.allStopReq = false
	e.musStopReq = false

	// ---- music dispatch and decode ----
	if e.musPlayReq {
		err := e.musicMachine.Setup(e.musicPending)
		e.musPlaying = err == nil
		e.musicMachine.Mood = 0
		if err != nil && e.logger != nil {
			e.logger.LogMusic(debug.LogLevelWarning, "music setup failed: "+err.Error(), nil)
		}
	}
	e.musPlayReq = false

	if e.musAttenReq {
		for i := 0; i < Channels; i++ {
			e.tracks[i].RecalcVol = true
			e.tracks[i].VolMain = e.musVol
		}
		e.musAttenReq = false
	}

	if e.musPlaying && !e.paused {
		active := 0
		for i := 0; i < Channels; i++ {
			e.musicMachine.Decode(i)
			if e.tracks[i].Priority != 0 {
				active++
			}
		}
		if active == 0 {
			e.musPlaying = false
			e.musicMachine.Mood = 0
		}
	}

	// ---- SFX dispatch queue drain ----
	e.dispatchQueue.Drain(func(item dispatchItem) {
		voice.Dispatch(item.sfx, item.priority, item.volLeft, item.volRight,
			e.channelPtrs, e.patchPtrs, e.trackPtrs, e.samples)
	})

	// ---- action queue drain ----
	e.reqQueue.Drain(func(req actionRequest) {
		switch req.action {
		case actionStopSFX:
			voice.Stop(req.target, e.patchPtrs)
		}
	})

	// ---- patch decode + render ----
	stamped := false
	if !e.paused {
		for i := 0; i < Channels; i++ {
			if e.patches[i].Priority != 0 {
				e.patches[i].Decode()
				e.patches[i].Recalc()
			}

			if e.channels[i].Mode != channel.ModeOff {
				e.channels[i].Render(buffer, !stamped)
				stamped = true
			}
		}
	}

	if !stamped {
		for i := range buffer {
			buffer[i] = BufferCenter
		}
	}

	// ---- post-render callback ----
	if e.renderCall != nil {
		if !e.renderCall(buffer, e.renderRate, e.bufferSamples, e.paused) {
			e.renderCall = nil
		}
	}
}
