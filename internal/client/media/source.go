// Package media owns the locally captured stream: one shared set of outbound
// tracks, reference-counted across all peer sessions and released only when
// no session needs it anymore.
package media

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ErrUnavailable reports that the capture device could not be opened. This is
// fatal to call setup and must be surfaced to the user.
var ErrUnavailable = errors.New("media device unavailable")

// TrackOpener opens the capture device and returns the local tracks.
// Capture backends differ per platform, so the opener is injected.
type TrackOpener func() ([]webrtc.TrackLocal, error)

// TrackCloser releases the capture device behind the tracks. Optional.
type TrackCloser func([]webrtc.TrackLocal)

// Source is the shared local media stream. Sessions Acquire it when they
// attach tracks and Release it on teardown; the device closes at refcount
// zero. Mute toggles flip flags in place, they never renegotiate.
type Source struct {
	mu      sync.Mutex
	open    TrackOpener
	closeFn TrackCloser
	tracks  []webrtc.TrackLocal
	refs    int
	audioOn bool
	videoOn bool
}

func NewSource(open TrackOpener, closeFn TrackCloser) *Source {
	return &Source{open: open, closeFn: closeFn, audioOn: true, videoOn: true}
}

// Acquire opens the device on first use and returns the shared tracks.
// Every successful Acquire must be paired with a Release.
func (s *Source) Acquire() ([]webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracks == nil {
		tracks, err := s.open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		s.tracks = tracks
		log.Info().Str("module", "client.media").Int("tracks", len(tracks)).Msg("local media acquired")
	}
	s.refs++
	return s.tracks, nil
}

// Release drops one reference; the device closes when none remain.
func (s *Source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		return
	}
	s.refs--
	if s.refs == 0 {
		s.closeLocked()
	}
}

// Shutdown closes the device regardless of outstanding references. Used when
// the user ends the whole call.
func (s *Source) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = 0
	s.closeLocked()
}

func (s *Source) closeLocked() {
	if s.tracks == nil {
		return
	}
	if s.closeFn != nil {
		s.closeFn(s.tracks)
	}
	s.tracks = nil
	log.Info().Str("module", "client.media").Msg("local media released")
}

// Live reports whether the device is currently open.
func (s *Source) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracks != nil
}

// SetAudio mutes or unmutes the shared audio tracks for every session.
func (s *Source) SetAudio(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioOn = on
}

// SetVideo mutes or unmutes the shared video tracks for every session.
func (s *Source) SetVideo(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoOn = on
}

// AudioEnabled is consulted by the capture loop before writing samples.
func (s *Source) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioOn
}

func (s *Source) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoOn
}
