// Package vad turns local audio into speaking signals for the local
// participant. It is a simple energy heuristic, not a speech model.
package vad

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
)

const (
	pcmBytesPerSample = 2
	pcmMaxAmplitude   = 32768.0
)

// Params tunes the detector. Levels are normalized RMS in [0, 1].
type Params struct {
	SpeechThreshold  float64 // level at or above which a frame counts as speech
	SilenceThreshold float64 // level below which a frame counts as silence
	StartFrames      int     // consecutive speech frames needed to start
	StopFrames       int     // consecutive silence frames needed to stop
}

// DefaultParams suits 16kHz audio delivered in 20ms frames.
func DefaultParams() Params {
	return Params{
		SpeechThreshold:  0.015,
		SilenceThreshold: 0.008,
		StartFrames:      3,
		StopFrames:       30,
	}
}

// Validate checks that the parameters describe a usable hysteresis band.
func (p Params) Validate() error {
	if p.SpeechThreshold <= 0 || p.SpeechThreshold > 1 {
		return errors.New("speech threshold must be in (0, 1]")
	}
	if p.SilenceThreshold < 0 || p.SilenceThreshold > p.SpeechThreshold {
		return errors.New("silence threshold must be in [0, speech threshold]")
	}
	if p.StartFrames < 1 {
		return errors.New("start frames must be at least 1")
	}
	if p.StopFrames < 1 {
		return errors.New("stop frames must be at least 1")
	}
	return nil
}

// Detector is an RMS energy detector with hysteresis so a single loud or
// quiet frame does not flip its state.
type Detector struct {
	params Params

	mu           sync.Mutex
	inSpeech     bool
	speechCount  int
	silenceCount int
	lastLevel    float64
}

// NewDetector creates a Detector with validated parameters.
func NewDetector(params Params) (*Detector, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Detector{params: params}, nil
}

// ProcessPCM feeds one frame of 16-bit little-endian PCM and reports
// whether the detector is in speech afterwards.
func (d *Detector) ProcessPCM(frame []byte) bool {
	return d.ProcessLevel(RMS(frame))
}

// ProcessLevel feeds a pre-computed normalized level, as reported by call
// SDKs that sample audio levels themselves.
func (d *Detector) ProcessLevel(level float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastLevel = level
	if d.inSpeech {
		if level < d.params.SilenceThreshold {
			d.silenceCount++
			if d.silenceCount >= d.params.StopFrames {
				d.inSpeech = false
				d.silenceCount = 0
			}
		} else {
			d.silenceCount = 0
		}
		return d.inSpeech
	}

	if level >= d.params.SpeechThreshold {
		d.speechCount++
		if d.speechCount >= d.params.StartFrames {
			d.inSpeech = true
			d.speechCount = 0
		}
	} else {
		d.speechCount = 0
	}
	return d.inSpeech
}

// Level returns the most recent level fed to the detector.
func (d *Detector) Level() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastLevel
}

// Reset returns the detector to silence.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inSpeech = false
	d.speechCount = 0
	d.silenceCount = 0
	d.lastLevel = 0
}

// RMS computes the normalized root mean square of 16-bit little-endian PCM.
func RMS(frame []byte) float64 {
	n := len(frame) / pcmBytesPerSample
	if n == 0 {
		return 0
	}

	var sumSquares float64
	for i := 0; i < n; i++ {
		// #nosec G115 -- reinterpreting the bits as signed PCM
		sample := int16(binary.LittleEndian.Uint16(frame[i*pcmBytesPerSample:]))
		normalized := float64(sample) / pcmMaxAmplitude
		sumSquares += normalized * normalized
	}
	return math.Sqrt(sumSquares / float64(n))
}
