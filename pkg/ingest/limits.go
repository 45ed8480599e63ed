package ingest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/spectrum"
)

// Per-sample and per-request limits
const (
	MaxSamplesPerRequest = config.MaxSamplesPerRequest
	MaxSessionNameLength = config.MaxSessionNameLength
	MaxReceiverLength    = 64

	// Scans older than this are treated as corrupt timestamps
	maxSampleAge = 50 * 365 * 24 * time.Hour
	maxClockSkew = 24 * time.Hour
)

var (
	// ErrSessionEmpty is returned when a sample has no session name
	ErrSessionEmpty = errors.New("session cannot be empty")

	// ErrSessionTooLong is returned when a session name is too long
	ErrSessionTooLong = fmt.Errorf("session name too long (max %d chars)", MaxSessionNameLength)

	// ErrReceiverEmpty is returned when a sample has no receiver
	ErrReceiverEmpty = errors.New("receiver cannot be empty")

	// ErrReceiverTooLong is returned when a receiver name is too long
	ErrReceiverTooLong = fmt.Errorf("receiver name too long (max %d chars)", MaxReceiverLength)

	// ErrInvalidFrequency is returned for non-finite or non-positive frequencies
	ErrInvalidFrequency = errors.New("frequency must be a positive finite number")

	// ErrInvalidIntensity is returned for NaN or infinite intensities
	ErrInvalidIntensity = errors.New("intensity must be finite")

	// ErrInvalidTimestamp is returned for zero or implausible scan times
	ErrInvalidTimestamp = errors.New("timestamp out of range")

	// ErrTooManySamples is returned when an ingest request contains too many samples
	ErrTooManySamples = fmt.Errorf("too many samples in request (max %d)", MaxSamplesPerRequest)

	// ErrStorageLimit is returned when the data directory is over its size limit
	ErrStorageLimit = errors.New("storage limit exceeded")
)

// ValidateSample checks one sample before it is written
func ValidateSample(s spectrum.Sample, now time.Time) error {
	if s.Session == "" {
		return ErrSessionEmpty
	}
	if len(s.Session) > MaxSessionNameLength {
		return fmt.Errorf("%w: %q has %d chars", ErrSessionTooLong, s.Session[:32], len(s.Session))
	}
	if s.Receiver == "" {
		return fmt.Errorf("%w: session %q", ErrReceiverEmpty, s.Session)
	}
	if len(s.Receiver) > MaxReceiverLength {
		return fmt.Errorf("%w: session %q", ErrReceiverTooLong, s.Session)
	}
	if math.IsNaN(s.Frequency) || math.IsInf(s.Frequency, 0) || s.Frequency <= 0 {
		return fmt.Errorf("%w: got %v in session %q", ErrInvalidFrequency, s.Frequency, s.Session)
	}
	if math.IsNaN(s.Intensity) || math.IsInf(s.Intensity, 0) {
		return fmt.Errorf("%w: got %v in session %q", ErrInvalidIntensity, s.Intensity, s.Session)
	}
	if s.Timestamp.IsZero() || s.Timestamp.Before(now.Add(-maxSampleAge)) || s.Timestamp.After(now.Add(maxClockSkew)) {
		return fmt.Errorf("%w: %s in session %q", ErrInvalidTimestamp, s.Timestamp.Format(time.RFC3339), s.Session)
	}
	return nil
}

// ValidateBatch checks the size of a batch and every sample in it
func ValidateBatch(samples []spectrum.Sample, now time.Time) error {
	if len(samples) > MaxSamplesPerRequest {
		return fmt.Errorf("%w: got %d", ErrTooManySamples, len(samples))
	}
	for i, s := range samples {
		if err := ValidateSample(s, now); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
	}
	return nil
}
