package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/nicktill/rfiscope/pkg/spectrum"
)

// Matches reports whether a sample passes every filter of the request
func (req QueryRequest) Matches(s spectrum.Sample) bool {
	if len(req.Sessions) > 0 && !contains(req.Sessions, s.Session) {
		return false
	}
	if len(req.Receivers) > 0 && !contains(req.Receivers, s.Receiver) {
		return false
	}
	if !req.Start.IsZero() && s.Timestamp.Before(req.Start) {
		return false
	}
	if !req.End.IsZero() && s.Timestamp.After(req.End) {
		return false
	}
	if !req.InFrequency(s.Frequency) {
		return false
	}
	return s.Tiers&req.Tiers == req.Tiers
}

// InFrequency reports whether f lies within the requested frequency range
func (req QueryRequest) InFrequency(f float64) bool {
	if req.FreqLow != 0 && f < req.FreqLow {
		return false
	}
	if req.FreqHigh != 0 && f > req.FreqHigh {
		return false
	}
	return true
}

// SessionFilter narrows a request down to the sessions it can touch
func (req QueryRequest) SessionFilter() SessionFilter {
	return SessionFilter{
		Names:     req.Sessions,
		Receivers: req.Receivers,
		Start:     req.Start,
		End:       req.End,
	}
}

// Matches reports whether session metadata passes the filter
func (f SessionFilter) Matches(info SessionInfo) bool {
	if len(f.Names) > 0 && !contains(f.Names, info.Name) {
		return false
	}
	if len(f.Receivers) > 0 && !contains(f.Receivers, info.Receiver) {
		return false
	}
	if !f.Start.IsZero() && info.End.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && info.Start.After(f.End) {
		return false
	}
	return true
}

// Covers reports whether every session row falls inside the time window
func (f SessionFilter) Covers(info SessionInfo) bool {
	if !f.Start.IsZero() && info.Start.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && info.End.After(f.End) {
		return false
	}
	return true
}

// Observe folds a sample into session metadata
func (s *SessionInfo) Observe(sample spectrum.Sample, now time.Time) {
	if s.Rows == 0 {
		s.Name = sample.Session
		s.Receiver = sample.Receiver
		s.Start, s.End = sample.Timestamp, sample.Timestamp
		s.FreqMin, s.FreqMax = sample.Frequency, sample.Frequency
	}
	if sample.Timestamp.Before(s.Start) {
		s.Start = sample.Timestamp
	}
	if sample.Timestamp.After(s.End) {
		s.End = sample.Timestamp
	}
	if sample.Frequency < s.FreqMin {
		s.FreqMin = sample.Frequency
	}
	if sample.Frequency > s.FreqMax {
		s.FreqMax = sample.Frequency
	}
	s.Rows++
	s.ModifiedAt = now
}

// Observe folds a sample into the summary
func (s *Summary) Observe(sample spectrum.Sample) {
	if s.Count == 0 {
		s.FreqMin, s.FreqMax = sample.Frequency, sample.Frequency
		s.Start, s.End = sample.Timestamp, sample.Timestamp
	}
	if sample.Frequency < s.FreqMin {
		s.FreqMin = sample.Frequency
	}
	if sample.Frequency > s.FreqMax {
		s.FreqMax = sample.Frequency
	}
	if sample.Timestamp.Before(s.Start) {
		s.Start = sample.Timestamp
	}
	if sample.Timestamp.After(s.End) {
		s.End = sample.Timestamp
	}
	s.Count++
}

// SortSessions orders sessions by start time, then name
func SortSessions(sessions []SessionInfo) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].Start.Equal(sessions[j].Start) {
			return sessions[i].Start.Before(sessions[j].Start)
		}
		return sessions[i].Name < sessions[j].Name
	})
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// CheckReceivers fails when a batch would record two receivers for one session.
// known maps existing session names to their receiver and is updated in place.
func CheckReceivers(known map[string]string, samples []spectrum.Sample) error {
	for _, sample := range samples {
		receiver, ok := known[sample.Session]
		if !ok {
			known[sample.Session] = sample.Receiver
			continue
		}
		if receiver != sample.Receiver {
			return fmt.Errorf("%w: %s", ErrReceiverMismatch, sample.Session)
		}
	}
	return nil
}
