package planner

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/nicktill/rfiscope/pkg/httpx"
)

// Form is the plot form as a client submits it, dates still unparsed
type Form struct {
	Receivers []string `json:"receivers"`
	Sessions  []string `json:"sessions,omitempty"`
	Date      string   `json:"date,omitempty"`
	Start     string   `json:"start,omitempty"`
	End       string   `json:"end,omitempty"`
	FreqLow   float64  `json:"freq_low,omitempty"`
	FreqHigh  float64  `json:"freq_high,omitempty"`
}

// Filters parses the dates, reporting the field that failed
func (f Form) Filters() (Filters, error) {
	out := Filters{
		Receivers: f.Receivers,
		Sessions:  f.Sessions,
		FreqLow:   f.FreqLow,
		FreqHigh:  f.FreqHigh,
	}
	var err error
	if out.Date, err = httpx.ParseTime(f.Date); err != nil {
		return Filters{}, fieldError("date", "%v", err)
	}
	if out.Start, err = httpx.ParseTime(f.Start); err != nil {
		return Filters{}, fieldError("start", "%v", err)
	}
	if out.End, err = httpx.ParseTime(f.End); err != nil {
		return Filters{}, fieldError("end", "%v", err)
	}
	return out, nil
}

// FormFromQuery reads a plot form from URL query parameters.
// receivers and sessions may repeat or be comma separated.
func FormFromQuery(q url.Values) (Form, error) {
	form := Form{
		Receivers: httpx.SplitList(q["receivers"]),
		Sessions:  httpx.SplitList(q["sessions"]),
		Date:      q.Get("date"),
		Start:     q.Get("start"),
		End:       q.Get("end"),
	}
	var err error
	if form.FreqLow, err = httpx.ParseFloat(q.Get("freq_low")); err != nil {
		return Form{}, fieldError("freq_low", "%v", err)
	}
	if form.FreqHigh, err = httpx.ParseFloat(q.Get("freq_high")); err != nil {
		return Form{}, fieldError("freq_high", "%v", err)
	}
	return form, nil
}

// StatusCode maps a planning error to an HTTP status and the form field at fault
func StatusCode(err error) (int, string) {
	var fe *FieldError
	switch {
	case errors.As(err, &fe):
		return http.StatusBadRequest, fe.Field
	case errors.Is(err, ErrQueryTooLarge):
		return http.StatusRequestEntityTooLarge, "receivers"
	case errors.Is(err, ErrNoDataInRange):
		return http.StatusNotFound, ""
	default:
		return http.StatusInternalServerError, ""
	}
}

// RespondError writes a planning error in the form error shape
func RespondError(w http.ResponseWriter, err error) {
	status, field := StatusCode(err)
	if field != "" {
		httpx.RespondFieldError(w, status, field, err.Error())
		return
	}
	httpx.RespondError(w, status, err)
}
