// Package apperr defines the error kinds shared by the translation pipeline.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindConfig              Kind = "config_error"
	KindTransient           Kind = "provider_transient"
	KindTerminal            Kind = "provider_terminal"
	KindContract            Kind = "contract_violation"
	KindLanguageMismatch    Kind = "language_mismatch"
	KindVisionUnsupported   Kind = "vision_unsupported"
	KindDataQualityRejected Kind = "data_quality_rejected"
)

// Error is a classified pipeline failure.
type Error struct {
	Kind       Kind
	Provider   string
	Status     int
	RetryAfter time.Duration
	Detected   map[string]int
	Msg        string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Provider != "" {
		b.WriteString(" [")
		b.WriteString(e.Provider)
		if e.Status != 0 {
			b.WriteString(" ")
			b.WriteString(strconv.Itoa(e.Status))
		}
		b.WriteString("]")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf classifies err. Unclassified errors are terminal, except deadlines
// and network timeouts which are transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransient
	}
	return KindTerminal
}

// Retryable reports whether another attempt of the same call may succeed.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindTransient, KindContract:
		return true
	}
	return false
}

// RetryAfterOf returns the server-requested delay carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}

// FromHTTP classifies a non-2xx provider response.
func FromHTTP(provider, model string, status int, body, retryAfter string) *Error {
	e := &Error{Provider: provider, Status: status, Msg: truncate(body, 300)}
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout,
		status == http.StatusServiceUnavailable, status >= 500:
		e.Kind = KindTransient
		e.RetryAfter = ParseRetryAfter(retryAfter)
	case status == http.StatusBadRequest && mentionsImage(body) && TextOnlyModel(model):
		e.Kind = KindVisionUnsupported
	default:
		e.Kind = KindTerminal
	}
	return e
}

// ParseRetryAfter accepts delta-seconds or an HTTP date.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func mentionsImage(body string) bool {
	b := strings.ToLower(body)
	return strings.Contains(b, "image") || strings.Contains(b, "vision") || strings.Contains(b, "multimodal")
}

var textOnlyMarkers = []string{
	"gpt-3.5", "text-davinci", "llama2", "llama3:", "mistral", "qwen2:", "gemma:", "deepseek-r1", "phi3",
}

// TextOnlyModel reports whether model is known not to accept image input.
func TextOnlyModel(model string) bool {
	m := strings.ToLower(model)
	for _, marker := range textOnlyMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
