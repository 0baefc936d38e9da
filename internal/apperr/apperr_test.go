package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestFromHTTP(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		model      string
		body       string
		retryAfter string
		want       Kind
		wantDelay  time.Duration
	}{
		{"rate limited", 429, "gpt-4o-mini", "slow down", "2", KindTransient, 2 * time.Second},
		{"unavailable", 503, "gpt-4o-mini", "", "", KindTransient, 0},
		{"server error", 502, "gpt-4o-mini", "", "", KindTransient, 0},
		{"auth", 401, "gpt-4o-mini", "invalid key", "", KindTerminal, 0},
		{"forbidden", 403, "gpt-4o-mini", "", "", KindTerminal, 0},
		{"image on text model", 400, "gpt-3.5-turbo", "image_url is not supported", "", KindVisionUnsupported, 0},
		{"image on vision model", 400, "gpt-4o", "image_url is invalid", "", KindTerminal, 0},
		{"bad request", 400, "gpt-3.5-turbo", "bad json", "", KindTerminal, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromHTTP("openai", tt.model, tt.status, tt.body, tt.retryAfter)
			if err.Kind != tt.want {
				t.Errorf("expected %s, got %s", tt.want, err.Kind)
			}
			if err.RetryAfter != tt.wantDelay {
				t.Errorf("expected retry-after %v, got %v", tt.wantDelay, err.RetryAfter)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(fmt.Errorf("call: %w", New(KindContract, "length"))); got != KindContract {
		t.Errorf("expected wrapped kind to survive, got %s", got)
	}
	if got := KindOf(context.DeadlineExceeded); got != KindTransient {
		t.Errorf("expected deadline to be transient, got %s", got)
	}
	if got := KindOf(errors.New("boom")); got != KindTerminal {
		t.Errorf("expected plain error to be terminal, got %s", got)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("expected empty kind for nil, got %s", got)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(New(KindTransient, "x")) {
		t.Error("transient should be retryable")
	}
	if Retryable(New(KindVisionUnsupported, "x")) {
		t.Error("vision unsupported should not be retryable")
	}
	if Retryable(context.Canceled) {
		t.Error("cancellation should not be retryable")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := ParseRetryAfter("1.5"); got != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", got)
	}
	if got := ParseRetryAfter("nonsense"); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
	future := time.Now().Add(10 * time.Second).UTC().Format(time.RFC1123)
	future = future[:len(future)-3] + "GMT"
	if got := ParseRetryAfter(future); got <= 0 || got > 11*time.Second {
		t.Errorf("expected positive delay up to 11s, got %v", got)
	}
}
