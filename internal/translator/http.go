package translator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/valpere/doctran/internal/apperr"
)

const defaultTimeout = 120 * time.Second

func newClient(cfg ServiceConfig) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
}

func joinURL(base, tail string) string {
	return strings.TrimRight(base, "/") + tail
}

// transportError classifies a failure that produced no HTTP response.
func transportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &apperr.Error{Kind: apperr.KindTransient, Provider: provider, Msg: "request failed", Err: err}
}

func statusError(provider, model string, rr *resty.Response) error {
	return apperr.FromHTTP(provider, model, rr.StatusCode(), rr.String(), rr.Header().Get("Retry-After"))
}
