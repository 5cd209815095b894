package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPTransport posts notices synchronously. It makes exactly one attempt.
type HTTPTransport struct {
	client *resty.Client
}

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPTransport{
		client: resty.New().SetTimeout(timeout),
	}
}

func (t *HTTPTransport) Kind() Kind {
	return KindHTTP
}

// Deliver returns the status of any response the service sends.
func (t *HTTPTransport) Deliver(ctx context.Context, req Request) (Outcome, error) {
	response, err := t.client.R().
		SetContext(ctx).
		SetHeaders(req.Headers).
		SetBody(req.Body).
		Post(req.URL)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to post notice: %w", err)
	}

	return Delivered(response.StatusCode()), nil
}
