package processor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/JosineyJr/paydispatch/pkg/payments"
	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
)

var json = jsoniter.ConfigFastest

const (
	paymentsPath = "/payments"
	healthPath   = "/payments/service-health"
)

// Client talks to a single processor.
type Client interface {
	ID() payments.ProcessorID
	Submit(ctx context.Context, p payments.Payment) error
	HealthCheck(ctx context.Context) (payments.ServiceHealthPayload, error)
}

type HTTPClient struct {
	id          payments.ProcessorID
	paymentsURL string
	healthURL   string
	timeout     time.Duration
	client      *fasthttp.Client
}

func NewHTTPClient(id payments.ProcessorID, baseURL string, timeout time.Duration) *HTTPClient {
	base := strings.TrimRight(baseURL, "/")
	return &HTTPClient{
		id:          id,
		paymentsURL: base + paymentsPath,
		healthURL:   base + healthPath,
		timeout:     timeout,
		client: &fasthttp.Client{
			Name:                     "paydispatch",
			MaxConnsPerHost:          512,
			MaxIdleConnDuration:      30 * time.Second,
			NoDefaultUserAgentHeader: true,
		},
	}
}

func (c *HTTPClient) ID() payments.ProcessorID {
	return c.id
}

func (c *HTTPClient) Submit(ctx context.Context, p payments.Payment) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.paymentsURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBodyRaw(body)

	if err := c.do(ctx, req, resp); err != nil {
		return err
	}

	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		return nil
	}
	return statusError(c.id, status)
}

func (c *HTTPClient) HealthCheck(ctx context.Context) (payments.ServiceHealthPayload, error) {
	var payload payments.ServiceHealthPayload

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.healthURL)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := c.do(ctx, req, resp); err != nil {
		return payload, err
	}

	if status := resp.StatusCode(); status != fasthttp.StatusOK {
		e := statusError(c.id, status)
		if e.Kind == KindRejected {
			e.Kind = KindServer
		}
		return payload, e
	}

	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return payload, &Error{Processor: c.id, Kind: KindMalformed, StatusCode: fasthttp.StatusOK, Err: err}
	}
	return payload, nil
}

func (c *HTTPClient) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if err := ctx.Err(); err != nil {
		return &Error{Processor: c.id, Kind: KindTimeout, Err: err}
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	err := c.client.DoDeadline(req, resp, deadline)
	if err == nil {
		return nil
	}
	if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout) {
		return &Error{Processor: c.id, Kind: KindTimeout, Err: err}
	}
	return &Error{Processor: c.id, Kind: KindTransport, Err: err}
}
