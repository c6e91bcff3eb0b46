package devkit

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-order-hub/core"
	"github.com/goliatone/go-order-hub/transport"
)

type TransportScript struct {
	Response transport.Response
	Err      error
}

// FakeTransport replays scripted downstream responses and captures requests.
// Once the script is exhausted the last entry repeats.
type FakeTransport struct {
	mu       sync.Mutex
	scripts  []TransportScript
	requests []transport.Request
}

func NewFakeTransport(scripts ...TransportScript) *FakeTransport {
	return &FakeTransport{scripts: append([]TransportScript(nil), scripts...)}
}

func (a *FakeTransport) Do(_ context.Context, req transport.Request) (transport.Response, error) {
	if a == nil {
		return transport.Response{}, fmt.Errorf("devkit: fake transport is nil")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests = append(a.requests, cloneTransportRequest(req))
	index := len(a.requests) - 1
	if index < len(a.scripts) {
		script := a.scripts[index]
		return cloneTransportResponse(script.Response), script.Err
	}
	if len(a.scripts) > 0 {
		last := a.scripts[len(a.scripts)-1]
		return cloneTransportResponse(last.Response), last.Err
	}
	return transport.Response{
		StatusCode: 201,
		Headers:    map[string]string{},
		Body:       []byte(`{"orderId":"ord_fake"}`),
	}, nil
}

func (a *FakeTransport) Requests() []transport.Request {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]transport.Request, 0, len(a.requests))
	for _, item := range a.requests {
		out = append(out, cloneTransportRequest(item))
	}
	return out
}

// ForwardScript is one scripted Forward outcome.
type ForwardScript = core.ForwardResult

// FakeForwarder implements core.Forwarder without a network hop.
type FakeForwarder struct {
	mu      sync.Mutex
	scripts []ForwardScript
	orders  []core.UnifiedOrder
}

func NewFakeForwarder(scripts ...ForwardScript) *FakeForwarder {
	return &FakeForwarder{scripts: append([]ForwardScript(nil), scripts...)}
}

func (f *FakeForwarder) Forward(_ context.Context, order core.UnifiedOrder) core.ForwardResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	order.Items = append([]core.OrderItem(nil), order.Items...)
	f.orders = append(f.orders, order)
	index := len(f.orders) - 1
	if index < len(f.scripts) {
		return f.scripts[index]
	}
	if len(f.scripts) > 0 {
		return f.scripts[len(f.scripts)-1]
	}
	return core.ForwardResult{Success: true, DownstreamOrderID: fmt.Sprintf("ord_%d", index+1), StatusCode: 201}
}

func (f *FakeForwarder) Orders() []core.UnifiedOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.UnifiedOrder(nil), f.orders...)
}

func (f *FakeForwarder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

// Transient returns a retryable downstream failure script.
func Transient(status int) ForwardScript {
	return ForwardScript{
		Retryable:  true,
		StatusCode: status,
		Err:        core.NewHubError(core.ErrorDownstreamTransient, fmt.Sprintf("downstream returned %d", status), nil),
	}
}

// Rejected returns a non-retryable downstream failure script.
func Rejected(status int) ForwardScript {
	return ForwardScript{
		StatusCode: status,
		Err:        core.NewHubError(core.ErrorDownstreamRejected, fmt.Sprintf("downstream returned %d", status), nil),
	}
}

// Accepted returns a successful downstream script.
func Accepted(downstreamOrderID string) ForwardScript {
	return ForwardScript{Success: true, DownstreamOrderID: downstreamOrderID, StatusCode: 201}
}

func cloneTransportRequest(in transport.Request) transport.Request {
	out := in
	out.Headers = map[string]string{}
	out.Body = append([]byte(nil), in.Body...)
	for key, value := range in.Headers {
		out.Headers[key] = value
	}
	return out
}

func cloneTransportResponse(in transport.Response) transport.Response {
	out := in
	out.Headers = map[string]string{}
	out.Body = append([]byte(nil), in.Body...)
	for key, value := range in.Headers {
		out.Headers[key] = value
	}
	return out
}

var _ core.Forwarder = (*FakeForwarder)(nil)
