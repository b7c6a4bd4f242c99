package iotsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// Client is an asynchronous IoT hub client. Outbound operations hand their
// payload to the native runtime and suspend the caller until the matching
// confirmation arrives; inbound callbacks surface as streams. All methods
// are safe for concurrent use.
type Client struct {
	clientType ClientType
	opts       Options

	registry *operationRegistry
	relay    *callbackRelay
	driver   *doWorkDriver

	handler   atomic.Value // DirectMethodHandler
	closeOnce sync.Once
	dispatch  sync.WaitGroup
}

// FromConnectionString connects as the given identity using a connection
// string. The client type is chosen here at runtime; device, module and
// edge clients share one implementation.
func FromConnectionString(rt Runtime, clientType ClientType, connectionString string, opts Options) (*Client, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	return newClient(rt, ConnectionDescriptor{
		ClientType:       clientType,
		ConnectionString: connectionString,
	}, opts)
}

// FromEdgeEnvironment connects as an edge module using the credentials the
// edge daemon injects into the module environment.
func FromEdgeEnvironment(rt Runtime, opts Options) (*Client, error) {
	return newClient(rt, ConnectionDescriptor{
		ClientType:      ClientTypeEdge,
		FromEnvironment: true,
	}, opts)
}

// FromIdentityService obtains the identity from the local identity service
// and connects with it. The service decides whether this is a device or a
// module identity.
func FromIdentityService(ctx context.Context, rt Runtime, opts Options) (*Client, error) {
	validated, err := opts.Validate()
	if err != nil {
		return nil, err
	}
	ic := NewIdentityClient(IdentityClientConfig{
		BaseURL: validated.IdentityServiceAddr,
		Logger:  validated.Logger,
	})
	info, err := ic.GetIdentity(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	return FromConnectionString(rt, info.ClientType, info.ConnectionString, opts)
}

func newClient(rt Runtime, desc ConnectionDescriptor, opts Options) (*Client, error) {
	opts, err := opts.Validate()
	if err != nil {
		return nil, err
	}

	registry := newOperationRegistry(opts.Logger, opts.Clock)
	relay := newCallbackRelay(registry, opts.Logger, opts.MethodEnqueueTimeout, opts.MethodResponseTimeout)

	handle, err := rt.Create(desc, relay.callbacks())
	if err != nil {
		relay.close()
		return nil, fmt.Errorf("create runtime client: %w", err)
	}

	if opts.VerboseLog {
		if err := handle.SetOption(RuntimeOptionLogTrace, true); err != nil {
			opts.Logger.Warn("enabling runtime log trace failed", "error", err)
		}
	}

	c := &Client{
		clientType: desc.ClientType,
		opts:       opts,
		registry:   registry,
		relay:      relay,
		driver:     newDoWorkDriver(handle, registry, opts.DoWorkFrequency, opts.Logger, opts.Clock),
	}

	c.dispatch.Add(1)
	go c.dispatchMethods()

	c.driver.start()
	opts.Logger.Info("client started",
		"sdk_version", Version,
		"client_type", string(desc.ClientType),
		"do_work_frequency", opts.DoWorkFrequency.String())
	return c, nil
}

// ClientType returns the identity variant this client connected as.
func (c *Client) ClientType() ClientType { return c.clientType }

// SendMessage hands a D2C message to the runtime and waits for its
// confirmation. The returned Outcome is always meaningful when err is nil;
// err covers synchronous rejection by the runtime or a cancelled ctx.
func (c *Client) SendMessage(ctx context.Context, msg *IotMessage) (Outcome, error) {
	if msg == nil || len(msg.Body) == 0 {
		return Outcome{}, fmt.Errorf("message with a body is required")
	}
	op := c.registry.register()
	if err := c.driver.submit(func(h RuntimeHandle) error {
		return h.SendEvent(op.id, msg)
	}); err != nil {
		c.registry.abort(op.id)
		return Outcome{}, fmt.Errorf("send event: %w", err)
	}
	return c.registry.await(ctx, op, c.opts.ConfirmationTimeout)
}

// UpdateReportedProperties sends a reported-properties patch and waits for
// its confirmation. The argument is marshalled to JSON.
func (c *Client) UpdateReportedProperties(ctx context.Context, properties any) (Outcome, error) {
	payload, err := json.Marshal(properties)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal reported properties: %w", err)
	}
	op := c.registry.register()
	if err := c.driver.submit(func(h RuntimeHandle) error {
		return h.SendReported(op.id, payload)
	}); err != nil {
		c.registry.abort(op.id)
		return Outcome{}, fmt.Errorf("send reported properties: %w", err)
	}
	return c.registry.await(ctx, op, c.opts.ConfirmationTimeout)
}

// RefreshTwin asks the hub for the full twin document. The document arrives
// through TwinUpdates with state COMPLETE.
func (c *Client) RefreshTwin() error {
	return c.driver.submit(func(h RuntimeHandle) error {
		return h.RefreshTwin()
	})
}

// SetDirectMethodHandler installs the handler for incoming direct methods.
// It may be called at any time; a nil handler answers every method with a
// not-implemented error. Handler invocations run concurrently.
func (c *Client) SetDirectMethodHandler(handler DirectMethodHandler) {
	c.handler.Store(handler)
}

// ConnectionStatusStream delivers every connect/disconnect transition in
// order. The channel closes on Close.
func (c *Client) ConnectionStatusStream() <-chan ConnectionStatus {
	return c.relay.statusStream()
}

// TwinUpdateStream delivers desired-property updates. The slot holds the
// latest value only; a slow consumer observes the newest document.
func (c *Client) TwinUpdateStream() <-chan TwinUpdate {
	return c.relay.twinStream()
}

// MessageStream delivers incoming C2D messages in arrival order. The
// channel closes on Close.
func (c *Client) MessageStream() <-chan *IotMessage {
	return c.relay.messageStream()
}

// PendingOperations returns how many outbound operations currently await a
// confirmation.
func (c *Client) PendingOperations() int { return c.registry.pending() }

// DriverStatus returns a diagnostic snapshot of the do-work loop.
func (c *Client) DriverStatus() DriverStatus { return c.driver.status() }

// Close shuts the client down. Every operation still pending resolves with
// OutcomeShutdown, the native handle is destroyed and the streams close.
// Close is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.driver.stop()
		c.relay.close()
		c.dispatch.Wait()
		c.opts.Logger.Info("client closed",
			"discarded_confirmations", c.registry.discardCount())
	})
	return nil
}

// dispatchMethods consumes direct method invocations and runs the installed
// handler for each. Responses are produced even without a handler so the
// hub always gets an answer.
func (c *Client) dispatchMethods() {
	defer c.dispatch.Done()
	for {
		select {
		case inv := <-c.relay.methodStream():
			go c.runMethod(inv)
		case <-c.relay.closed:
			return
		}
	}
}

func (c *Client) runMethod(inv *methodInvocation) {
	handler, _ := c.handler.Load().(DirectMethodHandler)
	if handler == nil {
		inv.respond(methodError(fmt.Sprintf("no handler for method %q", inv.call.Method)))
		return
	}
	payload, err := handler(inv.call.Method, inv.call.Payload)
	if err != nil {
		c.opts.Logger.Warn("direct method handler failed",
			"method", inv.call.Method, "error", err)
		inv.respond(methodError(err.Error()))
		return
	}
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	inv.respond(DirectMethodResult{Code: DirectMethodStatusOK, Payload: payload})
}
