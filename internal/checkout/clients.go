package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-cleanhttp"
)

// StepClient performs one step against its backend. A *StepError means the
// backend answered with a failure; any other error is a transport fault.
type StepClient interface {
	Invoke(ctx context.Context, cartID int64, step StepName) error
}

// Reverser is implemented by clients whose backend can undo a step.
type Reverser interface {
	Reverse(ctx context.Context, cartID int64, step StepName) error
}

var (
	ErrUnknownStep         = errors.New("no backend configured for step")
	ErrReversalUnsupported = errors.New("step client cannot reverse steps")
)

const maxErrorBody = 512

// HTTPStepClient posts to "<base>/<step>/process" and treats any 2xx as success.
type HTTPStepClient struct {
	client   *http.Client
	backends map[StepName]string
}

// NewHTTPStepClient builds a client over a pooled cleanhttp client when client is nil.
func NewHTTPStepClient(client *http.Client, backends map[StepName]string) *HTTPStepClient {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	trimmed := make(map[StepName]string, len(backends))
	for step, base := range backends {
		trimmed[step] = strings.TrimRight(base, "/")
	}
	return &HTTPStepClient{client: client, backends: trimmed}
}

func (c *HTTPStepClient) Invoke(ctx context.Context, cartID int64, step StepName) error {
	return c.post(ctx, cartID, step, "process")
}

// Reverse posts to "<base>/<step>/reverse".
func (c *HTTPStepClient) Reverse(ctx context.Context, cartID int64, step StepName) error {
	return c.post(ctx, cartID, step, "reverse")
}

func (c *HTTPStepClient) post(ctx context.Context, cartID int64, step StepName, action string) error {
	base, ok := c.backends[step]
	if !ok || base == "" {
		return fmt.Errorf("%w: %s", ErrUnknownStep, step)
	}
	target := base + "/" + url.PathEscape(string(step)) + "/" + action + "?cartId=" + strconv.FormatInt(cartID, 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StepError{
		Step:   step,
		Status: resp.StatusCode,
		Detail: strings.TrimSpace(string(body)),
	}
}

// NoopStepClient always succeeds. Used when no backend address is configured.
type NoopStepClient struct{}

func (NoopStepClient) Invoke(ctx context.Context, cartID int64, step StepName) error {
	return nil
}

func (NoopStepClient) Reverse(ctx context.Context, cartID int64, step StepName) error {
	return nil
}

// StepCall records one invocation seen by a ScriptedStepClient.
type StepCall struct {
	CartID int64
	Step   StepName
}

// ScriptedStepClient replays queued errors per step and records every call.
// Once a step's queue is drained, its calls succeed.
type ScriptedStepClient struct {
	mu        sync.Mutex
	scripts   map[StepName][]error
	reverse   []error
	calls     []StepCall
	reversals []StepCall
	hook      func(ctx context.Context, call StepCall)
}

func NewScriptedStepClient() *ScriptedStepClient {
	return &ScriptedStepClient{scripts: make(map[StepName][]error)}
}

// Script queues the results of the next calls for step; nil means success.
func (c *ScriptedStepClient) Script(step StepName, results ...error) *ScriptedStepClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[step] = append(c.scripts[step], results...)
	return c
}

// ScriptReverse queues results for the next reversals.
func (c *ScriptedStepClient) ScriptReverse(results ...error) *ScriptedStepClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reverse = append(c.reverse, results...)
	return c
}

// OnInvoke installs a hook that runs inside every Invoke before it returns.
func (c *ScriptedStepClient) OnInvoke(hook func(ctx context.Context, call StepCall)) *ScriptedStepClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hook = hook
	return c
}

func (c *ScriptedStepClient) Invoke(ctx context.Context, cartID int64, step StepName) error {
	call := StepCall{CartID: cartID, Step: step}

	c.mu.Lock()
	c.calls = append(c.calls, call)
	var result error
	if queue := c.scripts[step]; len(queue) > 0 {
		result = queue[0]
		c.scripts[step] = queue[1:]
	}
	hook := c.hook
	c.mu.Unlock()

	if hook != nil {
		hook(ctx, call)
	}
	return result
}

func (c *ScriptedStepClient) Reverse(ctx context.Context, cartID int64, step StepName) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reversals = append(c.reversals, StepCall{CartID: cartID, Step: step})
	if len(c.reverse) == 0 {
		return nil
	}
	result := c.reverse[0]
	c.reverse = c.reverse[1:]
	return result
}

// Calls returns every invocation in order.
func (c *ScriptedStepClient) Calls() []StepCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StepCall, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns how many times step was invoked.
func (c *ScriptedStepClient) CallCount(step StepName) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, call := range c.calls {
		if call.Step == step {
			count++
		}
	}
	return count
}

func (c *ScriptedStepClient) Reversals() []StepCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StepCall, len(c.reversals))
	copy(out, c.reversals)
	return out
}
