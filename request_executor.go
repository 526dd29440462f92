package anvilbridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/opengovern/anvil-bridge/internal"
)

// retryMargin is added to every server-directed retry delay.
const retryMargin = 50 * time.Millisecond

type executorState int

const (
	stateAttempting executorState = iota
	stateThrottled
	stateSucceeded
	stateFailed
)

// RequestExecutor runs a request through the rate limiter and retries 429 responses.
//
// There is no retry cap: a 429 is always retried after the delay the server asks for, so a
// caller facing sustained throttling waits until ctx is cancelled. Other non-2xx responses
// are returned as values and never retried, and transport failures are returned as errors.
type RequestExecutor struct {
	doer    HTTPDoer
	limiter *RateLimiter
	logger  hclog.Logger
	metrics *MetricsCollector

	sleep func(ctx context.Context, d time.Duration) error
}

func NewRequestExecutor(doer HTTPDoer, limiter *RateLimiter, logger hclog.Logger, metrics *MetricsCollector) *RequestExecutor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &RequestExecutor{
		doer:    doer,
		limiter: limiter,
		logger:  logger,
		metrics: metrics,
		sleep:   sleepContext,
	}
}

// Execute performs the logical call built by factory and decodes a successful body according
// to dataType.
func (re *RequestExecutor) Execute(ctx context.Context, factory RequestFactory, dataType DataType) (*Result, error) {
	logger := re.logger.With("request_id", uuid.NewString())

	var (
		result  *Result
		err     error
		delay   time.Duration
		attempt int
	)

	state := stateAttempting
	for state != stateSucceeded && state != stateFailed {
		switch state {
		case stateAttempting:
			attempt++
			var resp *http.Response
			var release func()
			resp, release, err = re.attempt(ctx, factory, logger, attempt)
			if err != nil {
				state = stateFailed
				continue
			}

			if resp.StatusCode == http.StatusTooManyRequests {
				delay = internal.RetryAfterDelay(resp.Header.Get("Retry-After"), retryMargin)
				drainAndClose(resp.Body)
				release()
				state = stateThrottled
				continue
			}

			result, err = re.decode(resp, release, dataType, logger)
			if err != nil {
				state = stateFailed
				continue
			}
			state = stateSucceeded

		case stateThrottled:
			re.metrics.recordThrottle()
			logger.Debug("rate limited by server, retrying", "attempt", attempt, "delay", delay)
			if sleepErr := re.sleep(ctx, delay); sleepErr != nil {
				err = &TransportError{Op: "retry", Cause: sleepErr, Aborted: true}
				state = stateFailed
				continue
			}
			state = stateAttempting
		}
	}

	if err != nil {
		return nil, err
	}
	if attempt > 1 {
		logger.Debug("request succeeded after retries", "attempts", attempt)
	}
	return result, nil
}

// attempt acquires a token and sends one physical request. release must be called once the
// response body is no longer needed.
func (re *RequestExecutor) attempt(ctx context.Context, factory RequestFactory, logger hclog.Logger, n int) (*http.Response, func(), error) {
	if err := re.limiter.Acquire(ctx); err != nil {
		return nil, nil, &TransportError{Op: "acquire", Cause: err, Aborted: true}
	}

	attemptCtx, cancel := context.WithCancelCause(ctx)
	release := func() { cancel(nil) }

	req, err := factory(attemptCtx, cancel)
	if err != nil {
		release()
		if errors.Is(err, ErrStreamNotReplayable) {
			return nil, nil, &TransportError{Op: "retry", Cause: err}
		}
		return nil, nil, err
	}

	logger.Debug("sending request", "method", req.Method, "url", req.URL.String(), "attempt", n)
	resp, err := re.doer.Do(req)
	if err != nil {
		re.metrics.recordTransportError()
		te := &TransportError{Op: req.Method, URL: req.URL.String(), Cause: err}
		if cause := context.Cause(attemptCtx); cause != nil {
			te.Aborted = true
			if !errors.Is(err, cause) {
				te.Cause = cause
			}
		}
		release()
		logger.Error("request failed", "method", req.Method, "url", req.URL.String(), "error", te.Cause)
		return nil, nil, te
	}

	re.metrics.recordRequest(req.Method, resp.StatusCode)
	return resp, release, nil
}

func (re *RequestExecutor) decode(resp *http.Response, release func(), dataType DataType, logger hclog.Logger) (*Result, error) {
	if resp.StatusCode >= 300 {
		defer release()
		defer resp.Body.Close()
		return decodeFailure(resp, logger)
	}

	switch dataType {
	case DataTypeStream:
		return &Result{
			StatusCode: resp.StatusCode,
			Data:       &releasingBody{ReadCloser: resp.Body, release: release},
		}, nil
	case DataTypeBuffer:
		defer release()
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &TransportError{Op: "read", URL: responseURL(resp), Cause: err}
		}
		return &Result{StatusCode: resp.StatusCode, Data: data}, nil
	case DataTypeJSON:
	default:
		logger.Warn("no response data type given, decoding as json", "data_type", dataType.String())
	}

	defer release()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read", URL: responseURL(resp), Cause: err}
	}
	var decoded any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil, &TransportError{Op: "decode", URL: responseURL(resp), Cause: err}
		}
	}
	return &Result{StatusCode: resp.StatusCode, Data: decoded}, nil
}

// decodeFailure shapes a non-2xx body: "errors" wins, then a body with "message" becomes a
// one-element list, otherwise the body itself is returned as Data.
func decodeFailure(resp *http.Response, logger hclog.Logger) (*Result, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read", URL: responseURL(resp), Cause: err}
	}
	result := &Result{StatusCode: resp.StatusCode}
	logger.Debug("remote call failed", "status", resp.StatusCode)

	var body any
	if err := json.Unmarshal(data, &body); err != nil {
		result.Errors = []ResponseError{{
			Message: http.StatusText(resp.StatusCode),
			Extra:   map[string]any{"body": string(data)},
		}}
		return result, nil
	}

	obj, isObject := body.(map[string]any)
	if !isObject {
		result.Data = body
		return result, nil
	}
	if list, ok := obj["errors"].([]any); ok {
		result.Errors = make([]ResponseError, 0, len(list))
		for _, item := range list {
			result.Errors = append(result.Errors, decodeResponseError(item))
		}
		return result, nil
	}
	if _, ok := obj["message"]; ok {
		result.Errors = []ResponseError{decodeResponseError(obj)}
		return result, nil
	}
	result.Data = obj
	return result, nil
}

// releasingBody ends the attempt context when a streamed body is closed.
type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}

func responseURL(resp *http.Response) string {
	if resp.Request == nil || resp.Request.URL == nil {
		return ""
	}
	return resp.Request.URL.String()
}
