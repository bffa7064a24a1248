package rpc

import (
	"context"
	"fmt"

	"nostriot/internal/logger"
	"nostriot/internal/metrics"
)

// HandlerFunc executes one method. Returned errors become structured error
// results, never dropped responses: once a request id is known the caller
// always gets a definitive answer.
type HandlerFunc func(ctx context.Context, env *Envelope) (string, error)

// Router maps method names to handlers. Dispatch is single-shot per request
// id; there is no retry machinery here.
type Router struct {
	handlers map[string]HandlerFunc
	log      logger.Logger
	rec      metrics.Recorder
}

func NewRouter(log logger.Logger, rec metrics.Recorder) *Router {
	if log == nil {
		log = logger.Noop{}
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Router{
		handlers: make(map[string]HandlerFunc),
		log:      log,
		rec:      rec,
	}
}

// Register binds a handler. Later registrations win, which lets a device
// provider shadow a built-in on purpose.
func (r *Router) Register(method string, fn HandlerFunc) {
	r.handlers[method] = fn
}

// Known reports whether a handler is registered for method.
func (r *Router) Known(method string) bool {
	_, ok := r.handlers[method]
	return ok
}

// Dispatch runs the handler for env. An unknown method is the one failure
// deliberately made visible to the caller.
func (r *Router) Dispatch(ctx context.Context, env *Envelope) Result {
	labels := map[string]string{"method": env.Method}
	fn, ok := r.handlers[env.Method]
	if !ok {
		r.rec.IncCounter(metrics.DispatchUnknown, labels)
		r.log.Info("unknown method requested", map[string]any{"method": env.Method, "sender": env.Sender})
		return Result{ID: env.ID, Err: "Unknown method"}
	}
	out, err := r.safeInvoke(ctx, fn, env)
	if err != nil {
		r.rec.IncCounter(metrics.DispatchError, labels)
		r.log.Warn("handler failed", map[string]any{"method": env.Method, "err": err.Error()})
		return Result{ID: env.ID, Err: err.Error()}
	}
	r.rec.IncCounter(metrics.DispatchOK, labels)
	return Result{ID: env.ID, Result: out}
}

// safeInvoke converts a panicking handler into an error result so a broken
// capability provider cannot take the dispatcher down.
func (r *Router) safeInvoke(ctx context.Context, fn HandlerFunc, env *Envelope) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return fn(ctx, env)
}
