// Package rpc holds the capability interfaces shared by generated stubs, the
// channel and the provider, plus CallStatus, the default Controller.
//
//	stub.Login(ctx, status, req, resp)
//	  └─► Channel.CallMethod(ctx, MethodDesc{"UserService", "Login"}, status, req, resp)
//	        └─► failure reported through status.SetFailed(reason)
package rpc

import (
	"context"
	"strings"
)

// MethodDescriptor identifies the remote method a call targets.
type MethodDescriptor interface {
	ServiceName() string
	MethodName() string
}

// MethodDesc is the plain MethodDescriptor used by stubs.
type MethodDesc struct {
	Service string
	Method  string
}

// ServiceName returns m.Service.
func (m MethodDesc) ServiceName() string { return m.Service }

// MethodName returns m.Method.
func (m MethodDesc) MethodName() string { return m.Method }

// FullName returns "Service.Method".
func (m MethodDesc) FullName() string { return m.Service + "." + m.Method }

// ParseMethod splits "Service.Method" into a MethodDesc.
func ParseMethod(serviceMethod string) (MethodDesc, bool) {
	service, method, ok := strings.Cut(serviceMethod, ".")
	if !ok || service == "" || method == "" || strings.Contains(method, ".") {
		return MethodDesc{}, false
	}
	return MethodDesc{Service: service, Method: method}, true
}

// Controller carries the outcome of one call. It is owned by the caller and
// used by a single goroutine for the whole call.
type Controller interface {
	Reset()
	Failed() bool
	ErrorText() string
	SetFailed(reason string)

	StartCancel()
	IsCanceled() bool
	NotifyOnCancel(callback func())
}

// Channel performs a blocking remote call. The request and response are
// whatever the configured codec understands; failure is reported on ctrl,
// and resp must not be trusted when ctrl.Failed() is true.
type Channel interface {
	CallMethod(ctx context.Context, method MethodDescriptor, ctrl Controller, req, resp any)
}
