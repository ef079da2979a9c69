package rpc

// CallStatus is the default Controller. The zero value is ready to use:
// not failed, empty error text.
type CallStatus struct {
	failed   bool
	errText  string
	onCancel func()
}

// NewCallStatus returns a fresh status.
func NewCallStatus() *CallStatus {
	return &CallStatus{}
}

// Reset clears the failure so the status can be reused for another call.
func (s *CallStatus) Reset() {
	s.failed = false
	s.errText = ""
}

// Failed reports whether SetFailed was called since the last Reset.
func (s *CallStatus) Failed() bool {
	return s.failed
}

// ErrorText returns the reason given to SetFailed, or "".
func (s *CallStatus) ErrorText() string {
	return s.errText
}

// SetFailed marks the call failed. Calling it again replaces the reason.
func (s *CallStatus) SetFailed(reason string) {
	s.failed = true
	s.errText = reason
}

// Cancellation is carried by context.Context; the cancel hooks below never fire.

// StartCancel is a no-op.
func (s *CallStatus) StartCancel() {}

// IsCanceled always reports false.
func (s *CallStatus) IsCanceled() bool {
	return false
}

// NotifyOnCancel stores callback without ever invoking it.
func (s *CallStatus) NotifyOnCancel(callback func()) {
	s.onCancel = callback
}
