package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallStatus(t *testing.T) {
	var s CallStatus
	assert.False(t, s.Failed())
	assert.Empty(t, s.ErrorText())

	s.SetFailed("first")
	s.SetFailed("second")
	assert.True(t, s.Failed())
	assert.Equal(t, "second", s.ErrorText())

	s.Reset()
	assert.False(t, s.Failed())
	assert.Empty(t, s.ErrorText())
}

func TestCallStatusCancelHooks(t *testing.T) {
	s := NewCallStatus()
	called := false
	s.NotifyOnCancel(func() { called = true })
	s.StartCancel()

	assert.False(t, s.IsCanceled())
	assert.False(t, called)
	assert.False(t, s.Failed())
}

func TestParseMethod(t *testing.T) {
	m, ok := ParseMethod("UserService.Login")
	assert.True(t, ok)
	assert.Equal(t, "UserService", m.ServiceName())
	assert.Equal(t, "Login", m.MethodName())
	assert.Equal(t, "UserService.Login", m.FullName())

	for _, bad := range []string{"", "UserService", ".Login", "UserService.", "a.b.c"} {
		_, ok := ParseMethod(bad)
		assert.False(t, ok, bad)
	}
}

var _ Controller = (*CallStatus)(nil)
