package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var errBoom = errors.New("boom")

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	cb := New[int](Settings{Name: "orders", FailureThreshold: 2, OpenTimeout: time.Minute}, zap.New(core))

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(func() (int, error) { return 0, errBoom })
		assert.ErrorIs(t, err, errBoom)
	}

	calls := 0
	_, err := cb.Execute(func() (int, error) {
		calls++
		return 1, nil
	})
	assert.True(t, IsOpen(err))
	assert.Equal(t, 0, calls)
	assert.Equal(t, gobreaker.StateOpen, cb.State())
	assert.Equal(t, 1, logs.FilterMessage("circuit breaker state changed").Len())
}

func TestBreaker_IsSuccessfulFiltersFailures(t *testing.T) {
	errClient := errors.New("client error")
	cb := New[int](Settings{
		Name:             "orders",
		FailureThreshold: 1,
		OpenTimeout:      time.Minute,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errClient)
		},
	}, nil)

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(func() (int, error) { return 0, errClient })
		assert.ErrorIs(t, err, errClient)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestIsOpen(t *testing.T) {
	assert.True(t, IsOpen(gobreaker.ErrOpenState))
	assert.True(t, IsOpen(gobreaker.ErrTooManyRequests))
	assert.False(t, IsOpen(errBoom))
	assert.False(t, IsOpen(nil))
}
