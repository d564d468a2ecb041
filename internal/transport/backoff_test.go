package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectBackoff_Delay(t *testing.T) {
	b := DefaultReconnectBackoff()

	assert.Equal(t, time.Duration(0), b.Delay(0))
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
}

func TestReconnectBackoff_CapsAtMax(t *testing.T) {
	b := DefaultReconnectBackoff()

	assert.Equal(t, 30*time.Second, b.Delay(10))
	assert.Equal(t, 30*time.Second, b.Delay(20))
}

func TestReconnectBackoff_Exhausted(t *testing.T) {
	b := DefaultReconnectBackoff()

	assert.False(t, b.Exhausted(9))
	assert.True(t, b.Exhausted(10))
	assert.True(t, b.Exhausted(11))
}
