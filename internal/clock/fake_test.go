package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_AfterFuncFiresInOrder(t *testing.T) {
	c := Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	var order []string
	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	c.AfterFunc(time.Second, func() { order = append(order, "a") })
	assert.Equal(t, 2, c.Pending())

	c.Advance(500 * time.Millisecond)
	assert.Empty(t, order)

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Zero(t, c.Pending())
}

func TestFakeClock_StopPreventsFire(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports nothing pending")

	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFakeClock_AfterDeliversOnAdvance(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	ch := c.After(time.Second)
	select {
	case <-ch:
		t.Fatal("fired before advance")
	default:
	}
	c.Advance(time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, time.Unix(1, 0), got)
	default:
		t.Fatal("did not fire")
	}
}

func TestFakeClock_ZeroDelayFiresOnNextAdvance(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	fired := false
	c.AfterFunc(-time.Second, func() { fired = true })
	c.Advance(0)
	assert.True(t, fired)
}
