package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lattisledger/lattis/common/clock"
)

func TestPeriodicFiresOncePerInterval(t *testing.T) {
	assert := assert.New(t)

	clk := clock.NewSimulated()
	p := NewPeriodic(clk, time.Second)

	assert.True(p.Poll())
	assert.False(p.Poll())

	clk.Advance(999 * time.Millisecond)
	assert.False(p.Poll())

	clk.Advance(time.Millisecond)
	assert.True(p.Poll())
	assert.False(p.Poll())
}

func TestPeriodicReset(t *testing.T) {
	assert := assert.New(t)

	clk := clock.NewSimulated()
	p := NewPeriodic(clk, time.Second)
	p.Reset()

	assert.False(p.Poll())
	clk.Advance(time.Second)
	assert.True(p.Poll())
}

func TestDeadline(t *testing.T) {
	assert := assert.New(t)

	clk := clock.NewSimulated()
	d := NewDeadline(clk)

	// unarmed deadlines never expire
	assert.False(d.HasExpired())

	d.Restart(30 * time.Second)
	assert.False(d.HasExpired())

	clk.Advance(29 * time.Second)
	assert.False(d.HasExpired())

	clk.Advance(time.Second)
	assert.True(d.HasExpired())

	d.Clear()
	assert.False(d.HasExpired())
}
