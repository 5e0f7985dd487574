package risk

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superkabe/healthstack/internal/enum"
)

func TestWindow_EmptyRatio(t *testing.T) {
	w := NewWindow(10)
	assert.Equal(t, 0, w.Sent())
	assert.Equal(t, 0, w.Bounces())
	assert.Equal(t, float64(0), w.Ratio())
}

func TestWindow_EvictsOldest(t *testing.T) {
	w := NewWindow(3)
	w.Push(true)
	w.Push(false)
	w.Push(false)
	assert.Equal(t, 1, w.Bounces())

	w.Push(false)
	assert.Equal(t, 3, w.Sent())
	assert.Equal(t, 0, w.Bounces())
	assert.Equal(t, []int{0, 0, 0}, w.Weights())
}

func TestWindow_IncrementalMatchesRecomputation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, capacity := range []int{1, 7, 60, 100} {
		w := NewWindow(capacity)
		var history []int
		for i := 0; i < 1000; i++ {
			weight := 0
			switch r := rng.Intn(20); {
			case r == 0:
				weight = 2
			case r < 3:
				weight = 1
			}
			w.PushWeighted(weight)
			history = append(history, weight)

			start := len(history) - capacity
			if start < 0 {
				start = 0
			}
			tail := history[start:]
			var sum, bounced int
			for _, x := range tail {
				sum += x
				if x > 0 {
					bounced++
				}
			}
			require.Equal(t, len(tail), w.Sent())
			require.Equal(t, sum, w.Bounces())
			require.Equal(t, bounced, w.BouncedEntries())
			require.Equal(t, tail, w.Weights())
		}
	}
}

func fill(w *MailboxWindows, clean, bounces int) {
	for i := 0; i < clean; i++ {
		w.PushWeighted(0)
	}
	for i := 0; i < bounces; i++ {
		w.PushWeighted(1)
	}
}

func TestThresholds_PauseDeterminism(t *testing.T) {
	th := DefaultThresholds()

	w := NewMailboxWindows(th)
	fill(w, 95, 5)
	assert.Equal(t, enum.SignalPause, th.Evaluate(w, false).Signal)

	w = NewMailboxWindows(th)
	fill(w, 96, 4)
	ev := th.Evaluate(w, false)
	assert.Equal(t, enum.SignalWarning, ev.Signal)
	assert.True(t, ev.Evaluable)
}

func TestThresholds_WarningAndGracePeriod(t *testing.T) {
	th := DefaultThresholds()

	w := NewMailboxWindows(th)
	fill(w, 50, 2)
	assert.Equal(t, enum.SignalNone, th.Evaluate(w, false).Signal)
	assert.Equal(t, enum.SignalWarning, th.Evaluate(w, true).Signal)

	w = NewMailboxWindows(th)
	fill(w, 50, 3)
	assert.Equal(t, enum.SignalWarning, th.Evaluate(w, false).Signal)
}

func TestThresholds_MinimumSample(t *testing.T) {
	th := DefaultThresholds()
	w := NewMailboxWindows(th)
	fill(w, 4, 5)

	ev := th.Evaluate(w, false)
	assert.False(t, ev.Evaluable)
	assert.Equal(t, enum.SignalNone, ev.Signal)

	w.PushWeighted(0)
	ev = th.Evaluate(w, false)
	assert.True(t, ev.Evaluable)
	assert.Equal(t, enum.SignalPause, ev.Signal)
}

func TestThresholds_OldBouncesLeaveWarningWindowFirst(t *testing.T) {
	th := DefaultThresholds()
	w := NewMailboxWindows(th)
	fill(w, 0, 3)
	fill(w, 60, 0)

	ev := th.Evaluate(w, false)
	assert.Equal(t, 0, ev.WarningBounces)
	assert.Equal(t, 3, ev.PauseBounces)
	assert.Equal(t, enum.SignalNone, ev.Signal)
}

func TestThresholds_Weight(t *testing.T) {
	th := DefaultThresholds()

	w, ok := th.Weight(enum.EventSent, false, 0)
	assert.True(t, ok)
	assert.Equal(t, 0, w)

	w, ok = th.Weight(enum.EventComplaint, true, 0)
	assert.True(t, ok)
	assert.Equal(t, 2, w)

	_, ok = th.Weight(enum.EventSoftBounce, false, 0)
	assert.False(t, ok)

	_, ok = th.Weight(enum.EventOpened, false, 0)
	assert.False(t, ok)
}
