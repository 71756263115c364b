package invalidation

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/source"
)

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func TestAffectedDates(t *testing.T) {
	samples := []source.RawSample{
		{Type: source.SampleTypeSleep, Start: day(1).Add(23 * time.Hour), End: day(2).Add(7 * time.Hour)},
		{Type: source.SampleTypeWorkout, Start: day(2).Add(12 * time.Hour), End: day(2).Add(13 * time.Hour)},
		{Type: source.SampleTypeWorkout, Start: day(5).Add(12 * time.Hour), End: day(5).Add(13 * time.Hour)},
	}
	require.Equal(t, []time.Time{day(1), day(2), day(5)}, AffectedDates(samples, time.UTC))
	require.Empty(t, AffectedDates(nil, time.UTC))
}

func TestAffectedDates_Location(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	// 02:00 UTC is still the previous evening five hours west
	samples := []source.RawSample{
		{Type: source.SampleTypeSleep, Start: day(2).Add(2 * time.Hour), End: day(2).Add(3 * time.Hour)},
	}
	dates := AffectedDates(samples, loc)
	require.Len(t, dates, 1)
	require.Equal(t, 1, dates[0].Day())
}

func TestUnion(t *testing.T) {
	got := Union([]time.Time{day(3), day(1)}, []time.Time{day(1), day(2)})
	require.Equal(t, []time.Time{day(1), day(2), day(3)}, got)
}

func TestNewEvent(t *testing.T) {
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	ev := NewEvent([]time.Time{day(2), day(2), day(1)}, now)

	require.NotEqual(t, ev.ID, NewEvent(nil, now).ID)
	require.Equal(t, []time.Time{day(1), day(2)}, ev.AffectedDates)
	require.Equal(t, now, ev.CreatedAt)
}

func TestBroker_PublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch1, cancel1 := b.Subscribe(1)
	ch2, cancel2 := b.Subscribe(1)
	defer cancel2()
	require.Equal(t, 2, b.Subscribers())

	ev := NewEvent([]time.Time{day(1)}, day(1))
	require.Equal(t, 2, b.Publish(ev))
	require.Equal(t, ev.ID, (<-ch1).ID)
	require.Equal(t, ev.ID, (<-ch2).ID)

	cancel1()
	cancel1()
	require.Equal(t, 1, b.Subscribers())
	_, open := <-ch1
	require.False(t, open)
}

func TestBroker_DropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	require.Equal(t, 1, b.Publish(NewEvent(nil, day(1))))
	// Buffer is full, the publisher does not block
	require.Equal(t, 0, b.Publish(NewEvent(nil, day(2))))
	require.Len(t, ch, 1)
}

func TestBroker_Close(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(1)

	b.Close()
	_, open := <-ch
	require.False(t, open)
	require.Zero(t, b.Subscribers())

	// Cancel after close is a no-op
	cancel()

	late, _ := b.Subscribe(1)
	_, open = <-late
	require.False(t, open)
	require.Zero(t, b.Publish(NewEvent(nil, day(1))))
}

func TestDebouncer_Coalesces(t *testing.T) {
	d := NewDebouncer()
	var runs int32
	var last int32

	for i := int32(1); i <= 5; i++ {
		i := i
		replaced := d.Schedule("samples", 50*time.Millisecond, func() {
			atomic.AddInt32(&runs, 1)
			atomic.StoreInt32(&last, i)
		})
		require.Equal(t, i > 1, replaced)
	}
	require.Equal(t, 1, d.Pending())

	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(5), atomic.LoadInt32(&last))
	require.Zero(t, d.Pending())

	// Give any replaced timer a chance to misfire
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestDebouncer_KeysIndependent(t *testing.T) {
	d := NewDebouncer()
	var runs int32

	d.Schedule("a", 10*time.Millisecond, func() { atomic.AddInt32(&runs, 1) })
	d.Schedule("b", 10*time.Millisecond, func() { atomic.AddInt32(&runs, 1) })

	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 2 }, time.Second, 5*time.Millisecond)
}

func TestDebouncer_CancelAndStop(t *testing.T) {
	d := NewDebouncer()
	var runs int32
	inc := func() { atomic.AddInt32(&runs, 1) }

	d.Schedule("a", 20*time.Millisecond, inc)
	require.True(t, d.Cancel("a"))
	require.False(t, d.Cancel("a"))

	d.Schedule("b", 20*time.Millisecond, inc)
	d.Stop()
	require.Zero(t, d.Pending())
	require.False(t, d.Schedule("c", 0, inc))

	time.Sleep(60 * time.Millisecond)
	require.Zero(t, atomic.LoadInt32(&runs))
}
