package timer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeout(t *testing.T) {
	ctx := context.Background()

	v, err := Timeout(ctx, time.Second, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	release := make(chan struct{})
	defer close(release)

	_, err = Timeout(ctx, 5*time.Millisecond, func() (int, error) {
		<-release
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrElapsed)
}

func TestTimeout_PropagatesError(t *testing.T) {
	boom := errors.New("boom")

	_, err := Timeout(context.Background(), time.Second, func() (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestDebounce_EmitsLastValueOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan int)
	out := Debounce(ctx, in, 30*time.Millisecond)

	for i := 1; i <= 5; i++ {
		in <- i
	}

	select {
	case v := <-out:
		assert.Equal(t, 5, v)
	case <-time.After(time.Second):
		t.Fatal("debounced value was not emitted")
	}

	select {
	case v := <-out:
		t.Fatalf("unexpected value %d while source is silent", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebounce_SeparateBursts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan string)
	out := Debounce(ctx, in, 20*time.Millisecond)

	in <- "a"
	in <- "b"
	assert.Equal(t, "b", <-out)

	in <- "c"
	assert.Equal(t, "c", <-out)
}

func TestDebounce_FlushOnClose(t *testing.T) {
	in := make(chan int, 2)
	in <- 1
	in <- 2
	close(in)

	out := Debounce(context.Background(), in, time.Hour)

	var got []int
	for v := range out {
		got = append(got, v)
	}

	assert.Equal(t, []int{2}, got)
}
