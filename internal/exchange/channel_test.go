package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChannelFIFO(t *testing.T) {
	tx, rx := NewChannel()
	for _, m := range []string{"m1", "m2", "m3"} {
		require.NoError(t, tx.Send(m))
	}
	require.Equal(t, 3, rx.Len())
	tx.Close()

	ctx := context.Background()
	for _, want := range []string{"m1", "m2", "m3"} {
		got, err := rx.Recv(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := rx.Recv(ctx)
	require.ErrorIs(t, err, ErrChannelClosed)
}

func TestChannelCloneRefCount(t *testing.T) {
	tx, rx := NewChannel()
	tx2 := tx.Clone()
	tx.Close()
	tx.Close() // 重复关闭不影响计数

	require.NoError(t, tx2.Send("still open"))
	got, err := rx.Recv(context.Background())
	require.NoError(t, err)
	require.Equal(t, "still open", got)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = rx.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded, "one sender remains, receiver should wait")

	tx2.Close()
	_, err = rx.Recv(context.Background())
	require.ErrorIs(t, err, ErrChannelClosed)
}

func TestChannelRecvWakesOnSend(t *testing.T) {
	tx, rx := NewChannel()
	defer tx.Close()

	got := make(chan string, 1)
	go func() {
		msg, err := rx.Recv(context.Background())
		if err == nil {
			got <- msg
		}
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, tx.Send("late"))

	select {
	case msg := <-got:
		require.Equal(t, "late", msg)
	case <-time.After(time.Second):
		t.Fatal("receiver not woken by send")
	}
}

func TestChannelSendAfterReceiverClosed(t *testing.T) {
	tx, rx := NewChannel()
	rx.Close()

	require.NotPanics(t, func() {
		err := tx.Send("ping")
		require.True(t, errors.Is(err, ErrChannelClosed))
	})
	_, err := rx.Recv(context.Background())
	require.ErrorIs(t, err, ErrChannelClosed)
}

func TestChannelReceiverCloseDropsPending(t *testing.T) {
	tx, rx := NewChannel()
	require.NoError(t, tx.Send("never delivered"))
	rx.Close()
	require.Equal(t, 0, rx.Len())
}

func TestChannelConcurrentProducers(t *testing.T) {
	tx, rx := NewChannel()
	const producers, perProducer = 8, 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		s := tx.Clone()
		wg.Add(1)
		go func(p int, s *Sender) {
			defer wg.Done()
			defer s.Close()
			for i := 0; i < perProducer; i++ {
				_ = s.Send(fmt.Sprintf("%d-%d", p, i))
			}
		}(p, s)
	}
	tx.Close()

	// 每个生产者内部保持顺序
	next := make(map[int]int)
	total := 0
	for {
		msg, err := rx.Recv(context.Background())
		if errors.Is(err, ErrChannelClosed) {
			break
		}
		require.NoError(t, err)
		var p, i int
		_, scanErr := fmt.Sscanf(msg, "%d-%d", &p, &i)
		require.NoError(t, scanErr)
		require.Equal(t, next[p], i, "producer %d out of order", p)
		next[p]++
		total++
	}
	wg.Wait()
	require.Equal(t, producers*perProducer, total)
}

func TestChannelSendAfterSenderClosed(t *testing.T) {
	tx, rx := NewChannel()
	keep := tx.Clone()
	defer keep.Close()
	tx.Close()

	require.ErrorIs(t, tx.Send("stale"), ErrChannelClosed)
	require.Equal(t, 0, rx.Len(), "closed handle must not enqueue")
	require.NoError(t, keep.Send("live"))
	require.Equal(t, 1, rx.Len())
}

func TestChannelCloneOfClosedSenderStaysClosed(t *testing.T) {
	tx, rx := NewChannel()
	require.NoError(t, tx.Send("m1"))
	tx.Close()

	revived := tx.Clone()
	require.ErrorIs(t, revived.Send("m2"), ErrChannelClosed)
	revived.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := rx.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "m1", got)
	_, err = rx.Recv(ctx)
	require.ErrorIs(t, err, ErrChannelClosed, "cloning a closed sender must not reopen the channel")
}
