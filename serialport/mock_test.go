package serialport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockPort_ChunksAcrossReads(t *testing.T) {
	port := NewMockPort()
	require.NoError(t, port.SetReadTimeout(50*time.Millisecond))

	port.QueueString("abc")
	port.QueueString("defg")

	buf := make([]byte, 16)
	n, err := port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))

	n, err = port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "defg", string(buf[:n]))
}

func TestMockPort_SmallReadBuffer(t *testing.T) {
	port := NewMockPort()
	require.NoError(t, port.SetReadTimeout(50*time.Millisecond))
	port.QueueString("abcdef")

	buf := make([]byte, 4)
	n, err := port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf[:n]))

	n, err = port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(buf[:n]))
}

func TestMockPort_ReadTimeout(t *testing.T) {
	port := NewMockPort()
	require.NoError(t, port.SetReadTimeout(60*time.Millisecond))

	begin := time.Now()
	n, err := port.Read(make([]byte, 8))
	elapsed := time.Since(begin)

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.GreaterOrEqual(t, elapsed, 55*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestMockPort_DataArrivesDuringRead(t *testing.T) {
	port := NewMockPort()
	require.NoError(t, port.SetReadTimeout(time.Second))

	go func() {
		time.Sleep(30 * time.Millisecond)
		port.QueueString("+0010000B")
	}()

	begin := time.Now()
	buf := make([]byte, 16)
	n, err := port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "+0010000B", string(buf[:n]))
	assert.Less(t, time.Since(begin), 800*time.Millisecond)
}

func TestMockPort_ResetInputBufferDiscards(t *testing.T) {
	port := NewMockPort()
	require.NoError(t, port.SetReadTimeout(20*time.Millisecond))

	port.QueueString("stale")
	port.QueueString("data")
	assert.Equal(t, 2, port.PendingChunks())

	require.NoError(t, port.ResetInputBuffer())
	assert.Zero(t, port.PendingChunks())
	assert.Equal(t, 1, port.ResetCount())

	n, err := port.Read(make([]byte, 8))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMockPort_CloseUnblocksRead(t *testing.T) {
	port := NewMockPort()
	require.NoError(t, port.SetReadTimeout(5*time.Second))

	done := make(chan error, 1)
	go func() {
		_, err := port.Read(make([]byte, 8))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, port.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrPortClosed)
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after Close")
	}
}

func TestMockPort_CloseIdempotent(t *testing.T) {
	port := NewMockPort()
	require.NoError(t, port.Close())
	require.NoError(t, port.Close())
	assert.True(t, port.Closed())

	_, err := port.Read(make([]byte, 1))
	require.ErrorIs(t, err, ErrPortClosed)
	require.ErrorIs(t, port.SetReadTimeout(time.Second), ErrPortClosed)
	require.ErrorIs(t, port.ResetInputBuffer(), ErrPortClosed)
}

func TestMockPort_FailReads(t *testing.T) {
	port := NewMockPort()
	require.NoError(t, port.SetReadTimeout(20*time.Millisecond))

	wantErr := errors.New("device unplugged")
	port.FailReads(wantErr)

	_, err := port.Read(make([]byte, 8))
	require.ErrorIs(t, err, wantErr)
}

func TestMockPort_WriteRecords(t *testing.T) {
	port := NewMockPort()

	n, err := port.Write([]byte("P\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("P\r\n"), port.Written())
}

func TestMockPort_TimeoutHistory(t *testing.T) {
	port := NewMockPort()
	require.NoError(t, port.SetReadTimeout(100*time.Millisecond))
	require.NoError(t, port.SetReadTimeout(10*time.Millisecond))
	require.NoError(t, port.SetReadTimeout(100*time.Millisecond))

	want := []time.Duration{100 * time.Millisecond, 10 * time.Millisecond, 100 * time.Millisecond}
	assert.Equal(t, want, port.TimeoutHistory())
	assert.Equal(t, 100*time.Millisecond, port.ReadTimeout())
}
