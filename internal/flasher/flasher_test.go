package flasher

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Llucs/ZodinLinux/internal/frame"
	"github.com/Llucs/ZodinLinux/internal/progress"
	"github.com/Llucs/ZodinLinux/internal/zlog"
)

// fakeRoundTripper records every request it receives and always replies
// with an empty payload of the same type, matching a well-behaved device.
type fakeRoundTripper struct {
	requests []fakeRequest
	failAt   int // if > 0, request index (1-based) at which to return an error
}

type fakeRequest struct {
	typ     uint32
	payload []byte
}

func (f *fakeRoundTripper) RoundTrip(typ uint32, payload []byte, _ time.Duration) ([]byte, error) {
	cp := append([]byte(nil), payload...)
	f.requests = append(f.requests, fakeRequest{typ: typ, payload: cp})
	if f.failAt != 0 && len(f.requests) == f.failAt {
		return nil, assertErr
	}
	return nil, nil
}

var assertErr = errTest("simulated device failure")

type errTest string

func (e errTest) Error() string { return string(e) }

func totalBytesPayload(n int) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(n))
	return b
}

func TestFlashEmptyPartition(t *testing.T) {
	rt := &fakeRoundTripper{}
	var records []progress.Record
	sink := progress.SinkFunc(func(r progress.Record) { records = append(records, r) })

	err := Flash(rt, "BL", nil, sink, zlog.Discard(), Options{})
	require.NoError(t, err)

	require.Len(t, rt.requests, 1)
	assert.Equal(t, frame.TypeFlashSetTotalBytes, rt.requests[0].typ)
	assert.Equal(t, totalBytesPayload(0), rt.requests[0].payload)

	require.Len(t, records, 1)
	assert.EqualValues(t, 0, records[0].CurrentBytes)
	assert.EqualValues(t, 0, records[0].TotalBytes)
}

func TestFlashOneChunk(t *testing.T) {
	rt := &fakeRoundTripper{}
	data := bytes.Repeat([]byte{0xAB}, 512*1024)
	var records []progress.Record
	sink := progress.SinkFunc(func(r progress.Record) { records = append(records, r) })

	err := Flash(rt, "AP", data, sink, zlog.Discard(), Options{ChunkSize: 1 << 20})
	require.NoError(t, err)

	require.Len(t, rt.requests, 2)
	assert.Equal(t, frame.TypeFlashSetTotalBytes, rt.requests[0].typ)
	assert.Equal(t, frame.TypeFlashSendData, rt.requests[1].typ)
	assert.Len(t, rt.requests[1].payload, 524288)

	require.Len(t, records, 1)
	assert.InDelta(t, 100.0, records[len(records)-1].Percentage, 0.001)
}

func TestFlashBoundaryThreeChunks(t *testing.T) {
	rt := &fakeRoundTripper{}
	data := make([]byte, 3*(1<<20))

	err := Flash(rt, "CP", data, nil, zlog.Discard(), Options{ChunkSize: 1 << 20})
	require.NoError(t, err)

	// One set-total plus three chunks.
	require.Len(t, rt.requests, 4)
	for i := 1; i <= 3; i++ {
		assert.Equal(t, frame.TypeFlashSendData, rt.requests[i].typ)
		assert.Len(t, rt.requests[i].payload, 1<<20)
	}
}

func TestFlashChunkTotality(t *testing.T) {
	// ceil(N/C) frames are sent, and the payload lengths sum to N.
	rt := &fakeRoundTripper{}
	const n, c = 2_500_000, 1 << 20
	data := make([]byte, n)

	err := Flash(rt, "CSC", data, nil, zlog.Discard(), Options{ChunkSize: c})
	require.NoError(t, err)

	chunkFrames := rt.requests[1:]
	wantFrames := (n + c - 1) / c
	require.Len(t, chunkFrames, wantFrames)

	var sum int
	for _, f := range chunkFrames {
		sum += len(f.payload)
	}
	assert.Equal(t, n, sum)
}

func TestFlashFailsOnChunkMismatch(t *testing.T) {
	rt := &fakeRoundTripper{failAt: 2}
	data := make([]byte, 2<<20)

	err := Flash(rt, "AP", data, nil, zlog.Discard(), Options{ChunkSize: 1 << 20})
	require.Error(t, err)
}

func TestFlashCancellationBetweenChunks(t *testing.T) {
	rt := &fakeRoundTripper{}
	cancel := make(chan struct{})
	close(cancel)
	data := make([]byte, 2<<20)

	err := Flash(rt, "AP", data, nil, zlog.Discard(), Options{ChunkSize: 1 << 20, Cancel: cancel})
	require.Error(t, err)
	// set-total-bytes still goes out before the first cancellation check.
	assert.Equal(t, frame.TypeFlashSetTotalBytes, rt.requests[0].typ)
}
