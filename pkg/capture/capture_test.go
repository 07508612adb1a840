package capture

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRecorderReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.cbor")

	rec, err := NewFileRecorder(path)
	require.NoError(t, err)

	now := time.Now()
	rec.Record(Event{Timestamp: now, FlowID: "a", Kind: KindDispatch, Stage: "ReadCommissioningInfo", Timeout: 30 * time.Second})
	rec.Record(Event{Timestamp: now, FlowID: "a", Kind: KindFinish, Stage: "ReadCommissioningInfo"})
	rec.Record(Event{Timestamp: now, FlowID: "b", Kind: KindDispatch, Stage: "ArmFailsafe"})
	rec.Record(Event{Timestamp: now, FlowID: "a", Kind: KindComplete, Err: "boom", Detail: "DACVendorIDMismatch"})
	require.NoError(t, rec.Close())

	// closed recorders drop events
	rec.Record(Event{FlowID: "a", Kind: KindDispatch})

	all, err := ReadFile(path, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, 30*time.Second, all[0].Timeout)
	assert.True(t, all[0].Timestamp.Equal(now))

	flowA, err := ReadFile(path, Filter{FlowID: "a"})
	require.NoError(t, err)
	assert.Len(t, flowA, 3)

	complete, err := ReadFile(path, Filter{FlowID: "a", Kind: KindComplete})
	require.NoError(t, err)
	require.Len(t, complete, 1)
	assert.Equal(t, "boom", complete[0].Err)
	assert.Equal(t, "DACVendorIDMismatch", complete[0].Detail)
}

func TestFileRecorderAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.cbor")

	for i := 0; i < 2; i++ {
		rec, err := NewFileRecorder(path)
		require.NoError(t, err)
		rec.Record(Event{FlowID: "x", Kind: KindDispatch, Stage: "ArmFailsafe"})
		require.NoError(t, rec.Close())
		require.NoError(t, rec.Close())
	}

	events, err := ReadFile(path, Filter{Stage: "ArmFailsafe"})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestMemoryRecorderConcurrent(t *testing.T) {
	var rec MemoryRecorder
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Record(Event{Kind: KindDispatch, Stage: "SendNOC"})
		}()
	}
	wg.Wait()
	assert.Len(t, rec.Events(), 8)
	assert.Len(t, rec.Stages(KindDispatch), 8)
	assert.Empty(t, rec.Stages(KindFinish))
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope"), Filter{})
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "DISPATCH", KindDispatch.String())
	assert.Equal(t, "COMPLETE", KindComplete.String())
	assert.Equal(t, "UNKNOWN", Kind(9).String())
}
