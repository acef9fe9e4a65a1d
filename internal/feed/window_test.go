package feed

import (
	"fmt"
	"sync"
	"testing"

	"github.com/faultsys/alertrelay/internal/alert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(machine string) Entry {
	return Entry{Alert: alert.Alert{Machine: machine, Severity: alert.SeverityWarning}}
}

func TestWindowNewestFirst(t *testing.T) {
	w := NewWindow(3)
	w.Push(entry("a"))
	w.Push(entry("b"))

	snap := w.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].Alert.Machine)
	assert.Equal(t, "a", snap[1].Alert.Machine)
}

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(0)
	require.Equal(t, DefaultWindowSize, w.Size())

	for i := 0; i < DefaultWindowSize+5; i++ {
		w.Push(entry(fmt.Sprintf("m%d", i)))
	}
	snap := w.Snapshot()
	require.Len(t, snap, DefaultWindowSize)
	assert.Equal(t, fmt.Sprintf("m%d", DefaultWindowSize+4), snap[0].Alert.Machine)
	assert.Equal(t, "m5", snap[len(snap)-1].Alert.Machine)
}

func TestWindowSnapshotIsACopy(t *testing.T) {
	w := NewWindow(2)
	w.Push(entry("a"))
	snap := w.Snapshot()
	snap[0].Alert.Machine = "changed"
	assert.Equal(t, "a", w.Snapshot()[0].Alert.Machine)
}

func TestWindowCritical(t *testing.T) {
	w := NewWindow(5)
	w.Push(entry("a"))
	w.Push(Entry{Alert: alert.Alert{Machine: "b", Severity: alert.SeverityCritical}})
	assert.Equal(t, 1, w.Critical())
	assert.Equal(t, 2, w.Len())
}

func TestWindowConcurrentPush(t *testing.T) {
	w := NewWindow(10)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				w.Push(entry(fmt.Sprintf("%d-%d", i, j)))
				_ = w.Snapshot()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, w.Len())
}
