package output

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func managedOutput(name string) (*Output, *sinkDriver) {
	drv := &sinkDriver{}
	out := New(name, drv)
	drv.out = out
	out.SetVideoEncoder("venc")
	return out, drv
}

func TestManagerAddAndStart(t *testing.T) {
	t.Parallel()

	m := NewManager()
	out, drv := managedOutput("main")
	require.NoError(t, m.Add(out))

	require.NoError(t, m.Start("main"))
	assert.Equal(t, 1, drv.startCount())
	assert.True(t, out.Active())

	require.NoError(t, m.Stop("main"))
	assert.False(t, out.Active())
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	t.Parallel()

	m := NewManager()
	a, _ := managedOutput("main")
	b, _ := managedOutput("main")

	require.NoError(t, m.Add(a))
	require.Error(t, m.Add(b))
}

func TestManagerUnknownName(t *testing.T) {
	t.Parallel()

	m := NewManager()
	require.Error(t, m.Start("missing"))
	require.Error(t, m.Stop("missing"))
	require.Error(t, m.Remove("missing"))
	assert.Nil(t, m.Output("missing"))
}

func TestManagerStatuses(t *testing.T) {
	t.Parallel()

	m := NewManager()
	out, _ := managedOutput("main")
	require.NoError(t, m.Add(out))

	statuses := m.Statuses()
	require.Contains(t, statuses, "main")
	assert.False(t, statuses["main"].Running)

	require.NoError(t, m.Start("main"))
	statuses = m.Statuses()
	assert.True(t, statuses["main"].Running)
	assert.Equal(t, "main", statuses["main"].Name)

	require.NoError(t, m.Stop("main"))
	statuses = m.Statuses()
	assert.False(t, statuses["main"].Running)
	assert.Equal(t, StopSuccess.String(), statuses["main"].LastStopCode)
}

func TestManagerForwardsEvents(t *testing.T) {
	t.Parallel()

	m := NewManager()

	var mu sync.Mutex
	var got []EventKind
	m.OnEvent(func(name string, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "main", name)
		got = append(got, ev.Kind)
	})

	out, _ := managedOutput("main")
	require.NoError(t, m.Add(out))
	require.NoError(t, m.Start("main"))
	require.NoError(t, m.Stop("main"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, EventStart, got[0])
	assert.Equal(t, EventStop, got[1])
}

func TestManagerRemoveStopsOutput(t *testing.T) {
	t.Parallel()

	m := NewManager()
	out, drv := managedOutput("main")
	require.NoError(t, m.Add(out))
	require.NoError(t, m.Start("main"))

	require.NoError(t, m.Remove("main"))
	assert.Equal(t, 1, drv.stopCount())
	assert.Nil(t, m.Output("main"))
	assert.Empty(t, m.Statuses())
}

func TestManagerStopAll(t *testing.T) {
	t.Parallel()

	m := NewManager()
	a, da := managedOutput("a")
	b, db := managedOutput("b")
	require.NoError(t, m.Add(a))
	require.NoError(t, m.Add(b))
	require.NoError(t, m.Start("a"))
	require.NoError(t, m.Start("b"))

	m.StopAll()
	assert.Equal(t, 1, da.stopCount())
	assert.Equal(t, 1, db.stopCount())
	assert.False(t, a.Active())
	assert.False(t, b.Active())
}
