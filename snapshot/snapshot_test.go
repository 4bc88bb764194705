package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_WriteAndRead_RoundTrips(t *testing.T) {
	st := New(Config{Dir: t.TempDir(), KeepFailureCount: 5, MaxAge: 24 * time.Hour})

	id := BuildID("home-team", time.Unix(1700000000, 0))
	gotID, err := st.Write(DOMSnapshot{
		ID:           id,
		SelectorName: "home-team",
		SnapshotType: TypeFailure,
		DOMContent:   "<html><body>hi</body></html>",
	})
	require.NoError(t, err)
	assert.Equal(t, id, gotID)

	read, err := st.Read(id)
	require.NoError(t, err)
	assert.Equal(t, "home-team", read.SelectorName)
	assert.False(t, read.CreatedAt.IsZero())
	assert.EqualValues(t, len("<html><body>hi</body></html>"), read.FileSize)
}

func TestStore_Write_RequiresID(t *testing.T) {
	st := New(Config{})
	_, err := st.Write(DOMSnapshot{SelectorName: "x"})
	assert.Error(t, err)
}

func TestStore_Read_UnknownIDIsError(t *testing.T) {
	st := New(Config{})
	_, err := st.Read("does-not-exist")
	assert.Error(t, err)
}

func TestStore_ClassifyDrift_NoBaselineIsFailure(t *testing.T) {
	st := New(Config{})
	typ, dist := st.ClassifyDrift("home-team", "<html></html>")
	assert.Equal(t, TypeFailure, typ)
	assert.Equal(t, -1, dist)
}

func TestStore_ClassifyDrift_IdenticalContentAgainstBaselineIsFailure(t *testing.T) {
	st := New(Config{})
	baselineHTML := `<html><body><div class="score">1-0</div></body></html>`
	_, err := st.Write(DOMSnapshot{
		ID:           BuildID("home-team", time.Now()),
		SelectorName: "home-team",
		SnapshotType: TypeBaseline,
		DOMContent:   baselineHTML,
	})
	require.NoError(t, err)

	typ, dist := st.ClassifyDrift("home-team", baselineHTML)
	assert.Equal(t, TypeFailure, typ)
	assert.Equal(t, 0, dist)
}

func TestStore_ClassifyDrift_WildlyDifferentContentIsRegression(t *testing.T) {
	st := New(Config{})
	_, err := st.Write(DOMSnapshot{
		ID:           BuildID("home-team", time.Now()),
		SelectorName: "home-team",
		SnapshotType: TypeBaseline,
		DOMContent:   `<html><body><article><h1>Manchester United</h1><p>Score: 1-0</p></article></body></html>`,
	})
	require.NoError(t, err)

	typ, dist := st.ClassifyDrift("home-team", `<table><tr><td>totally</td><td>different</td></tr><tr><td>layout</td><td>now</td></tr></table>`)
	assert.Equal(t, TypeRegression, typ)
	assert.Greater(t, dist, regressionThreshold)
}

func TestStore_Cleanup_RemovesExpiredSnapshots(t *testing.T) {
	st := New(Config{MaxAge: time.Millisecond})
	id := BuildID("x", time.Now())
	_, err := st.Write(DOMSnapshot{ID: id, SelectorName: "x", SnapshotType: TypeDebug, DOMContent: "a"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	removed := st.Cleanup()
	assert.Equal(t, 1, removed)

	_, err = st.Read(id)
	assert.Error(t, err)
}

func TestStore_Cleanup_EvictsDebugBeforeFailureWhenOverBudget(t *testing.T) {
	st := New(Config{MaxBytes: 10, KeepFailureCount: 10})

	_, err := st.Write(DOMSnapshot{ID: "debug-1", SelectorName: "x", SnapshotType: TypeDebug, DOMContent: "0123456789"})
	require.NoError(t, err)
	_, err = st.Write(DOMSnapshot{ID: "failure-1", SelectorName: "x", SnapshotType: TypeFailure, DOMContent: "0123456789"})
	require.NoError(t, err)

	st.Cleanup()

	_, err = st.Read("debug-1")
	assert.Error(t, err, "debug snapshot should be evicted before failure snapshots")
	_, err = st.Read("failure-1")
	assert.NoError(t, err)
}

func TestBuildID_IsDeterministicForSameInputs(t *testing.T) {
	at := time.Unix(1700000000, 0)
	assert.Equal(t, BuildID("home-team", at), BuildID("home-team", at))
	assert.NotEqual(t, BuildID("home-team", at), BuildID("away-team", at))
}
