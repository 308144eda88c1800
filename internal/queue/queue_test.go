package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-book-download/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// artifactSet is an ArtifactChecker backed by a set of present ids.
type artifactSet struct {
	mu      sync.Mutex
	present map[string]bool
	calls   int
}

func (a *artifactSet) ArtifactExists(id string, _ models.Record) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.present[id]
}

func record(id string) models.Record {
	return models.Record{ID: id, Title: "Title " + id, DownloadURLs: []string{"https://mirror.example/" + id}}
}

func newTestManager(ttl time.Duration, present map[string]bool) (*Manager, *fakeClock, *artifactSet) {
	clock := newFakeClock()
	checker := &artifactSet{present: present}
	return New(ttl, checker, WithClock(clock.Now)), clock, checker
}

func TestAddAppearsOnceUnderQueued(t *testing.T) {
	m, _, _ := newTestManager(time.Hour, nil)
	m.Add("a", record("a"))
	m.Add("a", record("a"))

	snap := m.GetStatus()
	for _, s := range models.AllStatuses {
		require.Contains(t, snap, s)
	}
	assert.Equal(t, []string{"a"}, snap.IDs(models.StatusQueued))
	assert.Equal(t, 1, snap.Count())

	id, ok := m.GetNext()
	require.True(t, ok)
	assert.Equal(t, "a", id)
	_, ok = m.GetNext()
	assert.False(t, ok, "re-adding a pending id must not duplicate it")
}

func TestGetNextIsFIFO(t *testing.T) {
	m, _, _ := newTestManager(time.Hour, nil)
	for _, id := range []string{"c", "a", "b"} {
		m.Add(id, record(id))
	}

	var got []string
	for {
		id, ok := m.GetNext()
		if !ok {
			break
		}
		got = append(got, id)
	}
	assert.Equal(t, []string{"c", "a", "b"}, got)
}

func TestReAddAfterClaimRequeues(t *testing.T) {
	m, _, _ := newTestManager(time.Hour, nil)
	m.Add("a", record("a"))
	id, ok := m.GetNext()
	require.True(t, ok)
	require.True(t, m.UpdateStatus(id, models.StatusDownloading))

	m.Add("a", record("a"))
	job, ok := m.Job("a")
	require.True(t, ok)
	assert.Equal(t, models.StatusQueued, job.Status)

	id, ok = m.GetNext()
	require.True(t, ok)
	assert.Equal(t, "a", id)
}

func TestUpdateUnknownIDIsNoop(t *testing.T) {
	m, _, _ := newTestManager(time.Hour, nil)
	m.Add("known", record("known"))

	assert.False(t, m.UpdateStatus("nonexistent", models.StatusDownloading))

	snap := m.GetStatus()
	assert.Equal(t, 1, snap.Count())
	assert.NotContains(t, snap[models.StatusDownloading], "nonexistent")
	assert.Equal(t, 1, m.Len())
}

func TestDownloadingShowsInSnapshot(t *testing.T) {
	m, clock, _ := newTestManager(time.Hour, nil)
	m.Add("a", record("a"))
	clock.Advance(time.Second)
	require.True(t, m.UpdateStatus("a", models.StatusDownloading))

	snap := m.GetStatus()
	assert.Contains(t, snap[models.StatusDownloading], "a")
	assert.Empty(t, snap[models.StatusQueued])

	job, ok := m.Job("a")
	require.True(t, ok)
	assert.Equal(t, clock.Now(), job.UpdatedAt)
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to models.QueueStatus
		want     bool
	}{
		{models.StatusQueued, models.StatusDownloading, true},
		{models.StatusQueued, models.StatusError, true},
		{models.StatusDownloading, models.StatusAvailable, true},
		{models.StatusDownloading, models.StatusError, true},
		{models.StatusAvailable, models.StatusDone, true},
		{models.StatusAvailable, models.StatusAvailable, true},
		{models.StatusDone, models.StatusQueued, false},
		{models.StatusAvailable, models.StatusDownloading, false},
		{models.StatusError, models.StatusAvailable, false},
		{models.StatusDownloading, models.QueueStatus("bogus"), false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestZeroTimeoutEvictsDoneOnly(t *testing.T) {
	m, _, _ := newTestManager(time.Hour, map[string]bool{"avail": true})
	for _, id := range []string{"queued", "dl", "avail", "err", "done1", "done2"} {
		m.Add(id, record(id))
	}
	m.UpdateStatus("dl", models.StatusDownloading)
	m.UpdateStatus("avail", models.StatusAvailable)
	m.UpdateStatus("err", models.StatusError)
	m.UpdateStatus("done1", models.StatusDone)
	m.UpdateStatus("done2", models.StatusDone)

	m.SetStatusTimeout(0)
	m.Refresh()

	snap := m.GetStatus()
	assert.Empty(t, snap[models.StatusDone])
	assert.Equal(t, []string{"queued"}, snap.IDs(models.StatusQueued))
	assert.Equal(t, []string{"dl"}, snap.IDs(models.StatusDownloading))
	assert.Equal(t, []string{"avail"}, snap.IDs(models.StatusAvailable))
	assert.Equal(t, []string{"err"}, snap.IDs(models.StatusError))
}

func TestEvictedJobLeavesPendingQueue(t *testing.T) {
	m, _, _ := newTestManager(time.Hour, nil)
	m.Add("a", record("a"))
	m.UpdateStatus("a", models.StatusDone)
	m.SetStatusTimeout(0)
	m.Refresh()

	_, ok := m.GetNext()
	assert.False(t, ok)
	_, ok = m.Job("a")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestDoneEvictedAfterTTL(t *testing.T) {
	m, clock, _ := newTestManager(time.Hour, nil)
	m.Add("a", record("a"))
	m.UpdateStatus("a", models.StatusDone)

	clock.Advance(59 * time.Minute)
	m.Refresh()
	assert.Equal(t, 1, m.Len())

	clock.Advance(2 * time.Minute)
	m.Refresh()
	assert.Equal(t, 0, m.Len())
}

func TestAvailableWithoutArtifactBecomesDone(t *testing.T) {
	m, clock, checker := newTestManager(time.Hour, map[string]bool{"kept": true})
	for _, id := range []string{"kept", "ingested"} {
		m.Add(id, record(id))
		m.UpdateStatus(id, models.StatusDownloading)
		m.UpdateStatus(id, models.StatusAvailable)
	}

	clock.Advance(time.Minute)
	snap := m.GetStatus()
	assert.Equal(t, []string{"kept"}, snap.IDs(models.StatusAvailable))
	assert.Equal(t, []string{"ingested"}, snap.IDs(models.StatusDone))
	assert.Positive(t, checker.calls)

	job, ok := m.Job("ingested")
	require.True(t, ok)
	assert.Equal(t, clock.Now(), job.UpdatedAt, "promotion refreshes the timestamp")

	// The promoted job survives until its own TTL runs out.
	clock.Advance(30 * time.Minute)
	assert.Contains(t, m.GetStatus()[models.StatusDone], "ingested")
	clock.Advance(31 * time.Minute)
	assert.NotContains(t, m.GetStatus()[models.StatusDone], "ingested")
}

func TestSnapshotNeverShowsExpiredDoneJobs(t *testing.T) {
	// With a zero timeout every done job is evicted by the refresh that
	// precedes the snapshot, so no snapshot may ever carry one.
	m := New(0, ArtifactCheckerFunc(func(string, models.Record) bool { return true }))
	const n = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range n {
			id := fmt.Sprintf("job-%d", i)
			m.Add(id, record(id))
			m.UpdateStatus(id, models.StatusDownloading)
			m.UpdateStatus(id, models.StatusDone)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		snap := m.GetStatus()
		require.Empty(t, snap[models.StatusDone])
		select {
		case <-done:
			assert.Empty(t, m.GetStatus()[models.StatusDone])
			return
		default:
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m, _, _ := newTestManager(time.Hour, nil)
	rec := record("a")
	rec.Info = map[string][]string{"ISBN-13": {"1"}}
	m.Add("a", rec)

	// Mutating the caller's record after Add must not leak in.
	rec.Info["ISBN-13"][0] = "changed"

	snap := m.GetStatus()
	got := snap[models.StatusQueued]["a"]
	assert.Equal(t, "1", got.Info["ISBN-13"][0])

	got.Info["ISBN-13"][0] = "mutated"
	got.DownloadURLs[0] = "mutated"
	again := m.GetStatus()[models.StatusQueued]["a"]
	assert.Equal(t, "1", again.Info["ISBN-13"][0])
	assert.Equal(t, "https://mirror.example/a", again.DownloadURLs[0])
}

func TestConcurrentAddAndUpdate(t *testing.T) {
	m := New(time.Hour, ArtifactCheckerFunc(func(string, models.Record) bool { return true }))
	const n = 100

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("book-%d", i)
			m.Add(id, record(id))
			m.UpdateStatus(id, models.StatusDownloading)
			if i%2 == 0 {
				m.UpdateStatus(id, models.StatusAvailable)
			}
			_ = m.GetStatus()
		}(i)
	}
	wg.Wait()

	snap := m.GetStatus()
	assert.Equal(t, n, snap.Count())
	assert.Len(t, snap[models.StatusDownloading], n/2)
	assert.Len(t, snap[models.StatusAvailable], n/2)
	for i := range n {
		id := fmt.Sprintf("book-%d", i)
		want := models.StatusDownloading
		if i%2 == 0 {
			want = models.StatusAvailable
		}
		assert.Contains(t, snap[want], id)
	}
}

func TestConcurrentGetNextClaimsEachIDOnce(t *testing.T) {
	m := New(time.Hour, nil)
	const n = 200
	for i := range n {
		id := fmt.Sprintf("b%d", i)
		m.Add(id, record(id))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[string]int)
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				id, ok := m.GetNext()
				if !ok {
					return
				}
				mu.Lock()
				claimed[id]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, n)
	for id, count := range claimed {
		assert.Equal(t, 1, count, id)
	}
}

func TestEveryStatusRoundTrips(t *testing.T) {
	for _, status := range models.AllStatuses {
		t.Run(string(status), func(t *testing.T) {
			m, _, _ := newTestManager(time.Hour, map[string]bool{"x": true})
			m.Add("x", record("x"))
			require.True(t, m.UpdateStatus("x", status))
			assert.Contains(t, m.GetStatus()[status], "x")
		})
	}
}
