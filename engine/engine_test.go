package engine

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gosh-dl/gosh/core"
	"github.com/gosh-dl/gosh/lib/persistence"
)

func configFixture(t *testing.T) Config {
	tmpdir := t.TempDir()
	var c Config
	c.Engine.DownloadDir = filepath.Join(tmpdir, "downloads")
	c.Persistence.Path = filepath.Join(tmpdir, "gosh.db")
	c.ListenAddr = "127.0.0.1:0"
	return c
}

func engineFixture(t *testing.T, config Config) *Engine {
	e, err := New(config, nil, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	return e
}

// fileServer serves a fixed payload with full range support.
func fileServer(t *testing.T, payload []byte) *httptest.Server {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "payload.bin", time.Time{}, bytes.NewReader(payload))
	}))
	t.Cleanup(s.Close)
	return s
}

// slowServer advertises size bytes and range support but trickles the body
// out a small chunk at a time, so a download against it stays in flight
// long enough for pause/demotion tests to observe it mid-transfer.
func slowServer(t *testing.T, size int64) *httptest.Server {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == "HEAD" {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
			w.WriteHeader(http.StatusOK)
			return
		}
		var start, end int64
		end = size - 1
		if rg := r.Header.Get("Range"); rg != "" {
			fmt.Sscanf(rg, "bytes=%d-%d", &start, &end)
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
			w.Header().Set("Content-Length", fmt.Sprintf("%d", end-start+1))
			w.WriteHeader(http.StatusPartialContent)
		} else {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
			w.WriteHeader(http.StatusOK)
		}
		flusher := w.(http.Flusher)
		chunk := make([]byte, 1024)
		for sent := start; sent <= end; sent += int64(len(chunk)) {
			n := end - sent + 1
			if n > int64(len(chunk)) {
				n = int64(len(chunk))
			}
			if _, err := w.Write(chunk[:n]); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func waitForState(t *testing.T, e *Engine, id core.DownloadID, want core.DownloadState) {
	require.Eventually(t, func() bool {
		s, err := e.Status(id)
		return err == nil && s.State == want
	}, 10*time.Second, 20*time.Millisecond, "download never reached %s", want)
}

func TestAddHTTPRejectsInvalidURL(t *testing.T) {
	require := require.New(t)
	e := engineFixture(t, configFixture(t))

	for _, raw := range []string{"", "not a url", "ftp://example.test/f.bin", "https://"} {
		_, err := e.AddHTTP(raw, core.DefaultDownloadOptions())
		require.Error(err, "url %q", raw)
		ce, ok := err.(*core.Error)
		require.True(ok)
		require.Equal(core.ErrInvalidInput, ce.Kind)
		require.False(ce.Recoverable)
	}
	require.Empty(e.List())
}

func TestAddMagnetRejectsMalformedURI(t *testing.T) {
	require := require.New(t)
	e := engineFixture(t, configFixture(t))

	_, err := e.AddMagnet("magnet:?xt=urn:btih:tooshort", core.DefaultDownloadOptions())
	require.Error(err)
	ce, ok := err.(*core.Error)
	require.True(ok)
	require.Equal(core.ErrInvalidInput, ce.Kind)
	require.Empty(e.List())
}

func TestAddTorrentRejectsCorruptMetafile(t *testing.T) {
	require := require.New(t)
	e := engineFixture(t, configFixture(t))

	_, err := e.AddTorrent([]byte("d4:infoi1e"), core.DefaultDownloadOptions())
	require.Error(err)
	require.Empty(e.List())
}

func TestHTTPDownloadCompletes(t *testing.T) {
	require := require.New(t)

	payload := make([]byte, 4<<20)
	_, err := rand.Read(payload)
	require.NoError(err)
	server := fileServer(t, payload)

	config := configFixture(t)
	e := engineFixture(t, config)

	sub := e.Subscribe()
	defer sub.Close()

	maxConns := 4
	id, err := e.AddHTTP(server.URL+"/payload.bin", core.DownloadOptions{
		Priority:       core.PriorityNormal,
		MaxConnections: &maxConns,
	})
	require.NoError(err)

	var completed bool
	deadline := time.After(15 * time.Second)
	for !completed {
		select {
		case ev := <-sub.Events():
			if ev.Kind == core.EventCompleted && ev.ID == id {
				completed = true
			}
			if ev.Kind == core.EventFailed {
				t.Fatalf("download failed: %v", ev.Err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for Completed event")
		}
	}

	status, err := e.Status(id)
	require.NoError(err)
	require.Equal(core.StateCompleted, status.State)
	require.NotNil(status.CompletedAt)

	written, err := os.ReadFile(filepath.Join(config.Engine.DownloadDir, "payload.bin"))
	require.NoError(err)
	require.True(bytes.Equal(payload, written))
}

func TestPauseResumeCancel(t *testing.T) {
	require := require.New(t)

	server := slowServer(t, 10<<20)
	config := configFixture(t)
	e := engineFixture(t, config)

	id, err := e.AddHTTP(server.URL+"/big.bin", core.DefaultDownloadOptions())
	require.NoError(err)
	waitForState(t, e, id, core.StateDownloading)

	require.NoError(e.Pause(id))
	status, err := e.Status(id)
	require.NoError(err)
	require.Equal(core.StatePaused, status.State)

	// Paused state survives in persistence too.
	record, err := e.store.LoadRecord(id)
	require.NoError(err)
	require.Equal(core.StatePaused, record.State)

	// Pausing again is a no-op.
	require.NoError(e.Pause(id))

	require.NoError(e.Resume(id))
	waitForState(t, e, id, core.StateDownloading)

	require.NoError(e.Cancel(id, true))
	_, err = e.Status(id)
	require.Equal(ErrNotFound, err)
	require.Empty(e.List())

	_, err = os.Stat(filepath.Join(config.Engine.DownloadDir, "big.bin"))
	require.True(os.IsNotExist(err))
}

func TestPriorityPreemption(t *testing.T) {
	require := require.New(t)

	server := slowServer(t, 10<<20)
	config := configFixture(t)
	config.Engine.MaxConcurrentDownloads = 1
	e := engineFixture(t, config)

	lowOpts := core.DefaultDownloadOptions()
	lowOpts.Priority = core.PriorityLow
	lowID, err := e.AddHTTP(server.URL+"/low.bin", lowOpts)
	require.NoError(err)
	waitForState(t, e, lowID, core.StateDownloading)

	criticalOpts := core.DefaultDownloadOptions()
	criticalOpts.Priority = core.PriorityCritical
	criticalID, err := e.AddHTTP(server.URL+"/critical.bin", criticalOpts)
	require.NoError(err)

	waitForState(t, e, lowID, core.StateQueued)
	require.Eventually(func() bool {
		s, err := e.Status(criticalID)
		return err == nil && s.State.Active()
	}, 10*time.Second, 20*time.Millisecond)

	require.Len(e.Active(), 1)
	require.Len(e.Waiting(), 1)
}

func TestSetPriorityResortsQueue(t *testing.T) {
	require := require.New(t)

	server := slowServer(t, 10<<20)
	config := configFixture(t)
	config.Engine.MaxConcurrentDownloads = 1
	e := engineFixture(t, config)

	firstID, err := e.AddHTTP(server.URL+"/first.bin", core.DefaultDownloadOptions())
	require.NoError(err)
	waitForState(t, e, firstID, core.StateDownloading)

	secondID, err := e.AddHTTP(server.URL+"/second.bin", core.DefaultDownloadOptions())
	require.NoError(err)
	status, err := e.Status(secondID)
	require.NoError(err)
	require.Equal(core.StateQueued, status.State)

	// Bumping the queued download above the running one preempts it.
	require.NoError(e.SetPriority(secondID, core.PriorityCritical))
	waitForState(t, e, firstID, core.StateQueued)

	require.Error(e.SetPriority(secondID, core.DownloadPriority(99)))
}

func TestRecoveryRequeuesPersistedRecords(t *testing.T) {
	require := require.New(t)

	config := configFixture(t)
	config.AdmissionTick = time.Hour // freeze admission so recovered states are observable

	store, err := persistence.Open(config.Persistence)
	require.NoError(err)

	now := time.Now()
	completedAt := now
	records := map[core.DownloadState]*persistence.Record{
		core.StateCompleted: {
			ID: core.DownloadIDFixture(), Kind: core.KindHTTP,
			Options: core.DownloadOptionsFixture(), State: core.StateCompleted,
			Source: []byte("https://example.test/done.bin"), CreatedAt: now, CompletedAt: &completedAt,
		},
		core.StatePaused: {
			ID: core.DownloadIDFixture(), Kind: core.KindHTTP,
			Options: core.DownloadOptionsFixture(), State: core.StatePaused,
			Source: []byte("https://example.test/paused.bin"), CreatedAt: now,
		},
		core.StateDownloading: {
			ID: core.DownloadIDFixture(), Kind: core.KindHTTP,
			Options: core.DownloadOptionsFixture(), State: core.StateDownloading,
			Source: []byte("https://example.test/inflight.bin"), CreatedAt: now,
		},
		core.StateError: {
			ID: core.DownloadIDFixture(), Kind: core.KindHTTP,
			Options: core.DownloadOptionsFixture(), State: core.StateError,
			Source: []byte("https://example.test/fatal.bin"), CreatedAt: now,
			Err:    core.NewError(core.ErrChecksumMismatch, "digest mismatch"),
		},
	}
	for _, r := range records {
		require.NoError(store.SaveRecord(r))
	}
	require.NoError(store.Close())

	e := engineFixture(t, config)
	require.Len(e.List(), len(records))

	expect := map[core.DownloadID]core.DownloadState{
		records[core.StateCompleted].ID:   core.StateCompleted,
		records[core.StatePaused].ID:      core.StatePaused,
		records[core.StateDownloading].ID: core.StateQueued,
		records[core.StateError].ID:       core.StateError,
	}
	for id, want := range expect {
		status, err := e.Status(id)
		require.NoError(err)
		require.Equal(want, status.State, "record %s", id.Short())
	}
}

func TestGlobalStats(t *testing.T) {
	require := require.New(t)

	server := slowServer(t, 10<<20)
	config := configFixture(t)
	config.Engine.MaxConcurrentDownloads = 1
	e := engineFixture(t, config)

	firstID, err := e.AddHTTP(server.URL+"/a.bin", core.DefaultDownloadOptions())
	require.NoError(err)
	_, err = e.AddHTTP(server.URL+"/b.bin", core.DefaultDownloadOptions())
	require.NoError(err)
	waitForState(t, e, firstID, core.StateDownloading)

	stats := e.GlobalStats()
	require.Equal(1, stats.ActiveDownloads)
	require.Equal(1, stats.QueuedDownloads)
}

func TestSubscribeObservesLifecycleEvents(t *testing.T) {
	require := require.New(t)

	payload := make([]byte, 64<<10)
	server := fileServer(t, payload)
	e := engineFixture(t, configFixture(t))

	sub := e.Subscribe()
	defer sub.Close()

	id, err := e.AddHTTP(server.URL+"/small.bin", core.DefaultDownloadOptions())
	require.NoError(err)

	seen := make(map[core.DownloadEventKind]bool)
	deadline := time.After(15 * time.Second)
	for !seen[core.EventCompleted] {
		select {
		case ev := <-sub.Events():
			require.Equal(id, ev.ID)
			seen[ev.Kind] = true
		case <-deadline:
			t.Fatalf("timed out; saw %v", seen)
		}
	}
	require.True(seen[core.EventAdded])
	require.True(seen[core.EventStateChanged])
}

func TestShutdownIsIdempotent(t *testing.T) {
	e := engineFixture(t, configFixture(t))
	e.Shutdown()
	// The fixture cleanup calls Shutdown again.
}
