// Package httpdownload implements the HTTP Segmented Downloader:
// probing a URL for size and range support, splitting it into near-equal
// byte-range segments, driving one retrying worker per segment, and
// verifying an optional whole-file checksum on completion.
package httpdownload

import (
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/gosh-dl/gosh/core"
	"github.com/gosh-dl/gosh/lib/ratelimit"
)

// Events is the callback surface the owning engine implements to learn
// about a download's progress and terminal outcome.
type Events interface {
	OnProgress(id core.DownloadID, completedSize int64, totalSize *int64, connections int)
	OnComplete(id core.DownloadID)
	OnFailed(id core.DownloadID, err *core.Error)
}

// Downloader drives a single HTTP download from probe through completion.
// One Downloader is owned by exactly one core.DownloadID of KindHTTP.
type Downloader struct {
	config     Config
	clk        clock.Clock
	logger     *zap.SugaredLogger
	limiter    *ratelimit.Limiter
	downloadID core.DownloadID
	url        string
	opts       core.DownloadOptions
	events     Events
	headers    http.Header

	mu        sync.RWMutex
	finalURL  string
	totalSize int64 // -1 until known
	ranged    bool
	segments  []*segment
	file      *outputFile

	downloaded atomic.Int64

	// seeded marks that d.segments/d.totalSize/d.downloaded were populated
	// from a persisted resume blob (Seed) rather than a fresh probe, so the
	// first run() should skip planSegments and still apply the seeded
	// resume-time size check that otherwise only fires on in-process Pause
	// -> Resume.
	seeded bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// SegmentSnapshot is a point-in-time view of one segment's byte range and
// completed offset, the shape the engine checkpoints into
// persistence.HTTPSegment rows every 5s and on every state transition
// and replays through Seed on a process restart.
type SegmentSnapshot struct {
	Index     int
	Start     int64
	End       int64
	Completed int64
}

// NewDownloader constructs a Downloader for one HTTP download. Call Start
// to begin the probe/segment/download pipeline.
func NewDownloader(
	config Config,
	clk clock.Clock,
	logger *zap.SugaredLogger,
	limiter *ratelimit.Limiter,
	downloadID core.DownloadID,
	rawURL string,
	opts core.DownloadOptions,
	events Events,
) *Downloader {
	config = config.applyDefaults()
	return &Downloader{
		config:     config,
		clk:        clk,
		logger:     logger,
		limiter:    limiter,
		downloadID: downloadID,
		url:        rawURL,
		opts:       opts,
		events:     events,
		headers:    buildHeaders(config, opts),
		totalSize:  -1,
	}
}

// Start begins the download: probe, segmentation, and workers all run
// asynchronously so the caller (typically the engine's admission loop)
// never blocks on network I/O.
func (d *Downloader) Start() {
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go d.run(false)
}

// Seed pre-populates segment state from a persisted resume blob before the
// first Start, so a process restart resumes mid-segment instead of
// re-downloading from byte zero; the resume blob accelerates
// probe-skipping. Must be called before Start.
func (d *Downloader) Seed(segs []SegmentSnapshot) {
	if len(segs) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.segments = make([]*segment, len(segs))
	var total, downloaded int64
	for i, s := range segs {
		d.segments[i] = &segment{Index: s.Index, Start: s.Start, End: s.End, completed: s.Completed}
		if s.End+1 > total {
			total = s.End + 1
		}
		downloaded += s.Completed
	}
	d.totalSize = total
	d.ranged = len(segs) > 1
	d.seeded = true
	d.downloaded.Store(downloaded)
}

// Resume re-enters the probe phase to confirm the total size hasn't
// changed, then restarts segment workers at their checkpointed
// offsets. Calling Resume before any Start/Pause has no defined checkpoint
// to resume from and behaves like Start.
func (d *Downloader) Resume() {
	resuming := d.file != nil
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go d.run(resuming)
}

// Pause signals every running segment worker to stop after its current
// read and blocks until they do; segment offsets remain checkpointed in
// memory for a subsequent Resume.
func (d *Downloader) Pause() {
	d.closeStop()
	d.wg.Wait()
}

// TearDown stops any in-flight workers and releases the output file,
// called on cancel (the engine deletes the file afterward if requested).
func (d *Downloader) TearDown() {
	d.closeStop()
	d.wg.Wait()
	if d.file != nil {
		d.file.close()
	}
}

func (d *Downloader) closeStop() {
	if d.stop == nil {
		return
	}
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
}

func (d *Downloader) run(resuming bool) {
	defer d.wg.Done()

	result, err := probe(d.config, d.url, d.opts)
	if err != nil {
		d.finish(core.NewError(core.ErrNetwork, "probe %s: %s", d.url, err))
		return
	}

	d.mu.Lock()
	checkSize := resuming || d.seeded
	if checkSize && d.totalSize > 0 && result.TotalSize > 0 && result.TotalSize != d.totalSize {
		d.mu.Unlock()
		d.finish(core.NewError(core.ErrSizeChanged,
			"resume: size changed from %d to %d", d.totalSize, result.TotalSize))
		return
	}
	d.finalURL = result.FinalURL
	if !checkSize {
		d.totalSize = result.TotalSize
		d.ranged = result.AcceptsRanges
	}
	needPlan := !resuming && !d.seeded
	wasSeeded := d.seeded
	d.seeded = false
	sizeForFile := result.TotalSize
	if sizeForFile <= 0 && wasSeeded {
		sizeForFile = d.totalSize
	}
	d.mu.Unlock()

	if !resuming {
		file, err := openOutputFile(d.outputPath(), sizeForFile)
		if err != nil {
			d.finish(core.NewError(core.ErrIO, "open output file: %s", err))
			return
		}
		d.file = file
		if needPlan {
			d.segments = planSegments(result.TotalSize, result.AcceptsRanges, d.maxConnections(), d.config.MinSegmentSize)
		}
	}

	d.runSegments()
}

// Segments returns a point-in-time snapshot of every segment's byte range
// and completed offset, the engine's source for SaveHTTPSegments
// checkpoints.
func (d *Downloader) Segments() []SegmentSnapshot {
	d.mu.RLock()
	segs := d.segments
	d.mu.RUnlock()

	out := make([]SegmentSnapshot, len(segs))
	for i, seg := range segs {
		out[i] = SegmentSnapshot{Index: seg.Index, Start: seg.Start, End: seg.End, Completed: seg.progress()}
	}
	return out
}

func (d *Downloader) runSegments() {
	progressStop := make(chan struct{})
	go d.progressLoop(progressStop)
	defer close(progressStop)

	var wg sync.WaitGroup
	errCh := make(chan error, len(d.segments))
	for _, seg := range d.segments {
		if seg.done() {
			continue
		}
		wg.Add(1)
		go func(seg *segment) {
			defer wg.Done()
			errCh <- d.runSegment(seg)
		}(seg)
	}
	wg.Wait()
	close(errCh)

	select {
	case <-d.stop:
		return // paused mid-flight; segment offsets stay checkpointed
	default:
	}

	for err := range errCh {
		if err != nil && err != errPaused {
			d.finish(toDownloadError(err))
			return
		}
	}
	d.completeDownload()
}

func (d *Downloader) completeDownload() {
	if err := d.file.close(); err != nil {
		d.finish(core.NewError(core.ErrIO, "close output file: %s", err))
		return
	}
	if d.opts.Checksum != nil {
		if err := verifyChecksum(d.outputPath(), *d.opts.Checksum); err != nil {
			d.finish(err.(*core.Error))
			return
		}
	}
	d.finish(nil)
}

func (d *Downloader) finish(err *core.Error) {
	if err != nil {
		d.events.OnFailed(d.downloadID, err)
		return
	}
	d.events.OnComplete(d.downloadID)
}

func toDownloadError(err error) *core.Error {
	if pe, ok := err.(permanentSegmentError); ok {
		err = pe.Err
	}
	if ce, ok := err.(*core.Error); ok {
		return ce
	}
	return core.NewError(core.ErrNetwork, "%s", err)
}

func (d *Downloader) maxConnections() int {
	if d.opts.MaxConnections != nil {
		return *d.opts.MaxConnections
	}
	return d.config.MaxConnectionsPerDownload
}

func (d *Downloader) outputPath() string {
	name := d.opts.Filename
	if name == "" {
		name = filenameFromURL(d.url)
	}
	return filepath.Join(d.opts.SaveDir, name)
}

// OutputPath returns the destination file path this download writes to, so
// the engine can unlink it on a file-deleting cancel after TearDown has
// released the handle.
func (d *Downloader) OutputPath() string {
	return d.outputPath()
}

func filenameFromURL(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := filepath.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return "download"
}

func (d *Downloader) progressLoop(stop chan struct{}) {
	ticker := d.clk.Ticker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.reportProgress()
		case <-stop:
			return
		}
	}
}

func (d *Downloader) reportProgress() {
	d.mu.RLock()
	var total *int64
	if d.totalSize > 0 {
		t := d.totalSize
		total = &t
	}
	conns := len(d.segments)
	d.mu.RUnlock()
	d.events.OnProgress(d.downloadID, d.downloaded.Load(), total, conns)
}

// Snapshot returns the current progress view for a status query.
func (d *Downloader) Snapshot() core.Progress {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var total *int64
	if d.totalSize > 0 {
		t := d.totalSize
		total = &t
	}
	return core.Progress{
		CompletedSize: d.downloaded.Load(),
		TotalSize:     total,
		Connections:   len(d.segments),
	}
}
