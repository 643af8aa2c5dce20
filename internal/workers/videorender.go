package workers

import (
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/ethan/termcast-hub/internal/ascii"
	"github.com/ethan/termcast-hub/internal/client"
)

// lagWarnLimit rate-limits lag warnings from both render workers to one
// line per five seconds per worker.
func lagWarnLimit() *rate.Limiter {
	return rate.NewLimiter(rate.Every(5*time.Second), 1)
}

// shutdownPollInterval chunks worker sleeps so shutdown is observed at
// least every ~100 ms.
const shutdownPollInterval = 100 * time.Millisecond

// sleepInterruptible sleeps for d in bounded chunks, returning early when
// the record or host is shutting down.
func sleepInterruptible(d time.Duration, rec *client.Record, deps *Deps) {
	for d > 0 {
		if !rec.Active.Load() || rec.ShuttingDown.Load() || deps.Exiting() {
			return
		}
		chunk := d
		if chunk > shutdownPollInterval {
			chunk = shutdownPollInterval
		}
		time.Sleep(chunk)
		d -= chunk
	}
}

// VideoRenderWorker runs rec's per-client video compositor: at the
// client's clamped FPS it snapshots the set of video-sending peers, reads
// each peer's latest ingress frame, converts and tiles them into one
// personalized ASCII frame, and publishes it to rec's egress double buffer.
func VideoRenderWorker(rec *client.Record, deps *Deps) {
	log := deps.Logger.With("client_id", rec.ID, "worker", "video_render")
	defer func() {
		if r := recover(); r != nil {
			log.Error("video render worker panicked", "panic", r)
			if deps.Callbacks.OnError != nil {
				deps.Callbacks.OnError(rec.ID, errPanic(r))
			}
		}
	}()

	warn := lagWarnLimit()
	fps := deps.ClampFPS(rec.Caps().DesiredFPS)
	pacer := NewPacer(time.Second / time.Duration(fps))

	for rec.Active.Load() && !rec.ShuttingDown.Load() && !deps.Exiting() {
		// The client may renegotiate its FPS via CLIENT_CAPABILITIES at
		// any time; re-derive the pacer when it changes.
		if newFPS := deps.ClampFPS(rec.Caps().DesiredFPS); newFPS != fps {
			fps = newFPS
			pacer = NewPacer(time.Second / time.Duration(fps))
		}

		start := time.Now()
		if deps.RenderOn() {
			if k := RenderVideoFrame(rec, deps); k > 0 {
				log.DebugRender("published frame", "sources", k)
			}
		}

		if elapsed := time.Since(start); elapsed > pacer.Interval()*3/2 && warn.Allow() {
			log.Warn("video render lagging", "elapsed", elapsed, "target", pacer.Interval())
		}

		sleepInterruptible(pacer.Tick(0, 0), rec, deps)
	}
}

// RenderVideoFrame performs one compositor tick for rec: snapshot peers,
// compose, publish. It returns the number of grid sources rendered (0
// means nothing was published this tick). Exposed at
// this granularity so the host's test surface can drive single ticks.
func RenderVideoFrame(rec *client.Record, deps *Deps) int {
	caps := rec.Caps()
	if caps.TerminalWidth <= 0 || caps.TerminalHeight <= 0 {
		return 0
	}

	// Snapshot the sending peers under the registry read lock, then
	// release it before any conversion work.
	peers := deps.Registry.Peers(rec.ID)
	sending := peers[:0]
	for _, p := range peers {
		if p.Active.Load() && p.IsSendingVideo.Load() {
			sending = append(sending, p)
		}
	}
	k := len(sending)
	if k == 0 {
		return 0
	}
	sort.Slice(sending, func(i, j int) bool { return sending[i].ID < sending[j].ID })

	rows, cols := ascii.GridDimensions(k)
	cellW := caps.TerminalWidth / cols
	cellH := caps.TerminalHeight / rows
	if cellW < 1 {
		cellW = 1
	}
	if cellH < 1 {
		cellH = 1
	}

	opts := ascii.ConvertOptions{
		Caps:           ascii.ColorLevel(caps.ColorLevel),
		PreserveAspect: !caps.WantsStretch,
		Stretch:        caps.WantsStretch,
		PaletteChars:   caps.PaletteCustomChars,
	}

	cells := make([]string, k)
	for i, p := range sending {
		frame := p.IngressVideo.ReadLatest()
		if frame.SequenceNumber == 0 {
			// No frame published yet: placeholder of the same cell size.
			cells[i] = ascii.ConvertCell(nil, 0, 0, cellW, cellH, opts)
			continue
		}
		cells[i] = ascii.ConvertCell(frame.Data, frame.Width, frame.Height, cellW, cellH, opts)
	}

	grid := ascii.ComposeGrid(cells, k, cols)

	slot := rec.EgressVideo.BeginWrite()
	slot.Data = []byte(grid)
	slot.Width = caps.TerminalWidth
	slot.Height = caps.TerminalHeight
	slot.CaptureTimestamp = time.Now().UnixMicro()
	rec.EgressVideo.Commit()
	rec.LastRenderedGridSources.Store(int64(k))
	return k
}
