// Package preview serves the live MJPEG feeds and mirrors frames into Redis
// for out-of-process consumers.
package preview

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/technosupport/ppe-sentinel/internal/pipeline"
)

const (
	// frameInterval paces the multipart writer at roughly 30 fps.
	frameInterval = 33 * time.Millisecond

	// annotatedMaxAge and rawMaxAge decide when a slot is too stale to
	// serve. Annotated frames go stale faster because detection may lag
	// capture without the stream being dead.
	annotatedMaxAge = 5 * time.Second
	rawMaxAge       = 10 * time.Second

	staleLogInterval = 5 * time.Second
)

type Handler struct {
	frames *pipeline.Frames
}

func NewHandler(frames *pipeline.Frames) *Handler {
	return &Handler{frames: frames}
}

// VideoFeed streams multipart JPEG for one camera until the client hangs up.
// Prefers the annotated slot, falls back to the raw slot, and serves the
// freeze placeholder when both are stale so the player never sees a frozen
// last frame without saying so.
func (h *Handler) VideoFeed(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid camera id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")
	// Keeps nginx from buffering the stream into uselessness.
	w.Header().Set("X-Accel-Buffering", "no")

	slots := h.frames.Slots(id)
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	var lastStaleLog time.Time
	for {
		frame := h.pickFrame(slots, time.Now(), id, &lastStaleLog)
		if len(frame) > 0 {
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n"); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Handler) pickFrame(slots *pipeline.CameraFrames, now time.Time, id int64, lastStaleLog *time.Time) []byte {
	if data, ts := slots.Annotated.Get(); len(data) > 0 && now.Sub(ts) <= annotatedMaxAge {
		return data
	}
	if data, ts := slots.Raw.Get(); len(data) > 0 && now.Sub(ts) <= rawMaxAge {
		return data
	}
	if now.Sub(*lastStaleLog) >= staleLogInterval {
		*lastStaleLog = now
		log.Printf("[Preview] cctv %d has no fresh frame, serving freeze placeholder", id)
	}
	return pipeline.PlaceholderFreeze()
}
