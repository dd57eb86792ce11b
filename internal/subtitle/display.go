package subtitle

import (
	"sync"
	"time"
)

// Display renders one line of caption text somewhere a user can see it.
type Display interface {
	ShowText(text string)
	Clear()
}

// Displays is a registry of caption displays keyed by speaker, so each
// remote speaker's words appear on their own surface. Captions for a
// speaker with no registered display go to the default display when one
// is set.
type Displays struct {
	mu         sync.Mutex
	bySpeaker  map[uint64]Display
	defaultOut Display
}

// NewDisplays creates an empty display registry.
func NewDisplays() *Displays {
	return &Displays{bySpeaker: make(map[uint64]Display)}
}

// Register binds a display to a speaker, replacing any previous binding.
func (d *Displays) Register(speakerID uint64, display Display) {
	d.mu.Lock()
	d.bySpeaker[speakerID] = display
	d.mu.Unlock()
}

// Unregister removes a speaker's display binding.
func (d *Displays) Unregister(speakerID uint64) {
	d.mu.Lock()
	delete(d.bySpeaker, speakerID)
	d.mu.Unlock()
}

// SetDefault installs the display used for speakers without a binding.
func (d *Displays) SetDefault(display Display) {
	d.mu.Lock()
	d.defaultOut = display
	d.mu.Unlock()
}

// Dispatch shows a caption on the speaker's display. Captions with no
// matching display are discarded.
func (d *Displays) Dispatch(c Caption) {
	d.mu.Lock()
	display, ok := d.bySpeaker[c.SpeakerID]
	if !ok {
		display = d.defaultOut
	}
	d.mu.Unlock()

	if display != nil {
		display.ShowText(c.Text)
	}
}

// HoldDisplay wraps another display and clears it after a hold period with
// no new text. Every ShowText restarts the timer.
type HoldDisplay struct {
	inner Display
	hold  time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewHoldDisplay wraps a display with an auto-clear timer. A hold of zero
// defaults to 3 seconds.
func NewHoldDisplay(inner Display, hold time.Duration) *HoldDisplay {
	if hold <= 0 {
		hold = 3 * time.Second
	}
	return &HoldDisplay{inner: inner, hold: hold}
}

// ShowText forwards the text and restarts the clear timer.
func (h *HoldDisplay) ShowText(text string) {
	h.inner.ShowText(text)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(h.hold, h.Clear)
}

// Clear clears the wrapped display and cancels any pending timer.
func (h *HoldDisplay) Clear() {
	h.mu.Lock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.mu.Unlock()

	h.inner.Clear()
}
