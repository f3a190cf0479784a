// Package sentinel turns a generic visibility signal into a near-end-of-list
// event.
package sentinel

// Adapter fires at most once per not-visible to visible transition while
// armed. Firing disarms it until Rearm. It knows nothing about the feed; the
// receiver decides whether the event leads to a fetch.
type Adapter struct {
	fire    func()
	armed   bool
	visible bool
	fired   uint64
}

// New returns an armed Adapter that calls fire on the near-end event.
func New(fire func()) *Adapter {
	return &Adapter{fire: fire, armed: true}
}

// SetVisible reports the current visibility of the end-of-list marker.
func (a *Adapter) SetVisible(visible bool) {
	wasVisible := a.visible
	a.visible = visible
	if visible && !wasVisible {
		a.trigger()
	}
}

// Rearm enables the next firing. If the marker is still visible the event
// fires right away, since the list grew without pushing the marker out of
// view.
func (a *Adapter) Rearm() {
	if a.armed {
		return
	}
	a.armed = true
	if a.visible {
		a.trigger()
	}
}

// Visible reports the last visibility signal.
func (a *Adapter) Visible() bool { return a.visible }

// Armed reports whether the next transition will fire.
func (a *Adapter) Armed() bool { return a.armed }

// Fired returns the number of emitted events.
func (a *Adapter) Fired() uint64 { return a.fired }

func (a *Adapter) trigger() {
	if !a.armed {
		return
	}
	a.armed = false
	a.fired++
	a.fire()
}
