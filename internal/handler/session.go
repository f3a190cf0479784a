package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/AikioCorp/buy-web-sub002/internal/feed"
)

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Create(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	st := s.Feed()
	writeJSON(w, http.StatusCreated, render(func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(s.ID())
		e.FieldStart("feed")
		h.encodeFeed(e, st, feed.Display{})
		e.ObjEnd()
	}))
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// query feeds a keystroke to the aggregator. The response carries the
// snapshot as of this turn; debounced results arrive on the stream or a later
// GET of the suggestions.
func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	data, err := h.readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	text, err := decodeQuery(data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	set, err := s.Query(r.Context(), text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, render(func(e *jx.Encoder) { h.encodeSet(e, set) }))
}

func (h *Handler) suggestions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	set := s.Suggestions()
	writeJSON(w, http.StatusOK, render(func(e *jx.Encoder) { h.encodeSet(e, set) }))
}

func (h *Handler) selectSuggestion(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	data, err := h.readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sug, err := decodeSelection(data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	intent, err := s.Select(r.Context(), sug)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, render(func(e *jx.Encoder) { encodeIntent(e, intent) }))
}

func (h *Handler) setFilter(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	data, err := h.readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := decodeFilter(data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := s.SetFilter(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, render(func(e *jx.Encoder) { h.encodeFeed(e, st, feed.Display{}) }))
}

func (h *Handler) sentinel(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	data, err := h.readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	visible, err := decodeVisible(data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := s.SetVisible(r.Context(), visible); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	st, err := s.Retry(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, render(func(e *jx.Encoder) { h.encodeFeed(e, st, feed.Display{}) }))
}

func (h *Handler) feed(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	d, err := parseDisplay(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	st := s.Feed()
	writeJSON(w, http.StatusOK, render(func(e *jx.Encoder) { h.encodeFeed(e, st, d) }))
}
