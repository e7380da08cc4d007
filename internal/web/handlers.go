package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"parkcal/internal/feed"
	"parkcal/internal/ics"
	appLog "parkcal/internal/log"
	"parkcal/internal/model"
	"parkcal/internal/status"
)

// defaultView is what /api/events shows without ?view=.
const defaultView = status.CurrentlyActive

type eventsResponse struct {
	View        string        `json:"view"`
	Now         time.Time     `json:"now"`
	Timezone    string        `json:"timezone"`
	LastUpdated *time.Time    `json:"last_updated"`
	LastError   string        `json:"last_error,omitempty"`
	Count       int           `json:"count"`
	Cards       []status.Card `json:"cards"`
}

type refreshResponse struct {
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// filtered resolves ?view= and returns the matching events of the current
// snapshot. It writes the error response itself and returns ok=false.
func (s *Server) filtered(w http.ResponseWriter, r *http.Request) (status.View, []model.ParkingEvent, feed.Snapshot, time.Time, bool) {
	view := defaultView
	if q := r.URL.Query().Get("view"); q != "" {
		v, err := status.ParseView(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return 0, nil, feed.Snapshot{}, time.Time{}, false
		}
		view = v
	}

	now := s.now()
	snap := s.store.Snapshot()
	events, err := s.engine.Filter(snap.Events, view, now)
	if err != nil {
		appLog.Error("api events: filter failed", err, "view", view.String())
		writeError(w, http.StatusInternalServerError, "failed to filter events")
		return 0, nil, feed.Snapshot{}, time.Time{}, false
	}
	return view, events, snap, now, true
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	view, events, snap, now, ok := s.filtered(w, r)
	if !ok {
		return
	}

	cards := status.Cards(events, now, s.loc)
	resp := eventsResponse{
		View:     view.String(),
		Now:      now,
		Timezone: s.loc.String(),
		Count:    len(cards),
		Cards:    cards,
	}
	if !snap.UpdatedAt.IsZero() {
		updated := snap.UpdatedAt
		resp.LastUpdated = &updated
	}
	if snap.LastError != nil {
		resp.LastError = snap.LastError.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEventsICS(w http.ResponseWriter, r *http.Request) {
	view, events, _, now, ok := s.filtered(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="parkcal-`+view.String()+`.ics"`)
	err := ics.WriteCalendar(w, events, ics.ExportOptions{
		Name:     "Event parking (" + view.String() + ")",
		Timezone: s.cfg.Timezone,
		Stamp:    now,
	})
	if err != nil {
		appLog.Error("api events.ics: write failed", err)
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.refreshContext(r.Context())
	defer cancel()
	n, err := s.refresher.Refresh(ctx)
	switch {
	case errors.Is(err, feed.ErrSuperseded):
		// A concurrent refresh already published newer data.
		snap := s.store.Snapshot()
		writeJSON(w, http.StatusOK, refreshResponse{Count: len(snap.Events), LastUpdated: snap.UpdatedAt})
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, refreshResponse{Count: n, LastUpdated: s.store.Snapshot().UpdatedAt})
	}
}

// handleCalendar serves a feed's raw calendar text, refreshing first when
// the cached copy is older than the configured TTL. ?feed= selects the feed
// by ID; the first configured feed is the default.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("feed")
	if id == "" {
		if len(s.cfg.Feeds) == 0 {
			writeError(w, http.StatusNotFound, "no feeds configured")
			return
		}
		id = s.cfg.Feeds[0].ID
	} else if !s.hasFeed(id) {
		writeError(w, http.StatusNotFound, "unknown feed "+strconv.Quote(id))
		return
	}

	ttl := s.cfg.CacheTTL()
	cache := "HIT"
	snap := s.store.Snapshot()
	if snap.UpdatedAt.IsZero() || s.now().Sub(snap.UpdatedAt) >= ttl {
		cache = "MISS"
		ctx, cancel := s.refreshContext(r.Context())
		if _, err := s.refresher.Refresh(ctx); err != nil && !errors.Is(err, feed.ErrSuperseded) {
			appLog.Warn("calendar.ics: refresh failed", "err", err.Error())
		}
		cancel()
		snap = s.store.Snapshot()
	}

	body, ok := snap.Bodies[id]
	if !ok {
		writeError(w, http.StatusBadGateway, "calendar unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(ttl/time.Second)))
	w.Header().Set("X-Cache", cache)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) hasFeed(id string) bool {
	for _, f := range s.cfg.Feeds {
		if f.ID == id {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
