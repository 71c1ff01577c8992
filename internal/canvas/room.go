package canvas

import (
	"sort"
	"time"

	"github.com/lukassw/canvashub/internal/store"
)

// room is the live state of one loaded canvas. It is owned exclusively by
// the Coordinator goroutine; nothing else ever touches it.
type room struct {
	meta *store.Canvas

	// sessions, keyed user -> session -> outbound queue. A user may hold
	// several simultaneous connections to the same canvas.
	users map[string]map[string]*Outbound

	// selected shape ids per session, cleared (with synthesized deselects)
	// when the session disconnects.
	selected map[string]map[string]struct{}

	// shape ids flagged temporary; these never reach the durable log.
	tempShapes map[string]struct{}

	history []Event
	log     appendLog

	lastTimestamp int64
}

func newRoom(meta *store.Canvas, history []Event, log appendLog) *room {
	r := &room{
		meta:       meta,
		users:      make(map[string]map[string]*Outbound, 1),
		selected:   make(map[string]map[string]struct{}),
		tempShapes: make(map[string]struct{}),
		history:    history,
		log:        log,
	}
	for _, event := range history {
		if event.Timestamp > r.lastTimestamp {
			r.lastTimestamp = event.Timestamp
		}
	}
	return r
}

// stamp returns a timestamp that never decreases across the room's events,
// even if the wall clock steps backwards.
func (r *room) stamp() int64 {
	now := time.Now().Unix()
	if now < r.lastTimestamp {
		now = r.lastTimestamp
	}
	r.lastTimestamp = now
	return now
}

func (r *room) addSession(userID, sessionID string, conn *Outbound) {
	sessions, ok := r.users[userID]
	if !ok {
		sessions = make(map[string]*Outbound, 1)
		r.users[userID] = sessions
	}
	sessions[sessionID] = conn
}

// removeSession drops the session, and the user entry once its last session
// is gone. Returns the number of users still connected.
func (r *room) removeSession(userID, sessionID string) int {
	if sessions, ok := r.users[userID]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(r.users, userID)
		}
	}
	return len(r.users)
}

// trackSelection updates the per-session selection set for selection events.
// All other kinds leave it untouched.
func (r *room) trackSelection(sessionID string, event *Event) {
	switch event.Type {
	case KindShapeSelected:
		set, ok := r.selected[sessionID]
		if !ok {
			set = make(map[string]struct{})
			r.selected[sessionID] = set
		}
		set[event.ShapeID] = struct{}{}
	case KindShapeDeselected:
		delete(r.selected[sessionID], event.ShapeID)
	case KindShapeAdded, KindShapeRemoved, KindShapeZChanged, KindShapeUpdated,
		KindUserJoined, KindUserLeft, KindUserAccessChanged, KindCanvasStateChanged:
	}
}

// takeSelections empties the session's selection set and returns the shape
// ids in a stable order.
func (r *room) takeSelections(sessionID string) []string {
	set := r.selected[sessionID]
	delete(r.selected, sessionID)
	if len(set) == 0 {
		return nil
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// shouldPersist applies the temporary-shape policy and keeps the temp set
// current. A temporary ShapeAdded is never persisted; a ShapeRemoved for a
// shape that was temporary is not persisted either, so the log carries no
// trace of shapes that never durably existed.
func (r *room) shouldPersist(event *Event) (bool, error) {
	switch event.Type {
	case KindShapeAdded:
		shape, err := event.DecodeShape()
		if err != nil {
			return false, err
		}
		if shape.Temporary {
			r.tempShapes[shape.ID] = struct{}{}
			return false, nil
		}
		return true, nil

	case KindShapeRemoved:
		if _, ok := r.tempShapes[event.ShapeID]; ok {
			delete(r.tempShapes, event.ShapeID)
			return false, nil
		}
		return true, nil

	case KindShapeSelected, KindShapeDeselected, KindShapeZChanged,
		KindShapeUpdated, KindUserJoined, KindUserLeft,
		KindUserAccessChanged, KindCanvasStateChanged:
		return true, nil
	}
	return true, nil
}
