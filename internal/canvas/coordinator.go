// Package canvas implements the real-time collaboration core: a single
// coordinator goroutine that owns all live canvas state, serializes every
// mutation, persists a durable event log per canvas and fans events out to
// connected sessions.
package canvas

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/lukassw/canvashub/internal/eventlog"
	"github.com/lukassw/canvashub/internal/store"
)

// Directory resolves canvas metadata (name, owner, mode, membership). It is
// consulted once per canvas load, never on the broadcast path.
type Directory interface {
	GetCanvas(ctx context.Context, id string) (*store.Canvas, error)
}

// appendLog is the durable sink for one canvas's events.
type appendLog interface {
	Append(Event) error
	Close() error
}

// connectFailedMessage is the single text frame a client receives when its
// canvas could not be loaded.
const connectFailedMessage = "Connection failed"

// canvasFailedMessage is sent to every session of a canvas whose event log
// stopped accepting writes before the canvas is unloaded.
const canvasFailedMessage = "Canvas unavailable"

type cmdKind int

const (
	cmdConnect cmdKind = iota
	cmdDisconnect
	cmdMessage
	cmdAccessLevel
	cmdMode
)

// command is one unit of work for the coordinator goroutine. Commands for a
// single canvas are processed in arrival order, one at a time.
type command struct {
	kind cmdKind

	canvasID  string
	userID    string
	username  string
	sessionID string

	conn    *Outbound
	payload string

	level     store.AccessLevel
	mode      store.CanvasMode
	initiator string

	// done is closed once a message command has been fully handled.
	done chan struct{}
}

const commandQueueSize = 256

// Coordinator owns all loaded canvases. All state mutation happens on the
// goroutine running Run; the rest of the system reaches it only through a
// Handle.
type Coordinator struct {
	directory Directory
	dataDir   string

	canvases map[string]*room

	// openLog opens the durable event log for one canvas, replaying its
	// history. The indirection exists so log failures can be simulated.
	openLog func(path string) ([]Event, appendLog, bool, error)

	cmds chan command
	log  *zerolog.Logger
}

// New builds a Coordinator persisting event logs under dataDir.
func New(directory Directory, dataDir string, logger *zerolog.Logger) *Coordinator {
	return &Coordinator{
		directory: directory,
		dataDir:   dataDir,
		canvases:  make(map[string]*room),
		openLog:   openEventLog,
		cmds:      make(chan command, commandQueueSize),
		log:       logger,
	}
}

func openEventLog(path string) ([]Event, appendLog, bool, error) {
	history, log, err := eventlog.Open[Event](path)
	if err != nil {
		return nil, nil, false, err
	}
	return history, log, log.TornTail, nil
}

// Handle returns the clonable command façade used by transports.
func (c *Coordinator) Handle() Handle {
	return Handle{cmds: c.cmds}
}

// Run processes commands until ctx is cancelled. It must be running before
// any Handle method is used.
func (c *Coordinator) Run(ctx context.Context) {
	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		c.log.Error().Err(err).Str("dir", c.dataDir).Msg("failed to create data dir")
	}

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case cmd := <-c.cmds:
			c.dispatch(ctx, cmd)
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdConnect:
		c.connect(ctx, cmd)
	case cmdDisconnect:
		c.disconnect(cmd)
	case cmdMessage:
		c.handleMessage(cmd)
		close(cmd.done)
	case cmdAccessLevel:
		c.updateAccessLevel(cmd)
	case cmdMode:
		c.updateMode(cmd)
	}
}

func (c *Coordinator) shutdown() {
	for id, r := range c.canvases {
		if err := r.log.Close(); err != nil {
			c.log.Warn().Err(err).Str("canvas", id).Msg("failed to close event log")
		}
	}
	c.canvases = make(map[string]*room)
}

// connect registers the session, announces it, and privately replays the
// full event history (including the fresh UserJoined) to the new session.
func (c *Coordinator) connect(ctx context.Context, cmd command) {
	c.log.Info().
		Str("canvas", cmd.canvasID).
		Str("user", cmd.userID).
		Str("session", cmd.sessionID).
		Msg("session connecting")

	r, ok := c.canvases[cmd.canvasID]
	if !ok {
		var err error
		r, err = c.loadCanvas(ctx, cmd.canvasID)
		if err != nil {
			c.log.Error().Err(err).Str("canvas", cmd.canvasID).Msg("failed to load canvas")
			cmd.conn.Push(connectFailedMessage)
			return
		}
		c.canvases[cmd.canvasID] = r
	}

	r.addSession(cmd.userID, cmd.sessionID, cmd.conn)

	event := Event{
		Type:        KindUserJoined,
		Timestamp:   r.stamp(),
		UserID:      cmd.userID,
		Username:    cmd.username,
		SessionID:   cmd.sessionID,
		AccessLevel: r.meta.Members[cmd.userID],
	}
	if !c.apply(cmd.canvasID, r, cmd.sessionID, event) {
		return
	}

	for i := range r.history {
		msg, err := r.history[i].Encode()
		if err != nil {
			c.log.Error().Err(err).Str("canvas", cmd.canvasID).Msg("failed to serialize history event")
			continue
		}
		cmd.conn.Push(msg)
	}
}

func (c *Coordinator) loadCanvas(ctx context.Context, canvasID string) (*room, error) {
	meta, err := c.directory.GetCanvas(ctx, canvasID)
	if err != nil {
		return nil, fmt.Errorf("resolve canvas %s: %w", canvasID, err)
	}

	path := filepath.Join(c.dataDir, canvasID+".jsonl")
	history, log, torn, err := c.openLog(path)
	if err != nil {
		return nil, fmt.Errorf("open event log for %s: %w", canvasID, err)
	}
	if torn {
		c.log.Warn().Str("canvas", canvasID).Msg("dropped torn record at end of event log")
	}

	c.log.Info().
		Str("canvas", canvasID).
		Int("events", len(history)).
		Msg("canvas loaded")

	return newRoom(meta, history, log), nil
}

// disconnect synthesizes deselects for everything the session had selected,
// announces the departure, and evicts the canvas once nobody is left.
func (c *Coordinator) disconnect(cmd command) {
	r, ok := c.canvases[cmd.canvasID]
	if !ok {
		return
	}

	c.log.Info().
		Str("canvas", cmd.canvasID).
		Str("user", cmd.userID).
		Str("session", cmd.sessionID).
		Msg("session disconnected")

	for _, shapeID := range r.takeSelections(cmd.sessionID) {
		event := Event{
			Type:      KindShapeDeselected,
			Timestamp: r.stamp(),
			Origin:    cmd.sessionID,
			ShapeID:   shapeID,
		}
		if !c.apply(cmd.canvasID, r, cmd.sessionID, event) {
			return
		}
	}

	usersLeft := r.removeSession(cmd.userID, cmd.sessionID)

	event := Event{
		Type:      KindUserLeft,
		Timestamp: r.stamp(),
		UserID:    cmd.userID,
		SessionID: cmd.sessionID,
	}
	if !c.apply(cmd.canvasID, r, cmd.sessionID, event) {
		return
	}

	if usersLeft == 0 {
		c.log.Info().Str("canvas", cmd.canvasID).Msg("no sessions left, unloading canvas")
		if err := r.log.Close(); err != nil {
			c.log.Warn().Err(err).Str("canvas", cmd.canvasID).Msg("failed to close event log")
		}
		delete(c.canvases, cmd.canvasID)
	}
}

// handleMessage validates and applies one client-submitted event. Rejected
// events are dropped without any client-visible error.
func (c *Coordinator) handleMessage(cmd command) {
	event, err := Decode([]byte(cmd.payload))
	if err != nil {
		c.log.Warn().Err(err).
			Str("canvas", cmd.canvasID).
			Str("user", cmd.userID).
			Msg("dropping undecodable client frame")
		return
	}

	if event.ServerOnly() {
		c.log.Warn().
			Str("canvas", cmd.canvasID).
			Str("user", cmd.userID).
			Str("type", string(event.Type)).
			Msg("client attempted to send server-only event")
		return
	}

	r, ok := c.canvases[cmd.canvasID]
	if !ok {
		return
	}

	if !ValidatePermissions(r.meta.Members[cmd.userID], r.meta.Mode) {
		c.log.Debug().
			Str("canvas", cmd.canvasID).
			Str("user", cmd.userID).
			Msg("event denied by permissions")
		return
	}

	r.trackSelection(cmd.sessionID, &event)
	c.apply(cmd.canvasID, r, cmd.sessionID, event)
}

// updateAccessLevel upserts the membership entry and announces the change to
// every session, the changed user's included.
func (c *Coordinator) updateAccessLevel(cmd command) {
	r, ok := c.canvases[cmd.canvasID]
	if !ok {
		return
	}

	r.meta.Members[cmd.userID] = cmd.level

	event := Event{
		Type:        KindUserAccessChanged,
		Timestamp:   r.stamp(),
		UserID:      cmd.userID,
		AccessLevel: cmd.level,
	}
	c.apply(cmd.canvasID, r, "", event)
}

// updateMode replaces the canvas mode and announces it to every session.
func (c *Coordinator) updateMode(cmd command) {
	r, ok := c.canvases[cmd.canvasID]
	if !ok {
		return
	}

	r.meta.Mode = cmd.mode

	event := Event{
		Type:      KindCanvasStateChanged,
		Timestamp: r.stamp(),
		State:     cmd.mode,
		Initiator: cmd.initiator,
	}
	c.apply(cmd.canvasID, r, "", event)
}

// apply runs one event through the persist-or-skip policy, appends it to the
// durable log if applicable, and fans it out to every session except
// skipSession. Persistence and broadcast happen in command order, so the log
// order, the in-memory history order and the delivery order are all the same
// total order. Outbound queues are unbounded, so a broadcast reaches every
// queue before the triggering command completes.
//
// Returns false when the canvas was quarantined because its log stopped
// accepting writes; the caller must not touch the room afterwards.
func (c *Coordinator) apply(canvasID string, r *room, skipSession string, event Event) bool {
	persist, err := r.shouldPersist(&event)
	if err != nil {
		c.log.Warn().Err(err).Str("canvas", canvasID).Msg("dropping event with bad shape payload")
		return true
	}

	if persist {
		if err := r.log.Append(event); err != nil {
			c.quarantine(canvasID, r, err)
			return false
		}
	}

	msg, err := event.Encode()
	if err != nil {
		// Broadcast abandoned; the coordinator keeps processing commands.
		c.log.Error().Err(err).Str("canvas", canvasID).Msg("failed to serialize event")
		return true
	}

	for _, sessions := range r.users {
		for sessionID, conn := range sessions {
			if sessionID == skipSession {
				continue
			}
			conn.Push(msg)
		}
	}

	r.history = append(r.history, event)
	return true
}

// quarantine unloads a canvas whose event log failed a write. Other canvases
// keep working; affected sessions get an error frame and will reconnect into
// a fresh load.
func (c *Coordinator) quarantine(canvasID string, r *room, err error) {
	c.log.Error().Err(err).Str("canvas", canvasID).Msg("event log write failed, quarantining canvas")

	for _, sessions := range r.users {
		for _, conn := range sessions {
			conn.Push(canvasFailedMessage)
		}
	}
	if closeErr := r.log.Close(); closeErr != nil {
		c.log.Warn().Err(closeErr).Str("canvas", canvasID).Msg("failed to close event log")
	}
	delete(c.canvases, canvasID)
}

// Handle is the thin clonable façade transports use to enqueue commands.
// All methods are fire-and-forget except Submit, which returns only after
// the message has been fully handled.
type Handle struct {
	cmds chan<- command
}

// Connect registers a session's outbound queue with a canvas, loading the
// canvas first if needed.
func (h Handle) Connect(canvasID, userID, username, sessionID string, conn *Outbound) {
	h.cmds <- command{
		kind:      cmdConnect,
		canvasID:  canvasID,
		userID:    userID,
		username:  username,
		sessionID: sessionID,
		conn:      conn,
	}
}

// Disconnect removes a session from a canvas.
func (h Handle) Disconnect(canvasID, userID, sessionID string) {
	h.cmds <- command{
		kind:      cmdDisconnect,
		canvasID:  canvasID,
		userID:    userID,
		sessionID: sessionID,
	}
}

// Submit forwards a raw client frame and blocks until the coordinator has
// fully handled it. Completion is an ordering signal, not a success report:
// dropped events complete normally.
func (h Handle) Submit(canvasID, userID, sessionID, payload string) {
	done := make(chan struct{})
	h.cmds <- command{
		kind:      cmdMessage,
		canvasID:  canvasID,
		userID:    userID,
		sessionID: sessionID,
		payload:   payload,
		done:      done,
	}
	<-done
}

// UpdateAccessLevel upserts a user's access level on a loaded canvas.
func (h Handle) UpdateAccessLevel(canvasID, userID string, level store.AccessLevel) {
	h.cmds <- command{
		kind:     cmdAccessLevel,
		canvasID: canvasID,
		userID:   userID,
		level:    level,
	}
}

// UpdateMode replaces the mode of a loaded canvas.
func (h Handle) UpdateMode(canvasID string, mode store.CanvasMode, initiatorID string) {
	h.cmds <- command{
		kind:      cmdMode,
		canvasID:  canvasID,
		mode:      mode,
		initiator: initiatorID,
	}
}
