// Package controller orchestrates the session lifecycle: it translates UI
// commands into queued operations, reduces the resulting events into the
// in-memory session map, and reconciles interrupted work on startup.
package controller

import (
	"sort"
	"strings"
	"time"

	"github.com/loomdev/loom/internal/agent"
	"github.com/loomdev/loom/internal/bus"
	"github.com/loomdev/loom/internal/config"
	apperrors "github.com/loomdev/loom/internal/errors"
	"github.com/loomdev/loom/internal/git"
	"github.com/loomdev/loom/internal/pr"
	"github.com/loomdev/loom/internal/queue"
	"github.com/loomdev/loom/internal/session"
	"github.com/loomdev/loom/internal/store"
)

// Notifier delivers user-facing completion notices. Satisfied by the
// notification package; swapped for a recorder in tests.
type Notifier interface {
	SessionReady(title string) error
	PRMerged(title string) error
}

// handles is the runtime-only state of one session: the streaming output
// buffer. The cancellation signal and inbound queue live in the worker.
type handles struct {
	transcript strings.Builder
}

// Controller wires the store, git, agent backends, PR driver and worker
// queues behind the command surface the UI calls.
//
// The session map is written only by Reduce, which the UI runs on its
// single event-loop goroutine. Commands are issued from the same
// goroutine; background work communicates exclusively through the bus.
type Controller struct {
	store      *store.Store
	git        *git.Service
	prDriver   *pr.Driver
	queue      *queue.Manager
	bus        *bus.Bus
	cfg        *config.Config
	dataDir    string
	backendFor agent.Selector
	notifier   Notifier

	sessions      map[string]*session.Session
	handles       map[string]*handles
	activeProject string
}

// Options carries the collaborators a Controller needs.
type Options struct {
	Store      *store.Store
	Git        *git.Service
	PRDriver   *pr.Driver
	Queue      *queue.Manager
	Bus        *bus.Bus
	Config     *config.Config
	DataDir    string
	BackendFor agent.Selector
	Notifier   Notifier
}

// New returns a Controller. BackendFor defaults to agent.ForKind.
func New(opts Options) *Controller {
	backendFor := opts.BackendFor
	if backendFor == nil {
		backendFor = agent.ForKind
	}
	return &Controller{
		store:      opts.Store,
		git:        opts.Git,
		prDriver:   opts.PRDriver,
		queue:      opts.Queue,
		bus:        opts.Bus,
		cfg:        opts.Config,
		dataDir:    opts.DataDir,
		backendFor: backendFor,
		notifier:   opts.Notifier,
		sessions:   make(map[string]*session.Session),
		handles:    make(map[string]*handles),
	}
}

// Bus returns the event bus the UI drains.
func (c *Controller) Bus() *bus.Bus {
	return c.bus
}

// ActiveProject returns the project whose sessions the UI is showing.
func (c *Controller) ActiveProject() string {
	return c.activeProject
}

// lookup resolves a session id against the in-memory map. Background
// tasks must not use this; they resolve through the store instead.
func (c *Controller) lookup(sessionID string) (*session.Session, error) {
	const op = apperrors.Op("controller.lookup")

	sess, ok := c.sessions[sessionID]
	if !ok {
		return nil, apperrors.E(op, apperrors.KindNotFound, "session "+sessionID+" no longer exists")
	}
	return sess, nil
}

func (c *Controller) handleFor(sessionID string) *handles {
	h, ok := c.handles[sessionID]
	if !ok {
		h = &handles{}
		c.handles[sessionID] = h
	}
	return h
}

// Snapshot assembles the render view of one session.
func (c *Controller) Snapshot(sessionID string) (session.Snapshot, error) {
	sess, err := c.lookup(sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	h := c.handleFor(sessionID)
	return session.BuildSnapshot(*sess, h.transcript.String(),
		c.queue.Pending(sessionID), c.queue.Running(sessionID), time.Now()), nil
}

// Snapshots returns the active project's sessions, newest first.
func (c *Controller) Snapshots() []session.Snapshot {
	var out []session.Snapshot
	for id, sess := range c.sessions {
		if c.activeProject != "" && sess.ProjectID != c.activeProject {
			continue
		}
		h := c.handleFor(id)
		out = append(out, session.BuildSnapshot(*sess, h.transcript.String(),
			c.queue.Pending(id), c.queue.Running(id), time.Now()))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Session, out[j].Session
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID < b.ID
	})
	return out
}

// Shutdown gracefully stops all workers.
func (c *Controller) Shutdown() {
	c.queue.Shutdown()
}
