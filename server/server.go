// Package server wires the protocol, command table, value store, reactor and
// snapshot engine into a running TCP server, the composition root spec.md §2's
// control-flow description assigns to no single component by name. It owns the
// server-wide state spec.md §3 calls out: the client roster, the shared-object pool
// (via store.Store), dirty/last-save bookkeeping, and the auto-save policy.
package server

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kvdaemon/kvdaemon"
	"github.com/kvdaemon/kvdaemon/internal/commands"
	"github.com/kvdaemon/kvdaemon/internal/config"
	"github.com/kvdaemon/kvdaemon/internal/dlist"
	"github.com/kvdaemon/kvdaemon/internal/monitor"
	"github.com/kvdaemon/kvdaemon/internal/protocol"
	"github.com/kvdaemon/kvdaemon/internal/reactor"
	"github.com/kvdaemon/kvdaemon/internal/snapshot"
	"github.com/kvdaemon/kvdaemon/internal/store"
)

const (
	cronInterval    = time.Second
	dumpFilename    = "dump.rdb"
	activityMaxKeys = 256
	activityTTL     = 10 * time.Minute
)

// Client is one connected session: spec.md §3's per-connection state, minus the
// fields (argv, bulklen) the protocol.Reader now owns directly.
type Client struct {
	ID       uuid.UUID
	conn     net.Conn
	reader   *protocol.Reader
	db       int
	lastSeen atomic.Int64 // unix seconds, read by the cron goroutine
	node     *dlist.Node[*Client]
}

// Server is a running kvdaemon instance.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	reactor  *reactor.Reactor
	listener net.Listener
	clients  *dlist.List[*Client]
	dirty    int64
	lastSave atomic.Int64
	bgSave   atomic.Bool
	logger   *log.Logger
	activity *monitor.Monitor
	dumpPath string
	shutdown atomic.Bool
	done     chan struct{}
}

// New builds a Server bound to cfg but does not yet listen. addr overrides the
// TCP address to bind (host:port); pass "" to use the default ":6379" (spec.md §6).
func New(cfg *config.Config, addr string) (*Server, error) {
	if addr == "" {
		addr = ":6379"
	}
	if cfg.Dir != "" && cfg.Dir != "." {
		if err := os.Chdir(cfg.Dir); err != nil {
			return nil, kvdaemon.WithStack(err)
		}
	}

	st, err := store.New(cfg.Databases)
	if err != nil {
		return nil, kvdaemon.WithStack(err)
	}

	s := &Server{
		cfg:      cfg,
		store:    st,
		clients:  dlist.New[*Client](),
		logger:   newLogger(cfg),
		activity: monitor.New(activityMaxKeys, activityTTL),
		dumpPath: dumpFilename,
		done:     make(chan struct{}),
	}
	s.reactor = reactor.New(cronInterval, s.cron)

	if err := snapshot.Load(s.dumpPath, st); err != nil {
		if os.IsNotExist(err) {
			s.logf(config.Notice, "notice: no %s found, starting with empty keyspace", s.dumpPath)
		} else {
			return nil, kvdaemon.WithStack(err)
		}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, kvdaemon.WithStack(err)
	}
	s.listener = ln
	return s, nil
}

func newLogger(cfg *config.Config) *log.Logger {
	var w io.Writer = os.Stdout
	if cfg.LogFile != "" && cfg.LogFile != "stdout" {
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
		}
	}
	return log.New(w, "", log.LstdFlags)
}

// Addr returns the bound listen address, useful when addr ":0" was requested.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// logf emits a log line only if level meets or exceeds the configured loglevel
// directive (spec.md §6/§9): Debug is the most verbose and is dropped entirely unless
// cfg.LogLevel is itself Debug, while Warning always prints.
func (s *Server) logf(level config.LogLevel, format string, args ...any) {
	if level < s.cfg.LogLevel {
		return
	}
	s.logger.Printf(format, args...)
}

// Start accepts connections until ctx is cancelled or Shutdown is called. It also
// drives the reactor; Start returns once both have stopped.
func (s *Server) Start(ctx context.Context) error {
	reactorErr := make(chan error, 1)
	go func() { reactorErr <- s.reactor.Run(ctx) }()

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shutdown.Load() || ctx.Err() != nil {
				break
			}
			s.logf(config.Warning, "warning: accept error: %v", err)
			continue
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}
		s.handleConn(conn)
	}

	<-s.reactor.Done()
	close(s.done)
	err := <-reactorErr
	if err == context.Canceled {
		return nil
	}
	return err
}

// Done reports when the server has fully stopped serving.
func (s *Server) Done() <-chan struct{} { return s.done }

func newClientID() uuid.UUID {
	id, err := uuid.NewRandom()
	if err != nil {
		// uuid.NewRandom only fails if crypto/rand is broken; fall back to an id
		// built from a direct crypto/rand read (all zeros if that read fails too)
		// rather than crash a running server over it.
		var b [16]byte
		rand.Read(b[:])
		id, _ = uuid.FromBytes(b[:])
	}
	return id
}

func (s *Server) handleConn(conn net.Conn) {
	c := &Client{ID: newClientID(), conn: conn, reader: protocol.NewReader(conn, commands.IsBulk)}
	c.lastSeen.Store(time.Now().Unix())

	done := make(chan struct{})
	s.reactor.Submit(func() {
		c.node = s.clients.PushBack(c)
		close(done)
	})
	<-done

	s.logf(config.Debug, "debug: client %s connected from %s", c.ID, conn.RemoteAddr())
	go s.serveClient(c)
}

func (s *Server) disconnect(c *Client) {
	c.conn.Close()
	done := make(chan struct{})
	s.reactor.Submit(func() {
		if c.node != nil {
			s.clients.Remove(c.node)
			c.node = nil
		}
		close(done)
	})
	<-done
	s.logf(config.Debug, "debug: client %s disconnected", c.ID)
}

// serveClient owns one connection's read loop: frame a request, run it on the
// reactor (serializing command execution across every client per spec.md §5), then
// write the reply on this goroutine so a slow reader never blocks other clients.
func (s *Server) serveClient(c *Client) {
	defer s.disconnect(c)
	for {
		args, err := c.reader.Next()
		if err != nil {
			return
		}
		name := strings.ToLower(args[0].String())
		if name == "quit" {
			return
		}
		spec, ok := commands.Table[name]
		if !ok {
			if !s.reply(c, protocol.Error("unknown command")) {
				return
			}
			continue
		}
		if len(args) != spec.Arity {
			if !s.reply(c, protocol.Error(fmt.Sprintf("wrong number of arguments for '%s' command", name))) {
				return
			}
			continue
		}

		var replyBytes []byte
		runDone := make(chan struct{})
		start := time.Now()
		s.reactor.Submit(func() {
			defer close(runDone)
			ctx := &commands.Context{
				Store:          s.store,
				DB:             c.db,
				Dirty:          &s.dirty,
				Save:           s.foregroundSave,
				BackgroundSave: s.triggerBackgroundSave,
				LastSave:       func() int64 { return s.lastSave.Load() },
				Shutdown:       s.requestShutdown,
				RecentActivity: s.renderActivity,
			}
			replyBytes = spec.Handler(ctx, args[1:])
			c.db = ctx.DB
			s.activity.Record(name, c.ID, ctx.DB, time.Since(start))
		})
		<-runDone
		c.lastSeen.Store(time.Now().Unix())

		if name == "shutdown" {
			return
		}
		if !s.reply(c, replyBytes) {
			return
		}
	}
}

// reply writes an already-framed wire reply to the client's connection. payload is
// plain []byte, not a store.Obj: this runs on the client's own goroutine, outside the
// reactor's single-goroutine serialization, and store.Obj's free-list is only safe to
// touch from the reactor goroutine that owns it.
func (s *Server) reply(c *Client, payload []byte) bool {
	if payload == nil {
		return true
	}
	_, err := c.conn.Write(payload)
	return err == nil
}

// --- admin hooks wired into commands.Context ---

func (s *Server) foregroundSave() error {
	if err := snapshot.Save(s.store, s.dumpPath); err != nil {
		s.logf(config.Warning, "warning: save failed: %v", err)
		return err
	}
	s.dirty = 0
	s.lastSave.Store(time.Now().Unix())
	return nil
}

var errBgSaveInProgress = saveError("background save already in progress")

type saveError string

func (e saveError) Error() string { return string(e) }

func (s *Server) triggerBackgroundSave() error {
	if !s.bgSave.CompareAndSwap(false, true) {
		return errBgSaveInProgress
	}
	ch := snapshot.BackgroundSave(s.store, s.dumpPath)
	go func() {
		err := <-ch
		done := make(chan struct{})
		s.reactor.Submit(func() {
			defer close(done)
			s.bgSave.Store(false)
			if err != nil {
				s.logf(config.Warning, "warning: background save failed: %v", err)
				return
			}
			s.dirty = 0
			s.lastSave.Store(time.Now().Unix())
		})
		<-done
	}()
	return nil
}

func (s *Server) requestShutdown() {
	s.shutdown.Store(true)
	s.listener.Close()
}

func (s *Server) renderActivity() []byte {
	records := s.activity.Snapshot()
	out := protocol.MultiBulkHeader(len(records))
	for _, r := range records {
		line := fmt.Sprintf("%s db=%d client=%s dur=%s", r.Command, r.DB, r.ClientID, r.Duration)
		out = append(out, protocol.Bulk([]byte(line))...)
	}
	return out
}

// cron is the 1Hz housekeeping callback spec.md §2/§4.5 describes: idle-client
// eviction, hash-table shrink, and the auto-save policy check, in that fixed order
// (SPEC_FULL.md's SUPPLEMENTED FEATURES: original_source/ runs all three off one
// timer in this order; spec.md §2 and §4.5 describe them independently).
func (s *Server) cron() {
	s.evictIdleClients()
	s.store.ResizeAll()
	s.maybeAutoSave()
}

func (s *Server) evictIdleClients() {
	if s.cfg.Timeout <= 0 {
		return
	}
	now := time.Now().Unix()
	var stale []*Client
	s.clients.Each(func(n *dlist.Node[*Client]) bool {
		c := n.Value
		if now-c.lastSeen.Load() > int64(s.cfg.Timeout) {
			stale = append(stale, c)
		}
		return true
	})
	for _, c := range stale {
		c.conn.Close()
	}
}

func (s *Server) maybeAutoSave() {
	if s.bgSave.Load() {
		return
	}
	now := time.Now().Unix()
	for _, rule := range s.cfg.Save {
		if s.dirty >= int64(rule.Changes) && now-s.lastSave.Load() >= int64(rule.Seconds) {
			if err := s.triggerBackgroundSave(); err != nil {
				s.logf(config.Warning, "warning: auto-save trigger failed: %v", err)
			}
			return
		}
	}
}

// DumpPath exposes the snapshot file path for tests and the admin tool.
func (s *Server) DumpPath() string { return s.dumpPath }

// AbsDumpPath returns DumpPath resolved against the server's working directory.
func (s *Server) AbsDumpPath() (string, error) {
	return filepath.Abs(s.dumpPath)
}
