package nbdclient

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nbd-go/nbdclient/internal/constants"
	"github.com/nbd-go/nbdclient/internal/interfaces"
	"github.com/nbd-go/nbdclient/internal/issue"
	"github.com/nbd-go/nbdclient/internal/reply"
	"github.com/nbd-go/nbdclient/internal/session"
	"github.com/nbd-go/nbdclient/internal/transport"
)

// senderAdapter lets a transport.Socket stand in as an issue.Sender,
// translating the transport package's ErrWouldBlock sentinel into the
// issue package's own — the two are kept deliberately distinct so
// internal/issue never imports internal/transport, and this is the one
// place that bridges them.
type senderAdapter struct {
	sock transport.Socket
}

func (a senderAdapter) Send(data []byte, moreData bool) (int, error) {
	n, err := a.sock.Send(data, moreData)
	if err == transport.ErrWouldBlock {
		return n, issue.ErrWouldBlock
	}
	return n, err
}

// Connection is a single transmission-phase NBD connection: one socket,
// one issue.Machine, one reply receiver, all driven from a single
// goroutine per spec.md §5's single-owner concurrency model.
type Connection struct {
	tag        int
	sock       transport.Socket
	machine    *issue.Machine
	receiver   reply.Receiver
	negotiated session.Negotiated

	pollTimeout time.Duration
	cpuAffinity []int

	logger   Logger
	observer Observer

	inFlightCount int
	maxInFlight   int

	pending    map[uint64]time.Time
	onComplete func(*Command, []byte, error)
}

// Dial opens network/addr and wires a Connection around it, ready to
// Enqueue commands once Run is started. network/addr follow net.Dial's
// conventions ("tcp", "host:port" or "unix", "/path/to/socket").
func Dial(ctx context.Context, network, addr string, cfg ConnConfig) (*Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = DefaultConnConfig().DialTimeout
	}
	sock, err := transport.Dial(network, addr, dialTimeout)
	if err != nil {
		return nil, WrapError("dial", err)
	}
	return newConnection(0, sock, cfg), nil
}

// newConnection wires an already-connected Socket into a Connection,
// used by Dial and by Handle when fanning out across NumConns sockets.
func newConnection(tag int, sock transport.Socket, cfg ConnConfig) *Connection {
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = constants.DefaultMaxInFlight
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 50 * time.Millisecond
	}

	var ilogger interfaces.Logger
	if cfg.Logger != nil {
		ilogger = cfg.Logger
	}
	var iobserver interfaces.Observer
	if cfg.Observer != nil {
		iobserver = cfg.Observer
	}

	machine := issue.NewMachine(issue.Config{
		Sender:            senderAdapter{sock},
		CoalesceThreshold: cfg.PayloadCoalesceThreshold,
		Logger:            ilogger,
		Observer:          iobserver,
	})

	c := &Connection{
		tag:         tag,
		sock:        sock,
		machine:     machine,
		negotiated:  cfg.Negotiated,
		pollTimeout: pollTimeout,
		cpuAffinity: cfg.CPUAffinity,
		logger:      cfg.Logger,
		observer:    cfg.Observer,
		maxInFlight: maxInFlight,
		pending:     make(map[uint64]time.Time),
	}
	c.receiver = reply.NewSimpleReceiver(sock, machine, c.onResult)
	return c
}

// Enqueue validates cmd against the negotiated export attributes (if
// any were supplied) and admits it to the connection's to-issue queue.
func (c *Connection) Enqueue(cmdType uint16, flags uint16, offset uint64, count uint32, data []byte) (uint64, error) {
	if c.inFlightCount >= c.maxInFlight {
		return 0, NewConnError("enqueue", c.tag, ErrCodeConnectionDead, fmt.Sprintf("max in-flight (%d) reached", c.maxInFlight))
	}
	if c.negotiated.SizeBytes != 0 || c.negotiated.ExportName != "" {
		if err := c.negotiated.ValidateCommand(cmdType, flags, offset, count); err != nil {
			return 0, NewConnError("enqueue", c.tag, ErrCodeInvalidParameters, err.Error())
		}
	}
	handle, err := c.machine.Enqueue(cmdType, flags, offset, count, data)
	if err != nil {
		return 0, WrapError("enqueue", err)
	}
	c.inFlightCount++
	c.pending[handle] = time.Now()
	if c.observer != nil {
		c.observer.ObserveInFlightDepth(uint32(c.inFlightCount))
	}
	return handle, nil
}

// onResult is the reply.ResultFunc invoked once per retired command; it
// records metrics, decrements the in-flight counter, and then calls the
// callback registered with OnComplete, if any.
func (c *Connection) onResult(cmd *issue.Command, data []byte, err error) {
	if cmd == nil {
		return
	}
	started, ok := c.pending[cmd.Handle]
	var latencyNs uint64
	if ok {
		latencyNs = uint64(time.Since(started).Nanoseconds())
		delete(c.pending, cmd.Handle)
	}
	c.inFlightCount--
	if c.observer != nil {
		c.observer.ObserveInFlightDepth(uint32(c.inFlightCount))
		success := err == nil
		switch cmd.Type {
		case wireCmdRead:
			c.observer.ObserveRead(uint64(cmd.Count), latencyNs, success)
		case wireCmdWrite:
			c.observer.ObserveWrite(uint64(cmd.Count), latencyNs, success)
		case wireCmdTrim, wireCmdWriteZeroes:
			c.observer.ObserveTrim(uint64(cmd.Count), latencyNs, success)
		case wireCmdFlush:
			c.observer.ObserveFlush(latencyNs, success)
		case wireCmdBlockStatus:
			c.observer.ObserveBlockStatus(latencyNs, success)
		}
	}
	if c.onComplete != nil {
		c.onComplete(fromIssueCommand(cmd), data, err)
	}
}

// Sentinel aliases so onResult doesn't need to import internal/wire
// directly alongside the re-exported constants in command.go.
const (
	wireCmdRead        = CmdRead
	wireCmdWrite       = CmdWrite
	wireCmdTrim        = CmdTrim
	wireCmdWriteZeroes = CmdWriteZeroes
	wireCmdFlush       = CmdFlush
	wireCmdBlockStatus = CmdBlockStatus
)

// OnComplete registers a callback invoked for every command as it
// retires (success or failure). Run must not yet be started, or the
// callback may race with an in-progress completion.
func (c *Connection) OnComplete(fn func(*Command, []byte, error)) {
	c.onComplete = fn
}

// Run drives the connection's readiness loop until ctx is cancelled or
// a fatal error occurs, mirroring the teacher's per-queue ioLoop: pin to
// an OS thread, optionally set CPU affinity, then loop on
// poll/Step/OnReadable.
func (c *Connection) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(c.cpuAffinity) > 0 {
		cpuIdx := c.cpuAffinity[c.tag%len(c.cpuAffinity)]
		var mask unix.CPUSet
		mask.Set(cpuIdx)
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			if c.logger != nil {
				c.logger.Printf("connection %d: failed to set CPU affinity to %d: %v", c.tag, cpuIdx, err)
			}
		} else if c.logger != nil {
			c.logger.Debugf("connection %d: pinned to CPU %d", c.tag, cpuIdx)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		dir := c.machine.Direction()
		if dir == issue.DirNone {
			readable, _, err := waitReady(c.sock.Fd(), true, false, c.pollTimeout)
			if err != nil {
				return c.fail(err)
			}
			if readable {
				if err := c.receiver.OnReadable(); err != nil {
					return c.fail(err)
				}
			}
			continue
		}

		readable, writable, err := waitReady(c.sock.Fd(), dir.WantsRead(), dir.WantsWrite(), c.pollTimeout)
		if err != nil {
			return c.fail(err)
		}

		if writable {
			outcome, err := c.machine.Step()
			if err != nil && outcome == issue.Dead {
				return c.fail(err)
			}
		}
		if readable {
			if err := c.receiver.OnReadable(); err != nil {
				return c.fail(err)
			}
		}
	}
}

func (c *Connection) fail(err error) error {
	if c.logger != nil {
		c.logger.Printf("connection %d: fatal: %v", c.tag, err)
	}
	return NewConnError("run", c.tag, ErrCodeConnectionDead, err.Error())
}

// Shutdown refuses further enqueues and reports every to-issue and
// in-flight command on this connection as cancelled.
func (c *Connection) Shutdown() []*Command {
	cancelled := c.machine.Shutdown()
	out := make([]*Command, 0, len(cancelled))
	for _, cmd := range cancelled {
		out = append(out, fromIssueCommand(cmd))
	}
	return out
}

// Close releases the underlying socket.
func (c *Connection) Close() error {
	return c.sock.Close()
}

// Tag returns the connection's index within its owning Handle (0 for a
// standalone Connection from Dial).
func (c *Connection) Tag() int { return c.tag }
