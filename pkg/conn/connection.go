// Package conn implements the Connection state machine (C3): one
// Connection owns one wire.Transport and drives it through startup,
// authentication, and the idle/query/reading cycle.
package conn

import (
	"fmt"
	"sync"

	"github.com/dataview/dataview/pkg/dataerr"
	"github.com/dataview/dataview/pkg/logging"
	"github.com/dataview/dataview/pkg/wire"
)

// State enumerates the Connection's lifecycle states.
type State int

const (
	Initial State = iota
	AwaitingAuth
	Authenticating
	Idle
	QueryInProgress
	ReadingResults
	Closed
)

func (s State) String() string {
	switch s {
	case Initial:
		return "initial"
	case AwaitingAuth:
		return "awaiting_auth"
	case Authenticating:
		return "authenticating"
	case Idle:
		return "idle"
	case QueryInProgress:
		return "query_in_progress"
	case ReadingResults:
		return "reading_results"
	default:
		return "closed"
	}
}

// validTransitions enumerates every state change this state machine
// allows; any pair absent from this set is an error.
var validTransitions = map[State]map[State]bool{
	Initial:         {AwaitingAuth: true, Closed: true},
	AwaitingAuth:    {Authenticating: true, Closed: true},
	Authenticating:  {Idle: true, Closed: true},
	Idle:            {QueryInProgress: true, Closed: true},
	QueryInProgress: {ReadingResults: true, Closed: true},
	ReadingResults:  {Idle: true, Closed: true},
	Closed:          {},
}

// Connection is the single-owner driver of one wire.Transport through
// the PostgreSQL startup handshake and the query/result cycle. It is
// not safe for concurrent use by multiple goroutines beyond the
// producer/consumer handoff C4 builds on top of it.
type Connection struct {
	mu sync.Mutex

	transport wire.Transport
	desc      wire.ConnectDescriptor
	state     State
	readBuf   []byte

	backendPID int32
	params     map[string]string

	log logging.Logger
}

// New constructs a Connection over transport, in the Initial state.
func New(desc wire.ConnectDescriptor, transport wire.Transport, log logging.Logger) *Connection {
	if log == nil {
		log = logging.Noop()
	}
	return &Connection{
		transport: transport,
		desc:      desc,
		state:     Initial,
		params:    make(map[string]string),
		log:       log,
	}
}

// State returns the current state under lock.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) transition(to State) error {
	allowed, ok := validTransitions[c.state][to]
	if !ok || !allowed {
		return &dataerr.StateError{
			Error:         dataerr.Error{Op: "conn.Connection.transition", Kind: dataerr.KindState},
			CurrentState:  c.state.String(),
			RequiredState: to.String(),
		}
	}
	c.log.Debug("connection state %s -> %s", c.state, to)
	c.state = to
	return nil
}

// Startup drives the connection from Initial to Idle: send Startup,
// then loop on backend messages handling authentication, parameter
// status and backend key data until ReadyForQuery arrives.
func (c *Connection) Startup(params map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transport.Connect(); err != nil {
		return err
	}

	if err := c.transition(AwaitingAuth); err != nil {
		return err
	}

	startupParams := map[string]string{"user": c.desc.User}
	if c.desc.Database != "" {
		startupParams["database"] = c.desc.Database
	}
	for k, v := range params {
		startupParams[k] = v
	}

	if err := c.transport.WriteAll(wire.EncodeStartup(wire.StartupMessage{Params: startupParams})); err != nil {
		return err
	}

	for {
		msg, err := c.nextMessage()
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case wire.Authentication:
			switch m.Kind {
			case wire.AuthOK:
				if err := c.transition(Authenticating); err != nil {
					return err
				}
			default:
				pwMsg, err := wire.ResolvePassword(m, c.desc.Password)
				if err != nil {
					return err
				}
				if err := c.transport.WriteAll(wire.EncodePassword(pwMsg)); err != nil {
					return err
				}
			}
		case wire.ParameterStatus:
			c.params[m.Name] = m.Value
		case wire.BackendKeyData:
			c.backendPID = m.ProcessID
		case wire.ReadyForQuery:
			if err := c.transition(Idle); err != nil {
				return err
			}
			return nil
		case wire.ErrorResponse:
			return &dataerr.AuthenticationError{
				Error: dataerr.Error{Op: "conn.Connection.Startup", Kind: dataerr.KindAuthentication,
					Err: fmt.Errorf("%s", m.Message())},
			}
		default:
			return &dataerr.ProtocolError{
				Error: dataerr.Error{Op: "conn.Connection.Startup", Kind: dataerr.KindProtocol,
					Err: fmt.Errorf("unexpected message during startup")},
			}
		}
	}
}

// BeginQuery transitions Idle -> QueryInProgress and writes the simple
// Query message. The caller (C4's producer task) then reads backend
// messages directly via NextMessage.
func (c *Connection) BeginQuery(sql string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle {
		return &dataerr.StateError{
			Error:         dataerr.Error{Op: "conn.Connection.BeginQuery", Kind: dataerr.KindState, Err: fmt.Errorf("connection busy")},
			CurrentState:  c.state.String(),
			RequiredState: Idle.String(),
		}
	}
	if err := c.transition(QueryInProgress); err != nil {
		return err
	}
	if err := c.transport.WriteAll(wire.EncodeQuery(wire.QueryMessage{SQL: sql})); err != nil {
		return err
	}
	return c.transition(ReadingResults)
}

// EndQuery transitions ReadingResults back to Idle, called once the
// producer has observed ReadyForQuery.
func (c *Connection) EndQuery() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transition(Idle)
}

// NextMessage decodes the next backend message, reading more bytes from
// the transport as needed. It is safe to call repeatedly from the
// producer task while the connection is in ReadingResults.
func (c *Connection) NextMessage() (wire.BackendMessage, error) {
	return c.nextMessage()
}

func (c *Connection) nextMessage() (wire.BackendMessage, error) {
	for {
		msg, remainder, ok, err := wire.Decode(c.readBuf)
		if err != nil {
			return nil, err
		}
		if ok {
			c.readBuf = remainder
			return msg, nil
		}

		chunk := make([]byte, 64*1024)
		n, err := c.transport.ReadIntoBuffer(chunk)
		if n > 0 {
			c.readBuf = append(c.readBuf, chunk[:n]...)
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, &dataerr.TransportError{
				Error: dataerr.Error{Op: "conn.Connection.nextMessage", Kind: dataerr.KindTransport, Err: fmt.Errorf("connection closed")},
			}
		}
	}
}

// Close sends Terminate best-effort and shuts down the transport,
// regardless of current state.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Closed {
		return nil
	}
	_ = c.transport.WriteAll(wire.EncodeTerminate())
	c.state = Closed
	return c.transport.Shutdown()
}

// BackendPID returns the server-reported process id, recorded during
// startup for diagnostics (query cancellation is not implemented).
func (c *Connection) BackendPID() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backendPID
}

// Param returns a server parameter recorded during startup (e.g.
// "server_version").
func (c *Connection) Param(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.params[name]
	return v, ok
}
