package wire

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/dataview/dataview/pkg/dataerr"
)

// Transport is the polymorphic byte-level connection over which the
// wire codec's frames travel. The three variants {PlainTcp, TlsTcp,
// UnixSocket} all implement it identically from the codec's point of
// view.
type Transport interface {
	Connect() error
	WriteAll(b []byte) error
	Flush() error
	ReadIntoBuffer(buf []byte) (int, error)
	Shutdown() error
}

// netTransport is the shared implementation backing all three
// variants; what differs between them is how Connect dials.
type netTransport struct {
	desc ConnectDescriptor
	conn net.Conn
}

// NewTransport constructs the Transport variant implied by desc.Kind.
func NewTransport(desc ConnectDescriptor) Transport {
	return &netTransport{desc: desc}
}

func (t *netTransport) Connect() error {
	var (
		conn net.Conn
		err  error
	)
	const dialTimeout = 10 * time.Second

	switch t.desc.Kind {
	case PlainTCP:
		addr := fmt.Sprintf("%s:%d", t.desc.Host, t.desc.Port)
		conn, err = net.DialTimeout("tcp", addr, dialTimeout)
	case TLSTCP:
		addr := fmt.Sprintf("%s:%d", t.desc.Host, t.desc.Port)
		var plain net.Conn
		plain, err = net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			break
		}
		tlsConn := tls.Client(plain, &tls.Config{ServerName: t.desc.Host})
		if hsErr := tlsConn.Handshake(); hsErr != nil {
			plain.Close()
			return &dataerr.TransportError{
				Error:   dataerr.Error{Op: "wire.Transport.Connect", Kind: dataerr.KindTransport, Err: fmt.Errorf("tls handshake: %w", hsErr)},
				Address: addr,
			}
		}
		conn = tlsConn
	case UnixSocket:
		conn, err = dialUnixSocket(t.desc)
	default:
		return &dataerr.ConfigError{
			Error: dataerr.Error{Op: "wire.Transport.Connect", Kind: dataerr.KindConfig, Err: fmt.Errorf("unknown transport kind %d", t.desc.Kind)},
		}
	}

	if err != nil {
		return &dataerr.TransportError{
			Error:   dataerr.Error{Op: "wire.Transport.Connect", Kind: dataerr.KindTransport, Err: err},
			Address: fmt.Sprintf("%s:%d", t.desc.Host, t.desc.Port),
		}
	}

	t.conn = conn
	return nil
}

// dialUnixSocket tries the configured directory, falling back through
// the candidate search path if unset.
func dialUnixSocket(desc ConnectDescriptor) (net.Conn, error) {
	dirs := []string{desc.SockDir}
	if desc.SockDir == "" {
		dirs = SocketDirCandidates()
	}
	var lastErr error
	for _, dir := range dirs {
		path := filepath.Join(dir, fmt.Sprintf(".s.PGSQL.%d", desc.Port))
		if _, statErr := os.Stat(path); statErr != nil {
			lastErr = statErr
			continue
		}
		conn, err := net.DialTimeout("unix", path, 10*time.Second)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no unix socket found under %v", dirs)
	}
	return nil, lastErr
}

func (t *netTransport) WriteAll(b []byte) error {
	if t.conn == nil {
		return &dataerr.StateError{
			Error:         dataerr.Error{Op: "wire.Transport.WriteAll", Kind: dataerr.KindState},
			CurrentState:  "disconnected",
			RequiredState: "connected",
		}
	}
	for len(b) > 0 {
		n, err := t.conn.Write(b)
		if err != nil {
			return &dataerr.TransportError{Error: dataerr.Error{Op: "wire.Transport.WriteAll", Kind: dataerr.KindTransport, Err: err}}
		}
		b = b[n:]
	}
	return nil
}

// Flush is a no-op for net.Conn (there is no userspace write buffer to
// flush), kept to satisfy the Transport contract and to give TLS/buffered
// variants a seam if one is added later.
func (t *netTransport) Flush() error { return nil }

func (t *netTransport) ReadIntoBuffer(buf []byte) (int, error) {
	if t.conn == nil {
		return 0, &dataerr.StateError{
			Error:         dataerr.Error{Op: "wire.Transport.ReadIntoBuffer", Kind: dataerr.KindState},
			CurrentState:  "disconnected",
			RequiredState: "connected",
		}
	}
	n, err := t.conn.Read(buf)
	if err != nil {
		return n, &dataerr.TransportError{Error: dataerr.Error{Op: "wire.Transport.ReadIntoBuffer", Kind: dataerr.KindTransport, Err: err}}
	}
	return n, nil
}

func (t *netTransport) Shutdown() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	if err != nil {
		return &dataerr.TransportError{Error: dataerr.Error{Op: "wire.Transport.Shutdown", Kind: dataerr.KindTransport, Err: err}}
	}
	return nil
}
