// Package wire implements the PostgreSQL v3 wire protocol from scratch:
// connection-URL parsing, transport variants, and frontend/backend
// message framing. Nothing here depends on database/sql or pgx — the
// whole point of this package is to speak the protocol directly.
package wire

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/dataview/dataview/pkg/dataerr"
)

// TransportKind selects which of the three Transport variants a
// ConnectDescriptor resolves to.
type TransportKind int

const (
	PlainTCP TransportKind = iota
	TLSTCP
	UnixSocket
)

// candidateSocketDirs is the search order for an unqualified Unix
// socket connection, matching libpq's own default search path.
var candidateSocketDirs = []string{"/run/postgresql", "/var/run/postgresql", "/tmp"}

// ConnectDescriptor is the parsed form of a
// `postgres://[user[:password]@][host][:port][/database]` or
// `postgres:///database[?host=/dir&port=N]` URL.
type ConnectDescriptor struct {
	Kind     TransportKind
	Host     string
	Port     int
	Database string
	User     string
	Password Secret
	TLS      bool
	SockDir  string
}

// SockPath returns the Unix-domain-socket path for this descriptor,
// following the `.s.PGSQL.<port>` naming convention.
func (d ConnectDescriptor) SockPath() string {
	return fmt.Sprintf("%s/.s.PGSQL.%d", d.SockDir, d.Port)
}

// Secret holds a password that zeroes its backing array once Clear is
// called, so a connection descriptor doesn't keep cleartext credentials
// alive in memory longer than needed.
type Secret struct {
	b []byte
}

// NewSecret copies s into a Secret-owned buffer.
func NewSecret(s string) Secret {
	b := make([]byte, len(s))
	copy(b, s)
	return Secret{b: b}
}

// String exposes the secret value. Callers should not retain the
// result beyond the immediate use (e.g. building a Password message).
func (s Secret) String() string { return string(s.b) }

// Empty reports whether no password was supplied.
func (s Secret) Empty() bool { return len(s.b) == 0 }

// Clear zeroes the backing buffer, matching the "password container
// zeroes its storage on drop" requirement.
func (s *Secret) Clear() {
	for i := range s.b {
		s.b[i] = 0
	}
	s.b = nil
}

// ParseURL parses a postgres:// connection URL into a ConnectDescriptor.
func ParseURL(raw string) (ConnectDescriptor, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ConnectDescriptor{}, &dataerr.ConfigError{
			Error: dataerr.Error{Op: "wire.ParseURL", Kind: dataerr.KindConfig, Err: err},
			Field: "url", Value: raw,
		}
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return ConnectDescriptor{}, &dataerr.ConfigError{
			Error: dataerr.Error{Op: "wire.ParseURL", Kind: dataerr.KindConfig,
				Err: fmt.Errorf("unsupported scheme %q", u.Scheme)},
			Field: "scheme", Value: u.Scheme,
		}
	}

	desc := ConnectDescriptor{Kind: PlainTCP, Port: 5432}

	if u.User != nil {
		desc.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			desc.Password = NewSecret(pw)
		}
	}

	desc.Database = strings.TrimPrefix(u.Path, "/")

	query := u.Query()
	if v := query.Get("sslmode"); v != "" && v != "disable" {
		desc.TLS = true
		desc.Kind = TLSTCP
	}

	host := u.Hostname()
	if host == "" {
		// postgres:///database[?host=/dir&port=N] form: Unix socket.
		desc.Kind = UnixSocket
		desc.SockDir = query.Get("host")
		if desc.SockDir == "" {
			desc.SockDir = resolveSocketDir()
		}
		if p := query.Get("port"); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return ConnectDescriptor{}, &dataerr.ConfigError{
					Error: dataerr.Error{Op: "wire.ParseURL", Kind: dataerr.KindConfig, Err: err},
					Field: "port", Value: p,
				}
			}
			desc.Port = port
		}
		return desc, nil
	}

	desc.Host = host
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return ConnectDescriptor{}, &dataerr.ConfigError{
				Error: dataerr.Error{Op: "wire.ParseURL", Kind: dataerr.KindConfig, Err: err},
				Field: "port", Value: p,
			}
		}
		desc.Port = port
	}

	return desc, nil
}

// resolveSocketDir walks candidateSocketDirs, returning the first entry;
// actual existence is checked by the transport at dial time so this
// stays a pure, side-effect-free default rather than doing I/O during
// parsing.
func resolveSocketDir() string {
	return candidateSocketDirs[0]
}

// SocketDirCandidates returns the full search order, letting the
// transport try each in turn before falling back to an explicit host=.
func SocketDirCandidates() []string {
	out := make([]string, len(candidateSocketDirs))
	copy(out, candidateSocketDirs)
	return out
}
