package wire

// Frontend message type tags, one byte each, as defined by the
// PostgreSQL v3 protocol.
const (
	tagPassword byte = 'p'
	tagQuery    byte = 'Q'
	tagTerminate byte = 'X'
)

// Backend message type tags relevant to the single-column read path
// this client exists for.
const (
	TagAuthentication  byte = 'R'
	TagParameterStatus byte = 'S'
	TagBackendKeyData  byte = 'K'
	TagRowDescription  byte = 'T'
	TagDataRow         byte = 'D'
	TagCommandComplete byte = 'C'
	TagReadyForQuery   byte = 'Z'
	TagErrorResponse   byte = 'E'
	TagNoticeResponse  byte = 'N'
)

// Authentication sub-codes carried in the int32 following the 'R' tag.
const (
	authOK                = 0
	authCleartextPassword = 3
	authMD5Password       = 5
)

// AuthKind enumerates the Authentication message variants the codec
// understands.
type AuthKind int

const (
	AuthOK AuthKind = iota
	AuthCleartextPassword
	AuthMD5Password
)

// StartupMessage is the frontend `Startup(version, params)` message. It
// has no leading type byte — it is the only frontend message that
// doesn't.
type StartupMessage struct {
	ProtocolVersion int32
	Params          map[string]string
}

// PasswordMessage is the frontend `Password(cleartext)` message.
type PasswordMessage struct {
	Password string
}

// QueryMessage is the frontend `Query(sql)` message (simple query
// protocol — this client never uses extended query / prepared
// statements).
type QueryMessage struct {
	SQL string
}

// TerminateMessage is the frontend `Terminate` message.
type TerminateMessage struct{}

// Authentication is the backend `Authentication*` message family.
type Authentication struct {
	Kind AuthKind
	Salt [4]byte // only set for AuthMD5Password
}

// ParameterStatus is a backend `ParameterStatus` message.
type ParameterStatus struct {
	Name  string
	Value string
}

// BackendKeyData is the backend `BackendKeyData` message, used for
// query cancellation (not exercised by this client but recorded per
// the startup-sequence contract).
type BackendKeyData struct {
	ProcessID int32
	SecretKey int32
}

// FieldDescription describes one column of a RowDescription.
type FieldDescription struct {
	Name         string
	TableOID     int32
	ColumnAttNum int16
	DataTypeOID  int32
	DataTypeSize int16
	TypeModifier int32
	FormatCode   int16
}

// RowDescription is the backend `RowDescription` message.
type RowDescription struct {
	Fields []FieldDescription
}

// DataRow is the backend `DataRow` message: one value per column, nil
// for SQL NULL.
type DataRow struct {
	Values [][]byte
}

// CommandComplete is the backend `CommandComplete` message.
type CommandComplete struct {
	Tag string
}

// TxStatus is the transaction-status byte carried by ReadyForQuery.
type TxStatus byte

const (
	TxIdle       TxStatus = 'I'
	TxInBlock    TxStatus = 'T'
	TxInFailed   TxStatus = 'E'
)

// ReadyForQuery is the backend `ReadyForQuery` message.
type ReadyForQuery struct {
	Status TxStatus
}

// ErrorField codes relevant to diagnostics (subset of the full set).
const (
	ErrFieldSeverity byte = 'S'
	ErrFieldCode     byte = 'C'
	ErrFieldMessage  byte = 'M'
)

// ErrorResponse is the backend `ErrorResponse` message, surfaced to
// callers verbatim (severity/code/message preserved).
type ErrorResponse struct {
	Fields map[byte]string
}

func (e ErrorResponse) Severity() string { return e.Fields[ErrFieldSeverity] }
func (e ErrorResponse) Code() string     { return e.Fields[ErrFieldCode] }
func (e ErrorResponse) Message() string  { return e.Fields[ErrFieldMessage] }

// NoticeResponse is the backend `NoticeResponse` message; same field
// layout as ErrorResponse but non-fatal.
type NoticeResponse struct {
	Fields map[byte]string
}

// BackendMessage is implemented by every decoded backend message type,
// letting the connection state machine switch on concrete type via a
// type switch.
type BackendMessage interface {
	isBackendMessage()
}

func (Authentication) isBackendMessage()  {}
func (ParameterStatus) isBackendMessage() {}
func (BackendKeyData) isBackendMessage()  {}
func (RowDescription) isBackendMessage()  {}
func (DataRow) isBackendMessage()         {}
func (CommandComplete) isBackendMessage() {}
func (ReadyForQuery) isBackendMessage()   {}
func (ErrorResponse) isBackendMessage()   {}
func (NoticeResponse) isBackendMessage()  {}
