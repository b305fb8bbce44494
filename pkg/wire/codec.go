package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dataview/dataview/pkg/dataerr"
)

// protocolVersion3_0 is the only startup version this client speaks.
const protocolVersion3_0 = int32(3)<<16 | 0

// EncodeStartup builds the frontend Startup message. Unlike every other
// frontend message it carries no leading type byte.
func EncodeStartup(m StartupMessage) []byte {
	var body bytes.Buffer
	version := m.ProtocolVersion
	if version == 0 {
		version = protocolVersion3_0
	}
	writeInt32(&body, version)
	for k, v := range m.Params {
		body.WriteString(k)
		body.WriteByte(0)
		body.WriteString(v)
		body.WriteByte(0)
	}
	body.WriteByte(0)

	out := make([]byte, 0, 4+body.Len())
	out = appendInt32(out, int32(4+body.Len()))
	out = append(out, body.Bytes()...)
	return out
}

// EncodePassword builds the frontend Password message.
func EncodePassword(m PasswordMessage) []byte {
	return framed(tagPassword, func(body *bytes.Buffer) {
		body.WriteString(m.Password)
		body.WriteByte(0)
	})
}

// EncodeQuery builds the frontend simple-Query message.
func EncodeQuery(m QueryMessage) []byte {
	return framed(tagQuery, func(body *bytes.Buffer) {
		body.WriteString(m.SQL)
		body.WriteByte(0)
	})
}

// EncodeTerminate builds the frontend Terminate message.
func EncodeTerminate() []byte {
	return framed(tagTerminate, func(*bytes.Buffer) {})
}

func framed(tag byte, write func(*bytes.Buffer)) []byte {
	var body bytes.Buffer
	write(&body)

	out := make([]byte, 0, 5+body.Len())
	out = append(out, tag)
	out = appendInt32(out, int32(4+body.Len()))
	out = append(out, body.Bytes()...)
	return out
}

// Decode attempts to decode exactly one backend message from buf. It
// returns the decoded message, the unconsumed remainder of buf, and
// ok=false if buf doesn't yet hold a complete message (the caller should
// read more bytes and retry). It never allocates beyond the field
// slices of the returned message.
func Decode(buf []byte) (msg BackendMessage, remainder []byte, ok bool, err error) {
	if len(buf) < 5 {
		return nil, buf, false, nil
	}
	tag := buf[0]
	length := int32(binary.BigEndian.Uint32(buf[1:5]))
	if length < 4 {
		return nil, buf, false, &dataerr.ProtocolError{
			Error:       dataerr.Error{Op: "wire.Decode", Kind: dataerr.KindProtocol, Err: fmt.Errorf("invalid message length %d", length)},
			MessageType: tag,
		}
	}
	total := 1 + int(length)
	if len(buf) < total {
		return nil, buf, false, nil
	}
	body := buf[5:total]
	remainder = buf[total:]

	msg, err = decodeBody(tag, body)
	if err != nil {
		return nil, remainder, false, err
	}
	return msg, remainder, true, nil
}

func decodeBody(tag byte, body []byte) (BackendMessage, error) {
	switch tag {
	case TagAuthentication:
		return decodeAuthentication(body)
	case TagParameterStatus:
		name, rest, err := readCString(body)
		if err != nil {
			return nil, protocolErr(tag, err)
		}
		value, _, err := readCString(rest)
		if err != nil {
			return nil, protocolErr(tag, err)
		}
		return ParameterStatus{Name: name, Value: value}, nil
	case TagBackendKeyData:
		if len(body) < 8 {
			return nil, protocolErr(tag, fmt.Errorf("short BackendKeyData"))
		}
		return BackendKeyData{
			ProcessID: int32(binary.BigEndian.Uint32(body[0:4])),
			SecretKey: int32(binary.BigEndian.Uint32(body[4:8])),
		}, nil
	case TagRowDescription:
		return decodeRowDescription(body)
	case TagDataRow:
		return decodeDataRow(body)
	case TagCommandComplete:
		t, _, err := readCString(body)
		if err != nil {
			return nil, protocolErr(tag, err)
		}
		return CommandComplete{Tag: t}, nil
	case TagReadyForQuery:
		if len(body) < 1 {
			return nil, protocolErr(tag, fmt.Errorf("short ReadyForQuery"))
		}
		return ReadyForQuery{Status: TxStatus(body[0])}, nil
	case TagErrorResponse:
		fields, err := decodeFields(body)
		if err != nil {
			return nil, protocolErr(tag, err)
		}
		return ErrorResponse{Fields: fields}, nil
	case TagNoticeResponse:
		fields, err := decodeFields(body)
		if err != nil {
			return nil, protocolErr(tag, err)
		}
		return NoticeResponse{Fields: fields}, nil
	default:
		return nil, &dataerr.ProtocolError{
			Error:       dataerr.Error{Op: "wire.Decode", Kind: dataerr.KindProtocol, Err: fmt.Errorf("unexpected backend message type %q", tag)},
			MessageType: tag,
		}
	}
}

func decodeAuthentication(body []byte) (BackendMessage, error) {
	if len(body) < 4 {
		return nil, protocolErr(TagAuthentication, fmt.Errorf("short Authentication"))
	}
	code := int32(binary.BigEndian.Uint32(body[0:4]))
	switch code {
	case authOK:
		return Authentication{Kind: AuthOK}, nil
	case authCleartextPassword:
		return Authentication{Kind: AuthCleartextPassword}, nil
	case authMD5Password:
		var salt [4]byte
		if len(body) < 8 {
			return nil, protocolErr(TagAuthentication, fmt.Errorf("short Md5Password salt"))
		}
		copy(salt[:], body[4:8])
		return Authentication{Kind: AuthMD5Password, Salt: salt}, nil
	default:
		return nil, &dataerr.AuthenticationError{
			Error:  dataerr.Error{Op: "wire.Decode", Kind: dataerr.KindAuthentication, Err: fmt.Errorf("unsupported authentication method %d", code)},
			Method: fmt.Sprintf("code=%d", code),
		}
	}
}

func decodeRowDescription(body []byte) (BackendMessage, error) {
	if len(body) < 2 {
		return nil, protocolErr(TagRowDescription, fmt.Errorf("short RowDescription"))
	}
	count := int(binary.BigEndian.Uint16(body[0:2]))
	rest := body[2:]
	fields := make([]FieldDescription, 0, count)
	for i := 0; i < count; i++ {
		name, tail, err := readCString(rest)
		if err != nil {
			return nil, protocolErr(TagRowDescription, err)
		}
		if len(tail) < 18 {
			return nil, protocolErr(TagRowDescription, fmt.Errorf("short field descriptor"))
		}
		fields = append(fields, FieldDescription{
			Name:         name,
			TableOID:     int32(binary.BigEndian.Uint32(tail[0:4])),
			ColumnAttNum: int16(binary.BigEndian.Uint16(tail[4:6])),
			DataTypeOID:  int32(binary.BigEndian.Uint32(tail[6:10])),
			DataTypeSize: int16(binary.BigEndian.Uint16(tail[10:12])),
			TypeModifier: int32(binary.BigEndian.Uint32(tail[12:16])),
			FormatCode:   int16(binary.BigEndian.Uint16(tail[16:18])),
		})
		rest = tail[18:]
	}
	return RowDescription{Fields: fields}, nil
}

func decodeDataRow(body []byte) (BackendMessage, error) {
	if len(body) < 2 {
		return nil, protocolErr(TagDataRow, fmt.Errorf("short DataRow"))
	}
	count := int(binary.BigEndian.Uint16(body[0:2]))
	rest := body[2:]
	values := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		if len(rest) < 4 {
			return nil, protocolErr(TagDataRow, fmt.Errorf("short column length"))
		}
		colLen := int32(binary.BigEndian.Uint32(rest[0:4]))
		rest = rest[4:]
		if colLen < 0 {
			values = append(values, nil)
			continue
		}
		if len(rest) < int(colLen) {
			return nil, protocolErr(TagDataRow, fmt.Errorf("short column value"))
		}
		values = append(values, rest[:colLen])
		rest = rest[colLen:]
	}
	return DataRow{Values: values}, nil
}

func decodeFields(body []byte) (map[byte]string, error) {
	fields := make(map[byte]string)
	rest := body
	for len(rest) > 0 && rest[0] != 0 {
		code := rest[0]
		value, tail, err := readCString(rest[1:])
		if err != nil {
			return nil, err
		}
		fields[code] = value
		rest = tail
	}
	return fields, nil
}

func readCString(b []byte) (string, []byte, error) {
	idx := bytes.IndexByte(b, 0)
	if idx < 0 {
		return "", nil, fmt.Errorf("unterminated string")
	}
	return string(b[:idx]), b[idx+1:], nil
}

func protocolErr(tag byte, err error) error {
	return &dataerr.ProtocolError{
		Error:       dataerr.Error{Op: "wire.Decode", Kind: dataerr.KindProtocol, Err: err},
		MessageType: tag,
	}
}

func writeInt32(buf *bytes.Buffer, v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	buf.Write(tmp[:])
}

func appendInt32(b []byte, v int32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	return append(b, tmp[:]...)
}
