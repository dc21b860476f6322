// Package wire implements the NBD transmission-phase wire format: the
// fixed request/simple-reply headers and their big-endian marshaling.
package wire

import "encoding/binary"

// Marshal encodes v into a newly allocated slice of exactly the struct's
// wire size using the NBD wire format (big-endian, field-by-field — the
// NBD protocol is defined over the network byte order, unlike the ublk
// uapi's native-endian ioctl structs). It panics if v is not a
// *Request or *SimpleReply.
func Marshal(v interface{}) []byte {
	switch val := v.(type) {
	case *Request:
		return marshalRequest(val)
	case *SimpleReply:
		return marshalSimpleReply(val)
	default:
		panic("wire: unsupported type for Marshal")
	}
}

// Unmarshal decodes data into v. Returns ErrInsufficientData if data is
// shorter than the target struct's wire size.
func Unmarshal(data []byte, v interface{}) error {
	switch val := v.(type) {
	case *Request:
		return unmarshalRequest(data, val)
	case *SimpleReply:
		return unmarshalSimpleReply(data, val)
	default:
		return ErrInvalidType
	}
}

func marshalRequest(r *Request) []byte {
	buf := make([]byte, 28)
	binary.BigEndian.PutUint32(buf[0:4], r.Magic)
	binary.BigEndian.PutUint16(buf[4:6], r.Flags)
	binary.BigEndian.PutUint16(buf[6:8], r.Type)
	binary.BigEndian.PutUint64(buf[8:16], r.Handle)
	binary.BigEndian.PutUint64(buf[16:24], r.Offset)
	binary.BigEndian.PutUint32(buf[24:28], r.Count)
	return buf
}

// MarshalRequestInto encodes r directly into buf (len(buf) >= 28),
// avoiding an allocation on the issue engine's hot path.
func MarshalRequestInto(buf []byte, r *Request) {
	binary.BigEndian.PutUint32(buf[0:4], r.Magic)
	binary.BigEndian.PutUint16(buf[4:6], r.Flags)
	binary.BigEndian.PutUint16(buf[6:8], r.Type)
	binary.BigEndian.PutUint64(buf[8:16], r.Handle)
	binary.BigEndian.PutUint64(buf[16:24], r.Offset)
	binary.BigEndian.PutUint32(buf[24:28], r.Count)
}

func unmarshalRequest(data []byte, r *Request) error {
	if len(data) < 28 {
		return ErrInsufficientData
	}
	r.Magic = binary.BigEndian.Uint32(data[0:4])
	r.Flags = binary.BigEndian.Uint16(data[4:6])
	r.Type = binary.BigEndian.Uint16(data[6:8])
	r.Handle = binary.BigEndian.Uint64(data[8:16])
	r.Offset = binary.BigEndian.Uint64(data[16:24])
	r.Count = binary.BigEndian.Uint32(data[24:28])
	return nil
}

func marshalSimpleReply(r *SimpleReply) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], r.Magic)
	binary.BigEndian.PutUint32(buf[4:8], r.Error)
	binary.BigEndian.PutUint64(buf[8:16], r.Handle)
	return buf
}

func unmarshalSimpleReply(data []byte, r *SimpleReply) error {
	if len(data) < 16 {
		return ErrInsufficientData
	}
	r.Magic = binary.BigEndian.Uint32(data[0:4])
	r.Error = binary.BigEndian.Uint32(data[4:8])
	r.Handle = binary.BigEndian.Uint64(data[8:16])
	return nil
}

// MarshalError mirrors the teacher's string-based marshal error type.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrInsufficientData MarshalError = "wire: insufficient data for unmarshal"
	ErrInvalidType      MarshalError = "wire: invalid type for marshal"
)
