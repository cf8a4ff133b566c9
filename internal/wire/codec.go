// Package wire implements the byte-exact A/IN question decoder and
// answer/error encoder for the hot path. It intentionally does not use
// github.com/miekg/dns's general-purpose Msg type: the hot path only
// ever needs to parse one question shape and emit one answer shape, and
// doing that with a hand-rolled decoder keeps the sub-50us budget free
// of the allocations a general unmarshaler would make on every packet.
// github.com/miekg/dns is still used elsewhere in this module (the
// upstream resolver) wherever a full DNS library actually earns its keep.
package wire

import (
	"encoding/binary"
	"errors"
)

const (
	headerLen = 12

	TypeA   = 1
	ClassIN = 1

	RcodeOK       = 0
	RcodeServFail = 2
	RcodeNotImp   = 4

	flagsBase = 0x8180 // QR=1, RD=1, RA=1, RCODE=0
)

// Distinct failure conditions for question parsing. Each is silent-drop
// per spec except where noted at the call site (qtype/qclass mismatch).
var (
	ErrBufferTooShort   = errors.New("wire: buffer shorter than dns header")
	ErrBadQuestionCount = errors.New("wire: qdcount != 1")
	ErrBadLabelLength   = errors.New("wire: label length > 63 octets")
	ErrBufferOverrun    = errors.New("wire: name decode overran buffer")
	ErrEmptyName        = errors.New("wire: zero-length name with no terminator")
)

// Header is the fixed 12-octet DNS message header. ID is preserved in
// wire order (it is opaque to the resolver, only ever echoed back);
// every other field is host-order after big-endian decode.
type Header struct {
	ID      [2]byte
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Question is a single parsed A/IN (or rejected) question.
type Question struct {
	// Name holds the wire-encoded label sequence exactly as it appeared
	// in the query (case preserved, no compression), terminated by the
	// zero-length root label. Re-emitting it byte-for-byte in the
	// answer's question section is what makes the round-trip law hold.
	Name   []byte
	QType  uint16
	QClass uint16
}

// ParseQuestion decodes the header and the single question from buf.
// It returns ErrBufferTooShort, ErrBadQuestionCount, ErrBadLabelLength,
// ErrBufferOverrun, or ErrEmptyName for malformed input; all of those are silent-drop
// conditions at the dispatcher. A successfully parsed Question with a
// QType/QClass other than A/IN is not an error here — the dispatcher
// decides to reply NOTIMP for that case.
func ParseQuestion(buf []byte) (Header, Question, error) {
	var h Header
	var q Question

	if len(buf) < headerLen {
		return h, q, ErrBufferTooShort
	}

	h.ID[0], h.ID[1] = buf[0], buf[1]
	h.Flags = binary.BigEndian.Uint16(buf[2:4])
	h.QDCount = binary.BigEndian.Uint16(buf[4:6])
	h.ANCount = binary.BigEndian.Uint16(buf[6:8])
	h.NSCount = binary.BigEndian.Uint16(buf[8:10])
	h.ARCount = binary.BigEndian.Uint16(buf[10:12])

	if h.QDCount != 1 {
		return h, q, ErrBadQuestionCount
	}

	name, next, err := decodeName(buf, headerLen)
	if err != nil {
		return h, q, err
	}
	if next+4 > len(buf) {
		return h, q, ErrBufferOverrun
	}

	q.Name = name
	q.QType = binary.BigEndian.Uint16(buf[next : next+2])
	q.QClass = binary.BigEndian.Uint16(buf[next+2 : next+4])
	return h, q, nil
}

// decodeName decodes a domain name starting at offset in buf, handling
// uncompressed labels and a single level of 0xC0xx compression pointer
// indirection; a second pointer reached after a jump is rejected with
// ErrBufferOverrun. It returns the wire-encoded name bytes (labels plus
// the terminating zero octet, the pointer resolved away) and the offset
// in buf immediately following the name as it appeared at the call
// site (i.e. after the two-octet pointer if one was taken, never after
// the jump target).
func decodeName(buf []byte, offset int) ([]byte, int, error) {
	start := offset
	pos := offset
	jumped := false
	returnOffset := offset

	var out []byte
	labels := 0

	for {
		if pos >= len(buf) {
			return nil, 0, ErrBufferOverrun
		}
		lenByte := buf[pos]

		if lenByte == 0 {
			pos++
			if !jumped {
				returnOffset = pos
			}
			out = append(out, 0)
			break
		}

		if lenByte&0xC0 == 0xC0 {
			if pos+1 >= len(buf) {
				return nil, 0, ErrBufferOverrun
			}
			if jumped {
				// Only a single level of indirection is followed, so
				// pointer chains (and cycles among them) cannot loop.
				return nil, 0, ErrBufferOverrun
			}
			returnOffset = pos + 2
			jumped = true
			ptr := int(lenByte&0x3F)<<8 | int(buf[pos+1])
			if ptr >= start {
				// A pointer must reference an earlier offset; refuse to
				// jump forward or to itself to avoid infinite loops.
				return nil, 0, ErrBufferOverrun
			}
			pos = ptr
			continue
		}

		if lenByte > 63 {
			return nil, 0, ErrBadLabelLength
		}
		if pos+1+int(lenByte) > len(buf) {
			return nil, 0, ErrBufferOverrun
		}

		out = append(out, lenByte)
		out = append(out, buf[pos+1:pos+1+int(lenByte)]...)
		pos += 1 + int(lenByte)
		labels++

		if labels > 128 {
			// A DNS name is bounded to 253 octets / labels of at most 63
			// octets each; 128 labels is already far beyond any legal
			// name.
			return nil, 0, ErrBufferOverrun
		}
	}

	if len(out) == 1 { // just the terminating zero: empty name
		return nil, 0, ErrEmptyName
	}

	return out, returnOffset, nil
}

// EncodeAnswer builds a complete A/IN reply: header, re-encoded
// question, and one answer record whose owner name is the compression
// pointer 0xC00C (the question name always starts at offset 12).
func EncodeAnswer(id [2]byte, qname []byte, qtype, qclass uint16, ip [4]byte, ttl uint32) []byte {
	out := make([]byte, 0, headerLen+len(qname)+4+2+2+2+4+2+4)

	out = append(out, id[0], id[1])
	out = appendUint16(out, flagsBase)
	out = appendUint16(out, 1) // qdcount
	out = appendUint16(out, 1) // ancount
	out = appendUint16(out, 0) // nscount
	out = appendUint16(out, 0) // arcount

	out = append(out, qname...)
	out = appendUint16(out, qtype)
	out = appendUint16(out, qclass)

	out = append(out, 0xC0, 0x0C)
	out = appendUint16(out, TypeA)
	out = appendUint16(out, ClassIN)
	out = appendUint32(out, ttl)
	out = appendUint16(out, 4)
	out = append(out, ip[:]...)

	return out
}

// EncodeError builds a 12-octet header-only reply with the given rcode
// folded into the standard response flags and every count zeroed.
func EncodeError(id [2]byte, rcode uint16) []byte {
	out := make([]byte, headerLen)
	out[0], out[1] = id[0], id[1]
	binary.BigEndian.PutUint16(out[2:4], flagsBase|rcode)
	return out
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// LowerName returns a lowercased copy of a wire-encoded name's label
// bytes, leaving length octets and the terminator untouched. Used to
// build the cache/precompiled-table lookup key while EncodeAnswer keeps
// using the query's original-case qname for RFC 1035 compliance.
func LowerName(name []byte) []byte {
	out := make([]byte, len(name))
	copy(out, name)
	i := 0
	for i < len(out) {
		l := int(out[i])
		i++
		if l == 0 {
			break
		}
		for j := 0; j < l && i < len(out); j++ {
			c := out[i]
			if c >= 'A' && c <= 'Z' {
				out[i] = c + ('a' - 'A')
			}
			i++
		}
	}
	return out
}

// NameToDomainKey converts a wire-encoded, already-lowercased name into
// the dotted domain key used by the cache and precompiled table: labels
// joined by '.', no trailing dot. An empty/root name yields "".
func NameToDomainKey(name []byte) string {
	if len(name) == 0 {
		return ""
	}
	var b []byte
	i := 0
	first := true
	for i < len(name) {
		l := int(name[i])
		i++
		if l == 0 {
			break
		}
		if i+l > len(name) {
			break
		}
		if !first {
			b = append(b, '.')
		}
		first = false
		b = append(b, name[i:i+l]...)
		i += l
	}
	return string(b)
}

// EncodeDomainKey converts a dotted domain key ("example.com") back
// into wire label form (length-prefixed labels, zero terminator). Used
// by the precompiled table builder and tests.
func EncodeDomainKey(domain string) []byte {
	if domain == "" {
		return []byte{0}
	}
	var out []byte
	start := 0
	for i := 0; i <= len(domain); i++ {
		if i == len(domain) || domain[i] == '.' {
			label := domain[start:i]
			out = append(out, byte(len(label)))
			out = append(out, label...)
			start = i + 1
		}
	}
	out = append(out, 0)
	return out
}
