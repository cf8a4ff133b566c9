package wire

import (
	"bytes"
	"testing"
)

func buildQuery(id uint16, name []byte, qtype, qclass uint16) []byte {
	buf := make([]byte, 0, headerLen+len(name)+4)
	buf = append(buf, byte(id>>8), byte(id))
	buf = appendUint16(buf, 0x0100) // RD
	buf = appendUint16(buf, 1)
	buf = appendUint16(buf, 0)
	buf = appendUint16(buf, 0)
	buf = appendUint16(buf, 0)
	buf = append(buf, name...)
	buf = appendUint16(buf, qtype)
	buf = appendUint16(buf, qclass)
	return buf
}

func TestParseQuestionRoundTrip(t *testing.T) {
	name := EncodeDomainKey("example.com")
	buf := buildQuery(0x1234, name, TypeA, ClassIN)

	h, q, err := ParseQuestion(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.ID != [2]byte{0x12, 0x34} {
		t.Errorf("id mismatch: %v", h.ID)
	}
	if !bytes.Equal(q.Name, name) {
		t.Errorf("name mismatch: got %v want %v", q.Name, name)
	}
	if q.QType != TypeA || q.QClass != ClassIN {
		t.Errorf("type/class mismatch: %d/%d", q.QType, q.QClass)
	}

	// re-encoding the decoded question section must reproduce the
	// original bytes exactly.
	reencoded := append(append([]byte{}, q.Name...), buf[len(buf)-4:]...)
	if !bytes.Equal(reencoded, buf[headerLen:]) {
		t.Errorf("round trip mismatch")
	}
}

func TestParseQuestionCompressionPointer(t *testing.T) {
	// message: header, then "example.com" at offset 12, then a second
	// question-like blob at offset X that points back via 0xC0<<8|12.
	name := EncodeDomainKey("example.com")
	buf := buildQuery(1, name, TypeA, ClassIN)

	ptrOffset := len(buf)
	buf = append(buf, 0xC0, 0x0C) // pointer to offset 12
	buf = appendUint16(buf, TypeA)
	buf = appendUint16(buf, ClassIN)

	// A pointer as the first question's own name isn't legal DNS, so
	// this exercises the pointer-resolution helper directly rather than
	// going through ParseQuestion's first-question path.
	resolved, next, derr := decodeName(buf, ptrOffset)
	if derr != nil {
		t.Fatalf("decodeName error: %v", derr)
	}
	if !bytes.Equal(resolved, name) {
		t.Errorf("pointer did not resolve to same name: %v vs %v", resolved, name)
	}
	if next != ptrOffset+2 {
		t.Errorf("cursor did not restore to post-pointer offset: got %d want %d", next, ptrOffset+2)
	}
}

func TestParseQuestionFailures(t *testing.T) {
	t.Run("short buffer", func(t *testing.T) {
		_, _, err := ParseQuestion(make([]byte, 4))
		if err != ErrBufferTooShort {
			t.Errorf("got %v want ErrBufferTooShort", err)
		}
	})

	t.Run("bad qdcount", func(t *testing.T) {
		buf := buildQuery(1, EncodeDomainKey("a.com"), TypeA, ClassIN)
		buf[4], buf[5] = 0, 2 // qdcount = 2
		_, _, err := ParseQuestion(buf)
		if err != ErrBadQuestionCount {
			t.Errorf("got %v want ErrBadQuestionCount", err)
		}
	})

	t.Run("bad label length", func(t *testing.T) {
		buf := buildQuery(1, EncodeDomainKey("a.com"), TypeA, ClassIN)
		buf[headerLen] = 64 // first label length byte, 64 > 63 with top bits unset
		_, _, err := ParseQuestion(buf)
		if err != ErrBadLabelLength {
			t.Errorf("got %v want ErrBadLabelLength", err)
		}
	})

	t.Run("overrun", func(t *testing.T) {
		buf := buildQuery(1, EncodeDomainKey("example.com"), TypeA, ClassIN)
		buf = buf[:headerLen+3] // truncate mid-name
		_, _, err := ParseQuestion(buf)
		if err != ErrBufferOverrun {
			t.Errorf("got %v want ErrBufferOverrun", err)
		}
	})

	t.Run("empty name", func(t *testing.T) {
		buf := buildQuery(1, []byte{0}, TypeA, ClassIN)
		_, _, err := ParseQuestion(buf)
		if err != ErrEmptyName {
			t.Errorf("got %v want ErrEmptyName", err)
		}
	})
}

func TestEncodeAnswer(t *testing.T) {
	name := EncodeDomainKey("router.local")
	out := EncodeAnswer([2]byte{0x12, 0x34}, name, TypeA, ClassIN, [4]byte{192, 168, 1, 1}, 300)

	if out[0] != 0x12 || out[1] != 0x34 {
		t.Errorf("id not echoed: %v", out[:2])
	}
	if out[2] != 0x81 || out[3] != 0x80 {
		t.Errorf("flags mismatch: %x %x", out[2], out[3])
	}
	// ancount at offset 6-7 must be 1.
	if out[6] != 0 || out[7] != 1 {
		t.Errorf("ancount mismatch")
	}

	qEnd := headerLen + len(name) + 4
	if out[qEnd] != 0xC0 || out[qEnd+1] != 0x0C {
		t.Errorf("answer name is not the 0xC00C compression pointer")
	}

	rdata := out[len(out)-4:]
	want := []byte{192, 168, 1, 1}
	if !bytes.Equal(rdata, want) {
		t.Errorf("rdata mismatch: got %v want %v", rdata, want)
	}
}

func TestEncodeError(t *testing.T) {
	out := EncodeError([2]byte{0x12, 0x34}, RcodeNotImp)
	if len(out) != headerLen {
		t.Fatalf("error response must be exactly 12 octets, got %d", len(out))
	}
	if out[2] != 0x81 || out[3] != 0x84 {
		t.Errorf("flags mismatch for NOTIMP: %x %x", out[2], out[3])
	}
	for _, b := range out[4:] {
		if b != 0 {
			t.Errorf("expected all counts zero, got %v", out[4:])
		}
	}
}

func TestNameToDomainKeyRoundTrip(t *testing.T) {
	domain := "router.local"
	name := EncodeDomainKey(domain)
	lower := LowerName(name)
	if got := NameToDomainKey(lower); got != domain {
		t.Errorf("got %q want %q", got, domain)
	}
}

func TestLowerNamePreservesLength(t *testing.T) {
	name := EncodeDomainKey("EXAMPLE.com")
	lower := LowerName(name)
	if len(lower) != len(name) {
		t.Fatalf("length changed: %d vs %d", len(lower), len(name))
	}
	if NameToDomainKey(lower) != "example.com" {
		t.Errorf("got %q", NameToDomainKey(lower))
	}
}
