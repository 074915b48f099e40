package wire_test

import (
	"bytes"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pep-security/pepcore/wire"
)

// note is a minimal message for exercising the encoding.
type note struct {
	Text  string
	Count uint64
}

func (n *note) TypeName() string { return "TestNote" }

func (n *note) AppendFields(dst []byte) ([]byte, error) {
	dst = wire.AppendString(dst, 1, n.Text)
	dst = wire.AppendUint64(dst, 2, n.Count)
	return dst, nil
}

func (n *note) ParseFields(data []byte) error {
	*n = note{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			n.Text = sc.Text()
		case protowire.Number(2):
			n.Count = sc.Uint64()
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

func TestMarshalRoundTrip(t *testing.T) {
	in := &note{Text: "hello", Count: 42}
	data, err := wire.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}

	var out note
	if err := wire.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out != *in {
		t.Errorf("round trip = %+v, want %+v", out, *in)
	}
}

func TestUnmarshalRejectsWrongMagic(t *testing.T) {
	data, err := wire.Marshal(&note{Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	data[0] ^= 0xff

	var out note
	var serr *wire.SerializeError
	if err := wire.Unmarshal(data, &out); !errors.As(err, &serr) {
		t.Errorf("wrong magic: got %v, want SerializeError", err)
	}
}

func TestUnmarshalRejectsShortInput(t *testing.T) {
	var out note
	if err := wire.Unmarshal([]byte{1, 2}, &out); err == nil {
		t.Error("input shorter than the magic should not parse")
	}
}

func TestMagicPinning(t *testing.T) {
	// These values pin the wire format: older persisted messages must remain
	// deserializable.
	for _, tt := range []struct {
		name  string
		magic uint32
	}{
		{"SignedTicket2", 3936116042},
		{"SignedTicketRequest2", 1911144167},
	} {
		if got := wire.CalculateMessageMagic(tt.name); got != tt.magic {
			t.Errorf("CalculateMessageMagic(%q) = %d, want %d", tt.name, got, tt.magic)
		}
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("framed message")
	if err := wire.WriteFrame(&buf, payload); err != nil {
		t.Fatal(err)
	}
	got, err := wire.ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadFrame = %q, want %q", got, payload)
	}
}

func TestFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	if _, err := wire.ReadFrame(&buf); err == nil {
		t.Error("oversized frame length should be rejected")
	}
}

func TestErrorEnvelopeRoundTrip(t *testing.T) {
	t.Run("typed", func(t *testing.T) {
		env := wire.Envelope(&wire.SerializeError{Description: "boom"})
		data, err := wire.Marshal(env)
		if err != nil {
			t.Fatal(err)
		}

		var back wire.Error
		if err := wire.Unmarshal(data, &back); err != nil {
			t.Fatal(err)
		}
		var serr *wire.SerializeError
		if err := back.Reconstruct(); !errors.As(err, &serr) {
			t.Errorf("Reconstruct = %T, want *SerializeError", err)
		}
	})

	t.Run("unregistered", func(t *testing.T) {
		env := wire.Envelope(errors.New("plain failure"))
		data, err := wire.Marshal(env)
		if err != nil {
			t.Fatal(err)
		}

		var back wire.Error
		if err := wire.Unmarshal(data, &back); err != nil {
			t.Fatal(err)
		}
		if got := back.Reconstruct(); got.Error() != "plain failure" {
			t.Errorf("Reconstruct = %q, want %q", got.Error(), "plain failure")
		}
	})
}

func TestScannerMismatchedType(t *testing.T) {
	data := wire.AppendUint64(nil, 1, 7)
	sc := wire.NewScanner(data)
	if !sc.Scan() {
		t.Fatal("expected one field")
	}
	_ = sc.Bytes() // field 1 is a varint
	if sc.Err() == nil {
		t.Error("reading a varint as bytes should error")
	}
}
