package wire_test

import (
	"testing"

	fuzz "github.com/trailofbits/go-fuzz-utils"

	"github.com/pep-security/pepcore/wire"
)

// FuzzScanner feeds arbitrary bytes through the field scanner, checking that no input
// makes it loop or panic.
func FuzzScanner(f *testing.F) {
	seed, err := (&note{Text: "seed", Count: 7}).AppendFields(nil)
	if err != nil {
		f.Fatal(err)
	}
	f.Add(seed)
	f.Add([]byte{})
	f.Add([]byte{0x0a, 0xff})

	f.Fuzz(func(t *testing.T, data []byte) {
		sc := wire.NewScanner(data)
		for sc.Scan() {
			sc.Skip()
		}
		// Err may be set for malformed input; it must never loop forever, which the
		// fuzzer would catch as a timeout.
		_ = sc.Err()
	})
}

// FuzzUnmarshal checks that arbitrary bytes never panic the message deserializer and
// that a parsed message survives a marshal/unmarshal cycle with equal field values.
func FuzzUnmarshal(f *testing.F) {
	valid, err := wire.Marshal(&note{Text: "round trip", Count: 99})
	if err != nil {
		f.Fatal(err)
	}
	f.Add(valid)
	f.Add([]byte{0, 1, 2, 3})

	f.Fuzz(func(t *testing.T, data []byte) {
		tp, err := fuzz.NewTypeProvider(data)
		if err != nil {
			t.Skip(err)
		}
		extra, err := tp.GetBytes()
		if err != nil {
			extra = nil
		}

		var msg note
		if err := wire.Unmarshal(append(data, extra...), &msg); err != nil {
			return
		}
		first, err := wire.Marshal(&msg)
		if err != nil {
			t.Fatal(err)
		}
		var again note
		if err := wire.Unmarshal(first, &again); err != nil {
			t.Fatalf("re-unmarshal of own output failed: %v", err)
		}
		if again != msg {
			t.Fatalf("re-unmarshal = %+v, want %+v", again, msg)
		}
	})
}
