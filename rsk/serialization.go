package rsk

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pep-security/pepcore/curve"
	"github.com/pep-security/pepcore/wire"
)

// Proofs and verifiers travel embedded in protocol messages; they carry no magic of
// their own.

// AppendFields encodes the proof as an embedded message.
func (p ScalarMultProof) AppendFields(dst []byte) ([]byte, error) {
	dst = wire.AppendBytes(dst, 1, p.TG.Bytes())
	dst = wire.AppendBytes(dst, 2, p.TM.Bytes())
	dst = wire.AppendBytes(dst, 3, p.Z.Bytes())
	return dst, nil
}

// ParseFields decodes the proof from an embedded message.
func (p *ScalarMultProof) ParseFields(data []byte) error {
	*p = ScalarMultProof{}
	sc := wire.NewScanner(data)
	var err error
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			if p.TG, err = curve.ParsePoint(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "scalar-mult proof commitment: " + err.Error()}
			}
		case protowire.Number(2):
			if p.TM, err = curve.ParsePoint(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "scalar-mult proof commitment: " + err.Error()}
			}
		case protowire.Number(3):
			if p.Z, err = curve.ParseScalar(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "scalar-mult proof response: " + err.Error()}
			}
		default:
			sc.Skip()
		}
	}
	if sc.Err() != nil {
		return sc.Err()
	}
	if p.TG == nil || p.TM == nil || p.Z == nil {
		return &wire.SerializeError{Description: "scalar-mult proof missing components"}
	}
	return nil
}

// AppendFields encodes the proof as an embedded message.
func (p *RSKProof) AppendFields(dst []byte) ([]byte, error) {
	dst = wire.AppendBytes(dst, 1, p.SB.Bytes())
	dst = wire.AppendBytes(dst, 2, p.SC.Bytes())
	dst = wire.AppendBytes(dst, 3, p.RG.Bytes())
	var err error
	for i, sub := range []ScalarMultProof{p.ReshuffleB, p.ReshuffleC, p.Rerand, p.RekeyB, p.RekeyY} {
		if dst, err = wire.AppendMessage(dst, protowire.Number(4+i), sub); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// ParseFields decodes the proof from an embedded message.
func (p *RSKProof) ParseFields(data []byte) error {
	*p = RSKProof{}
	sc := wire.NewScanner(data)
	var err error
	subs := [5]*ScalarMultProof{&p.ReshuffleB, &p.ReshuffleC, &p.Rerand, &p.RekeyB, &p.RekeyY}
	var seen [5]bool
	for sc.Scan() {
		switch n := sc.Number(); n {
		case protowire.Number(1):
			if p.SB, err = curve.ParsePoint(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "rsk proof intermediate: " + err.Error()}
			}
		case protowire.Number(2):
			if p.SC, err = curve.ParsePoint(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "rsk proof intermediate: " + err.Error()}
			}
		case protowire.Number(3):
			if p.RG, err = curve.ParsePoint(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "rsk proof intermediate: " + err.Error()}
			}
		case protowire.Number(4), protowire.Number(5), protowire.Number(6), protowire.Number(7), protowire.Number(8):
			if err = subs[int(n)-4].ParseFields(sc.Bytes()); err != nil {
				return err
			}
			seen[int(n)-4] = true
		default:
			sc.Skip()
		}
	}
	if sc.Err() != nil {
		return sc.Err()
	}
	if p.SB == nil || p.SC == nil || p.RG == nil || seen != [5]bool{true, true, true, true, true} {
		return &wire.SerializeError{Description: "rsk proof missing components"}
	}
	return nil
}

// AppendFields encodes the verifiers as an embedded message.
func (v RSKVerifiers) AppendFields(dst []byte) ([]byte, error) {
	dst = wire.AppendBytes(dst, 1, v.S.Bytes())
	dst = wire.AppendBytes(dst, 2, v.K.Bytes())
	dst = wire.AppendBytes(dst, 3, v.KInvY.Bytes())
	return wire.AppendMessage(dst, 4, v.Consistency)
}

// ParseFields decodes the verifiers from an embedded message.
func (v *RSKVerifiers) ParseFields(data []byte) error {
	*v = RSKVerifiers{}
	sc := wire.NewScanner(data)
	var err error
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			if v.S, err = curve.ParseNonzeroPoint(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "verifier point: " + err.Error()}
			}
		case protowire.Number(2):
			if v.K, err = curve.ParseNonzeroPoint(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "verifier point: " + err.Error()}
			}
		case protowire.Number(3):
			if v.KInvY, err = curve.ParseNonzeroPoint(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "verifier point: " + err.Error()}
			}
		case protowire.Number(4):
			if err = v.Consistency.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		default:
			sc.Skip()
		}
	}
	if sc.Err() != nil {
		return sc.Err()
	}
	if v.S == nil || v.K == nil || v.KInvY == nil {
		return &wire.SerializeError{Description: "verifiers missing components"}
	}
	return nil
}
