package transcryptor

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pep-security/pepcore/signed"
	"github.com/pep-security/pepcore/wire"
)

// Checksum chain names exposed to the watchdog.
const (
	ChainIssuedTickets        = "issued-tickets"
	ChainTicketPseudonymHashes = "ticket-pseudonym-hashes"
)

// Checkpoint numbering: checkpoint 1 is the empty table; the record with sequence
// number 0 is checkpoint 2.
const emptyTableCheckpoint = 1

// IssuedTicketRecord is one audit row, bound to the ticket's identifier.
type IssuedTicketRecord struct {
	ID            string
	Timestamp     signed.Timestamp
	PseudonymHash []byte
	Columns       []string
	Modes         []string
	UserGroup     string
}

// TypeName implements [wire.Message].
func (r *IssuedTicketRecord) TypeName() string { return "IssuedTicketRecord" }

// AppendFields implements [wire.Message].
func (r *IssuedTicketRecord) AppendFields(dst []byte) ([]byte, error) {
	dst = wire.AppendString(dst, 1, r.ID)
	dst = wire.AppendUint64(dst, 2, uint64(r.Timestamp))
	dst = wire.AppendBytes(dst, 3, r.PseudonymHash)
	for _, c := range r.Columns {
		dst = wire.AppendString(dst, 4, c)
	}
	for _, m := range r.Modes {
		dst = wire.AppendString(dst, 5, m)
	}
	dst = wire.AppendString(dst, 6, r.UserGroup)
	return dst, nil
}

// ParseFields implements [wire.Message].
func (r *IssuedTicketRecord) ParseFields(data []byte) error {
	*r = IssuedTicketRecord{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			r.ID = sc.Text()
		case protowire.Number(2):
			r.Timestamp = signed.Timestamp(sc.Uint64())
		case protowire.Number(3):
			r.PseudonymHash = append([]byte(nil), sc.Bytes()...)
		case protowire.Number(4):
			r.Columns = append(r.Columns, sc.Text())
		case protowire.Number(5):
			r.Modes = append(r.Modes, sc.Text())
		case protowire.Number(6):
			r.UserGroup = sc.Text()
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

// ChecksumResult is a chain value at a checkpoint.
type ChecksumResult struct {
	Checksum   uint64
	Checkpoint uint64
}

// Storage is the Transcryptor's audit store. Records are append-only; the checksum
// chains fold over them in sequence order so an external watchdog can verify that no
// record was altered or dropped.
//
// Writes are serialized behind a single mutex: appends are short and handlers never
// wait longer than one append.
type Storage struct {
	db *leveldb.DB

	mu   sync.Mutex
	seq  uint64
	last map[string]ChecksumResult
}

var (
	keySeq       = []byte("meta/seq")
	recPrefix    = "rec/"
	ticketPrefix = "ticket/"
)

// OpenStorage opens (or creates) the audit store at path. An empty path opens an
// in-memory store, for tests.
func OpenStorage(path string) (*Storage, error) {
	var db *leveldb.DB
	var err error
	if path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("transcryptor: opening audit store: %w", err)
	}

	s := &Storage{db: db, last: map[string]ChecksumResult{}}
	if raw, err := db.Get(keySeq, nil); err == nil && len(raw) == 8 {
		s.seq = binary.BigEndian.Uint64(raw)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	return s.db.Close()
}

func recKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte(recPrefix), seq)
}

// LogIssuedTicket appends one audit row. The returned sequence number is the record's
// position in the checksum chains.
func (s *Storage) LogIssuedTicket(record IssuedTicketRecord) (uint64, error) {
	data, err := wire.Marshal(&record)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.seq
	batch := new(leveldb.Batch)
	batch.Put(recKey(seq), data)
	batch.Put(append([]byte(ticketPrefix), record.ID...), binary.BigEndian.AppendUint64(nil, seq))
	batch.Put(keySeq, binary.BigEndian.AppendUint64(nil, seq+1))
	if err := s.db.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("transcryptor: appending audit row: %w", err)
	}
	s.seq = seq + 1
	// Appends invalidate nothing: cached chain results stay valid as partials.
	return seq, nil
}

// FindIssuedTicket looks up an audit row by ticket identifier.
func (s *Storage) FindIssuedTicket(id string) (*IssuedTicketRecord, error) {
	raw, err := s.db.Get(append([]byte(ticketPrefix), id...), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := s.db.Get(recKey(binary.BigEndian.Uint64(raw)), nil)
	if err != nil {
		return nil, err
	}
	var record IssuedTicketRecord
	if err := wire.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// IssuedTickets returns all audit rows in sequence order.
func (s *Storage) IssuedTickets() ([]IssuedTicketRecord, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(recPrefix)), nil)
	defer iter.Release()

	var records []IssuedTicketRecord
	for iter.Next() {
		var record IssuedTicketRecord
		if err := wire.Unmarshal(iter.Value(), &record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, iter.Error()
}

// ChecksumChainNames lists the chains this store maintains.
func (s *Storage) ChecksumChainNames() []string {
	return []string{ChainIssuedTickets, ChainTicketPseudonymHashes}
}

// Checksum returns the chain's value at the highest checkpoint not exceeding
// maxCheckpoint (0 means the newest). The last result per chain is cached and used as
// a partial for later checkpoints, so repeated watchdog polls do not refold the chain.
func (s *Storage) Checksum(chain string, maxCheckpoint uint64) (ChecksumResult, error) {
	fold, err := chainFold(chain)
	if err != nil {
		return ChecksumResult{}, err
	}

	s.mu.Lock()
	result, ok := s.last[chain]
	s.mu.Unlock()
	if !ok || result.Checkpoint > maxCheckpoint && maxCheckpoint != 0 {
		result = ChecksumResult{Checkpoint: emptyTableCheckpoint}
	}

	iter := s.db.NewIterator(util.BytesPrefix([]byte(recPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		seq := binary.BigEndian.Uint64(iter.Key()[len(recPrefix):])
		checkpoint := seq + 2
		if checkpoint <= result.Checkpoint {
			continue
		}
		if maxCheckpoint != 0 && checkpoint > maxCheckpoint {
			break
		}
		var record IssuedTicketRecord
		if err := wire.Unmarshal(iter.Value(), &record); err != nil {
			return ChecksumResult{}, err
		}
		result.Checksum ^= fold(iter.Value(), &record)
		result.Checkpoint = checkpoint
	}
	if err := iter.Error(); err != nil {
		return ChecksumResult{}, err
	}

	s.mu.Lock()
	if cached, ok := s.last[chain]; !ok || result.Checkpoint > cached.Checkpoint {
		s.last[chain] = result
	}
	s.mu.Unlock()
	return result, nil
}

func chainFold(chain string) (func(raw []byte, record *IssuedTicketRecord) uint64, error) {
	switch chain {
	case ChainIssuedTickets:
		return func(raw []byte, _ *IssuedTicketRecord) uint64 {
			return foldHash(raw)
		}, nil
	case ChainTicketPseudonymHashes:
		return func(_ []byte, record *IssuedTicketRecord) uint64 {
			return foldHash(record.PseudonymHash)
		}, nil
	default:
		return nil, fmt.Errorf("transcryptor: unknown checksum chain %q", chain)
	}
}

func foldHash(data []byte) uint64 {
	sum := sha256.Sum256(data)
	return binary.BigEndian.Uint64(sum[:8])
}
