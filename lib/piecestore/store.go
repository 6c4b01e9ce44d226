package piecestore

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"sync"

	"github.com/willf/bitset"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/gosh-dl/gosh/lib/bencode"
)

// PieceState mirrors Piece.state: Missing, InFlight (at least one
// block written but not yet hash-verified), or Complete (SHA-1 verified).
type PieceState int

const (
	PieceMissing PieceState = iota
	PieceInFlight
	PieceComplete
)

type pieceEntry struct {
	mu       sync.Mutex // serializes SHA-1 verification per piece
	state    PieceState
	received *bitset.BitSet // which blocks of this piece have been written
}

// Store is the per-torrent file-backed block cache. One
// Store is owned by exactly one torrent session; SHA-1 verification of a
// given piece is serialized by that piece's entry lock.
type Store struct {
	logger *zap.SugaredLogger
	config Config

	layout      *layout
	pieceLength int64
	numPieces   int
	mi          *bencode.MetaInfo

	blockSize int64

	mu       sync.Mutex
	pieces   []*pieceEntry
	bitfield *bitset.BitSet

	cache *readCache

	closed atomic.Bool
}

// New constructs a Store for the torrent described by mi, preallocating
// files sparsely under saveDir. blockSize is the canonical
// peer-wire block size (16 KiB/GLOSSARY) used to size each
// piece's in-flight block bitset.
func New(logger *zap.SugaredLogger, config Config, saveDir string, mi *bencode.MetaInfo, blockSize int64) (*Store, error) {
	config = config.applyDefaults()

	l, err := openLayout(saveDir, mi.Files())
	if err != nil {
		return nil, err
	}

	numPieces := mi.NumPieces()
	pieces := make([]*pieceEntry, numPieces)
	for i := range pieces {
		blocksInPiece := blockCount(mi.PieceLengthAt(i), blockSize)
		pieces[i] = &pieceEntry{received: bitset.New(uint(blocksInPiece))}
	}

	return &Store{
		logger:      logger,
		config:      config,
		layout:      l,
		pieceLength: mi.PieceLength(),
		numPieces:   numPieces,
		mi:          mi,
		blockSize:   blockSize,
		pieces:      pieces,
		bitfield:    bitset.New(uint(numPieces)),
		cache:       newReadCache(config.ReadCacheSize),
	}, nil
}

func blockCount(pieceLen, blockSize int64) int64 {
	if pieceLen <= 0 {
		return 0
	}
	return (pieceLen + blockSize - 1) / blockSize
}

// RestoreBitfield seeds the completion bitfield from a persisted resume
// blob best-effort torrent resume: callers are expected to have
// already dropped any bit whose on-disk bytes don't hash-match (the
// recovery rule — "mismatching bitfield bits against disk content are
// dropped"); VerifyAll performs exactly that check.
func (s *Store) RestoreBitfield(b []byte) error {
	bf := bitset.New(uint(s.numPieces))
	if err := bf.UnmarshalBinary(b); err != nil {
		return fmt.Errorf("piecestore: unmarshal bitfield: %s", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < s.numPieces; i++ {
		if bf.Test(uint(i)) {
			s.pieces[i].state = PieceComplete
			s.bitfield.Set(uint(i))
		}
	}
	return nil
}

// VerifyAll re-hashes every piece the resume bitfield claims is complete
// against the bytes actually on disk, dropping (marking Missing) any that
// don't match. The on-disk file is the source of truth for size and
// content; the resume blob only accelerates skipping the rehash for pieces
// that do match.
func (s *Store) VerifyAll() (dropped int, err error) {
	for i := 0; i < s.numPieces; i++ {
		s.mu.Lock()
		complete := s.pieces[i].state == PieceComplete
		s.mu.Unlock()
		if !complete {
			continue
		}
		ok, err := s.verifyPieceOnDisk(i)
		if err != nil {
			return dropped, err
		}
		if !ok {
			s.mu.Lock()
			s.pieces[i].state = PieceMissing
			s.pieces[i].received = bitset.New(uint(blockCount(s.mi.PieceLengthAt(i), s.blockSize)))
			s.bitfield.Clear(uint(i))
			s.mu.Unlock()
			dropped++
		}
	}
	return dropped, nil
}

func (s *Store) verifyPieceOnDisk(i int) (bool, error) {
	data, err := s.layout.readAt(int64(i)*s.pieceLength, s.mi.PieceLengthAt(i))
	if err != nil {
		return false, err
	}
	sum := sha1.Sum(data)
	return bytes.Equal(sum[:], s.mi.PieceSHA1(i)), nil
}

// WriteBlock records one block of piece, writing it through to disk
// immediately (write-through). When the piece becomes fully
// covered, it is SHA-1 verified against metainfo; on match it is marked
// Complete and the bitfield updated atomically, on mismatch its in-flight
// blocks are discarded and it reverts to Missing, with ok=false signaling
// the caller to penalize the offending peer ( choking).
func (s *Store) WriteBlock(piece int, offset int64, data []byte) (complete, ok bool, err error) {
	if piece < 0 || piece >= s.numPieces {
		return false, false, ErrPieceOutOfRange
	}
	pieceLen := s.mi.PieceLengthAt(piece)
	if offset < 0 || offset+int64(len(data)) > pieceLen {
		return false, false, ErrBlockOutOfRange
	}

	abs := int64(piece)*s.pieceLength + offset
	if err := s.layout.writeAt(abs, data); err != nil {
		return false, false, err
	}

	pe := s.pieces[piece]
	pe.mu.Lock()
	blockIdx := uint(offset / s.blockSize)
	pe.received.Set(blockIdx)
	if pe.state == PieceMissing {
		pe.state = PieceInFlight
	}
	full := pe.received.Count() == uint(blockCount(pieceLen, s.blockSize))
	pe.mu.Unlock()

	if !full {
		return false, true, nil
	}

	verified, err := s.verifyPieceOnDisk(piece)
	if err != nil {
		return false, false, err
	}

	pe.mu.Lock()
	defer pe.mu.Unlock()
	if verified {
		pe.state = PieceComplete
		s.mu.Lock()
		s.bitfield.Set(uint(piece))
		s.mu.Unlock()
		return true, true, nil
	}

	pe.state = PieceMissing
	pe.received = bitset.New(uint(blockCount(pieceLen, s.blockSize)))
	s.logger.Warnw("piece hash mismatch, discarding in-flight blocks",
		"piece", piece)
	return false, false, nil
}

// ReadBlock serves length bytes at offset within piece, for responding to a
// peer's upload request. Only a Complete piece may be read.
func (s *Store) ReadBlock(piece int, offset, length int64) ([]byte, error) {
	if piece < 0 || piece >= s.numPieces {
		return nil, ErrPieceOutOfRange
	}
	pieceLen := s.mi.PieceLengthAt(piece)
	if offset < 0 || offset+length > pieceLen {
		return nil, ErrBlockOutOfRange
	}

	if cached, ok := s.cache.get(piece); ok {
		return cached[offset : offset+length], nil
	}

	abs := int64(piece)*s.pieceLength + offset
	data, err := s.layout.readAt(abs, length)
	if err != nil {
		return nil, err
	}

	if offset == 0 && length == pieceLen {
		s.cache.put(piece, data)
	}
	return data, nil
}

// State returns piece's current PieceState.
func (s *Store) State(piece int) PieceState {
	s.pieces[piece].mu.Lock()
	defer s.pieces[piece].mu.Unlock()
	return s.pieces[piece].state
}

// Bitfield returns a copy of the completion bitfield, suitable for sending
// in a peer-wire `bitfield` message or for checkpointing the torrent resume
// blob.
func (s *Store) Bitfield() *bitset.BitSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitfield.Clone()
}

// MarshalBitfield serializes the completion bitfield for persistence.
func (s *Store) MarshalBitfield() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitfield.MarshalBinary()
}

// CompletedSize returns the total bytes covered by Complete pieces.
func (s *Store) CompletedSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for i := 0; i < s.numPieces; i++ {
		if s.pieces[i].state == PieceComplete {
			total += s.mi.PieceLengthAt(i)
		}
	}
	return total
}

// NumPieces returns the number of pieces in the torrent.
func (s *Store) NumPieces() int {
	return s.numPieces
}

// FilePaths returns the absolute path of every declared file, in order.
func (s *Store) FilePaths() []string {
	return s.layout.paths()
}

// OverlapsSelected reports whether piece intersects any file in the
// selected set boundary-straddling rule.
func (s *Store) OverlapsSelected(piece int, selected map[int]bool) bool {
	return s.layout.overlapsSelected(int64(piece)*s.pieceLength, s.mi.PieceLengthAt(piece), selected)
}

// FileProgress returns, per declared file in mi.Files() order, the number
// of bytes covered by Complete pieces that overlap that file's span. A
// piece straddling a boundary contributes only the portion of its bytes
// that actually falls within each file, matching DownloadStatus
// "file list with per-file completed bytes."
func (s *Store) FileProgress() []int64 {
	s.mu.Lock()
	complete := make([]bool, s.numPieces)
	for i := 0; i < s.numPieces; i++ {
		complete[i] = s.pieces[i].state == PieceComplete
	}
	s.mu.Unlock()

	out := make([]int64, len(s.layout.spans))
	for i := 0; i < s.numPieces; i++ {
		if !complete[i] {
			continue
		}
		pieceStart := int64(i) * s.pieceLength
		pieceLen := s.mi.PieceLengthAt(i)
		pieceEnd := pieceStart + pieceLen
		for j, span := range s.layout.spans {
			spanEnd := span.start + span.length
			if pieceStart >= spanEnd || pieceEnd <= span.start {
				continue
			}
			lo := pieceStart
			if lo < span.start {
				lo = span.start
			}
			hi := pieceEnd
			if hi > spanEnd {
				hi = spanEnd
			}
			out[j] += hi - lo
		}
	}
	return out
}

// Close releases the underlying file handles. Safe to call once.
func (s *Store) Close() error {
	if !s.closed.CAS(false, true) {
		return nil
	}
	return s.layout.close()
}
