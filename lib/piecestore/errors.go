package piecestore

import "errors"

// ErrPieceOutOfRange is returned when a caller addresses a piece index
// outside [0, NumPieces).
var ErrPieceOutOfRange = errors.New("piecestore: piece index out of range")

// ErrBlockOutOfRange is returned when a block's offset+length would read or
// write past the end of its piece.
var ErrBlockOutOfRange = errors.New("piecestore: block out of range")

// ErrHashMismatch is returned internally (and surfaced to the session as
// core.ErrPieceHashMismatch) when a fully-received piece fails SHA-1
// verification against its metainfo digest.
var ErrHashMismatch = errors.New("piecestore: piece hash mismatch")
