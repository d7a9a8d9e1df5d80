// Package metainfo projects a decoded bencode.Value into the typed torrent
// model: announce URL, piece table, and info hash, validating the shape
// invariants a peer-protocol implementation relies on.
package metainfo

import (
	"crypto/sha1"
	"fmt"
	"iter"

	"bittorrent/bencode"
	"bittorrent/bterr"
)

const hashLen = 20

// Info is the typed view of the metainfo "info" dictionary for a
// single-file torrent. Multi-file torrents are rejected during Parse.
type Info struct {
	Name        string
	PieceLength int64
	Length      int64
	pieceHashes [][hashLen]byte
	raw         bencode.Value // the decoded "info" dict, kept to recompute the info hash
}

// Torrent is the typed view of a decoded .torrent file.
type Torrent struct {
	Announce string
	Info     Info
}

// PieceInfo describes one piece: its index, byte length, expected SHA-1
// hash, and its absolute byte offset within the single output file.
type PieceInfo struct {
	Index        int
	Length       int64
	Hash         [hashLen]byte
	FileStartPos int64
}

// Parse decodes data as a bencoded metainfo dict and validates it into a
// Torrent. Multi-file torrents return an error of kind bterr.Unsupported.
func Parse(data []byte) (*Torrent, error) {
	const op = "metainfo: parse"

	v, err := bencode.Decode(data)
	if err != nil {
		return nil, bterr.Wrap(op, bterr.MalformedInput, err)
	}
	if v.Kind != bencode.KindDict {
		return nil, bterr.NewMalformedInput(op, "top-level value is not a dict")
	}

	announceVal, ok := v.Get("announce")
	if !ok || announceVal.Kind != bencode.KindString {
		return nil, bterr.NewMalformedInput(op, "missing or malformed \"announce\"")
	}

	infoVal, ok := v.Get("info")
	if !ok || infoVal.Kind != bencode.KindDict {
		return nil, bterr.NewMalformedInput(op, "missing or malformed \"info\"")
	}

	info, err := parseInfo(infoVal)
	if err != nil {
		return nil, err
	}

	return &Torrent{Announce: string(announceVal.Str), Info: *info}, nil
}

func parseInfo(v bencode.Value) (*Info, error) {
	const op = "metainfo: parse info"

	if _, isMultiFile := v.Get("files"); isMultiFile {
		return nil, bterr.NewUnsupported(op, "multi-file torrents are not supported")
	}

	nameVal, ok := v.Get("name")
	if !ok || nameVal.Kind != bencode.KindString {
		return nil, bterr.NewMalformedInput(op, "missing or malformed \"name\"")
	}

	pieceLenVal, ok := v.Get("piece length")
	if !ok || pieceLenVal.Kind != bencode.KindInt || pieceLenVal.Int <= 0 {
		return nil, bterr.NewMalformedInput(op, "missing or non-positive \"piece length\"")
	}

	lengthVal, ok := v.Get("length")
	if !ok || lengthVal.Kind != bencode.KindInt || lengthVal.Int <= 0 {
		return nil, bterr.NewMalformedInput(op, "missing or non-positive \"length\"")
	}

	piecesVal, ok := v.Get("pieces")
	if !ok || piecesVal.Kind != bencode.KindString {
		return nil, bterr.NewMalformedInput(op, "missing or malformed \"pieces\"")
	}
	if len(piecesVal.Str)%hashLen != 0 {
		return nil, bterr.Newf(op, bterr.MalformedInput, "pieces length %d is not a multiple of %d", len(piecesVal.Str), hashLen)
	}

	pieceLength := pieceLenVal.Int
	length := lengthVal.Int
	if pieceLength > length {
		return nil, bterr.Newf(op, bterr.MalformedInput, "piece length %d exceeds total length %d", pieceLength, length)
	}

	hashes := splitHashes(piecesVal.Str)
	if len(hashes) == 0 {
		return nil, bterr.NewMalformedInput(op, "torrent has no pieces")
	}
	want := ceilDiv(length, pieceLength)
	if int64(len(hashes)) != want {
		return nil, bterr.Newf(op, bterr.MalformedInput,
			"piece count %d does not match ceil(length/piece_length) = %d", len(hashes), want)
	}

	return &Info{
		Name:        string(nameVal.Str),
		PieceLength: pieceLength,
		Length:      length,
		pieceHashes: hashes,
		raw:         v,
	}, nil
}

func splitHashes(pieces []byte) [][hashLen]byte {
	n := len(pieces) / hashLen
	out := make([][hashLen]byte, n)
	for i := 0; i < n; i++ {
		copy(out[i][:], pieces[i*hashLen:(i+1)*hashLen])
	}
	return out
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// InfoHash is the SHA-1 of the canonical bencoding of the "info" dict: the
// torrent's identity, used in both the tracker announce and the peer
// handshake.
func (t *Torrent) InfoHash() [hashLen]byte {
	return sha1.Sum(bencode.Encode(t.Info.raw))
}

// PieceAt returns the metadata for piece index, or an error if index is out
// of range.
func (t *Torrent) PieceAt(index int) (PieceInfo, error) {
	if index < 0 || index >= len(t.Info.pieceHashes) {
		return PieceInfo{}, bterr.Newf("metainfo: piece_at", bterr.MalformedInput,
			"piece index %d out of range [0,%d)", index, len(t.Info.pieceHashes))
	}
	start := int64(index) * t.Info.PieceLength
	length := t.Info.PieceLength
	if remaining := t.Info.Length - start; remaining < length {
		length = remaining
	}
	return PieceInfo{
		Index:        index,
		Length:       length,
		Hash:         t.Info.pieceHashes[index],
		FileStartPos: start,
	}, nil
}

// PieceCount returns the number of pieces in the torrent.
func (t *Torrent) PieceCount() int { return len(t.Info.pieceHashes) }

// Pieces returns a finite, restartable iterator over every PieceInfo in
// order. Each call produces a fresh sequence, so ranging over it twice
// yields the same pieces both times.
func (t *Torrent) Pieces() iter.Seq[PieceInfo] {
	return func(yield func(PieceInfo) bool) {
		for i := range t.Info.pieceHashes {
			pi, err := t.PieceAt(i)
			if err != nil {
				// unreachable: i is always in range here
				panic(fmt.Sprintf("metainfo: internal inconsistency at piece %d: %v", i, err))
			}
			if !yield(pi) {
				return
			}
		}
	}
}
