package metainfo

import (
	"crypto/sha1"
	"testing"

	"bittorrent/bencode"
	"bittorrent/bterr"
)

// buildTorrent bencodes a minimal single-file torrent dict with the given
// shape, mirroring what a real .torrent file's top level looks like.
func buildTorrent(t *testing.T, announce, name string, pieceLength, length int64, pieces []byte, extraInfoKeys ...bencode.KV) []byte {
	t.Helper()
	infoPairs := append([]bencode.KV{
		{Key: []byte("length"), Value: bencode.NewInt(length)},
		{Key: []byte("name"), Value: bencode.NewString([]byte(name))},
		{Key: []byte("piece length"), Value: bencode.NewInt(pieceLength)},
		{Key: []byte("pieces"), Value: bencode.NewString(pieces)},
	}, extraInfoKeys...)
	top := bencode.NewDict([]bencode.KV{
		{Key: []byte("announce"), Value: bencode.NewString([]byte(announce))},
		{Key: []byte("info"), Value: bencode.NewDict(infoPairs)},
	})
	return bencode.Encode(top)
}

func hashesFor(n int) []byte {
	out := make([]byte, 0, n*20)
	for i := 0; i < n; i++ {
		h := sha1.Sum([]byte{byte(i)})
		out = append(out, h[:]...)
	}
	return out
}

func TestParseSingleFileTorrent(t *testing.T) {
	pieces := hashesFor(3)
	data := buildTorrent(t, "http://tracker.example/announce", "file.bin", 32768, 92063, pieces)

	tor, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tor.Announce != "http://tracker.example/announce" {
		t.Fatalf("announce = %q", tor.Announce)
	}
	if tor.Info.Name != "file.bin" || tor.Info.PieceLength != 32768 || tor.Info.Length != 92063 {
		t.Fatalf("info = %+v", tor.Info)
	}
	if tor.PieceCount() != 3 {
		t.Fatalf("piece count = %d", tor.PieceCount())
	}
}

func TestInfoHashIsStableAcrossCalls(t *testing.T) {
	data := buildTorrent(t, "http://tracker.example/announce", "file.bin", 32768, 92063, hashesFor(3))
	tor, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h1 := tor.InfoHash()
	h2 := tor.InfoHash()
	if h1 != h2 {
		t.Fatal("info hash is not stable")
	}
}

func TestInfoHashMatchesManualCanonicalEncode(t *testing.T) {
	data := buildTorrent(t, "http://tracker.example/announce", "file.bin", 100, 101, hashesFor(2))
	tor, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	infoDict := bencode.NewDict([]bencode.KV{
		{Key: []byte("length"), Value: bencode.NewInt(101)},
		{Key: []byte("name"), Value: bencode.NewString([]byte("file.bin"))},
		{Key: []byte("piece length"), Value: bencode.NewInt(100)},
		{Key: []byte("pieces"), Value: bencode.NewString(hashesFor(2))},
	})
	want := sha1.Sum(bencode.Encode(infoDict))
	if tor.InfoHash() != want {
		t.Fatalf("info hash mismatch: got %x want %x", tor.InfoHash(), want)
	}
}

func TestLastPieceIsShorter(t *testing.T) {
	// 101-byte file, 100-byte pieces: two pieces, lengths 100 and 1.
	data := buildTorrent(t, "http://tracker.example/announce", "file.bin", 100, 101, hashesFor(2))
	tor, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p0, err := tor.PieceAt(0)
	if err != nil || p0.Length != 100 || p0.FileStartPos != 0 {
		t.Fatalf("piece 0 = %+v, err=%v", p0, err)
	}
	p1, err := tor.PieceAt(1)
	if err != nil || p1.Length != 1 || p1.FileStartPos != 100 {
		t.Fatalf("piece 1 = %+v, err=%v", p1, err)
	}
}

func TestPiecesIteratorIsRestartable(t *testing.T) {
	data := buildTorrent(t, "http://tracker.example/announce", "file.bin", 100, 101, hashesFor(2))
	tor, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var first, second []int
	for p := range tor.Pieces() {
		first = append(first, p.Index)
	}
	for p := range tor.Pieces() {
		second = append(second, p.Index)
	}
	if len(first) != 2 || len(second) != 2 || first[0] != second[0] || first[1] != second[1] {
		t.Fatalf("iterator not restartable: %v vs %v", first, second)
	}
}

func TestPieceAtOutOfRange(t *testing.T) {
	data := buildTorrent(t, "http://tracker.example/announce", "file.bin", 100, 101, hashesFor(2))
	tor, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tor.PieceAt(2); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestParseRejectsMultiFileTorrent(t *testing.T) {
	filesList := bencode.NewList([]bencode.Value{
		bencode.NewDict([]bencode.KV{
			{Key: []byte("length"), Value: bencode.NewInt(10)},
			{Key: []byte("path"), Value: bencode.NewList([]bencode.Value{bencode.NewString([]byte("a.txt"))})},
		}),
	})
	data := buildTorrent(t, "http://tracker.example/announce", "dir", 100, 101, hashesFor(2), bencode.KV{
		Key: []byte("files"), Value: filesList,
	})
	_, err := Parse(data)
	if !bterr.Is(err, bterr.Unsupported) {
		t.Fatalf("expected Unsupported error, got %v", err)
	}
}

func TestParseRejectsMismatchedPieceCount(t *testing.T) {
	// 3 pieces recorded but length/piece_length implies only 1.
	data := buildTorrent(t, "http://tracker.example/announce", "file.bin", 100, 100, hashesFor(3))
	_, err := Parse(data)
	if !bterr.Is(err, bterr.MalformedInput) {
		t.Fatalf("expected MalformedInput error, got %v", err)
	}
}

func TestParseRejectsEmptyPieces(t *testing.T) {
	data := buildTorrent(t, "http://tracker.example/announce", "file.bin", 100, 101, nil)
	_, err := Parse(data)
	if !bterr.Is(err, bterr.MalformedInput) {
		t.Fatalf("expected MalformedInput error, got %v", err)
	}
}

func TestParseRejectsPieceLengthExceedingTotal(t *testing.T) {
	data := buildTorrent(t, "http://tracker.example/announce", "file.bin", 200, 100, hashesFor(1))
	_, err := Parse(data)
	if !bterr.Is(err, bterr.MalformedInput) {
		t.Fatalf("expected MalformedInput error, got %v", err)
	}
}

func TestParseRejectsNonDictTopLevel(t *testing.T) {
	_, err := Parse([]byte("i5e"))
	if !bterr.Is(err, bterr.MalformedInput) {
		t.Fatalf("expected MalformedInput error, got %v", err)
	}
}
