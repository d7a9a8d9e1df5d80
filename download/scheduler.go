// Package download implements the concurrent piece-dispatch scheduler: a
// shared work queue of pieces handed to one worker goroutine per usable
// peer, each writing its completed pieces into a pre-extended output file.
package download

import (
	"context"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"bittorrent/bterr"
	"bittorrent/metainfo"
	"bittorrent/peer"
	"bittorrent/tracker"
)

// WorkQueue is a mutex-guarded, pop-only set of pending pieces. It is built
// once from a Torrent's full piece list and never pushed to again.
type WorkQueue struct {
	mu     sync.Mutex
	pieces []metainfo.PieceInfo
}

// NewWorkQueue builds a queue containing every piece of t, in order.
func NewWorkQueue(t *metainfo.Torrent) *WorkQueue {
	pieces := make([]metainfo.PieceInfo, 0, t.PieceCount())
	for pi := range t.Pieces() {
		pieces = append(pieces, pi)
	}
	return &WorkQueue{pieces: pieces}
}

// Pop removes and returns an arbitrary remaining piece. ok is false once the
// queue is empty.
func (q *WorkQueue) Pop() (pi metainfo.PieceInfo, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pieces) == 0 {
		return metainfo.PieceInfo{}, false
	}
	last := len(q.pieces) - 1
	pi, q.pieces[last] = q.pieces[last], metainfo.PieceInfo{}
	q.pieces = q.pieces[:last]
	return pi, true
}

// OutputFile serialises seek-then-write pairs behind a mutex so concurrent
// workers can safely write non-overlapping regions of one file.
type OutputFile struct {
	mu sync.Mutex
	f  *os.File
}

// createOutputFile opens path for writing and pre-extends it to size bytes
// by seeking to size-1 and writing a single zero byte, reserving the file
// without zero-filling every intermediate block.
func createOutputFile(path string, size int64) (*OutputFile, error) {
	const op = "download: create output file"

	f, err := os.Create(path)
	if err != nil {
		return nil, bterr.Wrap(op, bterr.IO, err)
	}
	if size > 0 {
		if _, err := f.Seek(size-1, 0); err != nil {
			f.Close()
			return nil, bterr.Wrap(op, bterr.IO, err)
		}
		if _, err := f.Write([]byte{0}); err != nil {
			f.Close()
			return nil, bterr.Wrap(op, bterr.IO, err)
		}
	}
	return &OutputFile{f: f}, nil
}

// WriteAt writes data at the absolute offset off, holding the file lock for
// the duration of the seek+write pair only.
func (o *OutputFile) WriteAt(off int64, data []byte) error {
	const op = "download: write piece"

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.f.Seek(off, 0); err != nil {
		return bterr.Wrap(op, bterr.IO, err)
	}
	if _, err := o.f.Write(data); err != nil {
		return bterr.Wrap(op, bterr.IO, err)
	}
	return nil
}

func (o *OutputFile) Close() error { return o.f.Close() }

// Download drives the full single-file download: it pre-extends outPath,
// builds the work queue, assigns one worker per min(pieceCount, len(peers))
// peer, and waits for every worker to either drain the queue or fail.
func Download(ctx context.Context, t *metainfo.Torrent, peers []tracker.PeerAddress, outPath string, log *logrus.Entry) error {
	const op = "download: run"

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("torrent", t.Info.Name)

	if len(peers) == 0 {
		return bterr.NewNetworkFailure(op, "no peers available")
	}

	out, err := createOutputFile(outPath, t.Info.Length)
	if err != nil {
		return err
	}
	defer out.Close()

	queue := NewWorkQueue(t)
	infoHash := t.InfoHash()

	workerCount := t.PieceCount()
	if len(peers) < workerCount {
		workerCount = len(peers)
	}

	log.WithFields(logrus.Fields{
		"pieces":  t.PieceCount(),
		"peers":   len(peers),
		"workers": workerCount,
	}).Info("starting download")

	g, gctx := errgroup.WithContext(ctx)
	var completed int64
	var completedMu sync.Mutex

	for i := 0; i < workerCount; i++ {
		addr := peers[i]
		workerLog := log.WithField("peer", addr.String())
		g.Go(func() error {
			return runWorker(gctx, addr, infoHash, queue, out, t.PieceCount(), &completed, &completedMu, workerLog)
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("download failed")
		return err
	}
	if _, ok := queue.Pop(); ok {
		return bterr.NewIO(op, "workers exited but pieces remain unclaimed")
	}

	log.Info("download complete")
	return nil
}

func runWorker(
	ctx context.Context,
	addr tracker.PeerAddress,
	infoHash [20]byte,
	queue *WorkQueue,
	out *OutputFile,
	totalPieces int,
	completed *int64,
	completedMu *sync.Mutex,
	log *logrus.Entry,
) error {
	sess, err := peer.Dial(addr, infoHash, log)
	if err != nil {
		log.WithError(err).Warn("worker abandoning peer: dial/setup failed")
		return err
	}
	defer sess.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pi, ok := queue.Pop()
		if !ok {
			return nil
		}
		if !sess.HasPiece(pi.Index) {
			log.WithField("piece", pi.Index).Warn("worker abandoning peer: missing assigned piece")
			return bterr.Newf("download: worker", bterr.ProtocolViolation, "peer lacks piece %d", pi.Index)
		}

		data, err := sess.DownloadPiece(pi)
		if err != nil {
			log.WithError(err).WithField("piece", pi.Index).Warn("worker abandoning peer: piece download failed")
			return err
		}
		if err := out.WriteAt(pi.FileStartPos, data); err != nil {
			return err
		}

		completedMu.Lock()
		*completed++
		n := *completed
		completedMu.Unlock()
		log.WithFields(logrus.Fields{
			"piece":   pi.Index,
			"percent": 100 * n / int64(totalPieces),
		}).Info("piece complete")
	}
}

// DownloadSinglePiece downloads exactly one piece from addr, per the
// download_piece sub-command's contract: it always dials the caller-chosen
// address directly rather than consulting the scheduler's work queue.
func DownloadSinglePiece(t *metainfo.Torrent, addr tracker.PeerAddress, pieceIndex int, log *logrus.Entry) ([]byte, error) {
	pi, err := t.PieceAt(pieceIndex)
	if err != nil {
		return nil, err
	}
	sess, err := peer.Dial(addr, t.InfoHash(), log)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if !sess.HasPiece(pi.Index) {
		return nil, bterr.Newf("download: single piece", bterr.ProtocolViolation, "peer lacks piece %d", pi.Index)
	}
	return sess.DownloadPiece(pi)
}
