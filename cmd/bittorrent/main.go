// Command bittorrent is the CLI surface binding the bencode, metainfo,
// tracker, peer, and download packages to the six sub-commands documented
// in the project's external interface: decode, info, peers, handshake,
// download_piece, and download.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sirupsen/logrus"

	"bittorrent/bencode"
	"bittorrent/bterr"
	"bittorrent/download"
	"bittorrent/metainfo"
	"bittorrent/peer"
	"bittorrent/tracker"
)

var log = logrus.New()

type command interface {
	full() string
	run() error
}

type decodeCmd struct {
	_full   string
	encoded string
}

func newDecodeCmd(app *kingpin.Application) *decodeCmd {
	c := &decodeCmd{}
	cmd := app.Command("decode", "Decode a bencoded value and print its JSON projection")
	cmd.Arg("value", "Bencoded value").Required().StringVar(&c.encoded)
	c._full = cmd.FullCommand()
	return c
}

func (c *decodeCmd) full() string { return c._full }

func (c *decodeCmd) run() error {
	v, err := bencode.Decode([]byte(c.encoded))
	if err != nil {
		return bterr.Wrap("cmd: decode", bterr.MalformedInput, err)
	}
	out, err := bencode.ToJSON(v)
	if err != nil {
		return bterr.Wrap("cmd: decode", bterr.MalformedInput, err)
	}
	fmt.Println(out)
	return nil
}

type infoCmd struct {
	_full       string
	torrentPath string
}

func newInfoCmd(app *kingpin.Application) *infoCmd {
	c := &infoCmd{}
	cmd := app.Command("info", "Print a torrent's announce URL, lengths, info hash, and piece hashes")
	cmd.Arg("torrent", "Path to .torrent file").Required().StringVar(&c.torrentPath)
	c._full = cmd.FullCommand()
	return c
}

func (c *infoCmd) full() string { return c._full }

func (c *infoCmd) run() error {
	t, err := loadTorrent(c.torrentPath)
	if err != nil {
		return err
	}
	hash := t.InfoHash()
	fmt.Printf("Tracker URL: %s\n", t.Announce)
	fmt.Printf("Length: %d\n", t.Info.Length)
	fmt.Printf("Info Hash: %s\n", hex.EncodeToString(hash[:]))
	fmt.Printf("Piece Length: %d\n", t.Info.PieceLength)
	fmt.Println("Piece Hashes:")
	for pi := range t.Pieces() {
		fmt.Printf("%s\n", hex.EncodeToString(pi.Hash[:]))
	}
	return nil
}

type peersCmd struct {
	_full       string
	torrentPath string
}

func newPeersCmd(app *kingpin.Application) *peersCmd {
	c := &peersCmd{}
	cmd := app.Command("peers", "Print the peer addresses a tracker returns for a torrent")
	cmd.Arg("torrent", "Path to .torrent file").Required().StringVar(&c.torrentPath)
	c._full = cmd.FullCommand()
	return c
}

func (c *peersCmd) full() string { return c._full }

func (c *peersCmd) run() error {
	t, err := loadTorrent(c.torrentPath)
	if err != nil {
		return err
	}
	client := tracker.NewClient(log.WithField("torrent", t.Info.Name))
	peers, err := client.RequestPeers(t)
	if err != nil {
		return err
	}
	for _, p := range peers {
		fmt.Println(p.String())
	}
	return nil
}

type handshakeCmd struct {
	_full       string
	torrentPath string
	peerAddr    string
}

func newHandshakeCmd(app *kingpin.Application) *handshakeCmd {
	c := &handshakeCmd{}
	cmd := app.Command("handshake", "Perform a peer handshake and print the remote peer id")
	cmd.Arg("torrent", "Path to .torrent file").Required().StringVar(&c.torrentPath)
	cmd.Arg("peer", "Peer address as ip:port").Required().StringVar(&c.peerAddr)
	c._full = cmd.FullCommand()
	return c
}

func (c *handshakeCmd) full() string { return c._full }

func (c *handshakeCmd) run() error {
	t, err := loadTorrent(c.torrentPath)
	if err != nil {
		return err
	}
	addr, err := parsePeerAddr(c.peerAddr)
	if err != nil {
		return err
	}
	sess, err := peer.Dial(addr, t.InfoHash(), log.WithField("torrent", t.Info.Name))
	if err != nil {
		return err
	}
	defer sess.Close()
	fmt.Printf("Peer ID: %s\n", hex.EncodeToString(sess.PeerID[:]))
	return nil
}

type downloadPieceCmd struct {
	_full       string
	output      string
	torrentPath string
	piece       int
}

func newDownloadPieceCmd(app *kingpin.Application) *downloadPieceCmd {
	c := &downloadPieceCmd{}
	cmd := app.Command("download_piece", "Download a single piece from the torrent's first reported peer")
	cmd.Flag("output", "Output file path").Short('o').Required().StringVar(&c.output)
	cmd.Arg("torrent", "Path to .torrent file").Required().StringVar(&c.torrentPath)
	cmd.Arg("piece", "Zero-based piece index").Required().IntVar(&c.piece)
	c._full = cmd.FullCommand()
	return c
}

func (c *downloadPieceCmd) full() string { return c._full }

func (c *downloadPieceCmd) run() error {
	t, err := loadTorrent(c.torrentPath)
	if err != nil {
		return err
	}
	client := tracker.NewClient(log.WithField("torrent", t.Info.Name))
	peers, err := client.RequestPeers(t)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		return bterr.NewNetworkFailure("cmd: download_piece", "tracker returned no peers")
	}

	data, err := download.DownloadSinglePiece(t, peers[0], c.piece, log.WithField("torrent", t.Info.Name))
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.output, data, 0644); err != nil {
		return bterr.Wrap("cmd: download_piece", bterr.IO, err)
	}
	fmt.Printf("Piece %d downloaded to %s\n", c.piece, c.output)
	return nil
}

type downloadCmd struct {
	_full       string
	output      string
	torrentPath string
}

func newDownloadCmd(app *kingpin.Application) *downloadCmd {
	c := &downloadCmd{}
	cmd := app.Command("download", "Download a whole single-file torrent")
	cmd.Flag("output", "Output file path").Short('o').Required().StringVar(&c.output)
	cmd.Arg("torrent", "Path to .torrent file").Required().StringVar(&c.torrentPath)
	c._full = cmd.FullCommand()
	return c
}

func (c *downloadCmd) full() string { return c._full }

func (c *downloadCmd) run() error {
	t, err := loadTorrent(c.torrentPath)
	if err != nil {
		return err
	}
	entry := log.WithField("torrent", t.Info.Name)
	client := tracker.NewClient(entry)
	peers, err := client.RequestPeers(t)
	if err != nil {
		return err
	}
	if err := download.Download(context.Background(), t, peers, c.output, entry); err != nil {
		return err
	}
	fmt.Printf("Downloaded to %s\n", c.output)
	return nil
}

func loadTorrent(path string) (*metainfo.Torrent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bterr.Wrap("cmd: load torrent", bterr.IO, err)
	}
	return metainfo.Parse(data)
}

func parsePeerAddr(s string) (tracker.PeerAddress, error) {
	const op = "cmd: parse peer address"
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return tracker.PeerAddress{}, bterr.Wrap(op, bterr.MalformedInput, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return tracker.PeerAddress{}, bterr.Wrap(op, bterr.MalformedInput, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return tracker.PeerAddress{}, bterr.Newf(op, bterr.MalformedInput, "invalid ip %q", host)
	}
	return tracker.PeerAddress{IP: ip, Port: uint16(port)}, nil
}

func main() {
	log.SetOutput(os.Stderr)

	app := kingpin.New("bittorrent", "A BitTorrent client: metainfo, tracker, peer protocol, and a piece-dispatch downloader")
	verbose := app.Flag("verbose", "Raise logging to debug level").Short('v').Bool()

	commands := []command{
		newDecodeCmd(app),
		newInfoCmd(app),
		newPeersCmd(app),
		newHandshakeCmd(app),
		newDownloadPieceCmd(app),
		newDownloadCmd(app),
	}

	args, err := app.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	for _, cmd := range commands {
		if args == cmd.full() {
			if err := cmd.run(); err != nil {
				if *verbose {
					fmt.Fprintf(os.Stderr, "%+v\n", err)
				} else {
					fmt.Fprintln(os.Stderr, err)
				}
				os.Exit(1)
			}
			return
		}
	}
}
