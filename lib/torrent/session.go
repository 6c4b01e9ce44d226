// Package torrent implements one BitTorrent swarm's session: peer
// acquisition via trackers, DHT, PEX, and LPD; BEP-3/BEP-10 wire message
// dispatch; rarest-first block-level piece selection; the periodic choking
// algorithm; and BEP-9 magnet metadata resolution.
package torrent

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"github.com/willf/bitset"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/gosh-dl/gosh/core"
	"github.com/gosh-dl/gosh/lib/bencode"
	"github.com/gosh-dl/gosh/lib/peerwire"
	"github.com/gosh-dl/gosh/lib/piecestore"
	"github.com/gosh-dl/gosh/lib/ratelimit"
	"github.com/gosh-dl/gosh/lib/torrent/blockrequest"
	"github.com/gosh-dl/gosh/lib/torrent/choker"
	"github.com/gosh-dl/gosh/lib/torrent/dht"
	"github.com/gosh-dl/gosh/lib/torrent/extension"
	"github.com/gosh-dl/gosh/lib/torrent/lpd"
	"github.com/gosh-dl/gosh/lib/torrent/metadata"
	"github.com/gosh-dl/gosh/lib/torrent/peerset"
	"github.com/gosh-dl/gosh/lib/torrent/pex"
	"github.com/gosh-dl/gosh/lib/torrent/picker"
	"github.com/gosh-dl/gosh/lib/torrent/tracker"
	"github.com/gosh-dl/gosh/utils/cache"
)

// ErrNoMetaInfo is returned by MetaInfo before a magnet download's info
// dictionary has been resolved via ut_metadata.
var ErrNoMetaInfo = errors.New("torrent: metainfo not yet resolved")

// Events is the callback surface the owning engine implements to react to
// session-level transitions it alone is positioned to handle: materializing
// the piece store once a magnet's metadata resolves, and translating
// completion/progress into eventbus.Bus publications (the bus's publish
// right is the engine's alone, per lib/eventbus's own contract).
type Events interface {
	// OnMetaInfoResolved fires once a magnet's info dictionary has been
	// fetched and SHA-1 verified. The implementation must construct and
	// return the piece store backing this torrent's downloaded data.
	OnMetaInfoResolved(id core.DownloadID, mi *bencode.MetaInfo) (*piecestore.Store, error)
	OnPieceComplete(id core.DownloadID, piece int)
	OnComplete(id core.DownloadID)
	OnProgress(id core.DownloadID, completedSize, totalSize int64, peers int)
}

// Session coordinates every peer connection for one torrent download: one
// Session per core.DownloadID of KindMagnet or KindTorrent.
type Session struct {
	config      Config
	clk         clock.Clock
	logger      *zap.SugaredLogger
	stats       tally.Scope
	localPeerID core.PeerID
	infoHash    core.InfoHash
	downloadID  core.DownloadID
	events      Events
	limiter     *ratelimit.Limiter

	mu             sync.RWMutex
	mi             *bencode.MetaInfo
	store          *piecestore.Store
	picker         *picker.Picker
	assembler      *metadata.Assembler
	selectedFiles  map[int]bool // nil means every file is selected
	sequential     bool
	seedRatioLimit float64

	peersMu sync.Mutex
	peers   map[core.PeerID]*peer

	choker   *choker.Choker
	peerset  *peerset.State
	requests *blockrequest.Manager

	piecesMu        sync.Mutex
	pieceNextOffset map[int]int64 // piece -> next block offset not yet requested

	tiers       *tracker.TierManager
	dhtClient   *dht.Client
	lpdClient   *lpd.Client
	recentDials *cache.LRUCache

	uploaded   atomic.Int64
	downloaded atomic.Int64

	completeOnce sync.Once
	stopOnce     sync.Once
	stop         chan struct{}
	wg           sync.WaitGroup
}

func newSession(
	config Config,
	clk clock.Clock,
	logger *zap.SugaredLogger,
	stats tally.Scope,
	localPeerID core.PeerID,
	infoHash core.InfoHash,
	downloadID core.DownloadID,
	limiter *ratelimit.Limiter,
	opts core.DownloadOptions,
	events Events,
) *Session {
	config = config.applyDefaults()
	if stats == nil {
		stats = tally.NoopScope
	}
	s := &Session{
		config:          config,
		clk:             clk,
		logger:          logger,
		stats:           stats,
		localPeerID:     localPeerID,
		infoHash:        infoHash,
		downloadID:      downloadID,
		events:          events,
		limiter:         limiter,
		selectedFiles:   selectedSet(opts.SelectedFiles),
		sequential:      opts.Sequential,
		seedRatioLimit:  seedRatio(opts, config.SeedRatio),
		peers:           make(map[core.PeerID]*peer),
		peerset:         peerset.New(config.Peerset, clk, logger),
		requests:        blockrequest.New(clk, config.Torrent.RequestTimeout, config.Torrent.RequestPipeline),
		pieceNextOffset: make(map[int]int64),
		recentDials:     cache.NewLRUCache(config.DialCache),
		stop:            make(chan struct{}),
	}
	s.choker = choker.New(config.Choker, clk, s.isSeeding)
	return s
}

// NewFromMetaInfo creates a Session for a torrent whose metainfo is already
// known (a .torrent file, as opposed to a magnet link).
func NewFromMetaInfo(
	config Config,
	clk clock.Clock,
	logger *zap.SugaredLogger,
	stats tally.Scope,
	localPeerID core.PeerID,
	downloadID core.DownloadID,
	mi *bencode.MetaInfo,
	store *piecestore.Store,
	limiter *ratelimit.Limiter,
	opts core.DownloadOptions,
	events Events,
) *Session {
	s := newSession(config, clk, logger, stats, localPeerID, mi.InfoHash(), downloadID, limiter, opts, events)
	s.mi = mi
	s.store = store
	s.picker = picker.New(mi.NumPieces(), s.sequential)
	s.picker.RestoreBitfield(store.Bitfield())

	if tiers, err := tracker.NewTierManager(config.Tier, mi.Announce(), mi.AnnounceList(), logger); err != nil {
		logger.Warnw("no usable trackers in metainfo, relying on DHT/PEX/LPD", "error", err)
	} else {
		s.tiers = tiers
	}
	return s
}

// NewFromMagnet creates a Session for a magnet link whose metadata has not
// yet been fetched; it is resolved via BEP-9 from the first peer that
// advertises ut_metadata support.
func NewFromMagnet(
	config Config,
	clk clock.Clock,
	logger *zap.SugaredLogger,
	stats tally.Scope,
	localPeerID core.PeerID,
	downloadID core.DownloadID,
	m *bencode.Magnet,
	limiter *ratelimit.Limiter,
	opts core.DownloadOptions,
	events Events,
) *Session {
	s := newSession(config, clk, logger, stats, localPeerID, m.InfoHash, downloadID, limiter, opts, events)
	s.assembler = metadata.NewAssembler(m.InfoHash, 0)

	if len(m.Trackers) > 0 {
		if tiers, err := tracker.NewTierManager(config.Tier, m.Trackers[0], [][]string{m.Trackers}, logger); err == nil {
			s.tiers = tiers
		}
	}
	return s
}

func selectedSet(indices []int) map[int]bool {
	if len(indices) == 0 {
		return nil
	}
	m := make(map[int]bool, len(indices))
	for _, i := range indices {
		m[i] = true
	}
	return m
}

func seedRatio(opts core.DownloadOptions, fallback float64) float64 {
	if opts.SeedRatioLimit != nil {
		return *opts.SeedRatioLimit
	}
	return fallback
}

// MetaInfo returns the resolved metainfo, or ErrNoMetaInfo if a magnet
// download's metadata hasn't been fetched yet.
func (s *Session) MetaInfo() (*bencode.MetaInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mi == nil {
		return nil, ErrNoMetaInfo
	}
	return s.mi, nil
}

// UploadedBytes returns the cumulative bytes sent to peers this session,
// the numerator the engine needs to evaluate the seed ratio stop condition
// (which this package stores a limit for but does not itself enforce).
func (s *Session) UploadedBytes() int64 {
	return s.uploaded.Load()
}

// DownloadedBytes returns the cumulative bytes received from peers this
// session.
func (s *Session) DownloadedBytes() int64 {
	return s.downloaded.Load()
}

// SeedRatioLimit returns the ratio threshold this session was configured
// with, resolved at construction from opts.SeedRatioLimit or the engine
// default.
func (s *Session) SeedRatioLimit() float64 {
	return s.seedRatioLimit
}

// IsSeeding reports whether every selected piece has been downloaded, i.e.
// whether this session is now only uploading.
func (s *Session) IsSeeding() bool {
	return s.isSeeding()
}

// PeerInfos returns a snapshot of every connected peer, the shape a
// DownloadStatus reports Peer type.
func (s *Session) PeerInfos() []core.PeerInfo {
	peers := s.activePeers()
	out := make([]core.PeerInfo, 0, len(peers))
	for _, p := range peers {
		amChoking, amInterested, peerChoking, peerInterested := p.conn.State.Snapshot()
		down, up := p.sampleRates(s.clk)

		p.mu.Lock()
		bf := p.bitfield
		p.mu.Unlock()

		var ratio float64
		if n := s.numPieces(); n > 0 && bf != nil {
			ratio = float64(bf.Count()) / float64(n)
		}

		addr := p.conn.RemoteAddr()
		host, portStr := splitHostPort(addr.String())
		port, _ := strconv.Atoi(portStr)

		out = append(out, core.PeerInfo{
			Address:        host,
			Port:           port,
			ClientID:       p.conn.PeerID.String(),
			DownloadSpeed:  down,
			UploadSpeed:    up,
			ProgressRatio:  ratio,
			AmChoked:       amChoking,
			AmInterested:   amInterested,
			PeerChoked:     peerChoking,
			PeerInterested: peerInterested,
		})
	}
	return out
}

// SeederCount returns the number of connected peers reporting a complete
// bitfield, surfaced as Progress.Seeders.
func (s *Session) SeederCount() int {
	n := s.numPieces()
	if n == 0 {
		return 0
	}
	count := 0
	for _, p := range s.activePeers() {
		p.mu.Lock()
		bf := p.bitfield
		p.mu.Unlock()
		if bf != nil && int(bf.Count()) == n {
			count++
		}
	}
	return count
}

// PeerCount returns the number of currently connected peers.
func (s *Session) PeerCount() int {
	return len(s.activePeers())
}

func splitHostPort(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, "0"
	}
	return host, port
}

// FilePaths returns the on-disk paths backing this torrent's data, or nil
// if metadata hasn't resolved yet (no piece store constructed).
func (s *Session) FilePaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil
	}
	return s.store.FilePaths()
}

// Start launches the session's background loops: tracker re-announce,
// choking rounds, request maintenance, progress reporting, and (if
// enabled) DHT/LPD discovery.
func (s *Session) Start() {
	s.wg.Add(4)
	go s.announceLoop()
	go s.chokeLoop()
	go s.maintenanceLoop()
	go s.progressLoop()

	if s.config.EnableDHT {
		s.wg.Add(1)
		go s.dhtLoop()
	}
	if s.config.EnableLPD {
		s.wg.Add(1)
		go s.lpdLoop()
	}
}

// TearDown stops every background loop, closes all peer connections, and
// releases the piece store. Safe to call once.
func (s *Session) TearDown() {
	s.stopOnce.Do(func() { close(s.stop) })

	s.peersMu.Lock()
	for _, p := range s.peers {
		p.conn.Close()
	}
	s.peersMu.Unlock()

	s.wg.Wait()

	if s.dhtClient != nil {
		s.dhtClient.Close()
	}
	if s.lpdClient != nil {
		s.lpdClient.Close()
	}
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store != nil {
		store.Close()
	}
}

// HandleInbound accepts an already-connected inbound TCP connection that has
// not yet exchanged handshakes, performing the full handshake itself before
// admitting the peer.
func (s *Session) HandleInbound(nc net.Conn) {
	s.addConn(nc, true)
}

// HandleInboundHandshake admits an inbound connection whose remote
// handshake has already been read by the engine's shared listener, which
// had to learn hs.InfoHash before it could know which Session to route to.
// It only needs to write the local side of the handshake.
func (s *Session) HandleInboundHandshake(nc net.Conn, hs *peerwire.Handshake) {
	if err := peerwire.WriteHandshake(nc, s.localPeerID, s.infoHash, s.config.HandshakeTimeout); err != nil {
		s.logger.Debugw("peer handshake reply failed", "error", err)
		nc.Close()
		return
	}
	s.admitPeer(nc, hs, true)
}

// --- peer acquisition -------------------------------------------------

func (s *Session) dialPeer(addr *net.TCPAddr) {
	if addr == nil || s.peerset.Saturated() {
		return
	}
	key := addr.String()
	if s.recentDials.Has(key) {
		return
	}
	s.recentDials.Add(key)
	select {
	case <-s.stop:
		return
	default:
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		nc, err := net.DialTimeout("tcp", addr.String(), s.config.DialTimeout)
		if err != nil {
			return
		}
		s.addConn(nc, false)
	}()
}

func (s *Session) addConn(nc net.Conn, openedByRemote bool) {
	hs, err := peerwire.Do(nc, s.localPeerID, s.infoHash, s.config.HandshakeTimeout)
	if err != nil {
		s.logger.Debugw("peer handshake failed", "error", err)
		nc.Close()
		return
	}
	s.admitPeer(nc, hs, openedByRemote)
}

// admitPeer validates an already-handshaked connection and, if accepted,
// wraps it in a peerwire.Conn and starts feeding its messages. Shared by
// addConn (handshake performed here) and HandleInboundHandshake (handshake
// performed by the caller, since the listener had to read it first).
func (s *Session) admitPeer(nc net.Conn, hs *peerwire.Handshake, openedByRemote bool) {
	if hs.PeerID == s.localPeerID {
		nc.Close()
		return
	}
	if s.peerset.Blacklisted(hs.PeerID) {
		nc.Close()
		return
	}
	if err := s.peerset.AddPending(hs.PeerID); err != nil {
		nc.Close()
		return
	}

	pc := peerwire.New(s.config.Conn, nc, hs.PeerID, s.infoHash, openedByRemote, s.logger, s.stats)
	if err := s.peerset.MovePendingToActive(pc); err != nil {
		s.peerset.DeletePending(hs.PeerID)
		nc.Close()
		return
	}
	pc.Start()

	p := newPeer(pc, s.numPieces())
	s.peersMu.Lock()
	s.peers[hs.PeerID] = p
	s.peersMu.Unlock()

	s.sendInitialMessages(p)

	s.wg.Add(1)
	go s.feed(p)
}

func (s *Session) sendInitialMessages(p *peer) {
	supported := map[string]int{metadata.ExtensionName: 1}
	if s.config.EnablePEX {
		supported[pex.ExtensionName] = 2
	}

	var metadataSize int64
	s.mu.RLock()
	mi := s.mi
	store := s.store
	s.mu.RUnlock()

	if msg, err := extension.Build(supported, metadataSize); err == nil {
		p.conn.Send(msg)
	}
	if mi != nil && store != nil {
		bf := store.Bitfield()
		p.conn.Send(&peerwire.Message{ID: peerwire.MsgBitfield, Bitfield: encodeWireBitfield(bf, mi.NumPieces())})
	}
}

func (s *Session) removePeer(p *peer) {
	s.peersMu.Lock()
	delete(s.peers, p.conn.PeerID)
	s.peersMu.Unlock()

	s.peerset.DeleteActive(p.conn)
	p.conn.Close()

	s.mu.RLock()
	pk := s.picker
	s.mu.RUnlock()

	p.mu.Lock()
	bf := p.bitfield
	p.mu.Unlock()

	if pk != nil {
		pk.ClearPeerHas(bf)
	}

	freed := s.requests.ClearPeer(p.conn.PeerID)
	s.piecesMu.Lock()
	for _, k := range freed {
		delete(s.pieceNextOffset, k.Piece)
	}
	s.piecesMu.Unlock()
	if pk != nil {
		for _, k := range freed {
			pk.Release(k.Piece)
		}
	}
}

func (s *Session) activePeers() []*peer {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	out := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

func (s *Session) peerByID(id core.PeerID) *peer {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	return s.peers[id]
}

func (s *Session) numPieces() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mi == nil {
		return 0
	}
	return s.mi.NumPieces()
}

func (s *Session) private() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mi != nil && s.mi.Private()
}

// --- message feed / dispatch -------------------------------------------

func (s *Session) feed(p *peer) {
	defer s.wg.Done()
	defer s.removePeer(p)

	for {
		select {
		case msg, ok := <-p.conn.Receive():
			if !ok {
				return
			}
			s.dispatch(p, msg)
		case <-p.conn.Done():
			return
		case <-s.stop:
			return
		}
	}
}

func (s *Session) dispatch(p *peer, msg *peerwire.Message) {
	switch msg.ID {
	case peerwire.MsgChoke:
		p.conn.State.SetPeerChoking(true)
	case peerwire.MsgUnchoke:
		p.conn.State.SetPeerChoking(false)
		s.maybeRequestBlocks(p)
	case peerwire.MsgInterested:
		p.conn.State.SetPeerInterested(true)
	case peerwire.MsgNotInterested:
		p.conn.State.SetPeerInterested(false)
	case peerwire.MsgHave:
		s.handleHave(p, int(msg.PieceIndex))
	case peerwire.MsgBitfield:
		s.handleBitfield(p, msg.Bitfield)
	case peerwire.MsgRequest:
		s.handleRequest(p, msg)
	case peerwire.MsgPiece:
		s.handlePiece(p, msg)
	case peerwire.MsgCancel:
		// Nothing is queued server-side beyond the synchronous ReadBlock
		// already serving requests, so there is nothing to cancel.
	case peerwire.MsgPort:
		// Peer advertises its own DHT port; unused since this engine's DHT
		// client only originates lookups, never answers them.
	case peerwire.MsgExtended:
		s.handleExtended(p, msg)
	}
}

func (s *Session) handleHave(p *peer, piece int) {
	p.mu.Lock()
	already := p.bitfield.Test(uint(piece))
	p.bitfield.Set(uint(piece))
	p.mu.Unlock()

	s.mu.RLock()
	pk := s.picker
	s.mu.RUnlock()
	if pk != nil && !already {
		pk.SetPeerHas(singleBit(piece, s.numPieces()))
	}
	s.declareInterest(p)
	s.maybeRequestBlocks(p)
}

func (s *Session) handleBitfield(p *peer, raw []byte) {
	n := s.numPieces()
	if n == 0 {
		// Metadata not yet resolved: stash the raw bytes, reinterpreted once
		// NumPieces is known ( magnet bootstrapping).
		p.mu.Lock()
		p.pendingBitfield = raw
		p.mu.Unlock()
		return
	}

	bf := decodeWireBitfield(raw, n)
	p.mu.Lock()
	p.bitfield = bf
	p.mu.Unlock()

	s.mu.RLock()
	pk := s.picker
	s.mu.RUnlock()
	if pk != nil {
		pk.SetPeerHas(bf)
	}
	s.declareInterest(p)
	s.maybeRequestBlocks(p)
}

func (s *Session) declareInterest(p *peer) {
	s.mu.RLock()
	pk := s.picker
	s.mu.RUnlock()
	if pk == nil {
		return
	}

	p.mu.Lock()
	bf := p.bitfield.Clone()
	p.mu.Unlock()

	interested := pk.Interesting(bf)
	_, amInterested, _, _ := p.conn.State.Snapshot()
	if interested == amInterested {
		return
	}
	p.conn.State.SetAmInterested(interested)
	id := peerwire.MsgNotInterested
	if interested {
		id = peerwire.MsgInterested
	}
	p.conn.Send(&peerwire.Message{ID: id})
}

func (s *Session) handleRequest(p *peer, msg *peerwire.Message) {
	if p.conn.State.AmChoking() {
		return
	}
	if msg.Length > peerwire.MaxBlockRequest {
		s.logger.Debugw("peer requested oversized block, ignoring",
			"peer", p.conn.PeerID, "length", msg.Length)
		return
	}

	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil || store.State(int(msg.Index)) != piecestore.PieceComplete {
		return
	}

	data, err := store.ReadBlock(int(msg.Index), int64(msg.Begin), int64(msg.Length))
	if err != nil {
		s.logger.Debugw("read block for peer request failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Torrent.RequestTimeout)
	defer cancel()
	if err := s.limiter.Acquire(ctx, s.downloadID, ratelimit.Upload, int64(len(data))); err != nil {
		return
	}

	p.conn.Send(&peerwire.Message{ID: peerwire.MsgPiece, Index: msg.Index, Begin: msg.Begin, Block: data})
	p.uploadedBytes.Add(int64(len(data)))
	s.uploaded.Add(int64(len(data)))
}

func (s *Session) handlePiece(p *peer, msg *peerwire.Message) {
	p.downloadedBytes.Add(int64(len(msg.Block)))
	s.downloaded.Add(int64(len(msg.Block)))

	key := blockrequest.Key{Piece: int(msg.Index), Begin: int(msg.Begin)}
	s.requests.Complete(key)

	s.mu.RLock()
	store := s.store
	pk := s.picker
	s.mu.RUnlock()
	if store == nil {
		return
	}

	complete, ok, err := store.WriteBlock(int(msg.Index), int64(msg.Begin), msg.Block)
	if err != nil {
		s.logger.Warnw("write block failed", "piece", msg.Index, "error", err)
		return
	}
	if !ok {
		// Hash mismatch: blacklist the peer that delivered the block which
		// completed (and invalidated) this piece
		s.peerset.Blacklist(p.conn.PeerID)
		if pk != nil {
			pk.Release(int(msg.Index))
		}
		s.piecesMu.Lock()
		delete(s.pieceNextOffset, int(msg.Index))
		s.piecesMu.Unlock()
		return
	}
	if complete {
		if pk != nil {
			pk.MarkHave(int(msg.Index))
		}
		s.broadcastHave(int(msg.Index))
		s.events.OnPieceComplete(s.downloadID, int(msg.Index))
		for _, peer := range s.activePeers() {
			s.declareInterest(peer)
		}
		if s.isComplete() {
			s.onTorrentComplete()
		}
	}
	s.maybeRequestBlocks(p)
}

func (s *Session) broadcastHave(piece int) {
	for _, p := range s.activePeers() {
		p.conn.Send(&peerwire.Message{ID: peerwire.MsgHave, PieceIndex: uint32(piece)})
	}
}

func (s *Session) handleExtended(p *peer, msg *peerwire.Message) {
	if msg.ExtendedID == extension.HandshakeExtendedID {
		hs, err := extension.Parse(msg.ExtendedPayload)
		if err != nil {
			return
		}
		p.mu.Lock()
		p.extensions = hs.Supported
		p.metadataSize = hs.MetadataSize
		p.mu.Unlock()
		s.maybeRequestMetadata(p)
		return
	}

	p.mu.Lock()
	var extName string
	for name, id := range p.extensions {
		if int(msg.ExtendedID) == id {
			extName = name
			break
		}
	}
	p.mu.Unlock()

	switch extName {
	case metadata.ExtensionName:
		s.handleMetadataMessage(p, msg.ExtendedPayload)
	case pex.ExtensionName:
		s.handlePEXMessage(msg.ExtendedPayload)
	}
}

func (s *Session) handlePEXMessage(payload []byte) {
	delta, err := pex.Decode(payload)
	if err != nil {
		return
	}
	for _, addr := range delta.Added {
		s.dialPeer(addr)
	}
}

// --- BEP-9 magnet metadata resolution -----------------------------------

func (s *Session) maybeRequestMetadata(p *peer) {
	s.mu.Lock()
	if s.mi != nil || s.assembler == nil {
		s.mu.Unlock()
		return
	}
	p.mu.Lock()
	id, ok := p.extensions[metadata.ExtensionName]
	size := p.metadataSize
	p.mu.Unlock()
	if !ok || size <= 0 {
		s.mu.Unlock()
		return
	}
	if s.assembler.NumPieces() == 0 {
		s.assembler = metadata.NewAssembler(s.infoHash, int(size))
	}
	missing := s.assembler.Missing()
	s.mu.Unlock()

	for _, i := range missing {
		payload, err := metadata.EncodeRequest(i)
		if err != nil {
			continue
		}
		p.conn.Send(&peerwire.Message{ID: peerwire.MsgExtended, ExtendedID: byte(id), ExtendedPayload: payload})
	}
}

func (s *Session) handleMetadataMessage(p *peer, payload []byte) {
	msgType, piece, totalSize, data, err := metadata.Decode(payload)
	if err != nil {
		return
	}

	switch msgType {
	case metadata.MsgRequest:
		// This engine downloads magnets, it doesn't re-seed their metadata,
		// so every request is rejected.
		reject, _ := metadata.EncodeReject(piece)
		p.mu.Lock()
		id, ok := p.extensions[metadata.ExtensionName]
		p.mu.Unlock()
		if ok {
			p.conn.Send(&peerwire.Message{ID: peerwire.MsgExtended, ExtendedID: byte(id), ExtendedPayload: reject})
		}
	case metadata.MsgData:
		s.mu.Lock()
		if s.mi != nil {
			s.mu.Unlock()
			return
		}
		if s.assembler == nil {
			s.assembler = metadata.NewAssembler(s.infoHash, totalSize)
		}
		s.assembler.AddPiece(piece, data)
		mi, ferr := s.assembler.TryFinish()
		s.mu.Unlock()
		if ferr != nil {
			s.logger.Warnw("metadata reassembly failed", "error", ferr)
			return
		}
		if mi != nil {
			s.onMetaInfoResolved(mi)
		} else {
			s.maybeRequestMetadata(p)
		}
	case metadata.MsgReject:
		// Another peer may still have it; nothing to do here.
	}
}

func (s *Session) onMetaInfoResolved(mi *bencode.MetaInfo) {
	store, err := s.events.OnMetaInfoResolved(s.downloadID, mi)
	if err != nil {
		s.logger.Errorw("failed to materialize piece store for resolved magnet", "error", err)
		return
	}

	s.mu.Lock()
	s.mi = mi
	s.store = store
	s.picker = picker.New(mi.NumPieces(), s.sequential)
	s.picker.RestoreBitfield(store.Bitfield())
	s.assembler = nil
	s.mu.Unlock()

	if s.tiers == nil {
		if tiers, err := tracker.NewTierManager(s.config.Tier, mi.Announce(), mi.AnnounceList(), s.logger); err == nil {
			s.tiers = tiers
		}
	}

	for _, p := range s.activePeers() {
		p.mu.Lock()
		pending := p.pendingBitfield
		p.pendingBitfield = nil
		p.bitfield = bitset.New(uint(mi.NumPieces()))
		p.mu.Unlock()
		if pending != nil {
			s.handleBitfield(p, pending)
		}
		s.maybeRequestBlocks(p)
	}
}

// --- piece/block request issuance ---------------------------------------

func (s *Session) maybeRequestBlocks(p *peer) {
	if p.conn.State.PeerChoking() {
		return
	}

	s.mu.RLock()
	pk := s.picker
	store := s.store
	endgameThreshold := s.config.Torrent.EndgameThreshold
	s.mu.RUnlock()
	if pk == nil || store == nil {
		s.maybeRequestMetadata(p)
		return
	}

	p.mu.Lock()
	bf := p.bitfield.Clone()
	p.mu.Unlock()

	endgame := picker.EndgameThreshold(s.missingPieces(), endgameThreshold)

	for s.requests.Quota(p.conn.PeerID) > 0 {
		pieces := pk.Pick(bf, 1, endgame)
		if len(pieces) == 0 {
			return
		}
		s.requestBlocksForPiece(p, pieces[0])
	}
}

func (s *Session) requestBlocksForPiece(p *peer, piece int) {
	s.mu.RLock()
	mi := s.mi
	s.mu.RUnlock()
	if mi == nil {
		return
	}
	pieceLen := mi.PieceLengthAt(piece)

	s.piecesMu.Lock()
	offset, ok := s.pieceNextOffset[piece]
	s.piecesMu.Unlock()
	if !ok {
		offset = 0
	}

	for offset < pieceLen {
		if s.requests.Quota(p.conn.PeerID) <= 0 {
			break
		}
		length := int64(peerwire.BlockSize)
		if remaining := pieceLen - offset; remaining < length {
			length = remaining
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Torrent.RequestTimeout)
		err := s.limiter.Acquire(ctx, s.downloadID, ratelimit.Download, length)
		cancel()
		if err != nil {
			break
		}

		key := blockrequest.Key{Piece: piece, Begin: int(offset)}
		s.requests.Add(p.conn.PeerID, key)
		p.conn.Send(&peerwire.Message{
			ID: peerwire.MsgRequest, Index: uint32(piece), Begin: uint32(offset), Length: uint32(length),
		})
		offset += length
	}

	s.piecesMu.Lock()
	if offset >= pieceLen {
		delete(s.pieceNextOffset, piece)
	} else {
		s.pieceNextOffset[piece] = offset
	}
	s.piecesMu.Unlock()
}

func (s *Session) missingPieces() int {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return 0
	}
	missing := 0
	for i := 0; i < store.NumPieces(); i++ {
		if store.State(i) != piecestore.PieceComplete {
			missing++
		}
	}
	return missing
}

func (s *Session) isComplete() bool {
	s.mu.RLock()
	mi := s.mi
	store := s.store
	selected := s.selectedFiles
	s.mu.RUnlock()
	if mi == nil || store == nil {
		return false
	}
	for i := 0; i < store.NumPieces(); i++ {
		if selected != nil && !store.OverlapsSelected(i, selected) {
			continue
		}
		if store.State(i) != piecestore.PieceComplete {
			return false
		}
	}
	return true
}

func (s *Session) isSeeding() bool {
	return s.isComplete()
}

func (s *Session) onTorrentComplete() {
	s.completeOnce.Do(func() {
		s.events.OnComplete(s.downloadID)
		s.doAnnounce(tracker.EventCompleted)
	})
}

// --- periodic loops -------------------------------------------------

func (s *Session) announceLoop() {
	defer s.wg.Done()

	interval := s.doAnnounce(tracker.EventStarted)
	if interval <= 0 {
		interval = s.config.AnnounceInterval
	}

	for {
		select {
		case <-s.clk.After(interval):
			if next := s.doAnnounce(tracker.EventNone); next > 0 {
				interval = next
			}
		case <-s.stop:
			s.doAnnounce(tracker.EventStopped)
			return
		}
	}
}

func (s *Session) doAnnounce(event tracker.Event) time.Duration {
	if s.tiers == nil {
		return 0
	}
	resp, err := s.tiers.Announce(tracker.AnnounceRequest{
		InfoHash:   s.infoHash,
		PeerID:     s.localPeerID,
		Port:       uint16(s.config.ListenPort),
		Uploaded:   s.uploaded.Load(),
		Downloaded: s.downloaded.Load(),
		Left:       s.bytesLeft(),
		Event:      event,
	})
	if err != nil {
		s.logger.Debugw("tracker announce failed", "info_hash", s.infoHash, "error", err)
		return 0
	}
	for _, peerAddr := range resp.Peers {
		s.dialPeer(peerAddr.Addr)
	}
	return resp.Interval
}

func (s *Session) bytesLeft() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mi == nil || s.store == nil {
		return 1 // unknown total size; report nonzero so trackers don't treat us as a seed
	}
	return s.mi.TotalLength() - s.store.CompletedSize()
}

func (s *Session) chokeLoop() {
	defer s.wg.Done()
	ticker := s.clk.Ticker(s.config.Torrent.ChokeRoundInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runChokeRound()
		case <-s.stop:
			return
		}
	}
}

func (s *Session) runChokeRound() {
	peers := s.activePeers()
	stats := make([]choker.PeerStats, 0, len(peers))
	for _, p := range peers {
		down, up := p.sampleRates(s.clk)
		_, _, _, peerInterested := p.conn.State.Snapshot()
		stats = append(stats, choker.PeerStats{
			PeerID:         p.conn.PeerID,
			DownloadedRate: down,
			UploadedRate:   up,
			Interested:     peerInterested,
			NewlyConnected: p.consumeNewlyConnected(),
		})
	}

	for _, d := range s.choker.Round(stats) {
		p := s.peerByID(d.PeerID)
		if p == nil {
			continue
		}
		if p.conn.State.AmChoking() == d.Unchoke {
			p.conn.State.SetAmChoking(!d.Unchoke)
			id := peerwire.MsgChoke
			if d.Unchoke {
				id = peerwire.MsgUnchoke
			}
			p.conn.Send(&peerwire.Message{ID: id})
		}
	}
}

func (s *Session) maintenanceLoop() {
	defer s.wg.Done()
	ticker := s.clk.Ticker(s.config.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.retryExpiredRequests()
			s.nudgeMetadataPeers()
		case <-s.stop:
			return
		}
	}
}

func (s *Session) retryExpiredRequests() {
	expired := s.requests.Expired()
	if len(expired) == 0 {
		return
	}
	s.mu.RLock()
	mi := s.mi
	s.mu.RUnlock()
	if mi == nil {
		return
	}

	peers := s.activePeers()
	for _, key := range expired {
		s.requests.Complete(key)

		p := s.peerWithPiece(peers, key.Piece)
		if p == nil {
			continue
		}
		length := int64(peerwire.BlockSize)
		if remaining := mi.PieceLengthAt(key.Piece) - int64(key.Begin); remaining < length {
			length = remaining
		}
		s.requests.Add(p.conn.PeerID, key)
		p.conn.Send(&peerwire.Message{
			ID: peerwire.MsgRequest, Index: uint32(key.Piece), Begin: uint32(key.Begin), Length: uint32(length),
		})
	}
}

func (s *Session) peerWithPiece(peers []*peer, piece int) *peer {
	for _, p := range peers {
		if p.conn.State.PeerChoking() {
			continue
		}
		p.mu.Lock()
		has := p.bitfield.Test(uint(piece))
		p.mu.Unlock()
		if has && s.requests.Quota(p.conn.PeerID) > 0 {
			return p
		}
	}
	return nil
}

func (s *Session) nudgeMetadataPeers() {
	s.mu.RLock()
	resolved := s.mi != nil
	s.mu.RUnlock()
	if resolved {
		return
	}
	for _, p := range s.activePeers() {
		s.maybeRequestMetadata(p)
	}
}

func (s *Session) progressLoop() {
	defer s.wg.Done()
	ticker := s.clk.Ticker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.reportProgress()
		case <-s.stop:
			return
		}
	}
}

func (s *Session) reportProgress() {
	s.mu.RLock()
	store := s.store
	mi := s.mi
	s.mu.RUnlock()
	if store == nil || mi == nil {
		return
	}
	s.events.OnProgress(s.downloadID, store.CompletedSize(), mi.TotalLength(), len(s.activePeers()))
}

func (s *Session) dhtLoop() {
	defer s.wg.Done()

	client, err := dht.New(s.config.Torrent.RequestTimeout, s.logger)
	if err != nil {
		s.logger.Warnw("dht client init failed", "error", err)
		return
	}
	s.dhtClient = client

	var bootstrap []*net.UDPAddr
	for _, addr := range s.config.DHTBootstrap {
		if u, err := net.ResolveUDPAddr("udp", addr); err == nil {
			bootstrap = append(bootstrap, u)
		}
	}

	ticker := s.clk.Ticker(s.config.DiscoveryInterval)
	defer ticker.Stop()
	s.lookupDHT(bootstrap)
	for {
		select {
		case <-ticker.C:
			s.lookupDHT(bootstrap)
		case <-s.stop:
			return
		}
	}
}

func (s *Session) lookupDHT(bootstrap []*net.UDPAddr) {
	if s.private() || len(bootstrap) == 0 {
		return
	}
	peers, err := s.dhtClient.FindPeers(s.infoHash, bootstrap, 3)
	if err != nil {
		return
	}
	for _, addr := range peers {
		s.dialPeer(addr)
	}
}

func (s *Session) lpdLoop() {
	defer s.wg.Done()

	client, err := lpd.New(s.config.ListenPort, s.logger)
	if err != nil {
		s.logger.Warnw("lpd client init failed", "error", err)
		return
	}
	s.lpdClient = client

	go client.Listen(s.stop, func(h core.InfoHash) bool { return h == s.infoHash }, func(a lpd.Announcement) {
		s.dialPeer(&net.TCPAddr{IP: a.Addr.IP, Port: a.Addr.Port})
	})

	ticker := s.clk.Ticker(s.config.DiscoveryInterval)
	defer ticker.Stop()
	client.Announce(s.infoHash)
	for {
		select {
		case <-ticker.C:
			if !s.private() {
				client.Announce(s.infoHash)
			}
		case <-s.stop:
			return
		}
	}
}

// --- wire-format bitfield helpers ----------------------------------------
//
// willf/bitset's own MarshalBinary is a persistence format, not BEP-3's
// wire format (MSB-first, one bit per piece, padded to a byte boundary), so
// the two are kept distinct: piecestore uses the former for resume blobs,
// these helpers implement the latter for peer-wire bitfield messages.

func encodeWireBitfield(bf *bitset.BitSet, numPieces int) []byte {
	out := make([]byte, (numPieces+7)/8)
	for i := 0; i < numPieces; i++ {
		if bf.Test(uint(i)) {
			out[i/8] |= 1 << uint(7-i%8)
		}
	}
	return out
}

func decodeWireBitfield(b []byte, numPieces int) *bitset.BitSet {
	bf := bitset.New(uint(numPieces))
	for i := 0; i < numPieces; i++ {
		byteIdx := i / 8
		if byteIdx >= len(b) {
			break
		}
		if b[byteIdx]&(1<<uint(7-i%8)) != 0 {
			bf.Set(uint(i))
		}
	}
	return bf
}

func singleBit(i, n int) *bitset.BitSet {
	b := bitset.New(uint(n))
	if i >= 0 && i < n {
		b.Set(uint(i))
	}
	return b
}
