package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/anywire/anywire/carrier"
	"github.com/anywire/anywire/cmn/cos"
	"github.com/anywire/anywire/cmn/debug"
	"github.com/anywire/anywire/cmn/nlog"
)

// MaxChunk is the largest payload carried by a single blob (spec §4.2).
const MaxChunk = 500_000

// Session is the concrete realization of spec.md §3's "Session" entity:
// state owned jointly by two peers identified by (ownerA, ownerB, sid).
// It holds no reference back to the peer/server that created it — per the
// "Cyclic peer <-> session references" Design Note, a Session only needs a
// carrier.Binding, never the whole Server — so Action implementations
// (§4.4) can be handed a *Session and nothing else.
type Session struct {
	binding carrier.Binding
	poller  *carrier.Poller

	local, remote string
	sid           uint64

	sendMu  sync.Mutex
	sendSeq uint64

	recvSeq uint64
	carry   []byte // leftover bytes of the current chunk, for ReceiveByte

	seenOnce  sync.Once
	seen      *carrier.SeenLedger // lazily built; only touched by broadcast (recipient=ANY) chunks
	seenDBDir string              // empty: in-memory ledger, lost on restart. See SetSeenDBDir.

	closedMu    sync.Mutex
	localClosed bool
	peerClosed  bool
}

// New constructs a session owned jointly by (local, remote, sid). local is
// the recipient address this session's incoming messages are addressed
// to; remote is who they're sent to.
func New(binding carrier.Binding, poller *carrier.Poller, local, remote string, sid uint64) *Session {
	return &Session{binding: binding, poller: poller, local: local, remote: remote, sid: sid}
}

func (s *Session) Sid() uint64   { return s.sid }
func (s *Session) Local() string { return s.local }
func (s *Session) Remote() string { return s.remote }

// SetSeenDBDir points this session's broadcast seen-ledger (see
// ensureSeenLedger) at a file under dir instead of an in-memory store, so
// already-processed broadcast uids survive a process restart. Must be
// called before the first broadcast chunk is observed; a no-op after that,
// since the ledger is opened lazily on first use.
func (s *Session) SetSeenDBDir(dir string) { s.seenDBDir = dir }

// Send fragments payload into chunks of at most MaxChunk bytes and emits
// each as an independent blob with a strictly increasing seq (spec §4.2
// Framing). Send is serialized per session; it may run concurrently with
// any Receive* call.
func (s *Session) Send(payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.isLocalClosed() {
		return &cos.ErrSessionClosed{Sid: s.sid}
	}
	if len(payload) == 0 {
		return s.sendChunk(payload)
	}
	for off := 0; off < len(payload); off += MaxChunk {
		end := off + MaxChunk
		if end > len(payload) {
			end = len(payload)
		}
		if err := s.sendChunk(payload[off:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) sendChunk(chunk []byte) error {
	debug.Assert(len(chunk) <= MaxChunk)
	_, err := s.binding.Send(s.local, s.remote, s.sid, s.sendSeq, chunk)
	if err != nil {
		nlog.Warningf("session %d: send seq %d failed: %v", s.sid, s.sendSeq, err)
		return fmt.Errorf("session %d: send seq %d: %w", s.sid, s.sendSeq, err)
	}
	s.sendSeq++
	return nil
}

// Close sends the close sentinel (unless silent or this is the sid=0
// discovery session, which never carries it) and marks Send as disallowed
// from here on (spec §4.2 Close).
func (s *Session) Close(silent bool) error {
	s.closedMu.Lock()
	already := s.localClosed
	s.localClosed = true
	s.closedMu.Unlock()
	if already {
		return nil
	}
	if s.seen != nil {
		if err := s.seen.Close(); err != nil {
			nlog.Warningf("session %d: close seen ledger: %v", s.sid, err)
		}
	}
	if silent || s.sid == 0 {
		return nil
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.sendChunk(EncodeClose())
}

func (s *Session) isLocalClosed() bool {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	return s.localClosed
}

func (s *Session) isPeerClosed() bool {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	return s.peerClosed
}

func (s *Session) markPeerClosed() {
	s.closedMu.Lock()
	s.peerClosed = true
	s.closedMu.Unlock()
}

// DataAvailable reports whether a chunk for the next expected seq is
// retrievable without blocking (spec §4.2).
func (s *Session) DataAvailable() bool {
	if s.isPeerClosed() {
		return false
	}
	uids, err := s.binding.List(carrier.FilterFor(s.local, s.sid, seqPtr(s.recvSeq)))
	return err == nil && len(uids) > 0
}

func seqPtr(seq uint64) *uint64 { return &seq }

// ensureSeenLedger lazily opens a carrier.SeenLedger the first time this
// session observes a broadcast (recipient=ANY) chunk; most sessions never
// do, so the ledger isn't built until it's actually needed. When
// seenDBDir is set (SetSeenDBDir), the ledger is file-backed at a path
// keyed by (local, sid) so a uid marked seen is still remembered after a
// process restart; otherwise it's in-memory and scoped to this process.
func (s *Session) ensureSeenLedger() {
	s.seenOnce.Do(func() {
		path := ""
		if s.seenDBDir != "" {
			path = filepath.Join(s.seenDBDir, fmt.Sprintf("seen-%s-%d.db", s.local, s.sid))
		}
		ledger, err := carrier.NewSeenLedger(path)
		if err != nil {
			// in-memory buntdb practically never fails to open; if it ever
			// does, every broadcast chunk is just treated as new (s.seen
			// stays nil, checked at each call site below).
			nlog.Warningf("session %d: open seen ledger: %v", s.sid, err)
			return
		}
		s.seen = ledger
	})
}

// tryOnce performs one non-blocking poll for the next expected seq. It
// returns (payload, true, nil) on success, (nil, false, nil) when nothing
// is available yet, and (nil, false, io.EOF-like) once the session is
// closed (locally or via the peer's close sentinel).
func (s *Session) tryOnce() (payload []byte, found bool, err error) {
	if s.isPeerClosed() || s.isLocalClosed() {
		return nil, false, &cos.ErrSessionClosed{Sid: s.sid}
	}
	uids, err := s.binding.List(carrier.FilterFor(s.local, s.sid, seqPtr(s.recvSeq)))
	if err != nil {
		return nil, false, err
	}
	if len(uids) == 0 {
		return nil, false, nil
	}
	// Multiple uids can legitimately appear for the same seq only as
	// spurious duplicates (spec §4.1/§4.2 "Ordering and duplicates");
	// consume the first and delete those of the rest whose content matches
	// it (see dropSpuriousDuplicates).
	uid := uids[0]
	fields, raw, err := s.binding.Fetch(uid)
	if err != nil {
		if cos.IsErrNotFound(err) {
			return nil, false, nil // raced a delete; retry next tick
		}
		return nil, false, err
	}
	if fields.Seq != s.recvSeq {
		return nil, false, nil // shouldn't happen given the filter; be safe
	}
	s.dropSpuriousDuplicates(fields, raw, uids[1:])
	if fields.Recipient == carrier.Any {
		// Broadcast blobs are never deleted (spec §4.1: other listeners still
		// need to see them), so the same uid can resurface across a session's
		// lifetime (e.g. after recvSeq resets on process restart). The seen
		// ledger is the "record the uid to avoid re-processing" mechanism
		// spec §3 requires for this case.
		s.ensureSeenLedger()
		if s.seen != nil {
			if s.seen.Seen(uid) {
				s.recvSeq++
				return nil, false, nil
			}
			if err := s.seen.MarkSeen(uid); err != nil {
				nlog.Warningf("session %d: mark broadcast uid %s seen: %v", s.sid, uid, err)
			}
		}
	} else {
		s.binding.Delete(uid)
	}
	s.recvSeq++

	if s.sid != 0 && bytes_equal(raw, EncodeClose()) {
		s.markPeerClosed()
		return nil, false, &cos.ErrSessionClosed{Sid: s.sid}
	}
	return raw, true, nil
}

// dropSpuriousDuplicates deletes every candidate uid whose content fingerprint
// matches the already-accepted (fields, payload) for this seq — spec §4.1/
// §4.2's "tolerate spurious duplicates" rule, confirmed by content rather
// than assumed from list order, since a fingerprint mismatch under the same
// (sender,recipient,sid,seq) would mean something else entirely: a protocol
// violation, not a harmless re-listing of the same blob.
func (s *Session) dropSpuriousDuplicates(fields carrier.Fields, payload []byte, candidates []string) {
	want := cos.Fingerprint(fields.Sender, fields.Recipient, fields.Sid, fields.Seq, payload)
	for _, dup := range candidates {
		dFields, dPayload, err := s.binding.Fetch(dup)
		if err != nil {
			continue // already gone; nothing to reconcile
		}
		got := cos.Fingerprint(dFields.Sender, dFields.Recipient, dFields.Sid, dFields.Seq, dPayload)
		if got != want {
			nlog.Warningf("session %d: seq %d: uid %s fingerprint mismatch, leaving in place", s.sid, fields.Seq, dup)
			continue
		}
		s.binding.Delete(dup)
	}
}

func bytes_equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ReceiveChunk polls until the next chunk is available, the session
// closes, or ctx is done. It is the blocking convenience built on tryOnce;
// DataAvailable + a single tryOnce call give the non-blocking variant
// spec.md's receive_chunk describes.
func (s *Session) ReceiveChunk(ctx context.Context) ([]byte, error) {
	for {
		payload, found, err := s.tryOnce()
		if err != nil {
			if carrier.IsTransient(err) {
				s.poller.Backoff()
				if werr := s.poller.Wait(ctx); werr != nil {
					return nil, werr
				}
				continue
			}
			return nil, err
		}
		s.poller.Reset()
		if found {
			return payload, nil
		}
		if err := s.poller.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

// DrainCarry returns and clears whatever bytes ReceiveByte has already
// pulled into its carry buffer but not yet handed out. Protocol parsers
// that read a handshake byte-at-a-time (SOCKS4/5's back-end, §4.6) call
// this once right after the header is fully parsed, to recover any
// payload bytes the front-end folded into the same chunk as the
// handshake, before switching to chunk-at-a-time bridging.
func (s *Session) DrainCarry() []byte {
	b := s.carry
	s.carry = nil
	return b
}

// ReceiveByte drains the current chunk one byte at a time, polling for a
// new chunk once the carry buffer is empty (spec §4.2 receive_byte).
func (s *Session) ReceiveByte(ctx context.Context) (byte, error) {
	for len(s.carry) == 0 {
		chunk, err := s.ReceiveChunk(ctx)
		if err != nil {
			return 0, err
		}
		s.carry = chunk
	}
	b := s.carry[0]
	s.carry = s.carry[1:]
	return b, nil
}

