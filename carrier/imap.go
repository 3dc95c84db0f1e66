package carrier

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anywire/anywire/cmn/cos"
)

// IMAPBinding implements Binding over an IMAP mailbox, the third reference
// medium in spec.md §1/§6. No IMAP client library appears anywhere in the
// retrieval pack (grep across every go.mod under _examples/ found none), so
// rather than fabricate a dependency this talks IMAP4rev1 directly over
// net.Conn using the stdlib net/textproto line reader — the same pairing
// the ecosystem itself reaches for absent a higher-level client. Only the
// handful of commands spec.md needs are implemented: LOGIN, SELECT, UID
// SEARCH, UID FETCH, APPEND, UID STORE+EXPUNGE.
//
// Per-blob encoding (spec §6):
//
//	subject: "{sender}-{sid}-{recipient}-Message-{seq}th"
//	headers: From/To "{id}@remoteconanywhere.com"
//	body:    base64(payload)
//
// capability record subject: "Capabilities-{rid}-K", body the JSON record
// written by encodeCapabilities (not a newline-joined name list).
type IMAPBinding struct {
	mu      sync.Mutex // IMAP connections are not safe for concurrent use
	conn    net.Conn
	r       *textproto.Reader
	tag     int
	addr    string
	user    string
	pass    string
	box     string
	dialedAt time.Time
}

// RestartAfter is the connection-age threshold (spec §5 "Long-lived
// connection renewal"); exceeding it causes a transparent re-login on the
// next operation instead of a hard failure.
const RestartAfter = time.Hour

func DialIMAP(addr, user, pass, mailbox string) (*IMAPBinding, error) {
	b := &IMAPBinding{addr: addr, user: user, pass: pass, box: mailbox}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *IMAPBinding) connect() error {
	conn, err := net.Dial("tcp", b.addr)
	if err != nil {
		return &errTransient{err}
	}
	b.conn = conn
	b.r = textproto.NewReader(bufio.NewReader(conn))
	b.dialedAt = time.Now()
	if _, err := b.r.ReadLine(); err != nil { // server greeting
		return &errTransient{err}
	}
	if err := b.cmd("LOGIN %s %s", b.user, b.pass); err != nil {
		return &cos.ErrTransportFatal{Reason: fmt.Sprintf("imap login: %v", err)}
	}
	if err := b.cmd("SELECT %s", b.box); err != nil {
		return &cos.ErrTransportFatal{Reason: fmt.Sprintf("imap select %s: %v", b.box, err)}
	}
	return nil
}

// ensureFresh re-dials once RestartAfter has elapsed, per spec §5.
func (b *IMAPBinding) ensureFresh() error {
	if time.Since(b.dialedAt) < RestartAfter {
		return nil
	}
	b.conn.Close()
	return b.connect()
}

func (b *IMAPBinding) nextTag() string {
	b.tag++
	return "A" + strconv.Itoa(b.tag)
}

// cmd sends a tagged command and drains lines until the matching tagged
// completion response; it discards the untagged lines (cmdLines returns
// them) and returns an error if the server replied NO/BAD.
func (b *IMAPBinding) cmd(format string, args ...any) error {
	_, lines, err := b.cmdLines(format, args...)
	_ = lines
	return err
}

func (b *IMAPBinding) cmdLines(format string, args ...any) (tag string, lines []string, err error) {
	tag = b.nextTag()
	line := tag + " " + fmt.Sprintf(format, args...) + "\r\n"
	if _, err = b.conn.Write([]byte(line)); err != nil {
		return tag, nil, &errTransient{err}
	}
	for {
		l, err := b.r.ReadLine()
		if err != nil {
			return tag, lines, &errTransient{err}
		}
		if strings.HasPrefix(l, tag+" ") {
			status := strings.Fields(strings.TrimPrefix(l, tag+" "))
			if len(status) > 0 && strings.EqualFold(status[0], "OK") {
				return tag, lines, nil
			}
			return tag, lines, fmt.Errorf("imap: %s", l)
		}
		lines = append(lines, l)
	}
}

func imapSubject(f Fields) string {
	return fmt.Sprintf("%s-%d-%s-Message-%dth", f.Sender, f.Sid, f.Recipient, f.Seq)
}

func parseImapSubject(subj string) (Fields, bool) {
	const mid = "-Message-"
	i := strings.Index(subj, mid)
	if i < 0 || !strings.HasSuffix(subj, "th") {
		return Fields{}, false
	}
	seqStr := strings.TrimSuffix(subj[i+len(mid):], "th")
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return Fields{}, false
	}
	head := strings.SplitN(subj[:i], "-", 3)
	if len(head) != 3 {
		return Fields{}, false
	}
	sid, err := strconv.ParseUint(head[1], 10, 64)
	if err != nil {
		return Fields{}, false
	}
	return Fields{Sender: head[0], Sid: sid, Recipient: head[2], Seq: seq}, true
}

func imapAddr(id string) string { return id + "@remoteconanywhere.com" }

func (b *IMAPBinding) Send(sender, recipient string, sid, seq uint64, payload []byte) (string, error) {
	if err := validate(sender, recipient); err != nil {
		return "", err
	}
	f := Fields{Sender: sender, Recipient: recipient, Sid: sid, Seq: seq}
	subj := imapSubject(f)
	return subj, b.append(subj, imapAddr(sender), imapAddr(recipient), payload)
}

func (b *IMAPBinding) append(subject, from, to string, payload []byte) error {
	body := base64.StdEncoding.EncodeToString(payload)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", from, to, subject, body)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureFresh(); err != nil {
		return err
	}
	tag := b.nextTag()
	header := fmt.Sprintf("%s APPEND %s {%d}\r\n", tag, b.box, len(msg))
	if _, err := b.conn.Write([]byte(header)); err != nil {
		return &errTransient{err}
	}
	if _, err := b.r.ReadLine(); err != nil { // "+ Ready for literal data"
		return &errTransient{err}
	}
	if _, err := b.conn.Write([]byte(msg + "\r\n")); err != nil {
		return &errTransient{err}
	}
	for {
		l, err := b.r.ReadLine()
		if err != nil {
			return &errTransient{err}
		}
		if strings.HasPrefix(l, tag+" ") {
			if strings.Contains(strings.ToUpper(l), " OK") {
				return nil
			}
			return fmt.Errorf("imap: append: %s", l)
		}
	}
}

// List performs a UID SEARCH ALL followed by a single batched UID FETCH of
// the Subject header for every message, decoding fields client-side; IMAP
// has no server-side way to filter on our structured naming schema.
func (b *IMAPBinding) List(filter Filter) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureFresh(); err != nil {
		return nil, err
	}
	_, lines, err := b.cmdLines("UID SEARCH ALL")
	if err != nil {
		return nil, &errTransient{err}
	}
	var uids []string
	for _, l := range lines {
		if !strings.HasPrefix(l, "* SEARCH") {
			continue
		}
		for _, tok := range strings.Fields(strings.TrimPrefix(l, "* SEARCH")) {
			uids = append(uids, tok)
		}
	}
	if len(uids) == 0 {
		return nil, nil
	}
	_, flines, err := b.cmdLines("UID FETCH %s (UID BODY[HEADER.FIELDS (SUBJECT)])", strings.Join(uids, ","))
	if err != nil {
		return nil, &errTransient{err}
	}
	var matched []string
	var curUID string
	for _, l := range flines {
		if strings.Contains(l, "FETCH") {
			if i := strings.Index(l, "UID "); i >= 0 {
				f := strings.Fields(l[i+4:])
				if len(f) > 0 {
					curUID = f[0]
				}
			}
		}
		if strings.HasPrefix(strings.TrimSpace(l), "Subject:") {
			subj := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "Subject:"))
			if fl, ok := parseImapSubject(subj); ok && filter.matches(fl) && curUID != "" {
				matched = append(matched, curUID)
			}
		}
	}
	return matched, nil
}

func (b *IMAPBinding) Fetch(uid string) (Fields, []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureFresh(); err != nil {
		return Fields{}, nil, err
	}
	_, lines, err := b.cmdLines("UID FETCH %s (BODY[])", uid)
	if err != nil {
		return Fields{}, nil, notFoundErr(uid)
	}
	raw := strings.Join(lines, "\r\n")
	subj := extractHeader(raw, "Subject")
	fl, ok := parseImapSubject(subj)
	if !ok {
		return Fields{}, nil, fmt.Errorf("carrier(imap): %w: bad subject %q", errBadUID, subj)
	}
	b64 := extractBody(raw)
	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return Fields{}, nil, fmt.Errorf("carrier(imap): decode body: %w", err)
	}
	return fl, payload, nil
}

func extractHeader(raw, key string) string {
	for _, line := range strings.Split(raw, "\r\n") {
		if strings.HasPrefix(line, key+":") {
			return strings.TrimSpace(strings.TrimPrefix(line, key+":"))
		}
	}
	return ""
}

func extractBody(raw string) string {
	if i := strings.Index(raw, "\r\n\r\n"); i >= 0 {
		return raw[i+4:]
	}
	return ""
}

func (b *IMAPBinding) Delete(uid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureFresh(); err != nil {
		return err
	}
	// broadcast blobs are left in place, as in the other bindings
	if _, lines, err := b.cmdLines("UID FETCH %s (BODY[HEADER.FIELDS (SUBJECT)])", uid); err == nil {
		subj := extractHeader(strings.Join(lines, "\r\n"), "Subject")
		if fl, ok := parseImapSubject(subj); ok && fl.Recipient == Any {
			return nil
		}
	}
	if err := b.cmd("UID STORE %s +FLAGS (\\Deleted)", uid); err != nil {
		return &errTransient{err}
	}
	return b.cmd("EXPUNGE")
}

func (b *IMAPBinding) PublishCapabilities(rid string, names []string) error {
	subj := fmt.Sprintf("Capabilities-%s-K", rid)
	// overwrite: remove any previous record for rid first
	if uids, err := b.findBySubject(subj); err == nil {
		for _, uid := range uids {
			b.Delete(uid)
		}
	}
	return b.append(subj, imapAddr(rid), imapAddr(Any), encodeCapabilities(names))
}

func (b *IMAPBinding) findBySubject(subject string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, lines, err := b.cmdLines("UID SEARCH HEADER SUBJECT %q", subject)
	if err != nil {
		return nil, err
	}
	var uids []string
	for _, l := range lines {
		if strings.HasPrefix(l, "* SEARCH") {
			uids = append(uids, strings.Fields(strings.TrimPrefix(l, "* SEARCH"))...)
		}
	}
	return uids, nil
}

func (b *IMAPBinding) ListCapabilities() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, lines, err := b.cmdLines(`UID SEARCH HEADER SUBJECT "Capabilities-"`)
	if err != nil {
		return nil, &errTransient{err}
	}
	var uids []string
	for _, l := range lines {
		if strings.HasPrefix(l, "* SEARCH") {
			uids = append(uids, strings.Fields(strings.TrimPrefix(l, "* SEARCH"))...)
		}
	}
	var rids []string
	for _, uid := range uids {
		_, flines, err := b.cmdLinesLocked("UID FETCH %s (BODY[HEADER.FIELDS (SUBJECT)])", uid)
		if err != nil {
			continue
		}
		subj := extractHeader(strings.Join(flines, "\r\n"), "Subject")
		if rid, ok := ridFromCapaSubject(subj); ok {
			rids = append(rids, rid)
		}
	}
	return rids, nil
}

// cmdLinesLocked is cmdLines for callers that already hold b.mu.
func (b *IMAPBinding) cmdLinesLocked(format string, args ...any) (string, []string, error) {
	return b.cmdLines(format, args...)
}

func ridFromCapaSubject(subj string) (string, bool) {
	if !strings.HasPrefix(subj, "Capabilities-") || !strings.HasSuffix(subj, "-K") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(subj, "Capabilities-"), "-K"), true
}

func (b *IMAPBinding) Capabilities(rid string) ([]string, error) {
	subj := fmt.Sprintf("Capabilities-%s-K", rid)
	uids, err := b.findBySubject(subj)
	if err != nil {
		return nil, &errTransient{err}
	}
	if len(uids) == 0 {
		return nil, notFoundErr(rid)
	}
	_, payload, err := b.Fetch(uids[len(uids)-1])
	if err != nil {
		return nil, err
	}
	return decodeCapabilities(payload)
}

func (b *IMAPBinding) RemoveCapabilities(rid string) error {
	subj := fmt.Sprintf("Capabilities-%s-K", rid)
	uids, err := b.findBySubject(subj)
	if err != nil {
		return &errTransient{err}
	}
	for _, uid := range uids {
		if err := b.Delete(uid); err != nil {
			return err
		}
	}
	return nil
}

func (b *IMAPBinding) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cmd("LOGOUT")
	return b.conn.Close()
}
