package carrier

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jlaffaye/ftp"

	"github.com/anywire/anywire/cmn/cos"
)

// FTPBinding implements Binding over a directory on an FTP server, using
// github.com/jlaffaye/ftp (the FTP client the wider retrieval pack uses in
// nabbar-golib and sandia-minimega). A single *ftp.ServerConn is not
// goroutine-safe, so every operation below takes connMu — matching spec §5
// "Transport bindings may require a connection-level lock (IMAP/FTP are not
// thread-safe); all network calls on a shared connection are serialized."
type FTPBinding struct {
	connMu sync.Mutex
	conn   *ftp.ServerConn
	dir    string
}

func DialFTP(addr, user, pass, dir string) (*FTPBinding, error) {
	conn, err := ftp.Dial(addr)
	if err != nil {
		return nil, &errTransient{err}
	}
	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, &cos.ErrTransportFatal{Reason: fmt.Sprintf("ftp login: %v", err)}
	}
	if dir != "" {
		if err := conn.ChangeDir(dir); err != nil {
			conn.Quit()
			return nil, &cos.ErrTransportFatal{Reason: fmt.Sprintf("ftp cwd %s: %v", dir, err)}
		}
	}
	return &FTPBinding{conn: conn, dir: dir}, nil
}

func (b *FTPBinding) Send(sender, recipient string, sid, seq uint64, payload []byte) (string, error) {
	if err := validate(sender, recipient); err != nil {
		return "", err
	}
	name := encodeBlobName(Fields{Sender: sender, Recipient: recipient, Sid: sid, Seq: seq})
	tmp := tempName(name)

	b.connMu.Lock()
	defer b.connMu.Unlock()
	if err := b.conn.Stor(tmp, bytes.NewReader(payload)); err != nil {
		return "", &errTransient{err}
	}
	if err := b.conn.Rename(tmp, name); err != nil {
		b.conn.Delete(tmp)
		return "", &errTransient{err}
	}
	return name, nil
}

func (b *FTPBinding) List(filter Filter) ([]string, error) {
	b.connMu.Lock()
	entries, err := b.conn.List(".")
	b.connMu.Unlock()
	if err != nil {
		return nil, &errTransient{err}
	}
	var uids []string
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile || strings.HasPrefix(e.Name, ".") {
			continue
		}
		if fl, ok := decodeBlobName(e.Name); ok && filter.matches(fl) {
			uids = append(uids, e.Name)
		}
	}
	return uids, nil
}

func (b *FTPBinding) Fetch(uid string) (Fields, []byte, error) {
	fl, ok := decodeBlobName(uid)
	if !ok {
		return Fields{}, nil, fmt.Errorf("carrier(ftp): %w: %q", errBadUID, uid)
	}
	b.connMu.Lock()
	resp, err := b.conn.Retr(uid)
	if err == nil {
		defer resp.Close()
	}
	var payload []byte
	if err == nil {
		payload, err = io.ReadAll(resp)
	}
	b.connMu.Unlock()
	if err != nil {
		if strings.Contains(err.Error(), "550") { // RFC 959 "file not found"
			return Fields{}, nil, notFoundErr(uid)
		}
		return Fields{}, nil, &errTransient{err}
	}
	return fl, payload, nil
}

func (b *FTPBinding) Delete(uid string) error {
	if fl, ok := decodeBlobName(uid); ok && fl.Recipient == Any {
		return nil
	}
	b.connMu.Lock()
	err := b.conn.Delete(uid)
	b.connMu.Unlock()
	if err != nil && !strings.Contains(err.Error(), "550") {
		return &errTransient{err}
	}
	return nil
}

func (b *FTPBinding) PublishCapabilities(rid string, names []string) error {
	body := encodeCapabilities(names)
	tmp := tempName(capaName(rid))
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if err := b.conn.Stor(tmp, bytes.NewReader(body)); err != nil {
		return &errTransient{err}
	}
	b.conn.Delete(capaName(rid))
	if err := b.conn.Rename(tmp, capaName(rid)); err != nil {
		return &errTransient{err}
	}
	return nil
}

func (b *FTPBinding) ListCapabilities() ([]string, error) {
	b.connMu.Lock()
	entries, err := b.conn.List(".")
	b.connMu.Unlock()
	if err != nil {
		return nil, &errTransient{err}
	}
	var rids []string
	for _, e := range entries {
		if rid, ok := ridFromCapaName(e.Name); ok {
			rids = append(rids, rid)
		}
	}
	return rids, nil
}

func (b *FTPBinding) Capabilities(rid string) ([]string, error) {
	b.connMu.Lock()
	resp, err := b.conn.Retr(capaName(rid))
	var payload []byte
	if err == nil {
		payload, err = io.ReadAll(resp)
		resp.Close()
	}
	b.connMu.Unlock()
	if err != nil {
		if strings.Contains(err.Error(), "550") {
			return nil, notFoundErr(rid)
		}
		return nil, &errTransient{err}
	}
	return decodeCapabilities(payload)
}

func (b *FTPBinding) RemoveCapabilities(rid string) error {
	b.connMu.Lock()
	err := b.conn.Delete(capaName(rid))
	b.connMu.Unlock()
	if err != nil && !strings.Contains(err.Error(), "550") {
		return &errTransient{err}
	}
	return nil
}

func (b *FTPBinding) Close() error {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	return b.conn.Quit()
}
