package socks

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/anywire/anywire/carrier"
	"github.com/anywire/anywire/peer"
)

func newHarness(t *testing.T) (cl *peer.Client, srv *peer.Server, ctx context.Context) {
	t.Helper()
	dir := t.TempDir()
	binding, err := carrier.NewFolderBinding(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { binding.Close() })
	p := carrier.NewPoller(2*time.Millisecond, 10*time.Millisecond)

	srv = peer.NewServer(binding, p, "rid1")
	srv.RegisterCapability(Socks4Backend{})
	srv.RegisterCapability(Socks5Backend{})

	c, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.ServeForever(c)

	cl = peer.NewClient(binding, p, "cid1")
	return cl, srv, c
}

func upcaseServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				line, _ := r.ReadString('!')
				conn.Write([]byte(strings.ToUpper(line)))
			}()
		}
	}()
	return ln.Addr().String()
}

func TestSocks4Connect(t *testing.T) {
	cl, _, ctx := newHarness(t)
	origin := upcaseServer(t)
	_, portStr, _ := net.SplitHostPort(origin)
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	front := NewFrontend(cl, "rid1", CapabilitySocks4)
	fln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go front.Serve(ctx, fln)
	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("tcp", fln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	hdr := []byte{0x04, 0x01, byte(port >> 8), byte(port), 0x7f, 0x00, 0x00, 0x01}
	hdr = append(hdr, []byte("Identification\x00")...)
	hdr = append(hdr, []byte("hello world!")...)
	if _, err := conn.Write(hdr); err != nil {
		t.Fatal(err)
	}

	reply := make([]byte, 8)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := readFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, Socks4Granted, 0, 0, 0, 0, 0, 0}
	if string(reply) != string(want) {
		t.Fatalf("reply = % x, want % x", reply, want)
	}

	echoed := make([]byte, len("HELLO WORLD!"))
	if _, err := readFull(conn, echoed); err != nil {
		t.Fatal(err)
	}
	if string(echoed) != "HELLO WORLD!" {
		t.Fatalf("echoed = %q", echoed)
	}
}

func TestSocks4ConnectRefused(t *testing.T) {
	cl, _, ctx := newHarness(t)

	// a listener we immediately close, to get a "nobody listening" port.
	tmp, _ := net.Listen("tcp", "127.0.0.1:0")
	_, portStr, _ := net.SplitHostPort(tmp.Addr().String())
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	tmp.Close()

	front := NewFrontend(cl, "rid1", CapabilitySocks4)
	fln, _ := net.Listen("tcp", "127.0.0.1:0")
	go front.Serve(ctx, fln)
	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("tcp", fln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	hdr := []byte{0x04, 0x01, byte(port >> 8), byte(port), 0x7f, 0x00, 0x00, 0x01, 0x00}
	conn.Write(hdr)

	reply := make([]byte, 8)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := readFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, Socks4CannotConnect, 0, 0, 0, 0, 0, 0}
	if string(reply) != string(want) {
		t.Fatalf("reply = % x, want % x", reply, want)
	}
}

func TestSocks5NoAcceptableMethods(t *testing.T) {
	cl, _, ctx := newHarness(t)

	front := NewFrontend(cl, "rid1", CapabilitySocks5)
	fln, _ := net.Listen("tcp", "127.0.0.1:0")
	go front.Serve(ctx, fln)
	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("tcp", fln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.Write([]byte{0x05, 0x01, 0x01}) // GSSAPI only

	reply := make([]byte, 2)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := readFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	if string(reply) != string([]byte{0x05, 0xff}) {
		t.Fatalf("reply = % x", reply)
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
