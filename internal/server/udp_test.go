package server

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/swiftdns/swiftdns/internal/cache"
	"github.com/swiftdns/swiftdns/internal/dispatcher"
	"github.com/swiftdns/swiftdns/internal/precompiled"
	"github.com/swiftdns/swiftdns/internal/stats"
	"github.com/swiftdns/swiftdns/internal/wire"
)

func buildQuery(id uint16, domain string) []byte {
	name := wire.EncodeDomainKey(domain)
	buf := make([]byte, 0, 12+len(name)+4)
	buf = append(buf, byte(id>>8), byte(id))
	buf = append(buf, 0x01, 0x00)
	buf = append(buf, 0, 1, 0, 0, 0, 0, 0, 0)
	buf = append(buf, name...)
	buf = append(buf, byte(wire.TypeA>>8), byte(wire.TypeA), byte(wire.ClassIN>>8), byte(wire.ClassIN))
	return buf
}

func TestServeUDPRoundTrip(t *testing.T) {
	local := precompiled.New()
	local.Add("router.local", netip.MustParseAddr("192.168.1.1"))
	local.Freeze()

	d := dispatcher.New(local, cache.New(16, 512), nil, stats.New(1000, 500), 300*time.Second)
	srv := New("127.0.0.1:0", d)

	listenErrCh := make(chan error, 1)
	ready := make(chan string, 1)
	go func() {
		conn, err := net.ListenPacket("udp", srv.Addr)
		if err != nil {
			listenErrCh <- err
			return
		}
		srv.conn = conn
		ready <- conn.LocalAddr().String()
		for {
			buf := make([]byte, 4096)
			n, remoteAddr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			req := make([]byte, n)
			copy(req, buf[:n])
			go srv.handleOne(req, remoteAddr)
		}
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-listenErrCh:
		t.Fatalf("listen failed: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for listener")
	}

	client, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	req := buildQuery(0xABCD, "router.local")
	if _, err := client.Write(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp := make([]byte, 512)
	n, err := client.Read(resp)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	resp = resp[:n]

	if resp[0] != 0xAB || resp[1] != 0xCD {
		t.Errorf("id mismatch: %v", resp[:2])
	}
	rdata := resp[len(resp)-4:]
	want := []byte{192, 168, 1, 1}
	for i := range want {
		if rdata[i] != want[i] {
			t.Fatalf("rdata mismatch: %v", rdata)
		}
	}

	srv.conn.Close()
}

func TestClientAddrToNetip(t *testing.T) {
	udpAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:53")
	if err != nil {
		t.Fatal(err)
	}
	ip := clientAddrToNetip(udpAddr)
	if ip.String() != "127.0.0.1" {
		t.Errorf("got %v", ip)
	}
}
