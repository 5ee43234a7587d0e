package socket

import (
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"gortc.io/iceagent/internal/filter"
)

type recordingRoute struct {
	mu    sync.Mutex
	addrs []net.Addr
}

func (r *recordingRoute) HandleInbound(conn net.PacketConn, local, remote net.Addr, data []byte) {
	r.mu.Lock()
	r.addrs = append(r.addrs, remote)
	r.mu.Unlock()
}

func (r *recordingRoute) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.addrs)
}

func TestSocket_AdmitsSTUNRegardlessOfBag(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	clientConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer clientConn.Close()

	route := &recordingRoute{}
	bag := filter.NewBag() // empty: nothing authorized yet
	s := New(serverConn, route, bag, 2, zap.NewNop())
	go s.Serve()
	defer s.Close()

	stunHeader := make([]byte, 20)
	stunHeader[4], stunHeader[5], stunHeader[6], stunHeader[7] = 0x21, 0x12, 0xA4, 0x42 // magic cookie
	if _, err := clientConn.WriteTo(stunHeader, serverConn.LocalAddr()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if route.count() > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("STUN datagram was not routed")
}

func TestSocket_DropsUnauthorizedNonSTUN(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	clientConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer clientConn.Close()

	route := &recordingRoute{}
	bag := filter.NewBag()
	s := New(serverConn, route, bag, 2, zap.NewNop())
	go s.Serve()
	defer s.Close()

	payload := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	if _, err := clientConn.WriteTo(payload, serverConn.LocalAddr()); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	if route.count() != 0 {
		t.Fatal("unauthorized datagram should have been dropped")
	}
}
