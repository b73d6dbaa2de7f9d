package status

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"
)

func pongPacket(advertisement string) []byte {
	packet := []byte{idUnconnectedPong}
	packet = binary.BigEndian.AppendUint64(packet, 1234)
	packet = binary.BigEndian.AppendUint64(packet, 42)
	packet = append(packet, magic...)
	packet = binary.BigEndian.AppendUint16(packet, uint16(len(advertisement)))
	return append(packet, advertisement...)
}

// startFakeServer answers unconnected pings with reply
func startFakeServer(t *testing.T, reply func(ping []byte) []byte) (string, int) {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			if out := reply(buf[:n]); out != nil {
				_, _ = conn.WriteTo(out, addr)
			}
		}
	}()

	addr := conn.LocalAddr().(*net.UDPAddr)
	return addr.IP.String(), addr.Port
}

func TestPingDecodesAdvertisement(t *testing.T) {
	pings := make(chan []byte, 1)
	host, port := startFakeServer(t, func(ping []byte) []byte {
		pings <- append([]byte(nil), ping...)
		return pongPacket("MCPE;Umbrachain;686;1.21.2;3;10;13253860892328930865;Bedrock level;Survival;1;19132;19133;")
	})

	client := NewClient(host, port, time.Second)
	pong, err := client.Ping(context.Background())
	if err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	if pong.PlayersOnline != 3 || pong.PlayersMax != 10 {
		t.Fatalf("unexpected player counts: %+v", pong)
	}
	if pong.MOTD != "Umbrachain" || pong.Version != "1.21.2" || pong.ProtocolVersion != 686 {
		t.Fatalf("unexpected advertisement: %+v", pong)
	}
	if pong.LevelName != "Bedrock level" || pong.GameMode != "Survival" {
		t.Fatalf("unexpected level fields: %+v", pong)
	}

	received := <-pings
	if len(received) != 33 || received[0] != idUnconnectedPing {
		t.Fatalf("unexpected ping packet: %x", received)
	}
	if !bytes.Equal(received[9:25], magic) {
		t.Fatalf("ping packet missing magic: %x", received)
	}
}

func TestPlayerCount(t *testing.T) {
	host, port := startFakeServer(t, func([]byte) []byte {
		return pongPacket("MCPE;world;686;1.21.2;0;10;1;level;Survival;")
	})

	count, err := NewClient(host, port, time.Second).PlayerCount(context.Background())
	if err != nil {
		t.Fatalf("player count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 players, got %d", count)
	}
}

func TestPingIgnoresUnrelatedPackets(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer conn.Close()
	go func() {
		buf := make([]byte, 1500)
		_, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		_, _ = conn.WriteTo([]byte{0x84, 0x00}, addr)
		_, _ = conn.WriteTo(pongPacket("MCPE;m;1;1.0;7;20"), addr)
	}()

	junkAddr := conn.LocalAddr().(*net.UDPAddr)
	count, err := NewClient(junkAddr.IP.String(), junkAddr.Port, time.Second).PlayerCount(context.Background())
	if err != nil {
		t.Fatalf("player count failed: %v", err)
	}
	if count != 7 {
		t.Fatalf("expected 7 players, got %d", count)
	}
}

func TestPingTimeout(t *testing.T) {
	host, port := startFakeServer(t, func([]byte) []byte { return nil })

	start := time.Now()
	_, err := NewClient(host, port, 50*time.Millisecond).Ping(context.Background())
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not honoured")
	}
}

func TestParsePongRejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		packet []byte
	}{
		{name: "empty", packet: nil},
		{name: "wrong id", packet: append([]byte{0x1d}, pongPacket("MCPE;m;1;1.0;1;2")[1:]...)},
		{name: "bad magic", packet: func() []byte {
			p := pongPacket("MCPE;m;1;1.0;1;2")
			p[18] = 0x00
			return p
		}()},
		{name: "truncated", packet: pongPacket("MCPE;m;1;1.0;1;2")[:40]},
		{name: "too few fields", packet: pongPacket("MCPE;m;1")},
		{name: "bad count", packet: pongPacket("MCPE;m;1;1.0;many;2")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePong(tt.packet); !errors.Is(err, ErrMalformedPong) {
				t.Fatalf("expected ErrMalformedPong, got %v", err)
			}
		})
	}
}
