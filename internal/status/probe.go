package status

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedPong is returned when the server reply cannot be decoded
var ErrMalformedPong = errors.New("malformed unconnected pong")

const (
	idUnconnectedPing = 0x01
	idUnconnectedPong = 0x1c
)

// offline message marker shared by all RakNet unconnected packets
var magic = []byte{0x00, 0xff, 0xff, 0x00, 0xfe, 0xfe, 0xfe, 0xfe, 0xfd, 0xfd, 0xfd, 0xfd, 0x12, 0x34, 0x56, 0x78}

// Pong is the server advertisement returned by an unconnected ping
type Pong struct {
	Edition         string        `json:"edition"`
	MOTD            string        `json:"motd"`
	ProtocolVersion int           `json:"protocol_version"`
	Version         string        `json:"version"`
	PlayersOnline   int           `json:"players_online"`
	PlayersMax      int           `json:"players_max"`
	ServerID        string        `json:"server_id,omitempty"`
	LevelName       string        `json:"level_name,omitempty"`
	GameMode        string        `json:"game_mode,omitempty"`
	Latency         time.Duration `json:"latency"`
}

// Client queries a Bedrock server over the RakNet unconnected ping
type Client struct {
	address string
	timeout time.Duration
	guid    uint64
}

// NewClient creates a status client for host:port
func NewClient(host string, port int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	return &Client{
		address: net.JoinHostPort(host, strconv.Itoa(port)),
		timeout: timeout,
		guid:    binary.BigEndian.Uint64(b[:]),
	}
}

// Address returns the probed host:port
func (c *Client) Address() string {
	return c.address
}

// PlayerCount returns the number of connected players
func (c *Client) PlayerCount(ctx context.Context) (int, error) {
	pong, err := c.Ping(ctx)
	if err != nil {
		return 0, err
	}
	return pong.PlayersOnline, nil
}

// Ping sends one unconnected ping and decodes the reply
func (c *Client) Ping(ctx context.Context) (*Pong, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", c.address, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	sent := time.Now()
	if _, err := conn.Write(pingPacket(sent, c.guid)); err != nil {
		return nil, fmt.Errorf("failed to send ping: %w", err)
	}

	buf := make([]byte, 1500)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("status query to %s: %w", c.address, ctxErr)
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, fmt.Errorf("status query to %s: %w", c.address, context.DeadlineExceeded)
			}
			return nil, fmt.Errorf("failed to read pong: %w", err)
		}
		if n == 0 || buf[0] != idUnconnectedPong {
			continue
		}

		pong, err := ParsePong(buf[:n])
		if err != nil {
			return nil, err
		}
		pong.Latency = time.Since(sent)
		return pong, nil
	}
}

func pingPacket(now time.Time, guid uint64) []byte {
	packet := make([]byte, 0, 33)
	packet = append(packet, idUnconnectedPing)
	packet = binary.BigEndian.AppendUint64(packet, uint64(now.UnixMilli()))
	packet = append(packet, magic...)
	packet = binary.BigEndian.AppendUint64(packet, guid)
	return packet
}

// ParsePong decodes an unconnected pong packet:
// id, time, server guid, magic, uint16 length, advertisement string.
func ParsePong(packet []byte) (*Pong, error) {
	const header = 1 + 8 + 8 + 16 + 2
	if len(packet) < header || packet[0] != idUnconnectedPong {
		return nil, ErrMalformedPong
	}
	if !bytes.Equal(packet[17:33], magic) {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformedPong)
	}
	size := int(binary.BigEndian.Uint16(packet[33:35]))
	if len(packet) < header+size {
		return nil, fmt.Errorf("%w: truncated advertisement", ErrMalformedPong)
	}
	return parseAdvertisement(string(packet[header : header+size]))
}

// parseAdvertisement decodes "MCPE;motd;protocol;version;online;max;id;level;mode;..."
func parseAdvertisement(data string) (*Pong, error) {
	fields := strings.Split(data, ";")
	if len(fields) < 6 {
		return nil, fmt.Errorf("%w: %d fields", ErrMalformedPong, len(fields))
	}

	online, err := strconv.Atoi(fields[4])
	if err != nil {
		return nil, fmt.Errorf("%w: online count %q", ErrMalformedPong, fields[4])
	}
	maxPlayers, err := strconv.Atoi(fields[5])
	if err != nil {
		return nil, fmt.Errorf("%w: max players %q", ErrMalformedPong, fields[5])
	}
	protocol, _ := strconv.Atoi(fields[2])

	pong := &Pong{
		Edition:         fields[0],
		MOTD:            fields[1],
		ProtocolVersion: protocol,
		Version:         fields[3],
		PlayersOnline:   online,
		PlayersMax:      maxPlayers,
	}
	if len(fields) > 6 {
		pong.ServerID = fields[6]
	}
	if len(fields) > 7 {
		pong.LevelName = fields[7]
	}
	if len(fields) > 8 {
		pong.GameMode = fields[8]
	}
	return pong, nil
}
