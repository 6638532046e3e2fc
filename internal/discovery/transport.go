package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"golang.org/x/net/ipv4"
)

// ErrClosed is returned by Recv after Close.
var ErrClosed = errors.New("discovery transport closed")

// maxPacket bounds one announcement datagram.
const maxPacket = 64 << 10

// Transport moves whole datagrams between the devices of one segment. A
// device receives its own packets too.
type Transport interface {
	Send(payload []byte) error
	// Recv blocks until a datagram arrives or the transport is closed.
	Recv() ([]byte, error)
	Close() error
}

// Multicast is a Transport over an IPv4 UDP multicast group.
type Multicast struct {
	conn   net.PacketConn
	pc     *ipv4.PacketConn
	group  *net.UDPAddr
	joined []*net.Interface
}

// NewMulticast joins group:port on every multicast capable interface.
func NewMulticast(group string, port int) (*Multicast, error) {
	ip := net.ParseIP(group)
	if ip == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("invalid multicast group %q", group)
	}
	conn, err := net.ListenPacket("udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listen discovery port: %w", err)
	}
	m := &Multicast{
		conn:  conn,
		pc:    ipv4.NewPacketConn(conn),
		group: &net.UDPAddr{IP: ip, Port: port},
	}

	ifaces, _ := net.Interfaces()
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := m.pc.JoinGroup(ifi, m.group); err == nil {
			m.joined = append(m.joined, ifi)
		}
	}
	if len(m.joined) == 0 {
		if err := m.pc.JoinGroup(nil, m.group); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("join %s: %w", group, err)
		}
		m.joined = append(m.joined, nil)
	}
	_ = m.pc.SetMulticastLoopback(true)
	_ = m.pc.SetMulticastTTL(1)
	return m, nil
}

func (m *Multicast) Send(payload []byte) error {
	_, err := m.pc.WriteTo(payload, nil, m.group)
	return err
}

func (m *Multicast) Recv() ([]byte, error) {
	buf := make([]byte, maxPacket)
	n, _, _, err := m.pc.ReadFrom(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return buf[:n], nil
}

func (m *Multicast) Close() error {
	for _, ifi := range m.joined {
		_ = m.pc.LeaveGroup(ifi, m.group)
	}
	return m.conn.Close()
}

// Bus is an in-memory segment. Every endpoint receives every packet sent on
// the bus, its own included.
type Bus struct {
	mu        sync.Mutex
	endpoints map[*BusEndpoint]struct{}
}

func NewBus() *Bus {
	return &Bus{endpoints: make(map[*BusEndpoint]struct{})}
}

// Endpoint attaches a new Transport to the bus.
func (b *Bus) Endpoint() *BusEndpoint {
	e := &BusEndpoint{bus: b, in: make(chan []byte, 64), done: make(chan struct{})}
	b.mu.Lock()
	b.endpoints[e] = struct{}{}
	b.mu.Unlock()
	return e
}

type BusEndpoint struct {
	bus  *Bus
	in   chan []byte
	once sync.Once
	done chan struct{}
}

// Send delivers payload to every endpoint. Endpoints with a full queue lose
// the packet, as a congested network would.
func (e *BusEndpoint) Send(payload []byte) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	for other := range e.bus.endpoints {
		select {
		case other.in <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

func (e *BusEndpoint) Recv() ([]byte, error) {
	select {
	case p := <-e.in:
		return p, nil
	case <-e.done:
		return nil, ErrClosed
	}
}

func (e *BusEndpoint) Close() error {
	e.once.Do(func() {
		e.bus.mu.Lock()
		delete(e.bus.endpoints, e)
		e.bus.mu.Unlock()
		close(e.done)
	})
	return nil
}
