package harvest

import (
	"net"
	"time"

	"github.com/gortc/stun"

	ice "gortc.io/iceagent"
	"gortc.io/iceagent/candidate"
	"gortc.io/iceagent/internal/transaction"
)

// ServerReflexiveHarvester discovers a ServerReflexive candidate for
// an existing Host candidate by sending a single STUN Binding request
// to a public STUN server and reading back XOR-MAPPED-ADDRESS. This is
// a bare Binding exchange with no credentials, distinct from the
// connectivity checks the agent runs against the peer once ICE starts.
type ServerReflexiveHarvester struct {
	Foundations *ice.FoundationsRegistry
	ComponentID int
	ServerAddr  *net.UDPAddr
	Timeout     time.Duration
}

// NewServerReflexiveHarvester returns a harvester querying server for
// the reflexive address of each Host candidate it is asked to probe.
func NewServerReflexiveHarvester(foundations *ice.FoundationsRegistry, componentID int, server *net.UDPAddr) *ServerReflexiveHarvester {
	return &ServerReflexiveHarvester{Foundations: foundations, ComponentID: componentID, ServerAddr: server, Timeout: 2 * time.Second}
}

// Harvest probes base's socket against h.ServerAddr and, on success,
// adds the discovered ServerReflexive candidate to comp.
func (h *ServerReflexiveHarvester) Harvest(comp *ice.Component, base *ice.LocalCandidate) (*ice.LocalCandidate, error) {
	conn := base.Conn()
	if conn == nil {
		return nil, ice.NewError(ice.InvalidArgument, "host candidate has no socket", nil)
	}

	req := stun.New()
	req.Type = stun.BindingRequest
	id, err := transaction.NewTransactionID()
	if err != nil {
		return nil, ice.NewError(ice.AddressInUse, "failed to generate transaction id", err)
	}
	req.TransactionID = id
	if err := stun.Fingerprint.AddTo(req); err != nil {
		return nil, ice.NewError(ice.AddressInUse, "failed to encode stun request", err)
	}

	client := transaction.NewClient(packetConnSender{conn}, nil)
	resultCh := make(chan transaction.Result, 1)
	_, err = client.Send(req, h.ServerAddr, transaction.Config{
		InitialRTO:     h.Timeout / 4,
		MaxRTO:         h.Timeout,
		MaxRetransmits: 3,
	}, transaction.CollectorFunc(func(_ stun.TransactionID, res transaction.Result) {
		resultCh <- res
	}))
	if err != nil {
		return nil, ice.NewError(ice.AddressInUse, "failed to send stun binding request", err)
	}

	go h.pump(conn, client)

	res := <-resultCh
	if res.Timeout || res.Message == nil {
		return nil, ice.NewError(ice.TransactionTimeout, "stun server did not respond", nil)
	}

	var xma stun.XORMappedAddress
	if err := xma.GetFrom(res.Message); err != nil {
		return nil, ice.NewError(ice.UnrecoverableResponse, "missing xor-mapped-address", err)
	}

	mapped := ice.TransportAddress{IP: xma.IP, Port: xma.Port, Transport: candidate.TransportUDP}
	typePref := candidate.ServerReflexive.TypePreference()
	localPref := localPreferenceOf(base)
	priority := ice.Priority(typePref, localPref, h.ComponentID)
	foundation := h.Foundations.Assign(candidate.ServerReflexive, base.Addr.IP, candidate.TransportUDP, h.ServerAddr.IP)

	cand := ice.NewReflexiveCandidate(mapped, candidate.ServerReflexive, base.Addr, base)
	cand.Priority = priority
	cand.Foundation = foundation
	comp.AddLocal(cand)
	return cand, nil
}

// pump reads datagrams on conn just long enough to let the
// transaction client consume the STUN response; a real deployment
// wires this through the shared socket/worker layer instead (spec.md
// §5), this is the harvester's private stand-in used only during the
// brief gathering phase before ICE's own demuxer takes over the
// socket.
func (h *ServerReflexiveHarvester) pump(conn net.PacketConn, client *transaction.Client) {
	buf := make([]byte, 1500)
	_ = conn.SetReadDeadline(time.Now().Add(h.Timeout))
	for client.Pending() > 0 {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		if !stun.IsMessage(buf[:n]) {
			continue
		}
		m := new(stun.Message)
		m.Raw = append(m.Raw[:0], buf[:n]...)
		if m.Decode() != nil {
			continue
		}
		client.HandleMessage(m, conn.LocalAddr(), addr)
	}
}

func localPreferenceOf(l *ice.LocalCandidate) int {
	return int((l.Priority >> 8) & 0xFFFF)
}

// packetConnSender adapts a net.PacketConn to transaction.Sender.
type packetConnSender struct {
	conn net.PacketConn
}

func (s packetConnSender) WriteTo(b []byte, addr net.Addr) (int, error) {
	return s.conn.WriteTo(b, addr)
}
