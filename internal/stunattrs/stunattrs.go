// Package stunattrs implements the ICE-specific STUN attribute codecs
// consumed by the connectivity-check engine: PRIORITY, ICE-CONTROLLING,
// ICE-CONTROLLED and USE-CANDIDATE (RFC 8445 Section 7.1.1).
//
// It is grounded on the vendored gortc/ice icecontrol.go/priority.go
// attribute codecs and built directly atop github.com/gortc/stun, the
// module's external STUN message codec (spec.md §6.1/§9 C9 contract).
package stunattrs

import (
	"encoding/binary"

	"github.com/gortc/stun"
)

var bin = binary.BigEndian

const (
	tieBreakerSize = 8 // 64 bit, RFC 8445 Section 7.1.1
	prioritySize   = 4 // 32 bit
)

// Priority represents the PRIORITY attribute: the 32-bit unsigned
// integer priority the sending agent assigns to the candidate pair's
// local candidate.
type Priority uint32

// AddTo adds the PRIORITY attribute to m.
func (p Priority) AddTo(m *stun.Message) error {
	v := make([]byte, prioritySize)
	bin.PutUint32(v, uint32(p))
	m.Add(stun.AttrPriority, v)
	return nil
}

// GetFrom decodes the PRIORITY attribute from m.
func (p *Priority) GetFrom(m *stun.Message) error {
	v, err := m.Get(stun.AttrPriority)
	if err != nil {
		return err
	}
	if err = stun.CheckSize(stun.AttrPriority, len(v), prioritySize); err != nil {
		return err
	}
	*p = Priority(bin.Uint32(v))
	return nil
}

// tieBreaker is the common 64-bit payload shared by ICE-CONTROLLING and
// ICE-CONTROLLED. RFC 8445 Section 7.1.1 mandates unsigned comparison,
// so the wire type is uint64 end to end — never cast to int64.
type tieBreaker uint64

func (t tieBreaker) addToAs(m *stun.Message, a stun.AttrType) error {
	v := make([]byte, tieBreakerSize)
	bin.PutUint64(v, uint64(t))
	m.Add(a, v)
	return nil
}

func (t *tieBreaker) getFromAs(m *stun.Message, a stun.AttrType) error {
	v, err := m.Get(a)
	if err != nil {
		return err
	}
	if err = stun.CheckSize(a, len(v), tieBreakerSize); err != nil {
		return err
	}
	*t = tieBreaker(bin.Uint64(v))
	return nil
}

// Controlled represents the ICE-CONTROLLED attribute.
type Controlled uint64

// AddTo adds ICE-CONTROLLED to m.
func (c Controlled) AddTo(m *stun.Message) error { return tieBreaker(c).addToAs(m, stun.AttrICEControlled) }

// GetFrom decodes ICE-CONTROLLED from m.
func (c *Controlled) GetFrom(m *stun.Message) error {
	return (*tieBreaker)(c).getFromAs(m, stun.AttrICEControlled)
}

// Controlling represents the ICE-CONTROLLING attribute.
type Controlling uint64

// AddTo adds ICE-CONTROLLING to m.
func (c Controlling) AddTo(m *stun.Message) error {
	return tieBreaker(c).addToAs(m, stun.AttrICEControlling)
}

// GetFrom decodes ICE-CONTROLLING from m.
func (c *Controlling) GetFrom(m *stun.Message) error {
	return (*tieBreaker)(c).getFromAs(m, stun.AttrICEControlling)
}

// UseCandidate represents the zero-length USE-CANDIDATE attribute.
type UseCandidate struct{}

// AddTo adds USE-CANDIDATE (empty value) to m.
func (UseCandidate) AddTo(m *stun.Message) error {
	m.Add(stun.AttrUseCandidate, nil)
	return nil
}

// IsSet reports whether m carries USE-CANDIDATE.
func IsSet(m *stun.Message) bool {
	_, err := m.Get(stun.AttrUseCandidate)
	return err == nil
}

// RoleConflict is the ERROR-CODE value for a 487 Role Conflict
// response (RFC 8445 Section 7.3.1.1).
const RoleConflict = stun.CodeRoleConflict
