// Package sdp encodes and decodes the ICE candidate attribute line
// used at the offer/answer boundary (spec.md §6.5), following
// draft-ietf-mmusic-ice-sip-sdp's a=candidate grammar:
//
//	a=candidate:<foundation> <component-id> <transport> <priority> <address> <port> typ <type> [raddr <addr> rport <port>]
package sdp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	ice "gortc.io/iceagent"
)

const attributePrefix = "a=candidate:"

// Marshal renders d as a candidate attribute line, without the
// trailing CRLF an SDP message body would add.
func Marshal(d ice.RemoteCandidateDescriptor) string {
	var b strings.Builder
	b.WriteString(attributePrefix)
	b.WriteString(d.Foundation)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(d.ComponentID))
	b.WriteByte(' ')
	b.WriteString(d.Transport)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(uint64(d.Priority), 10))
	b.WriteByte(' ')
	b.WriteString(d.Address)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(d.Port))
	b.WriteString(" typ ")
	b.WriteString(d.Type)
	if d.RelAddress != "" {
		b.WriteString(" raddr ")
		b.WriteString(d.RelAddress)
		b.WriteString(" rport ")
		b.WriteString(strconv.Itoa(d.RelPort))
	}
	return b.String()
}

// MarshalAll renders one line per descriptor, in order.
func MarshalAll(descs []ice.RemoteCandidateDescriptor) []string {
	lines := make([]string, 0, len(descs))
	for _, d := range descs {
		lines = append(lines, Marshal(d))
	}
	return lines
}

// Parse decodes a single candidate attribute line into a descriptor.
// line may or may not carry the "a=" prefix; both forms are accepted
// since candidate lines are exchanged both inside full SDP bodies and
// as bare trickle updates.
func Parse(line string) (ice.RemoteCandidateDescriptor, error) {
	var d ice.RemoteCandidateDescriptor

	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimPrefix(trimmed, "a=")
	trimmed = strings.TrimPrefix(trimmed, "candidate:")

	fields := strings.Fields(trimmed)
	if len(fields) < 6 {
		return d, errors.Errorf("sdp: candidate line has %d fields, want at least 6", len(fields))
	}

	d.Foundation = fields[0]

	cid, err := strconv.Atoi(fields[1])
	if err != nil {
		return d, errors.Wrap(err, "sdp: invalid component-id")
	}
	d.ComponentID = cid

	d.Transport = fields[2]

	priority, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return d, errors.Wrap(err, "sdp: invalid priority")
	}
	d.Priority = uint32(priority)

	d.Address = fields[4]

	port, err := strconv.Atoi(fields[5])
	if err != nil {
		return d, errors.Wrap(err, "sdp: invalid port")
	}
	d.Port = port

	rest := fields[6:]
	for i := 0; i < len(rest)-1; i += 2 {
		key, value := rest[i], rest[i+1]
		switch key {
		case "typ":
			d.Type = value
		case "raddr":
			d.RelAddress = value
		case "rport":
			rport, err := strconv.Atoi(value)
			if err != nil {
				return d, errors.Wrap(err, "sdp: invalid rport")
			}
			d.RelPort = rport
		}
	}
	if d.Type == "" {
		return d, fmt.Errorf("sdp: candidate line missing typ extension")
	}
	return d, nil
}

// ParseAll decodes one descriptor per non-empty line, skipping blank
// lines (e.g. blank trickle keep-alives). Every other line must be a
// candidate attribute: the first one that fails to parse ends the call
// with its error.
func ParseAll(lines []string) ([]ice.RemoteCandidateDescriptor, error) {
	descs := make([]ice.RemoteCandidateDescriptor, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		d, err := Parse(trimmed)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return descs, nil
}
