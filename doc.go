// Package ice implements the core of an Interactive Connectivity
// Establishment (ICE, RFC 8445) agent: candidate and pair modeling,
// the per-stream check-list state machine, the paced connectivity
// check client and server, role-conflict arbitration, nomination
// policies, and the agent orchestrator that ties them together.
//
// Candidate harvesting, the STUN message codec/transactional layer,
// UDP socket demultiplexing and offer/answer wire serialization are
// treated as external collaborators and are specified only through
// the interfaces this package declares for them (harvest, sdp,
// internal/transaction, socket).
package ice
