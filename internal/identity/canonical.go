package identity

import "encoding/binary"

// CanonicalSpanFields is the ordered set of byte strings a span contributes
// to its signed payload, in the exact field order spec.md §4.1 lists:
// id | timestamp | logline_id | author | title | payload | contract_id |
// workflow_id | flow_id | caused_by | status.
//
// This is canonical-v1. Absent optional fields contribute a zero-length
// segment rather than being omitted, so the field count is fixed. A future
// canonical-v2 would live alongside this as a new function; existing
// verified spans are never re-serialized under a new scheme.
type CanonicalSpanFields struct {
	ID         string
	Timestamp  string
	LogLineID  string
	Author     string
	Title      string
	Payload    []byte
	ContractID string
	WorkflowID string
	FlowID     string
	CausedBy   string
	Status     string
}

// CanonicalBytes serializes the fields as a deterministic concatenation:
// each field is prefixed with its 4-byte big-endian length. No version byte
// is prepended to the payload itself, to stay byte-compatible with a plain
// field concatenation, and stored spans do not record the version either;
// every span is verified under canonical-v1.
func (f CanonicalSpanFields) CanonicalBytes() []byte {
	segments := [][]byte{
		[]byte(f.ID),
		[]byte(f.Timestamp),
		[]byte(f.LogLineID),
		[]byte(f.Author),
		[]byte(f.Title),
		f.Payload,
		[]byte(f.ContractID),
		[]byte(f.WorkflowID),
		[]byte(f.FlowID),
		[]byte(f.CausedBy),
		[]byte(f.Status),
	}

	total := 0
	for _, s := range segments {
		total += 4 + len(s)
	}

	out := make([]byte, 0, total)
	var lenBuf [4]byte
	for _, s := range segments {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
		out = append(out, lenBuf[:]...)
		out = append(out, s...)
	}
	return out
}

// CanonicalVersion names the serialization scheme CanonicalBytes
// implements.
const CanonicalVersion = "canonical-v1"
