// Package can: input dispatch table.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package can

import "github.com/cyphal-go/cytx/cyphal"

// NumNodeIDs is the number of distinct CAN node-id values (7-bit field).
const NumNodeIDs = maxNodeID + 1 // 128

// NumSubjects and NumServices are the sizes of the CAN subject-id (13-bit)
// and service-id (9-bit) spaces; dim1Count below reserves one row per
// possible subject plus one row per possible service per role, so that two
// sessions on different subjects never alias onto the same row.
const (
	NumSubjects = maxSubjectID + 1 // 8192
	NumServices = maxServiceID + 1 // 512
)

// dim1 layout: [0, NumSubjects) is message subjects, followed by
// [NumSubjects, NumSubjects+NumServices) service requests, followed by
// [NumSubjects+NumServices, NumSubjects+2*NumServices) service responses.
const (
	dim1ServiceRequestBase  = NumSubjects
	dim1ServiceResponseBase = NumSubjects + NumServices
	dim1Count               = NumSubjects + 2*NumServices
)

// promiscuousSlot is the dim2 index reserved for "any source node" entries -
// the one past the valid 0..NumNodeIDs-1 node-id range.
const promiscuousSlot = NumNodeIDs

// DispatchTable is a dense O(1) lookup from an incoming frame's (data
// specifier, source-node) pair to the session(s) registered to receive it.
// Trading memory for latency is deliberate: a two-level hash map would also
// work but a frame handler on the hot path cannot afford a hash per frame
// when thousands of sessions coexist.
type DispatchTable struct {
	rows [dim1Count * (NumNodeIDs + 1)]any
}

func dim1Of(spec cyphal.DataSpecifier) int {
	switch spec.Kind {
	case cyphal.KindMessage:
		return int(spec.SubjectID)
	case cyphal.KindRequest:
		return dim1ServiceRequestBase + int(spec.ServiceID)
	default:
		return dim1ServiceResponseBase + int(spec.ServiceID)
	}
}

func index(dim1 int, dim2 int) int { return dim1*(NumNodeIDs+1) + dim2 }

// Add registers v to receive frames matching spec from src (or, when
// promiscuous is true, from any source; src is then ignored).
func (t *DispatchTable) Add(spec cyphal.DataSpecifier, src cyphal.NodeID, promiscuous bool, v any) {
	dim2 := promiscuousSlot
	if !promiscuous {
		dim2 = int(src)
	}
	t.rows[index(dim1Of(spec), dim2)] = v
}

func (t *DispatchTable) Remove(spec cyphal.DataSpecifier, src cyphal.NodeID, promiscuous bool) {
	dim2 := promiscuousSlot
	if !promiscuous {
		dim2 = int(src)
	}
	t.rows[index(dim1Of(spec), dim2)] = nil
}

// Lookup returns the selective (exact source) registration if present,
// falling back to the promiscuous one for the same dim1 row. Prefer
// LookupAll when both registrations, if present, must independently observe
// the frame (see LookupAll).
func (t *DispatchTable) Lookup(spec cyphal.DataSpecifier, src cyphal.NodeID) any {
	dim1 := dim1Of(spec)
	if v := t.rows[index(dim1, int(src))]; v != nil {
		return v
	}
	return t.rows[index(dim1, promiscuousSlot)]
}

// LookupAll returns every registration matching (spec, src): the selective
// one for that exact source and the promiscuous one, in that order, each
// only if registered. A frame from a given source must be fanned out to
// both a selective and a promiscuous session subscribed to the same subject
// - one lookup must not shadow the other.
func (t *DispatchTable) LookupAll(spec cyphal.DataSpecifier, src cyphal.NodeID) []any {
	dim1 := dim1Of(spec)
	var out []any
	if v := t.rows[index(dim1, int(src))]; v != nil {
		out = append(out, v)
	}
	if v := t.rows[index(dim1, promiscuousSlot)]; v != nil {
		out = append(out, v)
	}
	return out
}
