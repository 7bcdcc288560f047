// capture.go persists Trace records to an embedded buntdb store for offline
// diagnostics, the optional on-disk half of the capture/tracer subsystem:
// the Tracer itself stays pure compute (see tracer.go); a Sink is the thing
// that chooses to keep what it produced.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package tracer

import (
	"bytes"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"
	"github.com/tinylib/msgp/msgp"

	"github.com/cyphal-go/cytx/cyphal"
)

// Sink appends Traces to a buntdb-backed log keyed by capture timestamp and
// then arrival sequence, so a
// caller can later range-query "everything captured between T1 and T2"
// without loading the whole history into memory.
type Sink struct {
	db  *buntdb.DB
	seq uint64
}

// OpenSink opens (creating if necessary) a buntdb file at path. path may be
// ":memory:" for a process-local, non-persistent log useful in tests.
func OpenSink(path string) (*Sink, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "tracer: open capture sink %q", path)
	}
	return &Sink{db: db}, nil
}

func (s *Sink) Close() error { return s.db.Close() }

// sinkKey orders records first by wall-clock time then by insertion
// sequence, so AscendRange over a time window also recovers ties in arrival
// order.
func sinkKey(ts time.Time, seq uint64) string {
	return fmt.Sprintf("%020d:%020d", ts.UnixNano(), seq)
}

// Record appends one Trace to the log. Kind/Timestamp/TransferIDTimeout are
// always written; AlienTransfer fields are only meaningful for
// KindTransfer, but are encoded unconditionally to keep the record schema
// fixed-shape.
func (s *Sink) Record(tr Trace) error {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := encodeTrace(w, tr); err != nil {
		return errors.Wrap(err, "tracer: encode trace")
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "tracer: flush trace")
	}
	s.seq++
	key := sinkKey(tr.Timestamp.System, s.seq)
	val := buf.String()
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, val, nil)
		return err
	})
}

// Query returns every Trace recorded with a timestamp in [from, to), in
// timestamp order; traces with equal timestamps come in arrival order.
func (s *Sink) Query(from, to time.Time) ([]Trace, error) {
	min := sinkKey(from, 0)
	max := sinkKey(to, 0)
	var out []Trace
	err := s.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		tx.AscendRange("", min, max, func(_, value string) bool {
			tr, err := decodeTrace(msgp.NewReader(bytes.NewReader([]byte(value))))
			if err != nil {
				iterErr = err
				return false
			}
			out = append(out, tr)
			return true
		})
		return iterErr
	})
	if err != nil {
		return nil, errors.Wrap(err, "tracer: query capture sink")
	}
	return out, nil
}

func encodeTrace(w *msgp.Writer, tr Trace) error {
	if err := w.WriteInt(int(tr.Kind)); err != nil {
		return err
	}
	if err := w.WriteInt64(tr.Timestamp.System.UnixNano()); err != nil {
		return err
	}
	if err := w.WriteInt64(int64(tr.Timestamp.Monotonic)); err != nil {
		return err
	}
	if err := w.WriteInt64(int64(tr.TransferIDTimeout)); err != nil {
		return err
	}
	if err := w.WriteUint8(uint8(tr.Transfer.Priority)); err != nil {
		return err
	}
	if err := w.WriteUint8(uint8(tr.Transfer.Specifier.Kind)); err != nil {
		return err
	}
	if err := w.WriteUint32(tr.Transfer.Specifier.SubjectID); err != nil {
		return err
	}
	if err := w.WriteUint32(uint32(tr.Transfer.Specifier.ServiceID)); err != nil {
		return err
	}
	if err := w.WriteUint32(uint32(tr.Transfer.Source)); err != nil {
		return err
	}
	if err := w.WriteUint32(uint32(tr.Transfer.Destination)); err != nil {
		return err
	}
	if err := w.WriteUint64(tr.Transfer.TransferID); err != nil {
		return err
	}
	return w.WriteBytes(tr.Transfer.Payload.Flatten())
}

func decodeTrace(r *msgp.Reader) (Trace, error) {
	var tr Trace
	kind, err := r.ReadInt()
	if err != nil {
		return tr, err
	}
	tr.Kind = Kind(kind)
	sysNanos, err := r.ReadInt64()
	if err != nil {
		return tr, err
	}
	tr.Timestamp.System = time.Unix(0, sysNanos)
	mono, err := r.ReadInt64()
	if err != nil {
		return tr, err
	}
	tr.Timestamp.Monotonic = time.Duration(mono)
	tidTimeout, err := r.ReadInt64()
	if err != nil {
		return tr, err
	}
	tr.TransferIDTimeout = time.Duration(tidTimeout)
	prio, err := r.ReadUint8()
	if err != nil {
		return tr, err
	}
	tr.Transfer.Priority = cyphal.Priority(prio)
	kindByte, err := r.ReadUint8()
	if err != nil {
		return tr, err
	}
	tr.Transfer.Specifier.Kind = cyphal.TransferKind(kindByte)
	subj, err := r.ReadUint32()
	if err != nil {
		return tr, err
	}
	tr.Transfer.Specifier.SubjectID = subj
	svc, err := r.ReadUint32()
	if err != nil {
		return tr, err
	}
	tr.Transfer.Specifier.ServiceID = uint16(svc)
	src, err := r.ReadUint32()
	if err != nil {
		return tr, err
	}
	tr.Transfer.Source = cyphal.NodeID(src)
	dst, err := r.ReadUint32()
	if err != nil {
		return tr, err
	}
	tr.Transfer.Destination = cyphal.NodeID(dst)
	tid, err := r.ReadUint64()
	if err != nil {
		return tr, err
	}
	tr.Transfer.TransferID = tid
	payload, err := r.ReadBytes(nil)
	if err != nil {
		return tr, err
	}
	tr.Transfer.Payload = cyphal.FragmentedPayload{payload}
	return tr, nil
}
