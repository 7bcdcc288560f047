// Package redundant: dedup and multiplier specs driven over real (loopback)
// CAN inferiors, exercising the whole stack rather than stubbing cyphal.Transport.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package redundant_test

import (
	"time"

	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/can"
	"github.com/cyphal-go/cytx/cyphal/redundant"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// twoInterfacePair builds a publisher-side and a subscriber-side redundant
// transport sharing two independent buses, one per inferior.
func twoInterfacePair() (pub, sub *redundant.Transport, closeAll func()) {
	busA := can.NewLoopbackBus()
	busB := can.NewLoopbackBus()

	pubA := can.NewTransport(1, 8, busA)
	pubB := can.NewTransport(1, 8, busB)
	subA := can.NewTransport(2, 8, busA)
	subB := can.NewTransport(2, 8, busB)

	pub = redundant.New([]cyphal.Transport{pubA, pubB})
	sub = redundant.New([]cyphal.Transport{subA, subB})
	return pub, sub, func() {
		pub.Close()
		sub.Close()
	}
}

var _ = Describe("Transport", func() {
	var spec cyphal.SessionSpecifier
	var meta cyphal.PayloadMetadata

	BeforeEach(func() {
		spec = cyphal.SessionSpecifier{Data: cyphal.NewMessageSpecifier(10), Promiscuous: true}
		meta = cyphal.PayloadMetadata{Extent: 256}
	})

	It("delivers exactly one transfer to the receiver for a single send", func() {
		pub, sub, closeAll := twoInterfacePair()
		defer closeAll()

		out, err := pub.NewOutputSession(spec, meta)
		Expect(err).NotTo(HaveOccurred())
		in, err := sub.NewInputSession(spec, meta)
		Expect(err).NotTo(HaveOccurred())

		payload := []byte("redundant hello")
		ok, err := out.Send(cyphal.Transfer{Priority: cyphal.PriorityNominal, Specifier: spec.Data, Payload: cyphal.FragmentedPayload{payload}}, time.Now().Add(time.Second))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		got, ok, err := in.Receive(time.Now().Add(time.Second))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(got.Payload.Flatten()).To(Equal(payload))

		// the same transfer arrived on both inferior buses; the second copy
		// must be suppressed by dedup rather than delivered again.
		_, ok, _ = in.Receive(time.Now().Add(50 * time.Millisecond))
		Expect(ok).To(BeFalse())
	})

	It("still observes exactly one transfer when the service multiplier is M>=2", func() {
		svcSpec := cyphal.SessionSpecifier{Data: cyphal.NewServiceSpecifier(5, true), RemoteID: 2}
		pub, sub, closeAll := twoInterfacePair()
		defer closeAll()
		pub.SetServiceMultiplier(3)

		out, err := pub.NewOutputSession(svcSpec, meta)
		Expect(err).NotTo(HaveOccurred())
		selective := cyphal.SessionSpecifier{Data: svcSpec.Data, RemoteID: 1}
		in, err := sub.NewInputSession(selective, meta)
		Expect(err).NotTo(HaveOccurred())

		payload := []byte("multiplied")
		ok, err := out.Send(cyphal.Transfer{Priority: cyphal.PriorityNominal, Specifier: svcSpec.Data, Payload: cyphal.FragmentedPayload{payload}}, time.Now().Add(time.Second))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		got, ok, err := in.Receive(time.Now().Add(time.Second))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(got.Payload.Flatten()).To(Equal(payload))

		// drain briefly: neither the M-1 redundant copies on the same
		// inferior, nor the second inferior's copies, may surface as a
		// second distinct delivery.
		_, ok, _ = in.Receive(time.Now().Add(100 * time.Millisecond))
		Expect(ok).To(BeFalse())
	})

	It("returns the same session object for repeated requests with an equal specifier", func() {
		pub, _, closeAll := twoInterfacePair()
		defer closeAll()
		a, err := pub.NewOutputSession(spec, meta)
		Expect(err).NotTo(HaveOccurred())
		b, err := pub.NewOutputSession(spec, meta)
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(BeIdenticalTo(b))
	})

	It("reports the first inferior's local node-ID", func() {
		pub, _, closeAll := twoInterfacePair()
		defer closeAll()
		Expect(pub.LocalNodeID()).To(Equal(cyphal.NodeID(1)))
	})

	It("Close is idempotent and tears down every inferior", func() {
		pub, _, closeAll := twoInterfacePair()
		defer closeAll()
		Expect(pub.Close()).NotTo(HaveOccurred())
		Expect(pub.Close()).NotTo(HaveOccurred())
		_, err := pub.NewOutputSession(spec, meta)
		Expect(cyphal.IsErrResourceClosed(err)).To(BeTrue())
	})
})
