// Package core: input/output session lifecycle specs.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package core_test

import (
	"time"

	"github.com/cyphal-go/cytx/cyphal"
	"github.com/cyphal-go/cytx/cyphal/core"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("InputSession", func() {
	var spec cyphal.SessionSpecifier

	BeforeEach(func() {
		spec = cyphal.SessionSpecifier{Data: cyphal.NewMessageSpecifier(1), Promiscuous: true}
	})

	It("returns ok=false with no error when Receive times out with nothing queued", func() {
		s := core.NewInputSession("s1", spec, cyphal.PayloadMetadata{}, 4)
		_, ok, err := s.Receive(time.Now().Add(20 * time.Millisecond))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("delivers a pushed transfer to a blocked Receive", func() {
		s := core.NewInputSession("s2", spec, cyphal.PayloadMetadata{}, 4)
		transfer := cyphal.TransferFrom{Transfer: cyphal.Transfer{Payload: cyphal.FragmentedPayload{[]byte("x")}}}

		done := make(chan cyphal.TransferFrom, 1)
		go func() {
			got, ok, _ := s.Receive(time.Now().Add(time.Second))
			if ok {
				done <- got
			}
		}()
		time.Sleep(10 * time.Millisecond)
		s.Push(transfer, 1)

		Eventually(done, time.Second).Should(Receive(Equal(transfer)))
	})

	It("drops a transfer and counts it once the bounded queue is full", func() {
		s := core.NewInputSession("s3", spec, cyphal.PayloadMetadata{}, 1)
		s.Push(cyphal.TransferFrom{Transfer: cyphal.Transfer{Payload: cyphal.FragmentedPayload{[]byte("a")}}}, 1)
		s.Push(cyphal.TransferFrom{Transfer: cyphal.Transfer{Payload: cyphal.FragmentedPayload{[]byte("b")}}}, 1)

		Expect(s.Stat().Drops).To(Equal(int64(1)))
		Expect(s.Stat().Transfers).To(Equal(int64(1)))
	})

	It("tallies reassembly errors by code", func() {
		s := core.NewInputSession("s4", spec, cyphal.PayloadMetadata{}, 4)
		s.RecordReassemblyError(3)
		s.RecordReassemblyError(3)
		s.RecordReassemblyError(7)

		breakdown := s.ErrorBreakdown()
		Expect(breakdown[3]).To(Equal(int64(2)))
		Expect(breakdown[7]).To(Equal(int64(1)))
		Expect(s.Stat().Errors).To(Equal(int64(3)))
	})

	It("wakes a blocked Receive and reports ErrResourceClosed once closed", func() {
		s := core.NewInputSession("s5", spec, cyphal.PayloadMetadata{}, 4)
		errCh := make(chan error, 1)
		go func() {
			_, _, err := s.Receive(time.Now().Add(time.Second))
			errCh <- err
		}()
		time.Sleep(10 * time.Millisecond)
		s.Close(nil)

		var err error
		Eventually(errCh, time.Second).Should(Receive(&err))
		Expect(cyphal.IsErrResourceClosed(err)).To(BeTrue())
	})

	It("rejects a non-positive transfer-ID timeout override", func() {
		s := core.NewInputSession("s6", spec, cyphal.PayloadMetadata{}, 4)
		Expect(s.SetTransferIDTimeout(0)).To(HaveOccurred())
		Expect(s.TransferIDTimeout()).To(Equal(core.DefaultTransferIDTimeout))
	})

	It("accepts a positive transfer-ID timeout override", func() {
		s := core.NewInputSession("s7", spec, cyphal.PayloadMetadata{}, 4)
		Expect(s.SetTransferIDTimeout(5 * time.Second)).NotTo(HaveOccurred())
		Expect(s.TransferIDTimeout()).To(Equal(5 * time.Second))
	})
})

var _ = Describe("OutputSession", func() {
	It("rejects a broadcast service specifier", func() {
		spec := cyphal.SessionSpecifier{Data: cyphal.NewServiceSpecifier(1, true), Promiscuous: true}
		_, err := core.NewOutputSession("o1", spec, cyphal.PayloadMetadata{}, false)
		Expect(cyphal.IsErrUnsupportedSessionConfiguration(err)).To(BeTrue())
	})

	It("rejects a unicast message specifier unless the transport opts in", func() {
		spec := cyphal.SessionSpecifier{Data: cyphal.NewMessageSpecifier(1), Promiscuous: false}
		_, err := core.NewOutputSession("o2", spec, cyphal.PayloadMetadata{}, false)
		Expect(cyphal.IsErrUnsupportedSessionConfiguration(err)).To(BeTrue())

		_, err = core.NewOutputSession("o3", spec, cyphal.PayloadMetadata{}, true)
		Expect(err).NotTo(HaveOccurred())
	})

	It("does not deliver feedback when none is enabled", func() {
		spec := cyphal.SessionSpecifier{Data: cyphal.NewMessageSpecifier(1), Promiscuous: true}
		s, err := core.NewOutputSession("o4", spec, cyphal.PayloadMetadata{}, false)
		Expect(err).NotTo(HaveOccurred())
		// MarkPending/Deliver with no handler installed must not panic and
		// must not retain unbounded pending state.
		s.MarkPending(1, cyphal.Now())
		s.Deliver(1, cyphal.Now())
	})

	It("delivers feedback with the original transmission timestamp", func() {
		spec := cyphal.SessionSpecifier{Data: cyphal.NewMessageSpecifier(1), Promiscuous: true}
		s, err := core.NewOutputSession("o5", spec, cyphal.PayloadMetadata{}, false)
		Expect(err).NotTo(HaveOccurred())

		var got cyphal.Feedback
		s.EnableFeedback(func(fb cyphal.Feedback) { got = fb })
		orig := cyphal.Now()
		s.MarkPending(42, orig)
		txTS := cyphal.Now()
		s.Deliver(42, txTS)

		Expect(got.OriginalTransmissionTimestamp).To(Equal(orig))
		Expect(got.FirstFrameTransmissionTimestamp).To(Equal(txTS))
	})

	It("evicts the oldest pending entry once the bound is exceeded", func() {
		spec := cyphal.SessionSpecifier{Data: cyphal.NewMessageSpecifier(1), Promiscuous: true}
		s, err := core.NewOutputSession("o6", spec, cyphal.PayloadMetadata{}, false)
		Expect(err).NotTo(HaveOccurred())

		delivered := make(map[uint64]bool)
		s.EnableFeedback(func(fb cyphal.Feedback) {})
		for i := uint64(0); i < 100; i++ {
			s.MarkPending(i, cyphal.Now())
		}
		s.EnableFeedback(func(fb cyphal.Feedback) { delivered[0] = true })
		s.Deliver(0, cyphal.Now())
		Expect(delivered[0]).To(BeFalse(), "transfer-id 0 should have been evicted once more than 64 entries were pending")
	})

	It("clears pending state on DisableFeedback", func() {
		spec := cyphal.SessionSpecifier{Data: cyphal.NewMessageSpecifier(1), Promiscuous: true}
		s, err := core.NewOutputSession("o7", spec, cyphal.PayloadMetadata{}, false)
		Expect(err).NotTo(HaveOccurred())

		invoked := false
		s.EnableFeedback(func(fb cyphal.Feedback) { invoked = true })
		s.MarkPending(1, cyphal.Now())
		s.DisableFeedback()
		s.EnableFeedback(func(fb cyphal.Feedback) { invoked = true })
		s.Deliver(1, cyphal.Now())
		Expect(invoked).To(BeFalse())
	})
})
