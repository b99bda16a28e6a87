package lcpopt_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/codelaboratoryltd/lcpd/pkg/lcp"
	"github.com/codelaboratoryltd/lcpd/pkg/lcpopt"
)

var _ = Describe("MRU Option", func() {
	var mru *lcpopt.MRU

	BeforeEach(func() {
		cfg := lcpopt.DefaultConfig()
		cfg.MinMRU = 576
		layer, _, _ := startLayer(cfg)

		opt, ok := layer.Option(lcpopt.TypeMRU)
		Expect(ok).To(BeTrue())
		mru = opt.(*lcpopt.MRU)
	})

	It("should propose the configured MRU", func() {
		b := make([]byte, mru.ProposalLen())
		n := mru.Propose(b)

		Expect(n).To(Equal(4))
		Expect(b).To(Equal([]byte{0x01, 0x04, 0x05, 0xd4}))
		Expect(mru.Local()).To(Equal(uint16(1492)))
	})

	DescribeTable("evaluating the peer's MRU",
		func(opt []byte, expected lcp.Outcome, nak []byte) {
			Expect(mru.EvaluateRequest(lcp.RawOption(opt))).To(Equal(expected))

			if nak != nil {
				b := make([]byte, mru.ProposalLen())
				n := mru.Nak(b)
				Expect(b[:n]).To(Equal(nak))
			}
		},
		Entry("within range", []byte{0x01, 0x04, 0x05, 0x78}, lcp.OutcomeAck, nil),
		Entry("at the minimum", []byte{0x01, 0x04, 0x02, 0x40}, lcp.OutcomeAck, nil),
		Entry("below the minimum", []byte{0x01, 0x04, 0x00, 0x40}, lcp.OutcomeNak, []byte{0x01, 0x04, 0x02, 0x40}),
		Entry("above the maximum", []byte{0x01, 0x04, 0x05, 0xdc}, lcp.OutcomeNak, []byte{0x01, 0x04, 0x05, 0xd4}),
		Entry("wrong length", []byte{0x01, 0x03, 0x05}, lcp.OutcomeReject, nil),
		Entry("truncated by the frame", []byte{0x01, 0x04, 0x05}, lcp.OutcomeReject, nil),
	)

	It("should remember the peer's MRU once accepted", func() {
		Expect(mru.EvaluateRequest(lcp.RawOption{0x01, 0x04, 0x04, 0x00})).To(Equal(lcp.OutcomeAck))
		Expect(mru.Peer()).To(Equal(uint16(1024)))
	})

	It("should verify the acked value", func() {
		Expect(mru.EvaluateAck(lcp.RawOption{0x01, 0x04, 0x05, 0xd4})).To(Succeed())
		Expect(errors.Is(mru.EvaluateAck(lcp.RawOption{0x01, 0x04, 0x05, 0xdc}), lcpopt.ErrValueMismatch)).To(BeTrue())
		Expect(errors.Is(mru.EvaluateAck(lcp.RawOption{0x01, 0x02}), lcpopt.ErrBadLength)).To(BeTrue())
	})

	It("should adopt a nak'ed value within range", func() {
		Expect(mru.EvaluateNak(lcp.RawOption{0x01, 0x04, 0x04, 0x00})).To(Succeed())
		Expect(mru.Local()).To(Equal(uint16(1024)))
	})

	It("should refuse a nak'ed value out of range", func() {
		err := mru.EvaluateNak(lcp.RawOption{0x01, 0x04, 0x23, 0x28})
		Expect(errors.Is(err, lcpopt.ErrOutOfRange)).To(BeTrue())
		Expect(mru.Local()).To(Equal(uint16(1492)))
	})

	It("should stop proposing once rejected", func() {
		Expect(mru.EvaluateReject(lcp.RawOption{0x01, 0x04, 0x05, 0xd4})).To(Succeed())

		b := make([]byte, mru.ProposalLen())
		Expect(mru.Propose(b)).To(Equal(0))
	})

	It("should format values", func() {
		Expect(mru.Format(nil)).To(Equal("1492"))
		Expect(mru.Format(lcp.RawOption{0x01, 0x04, 0x02, 0x40})).To(Equal("576"))
	})

	It("should not propose when no MRU is configured", func() {
		cfg := lcpopt.DefaultConfig()
		cfg.MRU = 0
		layer, _, _ := startLayer(cfg)

		opt, _ := layer.Option(lcpopt.TypeMRU)
		b := make([]byte, opt.ProposalLen())
		Expect(opt.Propose(b)).To(Equal(0))
	})
})
