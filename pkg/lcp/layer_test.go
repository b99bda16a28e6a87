package lcp_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/codelaboratoryltd/lcpd/pkg/lcp"
)

var _ = Describe("LCP Layer", func() {
	var (
		opt *testOption
		h   *harness
	)

	BeforeEach(func() {
		opt = &testOption{typ: 1, value: []byte{0x05, 0xd4}, verdict: lcp.OutcomeAck}
		h = newHarness(&testDescriptor{typ: 1, name: "mru", opt: opt})
	})

	Describe("NewLayer", func() {
		It("should register for LCP frames", func() {
			Expect(h.channel.handlers).To(HaveKeyWithValue(uint16(lcp.ProtocolLCP), h.layer))
			Expect(h.layer.ID()).To(Equal("test"))
		})

		It("should require its collaborators", func() {
			_, err := lcp.NewLayer(lcp.Config{ID: "x"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("lifecycle", func() {
		It("should report layer up and finished to the owner", func() {
			h.layer.Start()
			h.fsm.actions.LayerUp()
			h.fsm.actions.LayerDown()
			h.fsm.actions.LayerFinished()

			Expect(h.owner.started).To(Equal(1))
			Expect(h.owner.finished).To(Equal(1))
		})

		It("should close the automaton on Finish", func() {
			h.layer.Start()
			h.layer.Finish()

			Expect(h.fsm.events).To(Equal([]string{"LowerUp", "Open", "Close"}))
			Expect(h.channel.last()).To(Equal(frame(lcp.CodeTermRequest, 2)))
		})

		It("should release options and unregister on Free", func() {
			h.layer.Start()
			h.layer.Free()

			Expect(opt.released).To(BeTrue())
			Expect(h.channel.handlers).To(BeEmpty())
			Expect(h.fsm.events).To(ContainElement("LowerDown"))
			Expect(errors.Is(h.layer.Receive(frame(lcp.CodeEchoRequest, 1, be32(0))), lcp.ErrLayerFreed)).To(BeTrue())
		})

		It("should tolerate Free twice and Finish after Free", func() {
			h.layer.Start()
			h.layer.Free()
			h.layer.Free()
			h.layer.Finish()

			Expect(h.fsm.events).To(Equal([]string{"LowerUp", "Open", "LowerDown"}))
		})

		It("should wrap transport errors", func() {
			sendErr := errors.New("no route")
			h.channel.err = sendErr
			h.layer.Start()

			Expect(h.fsm.errs).To(HaveLen(1))
			Expect(errors.Is(h.fsm.errs[0], sendErr)).To(BeTrue())
		})
	})

	Describe("Receive", func() {
		BeforeEach(func() {
			h.layer.Start()
			h.channel.sent = nil
		})

		Context("with a malformed frame", func() {
			It("should drop a length field below the header size", func() {
				// Length 3 with two bytes beyond the header
				err := h.layer.Receive([]byte{0xc0, 0x21, 0x01, 0x01, 0x00, 0x03, 0x01, 0x02})

				Expect(errors.Is(err, lcp.ErrShortPacket)).To(BeTrue())
				Expect(errors.Is(err, lcp.ErrMalformedHeader)).To(BeTrue())
				Expect(h.channel.sent).To(BeEmpty())
				Expect(h.fsm.events).To(Equal([]string{"LowerUp", "Open"}))
			})

			It("should drop a frame shorter than the header", func() {
				err := h.layer.Receive([]byte{0xc0, 0x21, 0x09})

				Expect(errors.Is(err, lcp.ErrShortPacket)).To(BeTrue())
				Expect(h.channel.sent).To(BeEmpty())
			})
		})

		It("should answer an Echo-Request without the automaton", func() {
			Expect(h.layer.Receive(frame(lcp.CodeEchoRequest, 5, be32(0x12345678)))).To(Succeed())

			Expect(h.channel.sent).To(HaveLen(1))
			Expect(h.channel.last()).To(Equal([]byte{0xc0, 0x21, 0x0a, 0x05, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00}))
			Expect(h.fsm.events).To(Equal([]string{"LowerUp", "Open"}))
		})

		It("should discard an Echo-Reply", func() {
			Expect(h.layer.Receive(frame(lcp.CodeEchoReply, 5, be32(0)))).To(Succeed())

			Expect(h.channel.sent).To(BeEmpty())
			Expect(h.fsm.events).To(Equal([]string{"LowerUp", "Open"}))
		})

		It("should acknowledge a Terminate-Request and terminate the session", func() {
			Expect(h.layer.Receive(frame(lcp.CodeTermRequest, 9, []byte("bye")))).To(Succeed())

			Expect(h.fsm.events).To(ContainElement("RecvTermReq"))
			Expect(h.channel.last()).To(Equal(frame(lcp.CodeTermAck, 9)))
			Expect(h.owner.causes).To(Equal([]lcp.TerminateCause{lcp.TerminateCauseUserRequest}))
			Expect(h.layer.LastReceivedID()).To(Equal(uint8(9)))
		})

		It("should pass a Terminate-Ack to the automaton only", func() {
			Expect(h.layer.Receive(frame(lcp.CodeTermAck, 2))).To(Succeed())

			Expect(h.fsm.events).To(ContainElement("RecvTermAck"))
			Expect(h.owner.causes).To(BeEmpty())
		})

		It("should pass a Code-Reject to the automaton", func() {
			Expect(h.layer.Receive(frame(lcp.CodeCodeReject, 2, []byte{0x0c, 0x01, 0x00, 0x04}))).To(Succeed())

			Expect(h.fsm.events).To(ContainElement("RecvCodeRejBad"))
		})

		DescribeTable("should Code-Reject codes it does not handle",
			func(code lcp.Code) {
				in := frame(code, 3, []byte{0x01, 0x02})

				Expect(h.layer.Receive(in)).To(Succeed())

				Expect(h.fsm.events).To(ContainElement("RecvUnknownCode"))
				Expect(h.channel.last()).To(Equal(frame(lcp.CodeCodeReject, 2, in[2:])))
			},
			Entry("Protocol-Reject", lcp.CodeProtoReject),
			Entry("Discard-Request", lcp.CodeDiscardRequest),
			Entry("unassigned code", lcp.Code(12)),
		)

		It("should not Code-Reject bytes beyond the length field", func() {
			in := append(frame(lcp.Code(12), 3, []byte{0x01, 0x02}), 0xff, 0xff)

			Expect(h.layer.Receive(in)).To(Succeed())
			Expect(h.channel.last()).To(Equal(frame(lcp.CodeCodeReject, 2, in[2:8])))
		})

		It("should refuse to Code-Reject outside of receive", func() {
			Expect(h.fsm.actions.SendCodeReject()).NotTo(Succeed())
		})
	})
})
