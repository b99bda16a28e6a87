package lcp_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/codelaboratoryltd/lcpd/pkg/lcp"
)

var _ = Describe("Option Registry", func() {

	It("should keep registration order", func() {
		a := &testDescriptor{typ: 5, name: "a"}
		b := &testDescriptor{typ: 1, name: "b"}

		r := lcp.NewRegistryBuilder().Register(a).Register(b).Build()

		Expect(r.Len()).To(Equal(2))
		d, ok := r.Lookup(1)
		Expect(ok).To(BeTrue())
		Expect(d.Name()).To(Equal("b"))
	})

	It("should report unknown types", func() {
		r := lcp.NewRegistry(&testDescriptor{typ: 1, name: "a"})
		_, ok := r.Lookup(3)
		Expect(ok).To(BeFalse())
	})

	It("should accept duplicate type codes and resolve to the first", func() {
		first := &testDescriptor{typ: 1, name: "first"}
		second := &testDescriptor{typ: 1, name: "second"}

		r := lcp.NewRegistry(first, second)

		Expect(r.Len()).To(Equal(2))
		d, ok := r.Lookup(1)
		Expect(ok).To(BeTrue())
		Expect(d.Name()).To(Equal("first"))
	})

	It("should not let later registrations leak into a built registry", func() {
		builder := lcp.NewRegistryBuilder().Register(&testDescriptor{typ: 1, name: "a"})
		r := builder.Build()

		builder.Register(&testDescriptor{typ: 2, name: "b"})

		Expect(r.Len()).To(Equal(1))
		_, ok := r.Lookup(2)
		Expect(ok).To(BeFalse())
	})

	Describe("per-session instantiation", func() {
		It("should instantiate in registration order and propose in that order", func() {
			a := &testDescriptor{typ: 5, name: "a", opt: &testOption{typ: 5, value: []byte{1, 2, 3, 4}}}
			b := &testDescriptor{typ: 1, name: "b", opt: &testOption{typ: 1, value: []byte{0x05, 0xd4}}}
			h := newHarness(a, b)

			h.layer.Start()

			Expect(a.news).To(Equal(1))
			Expect(b.news).To(Equal(1))
			Expect(h.channel.last()).To(Equal(frame(lcp.CodeConfigRequest, 1,
				tlv(5, 1, 2, 3, 4),
				tlv(1, 0x05, 0xd4),
			)))
		})

		It("should skip descriptors whose factory declines", func() {
			declined := &testDescriptor{typ: 7, name: "declined"}
			kept := &testDescriptor{typ: 1, name: "kept", opt: &testOption{typ: 1, value: []byte{0x05, 0xd4}}}
			h := newHarness(declined, kept)

			h.layer.Start()

			Expect(declined.news).To(Equal(1))
			_, ok := h.layer.Option(7)
			Expect(ok).To(BeFalse())
			Expect(h.channel.last()).To(Equal(frame(lcp.CodeConfigRequest, 1, tlv(1, 0x05, 0xd4))))
		})

		It("should route a duplicated type to the first instance only", func() {
			first := &testOption{typ: 1, verdict: lcp.OutcomeAck}
			second := &testOption{typ: 1, verdict: lcp.OutcomeReject}
			h := newHarness(
				&testDescriptor{typ: 1, name: "first", opt: first},
				&testDescriptor{typ: 1, name: "second", opt: second},
			)
			h.layer.Start()

			Expect(h.layer.Receive(frame(lcp.CodeConfigRequest, 9, tlv(1, 0x05, 0xd4)))).To(Succeed())

			Expect(first.requests).To(HaveLen(1))
			Expect(second.requests).To(BeEmpty())
			Expect(h.fsm.events).To(ContainElement("RecvConfReqAck"))
		})
	})
})
