package lcpopt_test

import (
	"encoding/binary"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/codelaboratoryltd/lcpd/pkg/lcp"
	"github.com/codelaboratoryltd/lcpd/pkg/lcpopt"
)

func magicOption(v uint32) lcp.RawOption {
	b := []byte{lcpopt.TypeMagicNumber, 6, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(b[2:], v)
	return b
}

var _ = Describe("Magic-Number Option", func() {
	var (
		magic *lcpopt.MagicNumber
		layer *lcp.Layer
		owner *nopOwner
	)

	BeforeEach(func() {
		layer, _, owner = startLayer(lcpopt.DefaultConfig())

		opt, ok := layer.Option(lcpopt.TypeMagicNumber)
		Expect(ok).To(BeTrue())
		magic = opt.(*lcpopt.MagicNumber)
	})

	It("should start with a non-zero magic number", func() {
		Expect(magic.Local()).NotTo(BeZero())
	})

	It("should not be instantiated when disabled", func() {
		cfg := lcpopt.DefaultConfig()
		cfg.Magic = false
		l, _, _ := startLayer(cfg)

		_, ok := l.Option(lcpopt.TypeMagicNumber)
		Expect(ok).To(BeFalse())
	})

	It("should propose its magic number", func() {
		b := make([]byte, magic.ProposalLen())
		Expect(magic.Propose(b)).To(Equal(6))
		Expect(lcp.RawOption(b)).To(Equal(magicOption(magic.Local())))
	})

	It("should ack a different peer magic number", func() {
		Expect(magic.EvaluateRequest(magicOption(0x01020304))).To(Equal(lcp.OutcomeAck))
		Expect(magic.Peer()).To(Equal(uint32(0x01020304)))
	})

	It("should nak a zero magic number with a non-zero suggestion", func() {
		Expect(magic.EvaluateRequest(magicOption(0))).To(Equal(lcp.OutcomeNak))

		b := make([]byte, magic.ProposalLen())
		n := magic.Nak(b)
		Expect(n).To(Equal(6))
		Expect(binary.BigEndian.Uint32(b[2:6])).NotTo(BeZero())
	})

	It("should reject a magic number of the wrong length", func() {
		Expect(magic.EvaluateRequest(lcp.RawOption{lcpopt.TypeMagicNumber, 4, 0, 1})).To(Equal(lcp.OutcomeReject))
	})

	It("should pick a new magic number on a collision", func() {
		old := magic.Local()

		Expect(magic.EvaluateRequest(magicOption(old))).To(Equal(lcp.OutcomeNak))
		Expect(magic.Local()).NotTo(Equal(old))
	})

	It("should declare the link looped back after repeated collisions", func() {
		for i := 0; i < 3; i++ {
			Expect(magic.EvaluateRequest(magicOption(magic.Local()))).To(Equal(lcp.OutcomeNak))
		}
		Expect(magic.EvaluateRequest(magicOption(magic.Local()))).To(Equal(lcp.OutcomeFail))
	})

	It("should reset the loop count once the peer moves on", func() {
		for i := 0; i < 3; i++ {
			Expect(magic.EvaluateRequest(magicOption(magic.Local()))).To(Equal(lcp.OutcomeNak))
		}
		Expect(magic.EvaluateRequest(magicOption(magic.Local() ^ 0xffffffff))).To(Equal(lcp.OutcomeAck))
		Expect(magic.EvaluateRequest(magicOption(magic.Local()))).To(Equal(lcp.OutcomeNak))
	})

	It("should terminate the session through the layer on a loop", func() {
		for i := 0; i < 4; i++ {
			req := []byte{0xc0, 0x21, 0x01, byte(i + 1), 0x00, 0x0a}
			req = append(req, magicOption(magic.Local())...)
			Expect(layer.Receive(req)).To(Succeed())
		}

		Expect(owner.causes).To(Equal([]lcp.TerminateCause{lcp.TerminateCauseUserError}))
	})

	It("should verify the acked value", func() {
		Expect(magic.EvaluateAck(magicOption(magic.Local()))).To(Succeed())
		Expect(errors.Is(magic.EvaluateAck(magicOption(magic.Local()+1)), lcpopt.ErrValueMismatch)).To(BeTrue())
		Expect(errors.Is(magic.EvaluateAck(lcp.RawOption{lcpopt.TypeMagicNumber, 2}), lcpopt.ErrBadLength)).To(BeTrue())
	})

	It("should pick a new magic number when nak'ed", func() {
		old := magic.Local()
		Expect(magic.EvaluateNak(magicOption(0x0a0b0c0d))).To(Succeed())
		Expect(magic.Local()).NotTo(Equal(old))
		Expect(magic.Local()).NotTo(BeZero())
	})

	It("should stop proposing once rejected", func() {
		Expect(magic.EvaluateReject(magicOption(magic.Local()))).To(Succeed())

		b := make([]byte, magic.ProposalLen())
		Expect(magic.Propose(b)).To(Equal(0))
	})

	It("should format values in hex", func() {
		Expect(magic.Format(magicOption(0x0000abcd))).To(Equal("0x0000abcd"))
	})
})
