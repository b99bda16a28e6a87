package lcpopt_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/codelaboratoryltd/lcpd/pkg/lcp"
	"github.com/codelaboratoryltd/lcpd/pkg/lcpopt"
)

var _ = Describe("Compression Flags", func() {
	var (
		layer   *lcp.Layer
		channel *nopChannel
	)

	BeforeEach(func() {
		cfg := lcpopt.DefaultConfig()
		cfg.Magic = false
		cfg.PFC = true
		cfg.ACFC = true
		layer, channel, _ = startLayer(cfg)
	})

	flag := func(typ uint8) *lcpopt.Flag {
		opt, ok := layer.Option(typ)
		Expect(ok).To(BeTrue())
		return opt.(*lcpopt.Flag)
	}

	It("should propose both flags when enabled", func() {
		Expect(channel.sent).To(HaveLen(1))
		Expect(channel.sent[0]).To(Equal([]byte{
			0xc0, 0x21, 0x01, 0x01, 0x00, 0x0c,
			0x01, 0x04, 0x05, 0xd4,
			0x07, 0x02,
			0x08, 0x02,
		}))
	})

	It("should accept the peer's flags", func() {
		req := []byte{0xc0, 0x21, 0x01, 0x03, 0x00, 0x08, 0x07, 0x02, 0x08, 0x02}
		Expect(layer.Receive(req)).To(Succeed())

		Expect(flag(lcpopt.TypePFC).Peer()).To(BeTrue())
		Expect(flag(lcpopt.TypeACFC).Peer()).To(BeTrue())
		Expect(channel.sent[len(channel.sent)-1]).To(Equal([]byte{
			0xc0, 0x21, 0x02, 0x03, 0x00, 0x08, 0x07, 0x02, 0x08, 0x02,
		}))
	})

	It("should reject a flag carrying a value", func() {
		pfc := flag(lcpopt.TypePFC)
		Expect(pfc.EvaluateRequest(lcp.RawOption{lcpopt.TypePFC, 3, 0x01})).To(Equal(lcp.OutcomeReject))
		Expect(pfc.Peer()).To(BeFalse())
	})

	It("should never suggest a value", func() {
		b := make([]byte, 8)
		Expect(flag(lcpopt.TypeACFC).Nak(b)).To(Equal(0))
	})

	It("should stop proposing a flag once rejected", func() {
		acfc := flag(lcpopt.TypeACFC)
		Expect(acfc.Local()).To(BeTrue())

		rej := []byte{0xc0, 0x21, 0x04, 0x01, 0x00, 0x06, 0x08, 0x02}
		Expect(layer.Receive(rej)).To(Succeed())

		Expect(acfc.Local()).To(BeFalse())
		b := make([]byte, acfc.ProposalLen())
		Expect(acfc.Propose(b)).To(Equal(0))
	})

	It("should have no value to format", func() {
		Expect(flag(lcpopt.TypePFC).Format(lcp.RawOption{lcpopt.TypePFC, 2})).To(BeEmpty())
	})
})
