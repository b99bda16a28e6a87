package lcp

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// receivedOption is one TLV of the configure-request being processed
type receivedOption struct {
	raw     RawOption
	inst    int // index into the option set, -1 when nothing matched
	outcome Outcome
}

// round is the state of one configure-request until its response is sent
type round struct {
	frame []byte // inbound frame, trimmed to header plus options
	id    uint8
	opts  []receivedOption
}

// SendConfigureRequest proposes every option that has something to propose
// under a fresh identifier.
func (l *Layer) SendConfigureRequest() error {
	if l.freed {
		return ErrLayerFreed
	}

	buf := make([]byte, HeaderLen+l.options.proposalLen())
	l.seq++
	l.reqID = l.seq

	n := HeaderLen
	var proposed []string
	for _, it := range l.options.items {
		w := it.opt.Propose(buf[n:])
		if w == 0 {
			continue
		}
		proposed = append(proposed, it.format(RawOption(buf[n:n+w])))
		n += w
	}

	Header{Protocol: ProtocolLCP, Code: CodeConfigRequest, Identifier: l.reqID}.Encode(buf)
	finalize(buf, n)

	l.logger.Debug("send [LCP ConfReq]",
		zap.Uint8("identifier", l.reqID),
		zap.Strings("options", proposed),
	)

	return l.send(CodeConfigRequest, buf[:n])
}

// SendConfigureAck echoes the configure-request being processed with only
// the code changed.
func (l *Layer) SendConfigureAck() error {
	r := l.round
	if r == nil {
		return ErrNoRound
	}

	buf := make([]byte, len(r.frame))
	copy(buf, r.frame)
	buf[2] = uint8(CodeConfigAck)
	finalize(buf, len(buf))

	l.logger.Debug("send [LCP ConfAck]", zap.Uint8("identifier", r.id))

	return l.send(CodeConfigAck, buf)
}

// SendConfigureNak suggests alternative values for every option that was
// nak'ed, in option-set order.
func (l *Layer) SendConfigureNak() error {
	r := l.round
	if r == nil {
		return ErrNoRound
	}

	buf := make([]byte, HeaderLen+l.options.proposalLen())
	n := HeaderLen
	var naked []string
	for _, it := range l.options.items {
		if it.outcome != OutcomeNak {
			continue
		}
		w := it.opt.Nak(buf[n:])
		naked = append(naked, it.format(RawOption(buf[n:n+w])))
		n += w
	}

	Header{Protocol: ProtocolLCP, Code: CodeConfigNak, Identifier: r.id}.Encode(buf)
	finalize(buf, n)

	l.logger.Debug("send [LCP ConfNak]",
		zap.Uint8("identifier", r.id),
		zap.Strings("options", naked),
	)

	return l.send(CodeConfigNak, buf[:n])
}

// SendConfigureReject returns every rejected option byte for byte, in the
// order the peer sent them.
func (l *Layer) SendConfigureReject() error {
	r := l.round
	if r == nil {
		return ErrNoRound
	}

	buf := make([]byte, HeaderLen, len(r.frame))
	var rejected []string
	for _, ro := range r.opts {
		if ro.outcome != OutcomeReject {
			continue
		}
		if ro.inst >= 0 {
			rejected = append(rejected, l.options.items[ro.inst].format(ro.raw))
		} else {
			rejected = append(rejected, fmt.Sprintf("<% x>", []byte(ro.raw)))
		}
		buf = append(buf, ro.raw...)
	}

	Header{Protocol: ProtocolLCP, Code: CodeConfigReject, Identifier: r.id}.Encode(buf)
	finalize(buf, len(buf))

	l.logger.Debug("send [LCP ConfRej]",
		zap.Uint8("identifier", r.id),
		zap.Strings("options", rejected),
	)

	return l.send(CodeConfigReject, buf)
}

// receiveConfigureRequest classifies the peer's options, lets the FSM send
// the matching response and reports a fatal verdict to the owner.
func (l *Layer) receiveConfigureRequest(hdr Header, frame []byte) {
	verdict := l.evaluateRequest(hdr, frame)
	l.recorder.RecordRound(verdict)

	switch verdict {
	case OutcomeAck:
		l.fsm.RecvConfReqAck()
	case OutcomeNak:
		l.fsm.RecvConfReqNak()
	case OutcomeReject:
		l.fsm.RecvConfReqRej()
	}

	l.round = nil

	if verdict == OutcomeFail {
		l.logger.Warn("LCP negotiation failed", zap.Uint8("identifier", hdr.Identifier))
		l.owner.Terminate(TerminateCauseUserError)
	}
}

// evaluateRequest builds the round for a configure-request and returns the
// worst outcome across its options.
func (l *Layer) evaluateRequest(hdr Header, frame []byte) Outcome {
	payload := frame[HeaderLen:]
	raws := DecodeOptions(payload, hdr.DataLen())

	end := HeaderLen + min(hdr.DataLen(), len(payload))
	r := &round{
		frame: frame[:end],
		id:    hdr.Identifier,
		opts:  make([]receivedOption, len(raws)),
	}
	l.round = r

	l.options.resetOutcomes()

	verdict := OutcomeAck
	seen := make([]string, 0, len(raws))
	for i, raw := range raws {
		ro := &r.opts[i]
		ro.raw = raw
		ro.inst = l.options.match(raw.Type())

		if ro.inst < 0 {
			seen = append(seen, fmt.Sprintf("<% x>", []byte(raw)))
			ro.outcome = OutcomeReject
		} else {
			it := l.options.items[ro.inst]
			seen = append(seen, it.format(raw))
			ro.outcome = it.opt.EvaluateRequest(raw)
			it.outcome = ro.outcome
		}
		verdict = Worse(verdict, ro.outcome)
	}

	l.logger.Debug("recv [LCP ConfReq]",
		zap.Uint8("identifier", hdr.Identifier),
		zap.Strings("options", seen),
		zap.Stringer("verdict", verdict),
	)

	return verdict
}

// stale reports whether a response does not answer our last configure-request
func (l *Layer) stale(hdr Header) bool {
	if hdr.Identifier == l.reqID {
		return false
	}
	l.logger.Debug("LCP response with unexpected identifier",
		zap.Stringer("code", hdr.Code),
		zap.Uint8("expected", l.reqID),
		zap.Uint8("received", hdr.Identifier),
	)
	l.recorder.RecordStale(hdr.Code)
	return true
}

// walkResponse hands each option of a configure-ack/nak/reject to the
// first matching instance and joins the errors it returns.
func (l *Layer) walkResponse(hdr Header, frame []byte, eval func(it *instance, raw RawOption) error) error {
	var errs []error
	var seen []string
	for _, raw := range DecodeOptions(frame[HeaderLen:], hdr.DataLen()) {
		i := l.options.match(raw.Type())
		if i < 0 {
			seen = append(seen, fmt.Sprintf("<% x>", []byte(raw)))
			continue
		}
		it := l.options.items[i]
		seen = append(seen, it.format(raw))
		if err := eval(it, raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", it.desc.Name(), err))
		}
	}

	l.logger.Debug("recv [LCP "+hdr.Code.String()+"]",
		zap.Uint8("identifier", hdr.Identifier),
		zap.Strings("options", seen),
	)

	return errors.Join(errs...)
}

func (l *Layer) receiveConfigureAck(hdr Header, frame []byte) {
	if l.stale(hdr) {
		return
	}

	err := l.walkResponse(hdr, frame, func(it *instance, raw RawOption) error {
		ev, ok := it.opt.(AckEvaluator)
		if !ok {
			return nil
		}
		return ev.EvaluateAck(raw)
	})
	if err != nil {
		l.logger.Warn("LCP Configure-Ack not acceptable", zap.Error(err))
		l.owner.Terminate(TerminateCauseUserError)
		return
	}

	l.fsm.RecvConfAck()
}

func (l *Layer) receiveConfigureNak(hdr Header, frame []byte) {
	if l.stale(hdr) {
		return
	}

	err := l.walkResponse(hdr, frame, func(it *instance, raw RawOption) error {
		ev, ok := it.opt.(NakEvaluator)
		if !ok {
			return nil
		}
		return ev.EvaluateNak(raw)
	})
	if err != nil {
		// The FSM resends the request with whatever the options now propose
		l.logger.Warn("LCP Configure-Nak not fully applied", zap.Error(err))
	}

	l.fsm.RecvConfNak()
}

func (l *Layer) receiveConfigureReject(hdr Header, frame []byte) {
	if l.stale(hdr) {
		return
	}

	err := l.walkResponse(hdr, frame, func(it *instance, raw RawOption) error {
		ev, ok := it.opt.(RejectEvaluator)
		if !ok {
			return ErrRejectRequired
		}
		return ev.EvaluateReject(raw)
	})
	if err != nil {
		l.logger.Warn("LCP Configure-Reject of required option", zap.Error(err))
		l.owner.Terminate(TerminateCauseServiceUnavail)
		return
	}

	l.fsm.RecvConfRej()
}
