package totemsrp

import "github.com/virtualsync/totemsrp/totemmemb"

// handleTokenLoss implements spec.md §4.4's universal rule: any
// non-terminal wait for the token that times out transitions to GATHER.
// From OPERATIONAL the current ring state is saved first; from any other
// state the ring state saved when the ring change began is restored.
func (i *Instance) handleTokenLoss() {
	i.metrics.tokenLosses.Inc()
	if i.state == totemmemb.Operational {
		i.oldRingState.ARU = i.myAru
		i.oldRingState.HighSeqReceived = i.myHighSeqReceived
	} else {
		i.restoreSavedRingState()
	}
	i.enterGather()
}

// handleTokenRetransmitTimeout resends the last token this processor
// forwarded, verbatim, when it has not forwarded a newer one within
// token_retransmit_timeout (spec.md §4.3 step 9's retransmit buffer).
func (i *Instance) handleTokenRetransmitTimeout() {
	if i.lastTokenFrame == nil {
		return
	}
	if err := i.transport.SendTo(i.lastTokenDst, i.lastTokenFrame); err != nil {
		i.log.WithError(err).Warn("token retransmit failed")
	}
	i.tokenRetransmit.Arm(i.cfg.TokenRetransmitTimeout)
}

// handleTokenHoldTimeout forwards a token this processor was holding open
// for more outgoing mcasts (spec.md §4.3 step 8), once the hold window
// expires.
func (i *Instance) handleTokenHoldTimeout() {
	if i.heldToken == nil {
		return
	}
	t := i.heldToken
	i.heldToken = nil
	i.forwardToken(t)
}

// handleHeartbeatTimeout fires when no token forward has refreshed the
// heartbeat timer within heartbeat_timeout (spec.md §6); since
// heartbeat_timeout is always strictly less than token_timeout when
// enabled, this is an early warning logged for operators rather than a
// state transition — token_timeout itself remains the authoritative
// failure detector.
func (i *Instance) handleHeartbeatTimeout() {
	i.log.Warn("heartbeat timeout: no token activity observed within heartbeat window")
}
