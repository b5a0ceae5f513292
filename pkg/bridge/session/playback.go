package session

import "github.com/voicebridge-ai/voicebridge/pkg/bridge/protocol"

// playbackTracker holds the per-call audio timing state used to compute
// truncation offsets during barge-in. It is owned exclusively by the
// session's event loop, so it carries no lock: every mutation happens on
// the single goroutine that serializes both legs' inbound events.
type playbackTracker struct {
	latestInboundMS  int64
	playbackStartMS  int64
	playbackStartSet bool
	lastItemID       string
	ackQueue         []string
}

// onInboundAudio records the latest telephony frame timestamp. Telephony
// timestamps are advisory; a regression is stored anyway and reported so
// the caller can log it.
func (p *playbackTracker) onInboundAudio(timestampMS int64) (regressed bool) {
	regressed = timestampMS < p.latestInboundMS
	p.latestInboundMS = timestampMS
	return regressed
}

// onStreamStart resets the inbound clock for a new stream segment.
func (p *playbackTracker) onStreamStart() {
	p.latestInboundMS = 0
	p.playbackStartMS = 0
	p.playbackStartSet = false
}

// onPlaybackDelta anchors the truncation clock on the first audio chunk of
// a response, remembers the spoken item, and queues one ack token. The
// caller emits the matching outbound mark event.
func (p *playbackTracker) onPlaybackDelta(itemID string) {
	if !p.playbackStartSet {
		p.playbackStartMS = p.latestInboundMS
		p.playbackStartSet = true
	}
	if itemID != "" {
		p.lastItemID = itemID
	}
	p.ackQueue = append(p.ackQueue, protocol.MarkName)
}

// onAck pops the oldest pending token. Stray or duplicate acknowledgments
// are a no-op, never an error.
func (p *playbackTracker) onAck() {
	if len(p.ackQueue) > 0 {
		p.ackQueue = p.ackQueue[1:]
	}
}

// cutForInterrupt implements the barge-in decision. When no playback is in
// flight it reports inFlight=false and changes nothing. Otherwise it
// returns the item to truncate (possibly empty) and the elapsed playback
// offset, clamped at zero, and resets all playback state: the ack queue,
// the spoken item, and the start anchor.
func (p *playbackTracker) cutForInterrupt() (itemID string, elapsedMS int64, inFlight bool) {
	if len(p.ackQueue) == 0 || !p.playbackStartSet {
		return "", 0, false
	}
	elapsedMS = p.latestInboundMS - p.playbackStartMS
	if elapsedMS < 0 {
		elapsedMS = 0
	}
	itemID = p.lastItemID

	p.ackQueue = nil
	p.lastItemID = ""
	p.playbackStartMS = 0
	p.playbackStartSet = false
	return itemID, elapsedMS, true
}

func (p *playbackTracker) pendingAcks() int {
	return len(p.ackQueue)
}
