package messaging

import (
	"time"

	"github.com/vortexdb/vortex/errors"
	log "github.com/vortexdb/vortex/logger"
)

// Retransmission parameters for streaming verbs. SendRequestRetry sleeps
// between attempts, not after the last one, so a stream plan gives up
// retrying after at most 10*600 + 9*30 seconds (1 hour 44.5 minutes) and at
// least 9*30 seconds (4.5 minutes).
const (
	StreamingNrRetry         = 10
	StreamingTimeout         = 600 * time.Second
	StreamingWaitBeforeRetry = 30 * time.Second
)

func encodePayload(codec Codec, payload interface{}) ([]byte, error) {
	if codec == nil || payload == nil {
		return nil, nil
	}
	return codec.Encode(payload, nil)
}

// completeSend settles the common post-send contract: any failure increments
// the dropped counter for verb, and a transport closure additionally evicts
// the connection so the next send rebuilds it. All errors propagate
// unchanged.
func (m *MessagingService) completeSend(verb Verb, id PeerID, err error) error {
	if err == nil {
		return nil
	}
	m.IncrementDropped(verb)
	if errors.IsUnavailableError(err) {
		m.removeErrorClient(verb, id)
	}
	return err
}

// SendOneway sends a fire-and-forget message: it completes as soon as the
// payload has been handed to the transport, not when the peer processes it.
func (m *MessagingService) SendOneway(verb Verb, id PeerID, payload interface{}, codec Codec) error {
	if m.isStopping() {
		return errors.New(errors.Stopping, "messaging service is stopping")
	}
	conn, err := m.getClient(verb, id)
	if err != nil {
		return m.completeSend(verb, id, err)
	}
	buff, err := encodePayload(codec, payload)
	if err != nil {
		return m.completeSend(verb, id, err)
	}
	_, _, err = conn.queueRequest(verb, buff, false)
	return m.completeSend(verb, id, err)
}

// SendRequest sends payload to id and blocks until the typed response
// arrives or the connection fails.
func (m *MessagingService) SendRequest(verb Verb, id PeerID, payload interface{}, reqCodec Codec,
	respCodec Codec) (interface{}, error) {
	return m.sendRequest(verb, id, payload, reqCodec, respCodec, 0)
}

// SendRequestTimeout is SendRequest with a deadline: the call fails with a
// timeout error if the peer has not replied within timeout of the request
// being handed to the transport. Timeouts are never retried by the service.
func (m *MessagingService) SendRequestTimeout(verb Verb, id PeerID, timeout time.Duration, payload interface{},
	reqCodec Codec, respCodec Codec) (interface{}, error) {
	return m.sendRequest(verb, id, payload, reqCodec, respCodec, timeout)
}

func (m *MessagingService) sendRequest(verb Verb, id PeerID, payload interface{}, reqCodec Codec,
	respCodec Codec, timeout time.Duration) (interface{}, error) {
	if m.isStopping() {
		return nil, errors.New(errors.Stopping, "messaging service is stopping")
	}
	conn, err := m.getClient(verb, id)
	if err != nil {
		return nil, m.completeSend(verb, id, err)
	}
	buff, err := encodePayload(reqCodec, payload)
	if err != nil {
		return nil, m.completeSend(verb, id, err)
	}
	ch, seq, err := conn.queueRequest(verb, buff, true)
	if err != nil {
		return nil, m.completeSend(verb, id, err)
	}
	var holder respHolder
	if timeout == 0 {
		holder = <-ch
	} else {
		// The deadline runs from the moment the request is handed to the transport
		tmr := time.NewTimer(timeout)
		select {
		case holder = <-ch:
			tmr.Stop()
		case <-tmr.C:
			conn.cancelRequest(seq)
			return nil, m.completeSend(verb, id,
				errors.Newf(errors.Timeout, "request for verb %s to %s timed out after %s", verb, id, timeout))
		}
	}
	if holder.err != nil {
		return nil, m.completeSend(verb, id, holder.err)
	}
	if respCodec == nil {
		return nil, nil
	}
	decoded, err := respCodec.Decode(holder.payload)
	if err != nil {
		return nil, m.completeSend(verb, id, err)
	}
	return decoded, nil
}

// SendRequestRetry repeats SendRequestTimeout attempts when the transport
// closed underneath the request. Retrying stops when the attempt budget is
// exhausted, the service is stopping, or gossip no longer knows the peer.
// Timeouts and remote handler errors are not retried.
func (m *MessagingService) SendRequestRetry(verb Verb, id PeerID, timeout time.Duration, nrRetry int,
	waitBetween time.Duration, payload interface{}, reqCodec Codec, respCodec Codec) (interface{}, error) {
	retry := nrRetry
	for {
		resp, err := m.SendRequestTimeout(verb, id, timeout, payload, reqCodec, respCodec)
		if err == nil {
			if retry != nrRetry {
				log.Infof("retry verb=%s to %s, retry=%d: OK", verb, id, retry)
			}
			return resp, nil
		}
		if errors.IsTimeoutError(err) {
			log.Infof("retry verb=%s to %s, retry=%d: timeout in %s", verb, id, retry, timeout)
			return nil, err
		}
		if !errors.IsUnavailableError(err) {
			return nil, err
		}
		log.Infof("retry verb=%s to %s, retry=%d: %v", verb, id, retry, err)
		retry--
		if retry == 0 {
			log.Debugf("retry verb=%s to %s, retry=%d: stop retrying: retry == 0", verb, id, retry)
			return nil, err
		}
		if m.isStopping() {
			log.Debugf("retry verb=%s to %s, retry=%d: stop retrying: messaging service is stopped", verb, id, retry)
			return nil, err
		}
		if m.gossip != nil && !m.gossip.IsKnownEndpoint(id.Addr) {
			log.Debugf("retry verb=%s to %s, retry=%d: stop retrying: node is removed from the cluster", verb, id, retry)
			return nil, err
		}
		if err := m.sleepAbortable(waitBetween); err != nil {
			log.Debugf("retry verb=%s to %s, retry=%d: stop retrying: %v", verb, id, retry, err)
			return nil, err
		}
	}
}

// sleepAbortable sleeps for d unless the service starts stopping first, in
// which case it returns the abort cause.
func (m *MessagingService) sleepAbortable(d time.Duration) error {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-tmr.C:
		return nil
	case <-m.stopChan:
		return errors.New(errors.Aborted, "sleep aborted: messaging service is stopping")
	}
}
