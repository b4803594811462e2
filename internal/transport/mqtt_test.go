package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oebus/fansync/internal/codec"
)

type stubMessage struct{ payload []byte }

func (m stubMessage) Duplicate() bool   { return false }
func (m stubMessage) Qos() byte         { return 0 }
func (m stubMessage) Retained() bool    { return false }
func (m stubMessage) Topic() string     { return "RAMSES/GATEWAY/18:000730/rx" }
func (m stubMessage) MessageID() uint16 { return 0 }
func (m stubMessage) Payload() []byte   { return m.payload }
func (m stubMessage) Ack()              {}

func replyPayload(t *testing.T) []byte {
	t.Helper()
	value := 0.15
	payload, err := json.Marshal(codec.Frame{
		Verb:    codec.VerbReply,
		Src:     "32:153289",
		Code:    codec.CodeFanParam,
		ParamID: "4E",
		Value:   &value,
	})
	require.NoError(t, err)
	return payload
}

func TestHandleRXDeliversDecodedUpdate(t *testing.T) {
	tr := &MQTTTransport{updates: make(chan codec.ParamUpdate, 1)}

	tr.handleRX(nil, stubMessage{payload: replyPayload(t)})

	require.Len(t, tr.updates, 1)
	upd := <-tr.updates
	assert.Equal(t, "32:153289", upd.DeviceID)
	assert.Equal(t, "4E", upd.ParamID)
	assert.Equal(t, 0.15, upd.Value)
}

func TestHandleRXDropsWhenConsumerGone(t *testing.T) {
	// A handler invocation can outlive the disconnect grace period during
	// shutdown. With the buffer full and nobody reading, the frame must be
	// dropped, never sent on a closed channel.
	tr := &MQTTTransport{updates: make(chan codec.ParamUpdate, 1)}
	msg := stubMessage{payload: replyPayload(t)}

	tr.handleRX(nil, msg)
	assert.NotPanics(t, func() { tr.handleRX(nil, msg) })
	assert.Len(t, tr.updates, 1)
}

func TestHandleRXIgnoresUndecodableTraffic(t *testing.T) {
	tr := &MQTTTransport{updates: make(chan codec.ParamUpdate, 1)}

	assert.NotPanics(t, func() {
		tr.handleRX(nil, stubMessage{payload: []byte("not a frame")})
	})
	assert.Empty(t, tr.updates)
}
