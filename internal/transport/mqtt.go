package transport

import (
	"fmt"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/oebus/fansync/internal/codec"
	"github.com/oebus/fansync/internal/datadog"
)

// Notifier pushes operator-facing alerts (link loss, recovery).
type Notifier interface {
	Send(title, message string) error
}

// MQTTTransport bridges parameter commands to a ramses_esp-style gateway
// over MQTT. Outbound frames go to {prefix}/{gateway}/tx; the gateway streams
// inbound RF traffic on {prefix}/{gateway}/rx. Everything is QoS 0: the radio
// gives no delivery guarantee, so the bridge does not pretend to either.
type MQTTTransport struct {
	cli         mqtt.Client
	topicPrefix string
	gatewayID   string
	updates     chan codec.ParamUpdate
	notifier    Notifier
}

func NewMQTT(brokerURL, topicPrefix, gatewayID string, notifier Notifier) (*MQTTTransport, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker url: %w", err)
	}

	t := &MQTTTransport{
		topicPrefix: topicPrefix,
		gatewayID:   gatewayID,
		updates:     make(chan codec.ParamUpdate, 64),
		notifier:    notifier,
	}

	opts := mqtt.NewClientOptions()
	server := u.Host
	switch u.Scheme {
	case "mqtt", "tcp":
		server = "tcp://" + server
	case "ssl", "tls":
		server = "ssl://" + server
	case "ws", "wss":
		server = u.Scheme + "://" + server + u.Path
	}
	opts.AddBroker(server)
	opts.SetClientID("fansync-" + time.Now().Format("150405.000"))
	opts.SetAutoReconnect(true)
	if u.User != nil {
		pw, _ := u.User.Password()
		opts.SetUsername(u.User.Username())
		opts.SetPassword(pw)
	}
	opts.OnConnect = func(c mqtt.Client) {
		log.Info().Str("broker", server).Msg("MQTT connected")
		t.subscribeRX()
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		log.Error().Err(err).Msg("MQTT connection lost")
		datadog.Count("transport.connection_lost", 1)
		if t.notifier != nil {
			if nerr := t.notifier.Send("fansync link down", err.Error()); nerr != nil {
				log.Warn().Err(nerr).Msg("Failed to send link-down notification")
			}
		}
	}

	t.cli = mqtt.NewClient(opts)
	if tok := t.cli.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", tok.Error())
	}
	return t, nil
}

// Updates is the append-only device log: every decodable parameter value the
// gateway hears, in arrival order. The sequence does not restart; missed
// messages are simply absent.
func (t *MQTTTransport) Updates() <-chan codec.ParamUpdate {
	return t.updates
}

func (t *MQTTTransport) subscribeRX() {
	topic := fmt.Sprintf("%s/%s/rx", t.topicPrefix, t.gatewayID)
	tok := t.cli.Subscribe(topic, 0, t.handleRX)
	if tok.Wait() && tok.Error() != nil {
		log.Error().Err(tok.Error()).Str("topic", topic).Msg("Failed to subscribe to gateway rx")
		return
	}
	log.Info().Str("topic", topic).Msg("Subscribed to gateway rx")
}

func (t *MQTTTransport) handleRX(_ mqtt.Client, msg mqtt.Message) {
	update, err := codec.DecodeUpdate(msg.Payload())
	if err != nil {
		// Malformed or unrelated traffic is dropped at this boundary.
		log.Debug().Err(err).Msg("Dropping undecodable frame")
		return
	}
	select {
	case t.updates <- update:
	default:
		log.Warn().
			Str("device_id", update.DeviceID).
			Str("param_id", update.ParamID).
			Msg("Device log buffer full, dropping update")
		datadog.Count("transport.rx_dropped", 1)
	}
}

func (t *MQTTTransport) SendRead(deviceID, paramID, fromID string) error {
	payload, err := codec.EncodeRead(deviceID, paramID, fromID)
	if err != nil {
		return &SendError{Op: "read", DeviceID: deviceID, Err: err}
	}
	return t.publish("read", deviceID, payload)
}

func (t *MQTTTransport) SendWrite(deviceID, paramID string, value float64, fromID string) error {
	payload, err := codec.EncodeWrite(deviceID, paramID, value, fromID)
	if err != nil {
		return &SendError{Op: "write", DeviceID: deviceID, Err: err}
	}
	return t.publish("write", deviceID, payload)
}

func (t *MQTTTransport) publish(op, deviceID string, payload []byte) error {
	topic := fmt.Sprintf("%s/%s/tx", t.topicPrefix, t.gatewayID)
	tok := t.cli.Publish(topic, 0, false, payload)
	if tok.Wait() && tok.Error() != nil {
		datadog.Count("transport.send_failures", 1, "op:"+op)
		return &SendError{Op: op, DeviceID: deviceID, Err: tok.Error()}
	}
	datadog.Count("transport.sends", 1, "op:"+op)
	return nil
}

// Close disconnects from the broker. The updates channel is left open: a
// handler invocation still in flight past the disconnect grace period would
// panic sending on a closed channel. Consumers stop via their context.
func (t *MQTTTransport) Close() {
	t.cli.Disconnect(250)
}
