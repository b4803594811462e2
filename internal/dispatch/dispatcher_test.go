package dispatch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/oebus/fansync/internal/dispatch"
	"github.com/oebus/fansync/internal/model"
)

func testRecord(paramID string, value float64) model.ParamRecord {
	return model.ParamRecord{
		ParamID:     paramID,
		RawValue:    value,
		Supported:   true,
		LastUpdated: time.Now(),
	}
}

func TestPublishReachesEverySubscriberOnce(t *testing.T) {
	d := dispatch.New()
	var first, second int
	d.Subscribe("32:153289", "4E", func(deviceID string, rec model.ParamRecord) { first++ })
	d.Subscribe("32:153289", "4E", func(deviceID string, rec model.ParamRecord) { second++ })

	d.Publish("32:153289", testRecord("4E", 0.15))

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestPublishIgnoresOtherPairs(t *testing.T) {
	d := dispatch.New()
	var otherParam, otherDevice int
	d.Subscribe("32:153289", "75", func(deviceID string, rec model.ParamRecord) { otherParam++ })
	d.Subscribe("29:123456", "4E", func(deviceID string, rec model.ParamRecord) { otherDevice++ })

	d.Publish("32:153289", testRecord("4E", 0.15))

	assert.Zero(t, otherParam)
	assert.Zero(t, otherDevice)
}

func TestLateSubscriberMissesEarlierEvent(t *testing.T) {
	d := dispatch.New()

	d.Publish("32:153289", testRecord("4E", 0.15))

	var calls int
	d.Subscribe("32:153289", "4E", func(deviceID string, rec model.ParamRecord) { calls++ })
	assert.Zero(t, calls, "events are not buffered for later subscribers")

	d.Publish("32:153289", testRecord("4E", 0.30))
	assert.Equal(t, 1, calls)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := dispatch.New()
	var calls int
	sub := d.Subscribe("32:153289", "4E", func(deviceID string, rec model.ParamRecord) { calls++ })

	d.Publish("32:153289", testRecord("4E", 0.15))
	d.Unsubscribe(sub)
	d.Publish("32:153289", testRecord("4E", 0.30))

	assert.Equal(t, 1, calls)
	assert.Zero(t, d.SubscriberCount("32:153289", "4E"))
}

func TestPanickingCallbackDoesNotStarveOthers(t *testing.T) {
	d := dispatch.New()
	var survived int
	d.Subscribe("32:153289", "4E", func(deviceID string, rec model.ParamRecord) {
		panic("observer bug")
	})
	d.Subscribe("32:153289", "4E", func(deviceID string, rec model.ParamRecord) { survived++ })

	assert.NotPanics(t, func() {
		d.Publish("32:153289", testRecord("4E", 0.15))
	})
	assert.Equal(t, 1, survived)
}

func TestSubscriberCount(t *testing.T) {
	d := dispatch.New()
	assert.Zero(t, d.SubscriberCount("32:153289", "4E"))

	sub := d.Subscribe("32:153289", "4E", func(deviceID string, rec model.ParamRecord) {})
	d.Subscribe("32:153289", "4E", func(deviceID string, rec model.ParamRecord) {})
	assert.Equal(t, 2, d.SubscriberCount("32:153289", "4E"))

	d.Unsubscribe(sub)
	assert.Equal(t, 1, d.SubscriberCount("32:153289", "4E"))
}
