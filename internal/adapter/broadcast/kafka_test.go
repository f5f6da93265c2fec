package broadcast

import (
	"testing"
	"time"

	"github.com/KhaiMinhVo/rainvision-backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeToMessage(t *testing.T) {
	now := time.Date(2026, 6, 12, 14, 5, 0, 0, time.UTC)
	alert := domain.RainAlert{
		CameraID:     "CAM-1",
		CameraName:   "Nguyen Hue - Le Loi",
		DistrictName: "District 1",
		Confidence:   0.88,
		Timestamp:    now,
	}

	msg, err := serializeToMessage("dashboard", "rain.alert", alert, now)
	require.NoError(t, err)

	assert.Equal(t, []byte("dashboard"), msg.Key)
	assert.Contains(t, string(msg.Value), `"camera_id":"CAM-1"`)
	assert.Contains(t, string(msg.Value), `"event":"rain.alert"`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "group", msg.Headers[0].Key)
	assert.Equal(t, []byte("dashboard"), msg.Headers[0].Value)
	assert.Equal(t, "event", msg.Headers[1].Key)
	assert.Equal(t, []byte("rain.alert"), msg.Headers[1].Value)
}

func TestSerializeToMessage_UnmarshalablePayload(t *testing.T) {
	_, err := serializeToMessage("dashboard", "rain.alert", make(chan int), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serialize broadcast event")
}
