package protocol

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glucolink/glucolink-go/pkg/crypto"
	"github.com/glucolink/glucolink-go/pkg/log"
	"github.com/glucolink/glucolink-go/pkg/model"
	"github.com/glucolink/glucolink-go/pkg/wire"
)

// eventSink captures protocol events for inspection.
type eventSink struct {
	mu     sync.Mutex
	events []log.Event
}

func (s *eventSink) Log(e log.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) snapshot() []log.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]log.Event(nil), s.events...)
}

// frameRecorder captures outbound frames for inspection.
type frameRecorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *frameRecorder) send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), data...))
	return nil
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *frameRecorder) frame(i int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[i]
}

func newTestGen3(t *testing.T) (*Gen3Engine, *frameRecorder) {
	t.Helper()

	engine, err := NewGen3Engine()
	require.NoError(t, err)

	rec := &frameRecorder{}
	engine.SetSender(rec.send)
	return engine, rec
}

// authenticate drives the engine through the sensor-initiated handshake
// and returns the session key the sensor side would derive.
func authenticate(t *testing.T, engine *Gen3Engine, rec *frameRecorder) []byte {
	t.Helper()

	before := rec.count()

	require.NoError(t, engine.StartAuthentication())
	require.Equal(t, StateAuthenticating, engine.State())

	sensorRandom := []byte{0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17}
	challenge := make([]byte, 16)
	copy(challenge, sensorRandom)

	frame, err := wire.EncodeMessage(wire.MsgChallenge, 1, challenge)
	require.NoError(t, err)
	engine.HandleBytes(frame)

	require.Equal(t, before+1, rec.count(), "challenge should produce exactly one auth response")
	response := rec.frame(before)
	require.Equal(t, byte(wire.MsgAuthResponse), response[0])
	payload := response[wire.HeaderSize:]
	require.Len(t, payload, 2*crypto.RandomSize)

	deviceInfo := payload[:crypto.RandomSize]
	sessionKey := crypto.DeriveSessionKey(deviceInfo, sensorRandom)

	success, err := wire.EncodeMessage(wire.MsgAuthSuccess, 2, nil)
	require.NoError(t, err)
	engine.HandleBytes(success)

	return sessionKey
}

// gen3Record builds one 10-byte glucose record.
func gen3Record(raw uint16, flags uint16, secs uint32, temp uint16) []byte {
	rec := make([]byte, wire.Gen3RecordSize)
	binary.LittleEndian.PutUint16(rec[0:2], raw)
	binary.LittleEndian.PutUint16(rec[2:4], flags)
	binary.LittleEndian.PutUint32(rec[4:8], secs)
	binary.LittleEndian.PutUint16(rec[8:10], temp)
	return rec
}

// glucoseFrame encrypts records with the session key and frames them.
func glucoseFrame(t *testing.T, records []byte, sessionKey []byte, seq byte) []byte {
	t.Helper()

	trailer := make([]byte, 2)
	binary.LittleEndian.PutUint16(trailer, crypto.CRC16(records))
	plain := append(append([]byte(nil), records...), trailer...)

	ciphertext, err := crypto.EncryptGen3(plain, sessionKey)
	require.NoError(t, err)

	frame, err := wire.EncodeMessage(wire.MsgGlucoseData, seq, ciphertext)
	require.NoError(t, err)
	return frame
}

func TestGen3Authentication(t *testing.T) {
	engine, rec := newTestGen3(t)

	var authResult *bool
	engine.OnAuthenticationComplete(func(success bool) {
		authResult = &success
	})

	require.NoError(t, engine.StartAuthentication())
	assert.Equal(t, StateAuthenticating, engine.State())

	// Sensor challenge with the random in the first 8 payload bytes.
	challenge := make([]byte, 16)
	copy(challenge, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	frame, err := wire.EncodeMessage(wire.MsgChallenge, 1, challenge)
	require.NoError(t, err)
	engine.HandleBytes(frame)

	require.Equal(t, 1, rec.count())
	response := rec.frame(0)
	assert.Equal(t, byte(wire.MsgAuthResponse), response[0])
	assert.Len(t, response[wire.HeaderSize:], 16, "auth response carries device info + device random")
	assert.Equal(t, StateAuthenticating, engine.State(), "handshake not complete until auth success")
	assert.Nil(t, authResult)

	success, err := wire.EncodeMessage(wire.MsgAuthSuccess, 2, nil)
	require.NoError(t, err)
	engine.HandleBytes(success)

	require.NotNil(t, authResult)
	assert.True(t, *authResult)
	assert.Equal(t, StateReading, engine.State(), "glucose streams without an outbound request")
	assert.Equal(t, 1, rec.count(), "auth success triggers no outbound command")
}

func TestGen3AuthenticationRequiresSender(t *testing.T) {
	engine, err := NewGen3Engine()
	require.NoError(t, err)

	assert.ErrorIs(t, engine.StartAuthentication(), ErrNoSender)
}

func TestGen3InvalidStateTransitions(t *testing.T) {
	engine, _ := newTestGen3(t)

	assert.ErrorIs(t, engine.RequestGlucoseData(), ErrInvalidState)

	require.NoError(t, engine.StartAuthentication())
	assert.ErrorIs(t, engine.StartAuthentication(), ErrInvalidState)
}

func TestGen3ChallengeTooShort(t *testing.T) {
	engine, rec := newTestGen3(t)
	require.NoError(t, engine.StartAuthentication())

	frame, err := wire.EncodeMessage(wire.MsgChallenge, 1, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	engine.HandleBytes(frame)

	assert.Equal(t, 0, rec.count(), "malformed challenge is dropped")
	assert.Equal(t, StateAuthenticating, engine.State())
}

func TestGen3GlucoseStream(t *testing.T) {
	engine, rec := newTestGen3(t)

	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	engine.Initialize(&model.SensorInfo{
		SerialNumber: "3SN0012345",
		StartTime:    start,
		ExpiryTime:   start.Add(10 * 24 * time.Hour),
		Generation:   model.Gen3,
	})

	var batches [][]model.GlucoseReading
	engine.OnGlucoseData(func(readings []model.GlucoseReading) {
		batches = append(batches, readings)
	})

	sessionKey := authenticate(t, engine, rec)

	records := append(
		gen3Record(1200, 0, 600, 3650),
		gen3Record(850, 0x4000, 900, 0)...,
	)
	engine.HandleBytes(glucoseFrame(t, records, sessionKey, 3))

	require.Len(t, batches, 1)
	readings := batches[0]
	require.Len(t, readings, 2)

	assert.InDelta(t, 120.0, readings[0].GlucoseMgDl, 1e-9)
	assert.Equal(t, start.Add(600*time.Second), readings[0].Timestamp)
	assert.Equal(t, model.QualityGood, readings[0].Quality)
	require.NotNil(t, readings[0].TemperatureC)
	assert.InDelta(t, 36.5, *readings[0].TemperatureC, 1e-9)

	assert.InDelta(t, 85.0, readings[1].GlucoseMgDl, 1e-9)
	assert.Equal(t, model.QualityDegraded, readings[1].Quality)
	assert.Nil(t, readings[1].TemperatureC)
}

func TestGen3GlucoseChecksumMismatch(t *testing.T) {
	engine, rec := newTestGen3(t)

	var batches int
	engine.OnGlucoseData(func([]model.GlucoseReading) { batches++ })

	sessionKey := authenticate(t, engine, rec)

	records := gen3Record(1200, 0, 600, 0)
	trailer := make([]byte, 2)
	binary.LittleEndian.PutUint16(trailer, crypto.CRC16(records)^0x0001)
	plain := append(append([]byte(nil), records...), trailer...)

	ciphertext, err := crypto.EncryptGen3(plain, sessionKey)
	require.NoError(t, err)
	frame, err := wire.EncodeMessage(wire.MsgGlucoseData, 3, ciphertext)
	require.NoError(t, err)
	engine.HandleBytes(frame)

	assert.Equal(t, 0, batches, "corrupted batch is dropped")
	assert.Equal(t, StateReading, engine.State(), "stream survives a bad batch")
}

func TestGen3GlucoseAllFiltered(t *testing.T) {
	engine, rec := newTestGen3(t)

	var batches int
	engine.OnGlucoseData(func([]model.GlucoseReading) { batches++ })

	sessionKey := authenticate(t, engine, rec)

	// Zero raw values decode to nothing; an empty batch is not reported.
	records := gen3Record(0, 0, 600, 0)
	engine.HandleBytes(glucoseFrame(t, records, sessionKey, 3))

	assert.Equal(t, 0, batches)
}

func TestGen3SensorInfo(t *testing.T) {
	engine, rec := newTestGen3(t)

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	var got *model.SensorInfo
	engine.OnSensorInfo(func(info model.SensorInfo) { got = &info })

	sessionKey := authenticate(t, engine, rec)

	payload := make([]byte, 24)
	copy(payload, "3SN0098765")
	payload[10] = 2 // firmware major
	payload[11] = 4 // firmware minor
	binary.LittleEndian.PutUint32(payload[14:18], 120)   // age: 2h
	binary.LittleEndian.PutUint32(payload[18:22], 14400) // max life: 10d

	frame, err := wire.EncodeMessage(wire.MsgSensorInfo, 5, payload)
	require.NoError(t, err)
	engine.HandleBytes(frame)

	require.NotNil(t, got)
	assert.Equal(t, "3SN0098765", got.SerialNumber)
	assert.Equal(t, model.Gen3, got.Generation)
	assert.Equal(t, "2.4", got.FirmwareVersion)
	assert.Equal(t, now.Add(-120*time.Minute), got.StartTime)

	// Subsequent glucose records anchor to the reported session start.
	var readings []model.GlucoseReading
	engine.OnGlucoseData(func(r []model.GlucoseReading) { readings = r })

	engine.HandleBytes(glucoseFrame(t, gen3Record(1000, 0, 3600, 0), sessionKey, 6))
	require.Len(t, readings, 1)
	assert.Equal(t, got.StartTime.Add(time.Hour), readings[0].Timestamp)
}

func TestGen3KeepAliveEcho(t *testing.T) {
	engine, rec := newTestGen3(t)
	authenticate(t, engine, rec)

	before := rec.count()
	frame, err := wire.EncodeMessage(wire.MsgKeepAlive, 7, nil)
	require.NoError(t, err)
	engine.HandleBytes(frame)

	require.Equal(t, before+1, rec.count())
	echo := rec.frame(before)
	assert.Equal(t, byte(wire.MsgKeepAlive), echo[0])
	assert.Equal(t, byte(7), echo[3], "echo reuses the inbound sequence")
	assert.Len(t, echo, wire.HeaderSize, "echo carries no payload")
}

func TestGen3FragmentedDelivery(t *testing.T) {
	engine, rec := newTestGen3(t)
	require.NoError(t, engine.StartAuthentication())

	challenge := make([]byte, 16)
	copy(challenge, []byte{9, 9, 9, 9, 9, 9, 9, 9})
	frame, err := wire.EncodeMessage(wire.MsgChallenge, 1, challenge)
	require.NoError(t, err)

	// One byte at a time; the frame must survive arbitrary fragmentation.
	for _, b := range frame {
		engine.HandleBytes([]byte{b})
	}

	require.Equal(t, 1, rec.count())
	assert.Equal(t, byte(wire.MsgAuthResponse), rec.frame(0)[0])
}

func TestGen3UnknownTypeDropped(t *testing.T) {
	engine, rec := newTestGen3(t)
	authenticate(t, engine, rec)

	sink := &eventSink{}
	engine.SetProtocolLogger(sink, "conn-1")

	before := rec.count()
	frame := []byte{0x55, 0x02, 0x00, 0x01, 0xAA, 0xBB}
	engine.HandleBytes(frame)

	assert.Equal(t, before, rec.count())
	assert.Equal(t, StateReading, engine.State())

	// The drop is reported, not silent.
	var codes []string
	for _, e := range sink.snapshot() {
		if e.Error != nil {
			codes = append(codes, e.Error.Code)
		}
	}
	assert.Contains(t, codes, "UNKNOWN_MESSAGE_TYPE")
}

func TestGen3Reset(t *testing.T) {
	engine, rec := newTestGen3(t)
	authenticate(t, engine, rec)

	engine.Reset()
	assert.Equal(t, StateIdle, engine.State())

	// A fresh handshake goes through cleanly after reset.
	authenticate(t, engine, rec)
	assert.Equal(t, StateReading, engine.State())
}
