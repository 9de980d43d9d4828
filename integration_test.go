package glucolink_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glucolink/glucolink-go/pkg/crypto"
	"github.com/glucolink/glucolink-go/pkg/log"
	"github.com/glucolink/glucolink-go/pkg/model"
	"github.com/glucolink/glucolink-go/pkg/persistence"
	"github.com/glucolink/glucolink-go/pkg/protocol"
	"github.com/glucolink/glucolink-go/pkg/session"
	"github.com/glucolink/glucolink-go/pkg/transport"
	"github.com/glucolink/glucolink-go/pkg/wire"
)

const e2eSerial = "3E2E000001"

// e2eSensor is an in-memory sensor speaking one protocol generation from
// the device side. Outbound frames flow through a single goroutine so the
// host sees them in order.
type e2eSensor struct {
	mu sync.Mutex

	generation model.Generation
	patchInfo  []byte
	start      time.Time

	connected  bool
	sessionKey []byte
	random     []byte
	seq        byte
	outbox     chan []byte
	done       chan struct{}

	onBytes        func(data []byte)
	onConnected    func()
	onDisconnected func(reason error)
	onError        func(err error)
}

func newE2ESensor(generation model.Generation) *e2eSensor {
	s := &e2eSensor{
		generation: generation,
		start:      time.Now().Add(-time.Hour),
	}
	if generation == model.Gen2 {
		s.patchInfo = make([]byte, wire.Gen2PatchInfoSize)
		copy(s.patchInfo[3:13], e2eSerial)
		binary.LittleEndian.PutUint16(s.patchInfo[13:15], 60)
	}
	return s
}

func (s *e2eSensor) Scan(ctx context.Context) (string, error) { return "e2e-device", nil }

func (s *e2eSensor) Connect(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	s.connected = true
	s.outbox = make(chan []byte, 64)
	s.done = make(chan struct{})
	onConnected := s.onConnected
	outbox, done := s.outbox, s.done
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-done:
				return
			case frame := <-outbox:
				s.mu.Lock()
				fn := s.onBytes
				s.mu.Unlock()
				if fn != nil {
					fn(frame)
				}
			}
		}
	}()

	if onConnected != nil {
		onConnected()
	}
	if s.generation == model.Gen3 {
		s.sendChallenge()
	}
	return nil
}

func (s *e2eSensor) Disconnect() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	close(s.done)
	onDisconnected := s.onDisconnected
	s.mu.Unlock()

	if onDisconnected != nil {
		onDisconnected(nil)
	}
	return nil
}

func (s *e2eSensor) Send(data []byte) error {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return transport.ErrNotConnected
	}

	switch s.generation {
	case model.Gen2:
		s.handleGen2(data)
	case model.Gen3:
		s.handleGen3(data)
	}
	return nil
}

func (s *e2eSensor) OnBytesReceived(fn func(data []byte)) { s.onBytes = fn }
func (s *e2eSensor) OnConnected(fn func())                { s.onConnected = fn }
func (s *e2eSensor) OnDisconnected(fn func(reason error)) { s.onDisconnected = fn }
func (s *e2eSensor) OnError(fn func(err error))           { s.onError = fn }

func (s *e2eSensor) enqueue(frame []byte) {
	s.mu.Lock()
	outbox, connected := s.outbox, s.connected
	s.mu.Unlock()
	if connected {
		outbox <- frame
	}
}

func (s *e2eSensor) nextSeq() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *e2eSensor) sendChallenge() {
	random, _ := crypto.RandomBytes(crypto.RandomSize)
	s.mu.Lock()
	s.random = random
	s.mu.Unlock()

	frame, _ := wire.EncodeMessage(wire.MsgChallenge, s.nextSeq(), random)
	s.enqueue(frame)
}

func (s *e2eSensor) handleGen3(data []byte) {
	if len(data) < wire.HeaderSize || wire.MessageType(data[0]) != wire.MsgAuthResponse {
		return
	}
	payload := data[wire.HeaderSize:]
	if len(payload) < crypto.RandomSize {
		return
	}

	s.mu.Lock()
	s.sessionKey = crypto.DeriveSessionKey(payload[:crypto.RandomSize], s.random)
	key := s.sessionKey
	s.mu.Unlock()

	ok, _ := wire.EncodeMessage(wire.MsgAuthSuccess, s.nextSeq(), nil)
	s.enqueue(ok)
	s.sendSensorInfo()
	s.sendGlucose(key, 123.0)
}

func (s *e2eSensor) sendSensorInfo() {
	payload := make([]byte, wire.Gen3SensorInfoMinSize)
	copy(payload, e2eSerial)
	payload[10] = 2
	payload[11] = 4
	binary.LittleEndian.PutUint32(payload[14:18], 60)
	binary.LittleEndian.PutUint32(payload[18:22], uint32((10*24*time.Hour).Minutes()))

	frame, _ := wire.EncodeMessage(wire.MsgSensorInfo, s.nextSeq(), payload)
	s.enqueue(frame)
}

func (s *e2eSensor) sendGlucose(key []byte, mgdl float64) {
	record := make([]byte, wire.Gen3RecordSize)
	binary.LittleEndian.PutUint16(record[0:2], uint16(mgdl/wire.Gen3Scale))
	binary.LittleEndian.PutUint32(record[4:8], uint32(time.Since(s.start).Seconds()))
	binary.LittleEndian.PutUint16(record[8:10], 3640)

	plain := make([]byte, len(record)+2)
	copy(plain, record)
	binary.LittleEndian.PutUint16(plain[len(record):], crypto.CRC16(record))

	payload, _ := crypto.EncryptGen3(plain, key)
	frame, _ := wire.EncodeMessage(wire.MsgGlucoseData, s.nextSeq(), payload)
	s.enqueue(frame)
}

func (s *e2eSensor) handleGen2(data []byte) {
	if len(data) == 0 {
		return
	}
	switch data[0] {
	case 0xA1:
		if !bytes.Equal(data[1:], crypto.DeriveUnlockKey(s.patchInfo)) {
			s.enqueue([]byte{0xA0})
			return
		}
		s.enqueue([]byte{0xA2})
	case 0xB1:
		s.enqueue(s.gen2Response(117.0))
	}
}

func (s *e2eSensor) gen2Response(mgdl float64) []byte {
	block := make([]byte, wire.Gen2BlockSize)
	block[26] = 1
	block[27] = 1
	binary.LittleEndian.PutUint16(block[28:30], uint16(mgdl/wire.Gen2Scale))
	binary.LittleEndian.PutUint16(block[124:126], uint16(mgdl/wire.Gen2Scale))

	plain := make([]byte, crypto.Gen2HeaderSize+wire.Gen2BlockSize+2)
	plain[0] = 0xB2
	copy(plain[crypto.Gen2HeaderSize:], block)
	binary.LittleEndian.PutUint16(plain[len(plain)-2:], crypto.CRC16(block))
	return crypto.EncryptGen2(plain, s.patchInfo)
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestE2E_Gen3Session(t *testing.T) {
	sensor := newE2ESensor(model.Gen3)
	engine, err := protocol.NewGen3Engine()
	require.NoError(t, err)

	statePath := filepath.Join(t.TempDir(), "state.json")
	store := persistence.NewSensorStateStore(statePath)

	glogPath := filepath.Join(t.TempDir(), "session.glog")
	protocolLog, err := log.NewFileLogger(glogPath)
	require.NoError(t, err)

	orch, err := session.New(session.Config{
		Generation:       model.Gen3,
		AcceptNewSensors: true,
	}, sensor, engine, store)
	require.NoError(t, err)
	defer orch.Close()
	orch.SetProtocolLogger(protocolLog)

	gotReading := make(chan struct{})
	var (
		mu      sync.Mutex
		current model.GlucoseReading
	)
	orch.OnCurrentReading(func(r model.GlucoseReading) {
		mu.Lock()
		current = r
		mu.Unlock()
		select {
		case gotReading <- struct{}{}:
		default:
		}
	})

	require.NoError(t, orch.Start())
	waitFor(t, gotReading, "glucose reading")

	mu.Lock()
	assert.InDelta(t, 123.0, current.GlucoseMgDl, 0.01)
	assert.Equal(t, model.QualityGood, current.Quality)
	mu.Unlock()

	assert.Equal(t, session.StateConnected, orch.State())

	// Both the sensor and the readings survive in the state file.
	// Persistence trails the reading callback, so poll.
	require.Eventually(t, func() bool {
		readings, err := store.Readings(time.Time{}, time.Now().Add(time.Hour))
		return err == nil && len(readings) > 0
	}, 5*time.Second, 10*time.Millisecond)

	stored, err := store.Sensor()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, e2eSerial, stored.SerialNumber)
	assert.Equal(t, model.Gen3, stored.Generation)

	readings, err := store.Readings(time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, readings)
	assert.InDelta(t, 123.0, readings[0].GlucoseMgDl, 0.01)

	orch.Disconnect()
	assert.Equal(t, session.StateIdle, orch.State())

	// The protocol capture replays the authentication exchange.
	require.NoError(t, protocolLog.Close())
	reader, err := log.NewReader(glogPath)
	require.NoError(t, err)
	defer reader.Close()

	types := map[string]int{}
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if event.Message != nil {
			types[event.Message.TypeName]++
		}
	}
	assert.Positive(t, types["CHALLENGE"])
	assert.Positive(t, types["AUTH_RESPONSE"])
	assert.Positive(t, types["GLUCOSE_DATA"])
}

func TestE2E_Gen2Session(t *testing.T) {
	sensor := newE2ESensor(model.Gen2)
	engine := protocol.NewGen2Engine()

	statePath := filepath.Join(t.TempDir(), "state.json")
	store := persistence.NewSensorStateStore(statePath)

	orch, err := session.New(session.Config{
		Generation:       model.Gen2,
		DeviceID:         "e2e-device",
		AcceptNewSensors: true,
	}, sensor, engine, store)
	require.NoError(t, err)
	defer orch.Close()

	start := time.Now().Add(-time.Hour)
	orch.Initialize(&model.SensorInfo{
		SerialNumber: e2eSerial,
		StartTime:    start,
		ExpiryTime:   start.Add(model.Gen2Lifespan),
		Generation:   model.Gen2,
		PatchInfo:    sensor.patchInfo,
	})

	gotReading := make(chan struct{})
	var (
		mu      sync.Mutex
		current model.GlucoseReading
	)
	orch.OnCurrentReading(func(r model.GlucoseReading) {
		mu.Lock()
		current = r
		mu.Unlock()
		select {
		case gotReading <- struct{}{}:
		default:
		}
	})

	require.NoError(t, orch.Start())
	waitFor(t, gotReading, "glucose reading")

	mu.Lock()
	assert.InDelta(t, 117.0, current.GlucoseMgDl, 0.01)
	mu.Unlock()

	assert.Equal(t, session.StateConnected, orch.State())

	require.Eventually(t, func() bool {
		readings, err := store.Readings(time.Time{}, time.Now().Add(time.Hour))
		return err == nil && len(readings) > 0
	}, 5*time.Second, 10*time.Millisecond)
}
