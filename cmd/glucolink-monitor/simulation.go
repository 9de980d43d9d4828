package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/glucolink/glucolink-go/pkg/crypto"
	"github.com/glucolink/glucolink-go/pkg/model"
	"github.com/glucolink/glucolink-go/pkg/transport"
	"github.com/glucolink/glucolink-go/pkg/wire"
)

// simulatedSensor is an in-process sensor backend for the monitor. It
// implements transport.Transport and speaks either protocol generation
// from the sensor side, so the full session stack runs without radio
// hardware.
type simulatedSensor struct {
	mu sync.Mutex

	generation model.Generation
	serial     string
	patchInfo  []byte
	start      time.Time
	interval   time.Duration
	glucose    float64
	phase      float64

	connected     bool
	sessionKey    []byte
	pendingRandom []byte
	seq           byte
	outbox        chan []byte
	done          chan struct{}

	onBytes        func(data []byte)
	onConnected    func()
	onDisconnected func(reason error)
	onError        func(err error)
}

// simulatedSerial is the fixed serial the simulated sensor reports.
const simulatedSerial = "3SIM000042"

func newSimulatedSensor(generation model.Generation, interval time.Duration) *simulatedSensor {
	s := &simulatedSensor{
		generation: generation,
		serial:     simulatedSerial,
		start:      time.Now().Add(-2 * time.Hour),
		interval:   interval,
		glucose:    110,
	}
	if generation == model.Gen2 {
		s.patchInfo = simulatedPatchInfo(s.serial)
	}
	return s
}

// PatchInfo returns the NFC-provisioned key material of the simulated
// generation-2 sensor. Empty for generation 3.
func (s *simulatedSensor) PatchInfo() []byte {
	return append([]byte(nil), s.patchInfo...)
}

func (s *simulatedSensor) Scan(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", transport.ErrScanTimeout
	case <-time.After(50 * time.Millisecond):
	}
	return "sim-" + s.serial, nil
}

func (s *simulatedSensor) Connect(ctx context.Context, deviceID string) error {
	if deviceID != "sim-"+s.serial {
		return fmt.Errorf("unknown device %q", deviceID)
	}

	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = true
	s.sessionKey = nil
	s.outbox = make(chan []byte, 64)
	s.done = make(chan struct{})
	onConnected := s.onConnected
	outbox, done := s.outbox, s.done
	s.mu.Unlock()

	go s.pump(outbox, done)
	if onConnected != nil {
		onConnected()
	}

	if s.generation == model.Gen3 {
		// The sensor opens the conversation with its challenge.
		s.sendChallenge()
	}
	return nil
}

func (s *simulatedSensor) Disconnect() error {
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

// Send receives host bytes and reacts as the sensor would. Responses are
// queued to the outbox so the caller never re-enters its own receive path.
func (s *simulatedSensor) Send(data []byte) error {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return transport.ErrNotConnected
	}

	switch s.generation {
	case model.Gen2:
		s.handleGen2Command(data)
	case model.Gen3:
		s.handleGen3Frame(data)
	}
	return nil
}

func (s *simulatedSensor) OnBytesReceived(fn func(data []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBytes = fn
}

func (s *simulatedSensor) OnConnected(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnected = fn
}

func (s *simulatedSensor) OnDisconnected(fn func(reason error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnected = fn
}

func (s *simulatedSensor) OnError(fn func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// pump delivers queued sensor frames to the host in order.
func (s *simulatedSensor) pump(outbox chan []byte, done chan struct{}) {
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
}

func (s *simulatedSensor) enqueue(frame []byte) {
	s.mu.Lock()
	outbox, connected := s.outbox, s.connected
	s.mu.Unlock()
	if !connected {
		return
	}
	select {
	case outbox <- frame:
	default:
		// Host is not draining; drop rather than block the sensor.
	}
}

func (s *simulatedSensor) nextSeq() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// sendChallenge emits the generation-3 authentication challenge and
// remembers the sensor random for the session key derivation.
func (s *simulatedSensor) sendChallenge() {
	random, err := crypto.RandomBytes(crypto.RandomSize)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.sessionKey = nil
	s.pendingRandom = random
	s.mu.Unlock()

	frame, err := wire.EncodeMessage(wire.MsgChallenge, s.nextSeq(), random)
	if err != nil {
		return
	}
	s.enqueue(frame)
}

func (s *simulatedSensor) handleGen3Frame(data []byte) {
	if len(data) < wire.HeaderSize {
		return
	}
	msgType := wire.MessageType(data[0])
	payload := data[wire.HeaderSize:]

	switch msgType {
	case wire.MsgAuthResponse:
		if len(payload) < crypto.RandomSize {
			return
		}
		s.mu.Lock()
		s.sessionKey = crypto.DeriveSessionKey(payload[:crypto.RandomSize], s.pendingRandom)
		done := s.done
		s.mu.Unlock()

		if ok, err := wire.EncodeMessage(wire.MsgAuthSuccess, s.nextSeq(), nil); err == nil {
			s.enqueue(ok)
		}
		s.sendSensorInfo()
		go s.streamGlucose(done)

	case wire.MsgKeepAlive:
		// Host echo of our probe; nothing to do.
	}
}

// sendSensorInfo emits the generation-3 sensor metadata block.
func (s *simulatedSensor) sendSensorInfo() {
	payload := make([]byte, wire.Gen3SensorInfoMinSize)
	copy(payload, s.serial)
	payload[10] = 2 // firmware 2.1
	payload[11] = 1
	binary.LittleEndian.PutUint32(payload[14:18], uint32(time.Since(s.start).Minutes()))
	binary.LittleEndian.PutUint32(payload[18:22], uint32((10*24*time.Hour).Minutes()))

	if frame, err := wire.EncodeMessage(wire.MsgSensorInfo, s.nextSeq(), payload); err == nil {
		s.enqueue(frame)
	}
}

// streamGlucose emits one encrypted glucose record per interval until the
// connection drops.
func (s *simulatedSensor) streamGlucose(done chan struct{}) {
	s.emitGlucose()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.emitGlucose()
		}
	}
}

func (s *simulatedSensor) emitGlucose() {
	glucose, temp := s.nextValue()

	record := make([]byte, wire.Gen3RecordSize)
	binary.LittleEndian.PutUint16(record[0:2], uint16(glucose/wire.Gen3Scale))
	binary.LittleEndian.PutUint32(record[4:8], uint32(time.Since(s.start).Seconds()))
	binary.LittleEndian.PutUint16(record[8:10], uint16(temp*100))

	plain := make([]byte, len(record)+2)
	copy(plain, record)
	binary.LittleEndian.PutUint16(plain[len(record):], crypto.CRC16(record))

	s.mu.Lock()
	key := s.sessionKey
	s.mu.Unlock()
	if key == nil {
		return
	}

	payload, err := crypto.EncryptGen3(plain, key)
	if err != nil {
		return
	}
	if frame, err := wire.EncodeMessage(wire.MsgGlucoseData, s.nextSeq(), payload); err == nil {
		s.enqueue(frame)
	}
}

// nextValue walks the simulated glucose along a slow sine with the
// matching skin temperature.
func (s *simulatedSensor) nextValue() (glucose, temp float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase += 0.05
	s.glucose = 110 + 35*math.Sin(s.phase)
	return s.glucose, 36.2 + 0.3*math.Sin(s.phase/3)
}

func (s *simulatedSensor) handleGen2Command(data []byte) {
	if len(data) == 0 {
		return
	}

	switch data[0] {
	case 0xA1: // unlock
		expected := crypto.DeriveUnlockKey(s.patchInfo)
		if !bytes.Equal(data[1:], expected) {
			s.enqueue([]byte{0xA0})
			return
		}
		s.enqueue([]byte{0xA2})

	case 0xB1: // glucose block
		s.enqueue(s.gen2Response())
	}
}

// gen2Response builds the encrypted 354-byte glucose response around the
// current simulated value.
func (s *simulatedSensor) gen2Response() []byte {
	glucose, temp := s.nextValue()

	block := make([]byte, wire.Gen2BlockSize)
	block[26] = 1 // newest trend record at slot 0
	block[27] = 1 // newest history record at slot 0
	putGen2Record(block[28:34], glucose, temp)
	putGen2Record(block[124:130], glucose, temp)

	plain := make([]byte, crypto.Gen2HeaderSize+wire.Gen2BlockSize+2)
	plain[0] = 0xB2
	copy(plain[crypto.Gen2HeaderSize:], block)
	binary.LittleEndian.PutUint16(plain[len(plain)-2:], crypto.CRC16(block))

	return crypto.EncryptGen2(plain, s.patchInfo)
}

func putGen2Record(rec []byte, glucose, temp float64) {
	binary.LittleEndian.PutUint16(rec[0:2], uint16(glucose/wire.Gen2Scale))
	binary.LittleEndian.PutUint16(rec[4:6], uint16(temp*100))
}

// simulatedPatchInfo builds a generation-2 sensor info block carrying the
// serial and a two-hour sensor age.
func simulatedPatchInfo(serial string) []byte {
	info := make([]byte, wire.Gen2PatchInfoSize)
	info[0] = 0x9D
	info[1] = 0x08
	info[2] = 0x30
	copy(info[3:13], serial)
	binary.LittleEndian.PutUint16(info[13:15], 120)
	for i := 15; i < len(info); i++ {
		info[i] = byte(0x40 + i)
	}
	return info
}
