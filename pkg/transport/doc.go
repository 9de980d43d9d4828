// Package transport defines the duplex byte channel the sensor link runs
// over.
//
// The physical layer (BLE scan/connect/GATT write/notify) is out of scope;
// this package reduces it to connect/disconnect/send plus asynchronous
// receive and lifecycle callbacks. Implementations must deliver inbound
// bytes for a single connection in order, and must deliver all callbacks
// on a single sequential execution context or serialize them externally.
package transport
