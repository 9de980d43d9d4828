// Package model defines the core data types shared across the GlucoLink
// stack: glucose readings, sensor metadata, and the enumerations used to
// classify them.
//
// Values of these types are immutable once produced. They are passed by
// copy across component boundaries; no component retains a mutable
// reference to another component's readings or sensor info.
package model
