// Package sensor implements the streaming register convention.
//
// A sensor service serves its current value in the Reading register and
// pushes it unsolicited while StreamingSamples is nonzero, once every
// StreamingInterval milliseconds. StreamingSamples counts down after each
// push unless it holds wire.StreamingContinuous.
//
// Client follows a role rather than a fixed device, so it keeps working
// when the role is rebound. Window and ThresholdWatcher post-process the
// decoded readings on the client side.
package sensor
