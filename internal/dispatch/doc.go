// Package dispatch holds the notification decision pipeline.
//
// A firing draws a Variant from a Pool (Selector), resolves a Target from a
// TargetPolicy, assembles an Envelope (Build) and hands it to a Sender exactly
// once through a Dispatcher, which turns any send failure into a Failed Outcome.
//
// Everything in this package except Dispatcher.Dispatch is free of I/O.
package dispatch
