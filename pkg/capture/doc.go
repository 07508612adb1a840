// Package capture records commissioning stage traces.
//
// Each flow emits a Dispatch event when a stage is handed to the executor,
// a Finish event when the executor reports back and a Complete event with
// the terminal status. Events are CBOR encoded with integer keys and
// appended to a file, one record after the other, so a trace can be read
// back with Reader even when the writer did not close cleanly.
package capture
