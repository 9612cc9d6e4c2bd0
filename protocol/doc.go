// Package protocol defines the messages exchanged between the dispatcher and
// an execution sandbox.
//
// Requests flow from the dispatcher to the sandbox ("execute", "abandon");
// results and lifecycle notifications flow back ("result", "loading",
// "ready", "error"). When the sandbox lives in another process the messages
// are framed as JSON lines, see Encoder and Decoder.
//
// Usage:
//
//	enc := protocol.NewEncoder(w)
//	err := enc.Encode(protocol.Execute("42", "print(1)"))
//
//	dec := protocol.NewDecoder(r)
//	msg, err := dec.Decode()
package protocol
