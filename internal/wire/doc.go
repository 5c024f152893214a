// Package wire defines the events exchanged between nodes and their
// payloads. Payloads are JSON; each message travels inside an Envelope
// encoded with the protobuf wire format so it can ride a gRPC stream
// without generated code.
package wire
