// Package ivxp implements the core wire types, error taxonomy, and
// in-process event bus for IVXP/1.0 — a protocol for monetized,
// trust-minimized service requests between a Client and a Provider that
// settle in USDC on an EVM L2.
//
// Protocol endpoints, order lifecycle, and payment verification live in
// the provider and clientsdk packages; this package holds the shared
// domain model both sides project onto.
package ivxp

// ProtocolVersion is the IVXP wire protocol identifier carried on every message.
const ProtocolVersion = "IVXP/1.0"
