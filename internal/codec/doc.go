// Package codec serializes cache artifacts and intermediate compile units.
//
// Values are encoded as CBOR with Core Deterministic Encoding, so the same
// value always produces the same bytes, and wrapped in a small frame that
// records the compression applied to the payload:
//
//	magic "KCLC" | version (1 byte) | compression tag (1 byte) | uvarint size | payload
//
// Decoding rejects frames with an unknown magic, version or tag; the
// cache treats any such rejection as a miss.
package codec
