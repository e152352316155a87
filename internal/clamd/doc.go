// Package clamd implements the client side of the clamd stream protocol.
//
// Ownership boundaries:
//   - command framing: z-prefixed, NUL-terminated request frames and the
//     length-prefixed chunk encoding used by INSTREAM
//   - reply parsing: the OK / FOUND / ERROR marker grammar and the version
//     string layout
//   - connection lifecycle: one persistent IDSESSION per client, redialed
//     transparently after a transport fault
//
// The package does not own daemon configuration, signature databases, or
// anything on the far side of the socket.
package clamd
