// File: pool/doc.go
// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer and object pooling for totemsrp's hot path: reusable frame
// receive buffers (BytePool) and reusable decoded-message values
// (ObjectPool), so steady-state ring traffic doesn't allocate per frame.
package pool
