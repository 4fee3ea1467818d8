// Package value implements the typed value model shared by every layer of
// the bridge.
//
// A Value is one of Null, Bool, Int, Float, Text or Blob. Host values are
// converted inward with ToNative, which rejects objects, and outward with
// FromTyped, which never fails. Blobs are copied at both boundaries so a
// result never aliases memory owned by the caller.
package value
