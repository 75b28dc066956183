// Package value defines the tagged union carried through the codec, the
// log and the signal bus.
//
// Value is a sealed interface. Only the variants declared here implement
// it:
//   - Null, Bool, Int (int64), Uint (uint64), Float (float64)
//   - String (UTF-8)
//   - Array (ordered sequence of Value)
//   - Object (ordered mapping of string key to Value)
//   - NodeRef (opaque pointer into the external node graph)
//
// Floats keep their exact IEEE-754 bit pattern end to end. NaN and the
// infinities are ordinary values, never coerced.
//
// This package imports nothing internal. Every other internal package may
// import it.
package value
