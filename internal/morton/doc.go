// Package morton implements the Morton (Z-order) space indexing algebra that
// underpins the orthotree: grid-coordinate interleaving, depth-tagged node
// keys, range-location metadata for box entities and child enumeration.
//
// The algebra is generic over the key representation. Key64 backs "linear"
// trees (dimension < 15) where the location id fits a machine word and the
// node store can be a hash map. BitKey backs high-dimensional trees with a
// fixed 256-bit key and a bounded non-linear depth.
package morton
