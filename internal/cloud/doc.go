// Package cloud owns the point-cloud data model shared by the
// relocalization pipeline: Cartesian points, timestamped clouds,
// rigid-transform poses, voxel downsampling, and a grid-based
// nearest-neighbour index.
//
// Clouds are treated as read-only once handed to the registration
// path; every transformation returns a fresh slice.
package cloud
