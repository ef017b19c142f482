// Package graphmap models the static graph map the vehicle
// relocalizes against: keyframes (timestamped point cloud + known
// pose) and a spatial index answering K-nearest-keyframe queries.
//
// A loaded map is exposed as an immutable Snapshot; replacing or
// merging a map builds a fresh Snapshot that is swapped in atomically
// through a Handle, so concurrent readers never observe a partially
// built index.
package graphmap
