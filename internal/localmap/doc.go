// Package localmap keeps a bounded working point cloud fresh around
// the vehicle's moving position. A background loop drains pose
// updates from the tracking path and rebuilds the local map from the
// nearest keyframes, publishing each rebuild by atomic replacement so
// in-flight registrations are never disturbed.
package localmap
