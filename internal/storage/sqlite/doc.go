// Package sqlite persists graph maps: keyframes with their poses and
// point clouds, plus the optional geodetic origin. All database
// read/write operations for maps belong here rather than in the domain
// packages, which keeps the matching code free of SQL noise.
package sqlite
