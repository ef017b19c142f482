// Package confidence quantifies how trustworthy a point-cloud
// registration is. It scores an aligned cloud pair by mean
// nearest-neighbour squared distance, maps the score through a
// saturating variance curve, and assembles the resulting 6x6
// information (inverse covariance) matrix consumed as an edge weight
// downstream.
package confidence
