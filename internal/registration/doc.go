// Package registration provides reference implementations of the
// scan-matching capabilities the localization state machine consumes:
// an iterative-closest-point matcher for incremental tracking and a
// pose-grid search for coarse relocalization. Both satisfy the
// capability interfaces in internal/localization, so deployments can
// swap in external matchers without touching the state machine.
package registration
