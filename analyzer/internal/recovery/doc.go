// Package recovery ranks mitigation strategies for a coverage disruption.
//
// planner.go scores each candidate on its critical path (notification,
// credentialing, orientation and, for compliance-blocked redistribution,
// the hold until absorbers regain headroom), picks the fastest strategy
// meeting the success floor and reports which stage dominates.
package recovery
