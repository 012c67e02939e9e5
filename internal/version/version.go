// Package version provides the shared version string for nvgraph components.
package version

// Version is the semantic version of this module.
const Version = "0.1.0"
