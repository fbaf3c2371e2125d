// Package api exposes the REST surface of the agent daemon: submitting
// inference tasks, inspecting task state and run history, and querying
// Enzyme vault valuations.
package api
