// Package agent contains the core orchestrator that ties verifiable
// inference to on-chain execution. It runs a model prediction, tracks the
// resulting proof through generation and verification on the platform, and
// only then drives vault transactions with the verified output.
package agent
