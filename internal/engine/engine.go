// Package engine drives build sessions: it resolves a target, runs it,
// streams its output into the sink and tracks the session state machine.
//
//	idle    --Trigger (resolved)----------------> running
//	idle    --Trigger (resolution failed)-------> error
//	running --exit 0----------------------------> success
//	running --exit != 0, no stop requested------> error
//	running --Stop (honored) or Stop twice------> stopped
//	success|error|stopped --Trigger-------------> running | error
//
// The implementation is split across multiple files:
//   - controller.go: public command surface and session transitions
//   - session.go: per-build session record and timer
//   - events.go: ordered event delivery to subscribers
//   - interfaces.go: resolver and runner seams, mocked in mocks/
//   - factory.go: default dependency wiring
//   - errors.go: session outcome errors
package engine
