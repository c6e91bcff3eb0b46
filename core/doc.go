// Package core contains the webhook hub domain: events and their lifecycle,
// the unified order model, collaborator contracts and the error taxonomy.
// Adapters, stores and transports depend on this package; core must not
// depend on provider-specific or transport-specific code.
package core
