// Package core contains the shared domain types and narrow interfaces of
// DialogMesh: sessions and their short-term turn context, classified turns,
// response plans, action requests/outcomes, escalation signals and the
// collaborator contracts (session store, resource API). It holds no policy;
// policy lives in the slot, dispatch, escalate, fallback and orchestrator
// packages which all depend on core and never on each other's internals.
package core
