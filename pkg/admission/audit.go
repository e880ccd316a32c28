package admission

import (
	"strconv"

	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"
)

// Audit annotation keys for admission response audit events.
// These appear in the Kubernetes audit log, not on the object.
const (
	auditKeyDecision = "tesoro.kapicorp.com/decision"
	auditKeyPhase    = "tesoro.kapicorp.com/phase"
	auditKeyPatchOps = "tesoro.kapicorp.com/patch-operations"
)

// Decisions recorded under auditKeyDecision.
const (
	decisionAllowed = "allowed"
	decisionPatched = "allowed-with-patch"
	decisionDenied  = "denied"
)

// withAuditAnnotations sets audit annotations on an admission response.
func withAuditAnnotations(resp admission.Response, audit map[string]string) admission.Response {
	if len(audit) > 0 {
		resp.AuditAnnotations = audit
	}
	return resp
}

// auditFor describes a finished review for the audit log.
func auditFor(phase Phase, allowed bool, ops int) map[string]string {
	decision := decisionDenied
	switch {
	case allowed && ops > 0:
		decision = decisionPatched
	case allowed:
		decision = decisionAllowed
	}
	audit := map[string]string{
		auditKeyDecision: decision,
		auditKeyPhase:    string(phase),
	}
	if ops > 0 {
		audit[auditKeyPatchOps] = strconv.Itoa(ops)
	}
	return audit
}
