package admission

import (
	"fmt"
	"net/http"

	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/kapicorp/tesoro/pkg/patch"
)

// RevealFailedMessage is the status message of a denial caused by a failed
// reveal.
const RevealFailedMessage = "reveal failed"

// BuildResponse assembles the verdict for uid. The patch is attached only
// when allowed is true and p is non-empty; message, when set, is attached
// either way.
func BuildResponse(uid types.UID, p patch.Patch, allowed bool, message string) (admission.Response, error) {
	resp := admission.Response{
		AdmissionResponse: admissionv1.AdmissionResponse{
			UID:     uid,
			Allowed: allowed,
		},
	}

	if allowed && len(p) > 0 {
		raw, err := p.Marshal()
		if err != nil {
			return admission.Response{}, fmt.Errorf("failed to encode patch: %w", err)
		}
		patchType := admissionv1.PatchTypeJSONPatch
		resp.Patch = raw
		resp.PatchType = &patchType
	}

	if message != "" {
		resp.Result = &metav1.Status{Message: message}
	}
	return resp, nil
}

// Malformed returns a denial for a request that could not be understood.
func Malformed(uid types.UID, err error) admission.Response {
	return admission.Response{
		AdmissionResponse: admissionv1.AdmissionResponse{
			UID:     uid,
			Allowed: false,
			Result: &metav1.Status{
				Code:    http.StatusBadRequest,
				Message: err.Error(),
				Reason:  metav1.StatusReasonBadRequest,
			},
		},
	}
}
