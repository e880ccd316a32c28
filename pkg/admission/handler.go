// Package admission implements the mutating review pipeline: eligibility,
// Secret normalization, reveal, patch synthesis and the verdict.
package admission

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/kapicorp/tesoro/pkg/document"
	"github.com/kapicorp/tesoro/pkg/eligibility"
	"github.com/kapicorp/tesoro/pkg/metrics"
	"github.com/kapicorp/tesoro/pkg/patch"
	"github.com/kapicorp/tesoro/pkg/refs"
	"github.com/kapicorp/tesoro/pkg/reveal"
	"github.com/kapicorp/tesoro/pkg/secret"
)

// ErrMalformedRequest marks requests missing required fields or carrying an
// undecodable object.
var ErrMalformedRequest = errors.New("malformed admission request")

// Handler reviews admission requests. It is safe for concurrent use; all
// request data lives on the stack of Review.
type Handler struct {
	classifier  *eligibility.Classifier
	registry    refs.Registry
	invoker     *reveal.Invoker
	synthesizer *patch.Synthesizer
	redactor    *patch.Redactor
	recorder    *metrics.Recorder
	redactLogs  bool
	log         logr.Logger
}

var _ admission.Handler = &Handler{}

// Config configures the admission handler.
type Config struct {
	// Backend resolves and reveals reference tokens. Required.
	Backend refs.Backend
	// Invoker defaults to reveal.NewInvoker(Backend).
	Invoker     *reveal.Invoker
	Classifier  *eligibility.Classifier
	Synthesizer *patch.Synthesizer
	Redactor    *patch.Redactor
	// Recorder defaults to an unregistered recorder.
	Recorder *metrics.Recorder
	// LogUnredacted logs patch values verbatim.
	LogUnredacted bool
	Log           logr.Logger
}

// NewHandler creates a new admission Handler.
func NewHandler(cfg Config) *Handler {
	h := &Handler{
		classifier:  cfg.Classifier,
		registry:    cfg.Backend,
		invoker:     cfg.Invoker,
		synthesizer: cfg.Synthesizer,
		redactor:    cfg.Redactor,
		recorder:    cfg.Recorder,
		redactLogs:  !cfg.LogUnredacted,
		log:         cfg.Log.WithName("mutate"),
	}
	if h.classifier == nil {
		h.classifier = eligibility.NewClassifier()
	}
	if h.synthesizer == nil {
		h.synthesizer = patch.NewSynthesizer()
	}
	if h.redactor == nil {
		h.redactor = patch.NewRedactor()
	}
	if h.recorder == nil {
		h.recorder = metrics.NewRecorder(nil)
	}
	if h.invoker == nil {
		h.invoker = reveal.NewInvoker(cfg.Backend,
			reveal.WithLogger(h.log),
			reveal.WithRetryHook(h.recorder.RetryHook()),
		)
	}
	return h
}

// Outcome is the result of a review.
type Outcome struct {
	Response admission.Response
	// Phase is the terminal phase.
	Phase Phase
	// Trace lists every phase entered, in order.
	Trace []Phase
	// Patch is the synthesized patch; empty unless the request was mutated.
	Patch patch.Patch
	// Err is the cause of a denial.
	Err error
}

// Handle implements admission.Handler.
func (h *Handler) Handle(ctx context.Context, req admission.Request) admission.Response {
	return h.Review(ctx, req).Response
}

// Review runs the pipeline for one request. It never panics: a panic in any
// stage becomes a denial.
func (h *Handler) Review(ctx context.Context, req admission.Request) (out Outcome) {
	h.recorder.Requests.Inc()

	log := h.log.WithValues(
		"uid", req.UID,
		"namespace", req.Namespace,
		"kind", req.Kind.Kind,
		"resource", req.Resource.Resource,
	)
	out.Trace = []Phase{PhaseReceived}
	enter := func(p Phase) {
		out.Phase = p
		out.Trace = append(out.Trace, p)
	}
	out.Phase = PhaseReceived

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := fmt.Errorf("panic in phase %s: %v", out.Phase, r)
		log.Error(err, "recovered from panic")
		if out.Phase.inReveal() {
			out.Response = h.revealFailed(log, req.UID, err, enter)
			out.Err = err
			out.Patch = nil
			return
		}
		h.recorder.RequestsFailed.Inc()
		enter(PhaseDenied)
		out.Err = err
		out.Response = withAuditAnnotations(admission.Response{
			AdmissionResponse: admissionv1.AdmissionResponse{
				UID:     req.UID,
				Allowed: false,
				Result: &metav1.Status{
					Code:    http.StatusInternalServerError,
					Message: "internal error",
				},
			},
		}, auditFor(PhaseDenied, false, 0))
	}()

	obj, err := parseObject(req)
	if err != nil {
		h.recorder.RequestsFailed.Inc()
		log.Info("rejecting malformed request", "error", err.Error())
		enter(PhaseMalformed)
		out.Err = err
		out.Response = withAuditAnnotations(Malformed(req.UID, err), auditFor(PhaseMalformed, false, 0))
		return out
	}
	enter(PhaseParsed)

	set, err := h.classifier.Classify(obj.Object)
	if err != nil {
		log.Info("ignoring unreadable labels", "error", err.Error())
	}
	if !h.classifier.Eligible(set) {
		enter(PhaseIneligible)
		log.V(1).Info("not labelled for reveal, allowing")
		enter(PhaseAllowed)
		resp, _ := BuildResponse(req.UID, nil, true, "")
		out.Response = withAuditAnnotations(resp, auditFor(PhaseAllowed, true, 0))
		return out
	}
	enter(PhaseEligible)
	h.recorder.RevealRequests.Inc()

	p, err := h.reveal(ctx, log, obj.Object, enter)
	if err != nil {
		out.Err = err
		out.Response = h.revealFailed(log, req.UID, err, enter)
		return out
	}

	resp, err := BuildResponse(req.UID, p, true, "")
	if err != nil {
		out.Err = err
		out.Response = h.revealFailed(log, req.UID, err, enter)
		return out
	}
	enter(PhaseAllowed)
	out.Patch = p
	out.Response = withAuditAnnotations(resp, auditFor(PhaseAllowed, true, len(p)))
	log.Info("reveal successful, allowing with patch", "operations", len(p))
	log.V(1).Info("patch", "patch", h.loggable(p))
	return out
}

// reveal runs normalize, reveal, restore and synthesis on a private copy of
// original and returns the patch turning original into the revealed object.
func (h *Handler) reveal(ctx context.Context, log logr.Logger, original map[string]interface{}, enter func(Phase)) (patch.Patch, error) {
	working := document.DeepCopy(original)

	transformations, err := secret.Prepare(working, h.registry)
	if err != nil {
		return nil, fmt.Errorf("normalizing secret: %w", err)
	}
	enter(PhaseNormalized)
	if transformations.Len() > 0 {
		log.V(1).Info("secret items unwrapped", "items", transformations.Len())
	}

	enter(PhaseRevealing)
	start := time.Now()
	revealed, err := h.invoker.Invoke(ctx, working)
	h.recorder.ObserveReveal(time.Since(start))
	if err != nil {
		return nil, err
	}
	if revealed == nil {
		return nil, reveal.ErrEmptyResult
	}
	enter(PhaseRevealed)

	if err := secret.Restore(revealed, transformations); err != nil {
		return nil, fmt.Errorf("restoring secret encoding: %w", err)
	}

	p, err := h.synthesizer.Synthesize(original, revealed)
	if err != nil {
		return nil, err
	}
	enter(PhasePatched)
	return p, nil
}

func (h *Handler) revealFailed(log logr.Logger, uid types.UID, cause error, enter func(Phase)) admission.Response {
	h.recorder.RevealRequestsFailed.Inc()
	log.Info("reveal failed, denying", "error", cause.Error())
	enter(PhaseRevealFailed)
	enter(PhaseDenied)

	resp, _ := BuildResponse(uid, nil, false, RevealFailedMessage)
	return withAuditAnnotations(resp, auditFor(PhaseDenied, false, 0))
}

// loggable returns the patch as it may appear in logs.
func (h *Handler) loggable(p patch.Patch) string {
	if h.redactLogs {
		p = h.redactor.Redact(p)
	}
	raw, err := p.Marshal()
	if err != nil {
		return fmt.Sprintf("(unencodable patch: %v)", err)
	}
	return string(raw)
}

// parseObject decodes the object of the admission request.
func parseObject(req admission.Request) (*unstructured.Unstructured, error) {
	if req.UID == "" {
		return nil, fmt.Errorf("%w: missing uid", ErrMalformedRequest)
	}
	if len(req.Object.Raw) == 0 || string(req.Object.Raw) == "null" {
		return nil, fmt.Errorf("%w: missing object", ErrMalformedRequest)
	}

	obj := &unstructured.Unstructured{}
	if err := runtime.DecodeInto(unstructured.UnstructuredJSONScheme, req.Object.Raw, obj); err != nil {
		return nil, fmt.Errorf("%w: failed to decode object: %v", ErrMalformedRequest, err)
	}
	return obj, nil
}
