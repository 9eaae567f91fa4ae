// Package httpapi exposes the module registry over REST.
package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/StreamWeave/module_registry/internal/httputil"
	"github.com/StreamWeave/module_registry/internal/logging"
	"github.com/StreamWeave/module_registry/internal/module"
)

// maxUploadBytes caps opaque module payloads at 64 MiB.
const maxUploadBytes = 64 << 20

// API wires the registration service into HTTP handlers.
type API struct {
	svc *module.Service
	log *logrus.Entry
}

// New constructs the API over the given service.
func New(svc *module.Service, log *logrus.Entry) *API {
	if log == nil {
		log = logging.New("httpapi")
	}
	return &API{svc: svc, log: log}
}

// Routes registers all endpoints on r.
func (a *API) Routes(r *mux.Router) {
	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/modules", a.handleList).Methods(http.MethodGet)
	r.HandleFunc("/modules", a.handleCompose).Methods(http.MethodPost)
	r.HandleFunc("/modules/{type}/{name}", a.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/modules/{type}/{name}", a.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/modules/{type}/{name}", a.handleDelete).Methods(http.MethodDelete)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := module.DefinitionFilter{Name: q.Get("name")}
	if raw := q.Get("type"); raw != "" {
		typ, ok := module.ParseModuleType(raw)
		if !ok {
			httputil.BadRequest(w, "unknown module type "+strconv.Quote(raw))
			return
		}
		filter.Type = typ
	}

	page := module.PageRequest{
		Number: intQuery(q.Get("page")),
		Size:   intQuery(q.Get("size")),
	}

	result, err := a.svc.FindDefinitions(r.Context(), filter, page)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	items := make([]definitionResponse, 0, len(result.Items))
	for _, def := range result.Items {
		items = append(items, toResponse(def))
	}
	httputil.WriteJSON(w, http.StatusOK, pageResponse{
		Items:      items,
		Number:     result.Number,
		Size:       result.Size,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	name, typ, ok := a.pathIdentity(w, r)
	if !ok {
		return
	}

	def, err := a.svc.FindDefinition(r.Context(), name, typ)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(*def))
}

func (a *API) handleCompose(w http.ResponseWriter, r *http.Request) {
	var input composeInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	if input.Name == "" || input.Definition == "" {
		httputil.BadRequest(w, "name and definition required")
		return
	}

	var typeHint module.ModuleType
	if input.Type != "" {
		typ, ok := module.ParseModuleType(input.Type)
		if !ok {
			httputil.BadRequest(w, "unknown module type "+strconv.Quote(input.Type))
			return
		}
		typeHint = typ
	}

	def, err := a.svc.Compose(r.Context(), input.Name, typeHint, input.Definition, input.Force)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(def))
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	name, typ, ok := a.pathIdentity(w, r)
	if !ok {
		return
	}
	force := r.URL.Query().Get("force") == "true"

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		httputil.BadRequest(w, "failed to read payload")
		return
	}
	if len(payload) == 0 {
		httputil.BadRequest(w, "empty payload")
		return
	}
	if len(payload) > maxUploadBytes {
		httputil.BadRequest(w, "payload exceeds upload limit")
		return
	}

	def, err := a.svc.Upload(r.Context(), name, typ, payload, force)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(def))
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	name, typ, ok := a.pathIdentity(w, r)
	if !ok {
		return
	}

	if err := a.svc.Delete(r.Context(), name, typ); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pathIdentity extracts and validates the {type}/{name} path segments.
func (a *API) pathIdentity(w http.ResponseWriter, r *http.Request) (string, module.ModuleType, bool) {
	vars := mux.Vars(r)
	typ, ok := module.ParseModuleType(vars["type"])
	if !ok {
		httputil.BadRequest(w, "unknown module type "+strconv.Quote(vars["type"]))
		return "", "", false
	}
	return vars["name"], typ, true
}

// writeError maps service errors onto HTTP statuses. Typed registry errors
// keep their message; anything unrecognized is logged and masked.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case module.IsNotFound(err):
		httputil.NotFound(w, err.Error())
	case module.IsAlreadyExists(err), module.IsInUse(err), module.IsConflict(err):
		httputil.Conflict(w, err.Error())
	case module.IsInvalidComposition(err),
		errors.Is(err, module.ErrSyntax),
		errors.Is(err, module.ErrUnresolvedReference):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, module.ErrDeleteFailed):
		httputil.InternalError(w, err.Error())
	default:
		a.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		httputil.InternalError(w, "internal error")
	}
}

func intQuery(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// composeInput is the request body for POST /modules.
type composeInput struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Definition string `json:"definition"`
	Force      bool   `json:"force"`
}

// definitionResponse is the wire shape of a definition. Opaque payload bytes
// are never echoed back, only their size.
type definitionResponse struct {
	Name      string                `json:"name"`
	Type      module.ModuleType     `json:"type"`
	Kind      module.DefinitionKind `json:"kind"`
	DSL       string                `json:"definition,omitempty"`
	Steps     []module.ModuleKey    `json:"steps,omitempty"`
	SizeBytes int                   `json:"size_bytes,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

type pageResponse struct {
	Items      []definitionResponse `json:"items"`
	Number     int                  `json:"number"`
	Size       int                  `json:"size"`
	TotalItems int                  `json:"total_items"`
	TotalPages int                  `json:"total_pages"`
}

func toResponse(def module.Definition) definitionResponse {
	resp := definitionResponse{
		Name:      def.Name,
		Type:      def.Type,
		Kind:      def.Kind,
		DSL:       def.DSL,
		SizeBytes: len(def.Bytes),
		CreatedAt: def.CreatedAt,
	}
	for _, step := range def.Steps {
		resp.Steps = append(resp.Steps, step.Key())
	}
	return resp
}
