// Package httpapi exposes the service over HTTP: device CRUD under
// /v1/users/:user/devices, notification dispatch at /v1/notify, and the
// counter snapshot at /status.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/catch/postal/internal/device"
	"github.com/catch/postal/internal/metrics"
	"github.com/catch/postal/internal/notification"
	"github.com/catch/postal/internal/router"
	"github.com/catch/postal/internal/service"
)

// jsonDomain identifies malformed-body errors in error responses.
const jsonDomain = "PostalJsonError"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// defaultPageLimit is the page size when the devices listing has no limit
// parameter.
const defaultPageLimit = 100

// API routes HTTP requests into the service.
type API struct {
	svc     *service.Service
	metrics *metrics.Metrics
	router  *router.Router
	logger  zerolog.Logger
}

// New builds the API and registers its routes.
func New(svc *service.Service, m *metrics.Metrics, logger zerolog.Logger) *API {
	a := &API{
		svc:     svc,
		metrics: m,
		router:  router.New(logger),
		logger:  logger.With().Str("component", "http").Logger(),
	}
	a.router.Handle("/status", a.handleStatus)
	a.router.Handle("/v1/users/:user/devices", a.handleDevices)
	a.router.Handle("/v1/users/:user/devices/:device", a.handleDevice)
	a.router.Handle("/v1/notify", a.handleNotify)
	return a
}

// ServeHTTP routes the request, replying 404 when nothing matches.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !a.router.Route(w, r) {
		a.writeErrorBody(w, http.StatusNotFound, "Not found.", "PostalHttpError", 0)
	}
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request, _ router.Params) {
	if r.Method != http.MethodGet {
		a.methodNotAllowed(w)
		return
	}
	a.writeJSON(w, http.StatusOK, a.metrics.Snapshot())
}

func (a *API) handleDevices(w http.ResponseWriter, r *http.Request, params router.Params) {
	if r.Method != http.MethodGet {
		a.methodNotAllowed(w)
		return
	}

	offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}

	devices, err := a.svc.FindDevices(r.Context(), params["user"], offset, limit)
	if err != nil {
		a.writeError(w, err)
		return
	}

	out := make([]json.RawMessage, 0, len(devices))
	for _, d := range devices {
		raw, err := d.SaveToJSON()
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *API) handleDevice(w http.ResponseWriter, r *http.Request, params router.Params) {
	user := params["user"]
	deviceParam := params["device"]

	switch r.Method {
	case http.MethodGet:
		d, err := a.findDevice(r, user, deviceParam)
		if err != nil {
			a.writeError(w, err)
			return
		}
		a.writeDevice(w, http.StatusOK, d)

	case http.MethodPut:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			a.writeError(w, device.ErrInvalidJSON)
			return
		}
		d := &device.Device{}
		if err := d.LoadFromJSON(body); err != nil {
			a.writeError(w, err)
			return
		}
		// The token and owner come from the URL, not the body.
		d.DeviceToken = deviceParam
		d.User = user

		updated, err := a.svc.AddDevice(r.Context(), d)
		if err != nil {
			a.writeError(w, err)
			return
		}

		w.Header().Set("Location", fmt.Sprintf("/v1/users/%s/devices/%s", user, d.DeviceToken))
		status := http.StatusCreated
		if updated {
			status = http.StatusOK
		}
		a.writeDevice(w, status, d)

	case http.MethodDelete:
		d, err := a.findDevice(r, user, deviceParam)
		if err != nil {
			a.writeError(w, err)
			return
		}
		if err := a.svc.RemoveDevice(r.Context(), d); err != nil {
			a.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		a.methodNotAllowed(w)
	}
}

// findDevice resolves the :device path parameter, which may be a storage id
// or a device token.
func (a *API) findDevice(r *http.Request, user, deviceParam string) (*device.Device, error) {
	if _, err := primitive.ObjectIDFromHex(deviceParam); err == nil {
		return a.svc.FindDevice(r.Context(), user, deviceParam)
	}
	return a.svc.FindDeviceByToken(r.Context(), user, deviceParam)
}

func (a *API) handleNotify(w http.ResponseWriter, r *http.Request, _ router.Params) {
	if r.Method != http.MethodPost {
		a.methodNotAllowed(w)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		a.writeErrorBody(w, http.StatusBadRequest, "Missing or invalid fields in JSON payload.", jsonDomain, 0)
		return
	}

	n, users, tokens, ok := parseNotifyBody(body)
	if !ok {
		a.writeErrorBody(w, http.StatusBadRequest, "Missing or invalid fields in JSON payload.", jsonDomain, 0)
		return
	}

	if err := a.svc.Notify(r.Context(), n, users, tokens); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, struct{}{})
}

// parseNotifyBody validates a notify request. All of aps, c2dm, gcm
// (objects) and users, devices (arrays) are required, though they may be
// empty; collapse_key is optional. Non-string array elements are skipped.
func parseNotifyBody(body []byte) (*notification.Notification, []string, []string, bool) {
	var raw struct {
		APS         map[string]any `json:"aps"`
		C2DM        map[string]any `json:"c2dm"`
		GCM         map[string]any `json:"gcm"`
		Users       []any          `json:"users"`
		Devices     []any          `json:"devices"`
		CollapseKey string         `json:"collapse_key"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, nil, false
	}
	if raw.APS == nil || raw.C2DM == nil || raw.GCM == nil || raw.Users == nil || raw.Devices == nil {
		return nil, nil, nil, false
	}

	users := stringElements(raw.Users)
	tokens := stringElements(raw.Devices)

	n := &notification.Notification{
		APS:         raw.APS,
		C2DM:        raw.C2DM,
		GCM:         raw.GCM,
		CollapseKey: raw.CollapseKey,
	}
	return n, users, tokens, true
}

func stringElements(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

type errorBody struct {
	Message string `json:"message"`
	Domain  string `json:"domain"`
	Code    int    `json:"code"`
}

// writeError maps a service error onto the HTTP surface.
func (a *API) writeError(w http.ResponseWriter, err error) {
	var derr *device.Error
	if errors.As(err, &derr) {
		status := http.StatusInternalServerError
		switch derr.Code {
		case device.CodeMissingUser, device.CodeMissingID, device.CodeInvalidID, device.CodeNotFound:
			status = http.StatusNotFound
		case device.CodeInvalidJSON, device.CodeUnsupportedType:
			status = http.StatusBadRequest
		}
		a.writeErrorBody(w, status, derr.Message, device.Domain, derr.Code)
		return
	}

	a.logger.Error().Err(err).Msg("request failed")
	a.writeErrorBody(w, http.StatusInternalServerError, "An unexpected error occurred.", "PostalHttpError", 0)
}

func (a *API) writeErrorBody(w http.ResponseWriter, status int, message, domain string, code int) {
	a.writeJSON(w, status, errorBody{Message: message, Domain: domain, Code: code})
}

func (a *API) methodNotAllowed(w http.ResponseWriter) {
	a.writeErrorBody(w, http.StatusMethodNotAllowed, "Method not allowed.", "PostalHttpError", 0)
}

func (a *API) writeDevice(w http.ResponseWriter, status int, d *device.Device) {
	raw, err := d.SaveToJSON()
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(raw)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn().Err(err).Msg("failed to write response")
	}
}
