package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"

	"github.com/go-chi/chi/v5"
	"github.com/mnehpets/socialauth/logging"
	"github.com/mnehpets/socialauth/oautherr"
	"go.uber.org/zap"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 16 << 10

// Renderer writes a response. Endpoints return one instead of writing to
// the ResponseWriter themselves; cookies set before Render are kept.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// JSONRenderer writes Value as JSON.
type JSONRenderer struct {
	Status int
	Value  any
}

func (jr *JSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json")
	status := jr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(jr.Value)
}

// RedirectRenderer redirects the client to URL.
//
// If Status is 0, it defaults to http.StatusFound.
type RedirectRenderer struct {
	URL    string
	Status int
}

func (rr *RedirectRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	status := rr.Status
	if status == 0 {
		status = http.StatusFound
	}
	http.Redirect(w, r, rr.URL, status)
	return nil
}

// APIError is an error returned to a JSON client.
type APIError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Cause }

func badRequest(message string, err error) error {
	return &APIError{Status: http.StatusBadRequest, Code: "bad_request", Message: message, Cause: err}
}

// endpointFunc handles a request whose parameters have been decoded into P.
type endpointFunc[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// handle adapts fn to an http.HandlerFunc. Errors become JSON error bodies:
// an *APIError keeps its status, an *oautherr.Error maps through
// statusForCode, anything else is a 500.
func handle[P any](fn endpointFunc[P]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params P
		renderer, err := func() (Renderer, error) {
			if err := decodeParams(r, &params); err != nil {
				return nil, err
			}
			return fn(w, r, params)
		}()
		if err == nil && renderer == nil {
			err = errors.New("web: nil renderer")
		}
		if err != nil {
			renderer = errorRenderer(r, err)
		}
		if err := renderer.Render(w, r); err != nil {
			logging.From(r.Context(), nil).Warn("render failed", zap.Error(err))
		}
	}
}

func errorRenderer(r *http.Request, err error) Renderer {
	body := map[string]any{"success": false}
	status := http.StatusInternalServerError

	var ae *APIError
	var oe *oautherr.Error
	switch {
	case errors.As(err, &ae):
		status = ae.Status
		body["error"] = ae.Code
		body["message"] = ae.Message
	case errors.As(err, &oe):
		status = statusForCode(oe.Code)
		body["error"] = oe.Code
		body["message"] = oautherr.UserMessage(oe.Code, oe.Message)
	default:
		body["error"] = "internal_error"
		body["message"] = http.StatusText(status)
	}
	log := logging.From(r.Context(), nil)
	if status >= 500 {
		log.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		log.Info("request rejected", zap.Int("status", status), zap.Error(err))
	}
	return &JSONRenderer{Status: status, Value: body}
}

func statusForCode(code oautherr.Code) int {
	switch code {
	case oautherr.SessionExpired:
		return http.StatusUnauthorized
	case oautherr.InvalidProvider, oautherr.InvalidState, oautherr.InvalidScope:
		return http.StatusBadRequest
	case oautherr.MissingConfig:
		return http.StatusServiceUnavailable
	case oautherr.NetworkError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// decodeParams fills the string fields of the struct dst points to from the
// request. Supported tags:
//
//	path:"name"   chi URL parameter
//	query:"name"  first query value
//	body:"json"   JSON request body into the tagged field; an empty body is
//	              left as the zero value
func decodeParams(r *http.Request, dst any) error {
	v := reflect.ValueOf(dst).Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("web: params must be a struct, got %s", v.Kind())
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := v.Field(i)
		if enc, ok := sf.Tag.Lookup("body"); ok {
			if enc != "json" {
				return fmt.Errorf("web: field %s: unsupported body encoding %q", sf.Name, enc)
			}
			if err := decodeJSONBody(r, fv.Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		var value string
		var found bool
		if name, ok := sf.Tag.Lookup("path"); ok {
			value, found = chi.URLParam(r, name), true
		} else if name, ok := sf.Tag.Lookup("query"); ok {
			value, found = r.URL.Query().Get(name), true
		}
		if !found {
			continue
		}
		if fv.Kind() != reflect.String {
			return fmt.Errorf("web: field %s: only string parameters are supported", sf.Name)
		}
		fv.SetString(value)
	}
	return nil
}

func decodeJSONBody(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return badRequest("Invalid JSON body", err)
	}
	return nil
}
