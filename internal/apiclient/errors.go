package apiclient

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lox/topografia/internal/htmlutil"
)

// User-facing messages, in the language of the survey crews.
const (
	msgNetwork      = "No se pudo conectar con el servidor. Verifica tu conexión a internet."
	msgBadRequest   = "Los datos enviados no son válidos."
	msgUnauthorized = "Tu sesión ha expirado. Por favor inicia sesión nuevamente."
	msgForbidden    = "No tienes permisos para realizar esta acción."
	msgNotFound     = "El recurso solicitado no existe."
	msgValidation   = "Los datos enviados contienen errores de validación."
	msgInternal     = "Error interno del servidor. Por favor intenta más tarde."
	msgDefault      = "Error del servidor (%d). Por favor intenta más tarde."
)

// Error is a failed API call. StatusCode is 0 when no response was received.
type Error struct {
	Method        string
	Path          string
	StatusCode    int
	Message       string
	ServerMessage string
	Err           error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus lets retry policies inspect the status without importing this package.
func (e *Error) HTTPStatus() int { return e.StatusCode }

func (e *Error) IsNetworkError() bool { return e.StatusCode == 0 }
func (e *Error) IsServerError() bool  { return e.StatusCode >= 500 }
func (e *Error) IsClientError() bool  { return e.StatusCode >= 400 && e.StatusCode < 500 }
func (e *Error) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
func (e *Error) IsValidationError() bool {
	return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity
}

func networkError(method, path string, err error) *Error {
	return &Error{Method: method, Path: path, Message: msgNetwork, Err: err}
}

func responseError(method, path string, status int, contentType string, body []byte) *Error {
	serverMsg := serverMessage(contentType, body)
	return &Error{
		Method:        method,
		Path:          path,
		StatusCode:    status,
		Message:       userMessage(status, serverMsg),
		ServerMessage: serverMsg,
	}
}

func userMessage(status int, serverMsg string) string {
	switch status {
	case http.StatusBadRequest:
		return firstNonEmpty(serverMsg, msgBadRequest)
	case http.StatusUnauthorized:
		return msgUnauthorized
	case http.StatusForbidden:
		return msgForbidden
	case http.StatusNotFound:
		return msgNotFound
	case http.StatusUnprocessableEntity:
		return firstNonEmpty(serverMsg, msgValidation)
	case http.StatusInternalServerError:
		return msgInternal
	}
	return firstNonEmpty(serverMsg, fmt.Sprintf(msgDefault, status))
}

// serverMessage extracts the error text from a response body. FastAPI
// sends {"detail": "..."} or, for validation errors, {"detail": [{"msg": ...}]}.
func serverMessage(contentType string, body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if gjson.ValidBytes(body) {
		detail := gjson.GetBytes(body, "detail")
		switch {
		case detail.Type == gjson.String:
			return strings.TrimSpace(detail.String())
		case detail.IsArray():
			var msgs []string
			detail.ForEach(func(_, item gjson.Result) bool {
				if m := item.Get("msg").String(); m != "" {
					msgs = append(msgs, m)
				}
				return true
			})
			return strings.Join(msgs, "; ")
		}
		if m := gjson.GetBytes(body, "message"); m.Type == gjson.String {
			return strings.TrimSpace(m.String())
		}
		return ""
	}
	if htmlutil.LooksLikeHTML(contentType, body) {
		return htmlutil.ErrorText(body, 200)
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
