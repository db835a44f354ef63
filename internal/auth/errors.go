package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrLockedOut          = errors.New("too many failed sign-in attempts")
	ErrInvalidConfig      = errors.New("auth backend not configured")
	ErrNoSession          = errors.New("no active session")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const (
	msgInvalidConfig      = "Configuración de Supabase inválida. Por favor, configura las variables de entorno en .env o usa el modo desarrollo"
	msgInvalidCredentials = "Email o contraseña incorrectos."
	msgLockedOut          = "Demasiados intentos fallidos. Intenta de nuevo en %d minutos."
	msgAuthUnavailable    = "No se pudo conectar con el servicio de autenticación. Verifica tu conexión a internet."
)

// BackendError is an error response from the auth backend.
type BackendError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth backend: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("auth backend: status %d: %s", e.StatusCode, e.Message)
}

// Rejected reports whether the backend refused the credentials, as
// opposed to failing for transport or server reasons.
func (e *BackendError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// UserError is a failed auth operation with a message suitable for display.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string { return e.Message }
func (e *UserError) Unwrap() error { return e.Err }

// mapBackendError turns backend failures into messages for the user.
func mapBackendError(err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if !errors.As(err, &be) {
		return &UserError{Message: msgAuthUnavailable, Err: err}
	}

	msg := strings.ToLower(be.Message + " " + be.Code)
	switch {
	case strings.Contains(msg, "invalid login credentials") || strings.Contains(msg, "invalid_credentials") || strings.Contains(msg, "invalid_grant"):
		return &UserError{Message: msgInvalidCredentials, Err: errors.Join(ErrInvalidCredentials, err)}
	case strings.Contains(msg, "email not confirmed"):
		return &UserError{Message: "Debes confirmar tu email antes de iniciar sesión.", Err: err}
	case strings.Contains(msg, "already registered") || strings.Contains(msg, "user_already_exists"):
		return &UserError{Message: "Este email ya está registrado.", Err: err}
	case strings.Contains(msg, "password should be") || strings.Contains(msg, "weak_password"):
		return &UserError{Message: "La contraseña no cumple los requisitos de seguridad.", Err: err}
	case be.StatusCode == http.StatusTooManyRequests:
		return &UserError{Message: "Demasiadas solicitudes. Espera un momento e intenta de nuevo.", Err: err}
	case be.StatusCode >= 500:
		return &UserError{Message: "El servicio de autenticación no está disponible. Intenta más tarde.", Err: err}
	}
	if be.Message != "" {
		return &UserError{Message: be.Message, Err: err}
	}
	return &UserError{Message: "Error desconocido en autenticación", Err: err}
}
