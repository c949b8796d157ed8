package identity

import (
	"fmt"
	"strings"

	"protocolo/internal/config"
)

// Role tiers, from most to least privileged.
const (
	RoleAdmin       = "admin"
	RoleColaborador = "colaborador"
	RoleCliente     = "cliente"
	RoleRestrito    = "restrito"
)

// PermissionError indicates the principal may not perform the operation.
type PermissionError struct {
	Email  string
	Reason string
}

func (e PermissionError) Error() string {
	return fmt.Sprintf("acesso negado para %s: %s", e.Email, e.Reason)
}

// Resolver maps verified principal emails to roles using the injected
// allow-lists. It performs no I/O.
type Resolver struct {
	Config *config.Config
}

func New(cfg *config.Config) Resolver {
	return Resolver{Config: cfg}
}

// Resolve returns the role for a verified email. Emails outside both the
// organization domain and the client allow-list are rejected: they are not
// principals of this system at all.
func (r Resolver) Resolve(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", PermissionError{Email: email, Reason: "email vazio"}
	}
	inDomain := strings.HasSuffix(email, "@"+r.Config.Organizacao.Dominio)
	isCliente := containsEmail(r.Config.Acesso.Clientes, email)
	if !inDomain && !isCliente {
		return "", PermissionError{Email: email, Reason: "domínio ou usuário não autorizado"}
	}
	switch {
	case containsEmail(r.Config.Acesso.Admins, email):
		return RoleAdmin, nil
	case containsEmail(r.Config.Acesso.Colaboradores, email):
		return RoleColaborador, nil
	case isCliente:
		return RoleCliente, nil
	default:
		return RoleRestrito, nil
	}
}

// PodeMutar reports whether the role may create or transition protocols.
func PodeMutar(role string) bool {
	return role == RoleAdmin || role == RoleColaborador
}

// LeituraVazia reports whether read endpoints must return empty result sets
// for the role instead of data.
func LeituraVazia(role string) bool {
	return role == RoleRestrito
}

func containsEmail(list []string, email string) bool {
	for _, e := range list {
		if strings.EqualFold(strings.TrimSpace(e), email) {
			return true
		}
	}
	return false
}
