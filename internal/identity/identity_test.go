package identity_test

import (
	"errors"
	"testing"

	"protocolo/internal/config"
	"protocolo/internal/identity"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Organizacao.Dominio = "acme.com.br"
	cfg.Acesso.Admins = []string{"chefe@acme.com.br"}
	cfg.Acesso.Colaboradores = []string{"ana@acme.com.br"}
	cfg.Acesso.Clientes = []string{"externo@parceiro.com"}
	return cfg
}

func TestResolveRoles(t *testing.T) {
	r := identity.New(testConfig())
	cases := []struct {
		email string
		want  string
	}{
		{"chefe@acme.com.br", identity.RoleAdmin},
		{"ana@acme.com.br", identity.RoleColaborador},
		{"externo@parceiro.com", identity.RoleCliente},
		{"alguem@acme.com.br", identity.RoleRestrito},
		{"  ANA@acme.com.br ", identity.RoleColaborador},
	}
	for _, tc := range cases {
		got, err := r.Resolve(tc.email)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tc.email, err)
		}
		if got != tc.want {
			t.Fatalf("Resolve(%q) = %q, want %q", tc.email, got, tc.want)
		}
	}
}

func TestResolveAdminListWinsOverClienteList(t *testing.T) {
	cfg := testConfig()
	cfg.Acesso.Admins = append(cfg.Acesso.Admins, "externo@parceiro.com")
	r := identity.New(cfg)
	got, err := r.Resolve("externo@parceiro.com")
	if err != nil {
		t.Fatal(err)
	}
	if got != identity.RoleAdmin {
		t.Fatalf("expected admin priority, got %q", got)
	}
}

func TestResolveRejectsOutsiders(t *testing.T) {
	r := identity.New(testConfig())
	for _, email := range []string{"intruso@outro.com", ""} {
		_, err := r.Resolve(email)
		var pe identity.PermissionError
		if !errors.As(err, &pe) {
			t.Fatalf("Resolve(%q): expected PermissionError, got %v", email, err)
		}
	}
}

func TestRoleCapabilities(t *testing.T) {
	if !identity.PodeMutar(identity.RoleAdmin) || !identity.PodeMutar(identity.RoleColaborador) {
		t.Fatal("admin and colaborador must be allowed to mutate")
	}
	if identity.PodeMutar(identity.RoleCliente) || identity.PodeMutar(identity.RoleRestrito) {
		t.Fatal("cliente and restrito are read-only")
	}
	if !identity.LeituraVazia(identity.RoleRestrito) {
		t.Fatal("restrito reads must be empty")
	}
	if identity.LeituraVazia(identity.RoleCliente) {
		t.Fatal("cliente reads must not be empty")
	}
}
