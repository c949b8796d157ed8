package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"protocolo/internal/config"
	"protocolo/internal/db"
	"protocolo/internal/domain"
	"protocolo/internal/engine"
	"protocolo/internal/identity"
	"protocolo/internal/ledger"
	"protocolo/internal/migrate"
)

const testSecret = "test-secret"

var testClock = time.Date(2026, 3, 14, 15, 9, 0, 0, time.UTC)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.FromYAML([]byte(`organizacao:
  dominio: example.com.br
acesso:
  admins: [chefe@example.com.br]
  colaboradores: [ana@example.com.br]
  clientes: [cliente@fora.com]
numeracao:
  prefixo: SIS
secretarias: [Atendimento, Financeiro]
`))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	cfg := testConfig(t)
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return testClock }
	e.Ledger = ledger.Writer{DB: conn, Now: e.Now}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, Resolver: identity.New(cfg)},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func signToken(t *testing.T, email string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": email,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authHeader(t *testing.T, email string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + signToken(t, email)}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func criaPayload() map[string]any {
	return map[string]any{
		"tipo":                   "reclamação",
		"prestador":              "Prestadora X",
		"assunto":                "Cobrança indevida",
		"observacao":             "fatura duplicada",
		"canal":                  "telefone",
		"tipo_tratativa":         "encaminhado",
		"secretaria_encaminhada": "Atendimento",
	}
}

func TestHealthOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticated(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/protocols", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code = %q, want unauthorized", envelope.Error.Code)
	}
}

func TestForaDoDominio(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/identity", nil, authHeader(t, "intruso@outra.com"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d, want 403: %s", res.StatusCode, string(data))
	}
}

func TestIdentityRoles(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	cases := map[string]string{
		"chefe@example.com.br":  "admin",
		"ana@example.com.br":    "colaborador",
		"cliente@fora.com":      "cliente",
		"alguem@example.com.br": "restrito",
	}
	for email, want := range cases {
		res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/identity", nil, authHeader(t, email))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d: %s", email, res.StatusCode, string(data))
		}
		var ident IdentityResponse
		if err := json.Unmarshal(data, &ident); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ident.Role != want {
			t.Fatalf("%s: role = %q, want %q", email, ident.Role, want)
		}
	}
}

func TestFluxoCompleto(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	colab := authHeader(t, "ana@example.com.br")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/next-protocol-number", nil, colab)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("next number status %d: %s", res.StatusCode, string(data))
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal numero: %v", err)
	}
	if raw["protocolo"] != "SIS2026031415091" {
		t.Fatalf("body = %s, want key protocolo with SIS2026031415091", string(data))
	}

	payload := criaPayload()
	payload["numero_protocolo"] = raw["protocolo"]
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/protocols", payload, colab)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Protocolo
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal protocolo: %v", err)
	}
	if created.Status != "aberto" {
		t.Fatalf("status = %q, want aberto", created.Status)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/protocols/"+itoa(created.ID), map[string]any{
		"status":          "em andamento",
		"tratativa":       "análise da fatura",
		"nova_secretaria": "Financeiro",
	}, colab)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("forward status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/protocols/"+itoa(created.ID), map[string]any{
		"status":    "resolvido",
		"tratativa": "valor estornado",
	}, colab)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", res.StatusCode, string(data))
	}
	var resolved domain.Protocolo
	_ = json.Unmarshal(data, &resolved)
	if resolved.Status != "resolvido" || resolved.DataFechamento == nil {
		t.Fatalf("resolved = %+v, want status resolvido with data_fechamento", resolved)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/protocols/"+itoa(created.ID)+"/movimentacoes", nil, colab)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("movements status %d: %s", res.StatusCode, string(data))
	}
	var movs []MovimentacaoResponse
	if err := json.Unmarshal(data, &movs); err != nil {
		t.Fatalf("unmarshal movements: %v", err)
	}
	if len(movs) != 3 {
		t.Fatalf("movements = %d, want 3", len(movs))
	}
	if movs[0].SecretariaDestino != "Finalizado" {
		t.Fatalf("latest destino = %q, want Finalizado", movs[0].SecretariaDestino)
	}
	if movs[0].DataMovimentacao != "14/03/2026 15:09" {
		t.Fatalf("display timestamp = %q, want 14/03/2026 15:09", movs[0].DataMovimentacao)
	}

	// The consumed number now collides.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/protocols", payload, colab)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate create status %d, want 409: %s", res.StatusCode, string(data))
	}
}

func TestClienteNaoPodeMutar(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	cliente := authHeader(t, "cliente@fora.com")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/protocols", criaPayload(), cliente)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("create status %d, want 403: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/protocols", nil, cliente)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
}

func TestRestritoListaVazia(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	colab := authHeader(t, "ana@example.com.br")
	restrito := authHeader(t, "alguem@example.com.br")

	payload := criaPayload()
	payload["numero_protocolo"] = "SIS2026031415091"
	if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/protocols", payload, colab); res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/protocols", nil, restrito)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Fatalf("restrito list = %s, want []", string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/next-protocol-number", nil, restrito)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("next number status %d, want 403: %s", res.StatusCode, string(data))
	}
}

func TestHistoricoEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	colab := authHeader(t, "ana@example.com.br")

	for _, n := range []string{"SIS2026031415091", "SIS2026031415092", "SIS2026031415093"} {
		payload := criaPayload()
		payload["numero_protocolo"] = n
		if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/protocols", payload, colab); res.StatusCode != http.StatusCreated {
			t.Fatalf("create %s status %d: %s", n, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/history?page=1&limit=2", nil, colab)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(data))
	}
	var page engine.HistoricoPage
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if page.Total != 3 || page.TotalPages != 2 || len(page.Data) != 2 || page.Page != 1 {
		t.Fatalf("page = {total:%d pages:%d len:%d page:%d}, want {3 2 2 1}", page.Total, page.TotalPages, len(page.Data), page.Page)
	}
}

func TestDashboardEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	colab := authHeader(t, "ana@example.com.br")

	payload := criaPayload()
	payload["numero_protocolo"] = "SIS2026031415091"
	if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/protocols", payload, colab); res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/dashboard-data", nil, colab)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status %d: %s", res.StatusCode, string(data))
	}
	var dash engine.DashboardData
	if err := json.Unmarshal(data, &dash); err != nil {
		t.Fatalf("unmarshal dashboard: %v", err)
	}
	if len(dash.GraficoLinha) != 1 || dash.GraficoLinha[0].Dia != "14/03" {
		t.Fatalf("grafico = %+v, want one bucket on 14/03", dash.GraficoLinha)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
