package protocolosdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Protocolo HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

// Protocolo represents the API protocol model.
type Protocolo struct {
	ID                    int64   `json:"id"`
	NumeroProtocolo       string  `json:"numero_protocolo"`
	Tipo                  string  `json:"tipo"`
	Assunto               string  `json:"assunto"`
	Canal                 string  `json:"canal"`
	Prestador             string  `json:"prestador"`
	CNPJ                  *string `json:"cnpj,omitempty"`
	Demandante            *string `json:"demandante,omitempty"`
	Observacao            *string `json:"observacao,omitempty"`
	EmailRegistrante      string  `json:"email_registrante"`
	EmailTratativa        *string `json:"email_tratativa,omitempty"`
	Status                string  `json:"status"`
	TipoTratativa         string  `json:"tipo_tratativa"`
	SecretariaEncaminhada *string `json:"secretaria_encaminhada,omitempty"`
	Tratativa             *string `json:"tratativa,omitempty"`
	DataRegistro          string  `json:"data_registro"`
	DataFechamento        *string `json:"data_fechamento,omitempty"`
}

// Movimentacao is one ledger entry, timestamps already formatted for display.
type Movimentacao struct {
	ID                 int64  `json:"id"`
	SecretariaOrigem   string `json:"secretaria_origem"`
	SecretariaDestino  string `json:"secretaria_destino"`
	UsuarioResponsavel string `json:"usuario_responsavel"`
	Observacao         string `json:"observacao"`
	DataMovimentacao   string `json:"data_movimentacao"`
}

// Identity is the authenticated caller and their role.
type Identity struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// CriarProtocoloRequest is the creation payload. Leave NumeroProtocolo empty
// to let the server number the protocol.
type CriarProtocoloRequest struct {
	NumeroProtocolo       string `json:"numero_protocolo,omitempty"`
	Tipo                  string `json:"tipo"`
	Prestador             string `json:"prestador"`
	CNPJ                  string `json:"cnpj,omitempty"`
	Assunto               string `json:"assunto"`
	Observacao            string `json:"observacao,omitempty"`
	Canal                 string `json:"canal"`
	Demandante            string `json:"demandante,omitempty"`
	TipoTratativa         string `json:"tipo_tratativa"`
	SecretariaEncaminhada string `json:"secretaria_encaminhada,omitempty"`
	TratativaImediata     string `json:"tratativa_imediata,omitempty"`
}

// AtualizarProtocoloRequest is the transition payload.
type AtualizarProtocoloRequest struct {
	Status         string `json:"status"`
	Tratativa      string `json:"tratativa,omitempty"`
	NovaSecretaria string `json:"nova_secretaria,omitempty"`
}

// HistoricoPage is the paginated history envelope.
type HistoricoPage struct {
	Data       []Protocolo `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	TotalPages int         `json:"totalPages"`
}

// HistoricoFilters narrow and paginate the history listing.
type HistoricoFilters struct {
	DataInicio string
	DataFim    string
	Tipo       string
	Assunto    string
	Page       int
	Limit      int
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Identity returns the caller's email and resolved role.
func (c *Client) Identity(ctx context.Context) (Identity, error) {
	var resp Identity
	err := c.do(ctx, http.MethodGet, "v1/identity", nil, &resp)
	return resp, err
}

// NextNumber returns the advisory next protocol number. It is not a
// reservation; creation with it can still fail with 409 under concurrency.
func (c *Client) NextNumber(ctx context.Context) (string, error) {
	var resp struct {
		Protocolo string `json:"protocolo"`
	}
	err := c.do(ctx, http.MethodGet, "v1/next-protocol-number", nil, &resp)
	return resp.Protocolo, err
}

// CreateProtocolo registers a protocol.
func (c *Client) CreateProtocolo(ctx context.Context, req CriarProtocoloRequest) (Protocolo, error) {
	var resp Protocolo
	err := c.do(ctx, http.MethodPost, "v1/protocols", req, &resp)
	return resp, err
}

// GetProtocolo fetches a protocol by id.
func (c *Client) GetProtocolo(ctx context.Context, id int64) (Protocolo, error) {
	var resp Protocolo
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/protocols/%d", id), nil, &resp)
	return resp, err
}

// ListProtocolos lists protocols, optionally for one registration day.
func (c *Client) ListProtocolos(ctx context.Context, data string) ([]Protocolo, error) {
	endpoint := "v1/protocols"
	if data != "" {
		endpoint += "?data=" + url.QueryEscape(data)
	}
	var resp []Protocolo
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UpdateProtocolo applies one lifecycle transition.
func (c *Client) UpdateProtocolo(ctx context.Context, id int64, req AtualizarProtocoloRequest) (Protocolo, error) {
	var resp Protocolo
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("v1/protocols/%d", id), req, &resp)
	return resp, err
}

// Movimentacoes returns a protocol's movement ledger, newest first.
func (c *Client) Movimentacoes(ctx context.Context, id int64) ([]Movimentacao, error) {
	var resp []Movimentacao
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/protocols/%d/movimentacoes", id), nil, &resp)
	return resp, err
}

// Historico returns the filtered, paginated protocol history.
func (c *Client) Historico(ctx context.Context, f HistoricoFilters) (HistoricoPage, error) {
	q := url.Values{}
	if f.DataInicio != "" {
		q.Set("dataInicio", f.DataInicio)
	}
	if f.DataFim != "" {
		q.Set("dataFim", f.DataFim)
	}
	if f.Tipo != "" {
		q.Set("tipo", f.Tipo)
	}
	if f.Assunto != "" {
		q.Set("assunto", f.Assunto)
	}
	if f.Page > 0 {
		q.Set("page", fmt.Sprint(f.Page))
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprint(f.Limit))
	}
	endpoint := "v1/history"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp HistoricoPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
