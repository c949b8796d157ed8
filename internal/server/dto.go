package server

import (
	"time"

	"protocolo/internal/domain"
)

// Request payloads

type CriarProtocoloRequest struct {
	NumeroProtocolo       string `json:"numero_protocolo,omitempty"`
	Tipo                  string `json:"tipo" enum:"solicitação,informação,reclamação"`
	Prestador             string `json:"prestador"`
	CNPJ                  string `json:"cnpj,omitempty"`
	Assunto               string `json:"assunto"`
	Observacao            string `json:"observacao,omitempty"`
	Canal                 string `json:"canal" enum:"telefone,email"`
	Demandante            string `json:"demandante,omitempty"`
	TipoTratativa         string `json:"tipo_tratativa" enum:"imediato,encaminhado"`
	SecretariaEncaminhada string `json:"secretaria_encaminhada,omitempty"`
	TratativaImediata     string `json:"tratativa_imediata,omitempty"`
}

type AtualizarProtocoloRequest struct {
	Status         string `json:"status" enum:"aberto,em andamento,resolvido"`
	Tratativa      string `json:"tratativa,omitempty"`
	NovaSecretaria string `json:"nova_secretaria,omitempty"`
}

// Response payloads

type IdentityResponse struct {
	Email string `json:"email"`
	Role  string `json:"role" enum:"admin,colaborador,cliente,restrito"`
}

type NumeroResponse struct {
	Protocolo string `json:"protocolo"`
}

type MovimentacaoResponse struct {
	ID                 int64  `json:"id"`
	SecretariaOrigem   string `json:"secretaria_origem"`
	SecretariaDestino  string `json:"secretaria_destino"`
	UsuarioResponsavel string `json:"usuario_responsavel"`
	Observacao         string `json:"observacao"`
	DataMovimentacao   string `json:"data_movimentacao" example:"14/03/2026 15:09"`
}

func movimentacaoResponse(m domain.Movimentacao) MovimentacaoResponse {
	return MovimentacaoResponse{
		ID:                 m.ID,
		SecretariaOrigem:   m.SecretariaOrigem,
		SecretariaDestino:  m.SecretariaDestino,
		UsuarioResponsavel: m.UsuarioResponsavel,
		Observacao:         m.Observacao,
		DataMovimentacao:   displayTimestamp(m.DataMovimentacao),
	}
}

func mapMovimentacoes(items []domain.Movimentacao) []MovimentacaoResponse {
	res := make([]MovimentacaoResponse, 0, len(items))
	for _, m := range items {
		res = append(res, movimentacaoResponse(m))
	}
	return res
}

// displayTimestamp renders a stored RFC3339 instant as DD/MM/YYYY HH:MM for
// the movement views. Malformed values pass through unchanged.
func displayTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.Format("02/01/2006 15:04")
}
