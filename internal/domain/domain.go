package domain

import "time"

// TimeLayout is the stored timestamp form: UTC with a fixed-width nanosecond
// fraction, so lexicographic order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders an instant in the stored timestamp form.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Status values a protocol can hold.
const (
	StatusAberto      = "aberto"
	StatusEmAndamento = "em andamento"
	StatusResolvido   = "resolvido"
)

// Tipo values accepted at registration.
const (
	TipoSolicitacao = "solicitação"
	TipoInformacao  = "informação"
	TipoReclamacao  = "reclamação"
)

// Canal values accepted at registration.
const (
	CanalTelefone = "telefone"
	CanalEmail    = "email"
)

// TipoTratativa selects the creation path.
const (
	TratativaImediata    = "imediato"
	TratativaEncaminhada = "encaminhado"
)

// Fixed movement labels. SecretariaTriagem is the origin of every opening
// movement; the two Destino* labels mark a movement as a resolution.
const (
	SecretariaTriagem        = "Triagem"
	DestinoFinalizado        = "Finalizado"
	DestinoResolvidoImediato = "Resolvido Imediato"
)

// IsResolucao reports whether a movement destination marks the protocol as
// resolved. Both historical labels count; nothing else may string-match them.
func IsResolucao(destino string) bool {
	return destino == DestinoFinalizado || destino == DestinoResolvidoImediato
}

// ValidStatus reports whether s is a known protocol status.
func ValidStatus(s string) bool {
	return s == StatusAberto || s == StatusEmAndamento || s == StatusResolvido
}

// ValidTipo reports whether t is a known protocol type.
func ValidTipo(t string) bool {
	return t == TipoSolicitacao || t == TipoInformacao || t == TipoReclamacao
}

// ValidCanal reports whether c is a known contact channel.
func ValidCanal(c string) bool {
	return c == CanalTelefone || c == CanalEmail
}

type Protocolo struct {
	ID                    int64   `json:"id"`
	NumeroProtocolo       string  `json:"numero_protocolo"`
	Tipo                  string  `json:"tipo" enum:"solicitação,informação,reclamação"`
	Assunto               string  `json:"assunto"`
	Canal                 string  `json:"canal" enum:"telefone,email"`
	Prestador             string  `json:"prestador"`
	CNPJ                  *string `json:"cnpj,omitempty"`
	Demandante            *string `json:"demandante,omitempty"`
	Observacao            *string `json:"observacao,omitempty"`
	EmailRegistrante      string  `json:"email_registrante"`
	EmailTratativa        *string `json:"email_tratativa,omitempty"`
	Status                string  `json:"status" enum:"aberto,em andamento,resolvido"`
	TipoTratativa         string  `json:"tipo_tratativa" enum:"imediato,encaminhado"`
	SecretariaEncaminhada *string `json:"secretaria_encaminhada,omitempty"`
	Tratativa             *string `json:"tratativa,omitempty"`
	DataRegistro          string  `json:"data_registro" format:"date-time"`
	DataFechamento        *string `json:"data_fechamento,omitempty" format:"date-time"`
}

// Resolvido reports whether the protocol reached its terminal state.
func (p Protocolo) Resolvido() bool {
	return p.Status == StatusResolvido
}

type Movimentacao struct {
	ID                 int64  `json:"id"`
	ProtocoloID        int64  `json:"protocolo_id"`
	SecretariaOrigem   string `json:"secretaria_origem"`
	SecretariaDestino  string `json:"secretaria_destino"`
	UsuarioResponsavel string `json:"usuario_responsavel"`
	Observacao         string `json:"observacao"`
	DataMovimentacao   string `json:"data_movimentacao" format:"date-time"`
}
