package engine

import (
	"fmt"

	"protocolo/internal/domain"
)

// Acao is a lifecycle operation requested against an existing protocol.
type Acao string

const (
	AcaoEncaminhar   Acao = "encaminhar"
	AcaoResolver     Acao = "resolver"
	AcaoEditarStatus Acao = "editar-status"
)

type transicao struct {
	De   string
	Acao Acao
}

// tabelaTransicoes is the whole state machine: current status and action to
// resulting status. Absent pairs are forbidden; resolvido is terminal and
// therefore never appears as a source.
var tabelaTransicoes = map[transicao]string{
	{domain.StatusAberto, AcaoEncaminhar}:        domain.StatusEmAndamento,
	{domain.StatusEmAndamento, AcaoEncaminhar}:   domain.StatusEmAndamento,
	{domain.StatusAberto, AcaoResolver}:          domain.StatusResolvido,
	{domain.StatusEmAndamento, AcaoResolver}:     domain.StatusResolvido,
	{domain.StatusAberto, AcaoEditarStatus}:      "",
	{domain.StatusEmAndamento, AcaoEditarStatus}: "",
}

// proximoStatus resolves the state machine for one requested transition.
// For AcaoEditarStatus the caller supplies the target, which may be any
// non-resolve status; the other actions ignore solicitado.
func proximoStatus(atual string, acao Acao, solicitado string) (string, error) {
	destino, ok := tabelaTransicoes[transicao{atual, acao}]
	if !ok {
		return "", ValidationError{Msg: fmt.Sprintf("transição inválida: %s não admite %s", atual, acao)}
	}
	if acao != AcaoEditarStatus {
		return destino, nil
	}
	if solicitado == domain.StatusResolvido {
		return "", ValidationError{Msg: "resolução exige a ação resolver"}
	}
	if !domain.ValidStatus(solicitado) {
		return "", ValidationError{Msg: fmt.Sprintf("status desconhecido: %q", solicitado)}
	}
	return solicitado, nil
}
