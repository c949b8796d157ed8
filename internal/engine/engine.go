package engine

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"protocolo/internal/config"
	"protocolo/internal/domain"
	"protocolo/internal/identity"
	"protocolo/internal/ledger"
	"protocolo/internal/repo"
)

// Ledger is the movement sink the engine writes through. It is an interface
// so tests can inject append failures and prove the rollback path.
type Ledger interface {
	Append(ctx context.Context, tx *sql.Tx, protocoloID int64, origem, destino, responsavel, observacao string) error
	ListByProtocolo(ctx context.Context, protocoloID int64) ([]domain.Movimentacao, error)
}

// Observation markers attached per movement type. The text after the marker
// is stored verbatim; presentation layers classify on the prefix.
const (
	MarcadorAbertura       = "Abertura/Relato:"
	MarcadorEncaminhamento = "Encaminhamento:"
	MarcadorSolucao        = "Solução Final:"
)

// ValidationError marks a request rejected before any write.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

// Engine coordinates the protocol store and the movement ledger. Every
// lifecycle operation is one DB transaction: the row mutation and its ledger
// entry commit together or not at all.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Ledger   Ledger
	Identity identity.Resolver
	Config   *config.Config
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Ledger:   ledger.Writer{DB: db},
		Identity: identity.New(cfg),
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ProximoNumero computes the advisory next protocol number for the current
// minute bucket. It reserves nothing: uniqueness is enforced by the store's
// UNIQUE constraint at creation, and a Conflict there means re-fetch and retry.
func (e Engine) ProximoNumero(ctx context.Context) (string, error) {
	prefixo := e.Config.Numeracao.Prefixo + e.now().Format("200601021504")
	ultimo, err := e.Repo.UltimoNumero(ctx, prefixo)
	if err == repo.ErrNotFound {
		return prefixo + "1", nil
	}
	if err != nil {
		return "", err
	}
	seq, err := strconv.Atoi(strings.TrimPrefix(ultimo, prefixo))
	if err != nil {
		return "", fmt.Errorf("numero de protocolo malformado %q: %w", ultimo, err)
	}
	return prefixo + strconv.Itoa(seq+1), nil
}

// CriacaoOptions are parameters for registering a protocol.
type CriacaoOptions struct {
	Numero                string
	Tipo                  string
	Prestador             string
	CNPJ                  string
	Assunto               string
	Observacao            string
	Canal                 string
	Demandante            string
	TipoTratativa         string
	SecretariaEncaminhada string
	TratativaImediata     string
	Email                 string
	Role                  string
}

func (o CriacaoOptions) validate(cfg *config.Config) error {
	if o.Numero == "" {
		return ValidationError{Msg: "numero é obrigatório"}
	}
	if !domain.ValidTipo(o.Tipo) {
		return ValidationError{Msg: fmt.Sprintf("tipo desconhecido: %q", o.Tipo)}
	}
	if o.Prestador == "" {
		return ValidationError{Msg: "prestador é obrigatório"}
	}
	if o.Assunto == "" {
		return ValidationError{Msg: "assunto é obrigatório"}
	}
	if !domain.ValidCanal(o.Canal) {
		return ValidationError{Msg: fmt.Sprintf("canal desconhecido: %q", o.Canal)}
	}
	switch o.TipoTratativa {
	case domain.TratativaImediata:
		if strings.TrimSpace(o.TratativaImediata) == "" {
			return ValidationError{Msg: "tratativa_imediata é obrigatória para resolução imediata"}
		}
	case domain.TratativaEncaminhada:
		if o.SecretariaEncaminhada == "" {
			return ValidationError{Msg: "secretaria_encaminhada é obrigatória para encaminhamento"}
		}
		if !cfg.SecretariaConhecida(o.SecretariaEncaminhada) {
			return ValidationError{Msg: fmt.Sprintf("secretaria desconhecida: %q", o.SecretariaEncaminhada)}
		}
	default:
		return ValidationError{Msg: fmt.Sprintf("tipo_tratativa desconhecido: %q", o.TipoTratativa)}
	}
	return nil
}

// CriarProtocolo registers a protocol and its opening movement atomically.
// The imediato path creates the record already resolved; the standard path
// starts aberto, owned by the target department.
func (e Engine) CriarProtocolo(ctx context.Context, opts CriacaoOptions) (domain.Protocolo, error) {
	if !identity.PodeMutar(opts.Role) {
		return domain.Protocolo{}, identity.PermissionError{Email: opts.Email, Reason: "papel sem permissão para registrar protocolos"}
	}
	if err := opts.validate(e.Config); err != nil {
		return domain.Protocolo{}, err
	}
	now := domain.FormatTime(e.now())
	p := domain.Protocolo{
		NumeroProtocolo:  opts.Numero,
		Tipo:             opts.Tipo,
		Assunto:          opts.Assunto,
		Canal:            opts.Canal,
		Prestador:        opts.Prestador,
		CNPJ:             optionalString(opts.CNPJ),
		Demandante:       optionalString(opts.Demandante),
		Observacao:       optionalString(opts.Observacao),
		EmailRegistrante: opts.Email,
		TipoTratativa:    opts.TipoTratativa,
		DataRegistro:     now,
	}
	destino := ""
	if opts.TipoTratativa == domain.TratativaImediata {
		p.Status = domain.StatusResolvido
		p.DataFechamento = &now
		p.Tratativa = optionalString(opts.TratativaImediata)
		p.EmailTratativa = &opts.Email
		destino = domain.DestinoResolvidoImediato
	} else {
		p.Status = domain.StatusAberto
		p.SecretariaEncaminhada = &opts.SecretariaEncaminhada
		destino = opts.SecretariaEncaminhada
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Protocolo{}, err
	}
	defer tx.Rollback()

	id, err := e.Repo.InsertProtocolo(ctx, tx, p)
	if err != nil {
		return domain.Protocolo{}, err
	}
	p.ID = id
	obs := strings.TrimSpace(MarcadorAbertura + " " + opts.Observacao)
	if opts.TipoTratativa == domain.TratativaImediata {
		obs = obs + " | " + MarcadorSolucao + " " + opts.TratativaImediata
	}
	if err := e.Ledger.Append(ctx, tx, id, domain.SecretariaTriagem, destino, opts.Email, obs); err != nil {
		return domain.Protocolo{}, fmt.Errorf("registrar movimentação de abertura: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Protocolo{}, err
	}
	return p, nil
}

// AtualizacaoOptions describe one requested lifecycle transition.
type AtualizacaoOptions struct {
	ID             int64
	Status         string
	Tratativa      string
	NovaSecretaria string
	Email          string
	Role           string
}

// AtualizarProtocolo applies one state-machine transition and appends its
// movement, all inside a single transaction. The action is derived from the
// request: resolvido resolves, nova_secretaria forwards, anything else is a
// direct status edit.
func (e Engine) AtualizarProtocolo(ctx context.Context, opts AtualizacaoOptions) (domain.Protocolo, error) {
	if !identity.PodeMutar(opts.Role) {
		return domain.Protocolo{}, identity.PermissionError{Email: opts.Email, Reason: "papel sem permissão para tratar protocolos"}
	}
	if !domain.ValidStatus(opts.Status) {
		return domain.Protocolo{}, ValidationError{Msg: fmt.Sprintf("status desconhecido: %q", opts.Status)}
	}
	acao := AcaoEditarStatus
	switch {
	case opts.Status == domain.StatusResolvido:
		acao = AcaoResolver
	case opts.NovaSecretaria != "":
		acao = AcaoEncaminhar
	}
	if acao == AcaoResolver && strings.TrimSpace(opts.Tratativa) == "" {
		return domain.Protocolo{}, ValidationError{Msg: "tratativa é obrigatória para resolver"}
	}
	if acao == AcaoEncaminhar {
		if opts.Status != domain.StatusEmAndamento {
			return domain.Protocolo{}, ValidationError{Msg: "encaminhamento exige status em andamento"}
		}
		if !e.Config.SecretariaConhecida(opts.NovaSecretaria) {
			return domain.Protocolo{}, ValidationError{Msg: fmt.Sprintf("secretaria desconhecida: %q", opts.NovaSecretaria)}
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Protocolo{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProtocoloTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Protocolo{}, err
	}
	novo, err := proximoStatus(p.Status, acao, opts.Status)
	if err != nil {
		return domain.Protocolo{}, err
	}

	origem := domain.SecretariaTriagem
	if p.SecretariaEncaminhada != nil {
		origem = *p.SecretariaEncaminhada
	}
	destino := origem
	texto := opts.Tratativa
	obs := ""
	switch acao {
	case AcaoResolver:
		now := domain.FormatTime(e.now())
		p.DataFechamento = &now
		destino = domain.DestinoFinalizado
		obs = MarcadorSolucao + " " + texto
	case AcaoEncaminhar:
		p.SecretariaEncaminhada = &opts.NovaSecretaria
		destino = opts.NovaSecretaria
		obs = MarcadorEncaminhamento + " " + texto
	case AcaoEditarStatus:
		if strings.TrimSpace(texto) == "" {
			texto = fmt.Sprintf("Status alterado manualmente para %s", novo)
		}
		obs = texto
	}
	p.Status = novo
	p.EmailTratativa = &opts.Email
	p.Tratativa = &texto

	if err := e.Repo.UpdateProtocoloTx(ctx, tx, p); err != nil {
		return domain.Protocolo{}, err
	}
	if err := e.Ledger.Append(ctx, tx, p.ID, origem, destino, opts.Email, obs); err != nil {
		return domain.Protocolo{}, fmt.Errorf("registrar movimentação: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Protocolo{}, err
	}
	return p, nil
}

// ListarProtocolos returns protocols for a day (or all, when data is empty).
// The restrito role always receives an empty list, not an error.
func (e Engine) ListarProtocolos(ctx context.Context, role, data string) ([]domain.Protocolo, error) {
	if identity.LeituraVazia(role) {
		return []domain.Protocolo{}, nil
	}
	return e.Repo.ListProtocolos(ctx, repo.ProtocoloFilters{Data: data})
}

// Movimentacoes returns the ledger for one protocol, newest-first.
func (e Engine) Movimentacoes(ctx context.Context, role string, id int64) ([]domain.Movimentacao, error) {
	if identity.LeituraVazia(role) {
		return []domain.Movimentacao{}, nil
	}
	if _, err := e.Repo.GetProtocolo(ctx, id); err != nil {
		return nil, err
	}
	return e.Ledger.ListByProtocolo(ctx, id)
}

// HistoricoPage is the paginated history read model.
type HistoricoPage struct {
	Data       []domain.Protocolo `json:"data"`
	Total      int                `json:"total"`
	Page       int                `json:"page"`
	TotalPages int                `json:"totalPages"`
}

// HistoricoOptions filter and paginate the protocol history.
type HistoricoOptions struct {
	DataInicio string
	DataFim    string
	Tipo       string
	Assunto    string
	Page       int
	Limit      int
	Role       string
}

func (e Engine) Historico(ctx context.Context, opts HistoricoOptions) (HistoricoPage, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	limit := opts.Limit
	if limit < 1 {
		limit = 10
	}
	if identity.LeituraVazia(opts.Role) {
		return HistoricoPage{Data: []domain.Protocolo{}, Page: page}, nil
	}
	filters := repo.ProtocoloFilters{
		DataInicio: opts.DataInicio,
		DataFim:    opts.DataFim,
		Tipo:       opts.Tipo,
		Assunto:    opts.Assunto,
		Limit:      limit,
		Offset:     (page - 1) * limit,
	}
	total, err := e.Repo.CountProtocolos(ctx, filters)
	if err != nil {
		return HistoricoPage{}, err
	}
	items, err := e.Repo.ListProtocolos(ctx, filters)
	if err != nil {
		return HistoricoPage{}, err
	}
	if items == nil {
		items = []domain.Protocolo{}
	}
	return HistoricoPage{
		Data:       items,
		Total:      total,
		Page:       page,
		TotalPages: int(math.Ceil(float64(total) / float64(limit))),
	}, nil
}

// DashboardData aggregates the last seven days of registrations plus the
// top openers, resolvers and subjects.
type DashboardData struct {
	GraficoLinha     []repo.PontoSerie `json:"graficoLinha"`
	RankingAbertura  []repo.Ranking    `json:"rankingAbertura"`
	RankingTratativa []repo.Ranking    `json:"rankingTratativa"`
	RankingAssuntos  []repo.Ranking    `json:"rankingAssuntos"`
}

func (e Engine) Dashboard(ctx context.Context, role string) (DashboardData, error) {
	out := DashboardData{
		GraficoLinha:     []repo.PontoSerie{},
		RankingAbertura:  []repo.Ranking{},
		RankingTratativa: []repo.Ranking{},
		RankingAssuntos:  []repo.Ranking{},
	}
	if identity.LeituraVazia(role) {
		return out, nil
	}
	desde := e.now().UTC().AddDate(0, 0, -7).Format("2006-01-02")
	serie, err := e.Repo.SerieRegistros(ctx, desde)
	if err != nil {
		return out, err
	}
	abertura, err := e.Repo.RankingAbertura(ctx, 5)
	if err != nil {
		return out, err
	}
	tratativa, err := e.Repo.RankingTratativa(ctx, 5)
	if err != nil {
		return out, err
	}
	assuntos, err := e.Repo.RankingAssuntos(ctx, 5)
	if err != nil {
		return out, err
	}
	if serie != nil {
		out.GraficoLinha = serie
	}
	if abertura != nil {
		out.RankingAbertura = abertura
	}
	if tratativa != nil {
		out.RankingTratativa = tratativa
	}
	if assuntos != nil {
		out.RankingAssuntos = assuntos
	}
	return out, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
