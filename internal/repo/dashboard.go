package repo

import (
	"context"

	"protocolo/internal/domain"
)

// PontoSerie is one day/tipo bucket of the registration line chart.
type PontoSerie struct {
	Dia   string `json:"dia"` // DD/MM
	Tipo  string `json:"tipo"`
	Total int    `json:"total"`
}

// Ranking is one row of a top-N aggregate.
type Ranking struct {
	Chave string `json:"chave"`
	Total int    `json:"total"`
}

// SerieRegistros counts registrations per day and tipo since the cutoff
// date (YYYY-MM-DD, inclusive).
func (r Repo) SerieRegistros(ctx context.Context, desde string) ([]PontoSerie, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT
substr(data_registro,9,2) || '/' || substr(data_registro,6,2) AS dia,
tipo, COUNT(*) AS total
FROM protocolos
WHERE substr(data_registro,1,10) >= ?
GROUP BY substr(data_registro,1,10), tipo
ORDER BY substr(data_registro,1,10)`, desde)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []PontoSerie
	for rows.Next() {
		var p PontoSerie
		if err := rows.Scan(&p.Dia, &p.Tipo, &p.Total); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// RankingAbertura lists the top openers by email_registrante.
func (r Repo) RankingAbertura(ctx context.Context, limit int) ([]Ranking, error) {
	return r.ranking(ctx, `SELECT email_registrante, COUNT(*) FROM protocolos GROUP BY 1 ORDER BY 2 DESC LIMIT ?`, limit)
}

// RankingTratativa lists the top resolvers among resolved protocols.
func (r Repo) RankingTratativa(ctx context.Context, limit int) ([]Ranking, error) {
	return r.ranking(ctx, `SELECT email_tratativa, COUNT(*) FROM protocolos
WHERE status=? AND email_tratativa IS NOT NULL GROUP BY 1 ORDER BY 2 DESC LIMIT ?`, limit, domain.StatusResolvido)
}

// RankingAssuntos lists the most frequent subjects.
func (r Repo) RankingAssuntos(ctx context.Context, limit int) ([]Ranking, error) {
	return r.ranking(ctx, `SELECT assunto, COUNT(*) FROM protocolos GROUP BY 1 ORDER BY 2 DESC LIMIT ?`, limit)
}

func (r Repo) ranking(ctx context.Context, query string, limit int, extra ...any) ([]Ranking, error) {
	args := append(extra, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Ranking
	for rows.Next() {
		var rk Ranking
		if err := rows.Scan(&rk.Chave, &rk.Total); err != nil {
			return nil, err
		}
		res = append(res, rk)
	}
	return res, rows.Err()
}
