package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"protocolo/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a UNIQUE violation on numero_protocolo. The
	// sequencer output is advisory; this is where uniqueness is enforced.
	ErrConflict = errors.New("numero de protocolo duplicado")
)

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const protocoloColumns = `id,numero_protocolo,tipo,assunto,canal,prestador,cnpj,demandante,observacao,email_registrante,email_tratativa,status,tipo_tratativa,secretaria_encaminhada,tratativa,data_registro,data_fechamento`

func scanProtocolo(scan func(dest ...any) error) (domain.Protocolo, error) {
	var p domain.Protocolo
	var cnpj, demandante, observacao, emailTratativa, secretaria, tratativa, fechamento sql.NullString
	err := scan(&p.ID, &p.NumeroProtocolo, &p.Tipo, &p.Assunto, &p.Canal, &p.Prestador,
		&cnpj, &demandante, &observacao, &p.EmailRegistrante, &emailTratativa,
		&p.Status, &p.TipoTratativa, &secretaria, &tratativa, &p.DataRegistro, &fechamento)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.CNPJ = optional(cnpj)
	p.Demandante = optional(demandante)
	p.Observacao = optional(observacao)
	p.EmailTratativa = optional(emailTratativa)
	p.SecretariaEncaminhada = optional(secretaria)
	p.Tratativa = optional(tratativa)
	p.DataFechamento = optional(fechamento)
	return p, nil
}

func (r Repo) InsertProtocolo(ctx context.Context, tx *sql.Tx, p domain.Protocolo) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO protocolos(numero_protocolo,tipo,assunto,canal,prestador,cnpj,demandante,observacao,email_registrante,email_tratativa,status,tipo_tratativa,secretaria_encaminhada,tratativa,data_registro,data_fechamento)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.NumeroProtocolo, p.Tipo, p.Assunto, p.Canal, p.Prestador,
		nullableStringPtr(p.CNPJ), nullableStringPtr(p.Demandante), nullableStringPtr(p.Observacao),
		p.EmailRegistrante, nullableStringPtr(p.EmailTratativa), p.Status, p.TipoTratativa,
		nullableStringPtr(p.SecretariaEncaminhada), nullableStringPtr(p.Tratativa),
		p.DataRegistro, nullableStringPtr(p.DataFechamento))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateProtocoloTx writes back the mutable lifecycle fields. Identity and
// registration fields never change after creation.
func (r Repo) UpdateProtocoloTx(ctx context.Context, tx *sql.Tx, p domain.Protocolo) error {
	res, err := tx.ExecContext(ctx, `UPDATE protocolos SET status=?, tratativa=?, email_tratativa=?, secretaria_encaminhada=?, data_fechamento=? WHERE id=?`,
		p.Status, nullableStringPtr(p.Tratativa), nullableStringPtr(p.EmailTratativa),
		nullableStringPtr(p.SecretariaEncaminhada), nullableStringPtr(p.DataFechamento), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetProtocolo(ctx context.Context, id int64) (domain.Protocolo, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+protocoloColumns+` FROM protocolos WHERE id=?`, id)
	return scanProtocolo(row.Scan)
}

func (r Repo) GetProtocoloTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Protocolo, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+protocoloColumns+` FROM protocolos WHERE id=?`, id)
	return scanProtocolo(row.Scan)
}

func (r Repo) GetProtocoloPorNumero(ctx context.Context, numero string) (domain.Protocolo, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+protocoloColumns+` FROM protocolos WHERE numero_protocolo=?`, numero)
	return scanProtocolo(row.Scan)
}

type ProtocoloFilters struct {
	Data       string // exact day, YYYY-MM-DD
	DataInicio string // range start, YYYY-MM-DD
	DataFim    string // range end, YYYY-MM-DD
	Tipo       string
	Assunto    string // case-insensitive substring
	Limit      int
	Offset     int
}

func (f ProtocoloFilters) clauses() ([]string, []any) {
	var clauses []string
	var args []any
	if f.Data != "" {
		clauses = append(clauses, "substr(data_registro,1,10)=?")
		args = append(args, f.Data)
	}
	if f.DataInicio != "" {
		clauses = append(clauses, "substr(data_registro,1,10)>=?")
		args = append(args, f.DataInicio)
	}
	if f.DataFim != "" {
		clauses = append(clauses, "substr(data_registro,1,10)<=?")
		args = append(args, f.DataFim)
	}
	if f.Tipo != "" {
		clauses = append(clauses, "tipo=?")
		args = append(args, f.Tipo)
	}
	if f.Assunto != "" {
		clauses = append(clauses, "assunto LIKE ? COLLATE NOCASE")
		args = append(args, "%"+f.Assunto+"%")
	}
	return clauses, args
}

func (r Repo) ListProtocolos(ctx context.Context, f ProtocoloFilters) ([]domain.Protocolo, error) {
	clauses, args := f.clauses()
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + protocoloColumns + ` FROM protocolos ` + where + ` ORDER BY data_registro DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Protocolo
	for rows.Next() {
		p, err := scanProtocolo(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CountProtocolos(ctx context.Context, f ProtocoloFilters) (int, error) {
	clauses, args := f.clauses()
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM protocolos `+where, args...).Scan(&total)
	return total, err
}

// UltimoNumero returns the highest existing protocol number for a bucket
// prefix, or ErrNotFound when the bucket is empty. Ordering by length first
// keeps numeric suffixes of different digit counts in the right order
// ("...10" after "...9").
func (r Repo) UltimoNumero(ctx context.Context, prefixo string) (string, error) {
	var numero string
	err := r.DB.QueryRowContext(ctx, `SELECT numero_protocolo FROM protocolos
WHERE numero_protocolo LIKE ?
ORDER BY length(numero_protocolo) DESC, numero_protocolo DESC
LIMIT 1`, prefixo+"%").Scan(&numero)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return numero, err
}

func optional(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
