package ledger

import (
	"context"
	"database/sql"
	"time"

	"protocolo/internal/domain"
)

// Writer appends movements inside the caller's transaction so a protocol
// mutation and its ledger entry commit or roll back together.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append inserts one immutable movement. There is no update or delete.
// Timestamps are strictly increasing per protocol: when the clock has not
// advanced past the previous entry, the new stamp is bumped one nanosecond
// above it.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, protocoloID int64, origem, destino, responsavel, observacao string) error {
	ts := w.now().UTC()
	var last string
	err := tx.QueryRowContext(ctx, `SELECT data_movimentacao FROM movimentacoes WHERE protocolo_id=? ORDER BY id DESC LIMIT 1`, protocoloID).Scan(&last)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return err
	default:
		if prev, perr := time.Parse(domain.TimeLayout, last); perr == nil && !ts.After(prev) {
			ts = prev.Add(time.Nanosecond)
		}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO movimentacoes(protocolo_id,secretaria_origem,secretaria_destino,usuario_responsavel,observacao,data_movimentacao) VALUES (?,?,?,?,?,?)`,
		protocoloID, origem, destino, responsavel, observacao, domain.FormatTime(ts))
	return err
}

// ListByProtocolo returns movements newest-first for display. Causal order
// is the insertion order (ascending id; oldest row is the opening movement).
func (w Writer) ListByProtocolo(ctx context.Context, protocoloID int64) ([]domain.Movimentacao, error) {
	rows, err := w.DB.QueryContext(ctx, `SELECT id,protocolo_id,secretaria_origem,secretaria_destino,usuario_responsavel,observacao,data_movimentacao
FROM movimentacoes WHERE protocolo_id=? ORDER BY data_movimentacao DESC, id DESC`, protocoloID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Movimentacao
	for rows.Next() {
		var m domain.Movimentacao
		if err := rows.Scan(&m.ID, &m.ProtocoloID, &m.SecretariaOrigem, &m.SecretariaDestino, &m.UsuarioResponsavel, &m.Observacao, &m.DataMovimentacao); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// CountByProtocolo returns the ledger size for one protocol.
func (w Writer) CountByProtocolo(ctx context.Context, protocoloID int64) (int, error) {
	var n int
	err := w.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM movimentacoes WHERE protocolo_id=?`, protocoloID).Scan(&n)
	return n, err
}
