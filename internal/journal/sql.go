package journal

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "AgentKit-Chain/internal/errors"
)

const (
	createActionsTable = `CREATE TABLE IF NOT EXISTS agent_actions (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        agent VARCHAR(128) NOT NULL,
        action_type VARCHAR(128) NOT NULL,
        params TEXT NOT NULL,
        success TINYINT(1) NOT NULL,
        tx_hash VARCHAR(66) DEFAULT '',
        gas_used BIGINT UNSIGNED NOT NULL DEFAULT 0,
        error TEXT,
        created_at BIGINT NOT NULL,
        INDEX idx_agent_created_at (agent, created_at)
)`
	insertAction = `INSERT INTO agent_actions
        (agent, action_type, params, success, tx_hash, gas_used, error, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	selectLatest = `SELECT id, agent, action_type, params, success, tx_hash, gas_used, error, created_at
        FROM agent_actions ORDER BY id DESC LIMIT ?`
)

// SQLJournal 使用 MySQL 存储动作记录。
type SQLJournal struct {
	db *sql.DB
}

// NewSQLJournal 校验 DSN、建立连接池并初始化数据表。
func NewSQLJournal(ctx context.Context, dsn string) (*SQLJournal, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 MySQL DSN 失败")
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建 MySQL 连接器失败")
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	j := &SQLJournal{db: db}
	if err := j.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (s *SQLJournal) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createActionsTable); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 agent_actions 表失败")
	}
	return nil
}

// Record 将动作记录写入 MySQL。
func (s *SQLJournal) Record(ctx context.Context, entry Entry) error {
	var errText sql.NullString
	if entry.Error != "" {
		errText = sql.NullString{String: entry.Error, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, insertAction,
		entry.Agent,
		entry.ActionType,
		entry.Params,
		entry.Success,
		entry.TxHash,
		entry.GasUsed,
		errText,
		entry.CreatedAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 MySQL 失败")
	}
	return nil
}

// ListLatest 查询最近的若干条动作记录。
func (s *SQLJournal) ListLatest(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectLatest, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询动作记录失败")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry   Entry
			errText sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.Agent, &entry.ActionType, &entry.Params, &entry.Success, &entry.TxHash, &entry.GasUsed, &errText, &entry.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析动作记录失败")
		}
		entry.Error = errText.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历动作记录失败")
	}
	return entries, nil
}

// Close 关闭底层数据库连接。
func (s *SQLJournal) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Journal = (*SQLJournal)(nil)
