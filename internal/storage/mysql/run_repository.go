package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RunRecord 表示一次推理与链上执行的落库结构。
type RunRecord struct {
	ID           int64  `json:"id"`
	TaskID       string `json:"task_id"`
	ModelID      uint64 `json:"model_id"`
	VersionID    uint64 `json:"version_id"`
	RequestID    string `json:"request_id"`
	ProofID      string `json:"proof_id"`
	Framework    string `json:"framework"`
	Verified     bool   `json:"verified"`
	Output       string `json:"output"`
	VaultAction  string `json:"vault_action"`
	VaultAddress string `json:"vault_address"`
	Amount       string `json:"amount"`
	TxHash       string `json:"tx_hash"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// ErrRunNotFound 在查询不到运行记录时返回。
var ErrRunNotFound = errors.New("运行记录不存在")

// RunRepository 抽象运行历史的持久化接口。
type RunRepository interface {
	Create(ctx context.Context, record *RunRecord) error
	Update(ctx context.Context, record RunRecord) error
	GetByRequestID(ctx context.Context, requestID string) (*RunRecord, error)
	ListLatest(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// MemoryRunRepository 使用本地 JSON 行文件保存运行历史，方便迭代开发。
type MemoryRunRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []RunRecord
	nextID   int64
}

// NewMemoryRunRepository 创建一个基于文件的运行历史仓库。
func NewMemoryRunRepository(dataDir string) (*MemoryRunRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryRunRepository{
		dataFile: filepath.Join(dataDir, "runs.log"),
		nextID:   1,
	}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Create 以追加写的方式记录运行结果。
func (m *MemoryRunRepository) Create(_ context.Context, record *RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record.ID = m.nextID
	m.nextID++

	if err := m.appendToDisk(*record); err != nil {
		return err
	}

	m.records = append([]RunRecord{*record}, m.records...)
	if len(m.records) > 512 {
		m.records = m.records[:512]
	}
	return nil
}

// Update 按 ID 更新内存中的运行记录，并追加一条更新快照。
func (m *MemoryRunRepository) Update(_ context.Context, record RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.records {
		if m.records[i].ID == record.ID {
			m.records[i] = record
			return m.appendToDisk(record)
		}
	}
	return ErrRunNotFound
}

// GetByRequestID 返回指定请求 ID 的最新记录。
func (m *MemoryRunRepository) GetByRequestID(_ context.Context, requestID string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.records {
		if m.records[i].RequestID == requestID {
			record := m.records[i]
			return &record, nil
		}
	}
	return nil, ErrRunNotFound
}

// ListLatest 返回最近的运行记录，按时间倒序排列。
func (m *MemoryRunRepository) ListLatest(_ context.Context, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}

	results := make([]RunRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 对文件实现是空操作，追加写入每次都会自行关闭文件。
func (m *MemoryRunRepository) Close() error {
	return nil
}

func (m *MemoryRunRepository) appendToDisk(record RunRecord) error {
	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开运行日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化运行记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入运行日志失败: %w", err)
	}
	return nil
}

func (m *MemoryRunRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取运行日志失败: %w", err)
	}
	defer file.Close()

	// 同一条记录可能因更新出现多次，以最后一次出现的版本为准。
	latest := make(map[int64]RunRecord)
	var order []int64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record RunRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if _, seen := latest[record.ID]; !seen {
			order = append(order, record.ID)
		}
		latest[record.ID] = record
		if record.ID >= m.nextID {
			m.nextID = record.ID + 1
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析运行日志失败: %w", err)
	}

	var restored []RunRecord
	for i := len(order) - 1; i >= 0; i-- {
		restored = append(restored, latest[order[i]])
	}
	if len(restored) > 512 {
		restored = restored[:512]
	}
	if len(restored) > 0 {
		m.records = restored
	}
	return nil
}

// SQLRunRepository 使用真实的 MySQL 数据库存储运行历史。
type SQLRunRepository struct {
	db *sql.DB
}

// NewSQLRunRepository 创建连接池并应用数据库迁移。
func NewSQLRunRepository(ctx context.Context, cfg Config) (*SQLRunRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLRunRepository{db: db}, nil
}

const insertRunSQL = `INSERT INTO agent_runs
    (task_id, model_id, version_id, request_id, proof_id, framework, verified, output, vault_action, vault_address, amount, tx_hash, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const updateRunSQL = `UPDATE agent_runs SET proof_id = ?, verified = ?, output = ?, vault_action = ?, vault_address = ?, amount = ?, tx_hash = ?, updated_at = ?
    WHERE id = ?`

const selectRunColumns = `id, task_id, model_id, version_id, request_id, proof_id, framework, verified, output, vault_action, vault_address, amount, tx_hash, created_at, updated_at`

// Create 将运行记录写入 MySQL。
func (s *SQLRunRepository) Create(ctx context.Context, record *RunRecord) error {
	now := time.Now().Unix()
	if record.CreatedAt == 0 {
		record.CreatedAt = now
	}
	if record.UpdatedAt == 0 {
		record.UpdatedAt = now
	}

	result, err := s.db.ExecContext(ctx, insertRunSQL,
		record.TaskID,
		record.ModelID,
		record.VersionID,
		record.RequestID,
		record.ProofID,
		record.Framework,
		boolToInt(record.Verified),
		record.Output,
		record.VaultAction,
		record.VaultAddress,
		record.Amount,
		record.TxHash,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("写入运行记录失败: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		record.ID = id
	}
	return nil
}

// Update 更新一条运行记录的证明与链上执行信息。
func (s *SQLRunRepository) Update(ctx context.Context, record RunRecord) error {
	result, err := s.db.ExecContext(ctx, updateRunSQL,
		record.ProofID,
		boolToInt(record.Verified),
		record.Output,
		record.VaultAction,
		record.VaultAddress,
		record.Amount,
		record.TxHash,
		time.Now().Unix(),
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("更新运行记录失败: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetByRequestID 返回指定请求 ID 的最新记录。
func (s *SQLRunRepository) GetByRequestID(ctx context.Context, requestID string) (*RunRecord, error) {
	query := `SELECT ` + selectRunColumns + `
    FROM agent_runs WHERE request_id = ? ORDER BY id DESC LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, requestID)
	record, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	return record, nil
}

// ListLatest 查询最近的若干条运行记录。
func (s *SQLRunRepository) ListLatest(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + selectRunColumns + `
    FROM agent_runs ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("解析运行记录失败: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历运行记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLRunRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var record RunRecord
	var verified int
	if err := row.Scan(
		&record.ID,
		&record.TaskID,
		&record.ModelID,
		&record.VersionID,
		&record.RequestID,
		&record.ProofID,
		&record.Framework,
		&verified,
		&record.Output,
		&record.VaultAction,
		&record.VaultAddress,
		&record.Amount,
		&record.TxHash,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	record.Verified = verified == 1
	return &record, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
