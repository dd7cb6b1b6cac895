package rag

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// EmbeddingStore 把一代片段嵌入持久化到 SQLite.
// 语料未变时重启可以跳过整批重新嵌入; 指纹不匹配视为快照失效.
//
// 片段 id 每次加载都会重新生成, 所以快照以 (语料指纹, 片段序号) 为键:
// 同一语料的确定性切分保证序号与片段一一对应.
type EmbeddingStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenEmbeddingStore 打开 (必要时创建) 快照数据库.
func OpenEmbeddingStore(path string, logger *zap.Logger) (*EmbeddingStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open embedding store %s: %w", path, err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
	fingerprint TEXT    NOT NULL,
	idx         INTEGER NOT NULL,
	vector      TEXT    NOT NULL,
	PRIMARY KEY (fingerprint, idx)
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init embedding store schema: %w", err)
	}

	return &EmbeddingStore{
		db:     db,
		logger: logger.With(zap.String("component", "embedding_store")),
	}, nil
}

// Load 按指纹读取一代向量. 数量与 want 不一致视为未命中.
func (s *EmbeddingStore) Load(ctx context.Context, fingerprint string, want int) ([][]float64, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vector FROM embeddings WHERE fingerprint = ? ORDER BY idx`, fingerprint)
	if err != nil {
		return nil, false, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var vectors [][]float64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, false, fmt.Errorf("scan embedding row: %w", err)
		}
		var vector []float64
		if err := json.Unmarshal([]byte(raw), &vector); err != nil {
			return nil, false, fmt.Errorf("decode embedding vector: %w", err)
		}
		vectors = append(vectors, vector)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate embeddings: %w", err)
	}

	if len(vectors) != want {
		if len(vectors) > 0 {
			s.logger.Warn("嵌入快照数量不符, 视为未命中",
				zap.Int("want", want),
				zap.Int("got", len(vectors)))
		}
		return nil, false, nil
	}

	s.logger.Info("嵌入快照命中", zap.Int("vectors", len(vectors)))
	return vectors, true, nil
}

// Save 原子替换快照为给定指纹的一代向量, 旧代全部清除.
func (s *EmbeddingStore) Save(ctx context.Context, fingerprint string, vectors [][]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings`); err != nil {
		return fmt.Errorf("clear old snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO embeddings (fingerprint, idx, vector) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for i, vector := range vectors {
		raw, err := json.Marshal(vector)
		if err != nil {
			return fmt.Errorf("encode vector %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, fingerprint, i, string(raw)); err != nil {
			return fmt.Errorf("insert vector %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	shortFingerprint := fingerprint
	if len(shortFingerprint) > 12 {
		shortFingerprint = shortFingerprint[:12]
	}
	s.logger.Info("嵌入快照已保存",
		zap.String("fingerprint", shortFingerprint),
		zap.Int("vectors", len(vectors)))
	return nil
}

// Close 关闭底层数据库.
func (s *EmbeddingStore) Close() error {
	return s.db.Close()
}

// CorpusFingerprint 对一代片段的嵌入文本做整体指纹.
// 语料或切分方式有任何变化, 指纹都会不同.
func CorpusFingerprint(fragments []Fragment) string {
	h := sha256.New()
	for _, frag := range fragments {
		h.Write([]byte(EmbedText(frag)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
