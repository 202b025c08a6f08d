package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/skalibog/futsig/pkg/models"
)

// FileStore хранит реестр JSON-документом. Запись идет во временный
// файл рядом с целевым и заменяет его переименованием.
type FileStore struct {
	path string
}

// NewFileStore создает файловое хранилище
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load читает документ, отсутствие файла означает пустой реестр
func (s *FileStore) Load(_ context.Context) (map[string]models.Position, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]models.Position{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения %s: %w", s.path, err)
	}

	positions := map[string]models.Position{}
	if len(data) == 0 {
		return positions, nil
	}
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("ошибка разбора %s: %w", s.path, err)
	}
	return positions, nil
}

// Save атомарно перезаписывает документ
func (s *FileStore) Save(_ context.Context, positions map[string]models.Position) error {
	data, err := json.MarshalIndent(positions, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации реестра: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ошибка создания каталога %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".positions-*.tmp")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка записи временного файла: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка синхронизации временного файла: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия временного файла: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("ошибка замены %s: %w", s.path, err)
	}
	return nil
}

// RedisStore хранит реестр одним ключом, SET заменяет документ целиком
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore создает хранилище поверх клиента Redis
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// Load читает документ, отсутствие ключа означает пустой реестр
func (s *RedisStore) Load(ctx context.Context) (map[string]models.Position, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return map[string]models.Position{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ключа %s: %w", s.key, err)
	}

	positions := map[string]models.Position{}
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("ошибка разбора ключа %s: %w", s.key, err)
	}
	return positions, nil
}

// Save перезаписывает документ
func (s *RedisStore) Save(ctx context.Context, positions map[string]models.Position) error {
	data, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("ошибка сериализации реестра: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("ошибка записи ключа %s: %w", s.key, err)
	}
	return nil
}

// Close закрывает соединение с Redis
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryStore хранилище в памяти
type MemoryStore struct {
	mu        sync.Mutex
	positions map[string]models.Position
	saves     int
}

// NewMemoryStore создает хранилище в памяти
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: map[string]models.Position{}}
}

// Load возвращает копию документа
func (s *MemoryStore) Load(_ context.Context) (map[string]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.Position, len(s.positions))
	for k, v := range s.positions {
		out[k] = v
	}
	return out, nil
}

// Save заменяет документ копией
func (s *MemoryStore) Save(_ context.Context, positions map[string]models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[string]models.Position, len(positions))
	for k, v := range positions {
		s.positions[k] = v
	}
	s.saves++
	return nil
}

// Saves число сохранений
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
