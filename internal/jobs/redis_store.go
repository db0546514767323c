package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/docscope/docscope/internal/rag"
)

const (
	jobKeyPrefix     = "docscope:jobs:"
	resultsKeyPrefix = "docscope:results:"
	queryKeyPrefix   = "docscope:queries:"

	jobTTL   = 24 * time.Hour
	queryTTL = 24 * time.Hour
)

// RedisStore persists jobs, analysis tables, and the query log in Redis
// so they survive restarts and are shared across replicas.
type RedisStore struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewRedisStore creates a store over an existing Redis client.
func NewRedisStore(client *redis.Client, logger *logrus.Logger) *RedisStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisStore{client: client, logger: logger}
}

func (s *RedisStore) SaveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	if err := s.client.Set(ctx, jobKeyPrefix+job.ID, data, jobTTL).Err(); err != nil {
		return fmt.Errorf("saving job: %w", err)
	}
	return nil
}

func (s *RedisStore) GetJob(ctx context.Context, id string) (*Job, error) {
	data, err := s.client.Get(ctx, jobKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job: %w", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshaling job: %w", err)
	}
	return &job, nil
}

func (s *RedisStore) SaveAnalysis(ctx context.Context, vaultID, documentID string, fields map[string]string) error {
	return s.updateRow(ctx, vaultID, documentID, func(row *StoredAnalysis) {
		row.Fields = fields
	})
}

func (s *RedisStore) SetColumn(ctx context.Context, vaultID, documentID, column, value string) error {
	return s.updateRow(ctx, vaultID, documentID, func(row *StoredAnalysis) {
		if row.Columns == nil {
			row.Columns = make(map[string]string)
		}
		row.Columns[column] = value
	})
}

func (s *RedisStore) updateRow(ctx context.Context, vaultID, documentID string, mutate func(*StoredAnalysis)) error {
	key := resultsKeyPrefix + vaultID

	row := StoredAnalysis{DocumentID: documentID}
	data, err := s.client.HGet(ctx, key, documentID).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("loading analysis row: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal(data, &row); err != nil {
			s.logger.WithError(err).WithField("document_id", documentID).
				Warn("Discarding unreadable analysis row")
			row = StoredAnalysis{DocumentID: documentID}
		}
	}

	mutate(&row)
	row.UpdatedAt = time.Now()

	payload, err := json.Marshal(&row)
	if err != nil {
		return fmt.Errorf("marshaling analysis row: %w", err)
	}
	if err := s.client.HSet(ctx, key, documentID, payload).Err(); err != nil {
		return fmt.Errorf("saving analysis row: %w", err)
	}
	return nil
}

func (s *RedisStore) ListAnalyses(ctx context.Context, vaultID string) ([]StoredAnalysis, error) {
	entries, err := s.client.HGetAll(ctx, resultsKeyPrefix+vaultID).Result()
	if err != nil {
		return nil, fmt.Errorf("listing analyses: %w", err)
	}

	rows := make([]StoredAnalysis, 0, len(entries))
	for documentID, data := range entries {
		var row StoredAnalysis
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			s.logger.WithError(err).WithField("document_id", documentID).
				Warn("Skipping unreadable analysis row")
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].DocumentID < rows[j].DocumentID })
	return rows, nil
}

func (s *RedisStore) ClearAnalyses(ctx context.Context, vaultID string) error {
	if err := s.client.Del(ctx, resultsKeyPrefix+vaultID).Err(); err != nil {
		return fmt.Errorf("clearing analyses: %w", err)
	}
	return nil
}

func (s *RedisStore) SaveQuery(ctx context.Context, result *rag.AskResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling query result: %w", err)
	}
	if err := s.client.Set(ctx, queryKeyPrefix+result.QueryID, data, queryTTL).Err(); err != nil {
		return fmt.Errorf("saving query result: %w", err)
	}
	return nil
}

func (s *RedisStore) GetQuery(ctx context.Context, id string) (*rag.AskResult, error) {
	data, err := s.client.Get(ctx, queryKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading query result: %w", err)
	}
	var result rag.AskResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshaling query result: %w", err)
	}
	return &result, nil
}
