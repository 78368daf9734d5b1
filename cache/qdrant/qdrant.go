package qdrant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"assistgen/cache"
	"assistgen/completion"
	"assistgen/embedding"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

// pointNamespace derives stable point ids so one fingerprint maps to one point
// per partition and updates overwrite in place.
var pointNamespace = uuid.MustParse("7f1d8c52-6f1e-4d4b-9d3a-2f1c0b7e5a10")

var (
	ErrQueueFull = errors.New("cache write queue is full")
	ErrClosed    = errors.New("cache service is shut down")
)

type Config struct {
	Host                string
	Port                int
	CollectionName      string
	Dimensions          int
	SimilarityThreshold float32
	MaxSize             int
	BufferSize          int
	WorkerCount         int
}

type task struct {
	partition cache.Partition
	conv      completion.Conversation
	answer    string
}

// Service implements cache.Service using Qdrant as the backend
type Service struct {
	mu                  sync.RWMutex // guards closed and sends on taskChan
	closed              bool
	taskChan            chan task
	wg                  sync.WaitGroup
	ctx                 context.Context
	cancel              context.CancelFunc
	qdrantClient        *qdrant.Client
	dimensions          int
	collectionName      string
	similarityThreshold float32
	maxSize             int
	embeddingService    embedding.Service
	now                 func() time.Time
	log                 *zap.Logger
}

// New creates a new Qdrant cache service
func New(cfg Config, embeddingService embedding.Service, log *zap.Logger) (*Service, error) {
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("max cache size must be positive, got %d", cfg.MaxSize)
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	qclient, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fail to create qdrant client: %w", err)
	}

	s := &Service{
		taskChan:            make(chan task, cfg.BufferSize),
		ctx:                 ctx,
		cancel:              cancel,
		qdrantClient:        qclient,
		dimensions:          cfg.Dimensions,
		collectionName:      cfg.CollectionName,
		similarityThreshold: cfg.SimilarityThreshold,
		maxSize:             cfg.MaxSize,
		embeddingService:    embeddingService,
		now:                 time.Now,
		log:                 log,
	}

	err = s.createCollection()
	if err != nil {
		cancel()
		qclient.Close()
		return nil, fmt.Errorf("fail to create qdrant collection: %w", err)
	}

	s.start(cfg.WorkerCount)

	return s, nil
}

// Lookup implements cache.Service
func (s *Service) Lookup(ctx context.Context, p cache.Partition, conv completion.Conversation) (string, bool, error) {
	point, err := s.searchSimilar(ctx, p, conv)
	if err != nil || point == nil {
		return "", false, err
	}

	answer, ok := point.Payload["answer"]
	if !ok {
		return "", false, nil
	}
	s.log.Debug("hit cache", zap.String("point", point.Id.GetUuid()), zap.Float32("score", point.Score))

	hits := point.Payload["hit_count"].GetIntegerValue() + 1
	_, err = s.qdrantClient.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: s.collectionName,
		Payload: qdrant.NewValueMap(map[string]any{
			"hit_count": hits,
			"last_hit":  s.now().UnixMicro(),
		}),
		PointsSelector: qdrant.NewPointsSelector(point.Id),
	})
	if err != nil {
		// the answer is still good; only recency is stale
		s.log.Warn("fail to touch cache point", zap.Error(err))
	}
	return answer.GetStringValue(), true, nil
}

// Update implements cache.Service. The write happens on a worker; a full
// queue drops the entry, and after Shutdown every write is refused.
func (s *Service) Update(ctx context.Context, p cache.Partition, conv completion.Conversation, answer string) error {
	return s.submit(task{partition: p, conv: conv, answer: answer})
}

// Shutdown implements cache.Service
func (s *Service) Shutdown() {
	s.log.Info("shutting down cache service")
	if !s.closeQueue() {
		return
	}
	s.wg.Wait()
	s.cancel()
	if err := s.qdrantClient.Close(); err != nil {
		s.log.Warn("fail to close qdrant client", zap.Error(err))
	}
	s.log.Info("cache service stopped")
}

func (s *Service) start(workerCount int) {
	if workerCount <= 0 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.log.Info("started cache workers", zap.Int("count", workerCount))
}

// worker drains the queue until Shutdown closes it.
func (s *Service) worker(id int) {
	defer s.wg.Done()

	for t := range s.taskChan {
		if err := s.processTask(t); err != nil {
			s.log.Error("fail to process cache task", zap.Int("worker", id), zap.Error(err))
		}
	}
}

func (s *Service) processTask(t task) error {
	vector, err := s.embeddingService.Get(s.ctx, t.conv.Prompt())
	if err != nil {
		return fmt.Errorf("fail to get embedding in worker: %w", err)
	}

	fp := cache.Fingerprint(t.conv)
	if err := s.storeCache(t.partition, fp, vector, t.answer); err != nil {
		return fmt.Errorf("fail to store embedding to qdrant in worker: %w", err)
	}
	if err := s.evict(t.partition); err != nil {
		return fmt.Errorf("fail to evict qdrant points: %w", err)
	}

	s.log.Debug("stored cache entry", zap.Stringer("partition", t.partition), zap.String("fingerprint", fp))
	return nil
}

func (s *Service) submit(t task) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.taskChan <- t:
		return nil
	default:
		s.log.Warn("cache task queue is full, dropping task")
		return ErrQueueFull
	}
}

// closeQueue stops intake and lets workers drain. It reports false if the
// queue was already closed.
func (s *Service) closeQueue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.taskChan)
	return true
}

func (s *Service) createCollection() error {
	ctx := s.ctx
	isExist, err := s.qdrantClient.CollectionExists(ctx, s.collectionName)
	if err != nil {
		return fmt.Errorf("fail to check if collection %s exists: %w", s.collectionName, err)
	}
	if isExist {
		return nil
	}

	err = s.qdrantClient.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("fail to create collection: %w", err)
	}

	// partition filters and the LRU scroll need payload indexes
	indexes := map[string]qdrant.FieldType{
		"prefix":   qdrant.FieldType_FieldTypeKeyword,
		"user_id":  qdrant.FieldType_FieldTypeKeyword,
		"last_hit": qdrant.FieldType_FieldTypeInteger,
	}
	for field, fieldType := range indexes {
		_, err := s.qdrantClient.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collectionName,
			FieldName:      field,
			FieldType:      fieldType.Enum(),
		})
		if err != nil {
			return fmt.Errorf("fail to create %s index: %w", field, err)
		}
	}
	s.log.Info("created qdrant collection", zap.String("collection", s.collectionName))
	return nil
}

func (s *Service) storeCache(p cache.Partition, fp string, vector []float32, answer string) error {
	now := s.now().UnixMicro()
	_, err := s.qdrantClient.Upsert(s.ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(PointID(p, fp)),
				Vectors: qdrant.NewVectorsDense(vector),
				Payload: qdrant.NewValueMap(map[string]any{
					"prefix":      p.Prefix,
					"user_id":     p.UserID,
					"fingerprint": fp,
					"answer":      answer,
					"created_at":  now,
					"last_hit":    now,
					"hit_count":   0,
				}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("fail to store qdrant point: %w", err)
	}
	return nil
}

// evict deletes the least recently hit points beyond maxSize.
func (s *Service) evict(p cache.Partition) error {
	count, err := s.qdrantClient.Count(s.ctx, &qdrant.CountPoints{
		CollectionName: s.collectionName,
		Filter:         partitionFilter(p),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("fail to count partition points: %w", err)
	}
	if count <= uint64(s.maxSize) {
		return nil
	}

	victims, err := s.qdrantClient.Scroll(s.ctx, &qdrant.ScrollPoints{
		CollectionName: s.collectionName,
		Filter:         partitionFilter(p),
		Limit:          qdrant.PtrOf(uint32(count - uint64(s.maxSize))),
		OrderBy: &qdrant.OrderBy{
			Key:       "last_hit",
			Direction: qdrant.Direction_Asc.Enum(),
		},
		WithPayload: qdrant.NewWithPayload(false),
	})
	if err != nil {
		return fmt.Errorf("fail to scroll partition points: %w", err)
	}
	if len(victims) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, 0, len(victims))
	for _, v := range victims {
		ids = append(ids, v.Id)
	}
	_, err = s.qdrantClient.Delete(s.ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName,
		Points:         qdrant.NewPointsSelector(ids...),
	})
	if err != nil {
		return fmt.Errorf("fail to delete points: %w", err)
	}
	s.log.Debug("evict cache entries", zap.Stringer("partition", p), zap.Int("count", len(ids)))
	return nil
}

func (s *Service) searchSimilar(ctx context.Context, p cache.Partition, conv completion.Conversation) (*qdrant.ScoredPoint, error) {
	vector, err := s.embeddingService.Get(ctx, conv.Prompt())
	if err != nil {
		return nil, fmt.Errorf("fail to embed lookup text: %w", err)
	}
	searchResult, err := s.qdrantClient.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName,
		Query:          qdrant.NewQueryDense(vector),
		Filter:         partitionFilter(p),
		Limit:          qdrant.PtrOf(uint64(1)),
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: qdrant.PtrOf(s.similarityThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("fail to search qdrant: %w", err)
	}
	if len(searchResult) == 0 {
		return nil, nil
	}
	return searchResult[0], nil
}

// PointID is the deterministic point id of fingerprint fp in partition p.
func PointID(p cache.Partition, fp string) string {
	return uuid.NewSHA1(pointNamespace, []byte(p.String()+"/"+fp)).String()
}

func partitionFilter(p cache.Partition) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("prefix", p.Prefix),
			qdrant.NewMatch("user_id", p.UserID),
		},
	}
}
