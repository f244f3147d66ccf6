package caching

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"marketbill/internal/models"

	"github.com/redis/go-redis/v9"
)

// CacheService is the explicitly-scoped cache the engine depends on.
// Entries carry a TTL; lifecycle is tied to process startup, never ambient
// package state.
type CacheService interface {
	GetFeeSchedule(ctx context.Context) (*models.FeeSchedule, error)
	SetFeeSchedule(ctx context.Context, schedule *models.FeeSchedule, ttl time.Duration) error
	InvalidateFeeSchedule(ctx context.Context) error
}

const feeScheduleKey = "marketbill:billing:fee_schedule"

type redisCacheService struct {
	client *redis.Client
}

func NewRedisCacheService(addr, password string, db int) CacheService {
	// Accept redis:// URLs as well as bare host:port.
	parsedAddr := addr
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		if hostPort := strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://"); hostPort != addr {
			parsedAddr = hostPort
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     parsedAddr,
		Password: password,
		DB:       db,
	})

	if pingErr := client.Ping(context.Background()).Err(); pingErr != nil {
		log.Printf("WARN: Redis ping failed on initialization: %v (address: %s)", pingErr, parsedAddr)
	}

	return &redisCacheService{client: client}
}

func (r *redisCacheService) GetFeeSchedule(ctx context.Context) (*models.FeeSchedule, error) {
	data, err := r.client.Get(ctx, feeScheduleKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // cache miss
		}
		return nil, err
	}

	var schedule models.FeeSchedule
	if err := json.Unmarshal(data, &schedule); err != nil {
		return nil, fmt.Errorf("failed to decode cached fee schedule: %v", err)
	}
	return &schedule, nil
}

func (r *redisCacheService) SetFeeSchedule(ctx context.Context, schedule *models.FeeSchedule, ttl time.Duration) error {
	data, err := json.Marshal(schedule)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, feeScheduleKey, data, ttl).Err()
}

func (r *redisCacheService) InvalidateFeeSchedule(ctx context.Context) error {
	return r.client.Del(ctx, feeScheduleKey).Err()
}
