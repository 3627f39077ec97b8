package slots

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"salonbook/internal/metrics"
	"salonbook/internal/model"
)

// Cache stores computed slots in Redis, one hash per org and date so that a
// booking change drops every staff/duration variant of that day at once.
type Cache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

type cachedSlots struct {
	Timezone string     `json:"tz"`
	Ranges   [][2]int64 `json:"ranges"`
}

// NewCache creates a slot cache. A nil client or non-positive ttl disables it.
func NewCache(client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *Cache {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "slot_cache").Logger()
	}
	return &Cache{redis: client, ttl: ttl, logger: l}
}

func (c *Cache) enabled() bool {
	return c != nil && c.redis != nil && c.ttl > 0
}

func dayKey(tenantID, orgID, date string) string {
	return fmt.Sprintf("slots:%s:%s:%s", tenantID, orgID, date)
}

func fieldKey(staffID string, durationMinutes int) string {
	if staffID == "" {
		staffID = "*"
	}
	return fmt.Sprintf("%s:%d", staffID, durationMinutes)
}

// Get returns cached slots for the query, if present.
func (c *Cache) Get(ctx context.Context, tenantID, orgID, staffID, date string, durationMinutes int) ([]model.TimeSlot, bool) {
	if !c.enabled() {
		return nil, false
	}
	val, err := c.redis.HGet(ctx, dayKey(tenantID, orgID, date), fieldKey(staffID, durationMinutes)).Result()
	if err != nil {
		metrics.IncSlotCache("miss")
		return nil, false
	}
	var entry cachedSlots
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		metrics.IncSlotCache("miss")
		return nil, false
	}
	loc := time.UTC
	if entry.Timezone != "" {
		if l, err := time.LoadLocation(entry.Timezone); err == nil {
			loc = l
		}
	}
	result := make([]model.TimeSlot, len(entry.Ranges))
	for i, r := range entry.Ranges {
		result[i] = model.TimeSlot{Start: time.Unix(r[0], 0).In(loc), End: time.Unix(r[1], 0).In(loc)}
	}
	metrics.IncSlotCache("hit")
	return result, true
}

// Set stores computed slots.
func (c *Cache) Set(ctx context.Context, tenantID, orgID, staffID, date string, durationMinutes int, slots []model.TimeSlot) {
	if !c.enabled() {
		return
	}
	entry := cachedSlots{Ranges: make([][2]int64, len(slots))}
	for i, s := range slots {
		entry.Ranges[i] = [2]int64{s.Start.Unix(), s.End.Unix()}
		if i == 0 {
			entry.Timezone = s.Start.Location().String()
		}
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	key := dayKey(tenantID, orgID, date)
	pipe := c.redis.TxPipeline()
	pipe.HSet(ctx, key, fieldKey(staffID, durationMinutes), data)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("slot cache write failed")
	}
}

// Invalidate drops cached slots of an org for the given dates.
func (c *Cache) Invalidate(ctx context.Context, tenantID, orgID string, dates ...string) {
	if !c.enabled() || len(dates) == 0 {
		return
	}
	keys := make([]string, len(dates))
	for i, d := range dates {
		keys[i] = dayKey(tenantID, orgID, d)
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Strs("keys", keys).Msg("slot cache invalidation failed")
	}
}

// InvalidateOrg drops every cached day of an org. Used when its
// configuration changes as a whole.
func (c *Cache) InvalidateOrg(ctx context.Context, tenantID, orgID string) {
	if !c.enabled() {
		return
	}
	pattern := fmt.Sprintf("slots:%s:%s:*", tenantID, orgID)
	var keys []string
	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn().Err(err).Str("pattern", pattern).Msg("slot cache scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Str("pattern", pattern).Msg("slot cache invalidation failed")
	}
}

// InvalidateRange drops cached slots for every calendar day touched by
// [startUnix, endUnix) in loc.
func (c *Cache) InvalidateRange(ctx context.Context, tenantID, orgID string, startUnix, endUnix int64, loc *time.Location) {
	if !c.enabled() {
		return
	}
	if loc == nil {
		loc = time.UTC
	}
	first := model.StartOfDay(time.Unix(startUnix, 0).In(loc))
	last := time.Unix(endUnix, 0).In(loc)
	var dates []string
	for d := first; d.Before(last); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(model.DateLayout))
	}
	if len(dates) == 0 {
		dates = append(dates, first.Format(model.DateLayout))
	}
	c.Invalidate(ctx, tenantID, orgID, dates...)
}
