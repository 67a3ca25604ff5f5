package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const postViewsKey = "post:counters:views"

// Counter buffers post view increments in Redis and applies them in batches.
type Counter struct {
	rdb *redis.Client
	db  *gorm.DB
}

func New(rdb *redis.Client, db *gorm.DB) *Counter {
	return &Counter{rdb: rdb, db: db}
}

// AddPostView increments the pending view counter for a post in Redis
func (c *Counter) AddPostView(ctx context.Context, postID uint) error {
	field := strconv.FormatUint(uint64(postID), 10)
	return c.rdb.HIncrBy(ctx, postViewsKey, field, 1).Err()
}

// Flush applies all pending view increments to the posts table.
func (c *Counter) Flush(ctx context.Context) error {
	return c.flushHashToTable(ctx, postViewsKey, "posts", "view_count")
}

// Run flushes every interval until ctx is done.
func (c *Counter) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				log.Warnf("[Counter] flush failed: %v", err)
			}
		}
	}
}

// flushHashToTable drains a Redis hash atomically and applies batched increments.
// RENAME to a temporary key keeps increments that arrive during the drain.
// The temporary key is only deleted once the UPDATE succeeded; on failure its
// increments are merged back into the live hash for the next flush.
func (c *Counter) flushHashToTable(ctx context.Context, redisKey, table, column string) error {
	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := c.rdb.Rename(ctx, redisKey, tmpKey).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		return err
	}

	data, err := c.rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		log.Errorf("[Counter] pending increments left in %s: %v", tmpKey, err)
		return err
	}

	type pair struct {
		id  uint64
		inc int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		id, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{id: id, inc: inc})
	}
	if len(pairs) == 0 {
		return c.rdb.Del(ctx, tmpKey).Err()
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	// UPDATE posts SET view_count = view_count + CASE id WHEN ? THEN ? ... END WHERE id IN (...)
	var builder strings.Builder
	args := make([]interface{}, 0, len(pairs)*3)
	builder.WriteString("UPDATE ")
	builder.WriteString(table)
	builder.WriteString(" SET ")
	builder.WriteString(column)
	builder.WriteString(" = ")
	builder.WriteString(column)
	builder.WriteString(" + CASE id")
	for _, p := range pairs {
		builder.WriteString(" WHEN ? THEN ?")
		args = append(args, p.id, p.inc)
	}
	builder.WriteString(" END WHERE id IN (")
	for i, p := range pairs {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("?")
		args = append(args, p.id)
	}
	builder.WriteString(")")

	if err := c.db.WithContext(ctx).Exec(builder.String(), args...).Error; err != nil {
		if rerr := c.restore(ctx, redisKey, tmpKey, data); rerr != nil {
			log.Errorf("[Counter] pending increments left in %s: %v", tmpKey, rerr)
		}
		return err
	}
	return c.rdb.Del(ctx, tmpKey).Err()
}

// restore adds drained increments back onto the live hash and drops the
// temporary key in one transaction.
func (c *Counter) restore(ctx context.Context, redisKey, tmpKey string, data map[string]string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for field, v := range data {
			inc, err := strconv.ParseInt(v, 10, 64)
			if err != nil || inc == 0 {
				continue
			}
			pipe.HIncrBy(ctx, redisKey, field, inc)
		}
		pipe.Del(ctx, tmpKey)
		return nil
	})
	return err
}
