package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "chimebot/internal/transport"
)

// ChatSender delivers mirrored log lines.
type ChatSender = kit.Sender

const chatQueueSize = 256

type chatItem struct {
	to  kit.ChatTarget
	msg string
}

// chatSink is a zerolog.LevelWriter that forwards selected lines to a chat.
// Writes never block: lines are dropped when the queue is full or the limiter says no.
type chatSink struct {
	sender ChatSender
	queue  chan chatItem

	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	target   kit.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter
}

func newChatSink(sender ChatSender) *chatSink {
	return &chatSink{
		sender:   sender,
		queue:    make(chan chatItem, chatQueueSize),
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
	}
}

func (c *chatSink) apply(cfg ChatConfig) {
	rps := cfg.RatePerSec
	if rps < 1 {
		rps = 1
	}
	c.mu.Lock()
	c.target = kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()

	if cfg.Enabled && c.sender != nil {
		c.once.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			c.cancel = cancel
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.run(ctx)
			}()
		})
	}
}

func (c *chatSink) close() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
}

func (c *chatSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-c.queue:
			_, _ = c.sender.SendText(ctx, it.to, it.msg, &kit.SendOptions{DisablePreview: true, Silent: true})
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.InfoLevel, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	to := c.target
	min := c.minLevel
	lim := c.limiter
	c.mu.Unlock()

	if c.sender == nil || to.ChatID == 0 || level < min || !lim.Allow() {
		return len(p), nil
	}
	msg := formatChatLine(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case c.queue <- chatItem{to: to, msg: msg}:
	default:
	}
	return len(p), nil
}

// formatChatLine renders one zerolog JSON line as "[LEVEL] message" followed by sorted key=value lines.
func formatChatLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), 3500)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.CallerFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n- " + k + "=")
		b.WriteString(truncate(fmt.Sprint(m[k]), 600))
	}
	return truncate(b.String(), 3500)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
