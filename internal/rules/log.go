package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/iamllama/aussiebot/internal/db"
	"github.com/iamllama/aussiebot/internal/msg"
)

// Log keeps a rolling window of recent chat lines per platform in a sorted
// set, scored by timestamp so expiry is a range delete.
type Log struct {
	base
	platforms msg.Platform
	keepFor   uint64
}

func newLog(name string) *Log {
	return &Log{
		base:      base{name: name},
		platforms: msg.PlatformChat,
		keepFor:   10,
	}
}

func (l *Log) Kind() string { return "Log" }

func (l *Log) fields() []Field {
	return []Field{
		l.enabledField(),
		platformsField("platforms", "Platforms", &l.platforms),
		uintField("keep_for", "Duration to keep a message for (in seconds)", &l.keepFor, RangeClosed(10, 3600)),
	}
}

func logKey(rc *Context, platform msg.Platform) string {
	return fmt.Sprintf("%s_%s", rc.lockKey("Log", "list"), strings.ToUpper(platform.String()))
}

func (l *Log) Chat(ctx context.Context, rc *Context, chat *msg.Chat) (RunRes, error) {
	if !l.enabled || !l.platforms.Contains(rc.Platform) {
		return Disabled(), nil
	}
	ts := time.Now().UnixMilli()
	member, err := json.Marshal([]any{ts, chat})
	if err != nil {
		return RunRes{}, err
	}
	if _, err := rc.Cache.ZAdd(ctx, logKey(rc, rc.Platform), float64(ts), string(member)); err != nil {
		return RunRes{}, err
	}
	return Noop(), nil
}

func (l *Log) Invoke(context.Context, *Context, *msg.Invocation) (RunRes, bool) {
	return RunRes{}, false
}

// List dumps the retained lines for every chat platform contained in the
// requested mask.
func (l *Log) List(ctx context.Context, rc *Context, platforms msg.Platform) ([]msg.PlatformLog, error) {
	var out []msg.PlatformLog
	for _, p := range msg.ChatPlatforms {
		if !platforms.Contains(p) {
			continue
		}
		lines, err := rc.Cache.ZRange(ctx, logKey(rc, p), 0, -1)
		if err != nil {
			return nil, err
		}
		out = append(out, msg.PlatformLog{Platform: p, Lines: lines})
	}
	return out, nil
}

func (l *Log) cleanup(ctx context.Context, rc *Context) {
	cutoff := (time.Now().Unix() - int64(l.keepFor)) * 1000
	max := strconv.FormatInt(cutoff, 10)
	for _, p := range msg.ChatPlatforms {
		if !l.platforms.Contains(p) {
			continue
		}
		if _, err := rc.Cache.ZRemRangeByScore(ctx, logKey(rc, p), "-inf", max); err != nil {
			rc.log().Error("log sweep failed", "platform", p, "error", err)
		}
	}
}

// Init spawns the expiry sweeper.
func (l *Log) Init(ctx context.Context, cancel <-chan struct{}, rc *Context) bool {
	if !l.enabled || l.platforms == 0 || l.keepFor == 0 {
		return false
	}
	go func() {
		for {
			select {
			case <-cancel:
				return
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(l.keepFor) * time.Second):
			}
			l.cleanup(ctx, rc)
		}
	}()
	return true
}

// LogModAction records a moderation verdict without blocking the caller. A
// nil store drops the record.
func LogModAction(store *db.Store, logger *slog.Logger, platform msg.Platform, id string, action msg.ModAction, reason string) {
	if store == nil {
		return
	}
	go func() {
		ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := store.AppendModAction(ctx, platform, id, action, reason); err != nil && logger != nil {
			logger.Error("mod action append failed", "platform", platform, "error", err)
		}
	}()
}
