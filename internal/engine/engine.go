// Package engine is the central message dispatcher. It drains the ingress
// queue, runs the chat and invocation pipelines against the installed rule
// set, owns the background task lifecycle, and fans serialized responses out
// to the pub/sub publisher and the operator sessions.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iamllama/aussiebot/internal/cache"
	"github.com/iamllama/aussiebot/internal/db"
	"github.com/iamllama/aussiebot/internal/lock"
	"github.com/iamllama/aussiebot/internal/msg"
	"github.com/iamllama/aussiebot/internal/observability/logging"
	"github.com/iamllama/aussiebot/internal/rules"
)

// queueDepth bounds the egress queue, matching the ingress side.
const queueDepth = 32

// configLockTTL caps how long a config install may hold the cross-instance
// file lock.
const configLockTTL = 5 * time.Second

// Publisher pushes serialized responses onto the downstream channel.
type Publisher interface {
	Publish(ctx context.Context, data []byte)
}

// Deliverer fans serialized responses out to operator sessions.
type Deliverer interface {
	Deliver(loc msg.Location, raw []byte)
}

// Config configures the engine.
type Config struct {
	// Channel is this instance's identity; frames for other channels are
	// dropped.
	Channel string
	// ConfigDir holds the rule config files rewritten on install.
	ConfigDir string
	Logger    *slog.Logger
}

// Engine processes inbound frames against the installed configuration.
type Engine struct {
	channel   string
	configDir string
	logger    *slog.Logger

	cache  *cache.Cache
	locker *lock.Locker
	store  *db.Store

	out chan msg.Outbound

	// mu guards the installed config. Handlers snapshot it and release the
	// lock before running any rule.
	mu     sync.RWMutex
	config rules.Config

	// taskMu serializes installs so the config swap and the task respawn
	// are atomic with respect to each other.
	taskMu      sync.Mutex
	cancelTasks chan struct{}
}

// New builds an engine holding initial as its installed configuration.
// Background tasks are not started until Run.
func New(c *cache.Cache, locker *lock.Locker, store *db.Store, initial rules.Config, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		channel:   cfg.Channel,
		configDir: cfg.ConfigDir,
		logger:    logger,
		cache:     c,
		locker:    locker,
		store:     store,
		out:       make(chan msg.Outbound, queueDepth),
		config:    initial,
	}
}

// Out exposes the egress queue for collaborators that emit responses
// directly, like the authenticator's code delivery.
func (e *Engine) Out() chan<- msg.Outbound { return e.out }

// Run spawns the background tasks of the initial config, then pumps the
// ingress and egress queues until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, inbound <-chan msg.Frame, pub Publisher, sessions Deliverer) {
	e.install(ctx, e.snapshot())
	go e.txLoop(ctx, pub, sessions)
	e.rxLoop(ctx, inbound)
}

// SetConfig installs cfg without the cross-instance lock or file persistence.
// Used at startup, before Run.
func (e *Engine) SetConfig(cfg rules.Config) {
	e.mu.Lock()
	e.config = cfg
	e.mu.Unlock()
}

func (e *Engine) snapshot() rules.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// rxLoop parses frames in arrival order and processes each in its own
// goroutine. Unparseable frames are logged and dropped.
func (e *Engine) rxLoop(ctx context.Context, inbound <-chan msg.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-inbound:
			if !ok {
				return
			}
			var message msg.Message
			if err := json.Unmarshal(frame.Data, &message); err != nil {
				e.logger.Error("dropping unparseable message", "origin", frame.Origin.Kind, "error", err)
				continue
			}
			if message.Channel != e.channel {
				continue
			}
			go e.dispatch(logging.ContextWithMessageID(ctx, newMessageID()), frame.Origin, &message)
		}
	}
}

// txLoop serializes each outbound response once and routes it to the
// publisher, the session fan-out, or both.
func (e *Engine) txLoop(ctx context.Context, pub Publisher, sessions Deliverer) {
	for {
		select {
		case <-ctx.Done():
			return
		case outbound := <-e.out:
			data, err := json.Marshal(outbound.Response)
			if err != nil {
				e.logger.Error("dropping unserializable response", "error", err)
				continue
			}
			switch outbound.Loc.Kind {
			case msg.LocPubsub:
				pub.Publish(ctx, data)
			case msg.LocClient, msg.LocClients:
				sessions.Deliver(outbound.Loc, data)
			case msg.LocBroadcast:
				pub.Publish(ctx, data)
				sessions.Deliver(outbound.Loc, data)
			}
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, origin msg.Location, message *msg.Message) {
	platform := message.Platform
	payload := &message.Payload
	logger := logging.WithContext(ctx, e.logger)
	logger.Info("message received", "platform", platform, "origin", origin.Kind, "payload", payload.Kind)

	switch payload.Kind {
	case msg.PayloadNotifyStart:
		e.started(ctx, platform, origin)
	case msg.PayloadChat:
		e.chat(ctx, platform, origin, payload.Chat)
	case msg.PayloadInvokeCommand:
		e.invoke(ctx, platform, origin, payload.Invocation)
	case msg.PayloadStreamEvent:
		e.streamEvent(ctx, platform, origin, payload.Stream)
	case msg.PayloadPing:
		// adapters resolve the pingee; the engine just fans it out
		e.emit(ctx, msg.Broadcast(), msg.Response{
			Platform: platform,
			Channel:  e.channel,
			Payload:  msg.Payload{Kind: msg.PayloadPing, Ping: payload.Ping},
		})
	case msg.PayloadDumpConfig:
		e.dumpConfig(ctx, platform, origin)
	case msg.PayloadDumpSchema:
		e.dumpSchema(ctx, platform, origin)
	case msg.PayloadConfigDump:
		e.installDump(ctx, platform, origin, payload.Config)
	case msg.PayloadDumpLog:
		e.dumpLog(ctx, platform, origin, payload.Platform)
	case msg.PayloadDumpModActions:
		e.dumpModActions(ctx, platform, origin)
	case msg.PayloadDumpArgs:
		e.dumpArgs(ctx, platform, origin, payload.Platform)
	default:
		logger.Warn("dropping unroutable payload", "payload", payload.Kind)
	}
}

// context builds the per-event rule context. The logger carries the frame's
// message id when the dispatch context holds one.
func (e *Engine) context(ctx context.Context, platform msg.Platform, origin msg.Location, user *msg.User, meta *msg.ChatMeta) *rules.Context {
	return &rules.Context{
		Platform: platform,
		Origin:   origin,
		User:     user,
		Meta:     meta,
		Cache:    e.cache,
		Locker:   e.locker,
		Store:    e.store,
		Out:      e.out,
		Channel:  e.channel,
		Logger:   logging.WithContext(ctx, e.logger),
	}
}

func (e *Engine) emit(ctx context.Context, loc msg.Location, resp msg.Response) {
	select {
	case e.out <- msg.Outbound{Loc: loc, Response: resp}:
	case <-ctx.Done():
	}
}

// chat runs one chat event through the pipeline: filters first, then, if
// nothing tripped, commands and timers, then autocorrect. The event is always
// mirrored to the operator sessions.
func (e *Engine) chat(ctx context.Context, platform msg.Platform, origin msg.Location, chat *msg.Chat) {
	if chat == nil || chat.User == nil {
		return
	}
	cfg := e.snapshot()
	rc := e.context(ctx, platform, origin, chat.User, chat.Meta)

	if action, name, tripped := e.filterChat(ctx, rc, cfg.Filters, chat); tripped {
		e.logger.Info("filter tripped", "filter", name, "action", action.String(), "user", chat.User.Name)
		if chat.User.Perms < msg.PermMod {
			e.emit(ctx, msg.Broadcast(), msg.Response{
				Platform: platform,
				Channel:  e.channel,
				Payload: msg.Payload{
					Kind: msg.PayloadModAction,
					Mod:  &msg.ModActionEvent{User: *chat.User, Action: action, Reason: name},
				},
			})
		}
	} else {
		results := e.runChat(ctx, rc, chat, cfg.Commands, cfg.Timers)
		e.autocorrect(ctx, rc, results)
	}

	e.emit(ctx, msg.AllClients(), msg.Response{
		Platform: platform,
		Channel:  e.channel,
		Payload:  msg.Payload{Kind: msg.PayloadChat, Chat: chat},
	})
}

// filterChat runs every filter concurrently and arbitrates: the most severe
// action wins, ties resolve to the earliest filter. Actions above None are
// persisted regardless of who is emitted against.
func (e *Engine) filterChat(ctx context.Context, rc *rules.Context, filters []rules.Rule, chat *msg.Chat) (msg.ModAction, string, bool) {
	results := make([]rules.RunRes, len(filters))
	var wg sync.WaitGroup
	for i, filter := range filters {
		wg.Add(1)
		go func(i int, filter rules.Rule) {
			defer wg.Done()
			res, err := filter.Chat(ctx, rc, chat)
			if err != nil {
				e.logger.Error("filter failed", "filter", filter.Name(), "error", err)
				return
			}
			results[i] = res
		}(i, filter)
	}
	wg.Wait()

	best := -1
	var action msg.ModAction
	for i, res := range results {
		if res.Kind != rules.ResFiltered {
			continue
		}
		if best < 0 || res.Action.Compare(action) > 0 {
			best = i
			action = res.Action
		}
	}
	if best < 0 {
		return msg.ModAction{}, "", false
	}
	name := filters[best].Name()
	if action.Kind > msg.ModNone {
		rules.LogModAction(e.store, e.logger, rc.Platform, chat.User.ID, action, name)
	}
	return action, name, true
}

// runChat feeds the chat to every command and timer concurrently. Timers only
// bump their message counters. Results keep command order so autocorrect
// suggestions come out stable.
func (e *Engine) runChat(ctx context.Context, rc *rules.Context, chat *msg.Chat, commands, timers []rules.Rule) []rules.RunRes {
	all := make([]rules.Rule, 0, len(commands)+len(timers))
	all = append(all, commands...)
	all = append(all, timers...)

	results := make([]rules.RunRes, len(all))
	var wg sync.WaitGroup
	for i, rule := range all {
		wg.Add(1)
		go func(i int, rule rules.Rule) {
			defer wg.Done()
			res, err := rule.Chat(ctx, rc, chat)
			if err != nil {
				e.logger.Error("command failed", "command", rule.Name(), "error", err)
				return
			}
			results[i] = res
		}(i, rule)
	}
	wg.Wait()
	return results
}

// autocorrect emits prefix suggestions to the event's origin, unless some
// command actually ran.
func (e *Engine) autocorrect(ctx context.Context, rc *rules.Context, results []rules.RunRes) {
	var suggestions []string
	seen := make(map[string]struct{})
	for _, res := range results {
		switch res.Kind {
		case rules.ResOk:
			return
		case rules.ResAutocorrect:
			if _, dup := seen[res.Prefix]; dup {
				continue
			}
			seen[res.Prefix] = struct{}{}
			suggestions = append(suggestions, res.Prefix)
		}
	}
	if len(suggestions) == 0 {
		return
	}
	e.logger.Info("autocorrect", "user", rc.User.Name, "suggestions", suggestions)
	e.emit(ctx, rc.Origin, msg.Response{
		Platform: rc.Platform,
		Channel:  e.channel,
		Payload: msg.Payload{
			Kind:        msg.PayloadAutocorrect,
			Autocorrect: &msg.AutocorrectEvent{User: *rc.User, Suggestions: suggestions},
		},
	})
}

// invoke dispatches an explicit invocation to every command concurrently.
// Filters and timers never see invocations.
func (e *Engine) invoke(ctx context.Context, platform msg.Platform, origin msg.Location, inv *msg.Invocation) {
	if inv == nil || inv.User == nil {
		return
	}
	cfg := e.snapshot()
	rc := e.context(ctx, platform, origin, inv.User, inv.Meta)

	var wg sync.WaitGroup
	for _, rule := range cfg.Commands {
		wg.Add(1)
		go func(rule rules.Rule) {
			defer wg.Done()
			rule.Invoke(ctx, rc, inv)
		}(rule)
	}
	wg.Wait()
}

func (e *Engine) streamURLKey(platform msg.Platform) string {
	return fmt.Sprintf("aussiebot!%s!streamurl!%s", e.channel, platform)
}

func (e *Engine) streamIDKey(platform msg.Platform) string {
	return fmt.Sprintf("aussiebot!%s!streamid!%s", e.channel, platform)
}

// streamEvent handles stream lifecycle traffic. Detect events are relayed as
// signals; Started events are deduplicated on the stored stream id so a
// reconnecting adapter does not re-announce.
func (e *Engine) streamEvent(ctx context.Context, platform msg.Platform, origin msg.Location, event *msg.StreamEvent) {
	if event == nil {
		return
	}
	switch event.Kind {
	case msg.StreamDetectStart:
		e.emit(ctx, msg.Broadcast(), msg.Response{
			Platform: platform,
			Channel:  e.channel,
			Payload:  msg.Payload{Kind: msg.PayloadStreamSignal, Signal: &msg.StreamSignal{URL: event.URL}},
		})
	case msg.StreamDetectStop:
		e.emit(ctx, msg.Broadcast(), msg.Response{
			Platform: platform,
			Channel:  e.channel,
			Payload:  msg.Payload{Kind: msg.PayloadStreamSignal, Signal: &msg.StreamSignal{Stop: true, URL: event.URL}},
		})
	case msg.StreamStarted:
		if _, err := e.cache.Set(ctx, e.streamURLKey(platform), event.URL, 0, false); err != nil {
			e.logger.Error("stream url store failed", "platform", platform, "error", err)
		}
		prev, err := e.cache.SetGet(ctx, e.streamIDKey(platform), event.ID, 0)
		announce := false
		switch {
		case errors.Is(err, cache.ErrMiss):
			announce = true
		case err != nil:
			e.logger.Error("stream id swap failed", "platform", platform, "error", err)
		case prev != event.ID:
			announce = true
		}
		e.logger.Debug("stream started", "platform", platform, "url", event.URL, "id", event.ID, "announce", announce)
		if announce {
			inv := &msg.Invocation{
				User: &msg.User{Perms: msg.PermNone},
				Cmd:  "@stream_event",
				Kind: &msg.InvocationKind{Kind: msg.InvStreamEvent, Stream: event},
			}
			e.invoke(ctx, platform, origin, inv)
		}
	case msg.StreamStopped:
		e.logger.Info("stream stopped", "platform", platform, "id", event.ID)
	}
}

// started handles an adapter's ready notification: the guild adapter gets its
// slash-command surface, stream adapters get a start signal when a stream is
// already live.
func (e *Engine) started(ctx context.Context, platform msg.Platform, origin msg.Location) {
	switch {
	case platform == msg.PlatformDiscord:
		e.dumpArgs(ctx, platform, origin, platform)
	case msg.PlatformStream.Contains(platform) && platform != 0:
		url, err := e.cache.Get(ctx, e.streamURLKey(platform))
		if err != nil {
			if !errors.Is(err, cache.ErrMiss) {
				e.logger.Error("stream url fetch failed", "platform", platform, "error", err)
			}
			return
		}
		e.logger.Info("resending stream start", "platform", platform, "url", url)
		e.emit(ctx, msg.Broadcast(), msg.Response{
			Platform: platform,
			Channel:  e.channel,
			Payload:  msg.Payload{Kind: msg.PayloadStreamSignal, Signal: &msg.StreamSignal{URL: url}},
		})
	}
}

func (e *Engine) dumpConfig(ctx context.Context, platform msg.Platform, origin msg.Location) {
	cfg := e.snapshot()
	data, err := json.Marshal(cfg.Dump())
	if err != nil {
		e.logger.Error("config dump failed", "error", err)
		return
	}
	e.emit(ctx, origin, msg.Response{
		Platform: platform,
		Channel:  e.channel,
		Payload:  msg.Payload{Kind: msg.PayloadConfigDump, Config: data},
	})
}

func (e *Engine) dumpSchema(ctx context.Context, platform msg.Platform, origin msg.Location) {
	data, err := json.Marshal(rules.Schema())
	if err != nil {
		e.logger.Error("schema dump failed", "error", err)
		return
	}
	e.emit(ctx, origin, msg.Response{
		Platform: platform,
		Channel:  e.channel,
		Payload:  msg.Payload{Kind: msg.PayloadSchemaDump, Schema: data},
	})
}

func (e *Engine) configLockKey() string {
	// '!' keeps this out of the rule lock namespace
	return "aussiebot!config_" + e.channel
}

// installDump installs an operator-supplied configuration under the
// cross-instance file lock, persists it, and acknowledges: ConfigSaved to the
// sender, ConfigChanged to everyone.
func (e *Engine) installDump(ctx context.Context, platform msg.Platform, origin msg.Location, raw json.RawMessage) {
	var dump rules.ConfigDump
	if err := json.Unmarshal(raw, &dump); err != nil {
		e.logger.Error("dropping unparseable config", "error", err)
		return
	}
	cfg := rules.Inflate(dump, e.logger)

	locked, err := e.locker.Lock(ctx, e.configLockKey(), configLockTTL)
	if err != nil {
		e.logger.Error("config lock failed", "error", err)
		return
	}
	if !locked {
		e.logger.Warn("config install refused, another instance holds the lock")
		return
	}
	defer func() {
		if _, err := e.locker.Unlock(ctx, e.configLockKey()); err != nil {
			e.logger.Error("config unlock failed", "error", err)
		}
	}()

	e.install(ctx, cfg)

	if err := rules.Save(e.configDir, &cfg); err != nil {
		e.logger.Error("config persist failed", "error", err)
	}

	e.emit(ctx, origin, msg.Response{
		Platform: platform,
		Channel:  e.channel,
		Payload:  msg.Payload{Kind: msg.PayloadConfigSaved},
	})
	e.emit(ctx, msg.Broadcast(), msg.Response{
		Platform: platform,
		Channel:  e.channel,
		Payload:  msg.Payload{Kind: msg.PayloadConfigChanged},
	})
}

// install swaps the active config and respawns the background tasks in one
// critical section, so no event observes a partial install.
func (e *Engine) install(ctx context.Context, cfg rules.Config) {
	e.taskMu.Lock()
	defer e.taskMu.Unlock()

	if e.cancelTasks != nil {
		close(e.cancelTasks)
	}
	cancel := make(chan struct{})
	e.cancelTasks = cancel

	e.mu.Lock()
	e.config = cfg
	e.mu.Unlock()

	rc := e.context(ctx, 0, msg.Pubsub(), nil, nil)
	for _, rule := range cfg.Timers {
		if init, ok := rule.(rules.Initializer); ok {
			init.Init(ctx, cancel, rc)
		}
	}
	for _, rule := range cfg.Commands {
		if init, ok := rule.(rules.Initializer); ok {
			init.Init(ctx, cancel, rc)
		}
	}
}

func (e *Engine) dumpLog(ctx context.Context, platform msg.Platform, origin msg.Location, logPlatform msg.Platform) {
	cfg := e.snapshot()
	rc := e.context(ctx, platform, origin, nil, nil)
	for _, rule := range cfg.Commands {
		logRule, ok := rule.(*rules.Log)
		if !ok {
			continue
		}
		list, err := logRule.List(ctx, rc, logPlatform)
		if err != nil {
			e.logger.Error("log dump failed", "error", err)
			return
		}
		e.emit(ctx, origin, msg.Response{
			Platform: logPlatform,
			Channel:  e.channel,
			Payload:  msg.Payload{Kind: msg.PayloadLogDump, Log: list},
		})
		return
	}
	e.logger.Warn("log dump requested but no log rule is installed")
}

func (e *Engine) dumpModActions(ctx context.Context, platform msg.Platform, origin msg.Location) {
	if e.store == nil {
		e.logger.Warn("mod action dump requested without a database")
		return
	}
	list, err := e.store.DumpModActions(ctx)
	if err != nil {
		e.logger.Error("mod action dump failed", "error", err)
		return
	}
	data, err := json.Marshal(list)
	if err != nil {
		e.logger.Error("mod action dump failed", "error", err)
		return
	}
	e.emit(ctx, origin, msg.Response{
		Platform: platform,
		Channel:  e.channel,
		Payload:  msg.Payload{Kind: msg.PayloadModActionsDump, ModActions: data},
	})
}

func (e *Engine) dumpArgs(ctx context.Context, platform msg.Platform, origin msg.Location, argsPlatform msg.Platform) {
	cfg := e.snapshot()
	data, err := json.Marshal(cfg.ArgSpecs(argsPlatform))
	if err != nil {
		e.logger.Error("args dump failed", "error", err)
		return
	}
	e.emit(ctx, origin, msg.Response{
		Platform: platform,
		Channel:  e.channel,
		Payload:  msg.Payload{Kind: msg.PayloadArgsDump, Args: data},
	})
}
