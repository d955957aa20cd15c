package engine

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iamllama/aussiebot/internal/cache"
	"github.com/iamllama/aussiebot/internal/lock"
	"github.com/iamllama/aussiebot/internal/msg"
	"github.com/iamllama/aussiebot/internal/rules"
	"github.com/iamllama/aussiebot/internal/testsupport/redisstub"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) (*Engine, context.Context) {
	t.Helper()
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("failed to start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })

	client, err := cache.NewClient(cache.RedisConfig{Addr: stub.Addr()})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	e := New(cache.New(ctx, client, nil), lock.New(ctx, client, nil), nil, rules.Config{}, Config{
		Channel:   "testchan",
		ConfigDir: t.TempDir(),
		Logger:    discard(),
	})
	return e, ctx
}

// nextOut reads one outbound from the egress queue, failing fast on silence.
func nextOut(t *testing.T, e *Engine) msg.Outbound {
	t.Helper()
	select {
	case out := <-e.out:
		return out
	case <-time.After(2 * time.Second):
		t.Fatalf("expected an outbound response")
	}
	return msg.Outbound{}
}

func expectNoOut(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case out := <-e.out:
		t.Fatalf("unexpected outbound %+v", out)
	case <-time.After(50 * time.Millisecond):
	}
}

func mustRule(t *testing.T, dump rules.RuleDump) rules.Rule {
	t.Helper()
	rule, ok := rules.New(dump, discard())
	if !ok {
		t.Fatalf("failed to build %s rule", dump.Kind)
	}
	return rule
}

func chatEvent(name string, perms msg.Permissions, text string) *msg.Chat {
	return &msg.Chat{User: &msg.User{ID: "u-" + name, Name: name, Perms: perms}, Text: text}
}

func TestChatFilterArbitrationPicksMostSevere(t *testing.T) {
	e, ctx := newTestEngine(t)
	e.SetConfig(rules.Config{Filters: []rules.Rule{
		mustRule(t, rules.RuleDump{Kind: "Filter", Name: "timeouter", Values: []rules.KeyValue{
			{Key: "enabled", Value: rules.BoolValue(true)},
			{Key: "msg_contains", Value: rules.StringValue("free nitro")},
			{Key: "action", Value: rules.ActionValue(msg.Timeout(600))},
		}}),
		mustRule(t, rules.RuleDump{Kind: "Filter", Name: "banner", Values: []rules.KeyValue{
			{Key: "enabled", Value: rules.BoolValue(true)},
			{Key: "msg_contains", Value: rules.StringValue("nitro")},
			{Key: "action", Value: rules.ActionValue(msg.ModAction{Kind: msg.ModBan})},
		}}),
	}})

	e.chat(ctx, msg.PlatformYoutube, msg.Pubsub(), chatEvent("spammer", msg.PermNone, "claim your free nitro now"))

	verdict := nextOut(t, e)
	if verdict.Loc.Kind != msg.LocBroadcast {
		t.Fatalf("expected mod action broadcast, got %+v", verdict.Loc)
	}
	mod := verdict.Response.Payload.Mod
	if verdict.Response.Payload.Kind != msg.PayloadModAction || mod == nil {
		t.Fatalf("expected mod action payload, got %+v", verdict.Response.Payload)
	}
	if mod.Action.Kind != msg.ModBan || mod.Reason != "banner" {
		t.Fatalf("expected the more severe filter to win, got %+v", mod)
	}

	mirror := nextOut(t, e)
	if mirror.Loc.Kind != msg.LocClients || mirror.Loc.List != nil {
		t.Fatalf("expected session mirror to all clients, got %+v", mirror.Loc)
	}
	if mirror.Response.Payload.Kind != msg.PayloadChat {
		t.Fatalf("expected mirrored chat, got %+v", mirror.Response.Payload)
	}
}

func TestChatFilterTiesKeepEarliestFilter(t *testing.T) {
	e, ctx := newTestEngine(t)
	filter := func(name string) rules.Rule {
		return mustRule(t, rules.RuleDump{Kind: "Filter", Name: name, Values: []rules.KeyValue{
			{Key: "enabled", Value: rules.BoolValue(true)},
			{Key: "msg_contains", Value: rules.StringValue("spam")},
			{Key: "action", Value: rules.ActionValue(msg.Timeout(600))},
		}})
	}
	e.SetConfig(rules.Config{Filters: []rules.Rule{filter("first"), filter("second")}})

	e.chat(ctx, msg.PlatformYoutube, msg.Pubsub(), chatEvent("viewer", msg.PermNone, "spam spam"))

	verdict := nextOut(t, e)
	if mod := verdict.Response.Payload.Mod; mod == nil || mod.Reason != "first" {
		t.Fatalf("expected the earliest filter to win the tie, got %+v", verdict.Response.Payload)
	}
}

func TestChatFilteredModIsNotActedOn(t *testing.T) {
	e, ctx := newTestEngine(t)
	e.SetConfig(rules.Config{Filters: []rules.Rule{
		mustRule(t, rules.RuleDump{Kind: "Filter", Name: "spam", Values: []rules.KeyValue{
			{Key: "enabled", Value: rules.BoolValue(true)},
			{Key: "apply_to", Value: rules.PermissionsValue(msg.PermOwner)},
			{Key: "msg_contains", Value: rules.StringValue("spam")},
			{Key: "action", Value: rules.ActionValue(msg.ModAction{Kind: msg.ModRemove})},
		}}),
	}})

	e.chat(ctx, msg.PlatformYoutube, msg.Pubsub(), chatEvent("mod", msg.PermMod, "spam spam"))

	// only the session mirror, no mod action against a mod
	mirror := nextOut(t, e)
	if mirror.Response.Payload.Kind != msg.PayloadChat {
		t.Fatalf("expected only the mirrored chat, got %+v", mirror.Response.Payload)
	}
	expectNoOut(t, e)
}

func TestChatAutocorrectSuggestsTypoedPrefix(t *testing.T) {
	e, ctx := newTestEngine(t)
	e.SetConfig(rules.Config{Commands: []rules.Rule{
		mustRule(t, rules.RuleDump{Kind: "Quote", Name: "hello", Values: []rules.KeyValue{
			{Key: "enabled", Value: rules.BoolValue(true)},
			{Key: "autocorrect", Value: rules.BoolValue(true)},
			{Key: "message", Value: rules.StringValue("g'day")},
		}}),
	}})

	origin := msg.Client("op", "10.0.0.1")
	e.chat(ctx, msg.PlatformYoutube, origin, chatEvent("viewer", msg.PermNone, "!qoute"))

	suggestion := nextOut(t, e)
	if suggestion.Loc.Kind != msg.LocClient {
		t.Fatalf("expected suggestion at the origin, got %+v", suggestion.Loc)
	}
	auto := suggestion.Response.Payload.Autocorrect
	if suggestion.Response.Payload.Kind != msg.PayloadAutocorrect || auto == nil {
		t.Fatalf("expected autocorrect payload, got %+v", suggestion.Response.Payload)
	}
	if len(auto.Suggestions) != 1 || auto.Suggestions[0] != "!quote" {
		t.Fatalf("unexpected suggestions %v", auto.Suggestions)
	}

	if mirror := nextOut(t, e); mirror.Response.Payload.Kind != msg.PayloadChat {
		t.Fatalf("expected mirrored chat, got %+v", mirror.Response.Payload)
	}
}

func TestChatOkSuppressesAutocorrect(t *testing.T) {
	e, ctx := newTestEngine(t)
	e.SetConfig(rules.Config{Commands: []rules.Rule{
		mustRule(t, rules.RuleDump{Kind: "Quote", Name: "hello", Values: []rules.KeyValue{
			{Key: "enabled", Value: rules.BoolValue(true)},
			{Key: "message", Value: rules.StringValue("g'day")},
		}}),
	}})

	e.chat(ctx, msg.PlatformYoutube, msg.Pubsub(), chatEvent("viewer", msg.PermNone, "!quote"))

	reply := nextOut(t, e)
	if reply.Response.Payload.Kind != msg.PayloadMessage {
		t.Fatalf("expected quote reply, got %+v", reply.Response.Payload)
	}
	mirror := nextOut(t, e)
	if mirror.Response.Payload.Kind != msg.PayloadChat {
		t.Fatalf("expected mirrored chat, got %+v", mirror.Response.Payload)
	}
	expectNoOut(t, e)
}

func TestStreamStartedAnnouncesOncePerID(t *testing.T) {
	e, ctx := newTestEngine(t)
	e.SetConfig(rules.Config{Commands: []rules.Rule{
		mustRule(t, rules.RuleDump{Kind: "Stream", Name: "announce", Values: []rules.KeyValue{
			{Key: "enabled", Value: rules.BoolValue(true)},
			{Key: "message", Value: rules.StringValue("live: {url}")},
		}}),
	}})

	started := func(id string) *msg.StreamEvent {
		return &msg.StreamEvent{Kind: msg.StreamStarted, URL: "https://yt.example/live", ID: id}
	}

	e.streamEvent(ctx, msg.PlatformYoutube, msg.Pubsub(), started("vid1"))
	first := nextOut(t, e)
	ann := first.Response.Payload.Announcement
	if first.Response.Payload.Kind != msg.PayloadStreamAnnouncement || ann == nil {
		t.Fatalf("expected an announcement, got %+v", first.Response.Payload)
	}
	if ann.Text != "live: https://yt.example/live" {
		t.Fatalf("unexpected announcement text %q", ann.Text)
	}

	// same id again: deduplicated
	e.streamEvent(ctx, msg.PlatformYoutube, msg.Pubsub(), started("vid1"))
	expectNoOut(t, e)

	// new id: announced again
	e.streamEvent(ctx, msg.PlatformYoutube, msg.Pubsub(), started("vid2"))
	second := nextOut(t, e)
	if second.Response.Payload.Kind != msg.PayloadStreamAnnouncement {
		t.Fatalf("expected a second announcement, got %+v", second.Response.Payload)
	}
}

func TestStreamDetectEventsRelayAsSignals(t *testing.T) {
	e, ctx := newTestEngine(t)

	e.streamEvent(ctx, msg.PlatformTwitch, msg.Pubsub(), &msg.StreamEvent{Kind: msg.StreamDetectStart, URL: "https://tw.example"})
	start := nextOut(t, e)
	if sig := start.Response.Payload.Signal; sig == nil || sig.Stop || sig.URL != "https://tw.example" {
		t.Fatalf("expected a start signal, got %+v", start.Response.Payload)
	}
	if start.Loc.Kind != msg.LocBroadcast {
		t.Fatalf("expected broadcast, got %+v", start.Loc)
	}

	e.streamEvent(ctx, msg.PlatformTwitch, msg.Pubsub(), &msg.StreamEvent{Kind: msg.StreamDetectStop, URL: "https://tw.example"})
	stop := nextOut(t, e)
	if sig := stop.Response.Payload.Signal; sig == nil || !sig.Stop {
		t.Fatalf("expected a stop signal, got %+v", stop.Response.Payload)
	}
}

func TestStartedResendsStoredStreamURL(t *testing.T) {
	e, ctx := newTestEngine(t)

	// nothing stored: silence
	e.started(ctx, msg.PlatformYoutube, msg.Pubsub())
	expectNoOut(t, e)

	if _, err := e.cache.Set(ctx, e.streamURLKey(msg.PlatformYoutube), "https://yt.example/live", 0, false); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	e.started(ctx, msg.PlatformYoutube, msg.Pubsub())
	out := nextOut(t, e)
	if sig := out.Response.Payload.Signal; sig == nil || sig.Stop || sig.URL != "https://yt.example/live" {
		t.Fatalf("expected a start signal with the stored url, got %+v", out.Response.Payload)
	}
}

func TestInstallDumpSwapsConfigAndAcknowledges(t *testing.T) {
	e, ctx := newTestEngine(t)

	dump := rules.ConfigDump{
		Commands: []rules.RuleDump{{Kind: "Quote", Name: "greeting", Values: []rules.KeyValue{
			{Key: "enabled", Value: rules.BoolValue(true)},
			{Key: "message", Value: rules.StringValue("hi")},
		}}},
		Filters: []rules.RuleDump{},
		Timers:  []rules.RuleDump{},
	}
	raw, err := json.Marshal(dump)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	origin := msg.Client("op", "10.0.0.1")
	e.installDump(ctx, msg.PlatformWeb, origin, raw)

	saved := nextOut(t, e)
	if saved.Loc.Kind != msg.LocClient || saved.Response.Payload.Kind != msg.PayloadConfigSaved {
		t.Fatalf("expected ConfigSaved at the origin first, got %+v", saved)
	}
	changed := nextOut(t, e)
	if changed.Loc.Kind != msg.LocBroadcast || changed.Response.Payload.Kind != msg.PayloadConfigChanged {
		t.Fatalf("expected ConfigChanged broadcast second, got %+v", changed)
	}

	cfg := e.snapshot()
	if len(cfg.Commands) != 1 || cfg.Commands[0].Name() != "greeting" {
		t.Fatalf("config not installed: %+v", cfg)
	}

	contents, err := os.ReadFile(filepath.Join(e.configDir, rules.CommandsFile))
	if err != nil {
		t.Fatalf("expected persisted commands file: %v", err)
	}
	var persisted []rules.RuleDump
	if err := json.Unmarshal(contents, &persisted); err != nil {
		t.Fatalf("persisted file unparseable: %v", err)
	}
	if len(persisted) != 1 || persisted[0].Name != "greeting" {
		t.Fatalf("unexpected persisted dump %+v", persisted)
	}

	// the cross-instance lock must have been released
	locked, err := e.locker.Lock(ctx, e.configLockKey(), time.Minute)
	if err != nil || !locked {
		t.Fatalf("expected config lock released: locked=%v err=%v", locked, err)
	}
}

func TestInstallDumpRefusedWhileLockHeld(t *testing.T) {
	e, ctx := newTestEngine(t)

	if locked, err := e.locker.Lock(ctx, e.configLockKey(), time.Minute); err != nil || !locked {
		t.Fatalf("seed lock failed: locked=%v err=%v", locked, err)
	}

	raw, _ := json.Marshal(rules.ConfigDump{})
	e.installDump(ctx, msg.PlatformWeb, msg.Client("op", "10.0.0.1"), raw)
	expectNoOut(t, e)
}

func TestInstallCancelsPriorTasks(t *testing.T) {
	e, ctx := newTestEngine(t)

	e.install(ctx, rules.Config{})
	first := e.cancelTasks

	e.install(ctx, rules.Config{})
	select {
	case <-first:
	default:
		t.Fatalf("expected the prior cancel signal to fire on reinstall")
	}
	select {
	case <-e.cancelTasks:
		t.Fatalf("fresh cancel signal must not be closed")
	default:
	}
}

func TestDumpSchemaAndConfigGoToOrigin(t *testing.T) {
	e, ctx := newTestEngine(t)
	origin := msg.Client("op", "10.0.0.1")

	e.dumpSchema(ctx, msg.PlatformWeb, origin)
	schema := nextOut(t, e)
	if schema.Loc.Kind != msg.LocClient || schema.Response.Payload.Kind != msg.PayloadSchemaDump {
		t.Fatalf("expected schema dump at origin, got %+v", schema)
	}
	var schemas []rules.RuleSchema
	if err := json.Unmarshal(schema.Response.Payload.Schema, &schemas); err != nil {
		t.Fatalf("schema dump unparseable: %v", err)
	}
	if len(schemas) == 0 || schemas[0].Kind != "Points" {
		t.Fatalf("unexpected schema dump %+v", schemas)
	}

	e.dumpConfig(ctx, msg.PlatformWeb, origin)
	cfg := nextOut(t, e)
	if cfg.Response.Payload.Kind != msg.PayloadConfigDump {
		t.Fatalf("expected config dump, got %+v", cfg.Response.Payload)
	}
}

func TestDumpLogReadsTheInstalledLogRule(t *testing.T) {
	e, ctx := newTestEngine(t)
	e.SetConfig(rules.Config{Commands: []rules.Rule{
		mustRule(t, rules.RuleDump{Kind: "Log", Name: "recent", Values: []rules.KeyValue{
			{Key: "enabled", Value: rules.BoolValue(true)},
			{Key: "keep_for", Value: rules.NumberValue(60)},
		}}),
	}})

	e.chat(ctx, msg.PlatformYoutube, msg.Pubsub(), chatEvent("viewer", msg.PermNone, "hello"))
	if mirror := nextOut(t, e); mirror.Response.Payload.Kind != msg.PayloadChat {
		t.Fatalf("expected mirrored chat, got %+v", mirror.Response.Payload)
	}

	e.dumpLog(ctx, msg.PlatformWeb, msg.Client("op", "10.0.0.1"), msg.PlatformYoutube)
	dump := nextOut(t, e)
	if dump.Response.Payload.Kind != msg.PayloadLogDump {
		t.Fatalf("expected log dump, got %+v", dump.Response.Payload)
	}
	logs := dump.Response.Payload.Log
	if len(logs) != 1 || logs[0].Platform != msg.PlatformYoutube || len(logs[0].Lines) != 1 {
		t.Fatalf("unexpected log dump %+v", logs)
	}
}

func TestDispatchLogsCarryAMessageID(t *testing.T) {
	e, ctx := newTestEngine(t)
	var buf lockedBuffer
	e.logger = slog.New(slog.NewTextHandler(&buf, nil))
	inbound := make(chan msg.Frame, 1)

	go e.rxLoop(ctx, inbound)

	data, _ := json.Marshal(msg.Message{
		Platform: msg.PlatformYoutube,
		Channel:  "testchan",
		Payload:  msg.Payload{Kind: msg.PayloadChat, Chat: chatEvent("viewer", msg.PermNone, "hi")},
	})
	inbound <- msg.Frame{Origin: msg.Pubsub(), Data: data}
	nextOut(t, e)

	logged := buf.String()
	if !strings.Contains(logged, "message received") || !strings.Contains(logged, "message_id=") {
		t.Fatalf("expected dispatch log line tagged with a message id, got %q", logged)
	}
}

func TestNewMessageIDIsUniqueHex(t *testing.T) {
	a, b := newMessageID(), newMessageID()
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
	if len(a) != 32 {
		t.Fatalf("expected a 16-byte hex id, got %q", a)
	}
	if _, err := hex.DecodeString(a); err != nil {
		t.Fatalf("id is not hex: %v", err)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRxLoopRejectsOtherChannels(t *testing.T) {
	e, ctx := newTestEngine(t)
	inbound := make(chan msg.Frame, 2)

	go e.rxLoop(ctx, inbound)

	wrong, _ := json.Marshal(msg.Message{
		Platform: msg.PlatformYoutube,
		Channel:  "otherchan",
		Payload:  msg.Payload{Kind: msg.PayloadChat, Chat: chatEvent("viewer", msg.PermNone, "hi")},
	})
	inbound <- msg.Frame{Origin: msg.Pubsub(), Data: wrong}
	inbound <- msg.Frame{Origin: msg.Pubsub(), Data: []byte("not json")}
	expectNoOut(t, e)

	right, _ := json.Marshal(msg.Message{
		Platform: msg.PlatformYoutube,
		Channel:  "testchan",
		Payload:  msg.Payload{Kind: msg.PayloadChat, Chat: chatEvent("viewer", msg.PermNone, "hi")},
	})
	inbound <- msg.Frame{Origin: msg.Pubsub(), Data: right}
	if mirror := nextOut(t, e); mirror.Response.Payload.Kind != msg.PayloadChat {
		t.Fatalf("expected the matching channel to be processed, got %+v", mirror.Response.Payload)
	}
}

type recordingSink struct {
	mu        sync.Mutex
	published [][]byte
	delivered []msg.Location
}

func (r *recordingSink) Publish(_ context.Context, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, data)
}

func (r *recordingSink) Deliver(loc msg.Location, _ []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, loc)
}

func (r *recordingSink) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published), len(r.delivered)
}

func TestTxLoopRoutesByLocation(t *testing.T) {
	e, ctx := newTestEngine(t)
	sink := &recordingSink{}
	go e.txLoop(ctx, sink, sink)

	resp := msg.Response{
		Platform: msg.PlatformYoutube,
		Channel:  "testchan",
		Payload:  msg.Payload{Kind: msg.PayloadConfigChanged},
	}
	e.out <- msg.Outbound{Loc: msg.Pubsub(), Response: resp}
	e.out <- msg.Outbound{Loc: msg.AllClients(), Response: resp}
	e.out <- msg.Outbound{Loc: msg.Broadcast(), Response: resp}

	deadline := time.Now().Add(2 * time.Second)
	for {
		published, delivered := sink.counts()
		if published == 2 && delivered == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("unexpected routing: published=%d delivered=%d", published, delivered)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
