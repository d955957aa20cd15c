package msg

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestModActionCompareOrdersBySeverity(t *testing.T) {
	order := []ModAction{
		{Kind: ModNone},
		{Kind: ModWarn},
		{Kind: ModRemove},
		Timeout(60),
		Timeout(600),
		{Kind: ModKick},
		{Kind: ModBan},
	}
	for i, lesser := range order[:len(order)-1] {
		greater := order[i+1]
		if lesser.Compare(greater) >= 0 {
			t.Fatalf("%v must rank below %v", lesser, greater)
		}
		if greater.Compare(lesser) <= 0 {
			t.Fatalf("%v must rank above %v", greater, lesser)
		}
	}
	if Timeout(600).Compare(Timeout(600)) != 0 {
		t.Fatalf("equal timeouts must compare equal")
	}
}

func TestModActionWireFormat(t *testing.T) {
	data, err := json.Marshal(ModAction{Kind: ModBan})
	if err != nil || string(data) != `"Ban"` {
		t.Fatalf("unit kinds are bare strings, got %s err=%v", data, err)
	}
	data, err = json.Marshal(Timeout(600))
	if err != nil || string(data) != `{"Timeout":600}` {
		t.Fatalf("timeout is a tagged object, got %s err=%v", data, err)
	}

	var a ModAction
	if err := json.Unmarshal([]byte(`"Remove"`), &a); err != nil || a.Kind != ModRemove {
		t.Fatalf("got %+v err=%v", a, err)
	}
	if err := json.Unmarshal([]byte(`{"Timeout":30}`), &a); err != nil || a != Timeout(30) {
		t.Fatalf("got %+v err=%v", a, err)
	}
	if err := json.Unmarshal([]byte(`"Obliterate"`), &a); err == nil {
		t.Fatalf("unknown action names must be rejected")
	}
	if err := json.Unmarshal([]byte(`{"Timeout":30,"Extra":1}`), &a); err == nil {
		t.Fatalf("multi-key objects must be rejected")
	}
}

func TestPlatformMaskAndNames(t *testing.T) {
	if !PlatformChat.Contains(PlatformYoutube) || !PlatformChat.Contains(PlatformDiscord) {
		t.Fatalf("chat mask must contain youtube and discord")
	}
	if PlatformStream.Contains(PlatformDiscord) {
		t.Fatalf("stream mask must not contain discord")
	}
	if got := PlatformTwitch.String(); got != "Twitch" {
		t.Fatalf("got %q", got)
	}
	if got := (PlatformYoutube | PlatformTwitch).String(); got != "Youtube|Twitch" {
		t.Fatalf("got %q", got)
	}
}

func TestParsePlatformAliases(t *testing.T) {
	for alias, want := range map[string]Platform{
		"yt":      PlatformYoutube,
		"Youtube": PlatformYoutube,
		"tw":      PlatformTwitch,
		"disc":    PlatformDiscord,
		"web":     PlatformWeb,
	} {
		got, err := ParsePlatform(alias)
		if err != nil || got != want {
			t.Fatalf("%q: got %v err=%v", alias, got, err)
		}
	}
	if _, err := ParsePlatform("myspace"); err == nil {
		t.Fatalf("unknown platforms must be rejected")
	}
}

func TestPlatformUnmarshalRejectsUnknownBits(t *testing.T) {
	var p Platform
	if err := json.Unmarshal([]byte("3"), &p); err != nil || p != PlatformYoutube|PlatformTwitch {
		t.Fatalf("got %v err=%v", p, err)
	}
	if err := json.Unmarshal([]byte("32"), &p); err == nil {
		t.Fatalf("bits outside the platform set must be rejected")
	}
}

func TestChatEnvelopeRoundTrip(t *testing.T) {
	wire := `{"platform":1,"channel":"aussie","payload":{"Chat":{"user":{"id":"u1","name":"viewer","perms":1},"msg":"hello"}}}`

	var m Message
	if err := json.Unmarshal([]byte(wire), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Platform != PlatformYoutube || m.Channel != "aussie" {
		t.Fatalf("bad envelope %+v", m)
	}
	if m.Payload.Kind != PayloadChat || m.Payload.Chat == nil || m.Payload.Chat.Text != "hello" {
		t.Fatalf("bad payload %+v", m.Payload)
	}
	if m.Payload.Chat.User.Perms != PermNone {
		t.Fatalf("bad perms %v", m.Payload.Chat.User.Perms)
	}

	out, err := json.Marshal(m)
	if err != nil || string(out) != wire {
		t.Fatalf("round trip changed the wire form:\n got %s\nwant %s\nerr=%v", out, wire, err)
	}
}

func TestUnitPayloadsAreBareTags(t *testing.T) {
	data, err := json.Marshal(Payload{Kind: PayloadNotifyStart})
	if err != nil || string(data) != `"NotifyStart"` {
		t.Fatalf("got %s err=%v", data, err)
	}

	var p Payload
	if err := json.Unmarshal([]byte(`"DumpConfig"`), &p); err != nil || p.Kind != PayloadDumpConfig {
		t.Fatalf("got %+v err=%v", p, err)
	}
	if err := json.Unmarshal([]byte(`"ConfigChanged"`), &p); err != nil || p.Kind != PayloadConfigChanged {
		t.Fatalf("got %+v err=%v", p, err)
	}
	if err := json.Unmarshal([]byte(`"Karaoke"`), &p); err == nil {
		t.Fatalf("unknown tags must be rejected")
	}
}

func TestDumpLogCarriesPlatformArgument(t *testing.T) {
	var p Payload
	if err := json.Unmarshal([]byte(`{"DumpLog":4}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Kind != PayloadDumpLog || p.Platform != PlatformDiscord {
		t.Fatalf("got %+v", p)
	}
	data, err := json.Marshal(p)
	if err != nil || string(data) != `{"DumpLog":4}` {
		t.Fatalf("got %s err=%v", data, err)
	}
}

func TestModActionEventIsATuple(t *testing.T) {
	event := ModActionEvent{
		User:   User{ID: "u1", Name: "spammer", Perms: PermNone},
		Action: Timeout(600),
		Reason: "links",
	}
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `[{"id":"u1","name":"spammer","perms":1},{"Timeout":600},"links"]`
	if string(data) != want {
		t.Fatalf("got %s want %s", data, want)
	}

	var back ModActionEvent
	if err := json.Unmarshal(data, &back); err != nil || !reflect.DeepEqual(back, event) {
		t.Fatalf("round trip changed the event: %+v err=%v", back, err)
	}
}

func TestStreamEventVariants(t *testing.T) {
	cases := []struct {
		wire  string
		event StreamEvent
	}{
		{`{"DetectStart":"https://yt.example/live"}`, StreamEvent{Kind: StreamDetectStart, URL: "https://yt.example/live"}},
		{`{"Started":["https://yt.example/live","vid1"]}`, StreamEvent{Kind: StreamStarted, URL: "https://yt.example/live", ID: "vid1"}},
		{`{"DetectStop":"https://yt.example/live"}`, StreamEvent{Kind: StreamDetectStop, URL: "https://yt.example/live"}},
		{`{"Stopped":"vid1"}`, StreamEvent{Kind: StreamStopped, ID: "vid1"}},
	}
	for _, tc := range cases {
		data, err := json.Marshal(tc.event)
		if err != nil || string(data) != tc.wire {
			t.Fatalf("marshal %+v: got %s err=%v", tc.event, data, err)
		}
		var back StreamEvent
		if err := json.Unmarshal([]byte(tc.wire), &back); err != nil || back != tc.event {
			t.Fatalf("unmarshal %s: got %+v err=%v", tc.wire, back, err)
		}
	}
}

func TestStreamSignalStartStop(t *testing.T) {
	data, err := json.Marshal(StreamSignal{URL: "https://yt.example/live"})
	if err != nil || string(data) != `{"Start":"https://yt.example/live"}` {
		t.Fatalf("got %s err=%v", data, err)
	}
	var s StreamSignal
	if err := json.Unmarshal([]byte(`{"Stop":"https://yt.example/live"}`), &s); err != nil || !s.Stop {
		t.Fatalf("got %+v err=%v", s, err)
	}
}

func TestInvocationKindDefaultsToInvoke(t *testing.T) {
	var inv Invocation
	if err := json.Unmarshal([]byte(`{"user":{"id":"u1","name":"viewer","perms":1},"cmd":"!points","args":{}}`), &inv); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if inv.InvKindOf() != InvInvoke {
		t.Fatalf("nil kind must mean a plain invoke, got %v", inv.InvKindOf())
	}

	if err := json.Unmarshal([]byte(`{"user":{"id":"u1","name":"viewer","perms":1},"cmd":"!points","args":{},"kind":"Autocomplete"}`), &inv); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if inv.InvKindOf() != InvAutocomplete {
		t.Fatalf("got %v", inv.InvKindOf())
	}
}

func TestArgMapAccessorsCheckKinds(t *testing.T) {
	args := ArgMap{
		"who":    StringArg("viewer"),
		"amount": IntegerArg(50),
		"link":   SubCommandArg(ArgMap{"code": StringArg("abc")}),
	}
	if v, ok := args.String("who"); !ok || v != "viewer" {
		t.Fatalf("got %q ok=%v", v, ok)
	}
	if _, ok := args.String("amount"); ok {
		t.Fatalf("mistyped access must report absence")
	}
	if v, ok := args.Integer("amount"); !ok || v != 50 {
		t.Fatalf("got %d ok=%v", v, ok)
	}
	sub, ok := args.SubCommand("link")
	if !ok {
		t.Fatalf("missing subcommand")
	}
	if v, ok := sub.String("code"); !ok || v != "abc" {
		t.Fatalf("got %q ok=%v", v, ok)
	}
}

func TestArgMapWireFormat(t *testing.T) {
	args := ArgMap{"amount": IntegerArg(50)}
	data, err := json.Marshal(args)
	if err != nil || string(data) != `{"amount":{"Integer":50}}` {
		t.Fatalf("got %s err=%v", data, err)
	}
	var back ArgMap
	if err := json.Unmarshal(data, &back); err != nil || !reflect.DeepEqual(back, args) {
		t.Fatalf("round trip changed the map: %+v err=%v", back, err)
	}
}

func TestChatMetaVariants(t *testing.T) {
	meta := ChatMeta{Kind: MetaYoutube, Donation: "$5.00"}
	data, err := json.Marshal(meta)
	if err != nil || string(data) != `{"Youtube":"$5.00"}` {
		t.Fatalf("got %s err=%v", data, err)
	}

	wire := `{"Discord2":[42,"general",[["cat.png","https://cdn.example/cat.png"]],["sticker1"]]}`
	var back ChatMeta
	if err := json.Unmarshal([]byte(wire), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Kind != MetaDiscordChannelMedia || back.ChannelID != 42 || back.ChannelName != "general" {
		t.Fatalf("got %+v", back)
	}
	if len(back.Attachments) != 1 || back.Attachments[0].URL != "https://cdn.example/cat.png" {
		t.Fatalf("got attachments %+v", back.Attachments)
	}
}

func TestSplitTaggedShapes(t *testing.T) {
	tag, inner, err := SplitTagged([]byte(`"Ping"`))
	if err != nil || tag != "Ping" || inner != nil {
		t.Fatalf("got tag=%q inner=%s err=%v", tag, inner, err)
	}
	tag, inner, err = SplitTagged([]byte(`{"Chat":{"msg":"hi"}}`))
	if err != nil || tag != "Chat" || string(inner) != `{"msg":"hi"}` {
		t.Fatalf("got tag=%q inner=%s err=%v", tag, inner, err)
	}
	if _, _, err := SplitTagged([]byte(`{"A":1,"B":2}`)); err == nil {
		t.Fatalf("multi-key objects must be rejected")
	}
}

func TestLocationConstructors(t *testing.T) {
	if loc := Client("op", "1.2.3.4:5"); loc.Kind != LocClient || loc.Client.Name != "op" {
		t.Fatalf("got %+v", loc)
	}
	all := AllClients()
	if all.Kind != LocClients || all.List != nil {
		t.Fatalf("all-clients must carry a nil list, got %+v", all)
	}
	some := Clients([]ClientAddr{{Name: "op", Addr: "1.2.3.4:5"}})
	if some.Kind != LocClients || len(some.List) != 1 {
		t.Fatalf("got %+v", some)
	}
}
