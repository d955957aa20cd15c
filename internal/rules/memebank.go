package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iamllama/aussiebot/internal/msg"
)

// memeOp is a parsed meme subcommand.
type memeOp int

const (
	memeSearch memeOp = iota + 1
	memeList
	memeEditSearch
	memeEditLast
	memeAdd
	memeClear
)

type memeArgs struct {
	op     memeOp
	search string
	name   *string // name for add, rename target for the edit ops
	link   string
	silent bool
}

// memeItem is stored as the [link, name] tuple.
type memeItem struct {
	link string
	name string
}

// MemeBank keeps a per-user stash of discord/tenor/giphy links in a sorted
// set scored by save time, searchable through slash-command autocomplete.
type MemeBank struct {
	base
	prefix            string
	autocorrect       bool
	perms             msg.Permissions
	ratelimitUser     uint64
	scrapeAttachments bool
}

func newMemeBank(name string) *MemeBank {
	return &MemeBank{
		base:              base{name: name},
		prefix:            "!meme",
		perms:             msg.PermNone,
		scrapeAttachments: true,
	}
}

func (b *MemeBank) Kind() string { return "MemeBank" }

func (b *MemeBank) fields() []Field {
	return []Field{
		b.enabledField(),
		stringField("prefix", "Command prefix", &b.prefix, NonEmpty),
		boolField("autocorrect", "Autocorrect prefix", &b.autocorrect, NoConstraint),
		permsField("perms", "Permissions", &b.perms),
		uintField("ratelimit_user", "Cooldown per user (in seconds)", &b.ratelimitUser, Positive),
		boolField("scrape_attachments", "Automatically add sent attachments", &b.scrapeAttachments, NoConstraint),
	}
}

func (b *MemeBank) canRun(rc *Context) bool {
	return b.enabled && rc.Platform.Contains(msg.PlatformDiscord) && rc.User.Perms >= b.perms
}

func (b *MemeBank) stashKey(rc *Context) string {
	return fmt.Sprintf("%s_%s", rc.lockKey(b.Kind(), "cache"), rc.User.ID)
}

func (b *MemeBank) Chat(ctx context.Context, rc *Context, chat *msg.Chat) (RunRes, error) {
	if !b.canRun(rc) || !b.scrapeAttachments {
		return Disabled(), nil
	}
	meta := rc.Meta
	if meta == nil {
		return Noop(), nil
	}
	if meta.Kind != msg.MetaDiscordChannelMedia && meta.Kind != msg.MetaDiscordMedia {
		return Noop(), nil
	}
	for _, att := range meta.Attachments {
		name := att.Name
		if _, err := b.run(ctx, rc, memeArgs{op: memeAdd, link: att.URL, name: &name, silent: true}, msg.InvInvoke); err != nil {
			return RunRes{}, err
		}
	}
	return Noop(), nil
}

func (b *MemeBank) Invoke(ctx context.Context, rc *Context, inv *msg.Invocation) (RunRes, bool) {
	if !b.canRun(rc) || !checkInvokePrefix(b.prefix, inv.Cmd) {
		return RunRes{}, false
	}
	args, ok := parseMemeArgs(inv.Args)
	if !ok {
		return RunRes{}, false
	}

	limited, err := ratelimitUser(ctx, rc, b.ratelimitUser, b.Kind(), b.name)
	if err != nil || limited {
		if err != nil {
			rc.log().Error("memebank ratelimit failed", "name", b.name, "error", err)
		}
		return RunRes{}, false
	}
	res, err := b.run(ctx, rc, args, inv.InvKindOf())
	if err != nil {
		rc.log().Error("memebank invoke failed", "name", b.name, "error", err)
		return RunRes{}, false
	}
	return res, true
}

func parseMemeArgs(m msg.ArgMap) (memeArgs, bool) {
	if sub, ok := m.SubCommand("get"); ok {
		search, ok := sub.String("search")
		if !ok {
			return memeArgs{}, false
		}
		return memeArgs{op: memeSearch, search: search}, true
	}
	if _, ok := m.SubCommand("list"); ok {
		return memeArgs{op: memeList}, true
	}
	if edit, ok := m.SubCommand("edit"); ok {
		if sub, ok := edit.SubCommand("remove"); ok {
			search, ok := sub.String("search")
			if !ok {
				return memeArgs{}, false
			}
			return memeArgs{op: memeEditSearch, search: search}, true
		}
		if sub, ok := edit.SubCommand("rename"); ok {
			search, sok := sub.String("search")
			name, nok := sub.String("name")
			if !sok || !nok {
				return memeArgs{}, false
			}
			return memeArgs{op: memeEditSearch, search: search, name: &name}, true
		}
		if _, ok := edit.SubCommand("remove-last"); ok {
			return memeArgs{op: memeEditLast}, true
		}
		if sub, ok := edit.SubCommand("rename-last"); ok {
			name, ok := sub.String("name")
			if !ok {
				return memeArgs{}, false
			}
			return memeArgs{op: memeEditLast, name: &name}, true
		}
		return memeArgs{}, false
	}
	if sub, ok := m.SubCommand("add"); ok {
		link, lok := sub.String("link")
		name, nok := sub.String("name")
		if !lok || !nok {
			return memeArgs{}, false
		}
		return memeArgs{op: memeAdd, link: link, name: &name}, true
	}
	if _, ok := m.SubCommand("clear"); ok {
		return memeArgs{op: memeClear}, true
	}
	return memeArgs{}, false
}

type scoredItem struct {
	score float64
	item  memeItem
}

func (b *MemeBank) add(ctx context.Context, rc *Context, item memeItem) error {
	raw, err := json.Marshal([]string{item.link, item.name})
	if err != nil {
		return err
	}
	_, err = rc.Cache.ZAdd(ctx, b.stashKey(rc), float64(time.Now().UnixMilli()), string(raw))
	return err
}

// getAll loads the stash, newest first. Entries that fail to parse are
// skipped.
func (b *MemeBank) getAll(ctx context.Context, rc *Context) ([]scoredItem, error) {
	scored, err := rc.Cache.ZRangeWithScores(ctx, b.stashKey(rc), 0, -1)
	if err != nil {
		return nil, err
	}
	items := make([]scoredItem, 0, len(scored))
	for i := len(scored) - 1; i >= 0; i-- {
		var item memeItem
		if err := msg.UnmarshalTuple([]byte(scored[i].Member), &item.link, &item.name); err != nil {
			continue
		}
		items = append(items, scoredItem{score: scored[i].Score, item: item})
	}
	return items, nil
}

// maxChoices is the platform's cap on autocomplete choices per response.
const maxChoices = 25

// choicesFor offers prefix matches; the choice value is the item's index
// since names can exceed the platform's value length cap.
func choicesFor(items []scoredItem, search string) []msg.Choice {
	var choices []msg.Choice
	for i, s := range items {
		if len(choices) == maxChoices {
			break
		}
		if strings.HasPrefix(s.item.name, search) {
			choices = append(choices, msg.Choice{Key: s.item.name, Value: strconv.Itoa(i)})
		}
	}
	return choices
}

// pickChoice resolves a submitted value, either an index from autocomplete or
// a partial name typed directly.
func pickChoice(items []scoredItem, search string) (scoredItem, bool) {
	if i, err := strconv.Atoi(search); err == nil {
		if i >= 0 && i < len(items) {
			return items[i], true
		}
		return scoredItem{}, false
	}
	for _, s := range items {
		if strings.HasPrefix(s.item.name, search) {
			return s, true
		}
	}
	return scoredItem{}, false
}

func (b *MemeBank) reply(ctx context.Context, rc *Context, text string) {
	rc.Emit(ctx, rc.Origin, rc.ping(rc.Platform, nil, *rc.User, text))
}

func (b *MemeBank) run(ctx context.Context, rc *Context, args memeArgs, kind msg.InvKind) (RunRes, error) {
	switch args.op {
	case memeSearch:
		items, err := b.getAll(ctx, rc)
		if err != nil {
			return RunRes{}, err
		}
		if kind == msg.InvAutocomplete {
			rc.Emit(ctx, rc.Origin, msg.Response{
				Platform: rc.Platform,
				Channel:  rc.Channel,
				Payload: msg.Payload{
					Kind:     msg.PayloadAutocomplete,
					Complete: &msg.Autocomplete{Choices: choicesFor(items, args.search), Meta: rc.Meta},
				},
			})
			break
		}
		link := "⚠ Not found"
		if s, ok := pickChoice(items, args.search); ok {
			link = s.item.link
		}
		b.reply(ctx, rc, link)

	case memeEditSearch:
		items, err := b.getAll(ctx, rc)
		if err != nil {
			return RunRes{}, err
		}
		if kind == msg.InvAutocomplete {
			rc.Emit(ctx, rc.Origin, msg.Response{
				Platform: rc.Platform,
				Channel:  rc.Channel,
				Payload: msg.Payload{
					Kind:     msg.PayloadAutocomplete,
					Complete: &msg.Autocomplete{Choices: choicesFor(items, args.search), Meta: rc.Meta},
				},
			})
			break
		}
		s, ok := pickChoice(items, args.search)
		if !ok {
			b.reply(ctx, rc, "⚠ Not found")
			return Noop(), nil
		}
		ts := strconv.FormatFloat(s.score, 'f', -1, 64)
		if _, err := rc.Cache.ZRemRangeByScore(ctx, b.stashKey(rc), ts, ts); err != nil {
			return RunRes{}, err
		}
		text := fmt.Sprintf("Removed `%s`: %s", s.item.name, s.item.link)
		if args.name != nil {
			text = fmt.Sprintf("Renamed `%s` to `%s`", s.item.name, *args.name)
			if err := b.add(ctx, rc, memeItem{link: s.item.link, name: *args.name}); err != nil {
				return RunRes{}, err
			}
		}
		b.reply(ctx, rc, text)

	case memeList:
		items, err := b.getAll(ctx, rc)
		if err != nil {
			return RunRes{}, err
		}
		var lines strings.Builder
		if len(items) == 0 {
			lines.WriteString("⚠ No items saved")
		} else {
			for _, s := range items {
				fmt.Fprintf(&lines, ":small_orange_diamond: %s\n", s.item.name)
			}
		}
		fmt.Fprintf(&lines, "\n(_%d item%s in total_)", len(items), plural(len(items)))
		b.reply(ctx, rc, lines.String())

	case memeEditLast:
		popped, err := rc.Cache.ZPopMax(ctx, b.stashKey(rc), 1)
		if err != nil {
			return RunRes{}, err
		}
		if len(popped) == 0 {
			return Noop(), nil
		}
		var item memeItem
		if err := msg.UnmarshalTuple([]byte(popped[0].Member), &item.link, &item.name); err != nil {
			return RunRes{}, err
		}
		text := fmt.Sprintf("Removed `%s`: %s", item.name, item.link)
		if args.name != nil {
			text = fmt.Sprintf("Renamed `%s` to `%s`", item.name, *args.name)
			if err := b.add(ctx, rc, memeItem{link: item.link, name: *args.name}); err != nil {
				return RunRes{}, err
			}
		}
		b.reply(ctx, rc, text)

	case memeAdd:
		u, err := url.Parse(args.link)
		if err != nil {
			return RunRes{}, err
		}
		name := ""
		if args.name != nil {
			name = *args.name
		}
		var text string
		switch u.Hostname() {
		case "discord.com", // message links
			"cdn.discordapp.com",   // attachments
			"media.discordapp.net", // cached attachments
			"tenor.com",
			"giphy.com":
			text = fmt.Sprintf("Added `%s`: %s", name, args.link)
			if err := b.add(ctx, rc, memeItem{link: args.link, name: name}); err != nil {
				return RunRes{}, err
			}
		default:
			rc.log().Warn("invalid link", "link", args.link)
			text = "⚠ Invalid link"
		}
		if !args.silent {
			b.reply(ctx, rc, text)
		}

	case memeClear:
		if _, err := rc.Cache.Del(ctx, b.stashKey(rc)); err != nil {
			return RunRes{}, err
		}
		b.reply(ctx, rc, "Items cleared")
	}

	return Ok(), nil
}

func (b *MemeBank) ArgSpec(platform msg.Platform) (ArgSpec, bool) {
	if !b.enabled || b.prefix == "" || platform != msg.PlatformDiscord {
		return ArgSpec{}, false
	}

	editSubcmds := []Arg{
		subCommand("remove", "Remove a meme", true,
			autocompleteArg("search", "Search term")),
		subCommand("rename", "Rename a meme", true,
			autocompleteArg("search", "Search term"),
			stringArg("name", "New name", false)),
	}
	if b.scrapeAttachments {
		editSubcmds = append(editSubcmds,
			subCommand("remove-last", "Remove the last saved meme", true),
			subCommand("rename-last", "Rename the last saved meme", true,
				stringArg("name", "New name", false)))
	}

	return ArgSpec{
		Prefix: unbangPrefix(b.prefix),
		Desc:   descOf(b.Kind()),
		Hidden: true,
		Perms:  b.perms,
		Args: []Arg{
			subCommand("get", "Get a meme", true,
				autocompleteArg("search", "Search term")),
			subCommand("list", "List all memes", true),
			subCommandGroup("edit", "Rename/remove a saved meme", true, editSubcmds...),
			subCommand("add", "Manually save a meme", true,
				stringArg("link", "Link to the embed (must be a discord link)", false),
				stringArg("name", "Name", false)),
			subCommand("clear", "Clear memes", true),
		},
	}, true
}
