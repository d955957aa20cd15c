package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/iamllama/aussiebot/internal/msg"
)

// startStore connects to the database named by AUSSIEBOT_TEST_DATABASE_URL
// and resets the schema. Tests are skipped when the variable is unset.
func startStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	dsn := os.Getenv("AUSSIEBOT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("AUSSIEBOT_TEST_DATABASE_URL not set; skipping postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	store, err := New(ctx, Config{DSN: dsn, ApplicationName: "aussiebot-test"})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	for _, table := range []string{
		"youtube_users", "discord_users", "twitch_users",
		"links_youtube", "links_twitch",
		"hours_youtube", "hours_discord", "hours_twitch",
		"mod_actions_youtube", "mod_actions_discord", "mod_actions_twitch",
	} {
		if _, err := store.pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", table)); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
	return store, ctx
}

func TestUpsertAndGetPoints(t *testing.T) {
	store, ctx := startStore(t)

	if err := store.UpsertPoints(ctx, msg.PlatformDiscord, "d-1", "alice", 10); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.UpsertPoints(ctx, msg.PlatformDiscord, "d-1", "alice", 5); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	balances, err := store.GetPoints(ctx, msg.PlatformDiscord, "d-1")
	if err != nil {
		t.Fatalf("get points failed: %v", err)
	}
	if balances.Discord == nil || *balances.Discord != 15 {
		t.Fatalf("expected 15 discord points, got %v", balances.Discord)
	}
	if balances.Youtube != nil || balances.Twitch != nil {
		t.Fatalf("expected unlinked platforms to be nil")
	}
}

func TestGiveMovesPointsBetweenUsers(t *testing.T) {
	store, ctx := startStore(t)

	if err := store.UpsertPoints(ctx, msg.PlatformDiscord, "d-1", "alice", 100); err != nil {
		t.Fatalf("seed alice failed: %v", err)
	}
	if err := store.UpsertPoints(ctx, msg.PlatformDiscord, "d-2", "bob", 0); err != nil {
		t.Fatalf("seed bob failed: %v", err)
	}

	moved, err := store.Give(ctx, GiveOp{
		From:   FromID(msg.PlatformDiscord, "d-1"),
		To:     ToName(msg.PlatformDiscord, "bob"),
		Amount: 40,
		Min:    1,
		Max:    1000,
	})
	if err != nil {
		t.Fatalf("give failed: %v", err)
	}
	if moved != 40 {
		t.Fatalf("expected 40 moved, got %d", moved)
	}

	from, err := store.GetPoints(ctx, msg.PlatformDiscord, "d-1")
	if err != nil {
		t.Fatalf("get source failed: %v", err)
	}
	if from.Discord == nil || *from.Discord != 60 {
		t.Fatalf("expected 60 left, got %v", from.Discord)
	}
	to, err := store.GetPoints(ctx, msg.PlatformDiscord, "d-2")
	if err != nil {
		t.Fatalf("get target failed: %v", err)
	}
	if to.Discord == nil || *to.Discord != 40 {
		t.Fatalf("expected 40 deposited, got %v", to.Discord)
	}
}

func TestGiveAllResolvesBalance(t *testing.T) {
	store, ctx := startStore(t)

	if err := store.UpsertPoints(ctx, msg.PlatformDiscord, "d-1", "alice", 70); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	moved, err := store.Give(ctx, GiveOp{
		From:   FromID(msg.PlatformDiscord, "d-1"),
		To:     ToSpend(),
		Amount: -1,
		Min:    1,
		Max:    50,
	})
	if err != nil {
		t.Fatalf("give failed: %v", err)
	}
	// All of 70, clamped to the maximum.
	if moved != 50 {
		t.Fatalf("expected 50 moved, got %d", moved)
	}
}

func TestGiveRejectsAmountBelowMin(t *testing.T) {
	store, ctx := startStore(t)

	if err := store.UpsertPoints(ctx, msg.PlatformDiscord, "d-1", "alice", 100); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	_, err := store.Give(ctx, GiveOp{
		From:   FromID(msg.PlatformDiscord, "d-1"),
		To:     ToSpend(),
		Amount: 3,
		Min:    10,
		Max:    1000,
	})
	if !errors.Is(err, ErrAmountBelowMin) {
		t.Fatalf("expected ErrAmountBelowMin, got %v", err)
	}

	balances, err := store.GetPoints(ctx, msg.PlatformDiscord, "d-1")
	if err != nil {
		t.Fatalf("get points failed: %v", err)
	}
	if balances.Discord == nil || *balances.Discord != 100 {
		t.Fatalf("expected untouched balance, got %v", balances.Discord)
	}
}

func TestGiveRollsBackOnInsufficientBalance(t *testing.T) {
	store, ctx := startStore(t)

	if err := store.UpsertPoints(ctx, msg.PlatformDiscord, "d-1", "alice", 10); err != nil {
		t.Fatalf("seed alice failed: %v", err)
	}
	if err := store.UpsertPoints(ctx, msg.PlatformDiscord, "d-2", "bob", 0); err != nil {
		t.Fatalf("seed bob failed: %v", err)
	}

	_, err := store.Give(ctx, GiveOp{
		From:   FromID(msg.PlatformDiscord, "d-1"),
		To:     ToUser(msg.PlatformDiscord, "d-2", "bob"),
		Amount: 999,
		Min:    1,
		Max:    10000,
	})
	if !errors.Is(err, ErrDeduct) {
		t.Fatalf("expected ErrDeduct, got %v", err)
	}

	to, err := store.GetPoints(ctx, msg.PlatformDiscord, "d-2")
	if err != nil {
		t.Fatalf("get target failed: %v", err)
	}
	if to.Discord == nil || *to.Discord != 0 {
		t.Fatalf("expected no deposit after rollback, got %v", to.Discord)
	}
}

func TestLinkedTransferUsesLinkRow(t *testing.T) {
	store, ctx := startStore(t)

	if err := store.UpsertPoints(ctx, msg.PlatformDiscord, "d-1", "alice", 0); err != nil {
		t.Fatalf("seed discord failed: %v", err)
	}
	if err := store.UpsertPoints(ctx, msg.PlatformYoutube, "y-1", "alice", 80); err != nil {
		t.Fatalf("seed youtube failed: %v", err)
	}
	if err := store.Link(ctx, msg.PlatformYoutube, "d-1", "y-1"); err != nil {
		t.Fatalf("link failed: %v", err)
	}

	moved, err := store.Give(ctx, GiveOp{
		From:   FromLinked(msg.PlatformDiscord, msg.PlatformYoutube, "d-1"),
		To:     ToLinked(msg.PlatformDiscord),
		Amount: 30,
		Min:    1,
		Max:    1000,
	})
	if err != nil {
		t.Fatalf("linked give failed: %v", err)
	}
	if moved != 30 {
		t.Fatalf("expected 30 moved, got %d", moved)
	}

	balances, err := store.GetPoints(ctx, msg.PlatformDiscord, "d-1")
	if err != nil {
		t.Fatalf("get points failed: %v", err)
	}
	if balances.Youtube == nil || *balances.Youtube != 50 {
		t.Fatalf("expected 50 youtube points, got %v", balances.Youtube)
	}
	if balances.Discord == nil || *balances.Discord != 30 {
		t.Fatalf("expected 30 discord points, got %v", balances.Discord)
	}
}

func TestLinkedTransferSamePlatform(t *testing.T) {
	store, ctx := startStore(t)

	_, err := store.Give(ctx, GiveOp{
		From:   FromLinked(msg.PlatformDiscord, msg.PlatformYoutube, "d-1"),
		To:     ToLinked(msg.PlatformYoutube),
		Amount: 10,
		Min:    1,
		Max:    100,
	})
	if !errors.Is(err, ErrSamePlatform) {
		t.Fatalf("expected ErrSamePlatform, got %v", err)
	}
}

func TestHoursAccumulates(t *testing.T) {
	store, ctx := startStore(t)

	watchtime, err := store.Hours(ctx, msg.PlatformYoutube, "y-1", 0)
	if err != nil {
		t.Fatalf("first hours failed: %v", err)
	}
	if watchtime != 0 {
		t.Fatalf("expected zero watchtime on first sighting, got %d", watchtime)
	}

	// Backdate last_seen so the next call sees a gap.
	if _, err := store.pool.Exec(ctx,
		"UPDATE hours_youtube SET last_seen = last_seen - INTERVAL '100 seconds' WHERE id = $1", "y-1"); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	watchtime, err = store.Hours(ctx, msg.PlatformYoutube, "y-1", 0)
	if err != nil {
		t.Fatalf("second hours failed: %v", err)
	}
	if watchtime < 100 || watchtime > 105 {
		t.Fatalf("expected roughly 100 seconds of watchtime, got %d", watchtime)
	}
}

func TestHoursIgnoresLongGaps(t *testing.T) {
	store, ctx := startStore(t)

	if _, err := store.Hours(ctx, msg.PlatformYoutube, "y-1", 60); err != nil {
		t.Fatalf("first hours failed: %v", err)
	}
	if _, err := store.pool.Exec(ctx,
		"UPDATE hours_youtube SET last_seen = last_seen - INTERVAL '1 hour' WHERE id = $1", "y-1"); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	watchtime, err := store.Hours(ctx, msg.PlatformYoutube, "y-1", 60)
	if err != nil {
		t.Fatalf("second hours failed: %v", err)
	}
	if watchtime != 0 {
		t.Fatalf("expected gap past max to be dropped, got %d", watchtime)
	}
}

func TestModActionsRoundTrip(t *testing.T) {
	store, ctx := startStore(t)

	if err := store.UpsertPoints(ctx, msg.PlatformDiscord, "d-1", "alice", 0); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := store.AppendModAction(ctx, msg.PlatformDiscord, "d-1", msg.Timeout(300), "spam filter"); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	dump, err := store.DumpModActions(ctx)
	if err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	if len(dump) != 3 {
		t.Fatalf("expected one entry per platform, got %d", len(dump))
	}
	var discord *PlatformModActions
	for i := range dump {
		if dump[i].Platform == msg.PlatformDiscord {
			discord = &dump[i]
		}
	}
	if discord == nil || len(discord.Records) != 1 {
		t.Fatalf("expected one discord record, got %+v", dump)
	}
	record := discord.Records[0]
	if record.Name == nil || *record.Name != "alice" {
		t.Fatalf("expected display name joined in, got %v", record.Name)
	}
	if record.Action != "Timeout (300s)" {
		t.Fatalf("unexpected action %q", record.Action)
	}
	if record.Reason != "spam filter" {
		t.Fatalf("unexpected reason %q", record.Reason)
	}
	if record.At == 0 {
		t.Fatalf("expected timestamp to be set")
	}
}
