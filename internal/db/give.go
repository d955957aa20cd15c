package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/iamllama/aussiebot/internal/msg"
)

// GiveSourceKind selects where a transfer draws from.
type GiveSourceKind int

const (
	// GiveFromNone mints the amount out of nothing.
	GiveFromNone GiveSourceKind = iota
	// GiveFromID deducts from a concrete account.
	GiveFromID
	// GiveFromLinked deducts from the account linked to the origin account
	// on the source platform.
	GiveFromLinked
)

// GiveSource is the deduction side of a transfer.
type GiveSource struct {
	Kind     GiveSourceKind
	Platform msg.Platform // source platform
	Origin   msg.Platform // GiveFromLinked: platform of ID
	ID       string
}

func FromNone() GiveSource {
	return GiveSource{Kind: GiveFromNone}
}

func FromID(platform msg.Platform, id string) GiveSource {
	return GiveSource{Kind: GiveFromID, Platform: platform, ID: id}
}

func FromLinked(origin, source msg.Platform, id string) GiveSource {
	return GiveSource{Kind: GiveFromLinked, Origin: origin, Platform: source, ID: id}
}

// GiveTargetKind selects where a transfer deposits.
type GiveTargetKind int

const (
	// GiveToName deposits by display name.
	GiveToName GiveTargetKind = iota
	// GiveToUser deposits by account id.
	GiveToUser
	// GiveToLinked deposits into the account linked to the source's origin
	// on the target platform.
	GiveToLinked
	// GiveToSpend burns the amount.
	GiveToSpend
)

// GiveTarget is the deposit side of a transfer.
type GiveTarget struct {
	Kind     GiveTargetKind
	Platform msg.Platform
	ID       string
	Name     string
}

func ToName(platform msg.Platform, name string) GiveTarget {
	return GiveTarget{Kind: GiveToName, Platform: platform, Name: name}
}

func ToUser(platform msg.Platform, id, name string) GiveTarget {
	return GiveTarget{Kind: GiveToUser, Platform: platform, ID: id, Name: name}
}

func ToLinked(platform msg.Platform) GiveTarget {
	return GiveTarget{Kind: GiveToLinked, Platform: platform}
}

func ToSpend() GiveTarget {
	return GiveTarget{Kind: GiveToSpend}
}

// GiveOp moves Amount points from a source to a target. Amount == -1 means
// "everything the source has". Min and Max bound the effective amount.
type GiveOp struct {
	From   GiveSource
	To     GiveTarget
	Amount int32
	Min    int64
	Max    int64
}

// Give runs the transfer and returns the effective amount moved.
func (s *Store) Give(ctx context.Context, op GiveOp) (int32, error) {
	var moved int32
	err := s.do(ctx, func() error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin give transaction: %w", err)
		}
		defer rollbackTx(ctx, tx, s.logger)

		amount, err := s.give(ctx, tx, op)
		if err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit give: %w", err)
		}
		moved = amount
		return nil
	})
	return moved, err
}

func (s *Store) give(ctx context.Context, tx pgx.Tx, op GiveOp) (int32, error) {
	switch {
	case op.From.Kind == GiveFromLinked && op.To.Kind == GiveToLinked:
		return s.giveLinked(ctx, tx, op)
	case op.From.Kind == GiveFromLinked || op.To.Kind == GiveToLinked:
		return 0, fmt.Errorf("db: both or neither transfer side must be linked")
	case op.From.Kind == GiveFromNone:
		if op.To.Kind == GiveToSpend {
			return 0, fmt.Errorf("db: spending from nothing")
		}
		if err := s.deposit(ctx, tx, op.To, op.Amount); err != nil {
			return 0, err
		}
		return op.Amount, nil
	default:
		amount, err := s.resolveAmount(ctx, tx, op.From.Platform, op.From.ID, op)
		if err != nil {
			return 0, err
		}
		if err := s.deductID(ctx, tx, op.From.Platform, op.From.ID, amount); err != nil {
			return 0, err
		}
		if op.To.Kind != GiveToSpend {
			if err := s.deposit(ctx, tx, op.To, amount); err != nil {
				return 0, err
			}
		}
		return amount, nil
	}
}

func (s *Store) giveLinked(ctx context.Context, tx pgx.Tx, op GiveOp) (int32, error) {
	if op.From.Platform == op.To.Platform {
		return 0, ErrSamePlatform
	}
	suffix, err := platformSuffix(op.From.Origin)
	if err != nil {
		return 0, err
	}
	var ids [3]*string // YT, Discord, Twitch
	var balances Balances
	row := tx.QueryRow(ctx, getPointsSQL(suffix), op.From.ID)
	if err := row.Scan(&ids[0], &ids[1], &ids[2], &balances.Youtube, &balances.Discord, &balances.Twitch); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotLinked
		}
		return 0, fmt.Errorf("select link row: %w", err)
	}
	linkedID := func(p msg.Platform) (string, error) {
		var id *string
		switch p {
		case msg.PlatformYoutube:
			id = ids[0]
		case msg.PlatformDiscord:
			id = ids[1]
		case msg.PlatformTwitch:
			id = ids[2]
		default:
			return "", fmt.Errorf("%w: %s", ErrInvalidPlatform, p)
		}
		if id == nil {
			return "", fmt.Errorf("%w: %s", ErrNotLinked, p)
		}
		return *id, nil
	}
	fromID, err := linkedID(op.From.Platform)
	if err != nil {
		return 0, err
	}
	toID, err := linkedID(op.To.Platform)
	if err != nil {
		return 0, err
	}
	amount, err := s.resolveAmount(ctx, tx, op.From.Platform, fromID, op)
	if err != nil {
		return 0, err
	}
	if err := s.deductID(ctx, tx, op.From.Platform, fromID, amount); err != nil {
		return 0, err
	}
	if err := s.depositID(ctx, tx, op.To.Platform, toID, amount); err != nil {
		return 0, err
	}
	return amount, nil
}

// resolveAmount turns "all" into the locked source balance, enforces the
// minimum and clamps to the maximum.
func (s *Store) resolveAmount(ctx context.Context, tx pgx.Tx, platform msg.Platform, id string, op GiveOp) (int32, error) {
	amount := op.Amount
	if amount == -1 {
		suffix, err := platformSuffix(platform)
		if err != nil {
			return 0, err
		}
		sql := fmt.Sprintf(`SELECT points FROM %s_users WHERE id = $1 FOR UPDATE`, suffix)
		if err := tx.QueryRow(ctx, sql, id).Scan(&amount); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, ErrDeduct
			}
			return 0, fmt.Errorf("select balance: %w", err)
		}
	}
	min := int32(op.Min)
	if amount < min {
		return 0, fmt.Errorf("%w: %d < %d", ErrAmountBelowMin, amount, min)
	}
	if max := int32(op.Max); amount > max {
		amount = max
	}
	return amount, nil
}

func (s *Store) deductID(ctx context.Context, tx pgx.Tx, platform msg.Platform, id string, amount int32) error {
	suffix, err := platformSuffix(platform)
	if err != nil {
		return err
	}
	sql := fmt.Sprintf(`UPDATE %s_users SET points = points - $2 WHERE id = $1 AND points >= $2`, suffix)
	tag, err := tx.Exec(ctx, sql, id, amount)
	if err != nil {
		return fmt.Errorf("deduct: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("deduct refused", "platform", platform.String(), "id", id, "amount", amount)
		return ErrDeduct
	}
	return nil
}

func (s *Store) deposit(ctx context.Context, tx pgx.Tx, target GiveTarget, amount int32) error {
	switch target.Kind {
	case GiveToName:
		return s.depositName(ctx, tx, target.Platform, target.Name, amount)
	case GiveToUser:
		return s.depositID(ctx, tx, target.Platform, target.ID, amount)
	}
	return fmt.Errorf("db: invalid deposit target %d", target.Kind)
}

func (s *Store) depositID(ctx context.Context, tx pgx.Tx, platform msg.Platform, id string, amount int32) error {
	suffix, err := platformSuffix(platform)
	if err != nil {
		return err
	}
	sql := fmt.Sprintf(`UPDATE %s_users SET points = points + $2 WHERE id = $1`, suffix)
	return s.runDeposit(ctx, tx, sql, id, amount)
}

// depositName resolves the target by display name. Twitch accounts are only
// addressable by id.
func (s *Store) depositName(ctx context.Context, tx pgx.Tx, platform msg.Platform, name string, amount int32) error {
	var suffix string
	switch platform {
	case msg.PlatformYoutube:
		suffix = "youtube"
	case msg.PlatformDiscord:
		suffix = "discord"
	default:
		return fmt.Errorf("%w: %s", ErrInvalidPlatform, platform)
	}
	sql := fmt.Sprintf(`UPDATE %s_users SET points = points + $2 WHERE name = $1`, suffix)
	return s.runDeposit(ctx, tx, sql, name, amount)
}

func (s *Store) runDeposit(ctx context.Context, tx pgx.Tx, sql, key string, amount int32) error {
	tag, err := tx.Exec(ctx, sql, key, amount)
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("deposit refused", "target", key, "amount", amount)
		return ErrDeposit
	}
	return nil
}
