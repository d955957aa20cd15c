package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iamllama/aussiebot/internal/msg"
)

// ModActionRecord is one persisted moderation verdict, serialized as
// [display-name, platform-id, action, reason, unix-seconds].
type ModActionRecord struct {
	Name       *string
	PlatformID string
	Action     string
	Reason     string
	At         uint64
}

func (r ModActionRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Name, r.PlatformID, r.Action, r.Reason, r.At})
}

func (r *ModActionRecord) UnmarshalJSON(data []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 5 {
		return fmt.Errorf("db: mod action record wants 5 fields, got %d", len(fields))
	}
	for i, into := range []any{&r.Name, &r.PlatformID, &r.Action, &r.Reason, &r.At} {
		if err := json.Unmarshal(fields[i], into); err != nil {
			return err
		}
	}
	return nil
}

// PlatformModActions pairs a platform with its records, serialized as
// [platform, records].
type PlatformModActions struct {
	Platform msg.Platform
	Records  []ModActionRecord
}

func (p PlatformModActions) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.Platform, p.Records})
}

func (p *PlatformModActions) UnmarshalJSON(data []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("db: platform mod actions wants 2 fields, got %d", len(fields))
	}
	if err := json.Unmarshal(fields[0], &p.Platform); err != nil {
		return err
	}
	return json.Unmarshal(fields[1], &p.Records)
}

// AppendModAction persists one moderation verdict against an account.
func (s *Store) AppendModAction(ctx context.Context, platform msg.Platform, id string, action msg.ModAction, reason string) error {
	return s.do(ctx, func() error {
		suffix, err := platformSuffix(platform)
		if err != nil {
			return err
		}
		sql := fmt.Sprintf(`INSERT INTO mod_actions_%s (platform_id, action, reason) VALUES ($1, $2, $3)`, suffix)
		if _, err := s.pool.Exec(ctx, sql, id, action.String(), reason); err != nil {
			return fmt.Errorf("append mod action: %w", err)
		}
		return nil
	})
}

// DumpModActions returns every stored verdict grouped by platform, oldest
// first, with display names joined in where the account is known.
func (s *Store) DumpModActions(ctx context.Context) ([]PlatformModActions, error) {
	platforms := []msg.Platform{msg.PlatformYoutube, msg.PlatformDiscord, msg.PlatformTwitch}
	dump := make([]PlatformModActions, 0, len(platforms))
	err := s.do(ctx, func() error {
		for _, platform := range platforms {
			suffix, err := platformSuffix(platform)
			if err != nil {
				return err
			}
			sql := fmt.Sprintf(`SELECT u.name, m.platform_id, m.action, m.reason, m.at
				FROM mod_actions_%s m
				LEFT JOIN %s_users u ON u.id = m.platform_id
				ORDER BY m.at`, suffix, suffix)
			rows, err := s.pool.Query(ctx, sql)
			if err != nil {
				return fmt.Errorf("dump mod actions: %w", err)
			}
			records := make([]ModActionRecord, 0)
			for rows.Next() {
				var record ModActionRecord
				var at time.Time
				if err := rows.Scan(&record.Name, &record.PlatformID, &record.Action, &record.Reason, &at); err != nil {
					rows.Close()
					return fmt.Errorf("scan mod action: %w", err)
				}
				record.At = uint64(at.Unix())
				records = append(records, record)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return fmt.Errorf("dump mod actions: %w", err)
			}
			dump = append(dump, PlatformModActions{Platform: platform, Records: records})
		}
		return nil
	})
	return dump, err
}
