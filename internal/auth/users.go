package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// UsersFile is the file name inside the config directory.
const UsersFile = "users.json"

// UserEntry holds the delivery address and code lifetime for one operator,
// serialized as [discord-id, ttl-seconds].
type UserEntry struct {
	DiscordID string
	TTL       uint64
}

func (e UserEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.DiscordID, e.TTL})
}

func (e *UserEntry) UnmarshalJSON(data []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("auth: user entry wants 2 fields, got %d", len(fields))
	}
	if err := json.Unmarshal(fields[0], &e.DiscordID); err != nil {
		return err
	}
	return json.Unmarshal(fields[1], &e.TTL)
}

// Users maps operator names to their entries.
type Users map[string]UserEntry

// LoadUsers reads the operator table from dir.
func LoadUsers(dir string) (Users, error) {
	contents, err := os.ReadFile(filepath.Join(dir, UsersFile))
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var users Users
	if err := json.Unmarshal(contents, &users); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	return users, nil
}
