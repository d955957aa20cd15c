package msg

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Platform is a bitset of chat platforms. A rule's platform mask is matched
// against the single-bit platform tag carried by each event.
type Platform uint32

const (
	PlatformYoutube Platform = 1 << iota
	PlatformTwitch
	PlatformDiscord
	PlatformWeb
)

const (
	PlatformStream   = PlatformYoutube | PlatformTwitch
	PlatformChat     = PlatformStream | PlatformDiscord
	PlatformAnnounce = PlatformDiscord | PlatformWeb
)

// ChatPlatforms enumerates the single-bit platforms that carry chat traffic.
var ChatPlatforms = [3]Platform{PlatformYoutube, PlatformDiscord, PlatformTwitch}

// Contains reports whether every bit of other is set in p.
func (p Platform) Contains(other Platform) bool {
	return p&other == other
}

func (p Platform) String() string {
	switch p {
	case PlatformYoutube:
		return "Youtube"
	case PlatformTwitch:
		return "Twitch"
	case PlatformDiscord:
		return "Discord"
	case PlatformWeb:
		return "Web"
	}
	var parts []string
	for _, single := range [4]Platform{PlatformYoutube, PlatformTwitch, PlatformDiscord, PlatformWeb} {
		if p.Contains(single) {
			parts = append(parts, single.String())
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Platform(%d)", uint32(p))
	}
	return strings.Join(parts, "|")
}

// ParsePlatform accepts the canonical platform names and their short aliases.
func ParsePlatform(s string) (Platform, error) {
	switch s {
	case "y", "yt", "youtube", "Youtube":
		return PlatformYoutube, nil
	case "t", "tw", "twitch", "Twitch":
		return PlatformTwitch, nil
	case "d", "disc", "discord", "Discord":
		return PlatformDiscord, nil
	case "WEB", "web", "Web":
		return PlatformWeb, nil
	}
	return 0, fmt.Errorf("invalid platform %q", s)
}

// Platforms serialize as their raw bits on the wire.
func (p Platform) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint32(p))
}

func (p *Platform) UnmarshalJSON(data []byte) error {
	var bits uint32
	if err := json.Unmarshal(data, &bits); err != nil {
		return err
	}
	if bits&^uint32(PlatformChat|PlatformWeb) != 0 {
		return fmt.Errorf("invalid platform bits %d", bits)
	}
	*p = Platform(bits)
	return nil
}

// Permissions is an ordered permission level. Levels are compared numerically;
// adapters supply the level with every event and it is never inferred.
type Permissions uint32

const (
	PermNone Permissions = 1 << iota
	PermMember
	PermMod
	PermAdmin
	PermOwner
)

func (p Permissions) String() string {
	switch p {
	case PermNone:
		return "None"
	case PermMember:
		return "Member"
	case PermMod:
		return "Mod"
	case PermAdmin:
		return "Admin"
	case PermOwner:
		return "Owner"
	}
	return fmt.Sprintf("Permissions(%d)", uint32(p))
}

func (p Permissions) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint32(p))
}

func (p *Permissions) UnmarshalJSON(data []byte) error {
	var bits uint32
	if err := json.Unmarshal(data, &bits); err != nil {
		return err
	}
	*p = Permissions(bits)
	return nil
}
