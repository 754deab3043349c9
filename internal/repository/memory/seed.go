package memory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"teamchat-backend/internal/domain"
)

// Seed is the fixture format loaded into the memory driver at startup:
//
//	{
//	  "users":    [{"user_id": "...", "organization_id": "...", "username": "alice"}],
//	  "channels": [{"channel_id": "...", "organization_id": "...", "name": "general",
//	                "type": "public", "members": [{"user_id": "...", "role": "admin"}]}]
//	}
type Seed struct {
	Users    []domain.User `json:"users"`
	Channels []SeedChannel `json:"channels"`
}

// SeedChannel is a channel together with its members
type SeedChannel struct {
	domain.Channel
	Members []SeedMember `json:"members"`
}

// SeedMember is one membership row; role defaults to member
type SeedMember struct {
	UserID uuid.UUID         `json:"user_id"`
	Role   domain.MemberRole `json:"role"`
}

// LoadSeedFile reads a JSON seed from path and applies it
func LoadSeedFile(path string, users *UserRepository, channels *ChannelRepository) (*Seed, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	seed, err := DecodeSeed(f)
	if err != nil {
		return nil, err
	}
	if err := seed.Apply(users, channels); err != nil {
		return nil, err
	}
	return seed, nil
}

// DecodeSeed parses a JSON seed, rejecting unknown fields
func DecodeSeed(r io.Reader) (*Seed, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var seed Seed
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to decode seed: %w", err)
	}
	return &seed, nil
}

// Apply validates the whole seed, then stores it. Nothing is stored if any
// entry is invalid.
func (s *Seed) Apply(users *UserRepository, channels *ChannelRepository) error {
	orgOf := make(map[uuid.UUID]uuid.UUID, len(s.Users))
	for i := range s.Users {
		u := &s.Users[i]
		if u.UserID == uuid.Nil || u.OrganizationID == uuid.Nil {
			return fmt.Errorf("seed user %d: user_id and organization_id are required", i)
		}
		if u.Status == "" {
			u.Status = domain.PresenceOffline
		}
		if !u.Status.Valid() {
			return fmt.Errorf("seed user %s: unknown status %q", u.UserID, u.Status)
		}
		orgOf[u.UserID] = u.OrganizationID
	}

	for i := range s.Channels {
		ch := &s.Channels[i]
		if ch.ChannelID == uuid.Nil || ch.OrganizationID == uuid.Nil {
			return fmt.Errorf("seed channel %d: channel_id and organization_id are required", i)
		}
		switch ch.Type {
		case domain.ChannelTypePublic, domain.ChannelTypePrivate:
		case domain.ChannelTypeDirect:
			if len(ch.Members) != 2 {
				return fmt.Errorf("seed channel %s: a direct channel needs exactly 2 members", ch.ChannelID)
			}
		default:
			return fmt.Errorf("seed channel %s: unknown type %q", ch.ChannelID, ch.Type)
		}

		for j := range ch.Members {
			m := &ch.Members[j]
			org, ok := orgOf[m.UserID]
			if !ok {
				return fmt.Errorf("seed channel %s: member %s is not a seeded user", ch.ChannelID, m.UserID)
			}
			if org != ch.OrganizationID {
				return fmt.Errorf("seed channel %s: member %s belongs to another organization", ch.ChannelID, m.UserID)
			}
			if m.Role == "" {
				m.Role = domain.MemberRoleMember
			}
			if m.Role != domain.MemberRoleMember && m.Role != domain.MemberRoleAdmin {
				return fmt.Errorf("seed channel %s: unknown role %q", ch.ChannelID, m.Role)
			}
		}
	}

	for i := range s.Users {
		users.Add(&s.Users[i])
	}
	for _, ch := range s.Channels {
		channels.Add(&ch.Channel)
		for _, m := range ch.Members {
			channels.AddMember(ch.ChannelID, m.UserID, m.Role)
		}
	}
	return nil
}
