package provider

import (
	"errors"

	"github.com/tidwall/gjson"
)

// ErrNoProfiles is returned by MergeProfiles when given nothing to merge.
var ErrNoProfiles = errors.New("no profiles to merge")

// commonFields maps canonical fields to the raw keys seen across providers.
// When several keys are present the last one listed wins.
var commonFields = []struct {
	set  func(*Profile, string)
	keys []string
}{
	{func(p *Profile, v string) { p.ID = v }, []string{"id", "user_id", "userId"}},
	{func(p *Profile, v string) { p.Email = v }, []string{"email", "email_address"}},
	{func(p *Profile, v string) { p.Name = v }, []string{"name", "display_name", "displayName", "full_name"}},
	{func(p *Profile, v string) { p.DisplayName = v }, []string{"username", "login", "screen_name"}},
	{func(p *Profile, v string) { p.FirstName = v }, []string{"first_name", "given_name"}},
	{func(p *Profile, v string) { p.LastName = v }, []string{"last_name", "family_name"}},
	{func(p *Profile, v string) { p.Avatar = v }, []string{"avatar_url", "picture", "pictureUrl", "profile_image_url"}},
}

// ExtractCommon reads the commonly used identity fields out of an arbitrary
// profile document. It is a best-effort fallback for providers without a
// dedicated adapter; invalid JSON yields an empty Profile.
func ExtractCommon(raw []byte) Profile {
	var p Profile
	if !gjson.ValidBytes(raw) {
		return p
	}
	r := gjson.ParseBytes(raw)
	for _, f := range commonFields {
		for _, k := range f.keys {
			if v := r.Get(k); v.String() != "" {
				f.set(&p, v.String())
			}
		}
	}
	return p
}

// MergeProfiles combines profiles of the same person from several
// providers. The first profile is primary; empty email, name, first name,
// last name and avatar are filled from later profiles in order.
func MergeProfiles(profiles ...Profile) (Profile, error) {
	if len(profiles) == 0 {
		return Profile{}, ErrNoProfiles
	}
	merged := profiles[0]
	for _, p := range profiles[1:] {
		fill(&merged.Email, p.Email)
		fill(&merged.Name, p.Name)
		fill(&merged.FirstName, p.FirstName)
		fill(&merged.LastName, p.LastName)
		fill(&merged.Avatar, p.Avatar)
	}
	return merged, nil
}

func fill(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

// ValidateProfile returns the names of required fields that are empty.
// A nil result means the profile is complete.
func ValidateProfile(p Profile) []string {
	var missing []string
	if p.ID == "" {
		missing = append(missing, "id")
	}
	if p.Name == "" {
		missing = append(missing, "name")
	}
	if p.Provider == "" {
		missing = append(missing, "provider")
	}
	if p.ProviderAccountID == "" {
		missing = append(missing, "providerAccountId")
	}
	return missing
}
