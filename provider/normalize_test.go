package provider

import (
	"errors"
	"reflect"
	"testing"
)

func TestExtractCommon(t *testing.T) {
	raw := `{
		"user_id": 99,
		"email_address": "x@y",
		"name": "first",
		"full_name": "Full Name",
		"login": "handle",
		"given_name": "Full",
		"family_name": "Name",
		"picture": "https://pic"
	}`
	want := Profile{
		ID:          "99",
		Email:       "x@y",
		Name:        "Full Name",
		DisplayName: "handle",
		FirstName:   "Full",
		LastName:    "Name",
		Avatar:      "https://pic",
	}
	if got := ExtractCommon([]byte(raw)); !reflect.DeepEqual(got, want) {
		t.Errorf("got  %+v\nwant %+v", got, want)
	}
	if got := ExtractCommon([]byte("{")); !reflect.DeepEqual(got, Profile{}) {
		t.Errorf("invalid JSON should yield empty profile, got %+v", got)
	}
}

func TestMergeProfiles(t *testing.T) {
	if _, err := MergeProfiles(); !errors.Is(err, ErrNoProfiles) {
		t.Fatalf("err = %v", err)
	}

	primary := Profile{ID: "1", Name: "Primary", Provider: "github", ProviderAccountID: "1"}
	second := Profile{ID: "2", Name: "Other", Email: "p@x", Avatar: "https://a", Provider: "google"}
	third := Profile{ID: "3", Email: "late@x", FirstName: "Pri", LastName: "Mary"}

	got, err := MergeProfiles(primary, second, third)
	if err != nil {
		t.Fatal(err)
	}
	want := Profile{
		ID:                "1",
		Name:              "Primary",
		Email:             "p@x",
		Avatar:            "https://a",
		FirstName:         "Pri",
		LastName:          "Mary",
		Provider:          "github",
		ProviderAccountID: "1",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got  %+v\nwant %+v", got, want)
	}

	single, _ := MergeProfiles(primary)
	if !reflect.DeepEqual(single, primary) {
		t.Errorf("single profile should be returned unchanged")
	}
}

func TestValidateProfile(t *testing.T) {
	if missing := ValidateProfile(Profile{ID: "1", Name: "n", Provider: "p", ProviderAccountID: "1"}); missing != nil {
		t.Errorf("unexpected missing fields %v", missing)
	}
	got := ValidateProfile(Profile{Name: "n"})
	want := []string{"id", "provider", "providerAccountId"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
